// Package tui is the interactive alert browser. It renders supervisor
// snapshots with the render package and forwards operator actions back to
// the supervisor.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/g960059/setrouble/internal/model"
	"github.com/g960059/setrouble/internal/render"
)

// Controller is the subset of the supervisor the browser drives.
type Controller interface {
	Connect()
	RunFix(alertID, analysisID string) string
}

// Feed hands snapshots from the supervisor loop to the bubbletea program.
// Only the newest undelivered snapshot is kept so the loop never blocks
// on a slow terminal.
type Feed struct {
	ch chan model.Snapshot
}

func NewFeed() *Feed {
	return &Feed{ch: make(chan model.Snapshot, 1)}
}

// Listen is a supervisor listener. It assumes a single producer.
func (f *Feed) Listen(snap model.Snapshot) {
	for {
		select {
		case f.ch <- snap:
			return
		default:
		}
		select {
		case <-f.ch:
		default:
		}
	}
}

// snapshotMsg carries a supervisor snapshot into Update.
type snapshotMsg struct {
	snap model.Snapshot
}

const msgChooseSolution = "open Solutions with enter to choose a fix"

// Model is the bubbletea model of the alert browser.
type Model struct {
	ctl      Controller
	feed     <-chan model.Snapshot
	renderer *render.Renderer
	keys     KeyMap
	spinner  spinner.Model

	snap     model.Snapshot
	cursor   int
	expanded map[string]render.Tab
	// solution is the highlighted remediation per expanded alert.
	solution map[string]int
	status   string
}

func NewModel(ctl Controller, feed *Feed, renderer *render.Renderer) Model {
	return Model{
		ctl:      ctl,
		feed:     feed.ch,
		renderer: renderer,
		keys:     DefaultKeyMap,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
		expanded: map[string]render.Tab{},
		solution: map[string]int{},
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.listen(), m.spinner.Tick)
}

// listen returns a tea.Cmd that blocks until the next snapshot arrives.
func (m Model) listen() tea.Cmd {
	feed := m.feed
	return func() tea.Msg {
		return snapshotMsg{snap: <-feed}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case snapshotMsg:
		m.applySnapshot(msg.snap)
		return m, m.listen()

	case tea.WindowSizeMsg:
		m.renderer.SetWidth(msg.Width)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) applySnapshot(snap model.Snapshot) {
	m.snap = snap
	present := make(map[string]int, len(snap.Entries))
	for _, a := range snap.Entries {
		present[a.LocalID] = len(remediations(a))
	}
	for id := range m.expanded {
		if _, ok := present[id]; !ok {
			delete(m.expanded, id)
		}
	}
	for id, i := range m.solution {
		n, ok := present[id]
		switch {
		case !ok:
			delete(m.solution, id)
		case i >= n:
			m.solution[id] = max(n-1, 0)
		}
	}
	m.clampCursor()
}

func (m *Model) clampCursor() {
	if m.cursor >= len(m.snap.Entries) {
		m.cursor = len(m.snap.Entries) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Up):
		if id, i, ok := m.solutionCursor(); ok && i > 0 {
			m.solution[id] = i - 1
		} else if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(msg, m.keys.Down):
		if id, i, ok := m.solutionCursor(); ok && i < m.solutionCount()-1 {
			m.solution[id] = i + 1
		} else if m.cursor < len(m.snap.Entries)-1 {
			m.cursor++
		}

	case key.Matches(msg, m.keys.Expand):
		if alert, ok := m.selected(); ok {
			if _, open := m.expanded[alert.LocalID]; open {
				delete(m.expanded, alert.LocalID)
			} else {
				m.expanded[alert.LocalID] = render.TabSolutions
			}
		}

	case key.Matches(msg, m.keys.NextTab):
		if alert, ok := m.selected(); ok {
			if tab, open := m.expanded[alert.LocalID]; open {
				m.expanded[alert.LocalID] = tab.Next()
			}
		}

	case key.Matches(msg, m.keys.Fix):
		m.status = m.applyFix()

	case key.Matches(msg, m.keys.Reconnect):
		if !m.snap.Connected && !m.snap.Connecting {
			m.ctl.Connect()
			m.status = "reconnecting"
		}
	}
	return m, nil
}

func (m Model) selected() (model.Alert, bool) {
	if !m.snap.Connected || m.cursor < 0 || m.cursor >= len(m.snap.Entries) {
		return model.Alert{}, false
	}
	return m.snap.Entries[m.cursor], true
}

func remediations(a model.Alert) []model.Remediation {
	if a.Details == nil {
		return nil
	}
	return a.Details.PluginAnalysis
}

// solutionCursor reports the highlighted remediation of the selected
// alert. ok is false unless its Solutions tab is open.
func (m Model) solutionCursor() (id string, i int, ok bool) {
	alert, selected := m.selected()
	if !selected {
		return "", 0, false
	}
	if tab, open := m.expanded[alert.LocalID]; !open || tab != render.TabSolutions {
		return "", 0, false
	}
	return alert.LocalID, m.solution[alert.LocalID], true
}

func (m Model) solutionCount() int {
	alert, _ := m.selected()
	return len(remediations(alert))
}

// applyFix requests the highlighted solution of the selected alert.
func (m Model) applyFix() string {
	alert, ok := m.selected()
	if !ok {
		return ""
	}
	_, i, ok := m.solutionCursor()
	if !ok {
		return msgChooseSolution
	}
	rems := remediations(alert)
	if alert.Details == nil {
		return render.MsgWaitingDetails
	}
	if i >= len(rems) || !rems[i].Fixable {
		return render.MsgCannotFix
	}
	ref := m.ctl.RunFix(alert.LocalID, rems[i].AnalysisID)
	return fmt.Sprintf("requested %s for %s (ref %s)", rems[i].AnalysisID, alert.LocalID, ref)
}

func (m Model) View() string {
	var b strings.Builder
	if m.snap.Connecting && !m.snap.Connected {
		b.WriteString(m.spinner.View())
		b.WriteString(" ")
	}
	solution := -1
	if _, i, ok := m.solutionCursor(); ok {
		solution = i
	}
	b.WriteString(m.renderer.PageWithSolution(m.snap, m.cursor, solution, m.expanded))
	b.WriteString("\n\n")
	if m.status != "" {
		b.WriteString(m.status)
		b.WriteString("\n")
	}
	help := make([]string, 0, len(m.keys.help()))
	for _, k := range m.keys.help() {
		h := k.Help()
		help = append(help, h.Key+" "+h.Desc)
	}
	b.WriteString(strings.Join(help, " · "))
	return b.String()
}
