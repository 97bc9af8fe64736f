// Package render draws alert snapshots as terminal text. It is shared by
// the plain watch output, the show command and the interactive TUI.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/g960059/setrouble/internal/model"
	"github.com/g960059/setrouble/internal/security"
)

const (
	Heading           = "SELinux Access Control errors"
	MsgConnecting     = "Connecting..."
	MsgConnectFailed  = "Couldn't connect to SETroubleshoot daemon"
	MsgNoAlerts       = "No SELinux alerts."
	MsgWaitingDetails = "Waiting for details..."
	MsgApplyFix       = "Apply this solution"
	MsgCannotFix      = "Unable to apply this solution automatically"

	defaultWidth = 80
	minWidth     = 30
)

type Tab int

const (
	TabSolutions Tab = iota
	TabAuditLog
)

var Tabs = []Tab{TabSolutions, TabAuditLog}

func (t Tab) String() string {
	switch t {
	case TabAuditLog:
		return "Audit log"
	default:
		return "Solutions"
	}
}

// Next cycles to the following tab.
func (t Tab) Next() Tab {
	return Tabs[(int(t)+1)%len(Tabs)]
}

// Theme is an ANSI 256 palette.
type Theme struct {
	NormalText   lipgloss.Color
	FaintText    lipgloss.Color
	Heading      lipgloss.Color
	Error        lipgloss.Color
	Selected     lipgloss.Color
	SelectedText lipgloss.Color
	Fixable      lipgloss.Color
	Badge        lipgloss.Color
}

var DefaultTheme = Theme{
	NormalText:   lipgloss.Color("252"),
	FaintText:    lipgloss.Color("243"),
	Heading:      lipgloss.Color("75"),
	Error:        lipgloss.Color("203"),
	Selected:     lipgloss.Color("237"),
	SelectedText: lipgloss.Color("231"),
	Fixable:      lipgloss.Color("78"),
	Badge:        lipgloss.Color("214"),
}

type Options struct {
	Width int
	Theme *Theme
	// Plain disables color and attributes regardless of the terminal.
	Plain       bool
	RedactAudit bool
}

type Renderer struct {
	lip    *lipgloss.Renderer
	width  int
	redact bool

	heading  lipgloss.Style
	normal   lipgloss.Style
	faint    lipgloss.Style
	errStyle lipgloss.Style
	selected lipgloss.Style
	fixable  lipgloss.Style
	badge    lipgloss.Style
	tabOn    lipgloss.Style
	tabOff   lipgloss.Style
}

func New(w io.Writer, opts Options) *Renderer {
	var lip *lipgloss.Renderer
	if opts.Plain {
		lip = lipgloss.NewRenderer(w, termenv.WithProfile(termenv.Ascii))
		lip.SetColorProfile(termenv.Ascii)
	} else {
		lip = lipgloss.NewRenderer(w)
	}
	theme := DefaultTheme
	if opts.Theme != nil {
		theme = *opts.Theme
	}
	width := opts.Width
	if width <= 0 {
		width = defaultWidth
	}
	if width < minWidth {
		width = minWidth
	}
	return &Renderer{
		lip:      lip,
		width:    width,
		redact:   opts.RedactAudit,
		heading:  lip.NewStyle().Bold(true).Foreground(theme.Heading),
		normal:   lip.NewStyle().Foreground(theme.NormalText),
		faint:    lip.NewStyle().Foreground(theme.FaintText),
		errStyle: lip.NewStyle().Bold(true).Foreground(theme.Error),
		selected: lip.NewStyle().Background(theme.Selected).Foreground(theme.SelectedText),
		fixable:  lip.NewStyle().Bold(true).Foreground(theme.Fixable),
		badge:    lip.NewStyle().Foreground(theme.Badge),
		tabOn:    lip.NewStyle().Bold(true).Underline(true).Foreground(theme.Heading),
		tabOff:   lip.NewStyle().Foreground(theme.FaintText),
	}
}

// SetWidth changes the wrap width, e.g. after a terminal resize.
func (r *Renderer) SetWidth(width int) {
	if width < minWidth {
		width = minWidth
	}
	r.width = width
}

// BlankSlate returns the message shown instead of the listing, or false
// when the listing should be drawn.
func (r *Renderer) BlankSlate(snap model.Snapshot) (string, bool) {
	if !snap.Connected {
		var lines []string
		if snap.Connecting {
			lines = append(lines, r.faint.Render(MsgConnecting))
		} else {
			lines = append(lines, r.errStyle.Render(MsgConnectFailed))
		}
		if snap.Error && snap.LastError != "" {
			lines = append(lines, r.faint.Render(r.truncate(snap.LastError, r.width)))
		}
		return strings.Join(lines, "\n"), true
	}
	if len(snap.Entries) == 0 {
		return r.normal.Render(MsgNoAlerts), true
	}
	return "", false
}

// Page renders the full listing with the row at cursor highlighted. A
// negative cursor highlights nothing. Expanded rows show the given tab.
func (r *Renderer) Page(snap model.Snapshot, cursor int, expanded map[string]Tab) string {
	return r.PageWithSolution(snap, cursor, -1, expanded)
}

// PageWithSolution is Page with the remediation at index solution marked
// when the alert under the cursor shows its Solutions tab.
func (r *Renderer) PageWithSolution(snap model.Snapshot, cursor, solution int, expanded map[string]Tab) string {
	if msg, blank := r.BlankSlate(snap); blank {
		return msg
	}
	var b strings.Builder
	b.WriteString(r.heading.Render(Heading))
	b.WriteString("\n")
	for i, alert := range snap.Entries {
		b.WriteString("\n")
		b.WriteString(r.Row(alert, i == cursor))
		if tab, ok := expanded[alert.LocalID]; ok {
			sel := -1
			if i == cursor {
				sel = solution
			}
			b.WriteString("\n")
			b.WriteString(indent(r.expanded(alert, tab, sel), "    "))
		}
	}
	return b.String()
}

// Row renders the one-line summary of an alert.
func (r *Renderer) Row(alert model.Alert, selected bool) string {
	suffix := ""
	if alert.Count > 1 {
		suffix = fmt.Sprintf("%d occurrences", alert.Count)
	}
	prefix := "  "
	if selected {
		prefix = "> "
	}
	avail := r.width - len(prefix)
	if suffix != "" {
		avail -= lipgloss.Width(suffix) + 2
	}
	desc := r.truncate(oneLine(alert.Description), avail)

	if selected {
		line := prefix + desc
		if suffix != "" {
			line += "  " + suffix
		}
		return r.selected.Render(line)
	}
	line := prefix + r.normal.Render(desc)
	if suffix != "" {
		line += "  " + r.badge.Render(suffix)
	}
	return line
}

// Expanded renders the tab strip and the body of the active tab.
func (r *Renderer) Expanded(alert model.Alert, tab Tab) string {
	return r.expanded(alert, tab, -1)
}

func (r *Renderer) expanded(alert model.Alert, tab Tab, solution int) string {
	tabs := make([]string, 0, len(Tabs))
	for _, t := range Tabs {
		if t == tab {
			tabs = append(tabs, r.tabOn.Render("["+t.String()+"]"))
		} else {
			tabs = append(tabs, r.tabOff.Render(" "+t.String()+" "))
		}
	}
	body := r.solutions(alert, solution)
	if tab == TabAuditLog {
		body = r.AuditLog(alert)
	}
	return strings.Join(tabs, " ") + "\n" + body
}

// Solutions lists the remediations of an alert.
func (r *Renderer) Solutions(alert model.Alert) string {
	return r.solutions(alert, -1)
}

func (r *Renderer) solutions(alert model.Alert, selected int) string {
	if alert.Details == nil {
		return r.faint.Render(MsgWaitingDetails)
	}
	if len(alert.Details.PluginAnalysis) == 0 {
		return r.faint.Render("No solutions suggested.")
	}
	blocks := make([]string, 0, len(alert.Details.PluginAnalysis))
	for i, rem := range alert.Details.PluginAnalysis {
		lines := []string{r.normal.Render(oneLine(rem.IfText))}
		if i == selected {
			lines[0] = r.selected.Render("> " + oneLine(rem.IfText))
		}
		if rem.ThenText != "" {
			lines = append(lines, "  "+r.normal.Render(oneLine(rem.ThenText)))
		}
		if rem.DoText != "" {
			for _, l := range strings.Split(strings.TrimRight(rem.DoText, "\n"), "\n") {
				lines = append(lines, "  "+r.faint.Render(l))
			}
		}
		if rem.Fixable {
			lines = append(lines, "  "+r.fixable.Render(fmt.Sprintf("%s (%s)", MsgApplyFix, rem.AnalysisID)))
		} else {
			lines = append(lines, "  "+r.faint.Render(MsgCannotFix))
		}
		blocks = append(blocks, strings.Join(lines, "\n"))
	}
	return strings.Join(blocks, "\n\n")
}

// AuditLog lists the raw audit records of an alert.
func (r *Renderer) AuditLog(alert model.Alert) string {
	if alert.Details == nil {
		return r.faint.Render(MsgWaitingDetails)
	}
	if len(alert.Details.AuditEvent) == 0 {
		return r.faint.Render("No audit records.")
	}
	lines := make([]string, 0, len(alert.Details.AuditEvent))
	for _, ev := range alert.Details.AuditEvent {
		if r.redact {
			ev = security.RedactAuditEvent(ev)
		}
		lines = append(lines, r.normal.Render(ev))
	}
	return strings.Join(lines, "\n")
}

// Show renders a single alert with both tabs, for non-interactive output.
func (r *Renderer) Show(alert model.Alert) string {
	var b strings.Builder
	b.WriteString(r.heading.Render(oneLine(alert.Description)))
	if alert.Count > 1 {
		b.WriteString("  " + r.badge.Render(fmt.Sprintf("%d occurrences", alert.Count)))
	}
	b.WriteString("\n")
	b.WriteString(r.faint.Render("id: " + alert.LocalID))
	for _, tab := range Tabs {
		b.WriteString("\n\n")
		b.WriteString(r.heading.Render(tab.String()))
		b.WriteString("\n")
		if tab == TabAuditLog {
			b.WriteString(r.AuditLog(alert))
		} else {
			b.WriteString(r.Solutions(alert))
		}
	}
	return b.String()
}

func (r *Renderer) truncate(s string, width int) string {
	if width < 1 {
		width = 1
	}
	if lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && lipgloss.Width(string(runes))+1 > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "…"
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = prefix + l
		}
	}
	return strings.Join(lines, "\n")
}
