package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/g960059/setrouble/internal/alertstore"
	"github.com/g960059/setrouble/internal/api"
	"github.com/g960059/setrouble/internal/appclient"
	"github.com/g960059/setrouble/internal/model"
	"github.com/g960059/setrouble/internal/render"
	"github.com/g960059/setrouble/internal/supervisor"
	"github.com/g960059/setrouble/internal/tui"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Plain bool
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow SELinux alerts live",
		Long: `Connect to setroubleshootd and follow alerts as they are raised.

On a terminal this opens the interactive browser. With --plain, or when
stdout is not a terminal, every change is printed as a full page; with
--format json each change is one JSON snapshot per line. Plain output
stops with an error when the daemon connection fails or drops.

Examples:
  setrouble watch
  setrouble watch --plain
  setrouble watch --format json | jq .`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}
	cmd.Flags().BoolVar(&opts.Plain, "plain", false, "print pages instead of the interactive browser")
	cmd.Flags().Duration("connect-timeout", 0, "time before a pending connection is reported (default 5s)")
	cmd.Flags().Bool("retain-on-disconnect", false, "keep alerts listed after the daemon connection drops")
	cmd.Flags().Bool("coalesce-detail-fetches", false, "keep at most one detail request per alert in flight")
	cmd.Flags().Bool("redact-audit-log", false, "mask process titles in audit records")
	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	cfg := opts.Config
	logger := opts.Logger
	interactive := !opts.Plain && opts.Format == "text" && isTerminal(cmd.OutOrStdout())
	if interactive && cfg.LogFile == "" {
		// stderr shares the terminal with the browser.
		logger = zap.NewNop()
	}

	transport := appclient.NewTransport(opts.client(), appclient.TransportOptions{
		PollInterval:    cfg.WatchPollInterval,
		RetryMinBackoff: cfg.RetryMinBackoff,
		RetryMaxBackoff: cfg.RetryMaxBackoff,
		Logger:          logger,
	})
	supOpts := supervisor.Options{
		ConnectTimeout:        cfg.ConnectTimeout,
		RetainOnDisconnect:    cfg.RetainOnDisconnect,
		CoalesceDetailFetches: cfg.CoalesceDetailFetches,
		DetailFetchRate:       cfg.DetailFetchRate,
		DetailFetchBurst:      cfg.DetailFetchBurst,
		Logger:                logger,
	}
	if journal, err := opts.openJournal(cmd); err != nil {
		logger.Warn("fix journal disabled", zap.Error(err))
	} else {
		defer journal.Close()
		supOpts.FixRecorder = journal
	}
	sup := supervisor.New(transport, alertstore.New(), supOpts)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = sup.Run(ctx)
	}()
	defer wg.Wait()
	defer cancel()

	if interactive {
		return runInteractive(ctx, opts, cmd, sup)
	}
	return runPlain(ctx, opts, cmd, sup)
}

func runInteractive(ctx context.Context, opts *WatchOptions, cmd *cobra.Command, sup *supervisor.Supervisor) error {
	feed := tui.NewFeed()
	unsubscribe := sup.Subscribe(feed.Listen)
	defer unsubscribe()
	sup.Connect()

	r := newRenderer(opts.RootOptions, cmd, false)
	prog := tea.NewProgram(tui.NewModel(sup, feed, r),
		tea.WithContext(ctx),
		tea.WithOutput(cmd.OutOrStdout()),
		tea.WithInput(cmd.InOrStdin()),
		tea.WithAltScreen())
	if _, err := prog.Run(); err != nil && ctx.Err() == nil {
		return WrapExitError(ExitFailure, "alert browser", err)
	}
	return nil
}

// runPlain prints every distinct snapshot until ctx is done or the link
// is lost.
func runPlain(ctx context.Context, opts *WatchOptions, cmd *cobra.Command, sup *supervisor.Supervisor) error {
	out := cmd.OutOrStdout()
	r := newRenderer(opts.RootOptions, cmd, opts.Plain)
	lost := make(chan string, 1)
	var last string

	unsubscribe := sup.Subscribe(func(snap model.Snapshot) {
		if snap.Phase == model.PhaseIdle {
			return
		}
		var page string
		if opts.Format == "json" {
			page = snapshotJSON(snap)
		} else {
			page = r.Page(snap, -1, nil)
		}
		if page != last {
			last = page
			writePage(out, page, opts.Format == "json")
		}
		if snap.Phase == model.PhaseFailed || snap.Phase == model.PhaseDisconnected {
			select {
			case lost <- snap.LastError:
			default:
			}
		}
	})
	defer unsubscribe()
	sup.Connect()

	select {
	case <-ctx.Done():
		return nil
	case reason := <-lost:
		if reason == "" {
			reason = "connection closed"
		}
		return WrapExitError(ExitFailure, render.MsgConnectFailed, errors.New(reason))
	}
}

// SnapshotView is the JSON line printed by watch --format json.
type SnapshotView struct {
	Phase      model.Phase `json:"phase"`
	Connected  bool        `json:"connected"`
	Connecting bool        `json:"connecting"`
	Error      bool        `json:"error"`
	LastError  string      `json:"last_error,omitempty"`
	Alerts     []AlertView `json:"alerts"`
}

type AlertView struct {
	LocalID     string           `json:"local_id"`
	Description string           `json:"description"`
	Count       int              `json:"count"`
	Details     *api.AlertDetail `json:"details,omitempty"`
}

func snapshotView(snap model.Snapshot) SnapshotView {
	v := SnapshotView{
		Phase:      snap.Phase,
		Connected:  snap.Connected,
		Connecting: snap.Connecting,
		Error:      snap.Error,
		LastError:  snap.LastError,
		Alerts:     make([]AlertView, 0, len(snap.Entries)),
	}
	for _, a := range snap.Entries {
		av := AlertView{LocalID: a.LocalID, Description: a.Description, Count: a.Count}
		if a.Details != nil {
			d := appclient.DetailsToAPI(*a.Details)
			av.Details = &d
		}
		v.Alerts = append(v.Alerts, av)
	}
	return v
}

func snapshotJSON(snap model.Snapshot) string {
	b, err := json.Marshal(snapshotView(snap))
	if err != nil {
		return "{}"
	}
	return string(b)
}

func writePage(w io.Writer, page string, jsonLines bool) {
	if jsonLines {
		_, _ = fmt.Fprintln(w, page)
		return
	}
	_, _ = fmt.Fprintf(w, "%s\n\n", page)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}
