package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/g960059/setrouble/internal/appclient"
	"github.com/g960059/setrouble/internal/db"
	"github.com/g960059/setrouble/internal/model"
)

// FixView is the printable form of a journal row.
type FixView struct {
	FixID       string     `json:"fix_id"`
	RequestRef  string     `json:"request_ref"`
	AlertID     string     `json:"alert_id"`
	AnalysisID  string     `json:"analysis_id"`
	RequestedAt time.Time  `json:"requested_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ResultCode  string     `json:"result_code"`
	ActionID    string     `json:"action_id,omitempty"`
	Output      string     `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
}

func fixView(rec model.FixRecord) FixView {
	v := FixView{
		FixID:       rec.FixID,
		RequestRef:  rec.RequestRef,
		AlertID:     rec.AlertID,
		AnalysisID:  rec.AnalysisID,
		RequestedAt: rec.RequestedAt,
		CompletedAt: rec.CompletedAt,
		ResultCode:  string(rec.ResultCode),
	}
	if rec.ActionID != nil {
		v.ActionID = *rec.ActionID
	}
	if rec.Output != nil {
		v.Output = *rec.Output
	}
	if rec.ErrorText != nil {
		v.Error = *rec.ErrorText
	}
	return v
}

// NewFixCommand creates the fix command.
func NewFixCommand(rootOpts *RootOptions) *cobra.Command {
	var noJournal bool
	cmd := &cobra.Command{
		Use:   "fix <alert-id> <analysis-id>",
		Short: "Apply a suggested solution",
		Long: `Ask setroubleshootd to apply the solution identified by analysis-id
to the given alert. The request and its outcome are written to the fix
journal unless --no-journal is set.

Examples:
  setrouble fix 5a1c7f0e-2c1d-4d51-9b49-5d1f0c7e0e11 restorecon`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFix(rootOpts, cmd, args[0], args[1], noJournal)
		},
	}
	cmd.Flags().BoolVar(&noJournal, "no-journal", false, "do not record the request in the fix journal")
	return cmd
}

func runFix(opts *RootOptions, cmd *cobra.Command, alertID, analysisID string, noJournal bool) error {
	ctx := cmd.Context()
	logger := opts.Logger.With(zap.String("alert_id", alertID), zap.String("analysis_id", analysisID))
	transport := appclient.NewTransport(opts.client(), appclient.TransportOptions{Logger: opts.Logger})

	req := model.FixRequest{AlertID: alertID, AnalysisID: analysisID, RequestRef: uuid.NewString()}
	requested := time.Now()
	outcome, fixErr := transport.RunFix(ctx, req)
	rec := req.Record(uuid.NewString(), requested, time.Now(), outcome, fixErr)

	if !noJournal {
		if journal, err := opts.openJournal(cmd); err != nil {
			logger.Warn("unable to open fix journal", zap.Error(err))
		} else {
			if err := journal.RecordFix(ctx, rec); err != nil {
				logger.Warn("unable to record fix request", zap.Error(err))
			}
			_ = journal.Close()
		}
	}

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		if err := writeJSON(out, fixView(rec)); err != nil {
			return err
		}
	} else if fixErr == nil {
		_, _ = fmt.Fprintf(out, "fix %s on %s: %s (action %s)\n", analysisID, alertID, outcome.ResultCode, outcome.ActionID)
		if outcome.Output != "" {
			_, _ = fmt.Fprintln(out, strings.TrimRight(outcome.Output, "\n"))
		}
	}
	if fixErr != nil {
		return WrapExitError(ExitFailure, "fix "+analysisID+" on "+alertID, fixErr)
	}
	return nil
}

// FixesOptions holds flags for the fixes command.
type FixesOptions struct {
	*RootOptions
	AlertID string
	Limit   int
}

// NewFixesCommand creates the fixes command and its purge subcommand.
func NewFixesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FixesOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "fixes",
		Short: "List fix requests from the journal",
		Long: `List the fix requests recorded in the local journal, newest first.

Examples:
  setrouble fixes
  setrouble fixes --alert 5a1c7f0e-2c1d-4d51-9b49-5d1f0c7e0e11 --limit 5`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFixes(opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.AlertID, "alert", "", "only show fixes for this alert")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum number of rows")
	cmd.AddCommand(newPurgeCommand(rootOpts))
	return cmd
}

func runFixes(opts *FixesOptions, cmd *cobra.Command) error {
	journal, err := opts.openJournal(cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "fixes", err)
	}
	defer journal.Close()

	recs, err := journal.ListFixes(cmd.Context(), db.ListFixesOptions{AlertID: opts.AlertID, Limit: opts.Limit})
	if err != nil {
		return WrapExitError(ExitCommandError, "list fixes", err)
	}
	views := make([]FixView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, fixView(rec))
	}

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		return writeJSON(out, views)
	}
	if len(views) == 0 {
		_, _ = fmt.Fprintln(out, "No fix requests recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "REQUESTED\tALERT\tANALYSIS\tRESULT\tDETAIL")
	for _, v := range views {
		detail := v.ActionID
		if v.Error != "" {
			detail = v.Error
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			v.RequestedAt.Local().Format(time.DateTime), v.AlertID, v.AnalysisID, v.ResultCode, detail)
	}
	return tw.Flush()
}

func newPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:           "purge",
		Short:         "Delete journal rows older than a given age",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return NewExitError(ExitCommandError, "--older-than must be positive")
			}
			journal, err := rootOpts.openJournal(cmd)
			if err != nil {
				return WrapExitError(ExitCommandError, "purge", err)
			}
			defer journal.Close()
			n, err := journal.PurgeBefore(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return WrapExitError(ExitCommandError, "purge fixes", err)
			}
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]int64{"purged": n})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "purged %d fix requests\n", n)
			return err
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age cutoff")
	return cmd
}
