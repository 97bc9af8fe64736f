package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/g960059/setrouble/internal/api"
	"github.com/g960059/setrouble/internal/appclient"
	"github.com/g960059/setrouble/internal/model"
	"github.com/g960059/setrouble/internal/render"
)

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List current SELinux alerts",
		Long: `List the alerts setroubleshootd currently holds, one per line with
the local id, the occurrence count and the description.

Examples:
  setrouble list
  setrouble list --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(rootOpts, cmd)
		},
	}
}

func runList(opts *RootOptions, cmd *cobra.Command) error {
	env, err := opts.client().ListAlerts(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "list alerts", err)
	}
	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		if env.Alerts == nil {
			env.Alerts = []api.AlertItem{}
		}
		return writeJSON(out, env)
	}
	if len(env.Alerts) == 0 {
		_, _ = fmt.Fprintln(out, render.MsgNoAlerts)
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tCOUNT\tDESCRIPTION")
	for _, a := range env.Alerts {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\n", a.LocalID, a.Count, a.Description)
	}
	return tw.Flush()
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "show <alert-id>",
		Short: "Show the solutions and audit log of one alert",
		Long: `Fetch the full details of an alert and print its suggested solutions
followed by the raw audit records.

Examples:
  setrouble show 5a1c7f0e-2c1d-4d51-9b49-5d1f0c7e0e11
  setrouble show 5a1c7f0e-2c1d-4d51-9b49-5d1f0c7e0e11 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(rootOpts, cmd, args[0], plain)
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "disable colors")
	return cmd
}

func runShow(opts *RootOptions, cmd *cobra.Command, alertID string, plain bool) error {
	env, err := opts.client().GetAlert(cmd.Context(), alertID)
	if err != nil {
		return WrapExitError(ExitFailure, "get alert "+alertID, err)
	}
	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		return writeJSON(out, env)
	}
	r := newRenderer(opts, cmd, plain)
	_, err = fmt.Fprintln(out, r.Show(alertFromDetail(env.Alert)))
	return err
}

func alertFromDetail(d api.AlertDetail) model.Alert {
	details := appclient.DetailsFromAPI(d)
	return model.Alert{
		LocalID:     d.LocalID,
		Description: d.Summary,
		Count:       d.ReportCount,
		Details:     &details,
	}
}

func newRenderer(opts *RootOptions, cmd *cobra.Command, plain bool) *render.Renderer {
	return render.New(cmd.OutOrStdout(), render.Options{
		Width:       terminalWidth(cmd.OutOrStdout()),
		Plain:       plain || !isTerminal(cmd.OutOrStdout()),
		RedactAudit: opts.Config.RedactAuditLog,
	})
}
