// Package cli is the setrouble command line: an interactive alert browser
// plus one-shot commands against the setroubleshoot bridge.
package cli

import (
	"io"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/g960059/setrouble/internal/appclient"
	"github.com/g960059/setrouble/internal/config"
	"github.com/g960059/setrouble/internal/db"
	"github.com/g960059/setrouble/internal/logging"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// RootOptions holds global flags and the state every command shares once
// PersistentPreRunE has run.
type RootOptions struct {
	Verbose    bool
	Format     string
	ConfigPath string

	Config config.Config
	Logger *zap.Logger

	// NewClient builds the bridge client from the loaded config.
	NewClient func(cfg config.Config) *appclient.Client
	// LogWriter receives console logs when no log file is configured.
	LogWriter io.Writer

	closeLog func() error
}

// NewRootCommand creates the root command for the setrouble CLI.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWithOptions(&RootOptions{})
}

func NewRootCommandWithOptions(opts *RootOptions) *cobra.Command {
	if opts.NewClient == nil {
		opts.NewClient = defaultClient
	}

	cmd := &cobra.Command{
		Use:   "setrouble",
		Short: "Browse and fix SELinux denials reported by setroubleshootd",
		Long: `setrouble connects to the setroubleshoot bridge, keeps a live list of
SELinux access denials and lets the operator inspect and apply the fixes
suggested by setroubleshoot plugins.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, "invalid format "+opts.Format+": must be text or json")
			}
			return opts.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.closeLog != nil {
				return opts.closeLog()
			}
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output (debug logging)")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.StringVar(&opts.ConfigPath, "config", "", "config file (default $XDG_CONFIG_HOME/setrouble/config.yaml)")
	pf.String("socket", "", "bridge socket path")
	pf.String("log-level", "", "log level (debug|info|warn|error)")
	pf.String("log-format", "", "log format (console|json)")
	pf.String("log-file", "", "write logs to this file instead of stderr")
	pf.String("journal-path", "", "fix journal database path")

	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewFixCommand(opts))
	cmd.AddCommand(NewFixesCommand(opts))

	return cmd
}

func (o *RootOptions) setup(cmd *cobra.Command) error {
	v := config.NewViper()
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return WrapExitError(ExitCommandError, "bind flags", err)
	}
	cfg, err := config.Load(v, o.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}
	if o.Verbose {
		cfg.LogLevel = "debug"
	}
	o.Config = cfg

	writer := o.LogWriter
	if writer == nil {
		writer = cmd.ErrOrStderr()
	}
	logger, closeLog, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
		Writer: writer,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "set up logging", err)
	}
	o.Logger = logger
	o.closeLog = closeLog
	return nil
}

func (o *RootOptions) client() *appclient.Client {
	return o.NewClient(o.Config)
}

// openJournal opens the fix journal. Commands that only write to it treat
// a failure as a warning.
func (o *RootOptions) openJournal(cmd *cobra.Command) (*db.Store, error) {
	store, err := db.Open(cmd.Context(), o.Config.JournalPath)
	if err != nil {
		return nil, errors.Wrapf(err, "open fix journal %s", o.Config.JournalPath)
	}
	return store, nil
}

func defaultClient(cfg config.Config) *appclient.Client {
	return appclient.New(cfg.SocketPath).WithUnaryTimeout(cfg.UnaryTimeout)
}
