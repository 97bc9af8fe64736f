package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "SETROUBLE"
	appDir    = "setrouble"
)

type Config struct {
	SocketPath            string        `mapstructure:"socket"`
	ConnectTimeout        time.Duration `mapstructure:"connect_timeout"`
	UnaryTimeout          time.Duration `mapstructure:"unary_timeout"`
	WatchPollInterval     time.Duration `mapstructure:"watch_poll_interval"`
	RetryMinBackoff       time.Duration `mapstructure:"retry_min_backoff"`
	RetryMaxBackoff       time.Duration `mapstructure:"retry_max_backoff"`
	RetainOnDisconnect    bool          `mapstructure:"retain_on_disconnect"`
	CoalesceDetailFetches bool          `mapstructure:"coalesce_detail_fetches"`
	DetailFetchRate       float64       `mapstructure:"detail_fetch_rate"`
	DetailFetchBurst      int           `mapstructure:"detail_fetch_burst"`
	JournalPath           string        `mapstructure:"journal_path"`
	LogLevel              string        `mapstructure:"log_level"`
	LogFormat             string        `mapstructure:"log_format"`
	LogFile               string        `mapstructure:"log_file"`
	RedactAuditLog        bool          `mapstructure:"redact_audit_log"`
}

func DefaultConfig() Config {
	return Config{
		SocketPath:        defaultSocketPath(),
		ConnectTimeout:    5 * time.Second,
		UnaryTimeout:      10 * time.Second,
		WatchPollInterval: 2 * time.Second,
		RetryMinBackoff:   250 * time.Millisecond,
		RetryMaxBackoff:   4 * time.Second,
		DetailFetchBurst:  1,
		JournalPath:       defaultJournalPath(),
		LogLevel:          "info",
		LogFormat:         "console",
	}
}

// NewViper returns a viper instance seeded with DefaultConfig and reading
// SETROUBLE_* environment variables.
func NewViper() *viper.Viper {
	v := viper.New()
	d := DefaultConfig()
	v.SetDefault("socket", d.SocketPath)
	v.SetDefault("connect_timeout", d.ConnectTimeout)
	v.SetDefault("unary_timeout", d.UnaryTimeout)
	v.SetDefault("watch_poll_interval", d.WatchPollInterval)
	v.SetDefault("retry_min_backoff", d.RetryMinBackoff)
	v.SetDefault("retry_max_backoff", d.RetryMaxBackoff)
	v.SetDefault("retain_on_disconnect", d.RetainOnDisconnect)
	v.SetDefault("coalesce_detail_fetches", d.CoalesceDetailFetches)
	v.SetDefault("detail_fetch_rate", d.DetailFetchRate)
	v.SetDefault("detail_fetch_burst", d.DetailFetchBurst)
	v.SetDefault("journal_path", d.JournalPath)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("log_file", d.LogFile)
	v.SetDefault("redact_audit_log", d.RedactAuditLog)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds every flag in fs to the key with dashes turned into
// underscores, so --log-level feeds log_level.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var result error
	fs.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if err := v.BindPFlag(key, f); err != nil {
			result = multierror.Append(result, err)
		}
	})
	return result
}

// Load reads the optional config file and decodes the merged settings.
// An explicit path must exist; the default path may be absent.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", path)
		}
	} else if def := DefaultConfigPath(); def != "" {
		if _, err := os.Stat(def); err == nil {
			v.SetConfigFile(def)
			if err := v.ReadInConfig(); err != nil {
				return Config{}, errors.Wrapf(err, "read config %s", def)
			}
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var result error
	if strings.TrimSpace(c.SocketPath) == "" {
		result = multierror.Append(result, errors.New("socket path is required"))
	}
	if c.ConnectTimeout <= 0 {
		result = multierror.Append(result, errors.Newf("connect_timeout must be positive, got %s", c.ConnectTimeout))
	}
	if c.RetryMaxBackoff > 0 && c.RetryMaxBackoff < c.RetryMinBackoff {
		result = multierror.Append(result, errors.Newf("retry_max_backoff %s is below retry_min_backoff %s", c.RetryMaxBackoff, c.RetryMinBackoff))
	}
	if c.DetailFetchRate < 0 {
		result = multierror.Append(result, errors.Newf("detail_fetch_rate must not be negative, got %v", c.DetailFetchRate))
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		result = multierror.Append(result, errors.Newf("log_format must be console or json, got %q", c.LogFormat))
	}
	return result
}

// DefaultConfigPath is $XDG_CONFIG_HOME/setrouble/config.yaml, falling
// back to ~/.config.
func DefaultConfigPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, appDir, "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", appDir, "config.yaml")
}

func defaultSocketPath() string {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir != "" {
		return filepath.Join(runtimeDir, appDir, "bridge.sock")
	}
	return filepath.Join("/run", appDir, "bridge.sock")
}

func defaultJournalPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "setrouble.db"
	}
	return filepath.Join(home, ".local", "state", appDir, "fixes.db")
}
