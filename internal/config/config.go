// Package config loads vitalsd settings from a TOML file, the environment
// and command line flags, in increasing order of precedence.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"codeberg.org/mutker/vitalsd/internal/alert"
	"codeberg.org/mutker/vitalsd/internal/analyzer"
	"codeberg.org/mutker/vitalsd/internal/baseline"
	"codeberg.org/mutker/vitalsd/internal/collector"
	"codeberg.org/mutker/vitalsd/internal/errors"
	"codeberg.org/mutker/vitalsd/internal/history"
	"codeberg.org/mutker/vitalsd/internal/monitor"
	"codeberg.org/mutker/vitalsd/internal/regression"
	"codeberg.org/mutker/vitalsd/internal/server"
	"codeberg.org/mutker/vitalsd/internal/telemetry"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel  = string(LogLevelInfo)
	DefaultEnvPrefix = "VITALSD"
	configName       = "vitalsd"
	configType       = "toml"
)

type Config struct {
	LogLevel string `mapstructure:"log_level"`
	PIDFile  string `mapstructure:"pid_file"`

	Server     server.Config     `mapstructure:"server"`
	Monitor    monitor.Config    `mapstructure:"monitor"`
	Collector  collector.Config  `mapstructure:"collector"`
	Analyzer   analyzer.Config   `mapstructure:"analyzer"`
	Baseline   baseline.Config   `mapstructure:"baseline"`
	Regression regression.Config `mapstructure:"regression"`
	Alert      alert.Config      `mapstructure:"alert"`
	History    history.Config    `mapstructure:"history"`
	Telemetry  telemetry.Config  `mapstructure:"telemetry"`
}

// Default returns the configuration used when no source overrides anything.
func Default() Config {
	return Config{
		LogLevel:   DefaultLogLevel,
		PIDFile:    filepath.Join(os.TempDir(), "vitalsd.pid"),
		Server:     server.DefaultConfig(),
		Monitor:    monitor.DefaultConfig(),
		Collector:  collector.DefaultConfig(),
		Analyzer:   analyzer.DefaultConfig(),
		Baseline:   baseline.DefaultConfig(),
		Regression: regression.DefaultConfig(),
		Alert:      alert.DefaultConfig(),
		History:    history.DefaultConfig(),
		Telemetry:  telemetry.DefaultConfig(),
	}
}

// Load reads the configuration file, the environment and the flags in args
// and validates the result. The file is taken from --config, then from
// <PREFIX>_CONFIG, then from the search paths.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{
		args:        os.Args[1:],
		envPrefix:   DefaultEnvPrefix,
		searchPaths: defaultSearchPaths(),
	}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	cfg := Default()
	v := viper.New()
	setDefaults(v, cfg)

	fs := newFlagSet(cfg)
	if err := fs.Parse(o.args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}
	if err := bindFlags(v, fs); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	path := o.configPath
	if flagPath, _ := fs.GetString("config"); flagPath != "" {
		path = flagPath
	}
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}
	if err := readConfigFile(v, path, o.searchPaths); err != nil {
		return nil, err
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the log level and every component section.
func (c *Config) Validate() error {
	if !LogLevel(strings.ToLower(c.LogLevel)).IsValid() {
		return errors.New().WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	validators := []func() error{
		c.Server.Validate,
		c.Monitor.Validate,
		c.Collector.Validate,
		c.Analyzer.Validate,
		c.Baseline.Validate,
		c.Regression.Validate,
		c.Alert.Validate,
		c.History.Validate,
		c.Telemetry.Validate,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}

	return nil
}

func defaultSearchPaths() []string {
	paths := []string{"/etc/vitalsd"}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "vitalsd"))
	}
	return append(paths, ".")
}

func readConfigFile(v *viper.Viper, path string, searchPaths []string) error {
	errFactory := errors.New()

	v.SetConfigType(configType)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
		return nil
	}

	v.SetConfigName(configName)
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	return nil
}

// setDefaults registers the keys that can be overridden from the
// environment. viper only maps environment variables onto known keys.
func setDefaults(v *viper.Viper, cfg Config) {
	defaults := map[string]any{
		"log_level": cfg.LogLevel,
		"pid_file":  cfg.PIDFile,

		"server.listen":           cfg.Server.Listen,
		"server.status_interval":  cfg.Server.StatusInterval,
		"server.max_beacon_bytes": cfg.Server.MaxBeaconBytes,
		"server.allow_origin":     cfg.Server.AllowOrigin,

		"monitor.interval":         cfg.Monitor.Interval,
		"monitor.require_complete": cfg.Monitor.RequireComplete,
		"monitor.auto_start":       cfg.Monitor.AutoStart,

		"collector.max_routes":    cfg.Collector.MaxRoutes,
		"collector.max_resources": cfg.Collector.MaxResources,

		"analyzer.slow_resource_ms":   cfg.Analyzer.SlowResourceMs,
		"analyzer.max_transfer_bytes": cfg.Analyzer.MaxTransferBytes,

		"baseline.window":         cfg.Baseline.Window,
		"baseline.max_age":        cfg.Baseline.MaxAge,
		"baseline.max_routes":     cfg.Baseline.MaxRoutes,
		"baseline.sweep_schedule": cfg.Baseline.SweepSchedule,

		"regression.warning_percent":  cfg.Regression.WarningPercent,
		"regression.critical_percent": cfg.Regression.CriticalPercent,

		"alert.enabled":         cfg.Alert.Enabled,
		"alert.cooldown":        cfg.Alert.Cooldown,
		"alert.history_size":    cfg.Alert.HistorySize,
		"alert.history_max_age": cfg.Alert.HistoryMaxAge,
		"alert.sink_timeout":    cfg.Alert.SinkTimeout,
		"alert.console":         cfg.Alert.Console,
		"alert.webhook.url":     cfg.Alert.Webhook.URL,
		"alert.webhook.secret":  cfg.Alert.Webhook.Secret,
		"alert.webhook.timeout": cfg.Alert.Webhook.Timeout,
		"alert.email.api_key":   cfg.Alert.Email.APIKey,
		"alert.email.from":      cfg.Alert.Email.From,
		"alert.email.to":        cfg.Alert.Email.To,
		"alert.email.host":      cfg.Alert.Email.Host,

		"history.enabled":       cfg.History.Enabled,
		"history.driver":        cfg.History.Driver,
		"history.dsn":           cfg.History.DSN,
		"history.backup_dir":    cfg.History.BackupDir,
		"history.batch_size":    cfg.History.BatchSize,
		"history.batch_timeout": cfg.History.BatchTimeout,
		"history.max_per_route": cfg.History.MaxPerRoute,

		"telemetry.enabled":   cfg.Telemetry.Enabled,
		"telemetry.namespace": cfg.Telemetry.Namespace,
		"telemetry.path":      cfg.Telemetry.Path,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

func newFlagSet(cfg Config) *pflag.FlagSet {
	fs := pflag.NewFlagSet(configName, pflag.ContinueOnError)
	fs.String("config", "", "Path to the configuration file")
	fs.String("log-level", cfg.LogLevel, "Log level (debug, info, warning, error)")
	fs.String("pid-file", cfg.PIDFile, "Path to the PID file")
	fs.String("listen", cfg.Server.Listen, "HTTP listen address")
	fs.Duration("interval", cfg.Monitor.Interval, "Interval between monitoring runs")
	fs.Bool("auto-start", cfg.Monitor.AutoStart, "Start monitoring on launch")
	fs.Bool("history", cfg.History.Enabled, "Record snapshots and baselines in a database")
	fs.String("history-driver", cfg.History.Driver, "History database driver (sqlite3, postgres)")
	fs.String("history-dsn", cfg.History.DSN, "History database DSN")
	fs.Bool("telemetry", cfg.Telemetry.Enabled, "Expose Prometheus metrics")
	return fs
}

var flagKeys = map[string]string{
	"log-level":      "log_level",
	"pid-file":       "pid_file",
	"listen":         "server.listen",
	"interval":       "monitor.interval",
	"auto-start":     "monitor.auto_start",
	"history":        "history.enabled",
	"history-driver": "history.driver",
	"history-dsn":    "history.dsn",
	"telemetry":      "telemetry.enabled",
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return err
		}
	}
	return nil
}
