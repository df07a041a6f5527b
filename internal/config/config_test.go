package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/vitalsd/internal/config"
	"codeberg.org/mutker/vitalsd/internal/errors"
	"codeberg.org/mutker/vitalsd/internal/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vitalsd.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func load(t *testing.T, opts ...config.Option) (*config.Config, error) {
	t.Helper()
	base := []config.Option{
		config.WithArgs(nil),
		config.WithSearchPaths(t.TempDir()),
	}
	return config.Load(append(base, opts...)...)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"

[server]
listen = "0.0.0.0:9090"

[monitor]
interval = "10s"
auto_start = false

[regression]
warning_percent = 15.0
critical_percent = 40.0

[alert]
cooldown = "1m"

[alert.thresholds.lcp]
warning = 2000.0
critical = 3500.0

[alert.webhook]
url = "https://hooks.example.com/vitals"

[analyzer.penalties.cls]
needs_improvement = 5.0
poor = 25.0

[history]
enabled = true
driver = "postgres"
dsn = "postgres://vitals@localhost/vitals?sslmode=disable"
`)
	t.Setenv("VITALSD_CONFIG", path)

	cfg, err := load(t)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Listen)
	assert.Equal(t, 10*time.Second, cfg.Monitor.Interval)
	assert.False(t, cfg.Monitor.AutoStart)
	assert.Equal(t, 15.0, cfg.Regression.WarningPercent)
	assert.Equal(t, 40.0, cfg.Regression.CriticalPercent)
	assert.Equal(t, time.Minute, cfg.Alert.Cooldown)
	require.NotNil(t, cfg.Alert.Thresholds.LCP)
	assert.Equal(t, 2000.0, cfg.Alert.Thresholds.LCP.Warning)
	assert.NotNil(t, cfg.Alert.Thresholds.CLS, "unset thresholds keep their defaults")
	assert.Equal(t, "https://hooks.example.com/vitals", cfg.Alert.Webhook.URL)
	assert.Equal(t, 25.0, cfg.Analyzer.Penalties.CLS.Poor)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, history.DriverPostgres, cfg.History.Driver)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("VITALSD_CONFIG", "")

	cfg, err := load(t)
	require.NoError(t, err)

	want := config.Default()
	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, want.Server, cfg.Server)
	assert.Equal(t, want.Monitor, cfg.Monitor)
	assert.Equal(t, want.Baseline, cfg.Baseline)
	assert.Equal(t, want.Regression, cfg.Regression)
	assert.False(t, cfg.History.Enabled)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	path := writeConfig(t, `
This is not a valid TOML file
`)
	t.Setenv("VITALSD_CONFIG", path)

	_, err := load(t)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
	assert.Contains(t, err.Error(), "Failed to read config file")
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := load(t, config.WithConfigFile(filepath.Join(t.TempDir(), "absent.toml")))

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
}

func TestInvalidLogLevel(t *testing.T) {
	t.Setenv("VITALSD_CONFIG", writeConfig(t, `log_level = "invalid"`))

	_, err := load(t)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidLogLevel))
}

func TestInvalidSection(t *testing.T) {
	t.Setenv("VITALSD_CONFIG", writeConfig(t, `
[regression]
warning_percent = 60.0
critical_percent = 40.0
`))

	_, err := load(t)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig))
}

func TestLogLevelFlag(t *testing.T) {
	t.Setenv("VITALSD_CONFIG", writeConfig(t, `log_level = "error"`))

	cfg, err := load(t, config.WithArgs([]string{"--log-level", "debug", "--interval", "45s"}))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel, "flags override the file")
	assert.Equal(t, 45*time.Second, cfg.Monitor.Interval)
}

func TestConfigFlag(t *testing.T) {
	path := writeConfig(t, `
[server]
listen = "127.0.0.1:7000"
`)

	cfg, err := load(t, config.WithArgs([]string{"--config", path}))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Listen)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("VITALSD_CONFIG", writeConfig(t, `
[server]
listen = "127.0.0.1:7000"
`))
	t.Setenv("VITALSD_SERVER_LISTEN", "127.0.0.1:7001")
	t.Setenv("VITALSD_HISTORY_ENABLED", "true")

	cfg, err := load(t)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7001", cfg.Server.Listen)
	assert.True(t, cfg.History.Enabled)
}

func TestEnvPrefix(t *testing.T) {
	t.Setenv("WEBPERF_LOG_LEVEL", "warning")

	cfg, err := load(t, config.WithEnvPrefix("WEBPERF"))
	require.NoError(t, err)
	assert.Equal(t, "warning", cfg.LogLevel)
}

func TestUnknownFlag(t *testing.T) {
	_, err := load(t, config.WithArgs([]string{"--no-such-flag"}))

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrBindFlags))
}

func TestLogLevelIsValid(t *testing.T) {
	assert.True(t, config.LogLevelWarning.IsValid())
	assert.False(t, config.LogLevel("verbose").IsValid())
}
