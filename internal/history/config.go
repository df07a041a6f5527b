package history

import (
	"time"

	"codeberg.org/mutker/vitalsd/internal/errors"
)

const (
	// File system permissions and paths
	defaultDirPerm      = 0o755
	defaultDSN          = "/var/lib/vitalsd/history.db"
	defaultBackupDir    = "/var/lib/vitalsd/backups"
	defaultBatchSize    = 50
	defaultBatchTimeout = 10 * time.Second
	defaultMaxPerRoute  = 100

	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	Driver  string `mapstructure:"driver"`
	// DSN is a file path for sqlite3 and a connection string for postgres.
	DSN          string        `mapstructure:"dsn"`
	BackupDir    string        `mapstructure:"backup_dir"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	MaxPerRoute  int           `mapstructure:"max_per_route"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:      false, // Disabled by default
		Driver:       DriverSQLite,
		DSN:          defaultDSN,
		BackupDir:    defaultBackupDir,
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
		MaxPerRoute:  defaultMaxPerRoute,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Only validate storage settings if history is enabled
	if !c.Enabled {
		return nil
	}
	if c.Driver != DriverSQLite && c.Driver != DriverPostgres {
		return errFactory.WithData(ErrInvalidDriver, c.Driver)
	}
	if c.DSN == "" {
		return errFactory.New(ErrInvalidDSN)
	}
	if c.BatchSize < 1 {
		return errFactory.WithData(ErrInvalidConfig, "history batch_size must be at least 1")
	}
	if c.BatchTimeout <= 0 {
		return errFactory.WithData(ErrInvalidConfig, "history batch_timeout must be positive")
	}
	if c.MaxPerRoute < 1 {
		return errFactory.WithData(ErrInvalidConfig, "history max_per_route must be at least 1")
	}
	return nil
}
