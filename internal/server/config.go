package server

import (
	"time"

	"codeberg.org/mutker/vitalsd/internal/errors"
)

const (
	defaultListen         = "127.0.0.1:8080"
	defaultStatusInterval = 2 * time.Second
	defaultMaxBeaconBytes = 64 << 10
	defaultHistoryLimit   = 20
)

type Config struct {
	Listen         string        `mapstructure:"listen"`
	StatusInterval time.Duration `mapstructure:"status_interval"`
	MaxBeaconBytes int64         `mapstructure:"max_beacon_bytes"`
	// AllowOrigin is sent as Access-Control-Allow-Origin on the beacon
	// endpoint. Empty disables CORS headers.
	AllowOrigin string `mapstructure:"allow_origin"`
}

func DefaultConfig() Config {
	return Config{
		Listen:         defaultListen,
		StatusInterval: defaultStatusInterval,
		MaxBeaconBytes: defaultMaxBeaconBytes,
		AllowOrigin:    "*",
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.Listen == "" {
		return errFactory.WithData(errors.ErrInvalidConfig, "server listen address is empty")
	}
	if c.StatusInterval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.StatusInterval.String())
	}
	if c.MaxBeaconBytes < 1 {
		return errFactory.WithData(errors.ErrInvalidConfig, "server max_beacon_bytes must be positive")
	}
	return nil
}
