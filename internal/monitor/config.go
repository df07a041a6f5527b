package monitor

import (
	"time"

	"codeberg.org/mutker/vitalsd/internal/errors"
)

const (
	defaultInterval = 30 * time.Second
	minInterval     = 100 * time.Millisecond
)

type Config struct {
	Interval time.Duration `mapstructure:"interval"`
	// RequireComplete holds back snapshots until every core metric fired.
	RequireComplete bool `mapstructure:"require_complete"`
	AutoStart       bool `mapstructure:"auto_start"`
}

func DefaultConfig() Config {
	return Config{
		Interval:        defaultInterval,
		RequireComplete: true,
		AutoStart:       true,
	}
}

func (c Config) Validate() error {
	if c.Interval < minInterval {
		return errors.New().WithData(errors.ErrInvalidInterval, c.Interval.String())
	}
	return nil
}
