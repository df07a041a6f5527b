package baseline

import (
	"time"

	"codeberg.org/mutker/vitalsd/internal/errors"
	"github.com/robfig/cron/v3"
)

const (
	defaultWindow        = 5
	defaultMaxAge        = 7 * 24 * time.Hour
	defaultMaxRoutes     = 200
	defaultSweepSchedule = "@every 15m"
)

type Config struct {
	// Window is the sample count after which merging switches from a
	// cumulative mean to an exponential moving average of weight 1/Window.
	Window        int           `mapstructure:"window"`
	MaxAge        time.Duration `mapstructure:"max_age"`
	MaxRoutes     int           `mapstructure:"max_routes"`
	SweepSchedule string        `mapstructure:"sweep_schedule"`
}

func DefaultConfig() Config {
	return Config{
		Window:        defaultWindow,
		MaxAge:        defaultMaxAge,
		MaxRoutes:     defaultMaxRoutes,
		SweepSchedule: defaultSweepSchedule,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.Window < 1 {
		return errFactory.WithData(errors.ErrInvalidConfig, "baseline window must be at least 1")
	}
	if c.MaxAge <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "baseline max_age must be positive")
	}
	if c.MaxRoutes < 1 {
		return errFactory.WithData(errors.ErrInvalidConfig, "baseline max_routes must be at least 1")
	}
	if _, err := cron.ParseStandard(c.SweepSchedule); err != nil {
		return errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	return nil
}
