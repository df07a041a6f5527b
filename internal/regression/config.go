package regression

import "codeberg.org/mutker/vitalsd/internal/errors"

const (
	defaultWarningPercent  = 20
	defaultCriticalPercent = 50
)

type Config struct {
	// WarningPercent is the worsening, in percent of the baseline value,
	// that flags a regression inside the same rating band.
	WarningPercent  float64 `mapstructure:"warning_percent"`
	CriticalPercent float64 `mapstructure:"critical_percent"`
}

func DefaultConfig() Config {
	return Config{
		WarningPercent:  defaultWarningPercent,
		CriticalPercent: defaultCriticalPercent,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.WarningPercent <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "regression warning_percent must be positive")
	}
	if c.CriticalPercent < c.WarningPercent {
		return errFactory.WithData(errors.ErrInvalidConfig, "regression critical_percent must not be below warning_percent")
	}

	return nil
}
