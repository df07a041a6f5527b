package analyzer

import "codeberg.org/mutker/vitalsd/internal/errors"

const (
	defaultSlowResourceMs   = 500
	defaultMaxTransferBytes = 2 * 1024 * 1024
)

// Penalty is subtracted from the score when a metric leaves the good band.
type Penalty struct {
	NeedsImprovement float64 `mapstructure:"needs_improvement"`
	Poor             float64 `mapstructure:"poor"`
}

// Penalties holds one penalty per scored dimension. FID and INP share the
// interactivity penalty.
type Penalties struct {
	CLS           Penalty `mapstructure:"cls"`
	LCP           Penalty `mapstructure:"lcp"`
	Interactivity Penalty `mapstructure:"interactivity"`
	FCP           Penalty `mapstructure:"fcp"`
	TTFB          Penalty `mapstructure:"ttfb"`
}

func (p Penalties) sumPoor() float64 {
	return p.CLS.Poor + p.LCP.Poor + p.Interactivity.Poor + p.FCP.Poor + p.TTFB.Poor
}

type Config struct {
	Penalties        Penalties `mapstructure:"penalties"`
	SlowResourceMs   float64   `mapstructure:"slow_resource_ms"`
	MaxTransferBytes int64     `mapstructure:"max_transfer_bytes"`
}

func DefaultConfig() Config {
	return Config{
		Penalties: Penalties{
			CLS:           Penalty{NeedsImprovement: 10, Poor: 20},
			LCP:           Penalty{NeedsImprovement: 12.5, Poor: 25},
			Interactivity: Penalty{NeedsImprovement: 10, Poor: 20},
			FCP:           Penalty{NeedsImprovement: 7.5, Poor: 15},
			TTFB:          Penalty{NeedsImprovement: 10, Poor: 20},
		},
		SlowResourceMs:   defaultSlowResourceMs,
		MaxTransferBytes: defaultMaxTransferBytes,
	}
}

// Validate checks that every poor penalty outweighs its needs-improvement
// penalty and that a snapshot failing every metric scores zero.
func (c Config) Validate() error {
	errFactory := errors.New()

	for name, p := range map[string]Penalty{
		"cls":           c.Penalties.CLS,
		"lcp":           c.Penalties.LCP,
		"interactivity": c.Penalties.Interactivity,
		"fcp":           c.Penalties.FCP,
		"ttfb":          c.Penalties.TTFB,
	} {
		if p.NeedsImprovement < 0 || p.Poor < p.NeedsImprovement {
			return errFactory.WithData(errors.ErrInvalidConfig, "penalty ordering for "+name)
		}
	}
	if c.Penalties.sumPoor() < 100 {
		return errFactory.WithData(errors.ErrInvalidConfig, "poor penalties must sum to at least 100")
	}
	if c.SlowResourceMs <= 0 || c.MaxTransferBytes <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "resource limits must be positive")
	}

	return nil
}
