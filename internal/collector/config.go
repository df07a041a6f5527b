package collector

import "codeberg.org/mutker/vitalsd/internal/errors"

const (
	defaultMaxRoutes    = 500
	defaultMaxResources = 20
)

type Config struct {
	// MaxRoutes caps the number of routes with in-flight snapshots. The least
	// recently touched route is dropped first.
	MaxRoutes int `mapstructure:"max_routes"`
	// MaxResources caps the resource entries kept per snapshot, slowest first.
	MaxResources int `mapstructure:"max_resources"`
}

func DefaultConfig() Config {
	return Config{
		MaxRoutes:    defaultMaxRoutes,
		MaxResources: defaultMaxResources,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.MaxRoutes < 1 {
		return errFactory.WithData(errors.ErrInvalidConfig, "collector max_routes must be at least 1")
	}
	if c.MaxResources < 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "collector max_resources must not be negative")
	}

	return nil
}
