package telemetry

import (
	"regexp"
	"strings"

	"codeberg.org/mutker/vitalsd/internal/errors"
)

const (
	defaultNamespace = "vitalsd"
	defaultPath      = "/metrics"
)

var namespacePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type Config struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Path      string `mapstructure:"path"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Namespace: defaultNamespace,
		Path:      defaultPath,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if !c.Enabled {
		return nil
	}
	if !namespacePattern.MatchString(c.Namespace) {
		return errFactory.WithData(ErrInvalidConfig, "telemetry namespace must be a valid metric name prefix")
	}
	if !strings.HasPrefix(c.Path, "/") {
		return errFactory.WithData(ErrInvalidConfig, "telemetry path must start with /")
	}
	return nil
}
