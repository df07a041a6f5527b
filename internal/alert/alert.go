// Package alert turns snapshots and regression results into deduplicated
// alerts and dispatches them to sinks.
package alert

import (
	"time"

	"codeberg.org/mutker/vitalsd/internal/errors"
	"codeberg.org/mutker/vitalsd/internal/vitals"
)

type Type string

const (
	TypeMetric     Type = "metric"
	TypeRegression Type = "regression"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one raised condition. It is never mutated after creation.
type Alert struct {
	ID        string        `json:"id"`
	Type      Type          `json:"type"`
	Severity  Severity      `json:"severity"`
	Message   string        `json:"message"`
	Metric    vitals.Metric `json:"metric,omitempty"`
	Value     float64       `json:"value,omitempty"`
	Threshold float64       `json:"threshold,omitempty"`
	Route     string        `json:"route,omitempty"`
	Timestamp int64         `json:"timestamp"`
}

// Time returns the alert timestamp.
func (a Alert) Time() time.Time {
	return time.UnixMilli(a.Timestamp)
}

type key struct {
	typ      Type
	metric   vitals.Metric
	severity Severity
}

func (a Alert) key() key {
	return key{typ: a.Type, metric: a.Metric, severity: a.Severity}
}

// Threshold values are compared with a strict greater-than.
type Threshold struct {
	Warning  float64 `mapstructure:"warning" json:"warning"`
	Critical float64 `mapstructure:"critical" json:"critical"`
}

// Thresholds holds one optional threshold per metric. A nil entry is not
// checked.
type Thresholds struct {
	CLS  *Threshold `mapstructure:"cls" json:"cls,omitempty"`
	LCP  *Threshold `mapstructure:"lcp" json:"lcp,omitempty"`
	FID  *Threshold `mapstructure:"fid" json:"fid,omitempty"`
	INP  *Threshold `mapstructure:"inp" json:"inp,omitempty"`
	FCP  *Threshold `mapstructure:"fcp" json:"fcp,omitempty"`
	TTFB *Threshold `mapstructure:"ttfb" json:"ttfb,omitempty"`
}

// For returns the threshold of metric m, or nil when it is not configured.
func (t Thresholds) For(m vitals.Metric) *Threshold {
	switch m {
	case vitals.CLS:
		return t.CLS
	case vitals.LCP:
		return t.LCP
	case vitals.FID:
		return t.FID
	case vitals.INP:
		return t.INP
	case vitals.FCP:
		return t.FCP
	case vitals.TTFB:
		return t.TTFB
	default:
		return nil
	}
}

// PublishedThresholds warns above the good bound and goes critical above the
// needs-improvement bound of each metric.
func PublishedThresholds() Thresholds {
	from := func(m vitals.Metric) *Threshold {
		b := vitals.PublishedBands.For(m)
		return &Threshold{Warning: b.Good, Critical: b.NeedsImprovement}
	}
	return Thresholds{
		CLS:  from(vitals.CLS),
		LCP:  from(vitals.LCP),
		FID:  from(vitals.FID),
		INP:  from(vitals.INP),
		FCP:  from(vitals.FCP),
		TTFB: from(vitals.TTFB),
	}
}

type WebhookConfig struct {
	URL     string        `mapstructure:"url"`
	Secret  string        `mapstructure:"secret"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type EmailConfig struct {
	APIKey string `mapstructure:"api_key"`
	From   string `mapstructure:"from"`
	To     string `mapstructure:"to"`
	// Host overrides the SendGrid API host.
	Host string `mapstructure:"host"`
}

type Config struct {
	Enabled       bool          `mapstructure:"enabled"`
	Thresholds    Thresholds    `mapstructure:"thresholds"`
	Cooldown      time.Duration `mapstructure:"cooldown"`
	HistorySize   int           `mapstructure:"history_size"`
	HistoryMaxAge time.Duration `mapstructure:"history_max_age"`
	SinkTimeout   time.Duration `mapstructure:"sink_timeout"`
	Console       bool          `mapstructure:"console"`
	Webhook       WebhookConfig `mapstructure:"webhook"`
	Email         EmailConfig   `mapstructure:"email"`
}

const (
	defaultCooldown       = 5 * time.Minute
	defaultHistorySize    = 100
	defaultHistoryMaxAge  = 24 * time.Hour
	defaultSinkTimeout    = 10 * time.Second
	defaultWebhookTimeout = 5 * time.Second
)

func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		Thresholds:    PublishedThresholds(),
		Cooldown:      defaultCooldown,
		HistorySize:   defaultHistorySize,
		HistoryMaxAge: defaultHistoryMaxAge,
		SinkTimeout:   defaultSinkTimeout,
		Console:       true,
		Webhook:       WebhookConfig{Timeout: defaultWebhookTimeout},
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	for _, m := range vitals.CoreMetrics {
		t := c.Thresholds.For(m)
		if t == nil {
			continue
		}
		if t.Warning < 0 || t.Critical < t.Warning {
			return errFactory.WithData(errors.ErrInvalidConfig, "alert thresholds for "+string(m)+" must satisfy 0 <= warning <= critical")
		}
	}
	if c.Cooldown < 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "alert cooldown must not be negative")
	}
	if c.HistorySize < 1 {
		return errFactory.WithData(errors.ErrInvalidConfig, "alert history_size must be at least 1")
	}
	if c.HistoryMaxAge <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "alert history_max_age must be positive")
	}
	if c.SinkTimeout <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "alert sink_timeout must be positive")
	}
	if c.Email.APIKey != "" && (c.Email.From == "" || c.Email.To == "") {
		return errFactory.WithData(errors.ErrInvalidConfig, "alert email needs both from and to")
	}

	return nil
}
