package alert

import (
	"fmt"
	"time"

	"codeberg.org/mutker/vitalsd/internal/regression"
	"codeberg.org/mutker/vitalsd/internal/vitals"
	"github.com/google/uuid"
)

// Checker evaluates thresholds and regression results. It keeps no state.
type Checker struct {
	now func() time.Time
}

func NewChecker() *Checker {
	return &Checker{now: time.Now}
}

// NewCheckerWithClock is NewChecker with a fixed clock for timestamps.
func NewCheckerWithClock(now func() time.Time) *Checker {
	return &Checker{now: now}
}

// CheckMetrics returns one alert per measured metric above its configured
// threshold. Critical is checked before warning. A disabled config yields no
// alerts.
func (c *Checker) CheckMetrics(s vitals.Snapshot, cfg Config) []Alert {
	alerts := []Alert{}
	if !cfg.Enabled {
		return alerts
	}

	ts := c.now().UnixMilli()
	for _, m := range vitals.CoreMetrics {
		t := cfg.Thresholds.For(m)
		if t == nil || !s.Has(m) {
			continue
		}

		v := s.Value(m)
		var (
			severity Severity
			limit    float64
		)
		switch {
		case v > t.Critical:
			severity, limit = SeverityCritical, t.Critical
		case v > t.Warning:
			severity, limit = SeverityWarning, t.Warning
		default:
			continue
		}

		alerts = append(alerts, Alert{
			ID:        uuid.NewString(),
			Type:      TypeMetric,
			Severity:  severity,
			Message:   fmt.Sprintf("%s is %s, above the %s threshold of %s", m.Label(), formatValue(m, v), severity, formatValue(m, limit)),
			Metric:    m,
			Value:     v,
			Threshold: limit,
			Route:     s.Page.Route,
			Timestamp: ts,
		})
	}

	return alerts
}

// CheckRegressionAlerts appends a single summary alert for result: critical
// when any regression is critical, otherwise warning when there is any
// regression at all.
func (c *Checker) CheckRegressionAlerts(result regression.Result, alerts []Alert) []Alert {
	var severity Severity
	switch {
	case result.Summary.CriticalRegressions > 0:
		severity = SeverityCritical
	case result.Summary.TotalRegressions > 0:
		severity = SeverityWarning
	default:
		return alerts
	}

	msg := fmt.Sprintf("%d performance regression(s) detected", result.Summary.TotalRegressions)
	if result.Route != "" {
		msg += " on " + result.Route
	}
	if result.Summary.CriticalRegressions > 0 {
		msg += fmt.Sprintf(", %d critical", result.Summary.CriticalRegressions)
	}
	if worst, ok := worstRegression(result.Regressions); ok {
		msg += fmt.Sprintf(" (worst: %s %+.1f%%)", worst.Metric.Label(), worst.ChangePercent)
	}

	return append(alerts, Alert{
		ID:        uuid.NewString(),
		Type:      TypeRegression,
		Severity:  severity,
		Message:   msg,
		Value:     float64(result.Summary.TotalRegressions),
		Route:     result.Route,
		Timestamp: c.now().UnixMilli(),
	})
}

func worstRegression(rs []regression.Regression) (regression.Regression, bool) {
	if len(rs) == 0 {
		return regression.Regression{}, false
	}
	worst := rs[0]
	for _, r := range rs[1:] {
		if r.ChangePercent > worst.ChangePercent {
			worst = r
		}
	}
	return worst, true
}

func formatValue(m vitals.Metric, v float64) string {
	if m == vitals.CLS {
		return fmt.Sprintf("%.3f", v)
	}
	return fmt.Sprintf("%.0f%s", v, m.Unit())
}
