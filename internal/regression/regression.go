// Package regression compares a snapshot with the baseline of its route.
package regression

import (
	"codeberg.org/mutker/vitalsd/internal/vitals"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Regression describes one metric that worsened against its baseline.
type Regression struct {
	Metric        vitals.Metric `json:"metric"`
	Baseline      float64       `json:"baseline"`
	Current       float64       `json:"current"`
	Delta         float64       `json:"delta"`
	ChangePercent float64       `json:"change_percent"`
	From          vitals.Rating `json:"from"`
	To            vitals.Rating `json:"to"`
	Severity      Severity      `json:"severity"`
}

type Summary struct {
	TotalRegressions    int `json:"total_regressions"`
	CriticalRegressions int `json:"critical_regressions"`
}

type Result struct {
	Route       string       `json:"route,omitempty"`
	Summary     Summary      `json:"summary"`
	Regressions []Regression `json:"regressions"`
}

// Detector holds no state besides its configuration.
type Detector struct {
	cfg Config
}

func New(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Detect reports every metric of current that got worse than baseline. A
// metric regresses when its rating band worsens or when it grew by more than
// WarningPercent. It is critical when it lands in poor from a better band or
// grew by more than CriticalPercent. Metrics missing on either side are
// skipped.
func (d *Detector) Detect(current vitals.Snapshot, baseline vitals.Baseline) Result {
	result := Result{
		Route:       baseline.Route,
		Regressions: []Regression{},
	}

	for _, m := range vitals.CoreMetrics {
		if !current.Has(m) || !baseline.Metrics.Has(m) {
			continue
		}

		r, ok := d.compare(m, current.Value(m), baseline.Metrics.Value(m))
		if !ok {
			continue
		}

		result.Regressions = append(result.Regressions, r)
		result.Summary.TotalRegressions++
		if r.Severity == SeverityCritical {
			result.Summary.CriticalRegressions++
		}
	}

	return result
}

func (d *Detector) compare(m vitals.Metric, cur, base float64) (Regression, bool) {
	delta := cur - base
	if delta <= 0 {
		return Regression{}, false
	}

	var pct float64
	if base > 0 {
		pct = delta / base * 100
	}

	from := vitals.Rate(m, base)
	to := vitals.Rate(m, cur)
	worsened := to.Rank() > from.Rank()

	var severity Severity
	switch {
	case worsened && to == vitals.RatingPoor, pct > d.cfg.CriticalPercent:
		severity = SeverityCritical
	case worsened, pct > d.cfg.WarningPercent:
		severity = SeverityWarning
	default:
		return Regression{}, false
	}

	return Regression{
		Metric:        m,
		Baseline:      base,
		Current:       cur,
		Delta:         delta,
		ChangePercent: pct,
		From:          from,
		To:            to,
		Severity:      severity,
	}, true
}
