// Package telemetry exposes pipeline metrics to Prometheus.
//
// Metric naming follows Prometheus conventions: every metric carries the
// configured namespace, counters end in _total and durations in _seconds.
package telemetry

import (
	"net/http"
	"time"

	"codeberg.org/mutker/vitalsd/internal/alert"
	"codeberg.org/mutker/vitalsd/internal/errors"
	"codeberg.org/mutker/vitalsd/internal/regression"
	"codeberg.org/mutker/vitalsd/internal/vitals"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Telemetry is safe for concurrent use. A nil *Telemetry records nothing.
type Telemetry struct {
	gatherer prometheus.Gatherer

	vitals            *prometheus.GaugeVec
	score             *prometheus.GaugeVec
	measurementsTotal *prometheus.CounterVec
	snapshotsTotal    *prometheus.CounterVec
	regressionsTotal  *prometheus.CounterVec
	alertsTotal       *prometheus.CounterVec
	suppressedTotal   *prometheus.CounterVec
	sinkFailuresTotal *prometheus.CounterVec
	runDuration       prometheus.Histogram
}

// New registers every collector with reg. A nil reg uses a fresh registry.
func New(cfg Config, reg *prometheus.Registry) (*Telemetry, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	ns := cfg.Namespace
	t := &Telemetry{
		gatherer: reg,
		vitals: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "web_vital",
			Help:      "Latest processed web vital value by route and metric (ms, CLS unitless).",
		}, []string{"route", "metric"}),
		score: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "performance_score",
			Help:      "Latest performance score (0-100) by route.",
		}, []string{"route"}),
		measurementsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "measurements_total",
			Help:      "Total measurements accepted by the collector.",
		}, []string{"metric"}),
		snapshotsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "snapshots_total",
			Help:      "Total snapshots processed by the monitor.",
		}, []string{"route"}),
		regressionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "regressions_total",
			Help:      "Total regressions detected by metric and severity.",
		}, []string{"metric", "severity"}),
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "alerts_total",
			Help:      "Total alerts dispatched by type and severity.",
		}, []string{"type", "severity"}),
		suppressedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "alerts_suppressed_total",
			Help:      "Total alerts suppressed by the cooldown.",
		}, []string{"type", "severity"}),
		sinkFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "sink_failures_total",
			Help:      "Total failed alert deliveries by sink.",
		}, []string{"sink"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "monitor_run_duration_seconds",
			Help:      "Duration of monitor runs in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}

	for _, c := range []prometheus.Collector{
		t.vitals, t.score, t.measurementsTotal, t.snapshotsTotal, t.regressionsTotal,
		t.alertsTotal, t.suppressedTotal, t.sinkFailuresTotal, t.runDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, errors.New().Wrap(ErrRegister, err)
		}
	}

	return t, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (t *Telemetry) Handler() http.Handler {
	if t == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(t.gatherer, promhttp.HandlerOpts{})
}

// ObserveSnapshot records every measured metric of s and its score.
func (t *Telemetry) ObserveSnapshot(s vitals.Snapshot, score float64) {
	if t == nil {
		return
	}
	route := s.Page.Route
	for _, m := range vitals.CoreMetrics {
		if s.Has(m) {
			t.vitals.WithLabelValues(route, string(m)).Set(s.Value(m))
		}
	}
	t.score.WithLabelValues(route).Set(score)
	t.snapshotsTotal.WithLabelValues(route).Inc()
}

// ObserveRegressions counts each regression of r.
func (t *Telemetry) ObserveRegressions(r regression.Result) {
	if t == nil {
		return
	}
	for _, reg := range r.Regressions {
		t.regressionsTotal.WithLabelValues(string(reg.Metric), string(reg.Severity)).Inc()
	}
}

// ObserveRun records the duration of one monitor run.
func (t *Telemetry) ObserveRun(d time.Duration) {
	if t == nil {
		return
	}
	t.runDuration.Observe(d.Seconds())
}

// ForgetRoute drops the per-route series of route.
func (t *Telemetry) ForgetRoute(route string) {
	if t == nil {
		return
	}
	t.score.DeleteLabelValues(route)
	t.snapshotsTotal.DeleteLabelValues(route)
	t.vitals.DeletePartialMatch(prometheus.Labels{"route": route})
}

func (t *Telemetry) MeasurementReceived(_ string, metric vitals.Metric) {
	if t == nil || metric == "" {
		return
	}
	t.measurementsTotal.WithLabelValues(string(metric)).Inc()
}

func (t *Telemetry) AlertDispatched(a alert.Alert) {
	if t == nil {
		return
	}
	t.alertsTotal.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
}

func (t *Telemetry) AlertSuppressed(a alert.Alert) {
	if t == nil {
		return
	}
	t.suppressedTotal.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
}

func (t *Telemetry) SinkFailed(sink string) {
	if t == nil {
		return
	}
	t.sinkFailuresTotal.WithLabelValues(sink).Inc()
}
