package monitor_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/vitalsd/internal/alert"
	"codeberg.org/mutker/vitalsd/internal/analyzer"
	"codeberg.org/mutker/vitalsd/internal/baseline"
	"codeberg.org/mutker/vitalsd/internal/collector"
	"codeberg.org/mutker/vitalsd/internal/logger"
	"codeberg.org/mutker/vitalsd/internal/monitor"
	"codeberg.org/mutker/vitalsd/internal/regression"
	"codeberg.org/mutker/vitalsd/internal/telemetry"
	"codeberg.org/mutker/vitalsd/internal/vitals"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (*recordingSink) Name() string { return "recording" }

func (r *recordingSink) Deliver(_ context.Context, alerts []alert.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alerts...)
	return nil
}

func (r *recordingSink) snapshot() []alert.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]alert.Alert(nil), r.alerts...)
}

type fixture struct {
	source  *collector.FuncSource
	sink    *recordingSink
	manager *monitor.Manager
}

func newFixture(t *testing.T, cfg monitor.Config) *fixture {
	t.Helper()

	log := logger.Nop()
	source := &collector.FuncSource{}
	sink := &recordingSink{}
	alertCfg := alert.DefaultConfig()

	m := monitor.New(cfg, monitor.Deps{
		Collector:   collector.New(collector.DefaultConfig(), log, []collector.Source{source}),
		Analyzer:    analyzer.New(analyzer.DefaultConfig()),
		Baselines:   baseline.New(baseline.DefaultConfig(), log),
		Detector:    regression.New(regression.DefaultConfig()),
		Checker:     alert.NewChecker(),
		Sender:      alert.NewSender(alertCfg, sink, log),
		AlertConfig: alertCfg,
	}, log)
	t.Cleanup(m.Stop)

	return &fixture{source: source, sink: sink, manager: m}
}

func (f *fixture) emit(route string, s vitals.Snapshot) {
	for _, m := range vitals.CoreMetrics {
		if s.Has(m) {
			f.source.Emit(collector.Measurement{Route: route, Metric: m, Value: s.Value(m)})
		}
	}
}

func good() vitals.Snapshot {
	return vitals.Snapshot{CLS: 0.05, LCP: 2000, FID: 80, FCP: 1500, TTFB: 600}
}

func poor() vitals.Snapshot {
	return vitals.Snapshot{CLS: 0.3, LCP: 5000, FID: 400, FCP: 4000, TTFB: 2000}
}

func slowCfg() monitor.Config {
	cfg := monitor.DefaultConfig()
	cfg.Interval = time.Hour
	return cfg
}

func TestRunOnceBuildsBaselineWithoutAlerts(t *testing.T) {
	f := newFixture(t, slowCfg())
	ctx := context.Background()
	require.NoError(t, f.manager.Start(ctx))

	f.emit("/en", good())
	result := f.manager.RunOnce(ctx)

	assert.Equal(t, 1, result.Snapshots)
	assert.Equal(t, 0, result.Alerts)
	b, ok := f.manager.Baseline("/en")
	require.True(t, ok)
	assert.Equal(t, 1, b.SampleCount)

	st := f.manager.Status()
	assert.True(t, st.Active)
	assert.Equal(t, uint64(1), st.Runs)
	assert.Equal(t, 1, st.Baselines)
	assert.Equal(t, 1, st.Routes)
	assert.False(t, st.LastRun.IsZero())
}

func TestRunOnceRaisesMetricAndRegressionAlerts(t *testing.T) {
	f := newFixture(t, slowCfg())
	ctx := context.Background()
	require.NoError(t, f.manager.Start(ctx))

	f.emit("/en", good())
	f.manager.RunOnce(ctx)

	f.emit("/en", poor())
	result := f.manager.RunOnce(ctx)

	assert.Equal(t, 5, result.Regressions)
	alerts := f.sink.snapshot()
	require.NotEmpty(t, alerts)

	var regressionAlerts, metricAlerts int
	for _, a := range alerts {
		switch a.Type {
		case alert.TypeRegression:
			regressionAlerts++
			assert.Equal(t, alert.SeverityCritical, a.Severity)
			assert.Equal(t, "/en", a.Route)
		case alert.TypeMetric:
			metricAlerts++
		}
	}
	assert.Equal(t, 1, regressionAlerts)
	assert.Equal(t, 5, metricAlerts)
	assert.Equal(t, len(alerts), f.manager.Status().AlertCount)
	assert.Len(t, f.manager.Alerts(), len(alerts))
}

func TestRequireCompleteHoldsPartialSnapshots(t *testing.T) {
	f := newFixture(t, slowCfg())
	ctx := context.Background()
	require.NoError(t, f.manager.Start(ctx))

	f.source.Emit(collector.Measurement{Route: "/en", Metric: vitals.LCP, Value: 9000})
	assert.Equal(t, 0, f.manager.RunOnce(ctx).Snapshots)

	cfg := slowCfg()
	cfg.RequireComplete = false
	partial := newFixture(t, cfg)
	require.NoError(t, partial.manager.Start(ctx))
	partial.source.Emit(collector.Measurement{Route: "/en", Metric: vitals.LCP, Value: 9000})
	assert.Equal(t, 1, partial.manager.RunOnce(ctx).Snapshots)
}

func TestTrendNeedsTwoRuns(t *testing.T) {
	f := newFixture(t, slowCfg())
	ctx := context.Background()
	require.NoError(t, f.manager.Start(ctx))

	f.emit("/en", good())
	f.manager.RunOnce(ctx)
	_, ok := f.manager.Trend("/en")
	assert.False(t, ok)

	f.emit("/en", poor())
	f.manager.RunOnce(ctx)
	trend, ok := f.manager.Trend("/en")
	require.True(t, ok)
	assert.Equal(t, analyzer.Declining, trend.Trend)
}

func TestDiagnostics(t *testing.T) {
	f := newFixture(t, slowCfg())
	ctx := context.Background()

	report := f.manager.Diagnostics("/unknown")
	assert.False(t, report.Measured)

	require.NoError(t, f.manager.Start(ctx))
	f.emit("/en", poor())
	before := f.manager.Diagnostics("/en")
	assert.True(t, before.Measured, "collector values are used before the first run")

	f.manager.RunOnce(ctx)
	report = f.manager.Diagnostics("/en")
	assert.Equal(t, 0.0, report.Analysis.Score)
	assert.GreaterOrEqual(t, len(report.Analysis.Issues), 5)
}

func TestStartStopIdempotent(t *testing.T) {
	cfg := monitor.DefaultConfig()
	cfg.Interval = 10 * time.Millisecond
	f := newFixture(t, cfg)
	ctx := context.Background()

	f.manager.Stop()
	require.NoError(t, f.manager.Start(ctx))
	require.NoError(t, f.manager.Start(ctx))
	assert.True(t, f.manager.IsActive())

	f.emit("/en", good())
	require.Eventually(t, func() bool {
		_, ok := f.manager.Baseline("/en")
		return ok
	}, time.Second, 5*time.Millisecond)

	f.manager.Stop()
	f.manager.Stop()
	assert.False(t, f.manager.IsActive())

	runs := f.manager.Status().Runs
	f.emit("/de", good())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, runs, f.manager.Status().Runs)
	_, ok := f.manager.Baseline("/de")
	assert.False(t, ok)
}

func TestStartSurvivesCallerContextCancel(t *testing.T) {
	cfg := monitor.DefaultConfig()
	cfg.Interval = 10 * time.Millisecond
	f := newFixture(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.manager.Start(ctx))
	cancel()

	before := f.manager.Status().Runs
	require.Eventually(t, func() bool {
		return f.manager.Status().Runs > before
	}, time.Second, 5*time.Millisecond)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, monitor.DefaultConfig().Validate())

	cfg := monitor.DefaultConfig()
	cfg.Interval = time.Millisecond
	assert.Error(t, cfg.Validate())
}

func TestEvictedRoutesLeaveTelemetry(t *testing.T) {
	log := logger.Nop()
	reg := prometheus.NewRegistry()
	tel, err := telemetry.New(telemetry.DefaultConfig(), reg)
	require.NoError(t, err)

	collectorCfg := collector.DefaultConfig()
	collectorCfg.MaxRoutes = 2
	baselineCfg := baseline.DefaultConfig()
	baselineCfg.MaxRoutes = 2
	alertCfg := alert.DefaultConfig()
	source := &collector.FuncSource{}

	m := monitor.New(slowCfg(), monitor.Deps{
		Collector:   collector.New(collectorCfg, log, []collector.Source{source}, collector.WithRecorder(tel)),
		Analyzer:    analyzer.New(analyzer.DefaultConfig()),
		Baselines:   baseline.New(baselineCfg, log),
		Detector:    regression.New(regression.DefaultConfig()),
		Checker:     alert.NewChecker(),
		Sender:      alert.NewSender(alertCfg, &recordingSink{}, log),
		AlertConfig: alertCfg,
		Telemetry:   tel,
	}, log)
	t.Cleanup(m.Stop)

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))

	f := &fixture{source: source, manager: m}
	for i := 0; i < 50; i++ {
		route := fmt.Sprintf("/page-%d", i)
		f.emit(route, good())
		require.Equal(t, 1, m.RunOnce(ctx).Snapshots)
	}

	scores, err := testutil.GatherAndCount(reg, "vitalsd_performance_score")
	require.NoError(t, err)
	assert.Equal(t, 2, scores)

	snapshots, err := testutil.GatherAndCount(reg, "vitalsd_snapshots_total")
	require.NoError(t, err)
	assert.Equal(t, 2, snapshots)

	values, err := testutil.GatherAndCount(reg, "vitalsd_web_vital")
	require.NoError(t, err)
	assert.Equal(t, 2*5, values)

	assert.Equal(t, 2, m.Status().Baselines)
	_, ok := m.Trend("/page-0")
	assert.False(t, ok)
	assert.False(t, m.Diagnostics("/page-0").Measured, "evicted routes keep no processed state")
}

type blockingSink struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (*blockingSink) Name() string { return "blocking" }

func (b *blockingSink) Deliver(context.Context, []alert.Alert) error {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return nil
}

func TestStopWaitsForRunInFlight(t *testing.T) {
	log := logger.Nop()
	sink := &blockingSink{entered: make(chan struct{}), release: make(chan struct{})}
	alertCfg := alert.DefaultConfig()
	source := &collector.FuncSource{}

	m := monitor.New(slowCfg(), monitor.Deps{
		Collector:   collector.New(collector.DefaultConfig(), log, []collector.Source{source}),
		Analyzer:    analyzer.New(analyzer.DefaultConfig()),
		Baselines:   baseline.New(baseline.DefaultConfig(), log),
		Detector:    regression.New(regression.DefaultConfig()),
		Checker:     alert.NewChecker(),
		Sender:      alert.NewSender(alertCfg, sink, log),
		AlertConfig: alertCfg,
	}, log)

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	f := &fixture{source: source, manager: m}
	f.emit("/en", poor())

	go m.RunOnce(ctx)
	<-sink.entered

	stopped := make(chan struct{})
	go func() {
		m.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a run was still dispatching")
	case <-time.After(50 * time.Millisecond):
	}

	close(sink.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the run finished")
	}
	assert.False(t, m.IsActive())
}

func TestHistoryDefaultsToNop(t *testing.T) {
	f := newFixture(t, slowCfg())
	ctx := context.Background()
	require.NoError(t, f.manager.Start(ctx))

	f.emit("/en", good())
	f.manager.RunOnce(ctx)

	entries, err := f.manager.History(ctx, "/en", 5)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
