// Package monitor runs the pipeline on a fixed cadence: drained snapshots
// are scored, persisted, compared with their baseline and turned into
// alerts.
package monitor

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/vitalsd/internal/alert"
	"codeberg.org/mutker/vitalsd/internal/analyzer"
	"codeberg.org/mutker/vitalsd/internal/baseline"
	"codeberg.org/mutker/vitalsd/internal/collector"
	"codeberg.org/mutker/vitalsd/internal/history"
	"codeberg.org/mutker/vitalsd/internal/logger"
	"codeberg.org/mutker/vitalsd/internal/regression"
	"codeberg.org/mutker/vitalsd/internal/telemetry"
	"codeberg.org/mutker/vitalsd/internal/vitals"
)

// Deps are the components the manager ties together. Telemetry may be nil.
type Deps struct {
	Collector   *collector.Collector
	Analyzer    *analyzer.Analyzer
	Baselines   *baseline.Manager
	Detector    *regression.Detector
	Checker     *alert.Checker
	Sender      *alert.Sender
	AlertConfig alert.Config
	History     history.Store
	Telemetry   *telemetry.Telemetry
}

// Status is the aggregate state shown by dev tools.
type Status struct {
	Active     bool      `json:"active"`
	LastRun    time.Time `json:"last_run"`
	Runs       uint64    `json:"runs"`
	AlertCount int       `json:"alert_count"`
	Routes     int       `json:"routes"`
	Baselines  int       `json:"baselines"`
}

// RunResult summarizes one run.
type RunResult struct {
	Snapshots   int `json:"snapshots"`
	Regressions int `json:"regressions"`
	Alerts      int `json:"alerts"`
}

type processed struct {
	latest   vitals.Snapshot
	previous vitals.Snapshot
	hasPrev  bool
}

type Manager struct {
	cfg  Config
	deps Deps
	log  logger.Logger
	now  func() time.Time

	// runMu serializes runs so merges for a route never interleave.
	runMu sync.Mutex

	mu      sync.Mutex
	active  bool
	cancel  context.CancelFunc
	done    chan struct{}
	lastRun time.Time
	runs    uint64
	routes  map[string]*processed
}

func New(cfg Config, deps Deps, log logger.Logger) *Manager {
	if deps.History == nil {
		deps.History = history.Nop()
	}
	m := &Manager{
		cfg:    cfg,
		deps:   deps,
		log:    log.With("monitor"),
		now:    time.Now,
		routes: make(map[string]*processed),
	}
	deps.Baselines.OnEvict(m.forget)
	return m
}

// forget drops the per-route state and series of a route whose baseline
// was evicted, keeping both bounded by the baseline cap.
func (m *Manager) forget(route string) {
	m.mu.Lock()
	delete(m.routes, route)
	m.mu.Unlock()

	m.deps.Telemetry.ForgetRoute(route)
}

// Start begins collection and the run loop. It does nothing when the
// manager already runs. The loop outlives ctx cancellation only through
// Stop, so Start is safe to call from request handlers.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active {
		return nil
	}

	if err := m.deps.Collector.Start(); err != nil {
		return err
	}
	if err := m.deps.Baselines.StartSweeper(); err != nil {
		m.deps.Collector.Stop()
		return err
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.active = true

	go m.loop(loopCtx, done)

	m.log.Info().Dur("interval", m.cfg.Interval).Bool("require_complete", m.cfg.RequireComplete).Msg("Monitoring started")

	return nil
}

// Stop halts the loop, the collector and the baseline sweep. It waits for
// any run in flight, including one started through RunOnce, so no run
// changes state after Stop returns. It is safe to call at any time.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	m.active = false
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	m.deps.Collector.Stop()
	cancel()
	<-done
	m.deps.Baselines.StopSweeper()

	// Wait out a RunOnce in flight.
	m.runMu.Lock()
	m.runMu.Unlock() //nolint:staticcheck

	m.log.Info().Msg("Monitoring stopped")
}

func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *Manager) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce processes every snapshot the collector has ready. Incomplete
// snapshots are included unless RequireComplete is set.
func (m *Manager) RunOnce(ctx context.Context) RunResult {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	start := m.now()
	snapshots := m.deps.Collector.Drain(!m.cfg.RequireComplete)

	var result RunResult
	for _, s := range snapshots {
		regressions, alerts := m.process(ctx, s)
		result.Snapshots++
		result.Regressions += regressions
		result.Alerts += alerts
	}

	m.mu.Lock()
	m.lastRun = m.now()
	m.runs++
	m.mu.Unlock()

	m.deps.Telemetry.ObserveRun(m.now().Sub(start))

	if result.Snapshots > 0 {
		m.log.Debug().
			Int("snapshots", result.Snapshots).
			Int("regressions", result.Regressions).
			Int("alerts", result.Alerts).
			Msg("Monitor run completed")
	}

	return result
}

func (m *Manager) process(ctx context.Context, s vitals.Snapshot) (int, int) {
	route := s.Page.Route
	score := m.deps.Analyzer.CalculatePerformanceScore(s)

	if err := m.deps.History.Record(ctx, s, score); err != nil {
		m.log.Warn().Err(err).Str("route", route).Msg("Failed to record snapshot history")
	}
	m.deps.Telemetry.ObserveSnapshot(s, score)

	alerts := m.deps.Checker.CheckMetrics(s, m.deps.AlertConfig)

	regressions := 0
	if base, ok := m.deps.Baselines.Get(route); ok {
		result := m.deps.Detector.Detect(s, base)
		regressions = result.Summary.TotalRegressions
		m.deps.Telemetry.ObserveRegressions(result)
		if m.deps.AlertConfig.Enabled {
			alerts = m.deps.Checker.CheckRegressionAlerts(result, alerts)
		}
	}

	m.deps.Baselines.Update(ctx, route, s)

	m.mu.Lock()
	p, ok := m.routes[route]
	if !ok {
		p = &processed{}
		m.routes[route] = p
	} else {
		p.previous, p.hasPrev = p.latest, true
	}
	p.latest = s.Clone()
	m.mu.Unlock()

	sent := m.deps.Sender.Send(ctx, alerts)

	return regressions, len(sent)
}

// Status returns the current aggregate state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	st := Status{
		Active:  m.active,
		LastRun: m.lastRun,
		Runs:    m.runs,
	}
	m.mu.Unlock()

	st.AlertCount = m.deps.Sender.Count()
	st.Routes = len(m.deps.Collector.Routes())
	st.Baselines = m.deps.Baselines.Len()

	return st
}

// Diagnostics analyzes the last processed snapshot of route, falling back
// to what the collector holds for it.
func (m *Manager) Diagnostics(route string) analyzer.DiagnosticReport {
	m.mu.Lock()
	p, ok := m.routes[route]
	var s vitals.Snapshot
	if ok {
		s = p.latest.Clone()
	}
	m.mu.Unlock()

	if !ok {
		s = m.deps.Collector.DetailedMetrics(route)
	}
	return m.deps.Analyzer.GenerateDiagnosticReport(s)
}

// Trend compares the last two processed snapshots of route. It reports
// false until two snapshots were processed.
func (m *Manager) Trend(route string) (analyzer.Trend, bool) {
	m.mu.Lock()
	p, ok := m.routes[route]
	if !ok || !p.hasPrev {
		m.mu.Unlock()
		return analyzer.Trend{}, false
	}
	current, previous := p.latest.Clone(), p.previous.Clone()
	m.mu.Unlock()

	return m.deps.Analyzer.AnalyzePerformanceTrend(current, previous), true
}

// Alerts returns the retained alert history, oldest first.
func (m *Manager) Alerts() []alert.Alert {
	return m.deps.Sender.History()
}

// Baselines returns every baseline ordered by route.
func (m *Manager) Baselines() []vitals.Baseline {
	return m.deps.Baselines.List()
}

// Baseline returns the baseline of route.
func (m *Manager) Baseline(route string) (vitals.Baseline, bool) {
	return m.deps.Baselines.Get(route)
}

// History returns up to limit stored snapshots of route, most recent first.
func (m *Manager) History(ctx context.Context, route string, limit int) ([]history.Entry, error) {
	return m.deps.History.Recent(ctx, route, limit)
}
