// Package baseline keeps one rolling reference snapshot per route.
package baseline

import (
	"context"
	"sort"
	"sync"
	"time"

	"codeberg.org/mutker/vitalsd/internal/logger"
	"codeberg.org/mutker/vitalsd/internal/vitals"
	"github.com/robfig/cron/v3"
)

// Persister stores baselines outside the process.
type Persister interface {
	SaveBaseline(ctx context.Context, b vitals.Baseline) error
	DeleteBaseline(ctx context.Context, route string) error
	LoadBaselines(ctx context.Context) ([]vitals.Baseline, error)
}

type Manager struct {
	cfg       Config
	log       logger.Logger
	persister Persister
	now       func() time.Time

	mu         sync.Mutex
	baselines  map[string]vitals.Baseline
	sweeper    *cron.Cron
	evictHooks []func(route string)
}

type Option func(*Manager)

// WithPersister mirrors every merge and eviction into p.
func WithPersister(p Persister) Option {
	return func(m *Manager) {
		m.persister = p
	}
}

// WithClock overrides the wall clock used for UpdatedAt and sweeps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func New(cfg Config, log logger.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:       cfg,
		log:       log.With("baseline"),
		now:       time.Now,
		baselines: make(map[string]vitals.Baseline),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load replaces the in-memory baselines with the persisted ones.
func (m *Manager) Load(ctx context.Context) error {
	if m.persister == nil {
		return nil
	}

	loaded, err := m.persister.LoadBaselines(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.baselines = make(map[string]vitals.Baseline, len(loaded))
	for _, b := range loaded {
		m.baselines[b.Route] = b.Clone()
	}
	evicted := m.evictOverflowLocked("")
	count := len(m.baselines)
	m.mu.Unlock()

	m.persist(ctx, vitals.Baseline{}, evicted)

	m.log.Info().Int("baselines", count).Int("evicted", len(evicted)).Msg("Baselines loaded")

	return nil
}

// OnEvict registers fn to be called with every route that leaves the
// baseline map through eviction or a sweep. Clear does not call it.
func (m *Manager) OnEvict(fn func(route string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictHooks = append(m.evictHooks, fn)
}

// Update merges s into the baseline of route and returns the merged copy.
// The first snapshot of a route becomes its baseline as is.
func (m *Manager) Update(ctx context.Context, route string, s vitals.Snapshot) vitals.Baseline {
	m.mu.Lock()
	b, exists := m.baselines[route]
	if !exists {
		b = vitals.Baseline{Route: route, Metrics: s.Clone()}
		b.Metrics.Page.Route = route
	} else {
		merge(&b.Metrics, s, min(b.SampleCount+1, m.cfg.Window))
	}
	b.SampleCount++
	b.UpdatedAt = m.now().UnixMilli()
	m.baselines[route] = b
	evicted := m.evictOverflowLocked(route)
	out := b.Clone()
	m.mu.Unlock()

	m.persist(ctx, out, evicted)

	return out
}

// Get returns a copy of the baseline of route. A missing baseline is a
// normal state for routes that have not been seen yet.
func (m *Manager) Get(route string) (vitals.Baseline, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.baselines[route]
	if !ok {
		return vitals.Baseline{}, false
	}
	return b.Clone(), true
}

// List returns copies of every baseline ordered by route.
func (m *Manager) List() []vitals.Baseline {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]vitals.Baseline, 0, len(m.baselines))
	for _, b := range m.baselines {
		out = append(out, b.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Route < out[j].Route })
	return out
}

// Len returns the number of tracked routes.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.baselines)
}

// Sweep purges baselines not updated within MaxAge of now and returns the
// number removed.
func (m *Manager) Sweep(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-m.cfg.MaxAge)

	m.mu.Lock()
	var stale []string
	for route, b := range m.baselines {
		if b.Updated().Before(cutoff) {
			stale = append(stale, route)
			delete(m.baselines, route)
		}
	}
	m.mu.Unlock()

	m.persist(ctx, vitals.Baseline{}, stale)
	if len(stale) > 0 {
		m.log.Debug().Int("removed", len(stale)).Msg("Swept stale baselines")
	}

	return len(stale)
}

// Clear drops every in-memory baseline. Persisted copies are kept.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baselines = make(map[string]vitals.Baseline)
}

// StartSweeper schedules Sweep on the configured cron expression. It is a
// no-op when the sweeper already runs.
func (m *Manager) StartSweeper() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sweeper != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(m.cfg.SweepSchedule, func() {
		m.Sweep(context.Background(), m.now())
	}); err != nil {
		return err
	}
	c.Start()
	m.sweeper = c

	return nil
}

// StopSweeper stops the scheduled sweep and waits for a running one.
func (m *Manager) StopSweeper() {
	m.mu.Lock()
	c := m.sweeper
	m.sweeper = nil
	m.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

// evictOverflowLocked drops the least recently updated routes beyond
// MaxRoutes, never evicting keep.
func (m *Manager) evictOverflowLocked(keep string) []string {
	overflow := len(m.baselines) - m.cfg.MaxRoutes
	if overflow <= 0 {
		return nil
	}

	routes := make([]vitals.Baseline, 0, len(m.baselines))
	for _, b := range m.baselines {
		if b.Route != keep {
			routes = append(routes, b)
		}
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].UpdatedAt == routes[j].UpdatedAt {
			return routes[i].Route < routes[j].Route
		}
		return routes[i].UpdatedAt < routes[j].UpdatedAt
	})

	overflow = min(overflow, len(routes))
	evicted := make([]string, 0, overflow)
	for _, b := range routes[:overflow] {
		delete(m.baselines, b.Route)
		evicted = append(evicted, b.Route)
	}
	return evicted
}

// persist mirrors saved and deleted into the persister and reports deleted
// routes to the eviction hooks. It must be called without m.mu held.
func (m *Manager) persist(ctx context.Context, saved vitals.Baseline, deleted []string) {
	if len(deleted) > 0 {
		m.mu.Lock()
		hooks := append(([]func(string))(nil), m.evictHooks...)
		m.mu.Unlock()
		for _, route := range deleted {
			for _, hook := range hooks {
				hook(route)
			}
		}
	}

	if m.persister == nil {
		return
	}

	if saved.Route != "" {
		if err := m.persister.SaveBaseline(ctx, saved); err != nil {
			m.log.Warn().Err(err).Str("route", saved.Route).Msg("Failed to persist baseline")
		}
	}
	for _, route := range deleted {
		if err := m.persister.DeleteBaseline(ctx, route); err != nil {
			m.log.Warn().Err(err).Str("route", route).Msg("Failed to delete persisted baseline")
		}
	}
}

// merge moves every observed metric of s towards b by 1/n. The update is
// written as b + (s-b)/n so identical samples leave b bit-for-bit unchanged.
func merge(b *vitals.Snapshot, s vitals.Snapshot, n int) {
	for _, metric := range vitals.CoreMetrics {
		if !s.Has(metric) {
			continue
		}
		cur := s.Value(metric)
		if !b.Has(metric) {
			b.Set(metric, cur)
			continue
		}
		prev := b.Value(metric)
		b.Set(metric, prev+(cur-prev)/float64(n))
	}

	if s.ResourceTiming.TotalSize > 0 {
		prev := b.ResourceTiming.TotalSize
		b.ResourceTiming.TotalSize = prev + (s.ResourceTiming.TotalSize-prev)/int64(n)
	}
	if s.ResourceTiming.SlowResources != nil {
		b.ResourceTiming.SlowResources = append([]vitals.Resource(nil), s.ResourceTiming.SlowResources...)
	}
	b.Device = s.Device
	b.Connection = s.Connection
	if s.Page.URL != "" {
		b.Page.URL = s.Page.URL
	}
	b.Timestamp = s.Timestamp
}
