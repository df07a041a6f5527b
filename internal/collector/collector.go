// Package collector assembles per-route web vitals snapshots from
// measurements that arrive independently and in any order.
package collector

import (
	"sort"
	"sync"
	"time"

	"codeberg.org/mutker/vitalsd/internal/errors"
	"codeberg.org/mutker/vitalsd/internal/logger"
	"codeberg.org/mutker/vitalsd/internal/vitals"
)

// Recorder is notified of every accepted measurement.
type Recorder interface {
	MeasurementReceived(route string, metric vitals.Metric)
}

type routeState struct {
	snapshot vitals.Snapshot
	touched  uint64
	dirty    bool
}

type Collector struct {
	cfg      Config
	log      logger.Logger
	sources  []Source
	now      func() time.Time
	recorder Recorder

	mu     sync.Mutex
	active bool
	gen    uint64
	seq    uint64
	routes map[string]*routeState
	latest string
}

type Option func(*Collector)

func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		c.now = now
	}
}

func WithRecorder(r Recorder) Option {
	return func(c *Collector) {
		c.recorder = r
	}
}

func New(cfg Config, log logger.Logger, sources []Source, opts ...Option) *Collector {
	c := &Collector{
		cfg:     cfg,
		log:     log.With("collector"),
		sources: sources,
		now:     time.Now,
		routes:  make(map[string]*routeState),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start subscribes to every source. Sources that cannot observe anything
// are skipped. Calling Start on a running collector does nothing.
func (c *Collector) Start() error {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return nil
	}
	c.active = true
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	var failed []error
	subscribed := 0
	for _, src := range c.sources {
		err := src.Subscribe(func(m Measurement) { c.handle(gen, m) })
		switch {
		case err == nil:
			subscribed++
		case errors.HasCode(err, errors.ErrUnsupported):
			c.log.Debug().Err(err).Msg("Measurement source unsupported, skipping")
		default:
			c.log.Warn().Err(err).Msg("Failed to subscribe to measurement source")
			failed = append(failed, err)
		}
	}

	c.log.Debug().Int("sources", subscribed).Msg("Collector started")

	if subscribed == 0 && len(failed) > 0 {
		return errors.New().Wrap(errors.ErrInitFailed, errors.Join(failed...))
	}
	return nil
}

// Stop unsubscribes every source. Once it returns no measurement changes the
// collector state. It is safe to call on a collector that never started.
func (c *Collector) Stop() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	c.gen++
	c.mu.Unlock()

	for _, src := range c.sources {
		src.Stop()
	}

	c.log.Debug().Msg("Collector stopped")
}

func (c *Collector) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Collector) handle(gen uint64, m Measurement) {
	if m.Route == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active || gen != c.gen {
		return
	}

	st, ok := c.routes[m.Route]
	if !ok {
		// Context without a metric only annotates routes already measured,
		// so it can never push a measured route out.
		if m.Metric == "" {
			return
		}
		st = &routeState{}
		st.snapshot.Page.Route = m.Route
		c.routes[m.Route] = st
		c.evictLocked()
	}

	s := &st.snapshot
	if m.Metric != "" {
		s.Set(m.Metric, m.Value)
	}
	if m.Page.URL != "" {
		s.Page.URL = m.Page.URL
	}
	if m.Page.Locale != "" {
		s.Page.Locale = m.Page.Locale
	}
	if m.Device != nil {
		s.Device = *m.Device
	}
	if m.Connection != nil {
		s.Connection = *m.Connection
	}
	if m.Resources != nil {
		s.ResourceTiming = c.trimResources(*m.Resources)
	}
	ts := m.Timestamp
	if ts <= 0 {
		ts = c.now().UnixMilli()
	}
	s.Timestamp = max(s.Timestamp, ts)

	c.seq++
	st.touched = c.seq
	st.dirty = true
	c.latest = m.Route

	if c.recorder != nil {
		c.recorder.MeasurementReceived(m.Route, m.Metric)
	}
}

// DetailedMetrics returns the latest values known for route. Metrics not yet
// observed are zero.
func (c *Collector) DetailedMetrics(route string) vitals.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.routes[route]
	if !ok {
		return vitals.Snapshot{Page: vitals.Page{Route: route}}
	}
	return st.snapshot.Clone()
}

// LatestMetrics returns the snapshot of the most recently updated route.
func (c *Collector) LatestMetrics() vitals.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.routes[c.latest]
	if !ok {
		return vitals.Snapshot{}
	}
	return st.snapshot.Clone()
}

// Complete reports whether every core metric of route has been observed.
func (c *Collector) Complete(route string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.routes[route]
	return ok && st.snapshot.Complete()
}

// Drain returns copies of the snapshots updated since the previous drain,
// ordered by route. Incomplete snapshots are left pending unless
// includePartial is set. Unmeasured snapshots are never returned.
func (c *Collector) Drain(includePartial bool) []vitals.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := []vitals.Snapshot{}
	for _, st := range c.routes {
		if !st.dirty || !st.snapshot.Measured() {
			continue
		}
		if !includePartial && !st.snapshot.Complete() {
			continue
		}
		st.dirty = false
		out = append(out, st.snapshot.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Page.Route < out[j].Page.Route })

	return out
}

// Routes lists the tracked routes in order.
func (c *Collector) Routes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.routes))
	for route := range c.routes {
		out = append(out, route)
	}
	sort.Strings(out)
	return out
}

func (c *Collector) evictLocked() {
	for len(c.routes) > c.cfg.MaxRoutes {
		var (
			oldest string
			seq    uint64
			found  bool
		)
		for route, st := range c.routes {
			if st.touched == 0 {
				continue
			}
			if !found || st.touched < seq {
				oldest, seq, found = route, st.touched, true
			}
		}
		if !found {
			return
		}
		delete(c.routes, oldest)
		c.log.Debug().Str("route", oldest).Msg("Evicted least recently updated route")
	}
}

func (c *Collector) trimResources(rt vitals.ResourceTiming) vitals.ResourceTiming {
	res := append([]vitals.Resource(nil), rt.SlowResources...)
	sort.SliceStable(res, func(i, j int) bool { return res[i].Duration > res[j].Duration })
	if len(res) > c.cfg.MaxResources {
		res = res[:c.cfg.MaxResources]
	}
	return vitals.ResourceTiming{SlowResources: res, TotalSize: rt.TotalSize}
}
