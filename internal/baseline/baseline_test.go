package baseline_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/vitalsd/internal/baseline"
	"codeberg.org/mutker/vitalsd/internal/logger"
	"codeberg.org/mutker/vitalsd/internal/vitals"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memPersister struct {
	mu    sync.Mutex
	saved map[string]vitals.Baseline
}

func newMemPersister() *memPersister {
	return &memPersister{saved: make(map[string]vitals.Baseline)}
}

func (p *memPersister) SaveBaseline(_ context.Context, b vitals.Baseline) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved[b.Route] = b
	return nil
}

func (p *memPersister) DeleteBaseline(_ context.Context, route string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.saved, route)
	return nil
}

func (p *memPersister) LoadBaselines(context.Context) ([]vitals.Baseline, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]vitals.Baseline, 0, len(p.saved))
	for _, b := range p.saved {
		out = append(out, b)
	}
	return out, nil
}

func newManager(t *testing.T, cfg baseline.Config, opts ...baseline.Option) (*baseline.Manager, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts = append(opts, baseline.WithClock(clock.Now))
	return baseline.New(cfg, logger.Nop(), opts...), clock
}

func sample() vitals.Snapshot {
	var s vitals.Snapshot
	s.Set(vitals.CLS, 0.07)
	s.Set(vitals.LCP, 2333.3)
	s.Set(vitals.FID, 77.7)
	s.Set(vitals.FCP, 1499.9)
	s.Set(vitals.TTFB, 611.1)
	s.Page.Route = "/zh/products"
	return s
}

func TestGetMissingRoute(t *testing.T) {
	m, _ := newManager(t, baseline.DefaultConfig())

	_, ok := m.Get("/never-seen")
	assert.False(t, ok)
}

func TestFirstUpdateCopiesSnapshot(t *testing.T) {
	m, clock := newManager(t, baseline.DefaultConfig())
	ctx := context.Background()

	b := m.Update(ctx, "/zh/products", sample())

	assert.Equal(t, 1, b.SampleCount)
	assert.Equal(t, clock.Now().UnixMilli(), b.UpdatedAt)
	assert.Equal(t, 2333.3, b.Metrics.LCP)
}

func TestUpdateIsIdempotentForIdenticalSnapshots(t *testing.T) {
	ctx := context.Background()
	s := sample()

	once, _ := newManager(t, baseline.DefaultConfig())
	once.Update(ctx, "/zh/products", s)
	single, ok := once.Get("/zh/products")
	require.True(t, ok)

	many, _ := newManager(t, baseline.DefaultConfig())
	for i := 0; i < 12; i++ {
		many.Update(ctx, "/zh/products", s)
	}
	repeated, ok := many.Get("/zh/products")
	require.True(t, ok)

	assert.Equal(t, single.Metrics, repeated.Metrics)
	assert.Equal(t, 12, repeated.SampleCount)
}

func TestUpdateAveragesWhileWarmingUp(t *testing.T) {
	m, _ := newManager(t, baseline.DefaultConfig())
	ctx := context.Background()

	m.Update(ctx, "/", vitals.Snapshot{LCP: 1000})
	m.Update(ctx, "/", vitals.Snapshot{LCP: 2000})
	b := m.Update(ctx, "/", vitals.Snapshot{LCP: 3000})

	assert.InDelta(t, 2000, b.Metrics.LCP, 1e-9)
}

func TestUpdateConvergesAfterWindow(t *testing.T) {
	cfg := baseline.DefaultConfig()
	cfg.Window = 5
	m, _ := newManager(t, cfg)
	ctx := context.Background()

	m.Update(ctx, "/", vitals.Snapshot{LCP: 1000})
	var b vitals.Baseline
	for i := 0; i < 200; i++ {
		b = m.Update(ctx, "/", vitals.Snapshot{LCP: 3000})
	}

	assert.InDelta(t, 3000, b.Metrics.LCP, 1e-6)
}

func TestUpdateKeepsUnobservedMetrics(t *testing.T) {
	m, _ := newManager(t, baseline.DefaultConfig())
	ctx := context.Background()

	m.Update(ctx, "/", sample())
	b := m.Update(ctx, "/", vitals.Snapshot{LCP: 2333.3})

	assert.Equal(t, 611.1, b.Metrics.TTFB)
	assert.Equal(t, 0.07, b.Metrics.CLS)
}

func TestGetReturnsCopy(t *testing.T) {
	m, _ := newManager(t, baseline.DefaultConfig())
	s := sample()
	s.ResourceTiming.SlowResources = []vitals.Resource{{Name: "hero.jpg", Duration: 700}}
	m.Update(context.Background(), "/", s)

	b, _ := m.Get("/")
	b.Metrics.LCP = 1
	b.Metrics.ResourceTiming.SlowResources[0].Name = "mutated"

	again, _ := m.Get("/")
	assert.Equal(t, 2333.3, again.Metrics.LCP)
	assert.Equal(t, "hero.jpg", again.Metrics.ResourceTiming.SlowResources[0].Name)
}

func TestSweepRemovesStaleBaselines(t *testing.T) {
	cfg := baseline.DefaultConfig()
	cfg.MaxAge = time.Hour
	persister := newMemPersister()
	m, clock := newManager(t, cfg, baseline.WithPersister(persister))
	ctx := context.Background()

	m.Update(ctx, "/old", sample())
	clock.Advance(2 * time.Hour)
	m.Update(ctx, "/fresh", sample())

	removed := m.Sweep(ctx, clock.Now())

	assert.Equal(t, 1, removed)
	_, ok := m.Get("/old")
	assert.False(t, ok)
	_, ok = m.Get("/fresh")
	assert.True(t, ok)
	assert.NotContains(t, persister.saved, "/old")
	assert.Contains(t, persister.saved, "/fresh")
}

func TestMaxRoutesEvictsLeastRecentlyUpdated(t *testing.T) {
	cfg := baseline.DefaultConfig()
	cfg.MaxRoutes = 3
	m, clock := newManager(t, cfg)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		m.Update(ctx, fmt.Sprintf("/page-%d", i), sample())
		clock.Advance(time.Minute)
	}

	assert.Equal(t, 3, m.Len())
	_, ok := m.Get("/page-0")
	assert.False(t, ok)
	_, ok = m.Get("/page-3")
	assert.True(t, ok)
}

func TestLoadFromPersister(t *testing.T) {
	persister := newMemPersister()
	ctx := context.Background()

	first, _ := newManager(t, baseline.DefaultConfig(), baseline.WithPersister(persister))
	first.Update(ctx, "/en/blog", sample())

	second, _ := newManager(t, baseline.DefaultConfig(), baseline.WithPersister(persister))
	require.NoError(t, second.Load(ctx))

	b, ok := second.Get("/en/blog")
	require.True(t, ok)
	assert.Equal(t, 1, b.SampleCount)
	assert.Len(t, second.List(), 1)
}

func TestLoadDropsOverflowFromPersister(t *testing.T) {
	persister := newMemPersister()
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		route := fmt.Sprintf("/page-%d", i)
		persister.saved[route] = vitals.Baseline{Route: route, SampleCount: 1, UpdatedAt: int64(i)}
	}

	cfg := baseline.DefaultConfig()
	cfg.MaxRoutes = 2
	m, _ := newManager(t, cfg, baseline.WithPersister(persister))
	var evicted []string
	m.OnEvict(func(route string) { evicted = append(evicted, route) })

	require.NoError(t, m.Load(ctx))

	assert.Equal(t, 2, m.Len())
	assert.ElementsMatch(t, []string{"/page-0", "/page-1"}, evicted)
	assert.Len(t, persister.saved, 2)
	assert.Contains(t, persister.saved, "/page-3")
}

func TestOnEvictReportsLRUAndSweep(t *testing.T) {
	cfg := baseline.DefaultConfig()
	cfg.MaxRoutes = 2
	cfg.MaxAge = time.Hour
	m, clock := newManager(t, cfg)
	ctx := context.Background()

	var evicted []string
	m.OnEvict(func(route string) { evicted = append(evicted, route) })

	m.Update(ctx, "/a", sample())
	clock.Advance(time.Minute)
	m.Update(ctx, "/b", sample())
	clock.Advance(time.Minute)
	m.Update(ctx, "/c", sample())
	assert.Equal(t, []string{"/a"}, evicted)

	clock.Advance(2 * time.Hour)
	m.Update(ctx, "/b", sample())
	m.Sweep(ctx, clock.Now())
	assert.Equal(t, []string{"/a", "/c"}, evicted)

	m.Clear()
	assert.Equal(t, []string{"/a", "/c"}, evicted, "Clear is not an eviction")
}

func TestClear(t *testing.T) {
	m, _ := newManager(t, baseline.DefaultConfig())
	m.Update(context.Background(), "/", sample())

	m.Clear()

	assert.Equal(t, 0, m.Len())
}

func TestSweeperLifecycle(t *testing.T) {
	m, _ := newManager(t, baseline.DefaultConfig())

	require.NoError(t, m.StartSweeper())
	require.NoError(t, m.StartSweeper())
	m.StopSweeper()
	m.StopSweeper()
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, baseline.DefaultConfig().Validate())

	cfg := baseline.DefaultConfig()
	cfg.SweepSchedule = "every now and then"
	assert.Error(t, cfg.Validate())

	cfg = baseline.DefaultConfig()
	cfg.Window = 0
	assert.Error(t, cfg.Validate())
}
