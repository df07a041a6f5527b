package collector

import (
	"strings"
	"sync"

	"codeberg.org/mutker/vitalsd/internal/errors"
	"codeberg.org/mutker/vitalsd/internal/vitals"
)

// BeaconMetric is one entry reported by the web-vitals browser library.
type BeaconMetric struct {
	Name  string  `json:"name" binding:"required"`
	Value float64 `json:"value"`
}

// BeaconResource is one resource-timing entry.
type BeaconResource struct {
	Name         string  `json:"name"`
	Duration     float64 `json:"duration"`
	TransferSize int64   `json:"transferSize"`
}

// Beacon is the JSON body browsers post to the collection endpoint.
type Beacon struct {
	Route      string             `json:"route" binding:"required"`
	URL        string             `json:"url"`
	Locale     string             `json:"locale"`
	Timestamp  int64              `json:"timestamp"`
	Metrics    []BeaconMetric     `json:"metrics"`
	Resources  []BeaconResource   `json:"resources"`
	Device     *vitals.Device     `json:"device"`
	Connection *vitals.Connection `json:"connection"`
}

// Measurements converts b into collector measurements. Unknown metric names
// are ignored. Negative or non-finite values reject the whole beacon, and so
// does a beacon that carries nothing besides its route.
func (b Beacon) Measurements() ([]Measurement, error) {
	errFactory := errors.New()

	route := normalizeRoute(b.Route)
	if route == "" {
		return nil, errFactory.WithMessage(errors.ErrInvalidSnapshot, "beacon route is empty")
	}

	s := vitals.Snapshot{Timestamp: b.Timestamp}
	metrics := make([]vitals.Metric, 0, len(b.Metrics))
	for _, bm := range b.Metrics {
		m, ok := vitals.ParseMetric(bm.Name)
		if !ok {
			continue
		}
		s.Set(m, bm.Value)
		metrics = append(metrics, m)
	}

	var rt *vitals.ResourceTiming
	if len(b.Resources) > 0 {
		rt = &vitals.ResourceTiming{SlowResources: make([]vitals.Resource, 0, len(b.Resources))}
		for _, r := range b.Resources {
			rt.SlowResources = append(rt.SlowResources, vitals.Resource{
				Name:         r.Name,
				Duration:     r.Duration,
				TransferSize: r.TransferSize,
			})
			rt.TotalSize += r.TransferSize
		}
		s.ResourceTiming = *rt
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	if len(metrics) == 0 && rt == nil && b.Device == nil && b.Connection == nil {
		return nil, errFactory.WithMessage(errors.ErrInvalidSnapshot, "beacon carries no measurements")
	}

	page := vitals.Page{URL: b.URL, Route: route, Locale: b.Locale}
	out := make([]Measurement, 0, len(metrics)+1)
	for _, m := range metrics {
		out = append(out, Measurement{
			Route:     route,
			Metric:    m,
			Value:     s.Value(m),
			Page:      page,
			Timestamp: b.Timestamp,
		})
	}
	if rt != nil || b.Device != nil || b.Connection != nil {
		out = append(out, Measurement{
			Route:      route,
			Page:       page,
			Resources:  rt,
			Device:     b.Device,
			Connection: b.Connection,
			Timestamp:  b.Timestamp,
		})
	}

	return out, nil
}

// BeaconSource is the Source fed by the HTTP beacon endpoint.
type BeaconSource struct {
	mu      sync.Mutex
	handler func(Measurement)
}

func NewBeaconSource() *BeaconSource {
	return &BeaconSource{}
}

func (s *BeaconSource) Subscribe(handler func(Measurement)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
	return nil
}

func (s *BeaconSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = nil
}

// Publish validates b and hands its measurements to the collector. It fails
// with ErrUnavailable when the collector is not running.
func (s *BeaconSource) Publish(b Beacon) (int, error) {
	measurements, err := b.Measurements()
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handler == nil {
		return 0, errors.New().WithMessage(errors.ErrUnavailable, "collector is not running")
	}
	for _, m := range measurements {
		s.handler(m)
	}

	return len(measurements), nil
}

// normalizeRoute strips the query string and fragment and any trailing slash.
func normalizeRoute(route string) string {
	route = strings.TrimSpace(route)
	if i := strings.IndexAny(route, "?#"); i >= 0 {
		route = route[:i]
	}
	if len(route) > 1 {
		route = strings.TrimRight(route, "/")
	}
	if route != "" && !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	return route
}
