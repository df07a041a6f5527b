package vitals

import (
	"math"

	"codeberg.org/mutker/vitalsd/internal/errors"
)

// Resource is one resource-timing entry.
type Resource struct {
	Name         string  `json:"name"`
	Duration     float64 `json:"duration"`
	TransferSize int64   `json:"transfer_size,omitempty"`
}

// ResourceTiming summarizes the resource-timing entries of a page view.
type ResourceTiming struct {
	SlowResources []Resource `json:"slow_resources"`
	TotalSize     int64      `json:"total_size"`
}

// Device describes the reporting viewport.
type Device struct {
	ViewportWidth  int    `json:"viewport_width,omitempty"`
	ViewportHeight int    `json:"viewport_height,omitempty"`
	UserAgent      string `json:"user_agent,omitempty"`
}

// Connection describes the network information reported by the browser.
type Connection struct {
	EffectiveType string  `json:"effective_type,omitempty"`
	RTT           float64 `json:"rtt,omitempty"`
	Downlink      float64 `json:"downlink,omitempty"`
}

// Page identifies where the measurement was taken.
type Page struct {
	URL    string `json:"url,omitempty"`
	Route  string `json:"route"`
	Locale string `json:"locale,omitempty"`
}

// Snapshot is one point-in-time bundle of web vitals for a route.
// Metrics that were never reported hold zero.
type Snapshot struct {
	CLS            float64        `json:"cls"`
	LCP            float64        `json:"lcp"`
	FID            float64        `json:"fid"`
	INP            float64        `json:"inp"`
	FCP            float64        `json:"fcp"`
	TTFB           float64        `json:"ttfb"`
	ResourceTiming ResourceTiming `json:"resource_timing"`
	Device         Device         `json:"device"`
	Connection     Connection     `json:"connection"`
	Page           Page           `json:"page"`
	Timestamp      int64          `json:"timestamp"`
	Observed       uint8          `json:"observed"`
}

// Value returns the value of metric m.
func (s Snapshot) Value(m Metric) float64 {
	switch m {
	case CLS:
		return s.CLS
	case LCP:
		return s.LCP
	case FID:
		return s.FID
	case INP:
		return s.INP
	case FCP:
		return s.FCP
	case TTFB:
		return s.TTFB
	default:
		return 0
	}
}

// Set stores v for metric m and marks it observed.
func (s *Snapshot) Set(m Metric, v float64) {
	switch m {
	case CLS:
		s.CLS = v
	case LCP:
		s.LCP = v
	case FID:
		s.FID = v
	case INP:
		s.INP = v
	case FCP:
		s.FCP = v
	case TTFB:
		s.TTFB = v
	default:
		return
	}
	s.Observed |= m.bit()
}

// Has reports whether metric m carries a measurement. Snapshots built
// without the Observed mask fall back to treating non-zero values as
// measured.
func (s Snapshot) Has(m Metric) bool {
	if s.Observed&m.bit() != 0 {
		return true
	}
	return s.Value(m) > 0
}

// Measured reports whether at least one core metric is present.
func (s Snapshot) Measured() bool {
	for _, m := range CoreMetrics {
		if s.Has(m) {
			return true
		}
	}
	return false
}

// Complete reports whether CLS, LCP, FCP, TTFB and one of FID or INP are present.
func (s Snapshot) Complete() bool {
	return s.Has(CLS) && s.Has(LCP) && s.Has(FCP) && s.Has(TTFB) &&
		(s.Has(FID) || s.Has(INP))
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	c := s
	if s.ResourceTiming.SlowResources != nil {
		c.ResourceTiming.SlowResources = append([]Resource(nil), s.ResourceTiming.SlowResources...)
	}
	return c
}

// Validate rejects negative or non-finite values.
func (s Snapshot) Validate() error {
	errFactory := errors.New()

	for _, m := range CoreMetrics {
		v := s.Value(m)
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return errFactory.WithData(errors.ErrInvalidSnapshot, struct {
				Metric Metric
				Value  float64
			}{m, v})
		}
	}
	if s.ResourceTiming.TotalSize < 0 {
		return errFactory.WithData(errors.ErrInvalidSnapshot, "negative total_size")
	}
	for _, r := range s.ResourceTiming.SlowResources {
		if r.Duration < 0 || math.IsNaN(r.Duration) || math.IsInf(r.Duration, 0) || r.TransferSize < 0 {
			return errFactory.WithData(errors.ErrInvalidSnapshot, "invalid resource: "+r.Name)
		}
	}
	if s.Timestamp < 0 {
		return errFactory.WithData(errors.ErrInvalidSnapshot, "negative timestamp")
	}

	return nil
}
