package vitals

import "time"

// Baseline is the rolling reference snapshot of a route.
type Baseline struct {
	Route       string   `json:"route"`
	Metrics     Snapshot `json:"metrics"`
	SampleCount int      `json:"sample_count"`
	UpdatedAt   int64    `json:"updated_at"`
}

// Updated returns UpdatedAt as a time.
func (b Baseline) Updated() time.Time {
	return time.UnixMilli(b.UpdatedAt)
}

// Clone returns a deep copy.
func (b Baseline) Clone() Baseline {
	c := b
	c.Metrics = b.Metrics.Clone()
	return c
}
