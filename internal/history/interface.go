package history

import (
	"context"

	"codeberg.org/mutker/vitalsd/internal/vitals"
)

// Store persists processed snapshots and route baselines.
type Store interface {
	// Record queues s for a batched write.
	Record(ctx context.Context, s vitals.Snapshot, score float64) error
	// Recent returns up to limit entries for route, most recent first.
	Recent(ctx context.Context, route string, limit int) ([]Entry, error)
	SaveBaseline(ctx context.Context, b vitals.Baseline) error
	DeleteBaseline(ctx context.Context, route string) error
	LoadBaselines(ctx context.Context) ([]vitals.Baseline, error)
	Close() error
}

// Entry is one stored snapshot with the score it was given.
type Entry struct {
	Snapshot vitals.Snapshot `json:"snapshot"`
	Score    float64         `json:"score"`
}
