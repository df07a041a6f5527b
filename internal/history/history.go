// Package history persists processed snapshots and route baselines in
// SQLite or PostgreSQL.
package history

import (
	"context"

	"codeberg.org/mutker/vitalsd/internal/errors"
	"codeberg.org/mutker/vitalsd/internal/logger"
	"codeberg.org/mutker/vitalsd/internal/vitals"
)

type service struct {
	repo Store
	cfg  Config
}

// No-op implementation
type noopStore struct{}

// NewService opens the configured store. When history is disabled it
// returns a store that keeps nothing.
func NewService(ctx context.Context, cfg Config, log logger.Logger) (Store, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	log = log.With("history")

	// If history is disabled, return a no-op store
	if !cfg.Enabled {
		log.Debug().Msg("History disabled, using no-op store")
		return Nop(), nil
	}

	repo, err := NewRepository(ctx, cfg, log)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to create history repository")
		return nil, err
	}

	return &service{
		repo: repo,
		cfg:  cfg,
	}, nil
}

func (s *service) Record(ctx context.Context, snapshot vitals.Snapshot, score float64) error {
	errFactory := errors.New()

	if snapshot.Page.Route == "" {
		return errFactory.WithMessage(ErrInvalidRecord, "snapshot has no route")
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		if err := s.repo.Record(ctx, snapshot, score); err != nil {
			return errFactory.Wrap(ErrRecordFailed, err)
		}
	}

	return nil
}

func (s *service) Recent(ctx context.Context, route string, limit int) ([]Entry, error) {
	return s.repo.Recent(ctx, route, limit)
}

func (s *service) SaveBaseline(ctx context.Context, b vitals.Baseline) error {
	return s.repo.SaveBaseline(ctx, b)
}

func (s *service) DeleteBaseline(ctx context.Context, route string) error {
	return s.repo.DeleteBaseline(ctx, route)
}

func (s *service) LoadBaselines(ctx context.Context) ([]vitals.Baseline, error) {
	return s.repo.LoadBaselines(ctx)
}

func (s *service) Close() error {
	errFactory := errors.New()

	if err := s.repo.Close(); err != nil {
		return errFactory.Wrap(ErrStorageClose, err)
	}
	return nil
}

// No-op implementation
// Nop returns a Store that keeps nothing.
func Nop() Store {
	return &noopStore{}
}

func (*noopStore) Record(context.Context, vitals.Snapshot, float64) error { return nil }

func (*noopStore) Recent(context.Context, string, int) ([]Entry, error) { return []Entry{}, nil }

func (*noopStore) SaveBaseline(context.Context, vitals.Baseline) error { return nil }

func (*noopStore) DeleteBaseline(context.Context, string) error { return nil }

func (*noopStore) LoadBaselines(context.Context) ([]vitals.Baseline, error) { return nil, nil }

func (*noopStore) Close() error { return nil }
