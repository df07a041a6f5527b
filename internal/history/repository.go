package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/vitalsd/internal/errors"
	"codeberg.org/mutker/vitalsd/internal/logger"
	"codeberg.org/mutker/vitalsd/internal/vitals"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

type record struct {
	snapshot vitals.Snapshot
	score    float64
}

type repository struct {
	db            *sql.DB
	dialect       dialect
	logger        logger.Logger
	cfg           Config
	mu            sync.Mutex
	buffer        []record
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
	closeOnce     sync.Once
}

func NewRepository(ctx context.Context, cfg Config, log logger.Logger) (Store, error) {
	errFactory := errors.New()

	d, ok := dialects[cfg.Driver]
	if !ok {
		return nil, errFactory.WithData(ErrInvalidDriver, cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, errFactory.New(ErrInvalidDSN)
	}

	dsn := cfg.DSN
	if d.driver == DriverSQLite {
		// Ensure the directory exists
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), defaultDirPerm); err != nil {
			return nil, errFactory.WithData(ErrStorageInit, struct {
				Phase string
				Path  string
				Error string
			}{
				Phase: "create_directory",
				Path:  cfg.DSN,
				Error: err.Error(),
			})
		}
		// Open database with specific pragmas for better performance and safety
		dsn += "?_journal=WAL&_auto_vacuum=2&_busy_timeout=5000"
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}
	if d.driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "ping",
			Error: err.Error(),
		})
	}

	// Validate if schema is current, with backup if needed
	if err := ValidateAndUpdateSchema(ctx, db, d, cfg.BackupDir, log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("driver", d.driver).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Dur("batch_timeout", cfg.BatchTimeout).
		Msg("History repository initialized")

	repo := &repository{
		db:            db,
		dialect:       d,
		logger:        log,
		cfg:           cfg,
		buffer:        make([]record, 0, cfg.BatchSize),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}

	// Start background goroutine for periodic flushing
	repo.flushTicker = time.NewTicker(cfg.BatchTimeout)
	go repo.flusher()

	return repo, nil
}

func (r *repository) Record(ctx context.Context, s vitals.Snapshot, score float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffer = append(r.buffer, record{snapshot: s.Clone(), score: score})

	if len(r.buffer) >= r.cfg.BatchSize {
		return r.flush(ctx)
	}

	return nil
}

func (r *repository) Recent(ctx context.Context, route string, limit int) ([]Entry, error) {
	errFactory := errors.New()

	r.mu.Lock()
	err := r.flush(ctx)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if limit <= 0 || limit > r.cfg.MaxPerRoute {
		limit = r.cfg.MaxPerRoute
	}

	rows, err := r.db.QueryContext(ctx, r.dialect.rebind(recentSnapshotsSQL), route, limit)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e       Entry
			payload string
		)
		if err := rows.Scan(&e.Score, &payload); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		if err := json.Unmarshal([]byte(payload), &e.Snapshot); err != nil {
			return nil, errFactory.Wrap(ErrCorruptPayload, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return entries, nil
}

func (r *repository) SaveBaseline(ctx context.Context, b vitals.Baseline) error {
	errFactory := errors.New()

	payload, err := json.Marshal(b.Metrics)
	if err != nil {
		return errFactory.Wrap(ErrInvalidRecord, err)
	}

	if _, err := r.db.ExecContext(ctx, r.dialect.rebind(upsertBaselineSQL),
		b.Route, b.SampleCount, b.UpdatedAt, string(payload)); err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	return nil
}

func (r *repository) DeleteBaseline(ctx context.Context, route string) error {
	if _, err := r.db.ExecContext(ctx, r.dialect.rebind(deleteBaselineSQL), route); err != nil {
		return errors.New().Wrap(ErrStorageAccess, err)
	}
	return nil
}

func (r *repository) LoadBaselines(ctx context.Context) ([]vitals.Baseline, error) {
	errFactory := errors.New()

	rows, err := r.db.QueryContext(ctx, loadBaselinesSQL)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var out []vitals.Baseline
	for rows.Next() {
		var (
			b       vitals.Baseline
			payload string
		)
		if err := rows.Scan(&b.Route, &b.SampleCount, &b.UpdatedAt, &payload); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		if err := json.Unmarshal([]byte(payload), &b.Metrics); err != nil {
			r.logger.Warn().Err(err).Str("route", b.Route).Msg("Skipping baseline with corrupt payload")
			continue
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return out, nil
}

func (r *repository) Close() error {
	var closeErr error

	r.closeOnce.Do(func() {
		// Signal the flusher goroutine to stop
		close(r.shutdownChan)
		r.flushTicker.Stop()

		// Wait for the flusher to finish its final flush
		<-r.flushDoneChan

		if r.dialect.driver == DriverSQLite {
			// Checkpoint WAL and cleanup on close
			if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
				r.logger.Warn().Err(err).Msg("Failed to checkpoint WAL")
			}
		}

		if err := r.db.Close(); err != nil {
			closeErr = errors.New().WithData(ErrStorageClose, struct {
				Phase string
				Error string
			}{
				Phase: "close_database",
				Error: err.Error(),
			})
			return
		}

		r.logger.Info().Msg("History repository closed gracefully")
	})

	return closeErr
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			r.mu.Lock()
			if err := r.flush(context.Background()); err != nil {
				r.logger.Warn().Err(err).Msg("Periodic history flush failed")
			}
			r.mu.Unlock()
		case <-r.shutdownChan:
			r.mu.Lock()
			if err := r.flush(context.Background()); err != nil {
				r.logger.Warn().Err(err).Msg("Final history flush failed")
			}
			r.mu.Unlock()
			return
		}
	}
}

// flush writes the buffer in one transaction and trims every touched route
// to MaxPerRoute entries. The caller holds r.mu.
func (r *repository) flush(ctx context.Context) error {
	if len(r.buffer) == 0 {
		return nil
	}

	errFactory := errors.New()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to begin transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				r.logger.Error().Err(err).Msg("Failed to roll back transaction")
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, r.dialect.rebind(insertSnapshotSQL))
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to prepare statement")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	routes := make(map[string]struct{})
	for _, rec := range r.buffer {
		s := rec.snapshot
		payload, err := json.Marshal(s)
		if err != nil {
			return errFactory.Wrap(ErrInvalidRecord, err)
		}

		if _, err := stmt.ExecContext(ctx,
			s.Page.Route, s.Timestamp, rec.score,
			s.CLS, s.LCP, s.FID, s.INP, s.FCP, s.TTFB,
			string(payload),
		); err != nil {
			r.logger.Error().Err(err).Msg("Failed to execute insert")
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
		routes[s.Page.Route] = struct{}{}
	}

	prune := r.dialect.rebind(pruneSnapshotsSQL)
	for route := range routes {
		if _, err := tx.ExecContext(ctx, prune, route, route, r.cfg.MaxPerRoute); err != nil {
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to commit transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	committed = true

	r.logger.Debug().Int("records", len(r.buffer)).Msg("Flushed snapshots to database")
	r.buffer = r.buffer[:0]

	return nil
}
