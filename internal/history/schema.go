package history

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/vitalsd/internal/errors"
	"codeberg.org/mutker/vitalsd/internal/logger"
)

const (
	SchemaVersion = 1 // Increment version for breaking change

	// createTablesSQL takes the dialect's auto-increment id column.
	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS snapshots (
	       id          %s,
	       route       TEXT NOT NULL,
	       timestamp   BIGINT NOT NULL,
	       score       DOUBLE PRECISION NOT NULL,
	       cls         DOUBLE PRECISION NOT NULL,
	       lcp         DOUBLE PRECISION NOT NULL,
	       fid         DOUBLE PRECISION NOT NULL,
	       inp         DOUBLE PRECISION NOT NULL,
	       fcp         DOUBLE PRECISION NOT NULL,
	       ttfb        DOUBLE PRECISION NOT NULL,
	       payload     TEXT NOT NULL
	   );
	   CREATE INDEX IF NOT EXISTS snapshots_route_ts ON snapshots (route, timestamp);
	   CREATE TABLE IF NOT EXISTS baselines (
	       route        TEXT PRIMARY KEY,
	       sample_count INTEGER NOT NULL,
	       updated_at   BIGINT NOT NULL,
	       payload      TEXT NOT NULL
	   );`

	insertSnapshotSQL = `
    INSERT INTO snapshots (
        route, timestamp, score,
        cls, lcp, fid, inp, fcp, ttfb,
        payload
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	pruneSnapshotsSQL = `
    DELETE FROM snapshots
    WHERE route = ? AND id NOT IN (
        SELECT id FROM snapshots
        WHERE route = ?
        ORDER BY timestamp DESC, id DESC
        LIMIT ?
    )`

	recentSnapshotsSQL = `
    SELECT score, payload
    FROM snapshots
    WHERE route = ?
    ORDER BY timestamp DESC, id DESC
    LIMIT ?`

	upsertBaselineSQL = `
    INSERT INTO baselines (route, sample_count, updated_at, payload)
    VALUES (?, ?, ?, ?)
    ON CONFLICT(route) DO UPDATE SET
        sample_count = excluded.sample_count,
        updated_at = excluded.updated_at,
        payload = excluded.payload`

	deleteBaselineSQL = `DELETE FROM baselines WHERE route = ?`

	loadBaselinesSQL = `SELECT route, sample_count, updated_at, payload FROM baselines ORDER BY route`

	recordVersionSQL = `INSERT INTO schema_versions (version, applied_at) VALUES (?, ?)`
)

// dialect holds what differs between the supported drivers.
type dialect struct {
	driver         string
	idColumn       string
	tableExistsSQL string
	numbered       bool
}

var dialects = map[string]dialect{
	DriverSQLite: {
		driver:         DriverSQLite,
		idColumn:       "INTEGER PRIMARY KEY AUTOINCREMENT",
		tableExistsSQL: `SELECT EXISTS (SELECT 1 FROM sqlite_master WHERE type='table' AND name=?)`,
	},
	DriverPostgres: {
		driver:         DriverPostgres,
		idColumn:       "BIGSERIAL PRIMARY KEY",
		tableExistsSQL: `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=?)`,
		numbered:       true,
	},
}

// rebind rewrites ? placeholders to $n for drivers that need it.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d dialect) createTablesSQL() string {
	return fmt.Sprintf(createTablesSQL, d.idColumn)
}

// InitSchema creates a new database schema with the current version
func InitSchema(ctx context.Context, db *sql.DB, d dialect, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Str("driver", d.driver).Msg("Creating database...")

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	// Track transaction state
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.ExecContext(ctx, d.createTablesSQL()); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Phase string
			Error string
		}{
			Phase: "create_tables",
			Error: err.Error(),
		})
	}

	if _, err := tx.ExecContext(ctx, d.rebind(recordVersionSQL),
		SchemaVersion, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Phase string
			Error string
		}{
			Phase: "record_version",
			Error: err.Error(),
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version, 0 for a new database.
func GetSchemaVersion(ctx context.Context, db *sql.DB, d dialect) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(ctx, db, d, "schema_versions")
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRowContext(ctx, `
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(ctx context.Context, db *sql.DB, d dialect, tableName string) (bool, error) {
	var exists bool
	if err := db.QueryRowContext(ctx, d.rebind(d.tableExistsSQL), tableName).Scan(&exists); err != nil {
		return false, errors.New().WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
