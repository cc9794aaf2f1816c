// Package sqlite persists datum to a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/drblury/datumflow/internal/runtime"
	"github.com/drblury/datumflow/internal/runtime/datum"
	errspkg "github.com/drblury/datumflow/internal/runtime/errors"
	"github.com/drblury/datumflow/store"
)

// StoreName is the config.StoreSystem value selecting this store.
const StoreName = "sqlite"

const (
	// DefaultFilePath is used when Config.FilePath is empty.
	DefaultFilePath = "datumflow.db"
	// DefaultBusyTimeout is how long a write waits on a locked database.
	DefaultBusyTimeout = 5 * time.Second
)

// Config holds SQLite-specific configuration.
type Config struct {
	// FilePath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database (useful for testing).
	FilePath    string
	BusyTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.FilePath == "" {
		c.FilePath = DefaultFilePath
	}
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = DefaultBusyTimeout
	}
	return c
}

// dialect stores timestamps as unix milliseconds so the unique key compares
// exactly.
var dialect = store.Dialect{
	Placeholder: func(int) string { return "?" },
	Time:        func(t time.Time) any { return t.UnixMilli() },
}

// Store is a runtime.Store backed by SQLite. One connection is used, so
// writes are serialised by database/sql.
type Store struct {
	db     *sql.DB
	config Config
}

var _ runtime.Store = (*Store)(nil)

// New opens the database and creates the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d", cfg.FilePath, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, config: cfg}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS datum (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		location_id TEXT NOT NULL DEFAULT '',
		source_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		samples TEXT NOT NULL,
		stored_at INTEGER NOT NULL,
		UNIQUE (kind, location_id, source_id, created_at)
	);

	CREATE INDEX IF NOT EXISTS idx_datum_source_created ON datum(source_id, created_at);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// StoreDatum inserts d, replacing the samples of an already stored datum with
// the same kind, location, source and timestamp.
func (s *Store) StoreDatum(ctx context.Context, d datum.Datum) error {
	if d == nil {
		return errspkg.ErrDatumRequired
	}
	samples, err := store.EncodeSamples(datum.SamplesOf(d))
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO datum (kind, location_id, source_id, created_at, samples, stored_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (kind, location_id, source_id, created_at)
		DO UPDATE SET samples = excluded.samples, stored_at = excluded.stored_at
	`,
		d.Kind().String(),
		datum.LocationOf(d),
		d.SourceID(),
		d.Timestamp().UnixMilli(),
		samples,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to store datum %s: %w", d.SourceID(), err)
	}
	return nil
}

// List returns the stored datum matching q, oldest first.
func (s *Store) List(ctx context.Context, q store.Query) ([]store.Record, error) {
	where, args := q.Where(dialect)
	query := `SELECT id, kind, location_id, source_id, created_at, samples, stored_at FROM datum` +
		where + ` ORDER BY created_at, source_id, id`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query datum: %w", err)
	}
	defer rows.Close()

	var records []store.Record
	for rows.Next() {
		var (
			rec                 store.Record
			kind, samples       string
			createdMs, storedMs int64
		)
		if err := rows.Scan(&rec.ID, &kind, &rec.LocationID, &rec.SourceID, &createdMs, &samples, &storedMs); err != nil {
			return nil, fmt.Errorf("failed to scan datum: %w", err)
		}
		if rec.Kind, err = datum.ParseKind(kind); err != nil {
			return nil, err
		}
		if rec.Samples, err = store.DecodeSamples(samples); err != nil {
			return nil, err
		}
		rec.Created = time.UnixMilli(createdMs).UTC()
		rec.StoredAt = time.UnixMilli(storedMs).UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count returns the number of stored datum.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM datum`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count datum: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
