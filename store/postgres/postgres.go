// Package postgres persists datum to PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq" // PostgreSQL driver

	"github.com/drblury/datumflow/internal/runtime"
	"github.com/drblury/datumflow/internal/runtime/datum"
	errspkg "github.com/drblury/datumflow/internal/runtime/errors"
	"github.com/drblury/datumflow/store"
)

// StoreName is the config.StoreSystem value selecting this store.
const StoreName = "postgres"

const (
	// DefaultSchemaName holds the datum table.
	DefaultSchemaName   = "datumflow"
	DefaultMaxOpenConns = 10
	DefaultMaxIdleConns = 5
)

// Config holds PostgreSQL-specific configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string.
	ConnectionString string
	// SchemaName is the schema to use for tables. Defaults to "datumflow".
	SchemaName string
	// MaxOpenConns sets the maximum number of open connections to the database.
	MaxOpenConns int
	// MaxIdleConns sets the maximum number of idle connections.
	MaxIdleConns int
}

func (c Config) withDefaults() Config {
	if c.SchemaName == "" {
		c.SchemaName = DefaultSchemaName
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = DefaultMaxOpenConns
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = DefaultMaxIdleConns
	}
	return c
}

var dialect = store.Dialect{
	Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	Time:        func(t time.Time) any { return t.UTC() },
}

// Store is a runtime.Store backed by PostgreSQL.
type Store struct {
	db     *sql.DB
	config Config
	table  string
}

var _ runtime.Store = (*Store)(nil)

// New connects to the database and creates the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()
	if cfg.ConnectionString == "" {
		return nil, errors.New("postgres: connection string is required")
	}

	db, err := sql.Open("postgres", cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	s := &Store{db: db, config: cfg, table: tableName(cfg.SchemaName)}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func tableName(schema string) string {
	return pq.QuoteIdentifier(schema) + ".datum"
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`
	CREATE SCHEMA IF NOT EXISTS %[1]s;

	CREATE TABLE IF NOT EXISTS %[2]s (
		id BIGSERIAL PRIMARY KEY,
		kind TEXT NOT NULL,
		location_id TEXT NOT NULL DEFAULT '',
		source_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		samples JSONB NOT NULL,
		stored_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (kind, location_id, source_id, created_at)
	);

	CREATE INDEX IF NOT EXISTS idx_datum_source_created ON %[2]s(source_id, created_at);
	`, pq.QuoteIdentifier(s.config.SchemaName), s.table)
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) upsertQuery() string {
	return fmt.Sprintf(`
		INSERT INTO %s (kind, location_id, source_id, created_at, samples, stored_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (kind, location_id, source_id, created_at)
		DO UPDATE SET samples = EXCLUDED.samples, stored_at = EXCLUDED.stored_at
	`, s.table)
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

	_, err = s.db.ExecContext(ctx, s.upsertQuery(),
		d.Kind().String(),
		datum.LocationOf(d),
		d.SourceID(),
		d.Timestamp().UTC(),
		samples,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			return fmt.Errorf("failed to store datum %s (%s): %w", d.SourceID(), pqErr.Code.Name(), err)
		}
		return fmt.Errorf("failed to store datum %s: %w", d.SourceID(), err)
	}
	return nil
}

func (s *Store) listQuery(q store.Query) (string, []any) {
	where, args := q.Where(dialect)
	query := fmt.Sprintf(`SELECT id, kind, location_id, source_id, created_at, samples, stored_at FROM %s`, s.table) +
		where + ` ORDER BY created_at, source_id, id`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += " LIMIT " + dialect.Placeholder(len(args))
	}
	return query, args
}

// List returns the stored datum matching q, oldest first.
func (s *Store) List(ctx context.Context, q store.Query) ([]store.Record, error) {
	query, args := s.listQuery(q)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query datum: %w", err)
	}
	defer rows.Close()

	var records []store.Record
	for rows.Next() {
		var (
			rec           store.Record
			kind, samples string
		)
		if err := rows.Scan(&rec.ID, &kind, &rec.LocationID, &rec.SourceID, &rec.Created, &samples, &rec.StoredAt); err != nil {
			return nil, fmt.Errorf("failed to scan datum: %w", err)
		}
		if rec.Kind, err = datum.ParseKind(kind); err != nil {
			return nil, err
		}
		if rec.Samples, err = store.DecodeSamples(samples); err != nil {
			return nil, err
		}
		rec.Created = rec.Created.UTC()
		rec.StoredAt = rec.StoredAt.UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count returns the number of stored datum.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count datum: %w", err)
	}
	return n, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
