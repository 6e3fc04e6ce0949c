package history

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig controls the Postgres connection pool used for
// deployment rows.
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// PostgresStore writes deployment rows into Postgres.
type PostgresStore struct {
	pool  pgxPool
	table string
}

// NewPostgresStore creates a Postgres-backed Store using the provided config.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("history.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "deployments"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresStore{pool: pool, table: table}, nil
}

// NewPostgresStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewPostgresStoreWithPool(pool pgxPool, table string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "deployments"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PostgresStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// RecordDeploy inserts a deployment row.
//
// Expected schema:
//
//	CREATE TABLE deployments (
//	    id UUID PRIMARY KEY,
//	    environment TEXT NOT NULL,
//	    version TEXT NOT NULL,
//	    commit_hash TEXT NOT NULL,
//	    status TEXT NOT NULL,
//	    error_text TEXT NOT NULL DEFAULT '',
//	    started_at TIMESTAMPTZ NOT NULL,
//	    duration_ms BIGINT NOT NULL
//	);
func (s *PostgresStore) RecordDeploy(ctx context.Context, rec Record) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("history store is not configured")
	}
	if rec.ID == "" {
		return fmt.Errorf("record id is required")
	}
	if rec.Environment == "" {
		return fmt.Errorf("record environment is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	environment,
	version,
	commit_hash,
	status,
	error_text,
	started_at,
	duration_ms
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)`, s.table)

	args := []any{
		rec.ID,
		rec.Environment,
		rec.Version,
		rec.Commit,
		rec.Status,
		rec.Error,
		rec.StartedAt,
		rec.Duration.Milliseconds(),
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert deployment: %w", err)
	}
	return nil
}

// ListRecent returns up to limit deployment rows, newest first.
func (s *PostgresStore) ListRecent(ctx context.Context, environment string, limit int) ([]Record, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("history store is not configured")
	}
	if limit <= 0 {
		limit = 10
	}
	query := fmt.Sprintf(`
SELECT id, environment, version, commit_hash, status, error_text, started_at, duration_ms
FROM %s
WHERE environment = $1
ORDER BY started_at DESC
LIMIT $2`, s.table)

	rows, err := s.pool.Query(ctx, query, environment, limit)
	if err != nil {
		return nil, fmt.Errorf("query deployments: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var durationMs int64
		if err := rows.Scan(
			&rec.ID,
			&rec.Environment,
			&rec.Version,
			&rec.Commit,
			&rec.Status,
			&rec.Error,
			&rec.StartedAt,
			&durationMs,
		); err != nil {
			return nil, fmt.Errorf("scan deployment row: %w", err)
		}
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deployment rows: %w", err)
	}
	return records, nil
}
