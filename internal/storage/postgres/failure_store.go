// Package postgres persists fetch failure events in Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/webwrapper/internal/observer"
)

const defaultTable = "fetch_failures"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for failure rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// FailureStore writes failure events into Postgres.
type FailureStore struct {
	pool  execCloser
	table string
}

// NewFailureStore connects a pool using cfg.
func NewFailureStore(ctx context.Context, cfg Config) (*FailureStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &FailureStore{pool: pool, table: table}, nil
}

// NewFailureStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewFailureStoreWithPool(pool execCloser, table string) (*FailureStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &FailureStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *FailureStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// RecordFailure inserts one failure row. Events with a duplicate id are ignored.
func (s *FailureStore) RecordFailure(ctx context.Context, evt observer.Event) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("failure store is not configured")
	}
	if evt.ID == "" {
		return fmt.Errorf("event id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	failed_at,
	kind,
	url,
	attempt,
	backend,
	status_code,
	error
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
) ON CONFLICT (id) DO NOTHING`, s.table)

	args := []any{
		evt.ID,
		evt.TS,
		string(evt.Kind),
		evt.URL,
		evt.Attempt,
		evt.Backend,
		nullableStatus(evt.StatusCode),
		evt.Err,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert failure: %w", err)
	}
	return nil
}

func nullableStatus(code int) *int {
	if code == 0 {
		return nil
	}
	return &code
}
