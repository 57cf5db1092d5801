package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/masahif/politecrawl/internal/task"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultPostgresTable = "tasks"

// PostgresConfig controls the connection pool used for task rows.
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// pgxPool is the subset of *pgxpool.Pool the store uses.
type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// PostgresStore implements Store on a Postgres table.
type PostgresStore struct {
	pool  pgxPool
	table string
}

// NewPostgresStore connects to cfg.DSN and ensures the table exists. With
// fresh set, the table is truncated.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig, fresh bool) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required for the postgres driver")
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
		return nil, fmt.Errorf("%w: connect postgres: %v", ErrStoreIO, err)
	}
	s, err := NewPostgresStoreWithPool(ctx, pool, cfg.Table, fresh)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreWithPool builds a store on an existing pool (primarily for testing).
func NewPostgresStoreWithPool(ctx context.Context, pool pgxPool, table string, fresh bool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultPostgresTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	s := &PostgresStore{pool: pool, table: table}
	if _, err := pool.Exec(ctx, fmt.Sprintf(postgresSchemaSQL, table)); err != nil {
		return nil, fmt.Errorf("%w: create table %s: %v", ErrStoreIO, table, err)
	}
	if fresh {
		if _, err := pool.Exec(ctx, fmt.Sprintf("TRUNCATE %s", table)); err != nil {
			return nil, fmt.Errorf("%w: truncate %s: %v", ErrStoreIO, table, err)
		}
	}
	return s, nil
}

// Get returns the record for key.
func (s *PostgresStore) Get(ctx context.Context, key task.Key) (Record, bool, error) {
	var (
		url  string
		done bool
	)
	query := fmt.Sprintf("SELECT url, done FROM %s WHERE key = $1", s.table)
	err := s.pool.QueryRow(ctx, query, string(key)).Scan(&url, &done)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("%w: get task: %v", ErrStoreIO, err)
	}
	_, rec, err := decodeRecord(string(key), url, done)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// Put upserts the record. done never goes back to false.
func (s *PostgresStore) Put(ctx context.Context, key task.Key, rec Record) error {
	query := fmt.Sprintf(`
INSERT INTO %[1]s (key, url, done)
VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET
	done = %[1]s.done OR EXCLUDED.done,
	updated_at = now()`, s.table)
	if _, err := s.pool.Exec(ctx, query, string(key), string(rec.Task), rec.Done); err != nil {
		return fmt.Errorf("%w: put task: %v", ErrStoreIO, err)
	}
	return nil
}

// Scan reads every row before invoking fn.
func (s *PostgresStore) Scan(ctx context.Context, fn func(task.Key, Record) error) error {
	query := fmt.Sprintf("SELECT key, url, done FROM %s ORDER BY added_at, key", s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("%w: scan tasks: %v", ErrStoreIO, err)
	}

	var (
		keys    []task.Key
		records []Record
	)
	for rows.Next() {
		var (
			key, url string
			done     bool
		)
		if err := rows.Scan(&key, &url, &done); err != nil {
			rows.Close()
			return fmt.Errorf("%w: decode row: %v", ErrStoreCorrupt, err)
		}
		k, rec, err := decodeRecord(key, url, done)
		if err != nil {
			rows.Close()
			return err
		}
		keys = append(keys, k)
		records = append(records, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: scan tasks: %v", ErrStoreIO, err)
	}

	for i := range keys {
		if err := fn(keys[i], records[i]); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of rows.
func (s *PostgresStore) Len(ctx context.Context) (int, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count tasks: %v", ErrStoreIO, err)
	}
	return int(n), nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
