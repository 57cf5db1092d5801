// Package storage persists the task records the frontier is built from.
// A record is created once per task key and only ever flips from pending to
// done, so every backend is a small key/value map with an upsert.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/masahif/politecrawl/internal/task"
)

var (
	// ErrStoreCorrupt reports state that cannot be read back. It is fatal at open.
	ErrStoreCorrupt = errors.New("store is corrupt")
	// ErrStoreIO reports a failed read or write against the backend.
	ErrStoreIO = errors.New("store i/o failure")
)

// Supported values for Options.Driver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Record is the persisted state of one task.
type Record struct {
	Task task.Task `json:"url"`
	Done bool      `json:"done"`
}

// Store is a durable map from task key to record. Put must be durable
// before it returns.
type Store interface {
	Get(ctx context.Context, key task.Key) (Record, bool, error)
	Put(ctx context.Context, key task.Key, rec Record) error
	// Scan calls fn for every record. An error from fn stops the scan and
	// is returned unchanged.
	Scan(ctx context.Context, fn func(task.Key, Record) error) error
	Len(ctx context.Context) (int, error)
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Driver    string
	Path      string
	DSN       string
	Table     string
	RedisAddr string
	RedisKey  string
	// Fresh discards any existing state before opening.
	Fresh  bool
	Logger *zap.Logger
}

// Open returns the backend named by opts.Driver, defaulting to SQLite.
func Open(ctx context.Context, opts Options) (Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("storage")

	switch strings.ToLower(opts.Driver) {
	case "", DriverSQLite:
		s, err := NewSQLiteStore(ctx, opts.Path, opts.Fresh)
		if err != nil {
			return nil, err
		}
		logger.Info("opened sqlite store", zap.String("path", opts.Path), zap.Bool("fresh", opts.Fresh))
		return s, nil
	case DriverPostgres:
		s, err := NewPostgresStore(ctx, PostgresConfig{DSN: opts.DSN, Table: opts.Table}, opts.Fresh)
		if err != nil {
			return nil, err
		}
		logger.Info("opened postgres store", zap.String("table", s.table), zap.Bool("fresh", opts.Fresh))
		return s, nil
	case DriverRedis:
		s, err := NewRedisStore(ctx, opts.RedisAddr, opts.RedisKey, opts.Fresh)
		if err != nil {
			return nil, err
		}
		logger.Info("opened redis store", zap.String("addr", opts.RedisAddr), zap.String("key", s.key), zap.Bool("fresh", opts.Fresh))
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}

// decodeRecord rebuilds a record read back from a backend.
func decodeRecord(key, url string, done bool) (task.Key, Record, error) {
	if key == "" || url == "" {
		return "", Record{}, fmt.Errorf("%w: empty key or url in row %q", ErrStoreCorrupt, key)
	}
	return task.Key(key), Record{Task: task.Task(url), Done: done}, nil
}
