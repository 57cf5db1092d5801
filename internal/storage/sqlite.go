package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/masahif/politecrawl/internal/task"
	// SQLite database driver (CGO-free)
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	db        *sql.DB
	path      string
	closeOnce sync.Once
	closeErr  error
}

// NewSQLiteStore opens (creating if needed) the database at dbPath. With
// fresh set, the file and its WAL siblings are removed first.
func NewSQLiteStore(ctx context.Context, dbPath string, fresh bool) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if fresh {
		if err := removeDatabaseFiles(dbPath); err != nil {
			return nil, err
		}
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create database directory: %v", ErrStoreIO, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", ErrStoreIO, err)
	}

	// Single connection keeps pragmas in effect and prevents lock conflicts
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db, path: dbPath}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func removeDatabaseFiles(dbPath string) error {
	for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: remove %s: %v", ErrStoreIO, p, err)
		}
	}
	return nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL", // every autocommitted Put is fsynced
		"PRAGMA busy_timeout = 30000",
		"PRAGMA locking_mode = NORMAL", // allow external monitoring processes
	}
	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return classify(fmt.Sprintf("execute %s", pragma), err)
		}
	}

	var check string
	if err := s.db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&check); err != nil {
		return classify("quick_check", err)
	}
	if check != "ok" {
		return fmt.Errorf("%w: quick_check: %s", ErrStoreCorrupt, check)
	}

	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return classify("create schema", err)
	}
	return nil
}

// classify maps driver errors onto the package sentinels.
func classify(op string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "not a database") || strings.Contains(msg, "malformed") || strings.Contains(msg, "corrupt") {
		return fmt.Errorf("%w: %s: %v", ErrStoreCorrupt, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreIO, op, err)
}

// Get returns the record for key.
func (s *SQLiteStore) Get(ctx context.Context, key task.Key) (Record, bool, error) {
	var (
		url  string
		done bool
	)
	err := s.db.QueryRowContext(ctx, `SELECT url, done FROM tasks WHERE key = ?`, string(key)).Scan(&url, &done)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, classify("get task", err)
	}
	_, rec, err := decodeRecord(string(key), url, done)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// Put upserts the record. done never goes back to 0.
func (s *SQLiteStore) Put(ctx context.Context, key task.Key, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (key, url, done, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			done = MAX(tasks.done, excluded.done),
			updated_at = excluded.updated_at
	`, string(key), string(rec.Task), rec.Done, time.Now().UTC())
	if err != nil {
		return classify("put task", err)
	}
	return nil
}

// Scan reads every row before invoking fn so fn may call back into the store.
func (s *SQLiteStore) Scan(ctx context.Context, fn func(task.Key, Record) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT key, url, done FROM tasks ORDER BY added_at, key`)
	if err != nil {
		return classify("scan tasks", err)
	}

	type row struct {
		key task.Key
		rec Record
	}
	var all []row
	for rows.Next() {
		var (
			key, url string
			done     bool
		)
		if err := rows.Scan(&key, &url, &done); err != nil {
			_ = rows.Close()
			return fmt.Errorf("%w: decode row: %v", ErrStoreCorrupt, err)
		}
		k, rec, err := decodeRecord(key, url, done)
		if err != nil {
			_ = rows.Close()
			return err
		}
		all = append(all, row{key: k, rec: rec})
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return classify("scan tasks", err)
	}
	if err := rows.Close(); err != nil {
		return classify("scan tasks", err)
	}

	for _, r := range all {
		if err := fn(r.key, r.rec); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of records.
func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&n); err != nil {
		return 0, classify("count tasks", err)
	}
	return n, nil
}

// Close closes the database connection. Later calls return the first result.
func (s *SQLiteStore) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}
