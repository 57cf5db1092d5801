package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/masahif/politecrawl/internal/task"
)

const defaultRedisKey = "politecrawl:tasks"

// RedisStore keeps every record as a field of a single Redis hash.
type RedisStore struct {
	client    *redis.Client
	key       string
	closeOnce sync.Once
	closeErr  error
}

// NewRedisStore connects to addr and verifies the server answers and
// fsyncs every write before acknowledging it. With fresh set, the hash is
// deleted.
func NewRedisStore(ctx context.Context, addr, key string, fresh bool) (*RedisStore, error) {
	if addr == "" {
		return nil, fmt.Errorf("store.redis_addr is required for the redis driver")
	}
	if key == "" {
		key = defaultRedisKey
	}
	s := &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		key:    key,
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		_ = s.client.Close()
		return nil, fmt.Errorf("%w: ping redis %s: %v", ErrStoreIO, addr, err)
	}
	conf, err := s.client.ConfigGet(ctx, "append*").Result()
	if err != nil {
		_ = s.client.Close()
		return nil, fmt.Errorf("%w: read redis persistence config: %v", ErrStoreIO, err)
	}
	if err := requireDurableRedis(conf); err != nil {
		_ = s.client.Close()
		return nil, err
	}
	if fresh {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			_ = s.client.Close()
			return nil, fmt.Errorf("%w: delete %s: %v", ErrStoreIO, key, err)
		}
	}
	return s, nil
}

// requireDurableRedis accepts a server config only if the append-only file
// is on and fsynced on every write, so an acknowledged Put survives a crash.
func requireDurableRedis(conf map[string]string) error {
	if v := conf["appendonly"]; v != "yes" {
		return fmt.Errorf("%w: redis appendonly is %q, want \"yes\"", ErrStoreIO, v)
	}
	if v := conf["appendfsync"]; v != "always" {
		return fmt.Errorf("%w: redis appendfsync is %q, want \"always\"", ErrStoreIO, v)
	}
	return nil
}

// Get returns the record for key.
func (s *RedisStore) Get(ctx context.Context, key task.Key) (Record, bool, error) {
	val, err := s.client.HGet(ctx, s.key, string(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("%w: get task: %v", ErrStoreIO, err)
	}
	_, rec, err := decodeRedisValue(string(key), val)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// Put writes the record. The server fsyncs before replying, so a nil error
// means the record is on disk. Callers serialize writes, so done cannot
// regress.
func (s *RedisStore) Put(ctx context.Context, key task.Key, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := s.client.HSet(ctx, s.key, string(key), payload).Err(); err != nil {
		return fmt.Errorf("%w: put task: %v", ErrStoreIO, err)
	}
	return nil
}

// Scan walks the hash with HSCAN.
func (s *RedisStore) Scan(ctx context.Context, fn func(task.Key, Record) error) error {
	var cursor uint64
	for {
		fields, next, err := s.client.HScan(ctx, s.key, cursor, "*", 500).Result()
		if err != nil {
			return fmt.Errorf("%w: scan tasks: %v", ErrStoreIO, err)
		}
		for i := 0; i+1 < len(fields); i += 2 {
			k, rec, err := decodeRedisValue(fields[i], fields[i+1])
			if err != nil {
				return err
			}
			if err := fn(k, rec); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Len returns the number of fields in the hash.
func (s *RedisStore) Len(ctx context.Context) (int, error) {
	n, err := s.client.HLen(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: count tasks: %v", ErrStoreIO, err)
	}
	return int(n), nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}

func decodeRedisValue(key, val string) (task.Key, Record, error) {
	var rec Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return "", Record{}, fmt.Errorf("%w: decode field %q: %v", ErrStoreCorrupt, key, err)
	}
	return decodeRecord(key, string(rec.Task), rec.Done)
}
