package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/masahif/politecrawl/internal/task"
)

// RetryStore retries failed writes of the wrapped Store.
type RetryStore struct {
	Store
	attempts  int
	backoff   time.Duration
	logger    *zap.Logger
	closeOnce sync.Once
	closeErr  error
}

// WithRetry wraps s so that Put is attempted up to attempts times with
// exponential backoff starting at backoff. A Put that still fails returns
// an error wrapping ErrStoreIO.
func WithRetry(s Store, attempts int, backoff time.Duration, logger *zap.Logger) *RetryStore {
	if attempts < 1 {
		attempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryStore{
		Store:    s,
		attempts: attempts,
		backoff:  backoff,
		logger:   logger.Named("storage"),
	}
}

// Put writes rec, retrying on failure.
func (r *RetryStore) Put(ctx context.Context, key task.Key, rec Record) error {
	delay := r.backoff
	var err error
	for attempt := 1; ; attempt++ {
		if err = r.Store.Put(ctx, key, rec); err == nil {
			return nil
		}
		if attempt >= r.attempts {
			break
		}
		r.logger.Warn("Put failed, retrying",
			zap.String("url", string(rec.Task)),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: put %s interrupted: %w", ErrStoreIO, rec.Task, ctx.Err())
		case <-timer.C:
		}
		delay *= 2
	}
	return fmt.Errorf("%w: put %s failed after %d attempts: %w", ErrStoreIO, rec.Task, r.attempts, err)
}

// Close closes the wrapped store exactly once.
func (r *RetryStore) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.Store.Close()
	})
	return r.closeErr
}
