// Package frontier is the durable, concurrency-safe task queue shared by all
// workers. It deduplicates submissions through the store, enforces
// per-domain politeness, and rebuilds its queue from the store on restart.
//
// Dispatch order is LIFO: new tasks go to the back, workers take from the
// back, and a task that must wait for its domain is moved to the front.
package frontier

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/masahif/politecrawl/internal/metrics"
	"github.com/masahif/politecrawl/internal/storage"
	"github.com/masahif/politecrawl/internal/task"
)

var (
	// ErrExhausted is returned by Acquire once no task is queued or in flight.
	ErrExhausted = errors.New("frontier exhausted")
	// ErrCancelled is returned by Acquire when its context ends first.
	ErrCancelled = errors.New("acquire cancelled")
	// ErrUnknownTask is returned by Complete for a task that was never submitted.
	ErrUnknownTask = errors.New("unknown task")
)

// Validator decides whether a canonical URL belongs to the crawl.
// Implementations must be pure.
type Validator interface {
	Valid(raw string) bool
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(raw string) bool

// Valid calls f(raw).
func (f ValidatorFunc) Valid(raw string) bool { return f(raw) }

// Config controls how a Frontier is built.
type Config struct {
	// Seeds are submitted when the store is empty or Fresh is set.
	Seeds []string
	// Fresh means the store was just wiped; seeds are always used.
	Fresh bool
	// Politeness is the minimum interval between grants for one domain.
	Politeness time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Frontier hands out tasks to workers. One mutex guards the ready queue,
// the domain clock and every store call.
type Frontier struct {
	mu        sync.Mutex
	store     storage.Store
	validator Validator
	limiter   *RateLimiter
	queue     *list.List
	inFlight  map[task.Key]struct{}
	exhausted bool
	// changed is closed and replaced whenever a submit or complete may let a
	// waiting Acquire make progress.
	changed chan struct{}
	now     func() time.Time
	logger  *zap.Logger
}

// New builds a Frontier on store. If cfg.Fresh is set or the store holds no
// records, the frontier is seeded from cfg.Seeds; otherwise it resumes from
// every pending record that still passes validator.
func New(ctx context.Context, store storage.Store, validator Validator, cfg Config, logger *zap.Logger) (*Frontier, error) {
	if store == nil {
		return nil, fmt.Errorf("frontier requires a store")
	}
	if validator == nil {
		validator = ValidatorFunc(func(string) bool { return true })
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	f := &Frontier{
		store:     store,
		validator: validator,
		limiter:   NewRateLimiter(cfg.Politeness),
		queue:     list.New(),
		inFlight:  make(map[task.Key]struct{}),
		changed:   make(chan struct{}),
		now:       now,
		logger:    logger.Named("frontier"),
	}

	existing, err := store.Len(ctx)
	if err != nil {
		return nil, fmt.Errorf("count stored tasks: %w", err)
	}

	if cfg.Fresh || existing == 0 {
		if err := f.seed(ctx, cfg.Seeds); err != nil {
			return nil, err
		}
	} else {
		if len(cfg.Seeds) > 0 {
			f.logger.Info("Resuming from store, seed URLs ignored", zap.Int("seeds", len(cfg.Seeds)))
		}
		if err := f.resume(ctx); err != nil {
			return nil, err
		}
	}

	f.publish()
	return f, nil
}

func (f *Frontier) seed(ctx context.Context, seeds []string) error {
	for _, raw := range seeds {
		t, err := task.Normalize(raw)
		if err != nil {
			f.logger.Warn("Dropping malformed seed", zap.String("url", raw), zap.Error(err))
			continue
		}
		if !f.validator.Valid(string(t)) {
			f.logger.Warn("Dropping seed rejected by filter", zap.String("url", string(t)))
			continue
		}
		if _, err := f.Submit(ctx, string(t)); err != nil {
			return fmt.Errorf("seed %s: %w", t, err)
		}
	}
	f.logger.Info("Seeded frontier", zap.Int("seeds", len(seeds)), zap.Int("queued", f.queue.Len()))
	return nil
}

func (f *Frontier) resume(ctx context.Context) error {
	var total, done, filtered int
	err := f.store.Scan(ctx, func(_ task.Key, rec storage.Record) error {
		total++
		switch {
		case rec.Done:
			done++
		case !f.validator.Valid(string(rec.Task)):
			filtered++
		default:
			f.queue.PushBack(rec.Task)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("resume from store: %w", err)
	}
	f.logger.Info("Resumed frontier from store",
		zap.Int("records", total),
		zap.Int("done", done),
		zap.Int("filtered", filtered),
		zap.Int("queued", f.queue.Len()))
	return nil
}

// Acquire blocks until a task may be fetched without breaking politeness and
// returns it. It returns ErrExhausted when nothing is queued and nothing is
// in flight, and on every call after that. Cancellation of ctx returns an
// error wrapping both ErrCancelled and ctx.Err().
func (f *Frontier) Acquire(ctx context.Context) (task.Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("%w: %w", ErrCancelled, err)
		}

		f.mu.Lock()
		if f.exhausted {
			f.mu.Unlock()
			return "", ErrExhausted
		}

		if f.queue.Len() == 0 {
			if len(f.inFlight) == 0 {
				f.exhausted = true
				f.signalLocked()
				f.mu.Unlock()
				f.logger.Info("Frontier exhausted")
				return "", ErrExhausted
			}
			// Another worker may still submit outlinks.
			wait := f.changed
			f.mu.Unlock()
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
			case <-wait:
			}
			continue
		}

		t := f.queue.Remove(f.queue.Back()).(task.Task)
		wait, ok := f.limiter.TryAcquire(t.Domain(), f.now())
		if ok {
			f.inFlight[t.Key()] = struct{}{}
			f.publishLocked()
			f.mu.Unlock()
			return t, nil
		}
		f.queue.PushFront(t)
		f.mu.Unlock()

		metrics.ObservePolitenessWait(wait)
		if err := sleep(ctx, wait); err != nil {
			return "", fmt.Errorf("%w: %w", ErrCancelled, err)
		}
	}
}

// Submit offers a raw URL discovered during the crawl. Malformed and
// filtered URLs are dropped silently. It reports whether a new task was
// queued; URLs already known, done or not, are never queued again. Only
// store failures are returned.
func (f *Frontier) Submit(ctx context.Context, raw string) (bool, error) {
	t, err := task.Normalize(raw)
	if err != nil {
		metrics.ObserveSubmit(metrics.SubmitRejected)
		return false, nil
	}
	if !f.validator.Valid(string(t)) {
		metrics.ObserveSubmit(metrics.SubmitRejected)
		return false, nil
	}
	key := t.Key()

	f.mu.Lock()
	defer f.mu.Unlock()

	_, exists, err := f.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("look up %s: %w", t, err)
	}
	if exists {
		metrics.ObserveSubmit(metrics.SubmitDuplicate)
		return false, nil
	}
	if err := f.store.Put(ctx, key, storage.Record{Task: t}); err != nil {
		return false, fmt.Errorf("persist %s: %w", t, err)
	}

	f.queue.PushBack(t)
	f.signalLocked()
	f.publishLocked()
	metrics.ObserveSubmit(metrics.SubmitAccepted)
	return true, nil
}

// Complete persists t as done and releases its in-flight slot. A task with
// no record yields ErrUnknownTask.
func (f *Frontier) Complete(ctx context.Context, t task.Task) error {
	key := t.Key()

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.inFlight[key]; ok {
		delete(f.inFlight, key)
		f.signalLocked()
		f.publishLocked()
	}

	rec, exists, err := f.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("look up %s: %w", t, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownTask, t)
	}
	if rec.Done {
		return nil
	}

	rec.Done = true
	if err := f.store.Put(ctx, key, rec); err != nil {
		return fmt.Errorf("mark %s done: %w", t, err)
	}
	metrics.ObserveComplete()
	return nil
}

// Pending returns the number of queued tasks.
func (f *Frontier) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queue.Len()
}

// InFlight returns the number of acquired tasks not yet completed.
func (f *Frontier) InFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inFlight)
}

// Close stops dispatch: waiting and later Acquire calls return ErrExhausted.
// Queued tasks stay pending in the store. The store itself is owned by the
// caller and is not closed.
func (f *Frontier) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.exhausted {
		f.exhausted = true
		f.signalLocked()
	}
	return nil
}

func (f *Frontier) signalLocked() {
	close(f.changed)
	f.changed = make(chan struct{})
}

func (f *Frontier) publish() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishLocked()
}

func (f *Frontier) publishLocked() {
	metrics.SetFrontierState(f.queue.Len(), len(f.inFlight))
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
