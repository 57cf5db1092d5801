package frontier

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/masahif/politecrawl/internal/storage"
	"github.com/masahif/politecrawl/internal/task"
)

func openStore(t *testing.T, path string, fresh bool) storage.Store {
	t.Helper()
	s, err := storage.NewSQLiteStore(context.Background(), path, fresh)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestFrontier(t *testing.T, cfg Config, validator Validator) (*Frontier, storage.Store) {
	t.Helper()
	s := openStore(t, filepath.Join(t.TempDir(), "frontier.db"), true)
	cfg.Fresh = true
	f, err := New(context.Background(), s, validator, cfg, zap.NewNop())
	require.NoError(t, err)
	return f, s
}

func rejectHost(host string) Validator {
	return ValidatorFunc(func(raw string) bool {
		return !strings.Contains(raw, "://"+host+"/")
	})
}

func mustTask(t *testing.T, raw string) task.Task {
	t.Helper()
	tk, err := task.Normalize(raw)
	require.NoError(t, err)
	return tk
}

func TestSubmitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f, s := newTestFrontier(t, Config{}, nil)

	added, err := f.Submit(ctx, "http://a.test/page")
	require.NoError(t, err)
	assert.True(t, added)

	for _, variant := range []string{
		"http://a.test/page",
		"HTTP://A.test:80/page/",
		"http://a.test/page#frag",
		"https://a.test/page",
	} {
		added, err := f.Submit(ctx, variant)
		require.NoError(t, err)
		assert.False(t, added, variant)
	}

	assert.Equal(t, 1, f.Pending())
	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSubmitDropsMalformedAndFiltered(t *testing.T) {
	ctx := context.Background()
	f, s := newTestFrontier(t, Config{}, rejectHost("b.test"))

	for _, raw := range []string{"", "not a url", "mailto:x@a.test", "http://b.test/"} {
		added, err := f.Submit(ctx, raw)
		require.NoError(t, err)
		assert.False(t, added, raw)
	}

	assert.Zero(t, f.Pending())
	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSubmitAfterCompleteIsNoop(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFrontier(t, Config{Seeds: []string{"http://a.test/"}}, nil)

	tk, err := f.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, f.Complete(ctx, tk))

	added, err := f.Submit(ctx, "http://a.test/")
	require.NoError(t, err)
	assert.False(t, added)
	assert.Zero(t, f.Pending())
}

func TestCompleteUnknownTask(t *testing.T) {
	f, _ := newTestFrontier(t, Config{}, nil)

	err := f.Complete(context.Background(), mustTask(t, "http://never.test/"))
	require.ErrorIs(t, err, ErrUnknownTask)
}

func TestAcquireIsLIFO(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFrontier(t, Config{
		Seeds: []string{"http://a.test/", "http://b.test/", "http://c.test/"},
	}, nil)

	var got []task.Task
	for i := 0; i < 3; i++ {
		tk, err := f.Acquire(ctx)
		require.NoError(t, err)
		got = append(got, tk)
	}
	assert.Equal(t, []task.Task{"http://c.test/", "http://b.test/", "http://a.test/"}, got)
}

func TestPolitenessIsEnforcedPerDomain(t *testing.T) {
	ctx := context.Background()
	const d = 40 * time.Millisecond
	f, _ := newTestFrontier(t, Config{
		Seeds: []string{
			"http://a.test/1", "http://a.test/2", "http://a.test/3",
			"http://b.test/1", "http://b.test/2",
		},
		Politeness: d,
	}, nil)

	grants := map[string][]time.Time{}
	for i := 0; i < 5; i++ {
		tk, err := f.Acquire(ctx)
		require.NoError(t, err)
		last, ok := f.limiter.Last(tk.Domain())
		require.True(t, ok)
		grants[tk.Domain()] = append(grants[tk.Domain()], last)
		require.NoError(t, f.Complete(ctx, tk))
	}

	require.Len(t, grants["a.test"], 3)
	require.Len(t, grants["b.test"], 2)
	for domain, times := range grants {
		for i := 1; i < len(times); i++ {
			assert.GreaterOrEqual(t, times[i].Sub(times[i-1]), d, domain)
		}
	}
}

func TestPolitenessHoldsUnderConcurrentWorkers(t *testing.T) {
	ctx := context.Background()
	const (
		d       = 15 * time.Millisecond
		pages   = 40
		workers = 8
		// Grants are stamped after Acquire returns, so scheduling can
		// shave a little off a gap.
		slack = 2 * time.Millisecond
	)

	seeds := make([]string, pages)
	for i := range seeds {
		seeds[i] = fmt.Sprintf("http://a.test/%d", i)
	}
	f, _ := newTestFrontier(t, Config{Seeds: seeds, Politeness: d}, nil)

	var mu sync.Mutex
	var grants []time.Time
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				tk, err := f.Acquire(ctx)
				if errors.Is(err, ErrExhausted) {
					return
				}
				if !assert.NoError(t, err) {
					return
				}
				at := time.Now()
				mu.Lock()
				grants = append(grants, at)
				mu.Unlock()
				assert.NoError(t, f.Complete(ctx, tk))
			}
		}()
	}
	wg.Wait()

	require.Len(t, grants, pages)
	sort.Slice(grants, func(i, j int) bool { return grants[i].Before(grants[j]) })
	for i := 1; i < len(grants); i++ {
		assert.GreaterOrEqual(t, grants[i].Sub(grants[i-1]), d-slack, "grant %d", i)
	}
	assert.GreaterOrEqual(t, grants[len(grants)-1].Sub(grants[0]), time.Duration(pages-1)*(d-slack))
}

func TestExhaustionIsSticky(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFrontier(t, Config{}, nil)

	_, err := f.Acquire(ctx)
	require.ErrorIs(t, err, ErrExhausted)

	added, err := f.Submit(ctx, "http://a.test/late")
	require.NoError(t, err)
	require.True(t, added)

	_, err = f.Acquire(ctx)
	require.ErrorIs(t, err, ErrExhausted)
}

func TestAcquireWaitsForInFlightWork(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFrontier(t, Config{Seeds: []string{"http://a.test/"}}, nil)

	first, err := f.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.InFlight())

	type result struct {
		tk  task.Task
		err error
	}
	got := make(chan result, 1)
	go func() {
		tk, err := f.Acquire(ctx)
		got <- result{tk, err}
	}()

	select {
	case r := <-got:
		t.Fatalf("acquire returned early: %v %v", r.tk, r.err)
	case <-time.After(30 * time.Millisecond):
	}

	added, err := f.Submit(ctx, "http://b.test/outlink")
	require.NoError(t, err)
	require.True(t, added)

	select {
	case r := <-got:
		require.NoError(t, r.err)
		assert.Equal(t, task.Task("http://b.test/outlink"), r.tk)
		require.NoError(t, f.Complete(ctx, r.tk))
	case <-time.After(2 * time.Second):
		t.Fatal("waiting acquire not woken by submit")
	}

	require.NoError(t, f.Complete(ctx, first))
	_, err = f.Acquire(ctx)
	require.ErrorIs(t, err, ErrExhausted)
}

func TestCompleteWakesWaitersIntoExhaustion(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFrontier(t, Config{Seeds: []string{"http://a.test/"}}, nil)

	tk, err := f.Acquire(ctx)
	require.NoError(t, err)

	const waiters = 3
	var wg sync.WaitGroup
	errs := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.Acquire(ctx)
			errs <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, f.Complete(ctx, tk))
	wg.Wait()
	close(errs)
	for err := range errs {
		require.ErrorIs(t, err, ErrExhausted)
	}
}

func TestAcquireCancelledDuringPolitenessWait(t *testing.T) {
	f, _ := newTestFrontier(t, Config{
		Seeds:      []string{"http://a.test/1", "http://a.test/2"},
		Politeness: 10 * time.Second,
	}, nil)

	_, err := f.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = f.Acquire(ctx)
	require.ErrorIs(t, err, ErrCancelled)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1, f.Pending())
}

func TestCloseReleasesWaiters(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFrontier(t, Config{Seeds: []string{"http://a.test/"}}, nil)

	_, err := f.Acquire(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := f.Acquire(ctx)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, f.Close())

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrExhausted)
	case <-time.After(2 * time.Second):
		t.Fatal("close did not release waiter")
	}
}

func TestResumeFidelity(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "frontier.db")
	s := openStore(t, path, true)

	a := mustTask(t, "http://a.test/")
	b := mustTask(t, "http://b.test/")
	c := mustTask(t, "http://c.test/")
	require.NoError(t, s.Put(ctx, a.Key(), storage.Record{Task: a, Done: true}))
	require.NoError(t, s.Put(ctx, b.Key(), storage.Record{Task: b}))
	require.NoError(t, s.Put(ctx, c.Key(), storage.Record{Task: c}))

	f, err := New(ctx, s, rejectHost("c.test"), Config{Seeds: []string{"http://seed.test/"}}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, f.Pending())

	tk, err := f.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, b, tk)
	require.NoError(t, f.Complete(ctx, tk))

	_, err = f.Acquire(ctx)
	require.ErrorIs(t, err, ErrExhausted)

	_, seeded, err := s.Get(ctx, mustTask(t, "http://seed.test/").Key())
	require.NoError(t, err)
	assert.False(t, seeded)
}

func TestCrashResumeDoesNotRedispatchCompleted(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "frontier.db")

	s, err := storage.NewSQLiteStore(ctx, path, true)
	require.NoError(t, err)
	f, err := New(ctx, s, nil, Config{Seeds: []string{"http://a.test/"}, Fresh: true}, zap.NewNop())
	require.NoError(t, err)

	a, err := f.Acquire(ctx)
	require.NoError(t, err)
	_, err = f.Submit(ctx, "http://a.test/next")
	require.NoError(t, err)
	require.NoError(t, f.Complete(ctx, a))
	// Killed here: no further I/O, nothing else closed cleanly.
	require.NoError(t, s.Close())

	reopened := openStore(t, path, false)
	resumed, err := New(ctx, reopened, nil, Config{Seeds: []string{"http://a.test/"}}, zap.NewNop())
	require.NoError(t, err)

	tk, err := resumed.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, task.Task("http://a.test/next"), tk)
	require.NoError(t, resumed.Complete(ctx, tk))

	_, err = resumed.Acquire(ctx)
	require.ErrorIs(t, err, ErrExhausted)
}

func TestConcreteScenario(t *testing.T) {
	ctx := context.Background()
	f, s := newTestFrontier(t, Config{Seeds: []string{"http://a.test/"}}, rejectHost("b.test"))

	root, err := f.Acquire(ctx)
	require.NoError(t, err)
	for _, link := range []string{"http://a.test/x", "http://a.test/x", "http://b.test/"} {
		_, err := f.Submit(ctx, link)
		require.NoError(t, err)
	}
	require.NoError(t, f.Complete(ctx, root))

	x, err := f.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, task.Task("http://a.test/x"), x)
	require.NoError(t, f.Complete(ctx, x))

	_, err = f.Acquire(ctx)
	require.ErrorIs(t, err, ErrExhausted)

	records := map[task.Task]bool{}
	require.NoError(t, s.Scan(ctx, func(_ task.Key, rec storage.Record) error {
		records[rec.Task] = rec.Done
		return nil
	}))
	assert.Equal(t, map[task.Task]bool{
		"http://a.test/":  true,
		"http://a.test/x": true,
	}, records)
}

func TestNewPropagatesStoreErrors(t *testing.T) {
	boom := errors.New("boom")
	_, err := New(context.Background(), failingStore{err: boom}, nil, Config{}, nil)
	require.ErrorIs(t, err, boom)
}

type failingStore struct{ err error }

func (s failingStore) Get(context.Context, task.Key) (storage.Record, bool, error) {
	return storage.Record{}, false, s.err
}
func (s failingStore) Put(context.Context, task.Key, storage.Record) error { return s.err }
func (s failingStore) Scan(context.Context, func(task.Key, storage.Record) error) error {
	return s.err
}
func (s failingStore) Len(context.Context) (int, error) { return 0, s.err }
func (s failingStore) Close() error { return nil }
