// Package crawler drives a pool of workers over a shared frontier.
// Each worker acquires a task, fetches it, extracts outlinks, submits them
// back to the frontier and marks the task complete.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/masahif/politecrawl/internal/config"
)

var (
	// ErrAlreadyStarted is returned by Start on a controller that already ran.
	ErrAlreadyStarted = errors.New("controller already started")
	// ErrNotStarted is returned by Join before Start.
	ErrNotStarted = errors.New("controller not started")
)

// Controller implements the Crawler interface
type Controller struct {
	config    *config.CrawlConfig
	frontier  Frontier
	fetcher   Fetcher
	extractor Extractor
	logger    *zap.Logger
	runID     string

	// State
	stats      CrawlStats
	claimed    int
	statsMutex sync.RWMutex

	lifecycle     sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
	group         *errgroup.Group
	workersDone   chan struct{}
	activeWorkers int
	workersMutex  sync.Mutex
}

var _ Crawler = (*Controller)(nil)

// NewController wires the frontier and the task collaborators into a
// controller. Nothing runs until Start.
func NewController(cfg *config.CrawlConfig, frontier Frontier, fetcher Fetcher, extractor Extractor, logger *zap.Logger) (*Controller, error) {
	switch {
	case cfg == nil:
		return nil, errors.New("nil config")
	case frontier == nil:
		return nil, errors.New("nil frontier")
	case fetcher == nil:
		return nil, errors.New("nil fetcher")
	case extractor == nil:
		return nil, errors.New("nil extractor")
	}
	if cfg.Concurrency <= 0 {
		return nil, config.ErrInvalidConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	runID := uuid.NewString()
	return &Controller{
		config:    cfg,
		frontier:  frontier,
		fetcher:   fetcher,
		extractor: extractor,
		logger:    logger.Named("crawler").With(zap.String("run_id", runID)),
		runID:     runID,
	}, nil
}

// RunID identifies this crawl in logs
func (c *Controller) RunID() string {
	return c.runID
}

// Start spawns the workers and the stats reporter and returns immediately.
func (c *Controller) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.group != nil {
		return ErrAlreadyStarted
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(c.ctx)
	c.group = group
	c.workersDone = make(chan struct{})

	c.statsMutex.Lock()
	c.stats = CrawlStats{StartTime: time.Now()}
	c.statsMutex.Unlock()

	c.logger.Info("Starting crawler",
		zap.Int("concurrency", c.config.Concurrency),
		zap.Int("limit", c.config.Limit),
		zap.Int("pending", c.frontier.Pending()),
	)

	c.activeWorkers = c.config.Concurrency
	for i := 0; i < c.config.Concurrency; i++ {
		id := i
		group.Go(func() error {
			return c.worker(gctx, id)
		})
	}

	group.Go(func() error {
		c.statsReporter(gctx)
		return nil
	})

	return nil
}

// Join blocks until every worker has exited. It returns the first fatal
// error, if any. Per-task failures are never returned here.
func (c *Controller) Join() error {
	c.lifecycle.Lock()
	group := c.group
	c.lifecycle.Unlock()

	if group == nil {
		return ErrNotStarted
	}

	err := group.Wait()
	c.cancel()

	stats := c.GetStats()
	fields := []zap.Field{
		zap.Int("pages_crawled", stats.PagesCrawled),
		zap.Int("errors", stats.ErrorCount),
		zap.Duration("duration", stats.Duration),
		zap.Int("pending", c.frontier.Pending()),
	}
	if err != nil {
		c.logger.Error("Crawling aborted", append(fields, zap.Error(err))...)
		return err
	}
	c.logger.Info("Crawling completed", fields...)
	return nil
}

// Run starts the controller and waits for it to finish.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	return c.Join()
}

// Stop asks every worker to exit. Tasks already fetched are still
// recorded; tasks interrupted mid-fetch stay pending for the next run.
func (c *Controller) Stop() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
}

// GetStats returns current crawling statistics
func (c *Controller) GetStats() CrawlStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()

	stats := c.stats
	if !stats.StartTime.IsZero() {
		stats.Duration = time.Since(stats.StartTime)
	}
	return stats
}

// handleWorkerShutdown stops the stats reporter once the last worker exits
func (c *Controller) handleWorkerShutdown(id int) {
	c.workersMutex.Lock()
	c.activeWorkers--
	if c.activeWorkers == 0 {
		close(c.workersDone)
	}
	c.workersMutex.Unlock()
	c.logger.Debug("Worker stopped", zap.Int("worker_id", id))
}

// claimSlot reserves one page of the configured limit. It reports false
// once the limit is used up.
func (c *Controller) claimSlot() bool {
	c.statsMutex.Lock()
	defer c.statsMutex.Unlock()

	if c.config.Limit > 0 && c.claimed >= c.config.Limit {
		return false
	}
	c.claimed++
	return true
}

func (c *Controller) recordPage(failed bool) {
	c.statsMutex.Lock()
	defer c.statsMutex.Unlock()

	c.stats.PagesCrawled++
	if failed {
		c.stats.ErrorCount++
	}
}

// statsReporter periodically logs crawling statistics
func (c *Controller) statsReporter(ctx context.Context) {
	if c.config.StatsInterval <= 0 {
		return
	}

	ticker := time.NewTicker(c.config.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.workersDone:
			return
		case <-ticker.C:
			stats := c.GetStats()
			c.logger.Info("Crawling stats",
				zap.Int("pages_crawled", stats.PagesCrawled),
				zap.Int("errors", stats.ErrorCount),
				zap.Int("pending", c.frontier.Pending()),
				zap.Int("in_flight", c.frontier.InFlight()),
				zap.Duration("duration", stats.Duration.Round(time.Second)),
			)
		}
	}
}

// workerSleep applies the configured delay between tasks. It reports
// false when ctx ends first.
func workerSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func fatal(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}
