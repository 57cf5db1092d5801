package crawler

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/masahif/politecrawl/internal/frontier"
	"github.com/masahif/politecrawl/internal/metrics"
	"github.com/masahif/politecrawl/internal/task"
)

// errInterrupted marks a task abandoned because the crawl is shutting down.
var errInterrupted = errors.New("task interrupted by shutdown")

// outcome of a single task
type outcome struct {
	links  []string
	status string
	bytes  int
}

// worker drains the frontier until it is exhausted, the page limit is
// reached or ctx ends. Only store failures are returned.
func (c *Controller) worker(ctx context.Context, id int) error {
	defer c.handleWorkerShutdown(id)

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger := c.logger.With(zap.Int("worker_id", id))
	logger.Debug("Worker started")

	for {
		if !c.claimSlot() {
			logger.Info("Worker reached limit")
			return nil
		}

		t, err := c.frontier.Acquire(ctx)
		switch {
		case errors.Is(err, frontier.ErrExhausted):
			logger.Debug("Frontier exhausted, exiting")
			return nil
		case errors.Is(err, frontier.ErrCancelled), ctx.Err() != nil:
			return nil
		case err != nil:
			return fatal("acquire", err)
		}

		if err := c.process(ctx, logger, t); err != nil {
			if errors.Is(err, errInterrupted) {
				logger.Info("Task left pending for the next run", zap.String("url", t.String()))
				return nil
			}
			return err
		}

		if !workerSleep(ctx, c.config.GlobalDelay()) {
			return nil
		}
	}
}

// process runs one task to completion. Fetch and extract failures are
// contained to the task; the task is still marked complete.
func (c *Controller) process(ctx context.Context, logger *zap.Logger, t task.Task) error {
	out := c.fetchAndExtract(ctx, logger, t)
	if out.status == metrics.PageFetchError && ctx.Err() != nil {
		return errInterrupted
	}

	// Results of a finished fetch are persisted even while shutting down.
	storeCtx := context.WithoutCancel(ctx)

	accepted := 0
	for _, link := range out.links {
		added, err := c.frontier.Submit(storeCtx, link)
		if err != nil {
			return fatal("submit "+link, err)
		}
		if added {
			accepted++
		}
	}

	if err := c.frontier.Complete(storeCtx, t); err != nil {
		if !errors.Is(err, frontier.ErrUnknownTask) {
			return fatal("complete "+t.String(), err)
		}
		logger.Warn("Completed task was not handed out", zap.String("url", t.String()))
	}

	c.recordPage(out.status != metrics.PageOK)
	metrics.ObservePage(out.status, out.bytes)

	logger.Info("Worker processed URL",
		zap.String("url", t.String()),
		zap.String("status", out.status),
		zap.Int("links", len(out.links)),
		zap.Int("accepted", accepted),
	)
	return nil
}

// fetchAndExtract runs the collaborators for t. A panic in either one is
// recovered and reported as a failed task.
func (c *Controller) fetchAndExtract(ctx context.Context, logger *zap.Logger, t task.Task) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered from panic while processing task",
				zap.String("url", t.String()),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			out = outcome{status: metrics.PagePanic}
		}
	}()

	res, err := c.fetcher.Fetch(ctx, t)
	if err == nil && res == nil {
		err = ErrFetch
	}
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("Failed to fetch", zap.String("url", t.String()), zap.Error(err))
		}
		return outcome{status: metrics.PageFetchError}
	}

	links, err := c.extractor.Extract(t, res)
	if err != nil {
		logger.Warn("Failed to extract links", zap.String("url", t.String()), zap.Error(err))
		return outcome{status: metrics.PageExtractError, bytes: len(res.Body)}
	}

	return outcome{links: links, status: metrics.PageOK, bytes: len(res.Body)}
}
