package crawler

import (
	"context"
	"time"

	"github.com/masahif/politecrawl/internal/task"
)

// Crawler defines the main crawling interface
type Crawler interface {
	Start(ctx context.Context) error
	Join() error
	Stop()
	GetStats() CrawlStats
}

// Frontier is the shared task queue the workers drain.
type Frontier interface {
	Acquire(ctx context.Context) (task.Task, error)
	Submit(ctx context.Context, raw string) (bool, error)
	Complete(ctx context.Context, t task.Task) error
	Pending() int
	InFlight() int
}

// Fetcher retrieves the resource behind a task.
type Fetcher interface {
	Fetch(ctx context.Context, t task.Task) (*FetchResult, error)
}

// Extractor returns the raw outlinks of a fetched resource. Non-HTML and
// non-2xx results yield no links.
type Extractor interface {
	Extract(t task.Task, res *FetchResult) ([]string, error)
}

// CrawlStats represents crawling statistics
type CrawlStats struct {
	PagesCrawled int
	ErrorCount   int
	StartTime    time.Time
	Duration     time.Duration
}
