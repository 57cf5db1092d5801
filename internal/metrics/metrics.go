// Package metrics exposes Prometheus collectors for the frontier and the
// worker pool.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Submission outcomes.
const (
	SubmitAccepted  = "accepted"
	SubmitDuplicate = "duplicate"
	SubmitRejected  = "rejected"
)

// Page outcomes.
const (
	PageOK           = "ok"
	PageFetchError   = "fetch_error"
	PageExtractError = "extract_error"
	PagePanic        = "panic"
)

var (
	frontierSubmittedTotal      *prometheus.CounterVec
	frontierCompletedTotal      prometheus.Counter
	frontierQueueLength         prometheus.Gauge
	frontierInFlight            prometheus.Gauge
	frontierPolitenessWait      prometheus.Histogram
	crawlerPagesTotal           *prometheus.CounterVec
	crawlerBytesTotal           prometheus.Counter
	crawlerActiveWorkers        prometheus.Gauge
	crawlerFetchDurationSeconds prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		frontierSubmittedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frontier_tasks_submitted_total",
				Help: "Total number of submitted tasks, labeled by outcome.",
			},
			[]string{"result"},
		)

		frontierCompletedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "frontier_tasks_completed_total",
				Help: "Total number of tasks marked done.",
			},
		)

		frontierQueueLength = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "frontier_queue_length",
				Help: "Number of tasks waiting in the ready queue.",
			},
		)

		frontierInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "frontier_in_flight",
				Help: "Number of tasks handed to workers and not yet completed.",
			},
		)

		frontierPolitenessWait = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "frontier_politeness_wait_seconds",
				Help:    "Histogram of per-domain politeness waits.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		)

		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of pages processed, labeled by outcome.",
			},
			[]string{"status"},
		)

		crawlerBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of body bytes fetched.",
			},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently running.",
			},
		)

		crawlerFetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSubmit counts one submission outcome.
func ObserveSubmit(result string) {
	Init()
	frontierSubmittedTotal.WithLabelValues(result).Inc()
}

// ObserveComplete counts one completed task.
func ObserveComplete() {
	Init()
	frontierCompletedTotal.Inc()
}

// SetFrontierState publishes the queue length and in-flight count.
func SetFrontierState(pending, inFlight int) {
	Init()
	frontierQueueLength.Set(float64(pending))
	frontierInFlight.Set(float64(inFlight))
}

// ObservePolitenessWait records a politeness sleep.
func ObservePolitenessWait(d time.Duration) {
	Init()
	frontierPolitenessWait.Observe(d.Seconds())
}

// ObservePage counts one processed page and its body size.
func ObservePage(status string, bytesFetched int) {
	Init()
	crawlerPagesTotal.WithLabelValues(status).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.Add(float64(bytesFetched))
	}
}

// ObserveFetch records the latency of one fetch.
func ObserveFetch(d time.Duration) {
	Init()
	crawlerFetchDurationSeconds.Observe(d.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}
