// Package fetch retrieves crawl tasks over HTTP.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/masahif/politecrawl/internal/config"
	"github.com/masahif/politecrawl/internal/crawler"
	"github.com/masahif/politecrawl/internal/metrics"
	"github.com/masahif/politecrawl/internal/task"
)

const maxRedirects = 10

// HTTPFetcher performs GET requests for tasks
type HTTPFetcher struct {
	client       *http.Client
	userAgent    string
	username     string
	password     string
	maxBodyBytes int64
	logger       *zap.Logger
}

var _ crawler.Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher builds a fetcher from the fetch section of the config.
// When a proxy URL is set every request is routed through it, which is how
// a shared page cache is plugged in.
func NewHTTPFetcher(cfg *config.CrawlConfig, logger *zap.Logger) (*HTTPFetcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	if cfg.Fetch.ProxyURL != "" {
		proxy, err := url.Parse(cfg.Fetch.ProxyURL)
		if err != nil || proxy.Host == "" {
			return nil, fmt.Errorf("invalid proxy URL %q", cfg.Fetch.ProxyURL)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.Fetch.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	username, password := cfg.GetBasicAuthCredentials()

	return &HTTPFetcher{
		client:       client,
		userAgent:    cfg.Fetch.UserAgent,
		username:     username,
		password:     password,
		maxBodyBytes: cfg.Fetch.MaxBodyBytes,
		logger:       logger.Named("fetch"),
	}, nil
}

// Fetch downloads t. Any status code is a successful fetch; transport
// failures are wrapped in crawler.ErrFetch. Bodies longer than the
// configured maximum are truncated.
func (h *HTTPFetcher) Fetch(ctx context.Context, t task.Task) (*crawler.FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", crawler.ErrFetch, err)
	}

	req.Header.Set("User-Agent", h.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	if h.username != "" && h.password != "" {
		req.SetBasicAuth(h.username, h.password)
	}

	var firstByte time.Time
	trace := &httptrace.ClientTrace{
		GotFirstResponseByte: func() { firstByte = time.Now() },
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", crawler.ErrFetch, t, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var body io.Reader = resp.Body
	if h.maxBodyBytes > 0 {
		body = io.LimitReader(resp.Body, h.maxBodyBytes)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body of %s: %w", crawler.ErrFetch, t, err)
	}

	elapsed := time.Since(start)
	metrics.ObserveFetch(elapsed)

	fields := []zap.Field{
		zap.String("url", t.String()),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(data)),
		zap.Duration("duration", elapsed),
	}
	if !firstByte.IsZero() {
		fields = append(fields, zap.Duration("ttfb", firstByte.Sub(start)))
	}
	h.logger.Debug("Fetched", fields...)

	return &crawler.FetchResult{
		StatusCode:  resp.StatusCode,
		Body:        data,
		ContentType: resp.Header.Get("Content-Type"),
		FinalURL:    resp.Request.URL.String(),
		Duration:    elapsed,
	}, nil
}

// Close releases idle connections
func (h *HTTPFetcher) Close() {
	h.client.CloseIdleConnections()
}
