package crawler

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrFetch marks a failed fetch. It is contained to the task.
	ErrFetch = errors.New("fetch failed")
	// ErrExtract marks a failed link extraction. It is contained to the task.
	ErrExtract = errors.New("extract failed")
)

// FetchResult is what a Fetcher hands to an Extractor
type FetchResult struct {
	StatusCode  int           // HTTP status code (200, 404, 500, etc.)
	Body        []byte        // Response body, possibly truncated
	ContentType string        // HTTP Content-Type header
	FinalURL    string        // URL after redirects; relative links resolve against it
	Duration    time.Duration // Total download time
}

// IsHTML reports whether the result is a successful HTML response.
func (r *FetchResult) IsHTML() bool {
	if r == nil || r.StatusCode < 200 || r.StatusCode > 299 {
		return false
	}
	return strings.Contains(strings.ToLower(r.ContentType), "html")
}
