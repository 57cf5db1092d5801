package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masahif/politecrawl/internal/crawler"
	"github.com/masahif/politecrawl/internal/task"
)

func htmlResult(body string) *crawler.FetchResult {
	return &crawler.FetchResult{
		StatusCode:  200,
		Body:        []byte(body),
		ContentType: "text/html; charset=utf-8",
		FinalURL:    "https://example.com/dir/test-page",
	}
}

func TestLinkExtractor(t *testing.T) {
	htmlContent := `
<!DOCTYPE html>
<html>
<head>
	<title>Test Page Title</title>
</head>
<body>
	<a href="/relative-link">Relative Link</a>
	<a href="https://example.com/absolute-link">Absolute Link</a>
	<a href="https://external.com/page" rel="nofollow">External Link</a>
	<a href="sibling#section">Sibling</a>
	<a href="#anchor">Anchor Link</a>
	<a href="javascript:void(0)">JS Link</a>
	<a href="mailto:test@example.com">Email Link</a>
	<a href="tel:+1234567890">Phone Link</a>
	<a href="ftp://example.com/file">FTP Link</a>
	<a href="/relative-link">Duplicate</a>
	<a>No href</a>
</body>
</html>
`

	links, err := NewLinkExtractor().Extract(task.Task("https://example.com/dir/test-page"), htmlResult(htmlContent))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://example.com/relative-link",
		"https://example.com/absolute-link",
		"https://external.com/page",
		"https://example.com/dir/sibling",
	}, links)
}

func TestLinkExtractorResolvesAgainstFinalURL(t *testing.T) {
	res := htmlResult(`<a href="next">Next</a>`)
	res.FinalURL = "https://example.com/moved/here"

	links, err := NewLinkExtractor().Extract(task.Task("https://example.com/original"), res)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/moved/next"}, links)
}

func TestLinkExtractorFallsBackToTask(t *testing.T) {
	res := htmlResult(`<a href="next">Next</a>`)
	res.FinalURL = ""

	links, err := NewLinkExtractor().Extract(task.Task("http://a.test/x/y"), res)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a.test/x/next"}, links)
}

func TestLinkExtractorHonoursBaseElement(t *testing.T) {
	res := htmlResult(`<html><head><base href="https://cdn.example.com/root/"></head><body><a href="page">P</a></body></html>`)

	links, err := NewLinkExtractor().Extract(task.Task("https://example.com/"), res)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.example.com/root/page"}, links)
}

func TestLinkExtractorSkipsNonHTML(t *testing.T) {
	tests := []struct {
		name   string
		status int
		ctype  string
	}{
		{"not found", 404, "text/html"},
		{"server error", 500, "text/html"},
		{"redirect", 301, "text/html"},
		{"json", 200, "application/json"},
		{"image", 200, "image/png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := htmlResult(`<a href="/x">x</a>`)
			res.StatusCode = tt.status
			res.ContentType = tt.ctype

			links, err := NewLinkExtractor().Extract(task.Task("https://example.com/"), res)
			require.NoError(t, err)
			assert.Empty(t, links)
		})
	}
}

func TestLinkExtractorCustomSchemes(t *testing.T) {
	res := htmlResult(`<a href="http://example.com/plain">a</a><a href="https://example.com/secure">b</a>`)

	links, err := NewLinkExtractorWithSchemes([]string{"https://"}).Extract(task.Task("https://example.com/"), res)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/secure"}, links)
}

func TestLinkExtractorEmptyContent(t *testing.T) {
	links, err := NewLinkExtractor().Extract(task.Task("https://example.com/"), htmlResult(""))
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestLinkExtractorBadBase(t *testing.T) {
	res := htmlResult(`<a href="/x">x</a>`)
	res.FinalURL = "http://[::1"

	_, err := NewLinkExtractor().Extract(task.Task("https://example.com/"), res)
	assert.ErrorIs(t, err, crawler.ErrExtract)
}
