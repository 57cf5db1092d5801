// Package parser extracts outlinks from fetched HTML documents.
package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/masahif/politecrawl/internal/crawler"
	"github.com/masahif/politecrawl/internal/task"
)

// LinkExtractor pulls absolute anchor targets out of HTML responses.
type LinkExtractor struct {
	allowedSchemes []string
}

var _ crawler.Extractor = (*LinkExtractor)(nil)

// NewLinkExtractor creates an extractor with default allowed schemes
func NewLinkExtractor() *LinkExtractor {
	return NewLinkExtractorWithSchemes(nil)
}

// NewLinkExtractorWithSchemes creates an extractor that keeps only links
// with one of the given schemes ("http", "https" when empty).
func NewLinkExtractorWithSchemes(schemes []string) *LinkExtractor {
	if len(schemes) == 0 {
		schemes = []string{"http", "https"}
	}
	allowed := make([]string, 0, len(schemes))
	for _, s := range schemes {
		allowed = append(allowed, strings.ToLower(strings.TrimSuffix(s, "://")))
	}
	return &LinkExtractor{allowedSchemes: allowed}
}

// Extract returns the absolute, fragment-free outlinks of res in document
// order. Only successful HTML responses yield links. Relative references
// resolve against the final URL after redirects, falling back to t.
func (e *LinkExtractor) Extract(t task.Task, res *crawler.FetchResult) ([]string, error) {
	if !res.IsHTML() {
		return nil, nil
	}

	baseRaw := res.FinalURL
	if baseRaw == "" {
		baseRaw = t.String()
	}
	base, err := url.Parse(baseRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base URL %q: %v", crawler.ErrExtract, baseRaw, err)
	}

	doc, err := html.Parse(bytes.NewReader(res.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse HTML of %s: %v", crawler.ErrExtract, t, err)
	}

	p := &pageLinks{extractor: e, base: base, seen: make(map[string]struct{})}
	p.traverse(doc)
	return p.links, nil
}

// pageLinks accumulates the links of a single document
type pageLinks struct {
	extractor *LinkExtractor
	base      *url.URL
	seen      map[string]struct{}
	links     []string
}

// traverse recursively walks the HTML tree
func (p *pageLinks) traverse(n *html.Node) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "base":
			p.parseBase(n)
		case "a", "area":
			p.parseAnchor(n)
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		p.traverse(c)
	}
}

// parseBase honours <base href>, which changes how later links resolve
func (p *pageLinks) parseBase(n *html.Node) {
	href := strings.TrimSpace(attr(n, "href"))
	if href == "" {
		return
	}
	u, err := url.Parse(href)
	if err != nil {
		return
	}
	p.base = p.base.ResolveReference(u)
}

func (p *pageLinks) parseAnchor(n *html.Node) {
	href := strings.TrimSpace(attr(n, "href"))
	if href == "" || strings.HasPrefix(href, "#") {
		return
	}

	ref, err := url.Parse(href)
	if err != nil {
		return
	}
	abs := p.base.ResolveReference(ref)
	if !p.extractor.isAllowedScheme(abs.Scheme) || abs.Host == "" {
		return
	}
	abs.Fragment = ""
	abs.RawFragment = ""

	link := abs.String()
	if _, dup := p.seen[link]; dup {
		return
	}
	p.seen[link] = struct{}{}
	p.links = append(p.links, link)
}

func (e *LinkExtractor) isAllowedScheme(scheme string) bool {
	scheme = strings.ToLower(scheme)
	for _, s := range e.allowedSchemes {
		if s == scheme {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
