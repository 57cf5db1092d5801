// Package filter decides which URLs belong to a crawl. Rules are pure: the
// answer depends only on the URL, so they can be consulted under any lock.
package filter

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/masahif/politecrawl/internal/config"
)

// Non-text resources that are never worth fetching.
var binaryExtensions = regexp.MustCompile(`(?i)\.(css|js|bmp|gif|jpe?g|ico|png|tiff?|mid|mp2|mp3|mp4|wav|avi|mov|` +
	`mpeg|ram|m4v|mkv|ogg|ogv|pdf|ps|eps|tex|pptx?|docx?|xlsx?|names|data|` +
	`dat|exe|bz2|tar|msi|bin|7z|psd|dmg|iso|epub|dll|cnf|tgz|sha1|thmx|mso|` +
	`arff|rtf|jar|csv|rm|smil|wmv|swf|wma|zip|rar|gz)(/|$)`)

// Rules is a compiled FilterConfig.
type Rules struct {
	schemes        map[string]struct{}
	domains        []string
	pathRules      map[string][]string
	maxQueryLength int
	skipBinary     bool
	include        []*regexp.Regexp
	exclude        []*regexp.Regexp
}

// New compiles cfg.
func New(cfg config.FilterConfig) (*Rules, error) {
	r := &Rules{
		schemes:        make(map[string]struct{}),
		pathRules:      make(map[string][]string),
		maxQueryLength: cfg.MaxQueryLength,
		skipBinary:     cfg.SkipBinary,
	}

	schemes := cfg.AllowedSchemes
	if len(schemes) == 0 {
		schemes = []string{"http", "https"}
	}
	for _, s := range schemes {
		r.schemes[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}

	for _, d := range cfg.AllowedDomains {
		d = strings.Trim(strings.ToLower(strings.TrimSpace(d)), ".")
		if d != "" {
			r.domains = append(r.domains, d)
		}
	}

	for _, rule := range cfg.PathRules {
		host, prefix, err := config.ParsePathRule(rule)
		if err != nil {
			return nil, err
		}
		r.pathRules[host] = append(r.pathRules[host], prefix)
	}

	for _, p := range cfg.IncludePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", config.ErrInvalidPattern, p, err)
		}
		r.include = append(r.include, re)
	}
	for _, p := range cfg.ExcludePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", config.ErrInvalidPattern, p, err)
		}
		r.exclude = append(r.exclude, re)
	}

	return r, nil
}

// Valid reports whether rawURL should be crawled.
func (r *Rules) Valid(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	if _, ok := r.schemes[strings.ToLower(u.Scheme)]; !ok {
		return false
	}

	// Very long queries are usually trackers or calendar traps
	if r.maxQueryLength > 0 && len(u.RawQuery) > r.maxQueryLength {
		return false
	}

	if r.skipBinary && binaryExtensions.MatchString(u.Path) {
		return false
	}

	if !r.matchesPatterns(rawURL) {
		return false
	}

	return r.isAllowedHost(strings.ToLower(u.Hostname()), u.Path)
}

// matchesPatterns applies include/exclude regex patterns
func (r *Rules) matchesPatterns(urlStr string) bool {
	// If include patterns are specified, URL must match at least one
	if len(r.include) > 0 {
		matched := false
		for _, re := range r.include {
			if re.MatchString(urlStr) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	// Check exclude patterns - URL must not match any
	for _, re := range r.exclude {
		if re.MatchString(urlStr) {
			return false
		}
	}

	return true
}

// isAllowedHost applies path rules first; a host with a path rule is
// admitted by its prefixes alone.
func (r *Rules) isAllowedHost(host, path string) bool {
	if host == "" {
		return false
	}

	if prefixes, ok := r.pathRules[host]; ok {
		for _, p := range prefixes {
			if strings.HasPrefix(path, p) {
				return true
			}
		}
		return false
	}

	if len(r.domains) == 0 {
		return true
	}
	for _, d := range r.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
