// Package task defines the identity of a crawl task: the canonical URL a
// worker fetches and the hash the store indexes it by.
package task

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/purell"
)

// ErrMalformedInput is returned when a string cannot be used as a task identifier.
var ErrMalformedInput = errors.New("malformed task identifier")

// Task is a canonical URL. Values are only produced by Normalize.
type Task string

// Key is the hex SHA-256 digest identifying a Task in the store.
type Key string

// Query strings are left alone on purpose, so no sorting or escaping flags here.
const normalizeFlags = purell.FlagLowercaseScheme |
	purell.FlagLowercaseHost |
	purell.FlagRemoveDefaultPort |
	purell.FlagRemoveEmptyPortSeparator |
	purell.FlagRemoveFragment

// Normalize canonicalizes raw into a Task: lowercase scheme and host, no
// port 80 or 443, no fragment, "/" for an empty path and no trailing slash on
// any other path. The query string is kept verbatim.
func Normalize(raw string) (Task, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty string", ErrMalformedInput)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	if u.Scheme == "" || u.Hostname() == "" {
		return "", fmt.Errorf("%w: %q has no scheme or host", ErrMalformedInput, raw)
	}

	u, err = url.Parse(purell.NormalizeURL(u, normalizeFlags))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	// purell only drops the port that matches the scheme. Keys ignore the
	// scheme, so both web ports go whatever the scheme says.
	if p := u.Port(); p == "80" || p == "443" {
		u.Host = strings.TrimSuffix(u.Host, ":"+p)
	}

	switch {
	case u.Path == "":
		u.Path = "/"
		u.RawPath = ""
	case u.Path != "/" && strings.HasSuffix(u.Path, "/"):
		u.Path = strings.TrimSuffix(u.Path, "/")
		u.RawPath = strings.TrimSuffix(u.RawPath, "/")
	}

	return Task(u.String()), nil
}

// String returns the canonical URL.
func (t Task) String() string {
	return string(t)
}

// Key hashes the canonical form without its scheme, so the http and https
// variants of a page are one entity.
func (t Task) Key() Key {
	s := string(t)
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+1:]
	}
	sum := sha256.Sum256([]byte(s))
	return Key(hex.EncodeToString(sum[:]))
}

// KeyOf returns the key of t.
func KeyOf(t Task) Key {
	return t.Key()
}

// Domain returns the host component (with any non-default port) that
// politeness is tracked by.
func (t Task) Domain() string {
	u, err := url.Parse(string(t))
	if err != nil {
		return ""
	}
	return u.Host
}
