// Package config provides configuration management for the crawler.
// It defines configuration structures and default values for crawling parameters.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// Store drivers accepted in store.driver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// BasicAuth contains HTTP Basic Authentication credentials
type BasicAuth struct {
	Username    string `mapstructure:"username" yaml:"username"`         // Username for basic auth
	Password    string `mapstructure:"password" yaml:"password"`         // Password for basic auth
	UsernameEnv string `mapstructure:"username_env" yaml:"username_env"` // Environment variable for username
	PasswordEnv string `mapstructure:"password_env" yaml:"password_env"` // Environment variable for password
}

// StoreConfig selects the durable store backend
type StoreConfig struct {
	Driver       string        `mapstructure:"driver" yaml:"driver"`               // sqlite, postgres or redis
	Path         string        `mapstructure:"path" yaml:"path"`                   // SQLite database file
	DSN          string        `mapstructure:"dsn" yaml:"dsn"`                     // Postgres connection string
	Table        string        `mapstructure:"table" yaml:"table"`                 // Postgres table name
	RedisAddr    string        `mapstructure:"redis_addr" yaml:"redis_addr"`       // Redis host:port
	RedisKey     string        `mapstructure:"redis_key" yaml:"redis_key"`         // Redis hash holding the records
	PutRetries   int           `mapstructure:"put_retries" yaml:"put_retries"`     // Attempts per write before giving up
	RetryBackoff time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"` // First backoff between attempts
}

// FilterConfig decides which discovered URLs belong to the crawl
type FilterConfig struct {
	AllowedSchemes  []string `mapstructure:"allowed_schemes" yaml:"allowed_schemes"`   // Empty means http and https
	AllowedDomains  []string `mapstructure:"allowed_domains" yaml:"allowed_domains"`   // Host suffixes; empty allows any host
	PathRules       []string `mapstructure:"path_rules" yaml:"path_rules"`             // "host=/prefix" restrictions
	MaxQueryLength  int      `mapstructure:"max_query_length" yaml:"max_query_length"` // 0 disables the check
	SkipBinary      bool     `mapstructure:"skip_binary" yaml:"skip_binary"`           // Reject non-text file extensions
	IncludePatterns []string `mapstructure:"include_patterns" yaml:"include_patterns"` // Regex patterns for URLs to include
	ExcludePatterns []string `mapstructure:"exclude_patterns" yaml:"exclude_patterns"` // Regex patterns for URLs to exclude
}

// FetchConfig controls the HTTP fetcher
type FetchConfig struct {
	UserAgent    string        `mapstructure:"user_agent" yaml:"user_agent"`         // HTTP User-Agent header
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`               // HTTP request timeout
	MaxBodyBytes int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"` // Response bodies are truncated here
	ProxyURL     string        `mapstructure:"proxy_url" yaml:"proxy_url"`           // Cache or proxy endpoint; empty fetches directly
	BasicAuth    *BasicAuth    `mapstructure:"basic_auth" yaml:"basic_auth"`         // Basic authentication settings
}

// LogConfig controls log output
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`             // debug, info, warn, error
	File        string `mapstructure:"file" yaml:"file"`               // Log file; empty disables file output
	MaxSize     int64  `mapstructure:"max_size" yaml:"max_size"`       // Rotate after this many MB
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"` // Rotated files to keep
	Console     bool   `mapstructure:"console" yaml:"console"`         // Also write to stderr
	Development bool   `mapstructure:"development" yaml:"development"` // Human-readable console encoding
}

// CrawlConfig holds crawler configuration
type CrawlConfig struct {
	// Basic crawling parameters
	SeedURLs      []string      `mapstructure:"seed_urls" yaml:"seed_urls"`           // Starting URLs for a fresh crawl
	Concurrency   int           `mapstructure:"concurrency" yaml:"concurrency"`       // Number of concurrent workers
	Politeness    float64       `mapstructure:"politeness" yaml:"politeness"`         // Seconds between requests to one domain
	RequestDelay  float64       `mapstructure:"request_delay" yaml:"request_delay"`   // Seconds each worker sleeps after a task
	Limit         int           `mapstructure:"limit" yaml:"limit"`                   // Stop after N pages
	Restart       bool          `mapstructure:"restart" yaml:"restart"`               // Discard saved state and reseed
	StatsInterval time.Duration `mapstructure:"stats_interval" yaml:"stats_interval"` // Progress log period
	MetricsAddr   string        `mapstructure:"metrics_addr" yaml:"metrics_addr"`     // Serve /metrics here; empty disables

	Store  StoreConfig  `mapstructure:"store" yaml:"store"`
	Filter FilterConfig `mapstructure:"filter" yaml:"filter"`
	Fetch  FetchConfig  `mapstructure:"fetch" yaml:"fetch"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *CrawlConfig {
	return &CrawlConfig{
		Concurrency:   3,
		Politeness:    0.5,
		RequestDelay:  0,
		Limit:         0, // unlimited
		StatsInterval: 10 * time.Second,
		Store: StoreConfig{
			Driver:       DriverSQLite,
			Path:         "./frontier.db",
			Table:        "tasks",
			RedisKey:     "politecrawl:tasks",
			PutRetries:   3,
			RetryBackoff: 100 * time.Millisecond,
		},
		Filter: FilterConfig{
			AllowedSchemes: []string{"http", "https"},
			MaxQueryLength: 50,
			SkipBinary:     true,
		},
		Fetch: FetchConfig{
			UserAgent:    "PoliteCrawl/1.0",
			Timeout:      30 * time.Second,
			MaxBodyBytes: 10 << 20,
		},
		Log: LogConfig{
			Level:      "info",
			File:       "Logs/crawler.log",
			MaxSize:    10,
			MaxBackups: 5,
			Console:    true,
		},
	}
}

// Validate checks if the configuration is valid. It never modifies c.
func (c *CrawlConfig) Validate() error {
	// Note: SeedURLs are optional - the frontier can resume from the store,
	// unless a restart just discarded it

	if c.Restart && len(c.SeedURLs) == 0 {
		return ErrMissingSeeds
	}

	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}

	if c.Politeness < 0 {
		return ErrInvalidPoliteness
	}

	if c.RequestDelay < 0 {
		return ErrInvalidRequestDelay
	}

	if c.Limit < 0 {
		return ErrInvalidLimit
	}

	if c.Fetch.Timeout <= 0 {
		return ErrInvalidTimeout
	}

	if err := c.Store.validate(); err != nil {
		return err
	}

	return c.Filter.validate()
}

func (s *StoreConfig) validate() error {
	switch strings.ToLower(s.Driver) {
	case "", DriverSQLite:
		if s.Path == "" {
			return ErrEmptyDatabasePath
		}
	case DriverPostgres:
		if s.DSN == "" {
			return ErrMissingDSN
		}
	case DriverRedis:
		if s.RedisAddr == "" {
			return ErrMissingRedisAddr
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStoreDriver, s.Driver)
	}
	return nil
}

func (f *FilterConfig) validate() error {
	if f.MaxQueryLength < 0 {
		return ErrInvalidQueryLength
	}
	for _, p := range append(append([]string{}, f.IncludePatterns...), f.ExcludePatterns...) {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidPattern, p, err)
		}
	}
	for _, rule := range f.PathRules {
		if _, _, err := ParsePathRule(rule); err != nil {
			return err
		}
	}
	return nil
}

// ParsePathRule splits a "host=/prefix" rule.
func ParsePathRule(rule string) (host, prefix string, err error) {
	host, prefix, ok := strings.Cut(rule, "=")
	host = strings.ToLower(strings.TrimSpace(host))
	prefix = strings.TrimSpace(prefix)
	if !ok || host == "" || !strings.HasPrefix(prefix, "/") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPathRule, rule)
	}
	return host, prefix, nil
}

// PolitenessDelay returns the per-domain interval as a duration.
func (c *CrawlConfig) PolitenessDelay() time.Duration {
	return secondsToDuration(c.Politeness)
}

// GlobalDelay returns the per-task worker sleep as a duration.
func (c *CrawlConfig) GlobalDelay() time.Duration {
	return secondsToDuration(c.RequestDelay)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// GetBasicAuthCredentials returns the basic auth username and password,
// resolving environment variables if specified
func (c *CrawlConfig) GetBasicAuthCredentials() (username, password string) {
	if c.Fetch.BasicAuth == nil {
		return "", ""
	}

	basic := c.Fetch.BasicAuth

	// Get username
	if basic.UsernameEnv != "" {
		username = os.Getenv(basic.UsernameEnv)
	} else {
		username = basic.Username
	}

	// Get password
	if basic.PasswordEnv != "" {
		password = os.Getenv(basic.PasswordEnv)
	} else {
		password = basic.Password
	}

	return username, password
}
