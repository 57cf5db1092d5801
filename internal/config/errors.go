package config

import "errors"

var (
	// ErrMissingSeeds is returned when a restart has no seed URLs to start from
	ErrMissingSeeds = errors.New("restart requires at least one seed URL")
	// ErrInvalidConcurrency is returned when concurrency is not greater than 0
	ErrInvalidConcurrency = errors.New("concurrency must be greater than 0")
	// ErrInvalidPoliteness is returned when the politeness delay is negative
	ErrInvalidPoliteness = errors.New("politeness cannot be negative")
	// ErrInvalidRequestDelay is returned when the global request delay is negative
	ErrInvalidRequestDelay = errors.New("request_delay cannot be negative")
	// ErrInvalidLimit is returned when the page limit is negative
	ErrInvalidLimit = errors.New("limit cannot be negative")
	// ErrInvalidTimeout is returned when the fetch timeout is not greater than 0
	ErrInvalidTimeout = errors.New("fetch.timeout must be greater than 0")
	// ErrEmptyDatabasePath is returned when the sqlite driver has no path
	ErrEmptyDatabasePath = errors.New("store.path cannot be empty")
	// ErrMissingDSN is returned when the postgres driver has no DSN
	ErrMissingDSN = errors.New("store.dsn is required for the postgres driver")
	// ErrMissingRedisAddr is returned when the redis driver has no address
	ErrMissingRedisAddr = errors.New("store.redis_addr is required for the redis driver")
	// ErrUnknownStoreDriver is returned for an unsupported store.driver
	ErrUnknownStoreDriver = errors.New("unknown store driver")
	// ErrInvalidQueryLength is returned when filter.max_query_length is negative
	ErrInvalidQueryLength = errors.New("filter.max_query_length cannot be negative")
	// ErrInvalidPattern is returned when an include or exclude pattern does not compile
	ErrInvalidPattern = errors.New("invalid filter pattern")
	// ErrInvalidPathRule is returned for a path rule not of the form host=/prefix
	ErrInvalidPathRule = errors.New("path rule must look like host=/prefix")
)
