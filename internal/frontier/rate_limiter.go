package frontier

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultPoliteness is the minimum interval between two grants for one domain.
const DefaultPoliteness = 500 * time.Millisecond

// refillSlack absorbs float rounding in the token bucket's refill.
const refillSlack = 1e-6

// RateLimiter grants at most one fetch per domain per interval. Domains
// never interact and are never forgotten.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	last     map[string]time.Time
	mu       sync.Mutex
	interval time.Duration
}

// NewRateLimiter creates a limiter with the given per-domain interval.
// A non-positive interval disables politeness.
func NewRateLimiter(interval time.Duration) *RateLimiter {
	if interval < 0 {
		interval = 0
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		last:     make(map[string]time.Time),
		interval: interval,
	}
}

// Interval returns the per-domain interval.
func (r *RateLimiter) Interval() time.Duration {
	return r.interval
}

// TryAcquire grants domain at now when its token bucket holds a token.
// Otherwise it returns the time until the next token, which never exceeds
// the interval.
func (r *RateLimiter) TryAcquire(domain string, now time.Time) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.interval == 0 {
		r.last[domain] = now
		return 0, true
	}

	limiter := r.getLimiter(domain)
	tokens := limiter.TokensAt(now)

	// Refill is computed in float seconds, so exactly one interval after a
	// grant the bucket can sit a hair under one token. The grant time settles it.
	last, seen := r.last[domain]
	boundary := seen && now.Sub(last) >= r.interval && tokens > 1-refillSlack

	if tokens < 1 && !boundary {
		wait := time.Duration((1 - tokens) / float64(limiter.Limit()) * float64(time.Second))
		if wait <= 0 || wait > r.interval {
			wait = r.interval
		}
		return wait, false
	}

	limiter.ReserveN(now, 1)
	r.last[domain] = now
	return 0, true
}

// Tokens reports the tokens in domain's bucket at now. An unknown domain
// has a full bucket.
func (r *RateLimiter) Tokens(domain string, now time.Time) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.interval == 0 {
		return 1
	}
	return r.getLimiter(domain).TokensAt(now)
}

// Last returns the time of the most recent grant for domain.
func (r *RateLimiter) Last(domain string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.last[domain]
	return t, ok
}

// getLimiter gets or creates the limiter for a domain. Caller holds r.mu
// and the interval is positive.
func (r *RateLimiter) getLimiter(domain string) *rate.Limiter {
	if limiter, exists := r.limiters[domain]; exists {
		return limiter
	}

	limiter := rate.NewLimiter(rate.Every(r.interval), 1)
	r.limiters[domain] = limiter
	return limiter
}
