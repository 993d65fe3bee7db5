package events

import (
	"sync"
	"time"
)

// RateLimiter admits at most limit events in any sliding window.
type RateLimiter struct {
	mu     sync.Mutex
	seen   []time.Time
	limit  int
	window time.Duration
}

// NewRateLimiter falls back to the package defaults for non-positive inputs.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{limit: limit, window: window}
}

// Allow records an event at now and reports whether it fits the window.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cut := now.Add(-r.window)
	i := 0
	for i < len(r.seen) && !r.seen[i].After(cut) {
		i++
	}
	r.seen = r.seen[i:]

	if len(r.seen) >= r.limit {
		return false
	}
	r.seen = append(r.seen, now)
	return true
}
