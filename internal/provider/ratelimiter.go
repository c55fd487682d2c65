package provider

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket shared by a provider's outbound calls. Each
// external service enforces its own request budget, so pacing happens at
// the transport rather than in the orchestration loop.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     int
	capacity   int
	interval   time.Duration
	lastRefill time.Time
}

// NewRateLimiter allows capacity calls per interval, refilling one token
// per interval elapsed.
func NewRateLimiter(capacity int, interval time.Duration) *RateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &RateLimiter{
		tokens:     capacity,
		capacity:   capacity,
		interval:   interval,
		lastRefill: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		if r.take() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.interval):
		}
	}
}

func (r *RateLimiter) take() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	refilled := int(now.Sub(r.lastRefill) / r.interval)
	if refilled > 0 {
		r.tokens += refilled
		if r.tokens > r.capacity {
			r.tokens = r.capacity
		}
		r.lastRefill = r.lastRefill.Add(time.Duration(refilled) * r.interval)
	}
	if r.tokens <= 0 {
		return false
	}
	r.tokens--
	return true
}
