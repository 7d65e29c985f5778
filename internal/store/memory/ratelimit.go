package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ambjn/ostium-whop/internal/domain"
)

// RateLimiter is a process-local sliding-window limiter.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string][]time.Time
}

// NewRateLimiter creates an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{entries: make(map[string][]time.Time)}
}

// Allow admits the request if fewer than limit requests for key fall inside
// the trailing window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-window)

	kept := rl.entries[key][:0]
	for _, t := range rl.entries[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= limit {
		rl.entries[key] = kept
		return false, nil
	}
	rl.entries[key] = append(kept, now)
	return true, nil
}

// Compile-time interface check.
var _ domain.RateLimiter = (*RateLimiter)(nil)
