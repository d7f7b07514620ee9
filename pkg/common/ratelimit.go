package common

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// quotaShare is the fraction of a remote quota the limiter will consume.
const quotaShare = 0.9

// RateLimiter paces calls to a remote API. It starts from a static rate and
// can be retuned from the quota the remote reports on each response.
type RateLimiter struct {
	mu      sync.RWMutex
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter allowing rps calls per second with bursts
// of up to burst calls.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(rps), max(burst, 1))}
}

// Wait blocks until a call is allowed or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.limiter.Wait(ctx)
}

// UpdateLimits replaces the rate and burst.
func (rl *RateLimiter) UpdateLimits(rps float64, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.limiter.SetLimit(rate.Limit(rps))
	rl.limiter.SetBurst(max(burst, 1))
}

// AdaptToQuota spreads remaining calls evenly until resetAt, keeping a
// safety margin. It reports false and leaves the limits untouched when the
// quota is exhausted or the window has already reset.
func (rl *RateLimiter) AdaptToQuota(remaining int64, resetAt, now time.Time) bool {
	window := resetAt.Sub(now)
	if remaining <= 0 || window <= 0 {
		return false
	}

	rps := float64(remaining) / window.Seconds() * quotaShare
	rl.UpdateLimits(rps, int(remaining/10))
	return true
}

// Limit returns the current rate in calls per second.
func (rl *RateLimiter) Limit() float64 {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return float64(rl.limiter.Limit())
}

// Burst returns the current burst size.
func (rl *RateLimiter) Burst() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.limiter.Burst()
}
