package collector

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RateLimiter manages GitHub API rate limiting
type RateLimiter interface {
	Wait(ctx context.Context) error
	CheckLimit() (remaining int, resetTime time.Time)
	UpdateLimit(remaining int, resetTime time.Time)
}

// githubRateLimiter implements RateLimiter for GitHub API. It is the only
// cross-call shared mutable state of a sync run; one instance is owned by one
// collector and updated from every response.
type githubRateLimiter struct {
	mu        sync.Mutex
	logger    *zap.Logger
	remaining int
	resetTime time.Time
	threshold int
	buffer    time.Duration
	minDelay  time.Duration
	lastCall  time.Time
}

const (
	// Pause syncing when fewer than this many requests remain in the quota.
	quotaThreshold = 100
	// Extra slack past the advertised reset time before resuming.
	resetBuffer = 30 * time.Second
	// Minimum delay between requests.
	minRequestDelay = 100 * time.Millisecond
)

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(logger *zap.Logger) RateLimiter {
	return &githubRateLimiter{
		logger:    logger,
		remaining: 5000, // GitHub API default limit
		resetTime: time.Now().Add(time.Hour),
		threshold: quotaThreshold,
		buffer:    resetBuffer,
		minDelay:  minRequestDelay,
	}
}

// Wait waits until it's safe to make another API call
func (r *githubRateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.remaining < r.threshold {
		waitDuration := time.Until(r.resetTime) + r.buffer
		if waitDuration > 0 {
			r.logger.Warn("rate limit low, waiting for reset",
				zap.Int("remaining", r.remaining),
				zap.Duration("wait", waitDuration.Round(time.Second)))
			r.mu.Unlock()
			select {
			case <-ctx.Done():
				r.mu.Lock()
				return ctx.Err()
			case <-time.After(waitDuration):
				r.mu.Lock()
			}
			r.logger.Info("rate limit reset, continuing")
		}
		// Reset after waiting
		r.remaining = 5000
		r.resetTime = time.Now().Add(time.Hour)
	}

	// Ensure minimum delay between requests
	elapsed := time.Since(r.lastCall)
	if elapsed < r.minDelay {
		r.mu.Unlock()
		select {
		case <-ctx.Done():
			r.mu.Lock()
			return ctx.Err()
		case <-time.After(r.minDelay - elapsed):
			r.mu.Lock()
		}
	}

	r.lastCall = time.Now()
	return nil
}

// CheckLimit returns the current rate limit status
func (r *githubRateLimiter) CheckLimit() (remaining int, resetTime time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remaining, r.resetTime
}

// UpdateLimit updates the rate limit from API response headers
func (r *githubRateLimiter) UpdateLimit(remaining int, resetTime time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remaining = remaining
	r.resetTime = resetTime
}
