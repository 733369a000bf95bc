package collector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRateLimiterWait(t *testing.T) {
	t.Run("passes through with quota left", func(t *testing.T) {
		r := &githubRateLimiter{
			logger:    zap.NewNop(),
			remaining: 5000,
			resetTime: time.Now().Add(time.Hour),
			threshold: quotaThreshold,
		}

		start := time.Now()
		require.NoError(t, r.Wait(context.Background()))
		assert.Less(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("sleeps past the reset when quota is low", func(t *testing.T) {
		r := &githubRateLimiter{
			logger:    zap.NewNop(),
			remaining: 1,
			resetTime: time.Now().Add(20 * time.Millisecond),
			threshold: quotaThreshold,
			buffer:    10 * time.Millisecond,
		}

		start := time.Now()
		require.NoError(t, r.Wait(context.Background()))
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

		remaining, _ := r.CheckLimit()
		assert.Equal(t, 5000, remaining, "the quota is assumed refilled after the reset")
	})

	t.Run("enforces the minimum inter-request delay", func(t *testing.T) {
		r := &githubRateLimiter{
			logger:    zap.NewNop(),
			remaining: 5000,
			resetTime: time.Now().Add(time.Hour),
			threshold: quotaThreshold,
			minDelay:  20 * time.Millisecond,
		}

		require.NoError(t, r.Wait(context.Background()))
		start := time.Now()
		require.NoError(t, r.Wait(context.Background()))
		assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
	})

	t.Run("aborts on context cancellation", func(t *testing.T) {
		r := &githubRateLimiter{
			logger:    zap.NewNop(),
			remaining: 1,
			resetTime: time.Now().Add(time.Hour),
			threshold: quotaThreshold,
			buffer:    time.Second,
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		err := r.Wait(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestRateLimiterUpdate(t *testing.T) {
	r := &githubRateLimiter{
		logger:    zap.NewNop(),
		remaining: 5000,
		threshold: quotaThreshold,
	}

	reset := time.Now().Add(30 * time.Minute)
	r.UpdateLimit(123, reset)

	remaining, resetTime := r.CheckLimit()
	assert.Equal(t, 123, remaining)
	assert.Equal(t, reset, resetTime)
}
