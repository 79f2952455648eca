package authgate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterWindowCounting(t *testing.T) {
	now := time.Now()
	limiter := NewRateLimiter(5, time.Minute)
	limiter.now = func() time.Time { return now }

	// Exactly max attempts succeed, the next one fails.
	for i := 0; i < 5; i++ {
		assert.True(t, limiter.Allow("caller-1"), "attempt %d", i+1)
	}
	assert.False(t, limiter.Allow("caller-1"))
	assert.False(t, limiter.Allow("caller-1"))

	// Other keys are counted independently.
	assert.True(t, limiter.Allow("caller-2"))

	// Once the window elapses the counter resets lazily.
	now = now.Add(time.Minute)
	assert.True(t, limiter.Allow("caller-1"))
}

func TestRateLimiterDefaults(t *testing.T) {
	limiter := NewRateLimiter(0, 0)
	assert.Equal(t, DefaultRateLimitMax, limiter.max)
	assert.Equal(t, DefaultRateLimitWindow, limiter.window)
}

func TestRateLimiterSweepsStaleKeys(t *testing.T) {
	now := time.Now()
	limiter := NewRateLimiter(1, time.Minute)
	limiter.now = func() time.Time { return now }

	limiter.Allow("stale-key")
	now = now.Add(2 * time.Minute)
	limiter.sweepLocked(now)

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.Empty(t, limiter.entries)
}
