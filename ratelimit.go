package authgate

import (
	"sync"
	"time"
)

const (
	// DefaultRateLimitMax is the attempts allowed per key per window.
	DefaultRateLimitMax = 5

	// DefaultRateLimitWindow is the counting window.
	DefaultRateLimitWindow = time.Minute

	// rateLimitHighWater triggers an opportunistic sweep of stale keys
	// while the lock is already held, keeping the map bounded without a
	// background goroutine.
	rateLimitHighWater = 10000
)

type rateEntry struct {
	count       int
	windowStart time.Time
}

// RateLimiter is a fixed-window counter keyed by a caller-supplied key. It
// sits in front of token verification as a secondary defense; stale keys
// are reset lazily on next access and swept when the map grows past a
// high-water mark.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*rateEntry
	max     int
	window  time.Duration
	now     func() time.Time
}

// NewRateLimiter creates a limiter allowing max attempts per key per window.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	if max <= 0 {
		max = DefaultRateLimitMax
	}
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	return &RateLimiter{
		entries: make(map[string]*rateEntry),
		max:     max,
		window:  window,
		now:     time.Now,
	}
}

// Allow reports whether another attempt is permitted for key, counting the
// attempt when it is. The whole decision happens under the lock so
// concurrent callers cannot under-count.
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.entries) > rateLimitHighWater {
		l.sweepLocked(now)
	}

	entry, ok := l.entries[key]
	if !ok || now.Sub(entry.windowStart) >= l.window {
		l.entries[key] = &rateEntry{count: 1, windowStart: now}
		return true
	}
	if entry.count >= l.max {
		return false
	}
	entry.count++
	return true
}

func (l *RateLimiter) sweepLocked(now time.Time) {
	for key, entry := range l.entries {
		if now.Sub(entry.windowStart) >= l.window {
			delete(l.entries, key)
		}
	}
}
