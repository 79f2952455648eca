package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// ReplayStore remembers token ids (jti) that have already been accepted, so
// a second presentation inside the replay window can be rejected. Entries
// expire with the window; the store persists across verification calls for
// the life of the process (or the Redis deployment).
type ReplayStore interface {
	// MarkTokenID records tokenID and reports whether this was its first
	// use inside the window.
	MarkTokenID(ctx context.Context, tokenID string, window time.Duration) (bool, error)
}

// MemoryReplayStore implements ReplayStore with a ttlcache, suitable for a
// single-instance deployment.
type MemoryReplayStore struct {
	cache *ttlcache.Cache[string, time.Time]
}

// NewMemoryReplayStore creates an in-memory replay store with automatic
// expiry of seen token ids.
func NewMemoryReplayStore() *MemoryReplayStore {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, time.Time](),
	)
	go cache.Start()

	return &MemoryReplayStore{cache: cache}
}

// MarkTokenID implements ReplayStore. GetOrSet is atomic, so two concurrent
// presentations of the same jti cannot both be reported as first use.
func (s *MemoryReplayStore) MarkTokenID(_ context.Context, tokenID string, window time.Duration) (bool, error) {
	_, existed := s.cache.GetOrSet(tokenID, time.Now().UTC(), ttlcache.WithTTL[string, time.Time](window))
	return !existed, nil
}

// Close stops the cleanup goroutine.
func (s *MemoryReplayStore) Close() {
	s.cache.Stop()
}

var _ ReplayStore = (*MemoryReplayStore)(nil)
