package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"go.pilab.hu/authgate/cache"
)

// ReplayStore implements cache.ReplayStore on Redis, for deployments where
// several gateway instances must share the set of seen token ids.
type ReplayStore struct {
	client *redis.Client
	prefix string
}

// NewReplayStore creates a Redis-backed replay store. Keys are namespaced
// with prefix.
func NewReplayStore(client *redis.Client, prefix string) *ReplayStore {
	return &ReplayStore{
		client: client,
		prefix: prefix,
	}
}

func (r *ReplayStore) redisKey(tokenID string) string {
	return fmt.Sprintf("%s:jti:%s", r.prefix, tokenID)
}

// MarkTokenID implements cache.ReplayStore. SET NX makes the first-use
// decision atomic across instances; the key expires with the replay window.
func (r *ReplayStore) MarkTokenID(ctx context.Context, tokenID string, window time.Duration) (bool, error) {
	first, err := r.client.SetNX(ctx, r.redisKey(tokenID), time.Now().Unix(), window).Result()
	if err != nil {
		return false, fmt.Errorf("marking token id in Redis: %w", err)
	}
	return first, nil
}

var _ cache.ReplayStore = (*ReplayStore)(nil)
