package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const idempotencyKeyTTL = 24 * time.Hour

// IdempotencyCache deduplicates at-least-once provider notifications with a
// Redis SetNX guard. The unique index on payments remains the authority; the
// cache only short-circuits obvious replays before they reach the store.
type IdempotencyCache struct {
	client *redis.Client
}

// NewIdempotencyCache creates a new idempotency cache
func NewIdempotencyCache(client *redis.Client) *IdempotencyCache {
	return &IdempotencyCache{client: client}
}

// FirstSeen marks a key as seen and reports whether this call was the first
// to do so. A nil cache treats every key as first seen, so the reconciler
// runs without Redis configured.
func (c *IdempotencyCache) FirstSeen(ctx context.Context, key string) (bool, error) {
	if c == nil {
		return true, nil
	}
	return c.client.SetNX(ctx, key, 1, idempotencyKeyTTL).Result()
}
