package close

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisProgressCache caches derived checklist progress per period. Cache
// misses and Redis failures fall through to recomputation; nothing here is
// load-bearing for correctness.
type RedisProgressCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewProgressCache instantiates the cache helper.
func NewProgressCache(client *redis.Client, ttl time.Duration) *RedisProgressCache {
	return &RedisProgressCache{client: client, ttl: ttl}
}

func progressCacheKey(periodID int64) string {
	return "close:progress:" + strconv.FormatInt(periodID, 10)
}

// Get returns the cached progress when present.
func (c *RedisProgressCache) Get(ctx context.Context, periodID int64) (Progress, bool) {
	if c == nil || c.client == nil {
		return Progress{}, false
	}
	raw, err := c.client.Get(ctx, progressCacheKey(periodID)).Bytes()
	if err != nil {
		return Progress{}, false
	}
	var p Progress
	if err := json.Unmarshal(raw, &p); err != nil {
		return Progress{}, false
	}
	return p, true
}

// Set stores progress with the configured TTL.
func (c *RedisProgressCache) Set(ctx context.Context, periodID int64, p Progress) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, progressCacheKey(periodID), raw, c.ttl).Err()
}

// Invalidate drops the cached progress after a mutation.
func (c *RedisProgressCache) Invalidate(ctx context.Context, periodID int64) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, progressCacheKey(periodID)).Err()
}
