package archive

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is the multi-process PendingCache backed by Redis, for
// deployments where the archive step and verify step can run on different
// processes (spec.md §9 "Open question" — persisted alternative to
// MemoryCache). Entries expire on their own after ttl so a crash between
// archive and verify cannot leak the cache forever.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache constructs a RedisCache. ttl defaults to 1 hour, comfortably
// longer than any realistic verify timeout.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisCache{client: client, prefix: "archive:pending:", ttl: ttl}
}

func (c *RedisCache) Put(ctx context.Context, taskID string, metadata map[string]any) {
	data, err := json.Marshal(metadata)
	if err != nil {
		return
	}
	c.client.Set(ctx, c.prefix+taskID, data, c.ttl)
}

func (c *RedisCache) PopAndGet(ctx context.Context, taskID string) (map[string]any, bool) {
	key := c.prefix + taskID
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	c.client.Del(ctx, key)

	var metadata map[string]any
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, false
	}
	return metadata, true
}
