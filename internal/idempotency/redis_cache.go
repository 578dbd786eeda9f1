package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/finwire/paycore/internal/logging"
)

// RedisCache is a Redis-backed fast path shared by all instances.
// Failures degrade to the database; they are logged, never surfaced.
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache creates a Redis-backed idempotency cache.
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

func cacheKey(key, command string) string {
	return "paycore:idem:" + command + ":" + key
}

func (c *RedisCache) Get(ctx context.Context, key, command string) (*Record, bool) {
	raw, err := c.client.Get(ctx, cacheKey(key, command)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		logging.L(ctx).Warn("idempotency cache read failed", "error", err)
		return nil, false
	}
	rec := &Record{}
	if err := json.Unmarshal(raw, rec); err != nil {
		logging.L(ctx).Warn("idempotency cache entry corrupt", "key", key, "error", err)
		return nil, false
	}
	return rec, true
}

func (c *RedisCache) Set(ctx context.Context, rec *Record, ttl time.Duration) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(rec.Key, rec.Command), raw, ttl).Err(); err != nil {
		logging.L(ctx).Warn("idempotency cache write failed", "error", err)
	}
}

func (c *RedisCache) Delete(ctx context.Context, key, command string) {
	if err := c.client.Del(ctx, cacheKey(key, command)).Err(); err != nil {
		logging.L(ctx).Warn("idempotency cache delete failed", "error", err)
	}
}
