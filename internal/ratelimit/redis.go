package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisLimiter keeps window counters in Redis so multiple instances share
// one quota per organization. A single INCR round-trip keeps increments
// atomic per key. Unlike caches, quota decisions fail closed: a Redis error
// denies the request rather than letting a tenant bypass its limit.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisLimiter constructs a limiter on an existing client.
func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisLimiter{client: client, prefix: prefix}
}

// CheckAndConsume counts one request against the key's current window.
func (l *RedisLimiter) CheckAndConsume(ctx context.Context, key string, windowDur time.Duration, max int) (bool, time.Duration, error) {
	if windowDur <= 0 || max <= 0 {
		return true, 0, nil
	}
	redisKey := l.prefix + ":" + key

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, windowDur, fmt.Errorf("ratelimit incr: %w", err)
	}
	if count == 1 {
		// First hit opens the window.
		if err := l.client.PExpire(ctx, redisKey, windowDur).Err(); err != nil {
			return false, windowDur, fmt.Errorf("ratelimit expire: %w", err)
		}
	}
	if count <= int64(max) {
		return true, 0, nil
	}
	ttl, err := l.client.PTTL(ctx, redisKey).Result()
	if err != nil || ttl < 0 {
		return false, windowDur, nil
	}
	return false, retryAfter(time.Now().Add(ttl), time.Now()), nil
}
