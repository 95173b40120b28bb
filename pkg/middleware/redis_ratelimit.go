package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisRateLimiter is a fixed-window limiter whose counters live in Redis,
// so every replica shares the same budget per key
type RedisRateLimiter struct {
	client redis.UniversalClient
	config RateLimitConfig
	prefix string
}

// NewRedisRateLimiter creates a Redis-backed rate limiter
func NewRedisRateLimiter(client redis.UniversalClient, config RateLimitConfig, prefix string) *RedisRateLimiter {
	if prefix == "" {
		prefix = "fleetauthz:ratelimit"
	}
	return &RedisRateLimiter{
		client: client,
		config: config,
		prefix: prefix,
	}
}

// Config returns the limiter configuration
func (rl *RedisRateLimiter) Config() RateLimitConfig {
	return rl.config
}

func (rl *RedisRateLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", rl.prefix, key)
}

// Allow counts a request for key in the current window. The window starts
// with the first request and is not extended by later ones.
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	redisKey := rl.key(key)

	count, err := rl.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, 0, fmt.Errorf("redis rate limit: %w", err)
	}
	if count == 1 {
		if err := rl.client.Expire(ctx, redisKey, rl.config.WindowDuration).Err(); err != nil {
			return false, 0, fmt.Errorf("redis rate limit expiry: %w", err)
		}
	}

	limit := int64(rl.config.capacity())
	if count > limit {
		return false, 0, nil
	}
	return true, int(limit - count), nil
}

// TTL returns the time until the window for key resets
func (rl *RedisRateLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	return rl.client.TTL(ctx, rl.key(key)).Result()
}

// Reset clears the counter for key
func (rl *RedisRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.client.Del(ctx, rl.key(key)).Err()
}
