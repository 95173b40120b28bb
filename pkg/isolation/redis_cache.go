package isolation

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/fleetauthz/pkg/orgs"
)

// DefaultRedisPrefix namespaces isolation keys in a shared Redis
const DefaultRedisPrefix = "fleetauthz:isolation"

// DialRedis parses a redis:// URL, applies connection timeouts and verifies
// the server answers.
func DialRedis(ctx context.Context, url string, poolSize int) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if poolSize > 0 {
		opts.PoolSize = poolSize
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// RedisCache shares resolutions between service replicas. Values are JSON
// arrays of organization ids stored with the cache TTL.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed cache
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{
		client: client,
		prefix: DefaultRedisPrefix,
		ttl:    ttl,
	}
}

func (c *RedisCache) key(key CacheKey) string {
	return fmt.Sprintf("%s:%d:%s", c.prefix, key.UserID, key.ResourceType)
}

func (c *RedisCache) Get(ctx context.Context, key CacheKey) (orgs.IDSet, bool, error) {
	k := c.key(key)

	data, err := c.client.Get(ctx, k).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var ids []int64
	if err := json.Unmarshal(data, &ids); err != nil {
		c.client.Del(ctx, k)
		return nil, false, fmt.Errorf("failed to unmarshal organization ids: %w", err)
	}
	return orgs.NewIDSet(ids...), true, nil
}

func (c *RedisCache) Set(ctx context.Context, key CacheKey, ids orgs.IDSet) error {
	data, err := json.Marshal(ids.Slice())
	if err != nil {
		return fmt.Errorf("failed to marshal organization ids: %w", err)
	}
	return c.client.Set(ctx, c.key(key), data, c.ttl).Err()
}

func (c *RedisCache) Clear(ctx context.Context, userID *int64) error {
	pattern := c.prefix + ":*"
	if userID != nil {
		pattern = c.prefix + ":" + strconv.FormatInt(*userID, 10) + ":*"
	}

	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	batch := make([]string, 0, 100)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("failed to delete isolation keys: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan failed for pattern %s: %w", pattern, err)
	}
	if len(batch) > 0 {
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("failed to delete isolation keys: %w", err)
		}
	}
	return nil
}

func (c *RedisCache) Backend() string { return "redis" }
