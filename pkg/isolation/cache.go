package isolation

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/platinummonkey/fleetauthz/pkg/orgs"
)

const (
	// DefaultCacheTTL bounds how stale an accessible-organization set may be
	DefaultCacheTTL = 10 * time.Minute
	// DefaultCacheSize is the local cache capacity in entries
	DefaultCacheSize = 10000
)

// CacheKey identifies one cached resolution
type CacheKey struct {
	UserID       int64
	ResourceType string
}

// Cache stores accessible-organization sets. Implementations must be safe
// for concurrent use and replace entries wholesale.
type Cache interface {
	// Get returns the cached set and whether it was present
	Get(ctx context.Context, key CacheKey) (orgs.IDSet, bool, error)
	Set(ctx context.Context, key CacheKey, ids orgs.IDSet) error
	// Clear drops the entries for one user, or every entry when userID is nil
	Clear(ctx context.Context, userID *int64) error
	// Backend names the implementation for metrics
	Backend() string
}

// LRUCache is an in-process Cache with a single TTL
type LRUCache struct {
	lru *expirable.LRU[CacheKey, orgs.IDSet]
}

// NewLRUCache creates a local cache holding at most size entries for ttl
func NewLRUCache(size int, ttl time.Duration) *LRUCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &LRUCache{lru: expirable.NewLRU[CacheKey, orgs.IDSet](size, nil, ttl)}
}

func (c *LRUCache) Get(ctx context.Context, key CacheKey) (orgs.IDSet, bool, error) {
	ids, ok := c.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	return ids.Clone(), true, nil
}

func (c *LRUCache) Set(ctx context.Context, key CacheKey, ids orgs.IDSet) error {
	c.lru.Add(key, ids.Clone())
	return nil
}

func (c *LRUCache) Clear(ctx context.Context, userID *int64) error {
	if userID == nil {
		c.lru.Purge()
		return nil
	}
	for _, key := range c.lru.Keys() {
		if key.UserID == *userID {
			c.lru.Remove(key)
		}
	}
	return nil
}

func (c *LRUCache) Backend() string { return "memory" }

// Len reports the number of live entries
func (c *LRUCache) Len() int {
	return c.lru.Len()
}
