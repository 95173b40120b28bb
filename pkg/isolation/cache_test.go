package isolation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/fleetauthz/pkg/orgs"
)

func int64p(v int64) *int64 { return &v }

func TestLRUCache(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(10, time.Minute)

	_, ok, err := c.Get(ctx, CacheKey{UserID: 1, ResourceType: "part"})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, CacheKey{UserID: 1, ResourceType: "part"}, orgs.NewIDSet(3, 4)))
	require.NoError(t, c.Set(ctx, CacheKey{UserID: 1, ResourceType: "machine"}, orgs.NewIDSet(3)))
	require.NoError(t, c.Set(ctx, CacheKey{UserID: 2, ResourceType: "part"}, orgs.NewIDSet(7)))

	ids, ok, err := c.Get(ctx, CacheKey{UserID: 1, ResourceType: "part"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []int64{3, 4}, ids.Slice())

	// entries are copies
	ids.Add(99)
	ids, _, _ = c.Get(ctx, CacheKey{UserID: 1, ResourceType: "part"})
	assert.False(t, ids.Contains(99))

	require.NoError(t, c.Clear(ctx, int64p(1)))
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.Clear(ctx, nil))
	assert.Equal(t, 0, c.Len())
}

func TestLRUCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(10, 20*time.Millisecond)

	require.NoError(t, c.Set(ctx, CacheKey{UserID: 1, ResourceType: "part"}, orgs.NewIDSet(3)))
	time.Sleep(50 * time.Millisecond)

	_, ok, err := c.Get(ctx, CacheKey{UserID: 1, ResourceType: "part"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func newRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client, 10*time.Minute), mr
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)

	_, ok, err := c.Get(ctx, CacheKey{UserID: 10, ResourceType: "warehouse"})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, CacheKey{UserID: 10, ResourceType: "warehouse"}, orgs.NewIDSet(6, 3, 4)))

	raw, err := mr.Get("fleetauthz:isolation:10:warehouse")
	require.NoError(t, err)
	assert.Equal(t, "[3,4,6]", raw)
	assert.Equal(t, 10*time.Minute, mr.TTL("fleetauthz:isolation:10:warehouse"))

	ids, ok, err := c.Get(ctx, CacheKey{UserID: 10, ResourceType: "warehouse"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []int64{3, 4, 6}, ids.Slice())

	mr.FastForward(11 * time.Minute)
	_, ok, err = c.Get(ctx, CacheKey{UserID: 10, ResourceType: "warehouse"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_Clear(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)

	for _, key := range []CacheKey{
		{UserID: 10, ResourceType: "part"},
		{UserID: 10, ResourceType: "machine"},
		{UserID: 100, ResourceType: "part"},
		{UserID: 20, ResourceType: "part"},
	} {
		require.NoError(t, c.Set(ctx, key, orgs.NewIDSet(1)))
	}
	require.NoError(t, mr.Set("unrelated", "x"))

	require.NoError(t, c.Clear(ctx, int64p(10)))
	assert.False(t, mr.Exists("fleetauthz:isolation:10:part"))
	assert.False(t, mr.Exists("fleetauthz:isolation:10:machine"))
	assert.True(t, mr.Exists("fleetauthz:isolation:100:part"), "user 100 must not match user 10's pattern")
	assert.True(t, mr.Exists("fleetauthz:isolation:20:part"))

	require.NoError(t, c.Clear(ctx, nil))
	assert.False(t, mr.Exists("fleetauthz:isolation:100:part"))
	assert.True(t, mr.Exists("unrelated"))
}

func TestRedisCache_CorruptEntryDropped(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)

	require.NoError(t, mr.Set("fleetauthz:isolation:10:part", "not json"))

	_, ok, err := c.Get(ctx, CacheKey{UserID: 10, ResourceType: "part"})
	assert.Error(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists("fleetauthz:isolation:10:part"))
}

func TestResolver_RedisBackedCacheHit(t *testing.T) {
	c, _ := newRedisCache(t)
	r, dir, _ := newTestResolver(t, WithCache(c))
	ctx := context.Background()

	r.AccessibleOrganizationIDs(ctx, adminA, "warehouse")
	calls := dir.TotalCalls()
	assert.Equal(t, []int64{3, 4, 6}, r.AccessibleOrganizationIDs(ctx, adminA, "warehouse").Slice())
	assert.Equal(t, calls, dir.TotalCalls())
}

func TestResolver_RedisDownStillResolves(t *testing.T) {
	c, mr := newRedisCache(t)
	r, _, sink := newTestResolver(t, WithCache(c))
	mr.Close()

	assert.Equal(t, []int64{3, 4, 6}, r.AccessibleOrganizationIDs(context.Background(), adminA, "warehouse").Slice())
	assert.Empty(t, sink.Events(), "a cache outage is not an isolation fallback")
}

func TestDialRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client, err := DialRedis(context.Background(), "redis://"+mr.Addr(), 5)
	require.NoError(t, err)
	defer client.Close()

	_, err = DialRedis(context.Background(), "not a url", 0)
	assert.Error(t, err)
}
