package drafts_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	gatekeeper "github.com/goliatone/go-gatekeeper"
	"github.com/goliatone/go-gatekeeper/drafts"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

func TestRedisCacheRoundTrip(t *testing.T) {
	mr, client := setupRedis(t)
	cache := drafts.NewRedisCache(client, drafts.WithTTL(time.Hour))
	ctx := context.Background()

	loaded, err := cache.Load(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, loaded)

	err = cache.Save(ctx, "user-1", gatekeeper.Drafts{0: "hello", 3: "world"})
	require.NoError(t, err)

	assert.True(t, mr.Exists(gatekeeper.DraftKey("user-1")))
	assert.Equal(t, time.Hour, mr.TTL(gatekeeper.DraftKey("user-1")))

	loaded, err = cache.Load(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, gatekeeper.Drafts{0: "hello", 3: "world"}, loaded)

	other, err := cache.Load(ctx, "user-2")
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, cache.Clear(ctx, "user-1"))
	assert.False(t, mr.Exists(gatekeeper.DraftKey("user-1")))
}

func TestRedisCacheExpiry(t *testing.T) {
	mr, client := setupRedis(t)
	cache := drafts.NewRedisCache(client, drafts.WithTTL(time.Minute))
	ctx := context.Background()

	require.NoError(t, cache.Save(ctx, "user-1", gatekeeper.Drafts{1: "draft"}))
	mr.FastForward(2 * time.Minute)

	loaded, err := cache.Load(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestRedisCachePrefixAndCorruptEntry(t *testing.T) {
	mr, client := setupRedis(t)
	cache := drafts.NewRedisCache(client, drafts.WithPrefix("app:"))
	ctx := context.Background()

	key := "app:" + gatekeeper.DraftKey("user-1")
	require.NoError(t, mr.Set(key, "not json"))

	loaded, err := cache.Load(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, loaded)
	assert.False(t, mr.Exists(key))
}
