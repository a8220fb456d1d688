package cache

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Khoshtrip/backend/logger"
	"github.com/Khoshtrip/backend/types"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStoreFromClient(logger.NewNop(), client, &types.StoreConfig{
		Type:       "redis",
		DefaultTTL: 5 * time.Minute,
		Redis: &types.RedisConfig{
			QueryTimeout: time.Second,
			ScanCount:    10,
		},
	})
	return mr, store
}

func TestRedisSetGetRoundTrip(t *testing.T) {
	mr, store := newTestRedis(t)
	ctx := context.Background()

	_, found := store.Get(ctx, "view_cache:product_list:abc")
	assert.False(t, found)

	require.NoError(t, store.Set(ctx, "view_cache:product_list:abc", []byte("payload"), time.Minute))

	value, found := store.Get(ctx, "view_cache:product_list:abc")
	assert.True(t, found)
	assert.Equal(t, []byte("payload"), value)
	assert.Equal(t, time.Minute, mr.TTL("view_cache:product_list:abc"))

	mr.FastForward(2 * time.Minute)
	_, found = store.Get(ctx, "view_cache:product_list:abc")
	assert.False(t, found)
}

func TestRedisSetUsesDefaultTTL(t *testing.T) {
	mr, store := newTestRedis(t)

	require.NoError(t, store.Set(context.Background(), "k", []byte("v"), 0))
	assert.Equal(t, 5*time.Minute, mr.TTL("k"))

	assert.ErrorIs(t, store.Set(context.Background(), "", []byte("v"), 0), types.ErrCacheKeyEmpty)
}

func TestRedisFailsOpen(t *testing.T) {
	mr, store := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	mr.Close()

	value, found := store.Get(ctx, "k")
	assert.False(t, found)
	assert.Nil(t, value)

	assert.ErrorIs(t, store.Set(ctx, "k", []byte("v"), time.Minute), types.ErrStoreUnavailable)
	assert.ErrorIs(t, store.Delete(ctx, "k"), types.ErrStoreUnavailable)
	assert.ErrorIs(t, store.Ping(ctx), types.ErrStoreUnavailable)
}

func TestRedisScanDrainsCursor(t *testing.T) {
	mr, store := newTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 250; i++ {
		require.NoError(t, mr.Set(fmt.Sprintf("view_cache:product_list:%03d", i), "x"))
	}
	require.NoError(t, mr.Set("cache_metrics:hits", "3"))

	seen := make(map[string]struct{})
	err := store.Scan(ctx, "view_cache:*product_list*", func(keys []string) error {
		for _, key := range keys {
			seen[key] = struct{}{}
		}
		return store.Delete(ctx, keys...)
	})
	require.NoError(t, err)

	assert.Len(t, seen, 250)
	assert.Equal(t, []string{"cache_metrics:hits"}, mr.Keys())
}

func TestRedisScanStopsOnCallbackError(t *testing.T) {
	mr, store := newTestRedis(t)
	require.NoError(t, mr.Set("view_cache:a:1", "x"))

	boom := fmt.Errorf("boom")
	err := store.Scan(context.Background(), "view_cache:*", func([]string) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestRedisIncrementIsAtomicBatch(t *testing.T) {
	_, store := newTestRedis(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Increment(ctx, map[string]int64{"hits": 1, "requests": 1, "total": 250}))
		}()
	}
	wg.Wait()

	values, err := store.Counters(ctx, "hits", "requests", "total", "absent")
	require.NoError(t, err)
	assert.Equal(t, []int64{50, 50, 12500, 0}, values)
}

func TestRedisSortedSets(t *testing.T) {
	_, store := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.ZAdd(ctx, "samples", 10, "a"))
	require.NoError(t, store.ZAdd(ctx, "samples", 20, "b"))
	require.NoError(t, store.ZAdd(ctx, "samples", 30, "c"))

	members, err := store.ZRangeByScore(ctx, "samples", 15, math.Inf(1))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, members)

	removed, err := store.ZRemRangeByScore(ctx, "samples", math.Inf(-1), 20)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	members, err = store.ZRangeByScore(ctx, "samples", math.Inf(-1), math.Inf(1))
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, members)
}

func TestParseInfo(t *testing.T) {
	raw := "# Memory\r\nused_memory_human:1.02M\r\nused_memory_peak_human:2.00M\r\n" +
		"# Stats\r\ntotal_connections_received:12\r\ntotal_commands_processed:340\r\n" +
		"keyspace_hits:75\r\nkeyspace_misses:25\r\n# Clients\r\nconnected_clients:3\r\n"

	info := parseInfo(raw)

	assert.Equal(t, "1.02M", info.UsedMemory)
	assert.Equal(t, "2.00M", info.UsedMemoryPeak)
	assert.Equal(t, int64(12), info.TotalConnectionsReceived)
	assert.Equal(t, int64(340), info.TotalCommandsProcessed)
	assert.Equal(t, int64(75), info.KeyspaceHits)
	assert.Equal(t, int64(25), info.KeyspaceMisses)
	assert.Equal(t, "75.00%", info.HitRate)
	assert.Equal(t, int64(3), info.ConnectedClients)

	empty := parseInfo("")
	assert.Equal(t, "N/A", empty.UsedMemory)
	assert.Empty(t, empty.HitRate)
}
