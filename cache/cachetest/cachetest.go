// Package cachetest provides Redis-backed stores for package tests.
package cachetest

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Khoshtrip/backend/cache"
	"github.com/Khoshtrip/backend/logger"
	"github.com/Khoshtrip/backend/types"
)

// NewRedisStore starts a miniredis server bound to the test and returns a
// store talking to it.
func NewRedisStore(t *testing.T) (*miniredis.Miniredis, *cache.RedisStore) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })

	store := cache.NewRedisStoreFromClient(logger.NewNop(), client, &types.StoreConfig{
		Type:       "redis",
		DefaultTTL: 5 * time.Minute,
		Redis: &types.RedisConfig{
			QueryTimeout: time.Second,
			ScanCount:    10,
		},
	})

	return mr, store
}
