package cache

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Khoshtrip/backend/types"
)

const (
	defaultQueryTimeout = 5 * time.Second
	defaultScanCount    = 100
)

// RedisStore is the shared keyspace every instance of the service talks to.
type RedisStore struct {
	logger       types.Logger
	client       *redis.Client
	defaultTTL   time.Duration
	queryTimeout time.Duration
	scanCount    int64
	started      int32
}

func NewRedisStore(logger types.Logger, config *types.StoreConfig) (*RedisStore, error) {
	if config == nil || config.Redis == nil {
		return nil, types.Errorf(types.ErrConfigValidateFailed, "store.redis section is missing")
	}

	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%d", config.Redis.Host, config.Redis.Port),
		Password:    config.Redis.Password,
		DB:          config.Redis.DB,
		PoolSize:    config.Redis.PoolSize,
		DialTimeout: config.Redis.DialTimeout,
	})

	return NewRedisStoreFromClient(logger, client, config), nil
}

// NewRedisStoreFromClient wraps an existing client, used by tests and the CLI.
func NewRedisStoreFromClient(logger types.Logger, client *redis.Client, config *types.StoreConfig) *RedisStore {
	store := &RedisStore{
		logger:       logger,
		client:       client,
		queryTimeout: defaultQueryTimeout,
		scanCount:    defaultScanCount,
	}

	if config != nil {
		store.defaultTTL = config.DefaultTTL
		if config.Redis != nil {
			if config.Redis.QueryTimeout > 0 {
				store.queryTimeout = config.Redis.QueryTimeout
			}
			if config.Redis.ScanCount > 0 {
				store.scanCount = config.Redis.ScanCount
			}
		}
	}

	return store
}

func (r *RedisStore) Start() error {
	if !atomic.CompareAndSwapInt32(&r.started, 0, 1) {
		return nil
	}

	if err := r.Ping(context.Background()); err != nil {
		r.logger.Warn("Redis is unreachable, cache will pass requests through", zap.Error(err))
	}

	r.logger.Info("Redis store started", zap.String("addr", r.client.Options().Addr))

	return nil
}

func (r *RedisStore) Stop() error {
	if !atomic.CompareAndSwapInt32(&r.started, 1, 0) {
		return nil
	}

	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis client", zap.Error(err))
		return types.WrapError(err, "failed to close redis client")
	}

	r.logger.Info("Redis store closed")
	return nil
}

func (r *RedisStore) IsRunning() bool {
	return atomic.LoadInt32(&r.started) == 1
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	if key == "" {
		return nil, false
	}

	queryCtx, cancel := r.queryCtx(ctx)
	defer cancel()

	value, err := r.client.Get(queryCtx, key).Bytes()
	if err != nil {
		if !types.IsError(err, redis.Nil) {
			r.logger.Warn("Failed to read cache key", zap.String("cache_key", key), zap.Error(err))
		}
		return nil, false
	}

	return value, true
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	if ttl <= 0 {
		ttl = r.defaultTTL
	}

	queryCtx, cancel := r.queryCtx(ctx)
	defer cancel()

	if err := r.client.Set(queryCtx, key, value, ttl).Err(); err != nil {
		return types.Errorf(types.ErrStoreUnavailable, "set %s: %v", key, err)
	}

	return nil
}

func (r *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	queryCtx, cancel := r.queryCtx(ctx)
	defer cancel()

	if err := r.client.Del(queryCtx, keys...).Err(); err != nil {
		return types.Errorf(types.ErrStoreUnavailable, "delete %d keys: %v", len(keys), err)
	}

	return nil
}

func (r *RedisStore) Scan(ctx context.Context, pattern string, fn func(keys []string) error) error {
	var cursor uint64

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		queryCtx, cancel := r.queryCtx(ctx)
		keys, next, err := r.client.Scan(queryCtx, cursor, pattern, r.scanCount).Result()
		cancel()

		if err != nil {
			return types.Errorf(types.ErrStoreUnavailable, "scan %s: %v", pattern, err)
		}

		if len(keys) > 0 {
			if err = fn(keys); err != nil {
				return err
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (r *RedisStore) Info(ctx context.Context) (types.StoreInfo, error) {
	queryCtx, cancel := r.queryCtx(ctx)
	defer cancel()

	raw, err := r.client.Info(queryCtx).Result()
	if err != nil {
		return types.StoreInfo{}, types.Errorf(types.ErrStoreUnavailable, "info: %v", err)
	}

	return parseInfo(raw), nil
}

// Increment applies every delta inside one MULTI/EXEC so readers never see a
// partial record.
func (r *RedisStore) Increment(ctx context.Context, deltas map[string]int64) error {
	if len(deltas) == 0 {
		return nil
	}

	keys := make([]string, 0, len(deltas))
	for key := range deltas {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	queryCtx, cancel := r.queryCtx(ctx)
	defer cancel()

	_, err := r.client.TxPipelined(queryCtx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.IncrBy(queryCtx, key, deltas[key])
		}
		return nil
	})
	if err != nil {
		return types.Errorf(types.ErrStoreUnavailable, "increment: %v", err)
	}

	return nil
}

func (r *RedisStore) Counters(ctx context.Context, keys ...string) ([]int64, error) {
	out := make([]int64, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	queryCtx, cancel := r.queryCtx(ctx)
	defer cancel()

	values, err := r.client.MGet(queryCtx, keys...).Result()
	if err != nil {
		return nil, types.Errorf(types.ErrStoreUnavailable, "mget: %v", err)
	}

	for i, value := range values {
		s, ok := value.(string)
		if !ok {
			continue
		}
		if out[i], err = strconv.ParseInt(s, 10, 64); err != nil {
			return nil, types.Errorf(types.ErrInvalidParameter, "counter %s is not an integer", keys[i])
		}
	}

	return out, nil
}

func (r *RedisStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	queryCtx, cancel := r.queryCtx(ctx)
	defer cancel()

	if err := r.client.ZAdd(queryCtx, key, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return types.Errorf(types.ErrStoreUnavailable, "zadd %s: %v", key, err)
	}

	return nil
}

func (r *RedisStore) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	queryCtx, cancel := r.queryCtx(ctx)
	defer cancel()

	members, err := r.client.ZRangeByScore(queryCtx, key, &redis.ZRangeBy{
		Min: formatScore(min),
		Max: formatScore(max),
	}).Result()
	if err != nil {
		return nil, types.Errorf(types.ErrStoreUnavailable, "zrangebyscore %s: %v", key, err)
	}

	return members, nil
}

func (r *RedisStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error) {
	queryCtx, cancel := r.queryCtx(ctx)
	defer cancel()

	removed, err := r.client.ZRemRangeByScore(queryCtx, key, formatScore(min), formatScore(max)).Result()
	if err != nil {
		return 0, types.Errorf(types.ErrStoreUnavailable, "zremrangebyscore %s: %v", key, err)
	}

	return removed, nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	queryCtx, cancel := r.queryCtx(ctx)
	defer cancel()

	if err := r.client.Ping(queryCtx).Err(); err != nil {
		return types.Errorf(types.ErrStoreUnavailable, "ping: %v", err)
	}

	return nil
}

func (r *RedisStore) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, r.queryTimeout)
}

func formatScore(score float64) string {
	switch {
	case math.IsInf(score, 1):
		return "+inf"
	case math.IsInf(score, -1):
		return "-inf"
	default:
		return strconv.FormatFloat(score, 'f', -1, 64)
	}
}

func parseInfo(raw string) types.StoreInfo {
	fields := make(map[string]string)

	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if name, value, ok := strings.Cut(line, ":"); ok {
			fields[name] = value
		}
	}

	info := types.StoreInfo{
		UsedMemory:               valueOr(fields["used_memory_human"], "N/A"),
		UsedMemoryPeak:           valueOr(fields["used_memory_peak_human"], "N/A"),
		TotalConnectionsReceived: parseInt(fields["total_connections_received"]),
		TotalCommandsProcessed:   parseInt(fields["total_commands_processed"]),
		KeyspaceHits:             parseInt(fields["keyspace_hits"]),
		KeyspaceMisses:           parseInt(fields["keyspace_misses"]),
		ConnectedClients:         parseInt(fields["connected_clients"]),
	}
	info.HitRate = keyspaceHitRate(info.KeyspaceHits, info.KeyspaceMisses)

	return info
}

func keyspaceHitRate(hits, misses int64) string {
	if hits+misses == 0 {
		return ""
	}
	return fmt.Sprintf("%.2f%%", float64(hits)/float64(hits+misses)*100)
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func parseInt(value string) int64 {
	n, _ := strconv.ParseInt(value, 10, 64)
	return n
}
