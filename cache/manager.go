package cache

import (
	"context"
	"time"

	"github.com/Khoshtrip/backend/types"
)

var customStoreCreators = make(map[string]types.KeyValueStoreCreator)

func RegisterStore(storeName string, creator types.KeyValueStoreCreator) {
	customStoreCreators[storeName] = creator
}

// NewStore builds the configured backend and wraps it with operation metrics
// when a metrics manager is supplied.
func NewStore(config *types.StoreConfig, logger types.Logger, metrics types.MetricsManager) (types.KeyValueStore, error) {
	if config == nil {
		return nil, types.Errorf(types.ErrConfigValidateFailed, "store section is missing")
	}

	var impl types.KeyValueStore
	var err error

	switch config.Type {
	case "memory":
		impl = NewMemoryStore(logger, config)
	case "redis":
		impl, err = NewRedisStore(logger, config)
	default:
		if creator, exists := customStoreCreators[config.Type]; exists {
			impl, err = creator(config)
		} else {
			return nil, types.Errorf(types.ErrStoreTypeUnknown, "type: %s", config.Type)
		}
	}

	if err != nil {
		return nil, err
	}

	if metrics == nil {
		return impl, nil
	}

	return newInstrumentedStore(metrics, impl), nil
}

type instrumentedStore struct {
	impl    types.KeyValueStore
	metrics types.MetricsManager
}

func newInstrumentedStore(metrics types.MetricsManager, impl types.KeyValueStore) types.KeyValueStore {
	return &instrumentedStore{
		impl:    impl,
		metrics: metrics,
	}
}

func (is *instrumentedStore) Get(ctx context.Context, key string) ([]byte, bool) {
	start := time.Now()
	value, exists := is.impl.Get(ctx, key)

	result := "miss"
	if exists {
		result = "hit"
	}

	is.recordMetric("get", result, time.Since(start))
	return value, exists
}

func (is *instrumentedStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := is.impl.Set(ctx, key, value, ttl)
	is.recordMetric("set", resultOf(err), time.Since(start))
	return err
}

func (is *instrumentedStore) Delete(ctx context.Context, keys ...string) error {
	start := time.Now()
	err := is.impl.Delete(ctx, keys...)
	is.recordMetric("delete", resultOf(err), time.Since(start))
	return err
}

func (is *instrumentedStore) Scan(ctx context.Context, pattern string, fn func(keys []string) error) error {
	start := time.Now()
	err := is.impl.Scan(ctx, pattern, fn)
	is.recordMetric("scan", resultOf(err), time.Since(start))
	return err
}

func (is *instrumentedStore) Info(ctx context.Context) (types.StoreInfo, error) {
	start := time.Now()
	info, err := is.impl.Info(ctx)
	is.recordMetric("info", resultOf(err), time.Since(start))
	return info, err
}

func (is *instrumentedStore) Increment(ctx context.Context, deltas map[string]int64) error {
	start := time.Now()
	err := is.impl.Increment(ctx, deltas)
	is.recordMetric("increment", resultOf(err), time.Since(start))
	return err
}

func (is *instrumentedStore) Counters(ctx context.Context, keys ...string) ([]int64, error) {
	start := time.Now()
	values, err := is.impl.Counters(ctx, keys...)
	is.recordMetric("counters", resultOf(err), time.Since(start))
	return values, err
}

func (is *instrumentedStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	start := time.Now()
	err := is.impl.ZAdd(ctx, key, score, member)
	is.recordMetric("zadd", resultOf(err), time.Since(start))
	return err
}

func (is *instrumentedStore) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	start := time.Now()
	members, err := is.impl.ZRangeByScore(ctx, key, min, max)
	is.recordMetric("zrange", resultOf(err), time.Since(start))
	return members, err
}

func (is *instrumentedStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error) {
	start := time.Now()
	removed, err := is.impl.ZRemRangeByScore(ctx, key, min, max)
	is.recordMetric("zremrange", resultOf(err), time.Since(start))
	return removed, err
}

func (is *instrumentedStore) Ping(ctx context.Context) error {
	start := time.Now()
	err := is.impl.Ping(ctx)
	is.recordMetric("ping", resultOf(err), time.Since(start))
	return err
}

func (is *instrumentedStore) Start() error {
	return is.impl.Start()
}

func (is *instrumentedStore) Stop() error {
	return is.impl.Stop()
}

func (is *instrumentedStore) IsRunning() bool {
	return is.impl.IsRunning()
}

func (is *instrumentedStore) recordMetric(operation, result string, duration time.Duration) {
	is.metrics.Counter("cache_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
	}).Inc()

	is.metrics.Histogram("cache_operation_duration_seconds",
		[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		map[string]string{"operation": operation},
	).Observe(duration.Seconds())
}

func resultOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
