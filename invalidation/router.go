package invalidation

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Khoshtrip/backend/cache"
	"github.com/Khoshtrip/backend/types"
)

// DefaultFanOut lists the extra views a write to a model makes stale.
var DefaultFanOut = map[string][]string{
	"product": {"product_list", "product_detail", "all_products_list", "package_list", "package_detail"},
	"package": {"package_list", "package_detail", "user_purchase_history"},
	"image":   {},
}

var DefaultHeavyModels = []string{"product", "package", "transaction", "purchasehistory"}

// Router turns entity writes into cache key patterns and deletes every match.
type Router struct {
	store     types.KeyValueStore
	logger    types.Logger
	metrics   types.MetricsManager
	namespace string
	heavy     map[string]struct{}
	fanOut    map[string][]string
}

func NewRouter(store types.KeyValueStore, logger types.Logger, metrics types.MetricsManager, config *types.CacheConfig) *Router {
	namespace := cache.DefaultNamespace
	heavyModels := DefaultHeavyModels
	fanOut := DefaultFanOut

	if config != nil {
		if config.Namespace != "" {
			namespace = config.Namespace
		}
		if config.HeavyModels != nil {
			heavyModels = config.HeavyModels
		}
		if config.FanOut != nil {
			fanOut = config.FanOut
		}
	}

	heavy := make(map[string]struct{}, len(heavyModels))
	for _, model := range heavyModels {
		heavy[model] = struct{}{}
	}

	return &Router{
		store:     store,
		logger:    logger,
		metrics:   metrics,
		namespace: namespace,
		heavy:     heavy,
		fanOut:    fanOut,
	}
}

// Patterns returns the deduplicated, namespace prefixed patterns for a write,
// in the order they are applied.
func (r *Router) Patterns(model, id string, related ...string) []string {
	var patterns []string
	seen := make(map[string]struct{})

	add := func(body string) {
		pattern := r.namespace + ":" + body
		if _, exists := seen[pattern]; exists {
			return
		}
		seen[pattern] = struct{}{}
		patterns = append(patterns, pattern)
	}

	listPatterns := func(m string) {
		add("*" + m + "_list*")
		add("*" + m + "s_list*")
		add("*all_" + m + "s*")
	}

	listPatterns(model)

	if id != "" {
		add("*" + model + "_detail*")
		add("*" + model + "*" + id + "*")
	}

	for _, m := range related {
		if m == "" {
			continue
		}
		listPatterns(m)
		add("*" + m + "_detail*")
	}

	for _, view := range r.fanOut[model] {
		add("*" + view + "*")
	}

	return patterns
}

// Invalidate deletes every key matching the write's patterns, then flushes the
// namespace for heavy models. A failing pattern does not stop the others; all
// failures are returned joined.
func (r *Router) Invalidate(ctx context.Context, model, id string, related ...string) (types.InvalidationResult, error) {
	result := types.InvalidationResult{Model: model}
	if model == "" {
		return result, types.ErrModelNameEmpty
	}

	start := time.Now()
	result.Patterns = r.Patterns(model, id, related...)

	var errs []error
	for _, pattern := range result.Patterns {
		deleted, err := r.deleteMatching(ctx, pattern)
		result.Deleted += deleted
		if err != nil {
			r.logger.Error("Failed to invalidate cache pattern",
				zap.String("model", model),
				zap.String("pattern", pattern),
				zap.Error(err))
			result.Failed = append(result.Failed, pattern)
			errs = append(errs, types.Errorf(types.ErrInvalidationFailed, "pattern %s: %v", pattern, err))
		}
	}

	if _, heavy := r.heavy[model]; heavy {
		flushed, err := r.Flush(ctx)
		result.Flushed = flushed
		if err != nil {
			errs = append(errs, err)
		}
	}

	r.observe(model, start, len(errs) == 0)

	r.logger.Debug("Cache invalidated",
		zap.String("model", model),
		zap.String("id", id),
		zap.Strings("patterns", result.Patterns),
		zap.Int("deleted", result.Deleted),
		zap.Int("flushed", result.Flushed))

	return result, errors.Join(errs...)
}

// Flush removes every key of the cache namespace. Metric counters live in
// their own namespace and survive.
func (r *Router) Flush(ctx context.Context) (int, error) {
	flushed, err := r.deleteMatching(ctx, r.namespace+":*")
	if err != nil {
		r.logger.Error("Failed to flush cache namespace",
			zap.String("namespace", r.namespace),
			zap.Error(err))
		return flushed, types.Errorf(types.ErrInvalidationFailed, "flush %s: %v", r.namespace, err)
	}

	r.logger.Info("Cache namespace flushed",
		zap.String("namespace", r.namespace),
		zap.Int("deleted_keys", flushed))

	return flushed, nil
}

func (r *Router) deleteMatching(ctx context.Context, pattern string) (int, error) {
	deleted := 0
	err := r.store.Scan(ctx, pattern, func(keys []string) error {
		if err := r.store.Delete(ctx, keys...); err != nil {
			return err
		}
		deleted += len(keys)
		return nil
	})
	return deleted, err
}

func (r *Router) observe(model string, start time.Time, ok bool) {
	if r.metrics == nil {
		return
	}

	result := "success"
	if !ok {
		result = "error"
	}

	r.metrics.Counter("cache_invalidations_total", map[string]string{
		"model":  model,
		"result": result,
	}).Inc()
	r.metrics.Histogram("cache_invalidation_duration_seconds", nil, map[string]string{
		"model": model,
	}).ObserveDuration(start)
}
