package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Khoshtrip/backend/cache"
	"github.com/Khoshtrip/backend/types"
)

const DefaultTTL = 5 * time.Minute

var _ types.CacheGateway = (*Gateway)(nil)

// Gateway serves view reads through the shared store. Store faults never reach
// the caller: a broken cache degrades to calling the producer directly.
type Gateway struct {
	store      types.KeyValueStore
	keys       *cache.KeyBuilder
	recorder   types.CacheMetrics
	access     types.AccessLogger
	logger     types.Logger
	defaultTTL time.Duration
	enabled    bool
	now        func() time.Time
}

func NewGateway(store types.KeyValueStore, keys *cache.KeyBuilder, recorder types.CacheMetrics, access types.AccessLogger, logger types.Logger, config *types.CacheConfig) *Gateway {
	g := &Gateway{
		store:      store,
		keys:       keys,
		recorder:   recorder,
		access:     access,
		logger:     logger,
		defaultTTL: DefaultTTL,
		enabled:    true,
		now:        time.Now,
	}

	if config != nil {
		g.enabled = config.Enabled
		if config.DefaultTTL > 0 {
			g.defaultTTL = config.DefaultTTL
		}
	}

	return g
}

func (g *Gateway) Keys() *cache.KeyBuilder {
	return g.keys
}

func (g *Gateway) Serve(ctx context.Context, view types.ViewConfig, req types.RequestDescriptor, produce types.Producer) (*types.Response, types.Outcome) {
	if !g.enabled || Bypass(req) {
		return materialize(produce()), types.OutcomeBypass
	}

	start := g.now()
	key := g.keys.Build(view.Name, req)

	if raw, found := g.store.Get(ctx, key); found {
		resp, err := decodeEntry(raw)
		if err == nil {
			elapsed := g.now().Sub(start)
			g.logger.Debug("Cache hit",
				zap.String("view", view.Name),
				zap.String("cache_key", key),
				zap.Duration("duration", elapsed))
			g.record(ctx, view.Name, true, elapsed, key, req)
			return resp, types.OutcomeHit
		}

		g.logger.Warn("Dropping undecodable cache entry",
			zap.String("cache_key", key),
			zap.Error(err))
		g.delete(ctx, key)
	}

	resp := materialize(produce())

	switch {
	case resp.StatusCode == http.StatusNotFound:
		g.delete(ctx, key)
	case Cacheable(resp):
		g.save(ctx, key, resp, view.TTL)
	}

	elapsed := g.now().Sub(start)
	g.logger.Debug("Cache miss",
		zap.String("view", view.Name),
		zap.String("cache_key", key),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", elapsed))
	g.record(ctx, view.Name, false, elapsed, key, req)

	return resp, types.OutcomeMiss
}

// Bypass reports whether a request must skip the cache entirely. Only GET and
// HEAD are served from cache, and authenticated callers only for GET.
func Bypass(req types.RequestDescriptor) bool {
	method := strings.ToUpper(req.Method)
	if method != http.MethodGet && method != http.MethodHead {
		return true
	}
	return req.Authenticated() && method != http.MethodGet
}

// Cacheable reports whether a produced response may be stored.
func Cacheable(resp *types.Response) bool {
	if !resp.Successful() || len(resp.Body) == 0 {
		return false
	}

	for name, value := range resp.Headers {
		if !strings.EqualFold(name, "Cache-Control") {
			continue
		}
		directives := strings.ToLower(value)
		if strings.Contains(directives, "no-store") || strings.Contains(directives, "no-cache") {
			return false
		}
	}

	return true
}

func (g *Gateway) save(ctx context.Context, key string, resp *types.Response, ttl time.Duration) {
	if ttl <= 0 {
		ttl = g.defaultTTL
	}

	data, err := encodeEntry(resp, g.now())
	if err != nil {
		g.logger.Error("Failed to encode cache entry",
			zap.String("cache_key", key),
			zap.Error(err))
		return
	}

	if err = g.store.Set(context.WithoutCancel(ctx), key, data, ttl); err != nil {
		g.logger.Warn("Failed to store cache entry",
			zap.String("cache_key", key),
			zap.Error(err))
	}
}

func (g *Gateway) delete(ctx context.Context, key string) {
	if err := g.store.Delete(context.WithoutCancel(ctx), key); err != nil {
		g.logger.Warn("Failed to delete cache entry",
			zap.String("cache_key", key),
			zap.Error(err))
	}
}

func (g *Gateway) record(ctx context.Context, view string, hit bool, elapsed time.Duration, key string, req types.RequestDescriptor) {
	if g.recorder != nil {
		var err error
		if hit {
			err = g.recorder.RecordHit(context.WithoutCancel(ctx), view, elapsed)
		} else {
			err = g.recorder.RecordMiss(context.WithoutCancel(ctx), view, elapsed)
		}
		if err != nil {
			g.logger.Warn("Failed to record cache metrics",
				zap.String("view", view),
				zap.Error(err))
		}
	}

	if g.access != nil {
		g.access.Record(view, hit, elapsed, key, req)
	}
}

// materialize copies the body so a stored entry never aliases a buffer the
// transport may reuse.
func materialize(resp *types.Response) *types.Response {
	if resp == nil {
		return &types.Response{StatusCode: http.StatusInternalServerError}
	}

	out := *resp
	out.Body = append([]byte(nil), resp.Body...)
	if resp.Headers != nil {
		out.Headers = make(map[string]string, len(resp.Headers))
		for name, value := range resp.Headers {
			out.Headers[name] = value
		}
	}

	return &out
}
