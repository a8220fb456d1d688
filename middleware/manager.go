package middleware

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/Khoshtrip/backend/types"
)

const MaxMiddlewares = 64

type Manager struct {
	config             types.ConfigManager
	logger             types.Logger
	metrics            types.MetricsManager
	gateway            types.CacheGateway
	orderedMiddlewares []types.MiddlewareEntry
	middlewareMap      map[string]*types.MiddlewareEntry
	compiledChains     map[string]*CompiledChain
	chainsMu           sync.RWMutex
	mu                 sync.RWMutex
	initialized        int32
}

type CompiledChain struct {
	key         string
	middlewares []types.Middleware
	handler     func(*fasthttp.RequestCtx, func(*fasthttp.RequestCtx), *types.RouteConfig)
}

func NewManager(config types.ConfigManager, logger types.Logger, metrics types.MetricsManager, gateway types.CacheGateway) *Manager {
	return &Manager{
		config:         config,
		logger:         logger,
		metrics:        metrics,
		gateway:        gateway,
		middlewareMap:  make(map[string]*types.MiddlewareEntry),
		compiledChains: make(map[string]*CompiledChain),
	}
}

// RegisterMiddlewares builds every middleware enabled in the configuration and
// freezes the chain order.
func (m *Manager) RegisterMiddlewares() error {
	config := m.config.GetConfig().Middlewares
	if config == nil || !config.Enabled {
		return m.finalizeConfiguration()
	}

	if enabled(config.Recovery) {
		if err := m.Register(NewRecoveryMiddleware(m.config, m.logger, m.metrics)); err != nil {
			return err
		}
		m.logger.Info("Recovery middleware registered")
	}

	if enabled(config.Metadata) {
		if err := m.Register(NewMetadataMiddleware(m.config, m.logger, m.metrics)); err != nil {
			return err
		}
		m.logger.Info("Metadata middleware registered")
	}

	if enabled(config.Logging) {
		if err := m.Register(NewLoggingMiddleware(m.config, m.logger, m.metrics)); err != nil {
			return err
		}
		m.logger.Info("Logging middleware registered")
	}

	if enabled(config.Auth) {
		authMw, err := NewAuthMiddleware(m.config, m.logger, m.metrics)
		if err != nil {
			return err
		}
		if err = m.Register(authMw); err != nil {
			return err
		}
		m.logger.Info("Auth middleware registered")
	}

	if enabled(config.CacheControl) {
		if err := m.Register(NewCacheControlMiddleware(m.config, m.logger, m.metrics)); err != nil {
			return err
		}
		m.logger.Info("CacheControl middleware registered")
	}

	if enabled(config.Compression) {
		if err := m.Register(NewCompressionMiddleware(m.config, m.logger, m.metrics)); err != nil {
			return err
		}
		m.logger.Info("Compression middleware registered")
	}

	if enabled(config.Cache) && m.gateway != nil {
		if err := m.Register(NewCacheMiddleware(m.config, m.logger, m.metrics, m.gateway)); err != nil {
			return err
		}
		m.logger.Info("Cache middleware registered")
	}

	return m.finalizeConfiguration()
}

func (m *Manager) Register(middleware types.Middleware) error {
	if middleware == nil {
		return types.ErrMiddlewareInvalidType
	}

	if atomic.LoadInt32(&m.initialized) == 1 {
		return types.NewErrorf("cannot register middleware after finalization")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.middlewareMap) >= MaxMiddlewares {
		return types.NewErrorf("maximum middleware count exceeded: %d", MaxMiddlewares)
	}

	name := middleware.Name()
	m.middlewareMap[name] = &types.MiddlewareEntry{
		Name:       name,
		Middleware: middleware,
		Weight:     middleware.Weight(),
	}

	return nil
}

func (m *Manager) finalizeConfiguration() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if atomic.LoadInt32(&m.initialized) == 1 {
		return types.NewErrorf("configuration already finalized")
	}

	weights := make(map[int]string)
	for name, entry := range m.middlewareMap {
		if existingName, exists := weights[entry.Weight]; exists {
			return types.Errorf(types.ErrMiddlewareDuplicate, "weight %d for middlewares '%s' and '%s'",
				entry.Weight, existingName, name)
		}
		weights[entry.Weight] = name
	}

	m.orderedMiddlewares = make([]types.MiddlewareEntry, 0, len(m.middlewareMap))
	for _, entry := range m.middlewareMap {
		m.orderedMiddlewares = append(m.orderedMiddlewares, *entry)
	}

	sort.Slice(m.orderedMiddlewares, func(i, j int) bool {
		return m.orderedMiddlewares[i].Weight < m.orderedMiddlewares[j].Weight
	})

	m.middlewareMap = nil
	atomic.StoreInt32(&m.initialized, 1)

	names := make([]string, 0, len(m.orderedMiddlewares))
	for _, entry := range m.orderedMiddlewares {
		names = append(names, entry.Name)
	}
	m.logger.Debug("Middleware chain finalized", zap.Strings("order", names))

	return nil
}

// Finalize freezes a manager whose middlewares were registered by hand.
func (m *Manager) Finalize() error {
	return m.finalizeConfiguration()
}

func (m *Manager) Execute(ctx *fasthttp.RequestCtx, handler func(*fasthttp.RequestCtx), config *types.RouteConfig) {
	if atomic.LoadInt32(&m.initialized) == 0 {
		handler(ctx)
		return
	}

	key := chainKey(config)

	m.chainsMu.RLock()
	compiled := m.compiledChains[key]
	m.chainsMu.RUnlock()

	if compiled == nil {
		compiled = m.compile(key, config)
	}

	compiled.handler(ctx, handler, config)
}

func (m *Manager) compile(key string, config *types.RouteConfig) *CompiledChain {
	m.mu.RLock()
	active := make([]types.Middleware, 0, len(m.orderedMiddlewares))
	for _, entry := range m.orderedMiddlewares {
		if !config.Disabled(entry.Name) {
			active = append(active, entry.Middleware)
		}
	}
	m.mu.RUnlock()

	compiled := &CompiledChain{
		key:         key,
		middlewares: active,
		handler:     compileChain(active),
	}

	m.chainsMu.Lock()
	m.compiledChains[key] = compiled
	m.chainsMu.Unlock()

	return compiled
}

func compileChain(middlewares []types.Middleware) func(*fasthttp.RequestCtx, func(*fasthttp.RequestCtx), *types.RouteConfig) {
	if len(middlewares) == 0 {
		return func(ctx *fasthttp.RequestCtx, handler func(*fasthttp.RequestCtx), _ *types.RouteConfig) {
			handler(ctx)
		}
	}

	return func(ctx *fasthttp.RequestCtx, handler func(*fasthttp.RequestCtx), config *types.RouteConfig) {
		var index int

		var next func(*fasthttp.RequestCtx)
		next = func(ctx *fasthttp.RequestCtx) {
			if index >= len(middlewares) {
				handler(ctx)
				return
			}

			mw := middlewares[index]
			index++
			mw.Handle(ctx, next, config)
		}

		next(ctx)
	}
}

func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.orderedMiddlewares))
	for _, entry := range m.orderedMiddlewares {
		names = append(names, entry.Name)
	}
	return names
}

func (m *Manager) Clear() {
	m.mu.Lock()
	m.orderedMiddlewares = nil
	m.middlewareMap = make(map[string]*types.MiddlewareEntry)
	m.mu.Unlock()

	m.chainsMu.Lock()
	m.compiledChains = make(map[string]*CompiledChain)
	m.chainsMu.Unlock()

	atomic.StoreInt32(&m.initialized, 0)

	m.logger.Info("Middleware manager stopped")
}

func chainKey(config *types.RouteConfig) string {
	if config == nil || len(config.DisabledMiddlewares) == 0 {
		return "default"
	}

	disabled := append([]string(nil), config.DisabledMiddlewares...)
	sort.Strings(disabled)
	return "d:" + strings.Join(disabled, ",")
}

func enabled(item *types.MiddlewareItemConfig) bool {
	return item != nil && item.Enabled
}

func weightOf(item *types.MiddlewareItemConfig, fallback int) int {
	if item == nil || item.Weight == 0 {
		return fallback
	}
	return item.Weight
}

func paramsOf(item *types.MiddlewareItemConfig) map[string]interface{} {
	if item == nil {
		return nil
	}
	return item.Params
}
