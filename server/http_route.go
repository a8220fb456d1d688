package server

import (
	"time"

	"github.com/Khoshtrip/backend/types"
	"github.com/Khoshtrip/backend/utils"
)

const maxMiddlewareSliceSize = 100

type RouteBuilder struct {
	router    types.HTTPRouter
	method    string
	path      string
	handler   types.FastHTTPHandler
	config    *types.RouteConfig
	finalized bool
}

// WithCache serves the route through the cache gateway as view. A zero ttl
// falls back to the configured default.
func (rb *RouteBuilder) WithCache(view string, ttl time.Duration) types.RouteBuilder {
	rb.config.Cache = &types.RouteCacheConfig{
		View: view,
		TTL:  ttl,
	}
	return rb
}

func (rb *RouteBuilder) WithoutMiddlewares(names ...string) types.RouteBuilder {
	rb.config.DisabledMiddlewares = append(rb.config.DisabledMiddlewares, names...)
	return rb
}

func (rb *RouteBuilder) Finalize() error {
	if rb.finalized {
		return nil
	}

	if err := rb.finalize(); err != nil {
		return err
	}

	rb.finalized = true
	return nil
}

func (rb *RouteBuilder) finalize() error {
	if rb.handler == nil {
		return types.Errorf(types.ErrHandlerIsNil, "%s %s", rb.method, rb.path)
	}

	if len(rb.config.DisabledMiddlewares) > maxMiddlewareSliceSize {
		return types.Errorf(types.ErrRouteInvalid, "%s %s: too many disabled middlewares", rb.method, rb.path)
	}

	if rb.config.Cache != nil {
		if err := utils.ValidateStruct(rb.config.Cache); err != nil {
			return types.Errorf(types.ErrRouteInvalid, "%s %s: %v", rb.method, rb.path, err)
		}
	}

	configCopy := &types.RouteConfig{}
	if rb.config.Cache != nil {
		cacheCopy := *rb.config.Cache
		configCopy.Cache = &cacheCopy
	}
	if len(rb.config.DisabledMiddlewares) > 0 {
		configCopy.DisabledMiddlewares = append([]string(nil), rb.config.DisabledMiddlewares...)
	}

	rb.router.Add(rb.method, rb.path, rb.handler, configCopy)

	return nil
}
