package types

import (
	"time"

	"github.com/valyala/fasthttp"
)

type FastHTTPHandler func(ctx *fasthttp.RequestCtx)

type HTTPServer interface {
	LifecycleManager
	HandleRequest(ctx *fasthttp.RequestCtx, handler FastHTTPHandler, config *RouteConfig)
}

type HTTPRouter interface {
	Add(method, path string, handler FastHTTPHandler, config *RouteConfig)
	Group(prefix string) GroupBuilder
	GET(path string, handler FastHTTPHandler) RouteBuilder
	POST(path string, handler FastHTTPHandler) RouteBuilder
	PUT(path string, handler FastHTTPHandler) RouteBuilder
	DELETE(path string, handler FastHTTPHandler) RouteBuilder
	GetAllRoutes() map[string]*RouteInfo
}

type RouteBuilder interface {
	WithCache(view string, ttl time.Duration) RouteBuilder
	WithoutMiddlewares(names ...string) RouteBuilder
	Finalize() error
}

type GroupBuilder interface {
	WithCache(view string, ttl time.Duration) GroupBuilder
	WithoutMiddlewares(names ...string) GroupBuilder
	Route(method, path string, handler FastHTTPHandler) RouteBuilder
	GET(path string, handler FastHTTPHandler) RouteBuilder
	POST(path string, handler FastHTTPHandler) RouteBuilder
	PUT(path string, handler FastHTTPHandler) RouteBuilder
	DELETE(path string, handler FastHTTPHandler) RouteBuilder
	Group(prefix string) GroupBuilder
}

// RouteCacheConfig marks a route as a cached view.
type RouteCacheConfig struct {
	View string        `validate:"required,min=1"`
	TTL  time.Duration `validate:"min=0"`
}

type RouteConfig struct {
	Cache               *RouteCacheConfig
	DisabledMiddlewares []string
}

func (c *RouteConfig) Disabled(name string) bool {
	if c == nil {
		return false
	}
	for _, disabled := range c.DisabledMiddlewares {
		if disabled == name {
			return true
		}
	}
	return false
}

type RouteInfo struct {
	Method  string
	Path    string
	Handler FastHTTPHandler
	Config  *RouteConfig
}

const RouteParamsKey = "route_params"

// RouteParams returns the path parameters matched by the router.
func RouteParams(ctx *fasthttp.RequestCtx) map[string]string {
	if params, ok := ctx.UserValue(RouteParamsKey).(map[string]string); ok {
		return params
	}
	return nil
}

func RouteParam(ctx *fasthttp.RequestCtx, name string) string {
	return RouteParams(ctx)[name]
}
