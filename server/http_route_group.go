package server

import (
	"time"

	"github.com/valyala/fasthttp"

	"github.com/Khoshtrip/backend/types"
)

type GroupBuilder struct {
	router *FastHTTPRouter
	prefix string
	config *types.RouteConfig
}

func (gb *GroupBuilder) WithCache(view string, ttl time.Duration) types.GroupBuilder {
	gb.config.Cache = &types.RouteCacheConfig{
		View: view,
		TTL:  ttl,
	}
	return gb
}

func (gb *GroupBuilder) WithoutMiddlewares(names ...string) types.GroupBuilder {
	gb.config.DisabledMiddlewares = append(gb.config.DisabledMiddlewares, names...)
	return gb
}

// Route registers a route under the group prefix. The group's cache view and
// disabled middlewares are inherited; the route may still override both.
func (gb *GroupBuilder) Route(method, path string, handler types.FastHTTPHandler) types.RouteBuilder {
	rb := gb.router.Route(method, gb.prefix+path, handler)

	routeBuilder := rb.(*RouteBuilder)
	if gb.config.Cache != nil {
		cacheCopy := *gb.config.Cache
		routeBuilder.config.Cache = &cacheCopy
	}
	routeBuilder.config.DisabledMiddlewares = append(routeBuilder.config.DisabledMiddlewares, gb.config.DisabledMiddlewares...)

	return rb
}

func (gb *GroupBuilder) GET(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return gb.Route(fasthttp.MethodGet, path, handler)
}

func (gb *GroupBuilder) POST(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return gb.Route(fasthttp.MethodPost, path, handler)
}

func (gb *GroupBuilder) PUT(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return gb.Route(fasthttp.MethodPut, path, handler)
}

func (gb *GroupBuilder) DELETE(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return gb.Route(fasthttp.MethodDelete, path, handler)
}

func (gb *GroupBuilder) Group(prefix string) types.GroupBuilder {
	config := &types.RouteConfig{
		DisabledMiddlewares: append([]string(nil), gb.config.DisabledMiddlewares...),
	}
	if gb.config.Cache != nil {
		cacheCopy := *gb.config.Cache
		config.Cache = &cacheCopy
	}

	return &GroupBuilder{
		router: gb.router,
		prefix: gb.prefix + prefix,
		config: config,
	}
}
