package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/Khoshtrip/backend/config"
	"github.com/Khoshtrip/backend/logger"
	"github.com/Khoshtrip/backend/metrics"
	"github.com/Khoshtrip/backend/types"
	"github.com/Khoshtrip/backend/utils"
)

func newCtx(method, uri string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)

	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	return ctx
}

type countingMiddlewares struct {
	calls   int
	configs []*types.RouteConfig
}

func (c *countingMiddlewares) Register(types.Middleware) error { return nil }
func (c *countingMiddlewares) Clear()                          {}

func (c *countingMiddlewares) Execute(ctx *fasthttp.RequestCtx, handler func(*fasthttp.RequestCtx), config *types.RouteConfig) {
	c.calls++
	c.configs = append(c.configs, config)
	handler(ctx)
}

func newServer(t *testing.T, middlewares types.MiddlewareManager) (*FastHTTPServer, *FastHTTPRouter) {
	t.Helper()
	router := NewFastHTTPRouter()
	cfg := config.NewStaticManager(config.NewLoader().Defaults())
	return NewHTTPServer(t.Context(), cfg, logger.NewNop(), metrics.NewNoopMetrics(), middlewares, router), router
}

func writeText(body string) types.FastHTTPHandler {
	return func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString(body)
	}
}

func TestRouterStaticAndParamRoutes(t *testing.T) {
	srv, router := newServer(t, nil)

	router.GET("/products", writeText("list"))
	router.GET("/products/new", writeText("new"))
	router.GET("/products/{id}", func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString("detail " + types.RouteParam(ctx, "id"))
	})
	router.GET("/users/{user}/purchases/{purchase}", func(ctx *fasthttp.RequestCtx) {
		params := types.RouteParams(ctx)
		ctx.SetBodyString(params["user"] + "/" + params["purchase"])
	})
	require.NoError(t, srv.Compile())

	cases := []struct {
		uri  string
		body string
	}{
		{"/products", "list"},
		{"/products/", "list"},
		{"/products/new", "new"},
		{"/products/42", "detail 42"},
		{"/products/42/", "detail 42"},
		{"/users/7/purchases/99", "7/99"},
	}

	for _, tc := range cases {
		t.Run(tc.uri, func(t *testing.T) {
			ctx := newCtx("GET", tc.uri)
			srv.Handler()(ctx)
			assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
			assert.Equal(t, tc.body, string(ctx.Response.Body()))
		})
	}
}

func TestRouterNotFoundAndMethodNotAllowed(t *testing.T) {
	srv, router := newServer(t, nil)

	router.GET("/products", writeText("list"))
	router.GET("/products/{id}", writeText("detail"))
	require.NoError(t, srv.Compile())

	ctx := newCtx("GET", "/missing")
	srv.Handler()(ctx)
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())

	var body map[string]string
	require.NoError(t, utils.Unmarshal(ctx.Response.Body(), &body))
	assert.Equal(t, "Not found", body["error"])

	ctx = newCtx("POST", "/products")
	srv.Handler()(ctx)
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, ctx.Response.StatusCode())

	ctx = newCtx("DELETE", "/products/1")
	srv.Handler()(ctx)
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, ctx.Response.StatusCode())
}

func TestRouterPrefersMethodMatchAcrossBranches(t *testing.T) {
	srv, router := newServer(t, nil)

	router.POST("/packages/search", writeText("search"))
	router.GET("/packages/{id}", func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString("package " + types.RouteParam(ctx, "id"))
	})
	require.NoError(t, srv.Compile())

	ctx := newCtx("GET", "/packages/search")
	srv.Handler()(ctx)
	assert.Equal(t, "package search", string(ctx.Response.Body()))
}

func TestGroupInheritsCacheAndDisabledMiddlewares(t *testing.T) {
	srv, router := newServer(t, nil)

	api := router.Group("/api").WithoutMiddlewares("compression")
	products := api.Group("/products").WithCache("product_list", time.Minute)
	products.GET("", writeText("list"))
	products.GET("/{id}", writeText("detail")).WithCache("product_detail", 0)
	api.POST("/products", writeText("created"))
	require.NoError(t, srv.Compile())

	routes := router.GetAllRoutes()
	require.Len(t, routes, 3)

	list := routes["GET:/api/products"]
	require.NotNil(t, list)
	assert.Equal(t, "product_list", list.Config.Cache.View)
	assert.Equal(t, time.Minute, list.Config.Cache.TTL)
	assert.True(t, list.Config.Disabled("compression"))

	detail := routes["GET:/api/products/{id}"]
	require.NotNil(t, detail)
	assert.Equal(t, "product_detail", detail.Config.Cache.View)
	assert.Zero(t, detail.Config.Cache.TTL)

	create := routes["POST:/api/products"]
	require.NotNil(t, create)
	assert.Nil(t, create.Config.Cache)
}

func TestFinalizeRejectsInvalidRoutes(t *testing.T) {
	srv, router := newServer(t, nil)

	router.GET("/nil", nil)
	router.GET("/blank", writeText("x")).WithCache("", time.Minute)

	err := srv.Compile()
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrRouteFinalizationFailed)
	assert.Empty(t, router.GetAllRoutes())
}

func TestFinalizeIsIdempotent(t *testing.T) {
	srv, router := newServer(t, nil)

	rb := router.GET("/products", writeText("list"))
	require.NoError(t, rb.Finalize())
	require.NoError(t, srv.Compile())

	assert.Len(t, router.GetAllRoutes(), 1)
}

func TestHandleRequestRunsMiddlewares(t *testing.T) {
	mw := &countingMiddlewares{}
	srv, router := newServer(t, mw)

	router.GET("/products", writeText("list")).WithCache("product_list", 0)
	require.NoError(t, srv.Compile())

	ctx := newCtx("GET", "/products")
	srv.Handler()(ctx)
	assert.Equal(t, "list", string(ctx.Response.Body()))

	ctx = newCtx("GET", "/unknown")
	srv.Handler()(ctx)
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())

	require.Equal(t, 2, mw.calls)
	assert.Equal(t, "product_list", mw.configs[0].Cache.View)
	assert.Nil(t, mw.configs[1].Cache)
}

func TestServerLifecycle(t *testing.T) {
	srv, router := newServer(t, nil)
	srv.httpConfig = &types.HTTPConfig{Host: "127.0.0.1", Port: 0}

	router.GET("/ping", writeText("pong"))

	require.NoError(t, srv.Start())
	assert.True(t, srv.IsRunning())
	assert.ErrorIs(t, srv.Start(), types.ErrServerAlreadyRunning)

	require.NoError(t, srv.Stop())
	assert.False(t, srv.IsRunning())
	assert.ErrorIs(t, srv.Stop(), types.ErrServerNotRunning)
}
