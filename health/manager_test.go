package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/Khoshtrip/backend/cache/cachetest"
	"github.com/Khoshtrip/backend/config"
	"github.com/Khoshtrip/backend/logger"
	"github.com/Khoshtrip/backend/metrics"
	"github.com/Khoshtrip/backend/server"
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

func newManager(t *testing.T) (*Manager, *server.FastHTTPServer) {
	t.Helper()

	cfg := config.NewStaticManager(config.NewLoader().Defaults())
	log := logger.NewNop()
	prom := metrics.NewPrometheusMetrics(log, cfg.GetConfig().Metrics.Prometheus)
	router := server.NewFastHTTPRouter()
	srv := server.NewHTTPServer(t.Context(), cfg, log, prom, nil, router)

	return NewManager(t.Context(), cfg, log, prom, router), srv
}

func TestHealthReportsStoreStatus(t *testing.T) {
	mr, store := cachetest.NewRedisStore(t)
	hm, srv := newManager(t)

	hm.RegisterChecker("store", StoreChecker(store))
	require.NoError(t, hm.Start())
	require.NoError(t, srv.Compile())

	ctx := newCtx("GET", "/health")
	srv.Handler()(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var report types.HealthReport
	require.NoError(t, utils.Unmarshal(ctx.Response.Body(), &report))
	assert.Equal(t, types.StatusHealthy, report.Status)
	assert.Equal(t, 1, report.Summary.Healthy)
	assert.Equal(t, "store", report.Checks["store"].Name)

	mr.Close()

	ctx = newCtx("GET", "/health")
	srv.Handler()(ctx)
	assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
}

func TestCheckRecoversFromPanickingChecker(t *testing.T) {
	hm, _ := newManager(t)

	hm.RegisterChecker("broken", func(context.Context) types.HealthCheck {
		panic("boom")
	})
	hm.RegisterChecker("fine", func(context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusHealthy}
	})
	hm.RegisterChecker("unsure", func(context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusUnknown}
	})

	report := hm.Check(context.Background())

	assert.Equal(t, types.StatusUnhealthy, report.Status)
	assert.Equal(t, types.HealthSummary{Total: 3, Healthy: 1, Unhealthy: 1, Unknown: 1}, report.Summary)
	assert.Contains(t, report.Checks["broken"].Message, "boom")
}

func TestVersionAndMetricsRoutes(t *testing.T) {
	hm, srv := newManager(t)
	require.NoError(t, hm.Start())
	require.NoError(t, srv.Compile())

	ctx := newCtx("GET", "/version")
	srv.Handler()(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var version types.VersionInfo
	require.NoError(t, utils.Unmarshal(ctx.Response.Body(), &version))
	assert.Equal(t, "dev", version.Version)
	assert.NotEmpty(t, version.BuildInfo)

	ctx = newCtx("GET", "/metrics")
	srv.Handler()(ctx)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	require.NoError(t, hm.Stop())
	assert.ErrorIs(t, hm.Stop(), types.ErrServerNotRunning)
}
