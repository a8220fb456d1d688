package service

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/Khoshtrip/backend/config"
	"github.com/Khoshtrip/backend/middleware"
	"github.com/Khoshtrip/backend/types"
)

func testConfig(t *testing.T, mr *miniredis.Miniredis) *types.ServiceConfig {
	t.Helper()

	cfg := config.NewLoader().Defaults()
	cfg.Server.HTTP.Host = "127.0.0.1"
	cfg.Server.HTTP.Port = 0
	cfg.Server.HTTP.ShutdownTimeout = time.Second
	cfg.Logger.Level = "error"
	cfg.Store.Redis.Host = mr.Host()
	cfg.Store.Redis.Port = mr.Server().Addr().Port
	cfg.Store.Redis.DB = 0
	cfg.Catalog.Path = filepath.Join(t.TempDir(), "catalog")
	return cfg
}

func get(handler fasthttp.RequestHandler, uri string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(uri)

	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	handler(ctx)
	return ctx
}

func TestNewServiceRequiresConfigFile(t *testing.T) {
	_, err := NewService(t.Context(), "")
	assert.ErrorIs(t, err, types.ErrConfigInvalidPath)

	_, err = NewService(t.Context(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewServiceFromFileRegistersRoutesAndJobs(t *testing.T) {
	mr := miniredis.RunT(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(`
name: tripcache-test
logger:
  level: error
store:
  type: redis
  redis:
    host: %s
    port: %d
catalog:
  enabled: false
`, mr.Host(), mr.Server().Addr().Port)), 0o600))

	svc, err := NewService(t.Context(), path)
	require.NoError(t, err)

	c := svc.Components()
	assert.Equal(t, "tripcache-test", c.Config.GetConfig().Name)
	assert.Nil(t, c.Catalog)

	jobs := c.Cron.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, PruneJobName, jobs[0].Name)
	assert.Equal(t, "@every 10m", jobs[0].Spec)

	assert.Equal(t, []string{"recovery", "metadata", "logging", "auth", "cache_control", "cache"}, c.Middlewares.Names())
	assert.False(t, svc.IsRunning())
}

func TestServiceLifecycle(t *testing.T) {
	mr := miniredis.RunT(t)

	svc, err := NewServiceWithConfig(t.Context(), config.NewStaticManager(testConfig(t, mr)))
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- svc.Start() }()
	require.Eventually(t, svc.IsRunning, 5*time.Second, 10*time.Millisecond)

	handler := svc.Components().HTTPServer.Handler()

	assert.Equal(t, fasthttp.StatusOK, get(handler, "/health").Response.StatusCode())

	first := get(handler, "/products/all/")
	require.Equal(t, fasthttp.StatusOK, first.Response.StatusCode())
	assert.Equal(t, "MISS", string(first.Response.Header.Peek(middleware.CacheStatusHeader)))

	second := get(handler, "/products/all/")
	assert.Equal(t, "HIT", string(second.Response.Header.Peek(middleware.CacheStatusHeader)))

	assert.Equal(t, fasthttp.StatusUnauthorized, get(handler, "/cache/stats/").Response.StatusCode())

	hits, err := mr.Get("cache_metrics:hits")
	require.NoError(t, err)
	assert.Equal(t, "1", hits)

	require.NoError(t, svc.Stop())

	select {
	case err = <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("service did not stop")
	}

	assert.False(t, svc.IsRunning())
	assert.ErrorIs(t, svc.Stop(), types.ErrServiceIsNotRunning)
}
