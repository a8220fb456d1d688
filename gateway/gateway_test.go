package gateway

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Khoshtrip/backend/cache"
	"github.com/Khoshtrip/backend/cache/cachetest"
	"github.com/Khoshtrip/backend/logger"
	"github.com/Khoshtrip/backend/metrics"
	"github.com/Khoshtrip/backend/types"
)

type fixture struct {
	mr       *miniredis.Miniredis
	gateway  *Gateway
	recorder *metrics.Recorder
	access   *logger.AccessLog
	keys     *cache.KeyBuilder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr, store := cachetest.NewRedisStore(t)
	keys := cache.NewKeyBuilder("view_cache", []string{"page", "per_page"})
	recorder := metrics.NewRecorder(store, nil, logger.NewNop(), nil)

	access, err := logger.NewAccessLog(&types.AccessLogConfig{Buffer: 10})
	require.NoError(t, err)
	t.Cleanup(func() { _ = access.Close() })

	g := NewGateway(store, keys, recorder, access, logger.NewNop(), &types.CacheConfig{
		Enabled:    true,
		DefaultTTL: 10 * time.Minute,
	})

	return &fixture{mr: mr, gateway: g, recorder: recorder, access: access, keys: keys}
}

type countingProducer struct {
	calls int
	resp  types.Response
}

func (p *countingProducer) produce() *types.Response {
	p.calls++
	resp := p.resp
	return &resp
}

var productList = types.ViewConfig{Name: "product_list", TTL: 5 * time.Minute}

func listRequest() types.RequestDescriptor {
	return types.RequestDescriptor{
		Method: http.MethodGet,
		Path:   "/products/",
		Query:  map[string][]string{"category": {"flight"}},
	}
}

func TestSecondReadIsHitWithSameBody(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	producer := &countingProducer{resp: types.Response{
		StatusCode:  http.StatusOK,
		Body:        []byte(`[{"id":1}]`),
		ContentType: "application/json",
		Headers:     map[string]string{"Content-Language": "fa", "Set-Cookie": "sid=1"},
	}}

	first, outcome := f.gateway.Serve(ctx, productList, listRequest(), producer.produce)
	assert.Equal(t, types.OutcomeMiss, outcome)

	second, outcome := f.gateway.Serve(ctx, productList, listRequest(), producer.produce)
	assert.Equal(t, types.OutcomeHit, outcome)

	assert.Equal(t, 1, producer.calls)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, first.StatusCode, second.StatusCode)
	assert.Equal(t, "application/json", second.ContentType)
	assert.Equal(t, map[string]string{"Content-Language": "fa"}, second.Headers)

	key := f.keys.Build("product_list", listRequest())
	assert.Equal(t, 5*time.Minute, f.mr.TTL(key))

	summary, err := f.recorder.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.TotalRequests)
	assert.Equal(t, "50.00%", summary.HitRate)

	logs, err := f.access.Tail(10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, false, logs[0]["cache_hit"])
	assert.Equal(t, true, logs[1]["cache_hit"])
	assert.Equal(t, key, logs[1]["cache_key"])
}

func TestViewWithoutTTLUsesDefault(t *testing.T) {
	f := newFixture(t)
	producer := &countingProducer{resp: types.Response{StatusCode: http.StatusOK, Body: []byte("ok")}}

	_, outcome := f.gateway.Serve(context.Background(), types.ViewConfig{Name: "product_list"}, listRequest(), producer.produce)
	require.Equal(t, types.OutcomeMiss, outcome)

	assert.Equal(t, 10*time.Minute, f.mr.TTL(f.keys.Build("product_list", listRequest())))
}

func TestNotFoundIsNeverStored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := types.ViewConfig{Name: "product_detail", TTL: time.Minute}
	req := types.RequestDescriptor{
		Method:    http.MethodGet,
		Path:      "/products/42/",
		NamedArgs: map[string]string{"product_id": "42"},
	}

	found := &countingProducer{resp: types.Response{StatusCode: http.StatusOK, Body: []byte(`{"id":42}`)}}
	_, outcome := f.gateway.Serve(ctx, view, req, found.produce)
	require.Equal(t, types.OutcomeMiss, outcome)

	key := f.keys.Build(view.Name, req)
	require.True(t, f.mr.Exists(key))

	f.mr.Del(key)
	gone := &countingProducer{resp: types.Response{StatusCode: http.StatusNotFound, Body: []byte(`{"error":"not found"}`)}}
	resp, outcome := f.gateway.Serve(ctx, view, req, gone.produce)
	assert.Equal(t, types.OutcomeMiss, outcome)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, f.mr.Exists(key))

	_, outcome = f.gateway.Serve(ctx, view, req, gone.produce)
	assert.Equal(t, types.OutcomeMiss, outcome)
	assert.Equal(t, 2, gone.calls)
}

func TestBypassRules(t *testing.T) {
	cases := []struct {
		name   string
		method string
		user   string
		bypass bool
	}{
		{"anonymous get", http.MethodGet, "", false},
		{"anonymous head", http.MethodHead, "", false},
		{"authenticated get", http.MethodGet, "7", false},
		{"authenticated head", http.MethodHead, "7", true},
		{"post", http.MethodPost, "", true},
		{"delete", http.MethodDelete, "7", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.bypass, Bypass(types.RequestDescriptor{Method: tc.method, UserID: tc.user}))
		})
	}
}

func TestBypassTouchesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	producer := &countingProducer{resp: types.Response{StatusCode: http.StatusCreated, Body: []byte("{}")}}

	req := listRequest()
	req.Method = http.MethodPost

	_, outcome := f.gateway.Serve(ctx, productList, req, producer.produce)
	assert.Equal(t, types.OutcomeBypass, outcome)
	assert.Empty(t, f.mr.Keys())
}

func TestCacheable(t *testing.T) {
	assert.True(t, Cacheable(&types.Response{StatusCode: 200, Body: []byte("x")}))
	assert.True(t, Cacheable(&types.Response{StatusCode: 204, Body: []byte("x")}))
	assert.False(t, Cacheable(&types.Response{StatusCode: 200}))
	assert.False(t, Cacheable(&types.Response{StatusCode: 301, Body: []byte("x")}))
	assert.False(t, Cacheable(&types.Response{StatusCode: 500, Body: []byte("x")}))
	assert.False(t, Cacheable(&types.Response{
		StatusCode: 200,
		Body:       []byte("x"),
		Headers:    map[string]string{"cache-control": "private, no-store"},
	}))
	assert.False(t, Cacheable(&types.Response{
		StatusCode: 200,
		Body:       []byte("x"),
		Headers:    map[string]string{"Cache-Control": "No-Cache"},
	}))
}

func TestCorruptEntryIsReplaced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.keys.Build("product_list", listRequest())
	require.NoError(t, f.mr.Set(key, "\xc1broken"))

	producer := &countingProducer{resp: types.Response{StatusCode: http.StatusOK, Body: []byte("fresh")}}
	resp, outcome := f.gateway.Serve(ctx, productList, listRequest(), producer.produce)

	assert.Equal(t, types.OutcomeMiss, outcome)
	assert.Equal(t, []byte("fresh"), resp.Body)

	resp, outcome = f.gateway.Serve(ctx, productList, listRequest(), producer.produce)
	assert.Equal(t, types.OutcomeHit, outcome)
	assert.Equal(t, []byte("fresh"), resp.Body)
}

func TestStoreOutageFallsThrough(t *testing.T) {
	f := newFixture(t)
	f.mr.Close()

	producer := &countingProducer{resp: types.Response{StatusCode: http.StatusOK, Body: []byte("live")}}
	resp, outcome := f.gateway.Serve(context.Background(), productList, listRequest(), producer.produce)

	assert.Equal(t, types.OutcomeMiss, outcome)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []byte("live"), resp.Body)
}

func TestStoreSurvivesCancelledRequest(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	producer := &countingProducer{resp: types.Response{StatusCode: http.StatusOK, Body: []byte("slow")}}
	_, outcome := f.gateway.Serve(ctx, productList, listRequest(), func() *types.Response {
		cancel()
		return producer.produce()
	})

	assert.Equal(t, types.OutcomeMiss, outcome)
	assert.True(t, f.mr.Exists(f.keys.Build("product_list", listRequest())))
}

func TestDisabledGatewayBypasses(t *testing.T) {
	_, store := cachetest.NewRedisStore(t)
	g := NewGateway(store, cache.NewKeyBuilder("", nil), nil, nil, logger.NewNop(), &types.CacheConfig{Enabled: false})

	producer := &countingProducer{resp: types.Response{StatusCode: http.StatusOK, Body: []byte("x")}}
	_, outcome := g.Serve(context.Background(), productList, listRequest(), producer.produce)
	assert.Equal(t, types.OutcomeBypass, outcome)
}
