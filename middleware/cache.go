package middleware

import (
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/Khoshtrip/backend/types"
	"github.com/Khoshtrip/backend/utils"
)

const CacheStatusHeader = "X-Cache"

// CacheMiddleware runs routes marked WithCache through the cache gateway. The
// rest of the chain becomes the producer on a miss; a hit is written back
// without touching the handler.
type CacheMiddleware struct {
	config      types.ConfigManager
	logger      types.Logger
	metrics     types.MetricsManager
	gateway     types.CacheGateway
	cacheConfig *CacheConfig
	weight      int
}

type CacheConfig struct {
	StatusHeader bool `json:"status_header"`
}

func NewCacheMiddleware(config types.ConfigManager, logger types.Logger, metrics types.MetricsManager, gateway types.CacheGateway) *CacheMiddleware {
	var cacheConfig = &CacheConfig{
		StatusHeader: true,
	}

	item := config.GetConfig().Middlewares.Cache
	if params := paramsOf(item); params != nil {
		if err := utils.UnmarshalConfig(params, cacheConfig); err != nil {
			logger.Error("Failed to unmarshal Cache middleware config", zap.Error(err))
		}
	}

	return &CacheMiddleware{
		config:      config,
		logger:      logger,
		metrics:     metrics,
		gateway:     gateway,
		cacheConfig: cacheConfig,
		weight:      weightOf(item, 70),
	}
}

func (c *CacheMiddleware) Name() string { return "cache" }
func (c *CacheMiddleware) Weight() int  { return c.weight }

func (c *CacheMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), config *types.RouteConfig) {
	if config == nil || config.Cache == nil || c.gateway == nil {
		next(ctx)
		return
	}

	view := types.ViewConfig{Name: config.Cache.View, TTL: config.Cache.TTL}
	req := Describe(ctx)

	resp, outcome := c.gateway.Serve(ctx, view, req, func() *types.Response {
		next(ctx)
		return capture(ctx)
	})

	if outcome == types.OutcomeHit {
		restore(ctx, resp)
	}

	if !c.cacheConfig.StatusHeader {
		return
	}

	switch outcome {
	case types.OutcomeHit:
		ctx.Response.Header.Set(CacheStatusHeader, "HIT")
	case types.OutcomeMiss:
		ctx.Response.Header.Set(CacheStatusHeader, "MISS")
	}
}

// Describe builds the cache view of an inbound request.
func Describe(ctx *fasthttp.RequestCtx) types.RequestDescriptor {
	req := types.RequestDescriptor{
		Method: string(ctx.Method()),
		Path:   string(ctx.Path()),
		UserID: UserID(ctx),
	}

	args := ctx.QueryArgs()
	if args.Len() > 0 {
		req.Query = make(map[string][]string, args.Len())
		args.VisitAll(func(key, value []byte) {
			name := string(key)
			req.Query[name] = append(req.Query[name], string(value))
		})
	}

	if params := types.RouteParams(ctx); len(params) > 0 {
		req.NamedArgs = make(map[string]string, len(params))
		for name, value := range params {
			req.NamedArgs[name] = value
		}
	}

	return req
}

func capture(ctx *fasthttp.RequestCtx) *types.Response {
	resp := &types.Response{
		StatusCode:  ctx.Response.StatusCode(),
		Body:        append([]byte(nil), ctx.Response.Body()...),
		ContentType: string(ctx.Response.Header.ContentType()),
		Headers:     make(map[string]string),
	}

	ctx.Response.Header.VisitAll(func(key, value []byte) {
		name := string(key)
		if strings.EqualFold(name, fasthttp.HeaderContentType) {
			return
		}
		resp.Headers[name] = string(value)
	})

	return resp
}

func restore(ctx *fasthttp.RequestCtx, resp *types.Response) {
	ctx.Response.Reset()
	ctx.SetStatusCode(resp.StatusCode)
	if resp.ContentType != "" {
		ctx.SetContentType(resp.ContentType)
	}
	for name, value := range resp.Headers {
		ctx.Response.Header.Set(name, value)
	}
	ctx.SetBody(resp.Body)
}
