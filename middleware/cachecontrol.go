package middleware

import (
	"bytes"
	"strconv"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/Khoshtrip/backend/types"
	"github.com/Khoshtrip/backend/utils"
)

const noCacheDirective = "no-cache, max-age=0"

// CacheControlMiddleware sets downstream Cache-Control headers. Admin paths and
// authenticated callers are never cached by clients or proxies; anonymous
// successful reads may be kept for max_age_seconds.
type CacheControlMiddleware struct {
	config             types.ConfigManager
	logger             types.Logger
	metrics            types.MetricsManager
	cacheControlConfig *CacheControlConfig
	publicDirective    string
	weight             int
}

type CacheControlConfig struct {
	MaxAgeSeconds int      `json:"max_age_seconds"`
	PrivatePaths  []string `json:"private_paths"`
}

func NewCacheControlMiddleware(config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) *CacheControlMiddleware {
	var cacheControlConfig = &CacheControlConfig{
		MaxAgeSeconds: 300,
		PrivatePaths:  []string{"/cache/"},
	}

	item := config.GetConfig().Middlewares.CacheControl
	if params := paramsOf(item); params != nil {
		if err := utils.UnmarshalConfig(params, cacheControlConfig); err != nil {
			logger.Error("Failed to unmarshal CacheControl middleware config", zap.Error(err))
		}
	}

	return &CacheControlMiddleware{
		config:             config,
		logger:             logger,
		metrics:            metrics,
		cacheControlConfig: cacheControlConfig,
		publicDirective:    "max-age=" + strconv.Itoa(cacheControlConfig.MaxAgeSeconds),
		weight:             weightOf(item, 50),
	}
}

func (c *CacheControlMiddleware) Name() string { return "cache_control" }
func (c *CacheControlMiddleware) Weight() int  { return c.weight }

func (c *CacheControlMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), _ *types.RouteConfig) {
	next(ctx)

	if c.isPrivatePath(ctx.Path()) || UserID(ctx) != "" {
		ctx.Response.Header.Set(fasthttp.HeaderCacheControl, noCacheDirective)
		return
	}

	if !ctx.IsGet() && !ctx.IsHead() {
		return
	}

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		return
	}

	if len(ctx.Response.Header.Peek(fasthttp.HeaderCacheControl)) == 0 {
		ctx.Response.Header.Set(fasthttp.HeaderCacheControl, c.publicDirective)
	}
}

func (c *CacheControlMiddleware) isPrivatePath(path []byte) bool {
	for _, prefix := range c.cacheControlConfig.PrivatePaths {
		if bytes.HasPrefix(path, []byte(prefix)) {
			return true
		}
	}
	return false
}
