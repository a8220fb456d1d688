package middleware

import (
	"strings"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/Khoshtrip/backend/types"
	"github.com/Khoshtrip/backend/utils"
)

const RequestIDHeader = "X-Request-ID"

type MetadataMiddleware struct {
	config         types.ConfigManager
	logger         types.Logger
	metrics        types.MetricsManager
	metadataConfig *MetadataConfig
	weight         int
}

type MetadataConfig struct {
	GenerateRequestID bool `json:"generate_request_id"`
}

func NewMetadataMiddleware(config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) *MetadataMiddleware {
	var metadataConfig = &MetadataConfig{
		GenerateRequestID: true,
	}

	item := config.GetConfig().Middlewares.Metadata
	if params := paramsOf(item); params != nil {
		if err := utils.UnmarshalConfig(params, metadataConfig); err != nil {
			logger.Error("Failed to unmarshal Metadata middleware config", zap.Error(err))
		}
	}

	return &MetadataMiddleware{
		config:         config,
		logger:         logger,
		metrics:        metrics,
		metadataConfig: metadataConfig,
		weight:         weightOf(item, 20),
	}
}

func (m *MetadataMiddleware) Name() string { return "metadata" }
func (m *MetadataMiddleware) Weight() int  { return m.weight }

func (m *MetadataMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), _ *types.RouteConfig) {
	requestID := strings.TrimSpace(string(ctx.Request.Header.Peek(RequestIDHeader)))
	if requestID == "" && m.metadataConfig.GenerateRequestID {
		requestID = uuid.NewString()
	}

	if requestID != "" {
		ctx.SetUserValue(types.RequestIDKey, requestID)
	}

	next(ctx)

	if requestID != "" {
		ctx.Response.Header.Set(RequestIDHeader, requestID)
	}
}

// RequestID returns the id assigned to the request, if any.
func RequestID(ctx *fasthttp.RequestCtx) string {
	id, _ := ctx.UserValue(types.RequestIDKey).(string)
	return id
}
