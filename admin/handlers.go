// Package admin serves the operator endpoints under /cache/. Every route
// requires the admin token checked by the auth middleware.
package admin

import (
	"context"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/Khoshtrip/backend/types"
	"github.com/Khoshtrip/backend/utils"
)

const (
	Prefix          = "/cache"
	DefaultLogLines = 100
	MaxLogLines     = 10000
	timestampLayout = "2006-01-02 15:04:05"
)

// Metrics is the part of the metrics recorder the admin endpoints read.
type Metrics interface {
	Summary(ctx context.Context) (types.MetricsSummary, error)
	Reset(ctx context.Context) error
	Analytics(ctx context.Context) (types.Analytics, error)
	Recent(ctx context.Context, window time.Duration) (types.RecentStats, error)
	RecentWindow() time.Duration
}

type Handlers struct {
	store       types.KeyValueStore
	invalidator types.Invalidator
	metrics     Metrics
	access      types.AccessLogger
	logger      types.Logger
	now         func() time.Time
}

type StatsResponse struct {
	RedisStats types.StoreInfo      `json:"redis_stats"`
	AppMetrics types.MetricsSummary `json:"app_metrics"`
	Recent     types.RecentStats    `json:"recent"`
	Timestamp  string               `json:"timestamp"`
}

type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type LogsResponse struct {
	Logs  []map[string]interface{} `json:"logs"`
	Count int                      `json:"count"`
}

func NewHandlers(store types.KeyValueStore, invalidator types.Invalidator, metrics Metrics, access types.AccessLogger, logger types.Logger) *Handlers {
	return &Handlers{
		store:       store,
		invalidator: invalidator,
		metrics:     metrics,
		access:      access,
		logger:      logger,
		now:         time.Now,
	}
}

// Register mounts the admin routes. Admin responses are never cached.
func (h *Handlers) Register(router types.HTTPRouter) {
	group := router.Group(Prefix).WithoutMiddlewares("cache")

	group.GET("/stats/", h.Stats)
	group.POST("/clear/", h.Clear)
	group.GET("/logs/", h.Logs)
	group.POST("/metrics/reset/", h.ResetMetrics)
	group.GET("/analytics/", h.Analytics)
}

func (h *Handlers) Stats(ctx *fasthttp.RequestCtx) {
	info, err := h.store.Info(ctx)
	if err != nil {
		h.logger.Warn("Failed to read store info", zap.Error(err))
		info = types.StoreInfo{}
	}

	summary, err := h.metrics.Summary(ctx)
	if err != nil {
		h.fail(ctx, "Failed to read cache metrics", err)
		return
	}

	recent, err := h.metrics.Recent(ctx, h.metrics.RecentWindow())
	if err != nil {
		h.logger.Warn("Failed to read recent samples", zap.Error(err))
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, StatsResponse{
		RedisStats: info,
		AppMetrics: summary,
		Recent:     recent,
		Timestamp:  h.now().Format(timestampLayout),
	})
}

func (h *Handlers) Clear(ctx *fasthttp.RequestCtx) {
	deleted, err := h.invalidator.Flush(ctx)
	if err != nil {
		h.fail(ctx, "Failed to clear cache", err)
		return
	}

	h.logger.Info("Cache cleared by admin", zap.Int("deleted", deleted))

	utils.WriteJSON(ctx, fasthttp.StatusOK, StatusResponse{
		Status:  "success",
		Message: "Cache cleared successfully",
	})
}

func (h *Handlers) Logs(ctx *fasthttp.RequestCtx) {
	lines := DefaultLogLines
	if raw := ctx.QueryArgs().Peek("lines"); len(raw) > 0 {
		parsed, err := strconv.Atoi(string(raw))
		if err != nil || parsed < 0 {
			utils.WriteError(ctx, fasthttp.StatusBadRequest, types.Errorf(types.ErrInvalidParameter, "lines").Error())
			return
		}
		lines = min(parsed, MaxLogLines)
	}

	logs, err := h.access.Tail(lines)
	if types.IsError(err, types.ErrAccessLogNotFound) {
		utils.WriteJSON(ctx, fasthttp.StatusNotFound, map[string]string{"message": "No cache logs found"})
		return
	}
	if err != nil {
		h.fail(ctx, "Failed to read cache logs", err)
		return
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, LogsResponse{
		Logs:  logs,
		Count: len(logs),
	})
}

func (h *Handlers) ResetMetrics(ctx *fasthttp.RequestCtx) {
	if err := h.metrics.Reset(ctx); err != nil {
		h.fail(ctx, "Failed to reset cache metrics", err)
		return
	}

	h.logger.Info("Cache metrics reset by admin")

	utils.WriteJSON(ctx, fasthttp.StatusOK, StatusResponse{
		Status:  "success",
		Message: "Cache metrics reset successfully",
	})
}

func (h *Handlers) Analytics(ctx *fasthttp.RequestCtx) {
	analytics, err := h.metrics.Analytics(ctx)
	if err != nil {
		h.fail(ctx, "Failed to compute cache analytics", err)
		return
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, analytics)
}

func (h *Handlers) fail(ctx *fasthttp.RequestCtx, msg string, err error) {
	h.logger.ErrorWithErrStack(msg, err)
	utils.WriteError(ctx, fasthttp.StatusInternalServerError, err.Error())
}
