package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/Khoshtrip/backend/admin"
	"github.com/Khoshtrip/backend/cache"
	"github.com/Khoshtrip/backend/catalog"
	"github.com/Khoshtrip/backend/cron"
	"github.com/Khoshtrip/backend/gateway"
	"github.com/Khoshtrip/backend/health"
	"github.com/Khoshtrip/backend/invalidation"
	"github.com/Khoshtrip/backend/logger"
	"github.com/Khoshtrip/backend/metrics"
	"github.com/Khoshtrip/backend/middleware"
	"github.com/Khoshtrip/backend/server"
	"github.com/Khoshtrip/backend/types"
)

const PruneJobName = "prune-metric-samples"

// Components holds every collaborator of a running instance. Each instance
// owns its own set; nothing is shared through package state.
type Components struct {
	Config      types.ConfigManager
	Logs        *logger.Manager
	Logger      types.Logger
	Metrics     types.MetricsManager
	Store       types.KeyValueStore
	Keys        *cache.KeyBuilder
	Recorder    *metrics.Recorder
	Gateway     *gateway.Gateway
	Invalidator *invalidation.Router
	Middlewares *middleware.Manager
	Router      *server.FastHTTPRouter
	Health      *health.Manager
	Cron        *cron.Manager
	Catalog     *catalog.Store
	HTTPServer  *server.FastHTTPServer
}

// NewComponents builds the cache core only: store, keys, recorder, gateway and
// invalidation router. The CLI maintenance commands use it without the HTTP
// surface.
func NewComponents(configManager types.ConfigManager) (*Components, error) {
	_config := configManager.GetConfig()

	logs, err := logger.NewManager(_config)
	if err != nil {
		return nil, types.WrapError(err, "failed to register logger")
	}
	log := logs.Logger()

	metricsManager := metrics.NewManager(_config.Metrics.Prometheus, log)

	store, err := cache.NewStore(_config.Store, log, metricsManager)
	if err != nil {
		return nil, types.WrapError(err, "failed to register store")
	}

	keys := cache.NewKeyBuilder(_config.Cache.Namespace, _config.Cache.ExcludedParams)
	recorder := metrics.NewRecorder(store, metricsManager, log, _config.Metrics)

	return &Components{
		Config:      configManager,
		Logs:        logs,
		Logger:      log,
		Metrics:     metricsManager,
		Store:       store,
		Keys:        keys,
		Recorder:    recorder,
		Gateway:     gateway.NewGateway(store, keys, recorder, logs.AccessLog(), log, _config.Cache),
		Invalidator: invalidation.NewRouter(store, log, metricsManager, _config.Cache),
	}, nil
}

func registerProviders(ctx context.Context, configManager types.ConfigManager) (*Components, error) {
	c, err := NewComponents(configManager)
	if err != nil {
		return nil, err
	}

	_config := configManager.GetConfig()

	c.Middlewares = middleware.NewManager(configManager, c.Logger, c.Metrics, c.Gateway)
	if err = c.Middlewares.RegisterMiddlewares(); err != nil {
		return nil, types.WrapError(err, "failed to register middlewares")
	}

	c.Router = server.NewFastHTTPRouter()

	if _config.Health != nil && _config.Health.Enabled {
		c.Health = health.NewManager(ctx, configManager, c.Logger, c.Metrics, c.Router)
		c.Health.RegisterChecker("store", health.StoreChecker(c.Store))
	}

	if _config.Cron != nil && _config.Cron.Enabled {
		c.Cron = cron.NewManager(ctx, configManager, c.Logger, c.Metrics)
		if _config.Metrics.PruneSchedule != "" {
			if err = c.Cron.Add(PruneJobName, _config.Metrics.PruneSchedule, c.Recorder.PruneJob()); err != nil {
				return nil, types.WrapError(err, "failed to register prune job")
			}
		}
	}

	admin.NewHandlers(c.Store, c.Invalidator, c.Recorder, c.Logs.AccessLog(), c.Logger).Register(c.Router)

	if _config.Catalog != nil && _config.Catalog.Enabled {
		c.Catalog, err = catalog.OpenStore(_config.Catalog, c.Logger)
		if err != nil {
			return nil, types.WrapError(err, "failed to register catalog")
		}
		catalog.NewHandlers(catalog.NewRepository(c.Catalog), c.Invalidator, c.Logger).Register(c.Router)
	} else {
		c.Logger.Info("Catalog disabled, serving admin endpoints only")
	}

	c.HTTPServer = server.NewHTTPServer(ctx, configManager, c.Logger, c.Metrics, c.Middlewares, c.Router)

	c.Logger.Debug("Components registered",
		zap.String("service", _config.Name),
		zap.Strings("middlewares", c.Middlewares.Names()))

	return c, nil
}
