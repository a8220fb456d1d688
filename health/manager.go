package health

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Khoshtrip/backend/types"
	"github.com/Khoshtrip/backend/utils"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const DefaultPath = "/health"

// Manager runs the registered health checkers concurrently and serves the
// report together with the version and Prometheus endpoints.
type Manager struct {
	ctx          context.Context
	cancel       context.CancelFunc
	config       types.ConfigManager
	logger       types.Logger
	metrics      types.MetricsManager
	router       types.HTTPRouter
	checkers     map[string]types.HealthChecker
	results      map[string]types.HealthCheck
	startTime    time.Time
	mu           sync.RWMutex
	state        atomic.Int32
	checkTimeout time.Duration
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager, router types.HTTPRouter) *Manager {
	managerCtx, cancel := context.WithCancel(ctx)

	return &Manager{
		ctx:          managerCtx,
		cancel:       cancel,
		config:       config,
		logger:       logger,
		metrics:      metrics,
		router:       router,
		checkers:     make(map[string]types.HealthChecker),
		results:      make(map[string]types.HealthCheck),
		checkTimeout: 5 * time.Second,
	}
}

func (hm *Manager) RegisterChecker(name string, checker types.HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.checkers[name] = checker
}

func (hm *Manager) Check(ctx context.Context) types.HealthReport {
	hm.mu.RLock()
	checkers := make(map[string]types.HealthChecker, len(hm.checkers))
	for name, checker := range hm.checkers {
		checkers[name] = checker
	}
	hm.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, hm.checkTimeout)
	defer cancel()

	var g errgroup.Group
	results := make(map[string]types.HealthCheck, len(checkers))
	var resultMu sync.Mutex

	for name, checker := range checkers {
		g.Go(func() error {
			result := hm.executeCheck(checkCtx, name, checker)

			resultMu.Lock()
			results[name] = result
			resultMu.Unlock()
			return nil
		})
	}

	_ = g.Wait()

	hm.mu.Lock()
	hm.results = results
	hm.mu.Unlock()

	return hm.buildReport(results)
}

// Start registers the health, version and metrics routes. It must run before
// the HTTP server compiles its routes.
func (hm *Manager) Start() error {
	if !hm.transitionState(StateStopped, StateStarting) {
		hm.logger.Warn("Health manager is already running")
		return types.ErrServerAlreadyRunning
	}

	hm.startTime = time.Now()
	hm.registerRoutes()
	hm.setState(StateRunning)

	hm.logger.Info("Health manager started")
	return nil
}

func (hm *Manager) Stop() error {
	if !hm.transitionState(StateRunning, StateStopping) {
		hm.logger.Warn("Health manager is not running")
		return types.ErrServerNotRunning
	}

	hm.mu.Lock()
	hm.checkers = make(map[string]types.HealthChecker)
	hm.mu.Unlock()

	hm.cancel()
	hm.setState(StateStopped)

	hm.logger.Info("Health manager stopped gracefully")
	return nil
}

func (hm *Manager) IsRunning() bool {
	return hm.getState() == StateRunning
}

func (hm *Manager) getState() State {
	return State(hm.state.Load())
}

func (hm *Manager) setState(newState State) {
	hm.state.Store(int32(newState))
}

func (hm *Manager) transitionState(from, to State) bool {
	return hm.state.CompareAndSwap(int32(from), int32(to))
}

func (hm *Manager) registerRoutes() {
	config := &types.RouteConfig{
		DisabledMiddlewares: []string{"auth", "cache", "cache_control"},
	}

	path := DefaultPath
	if health := hm.config.GetConfig().Health; health != nil && health.Path != "" {
		path = health.Path
	}

	hm.router.Add(fasthttp.MethodGet, "/version", hm.handleVersion, config)
	hm.router.Add(fasthttp.MethodGet, path, hm.handleHealth, config)

	if prometheus := hm.config.GetConfig().Metrics.Prometheus; prometheus != nil && prometheus.Enabled && hm.metrics != nil {
		metricsPath := prometheus.Path
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		hm.router.Add(fasthttp.MethodGet, metricsPath, hm.metrics.Handler(), config)
	}
}

func (hm *Manager) handleVersion(ctx *fasthttp.RequestCtx) {
	if !hm.IsRunning() {
		utils.WriteError(ctx, fasthttp.StatusServiceUnavailable, types.ErrHealthIsNotRunning.Error())
		return
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, types.VersionInfo{
		Version:   hm.config.GetConfig().Version,
		BuildInfo: getBuildInfo(),
	})
}

func (hm *Manager) handleHealth(ctx *fasthttp.RequestCtx) {
	if !hm.IsRunning() {
		utils.WriteError(ctx, fasthttp.StatusServiceUnavailable, types.ErrHealthIsNotRunning.Error())
		return
	}

	report := hm.Check(ctx)

	status := fasthttp.StatusOK
	if report.Status == types.StatusUnhealthy {
		status = fasthttp.StatusServiceUnavailable
	}

	utils.WriteJSON(ctx, status, report)
}

func (hm *Manager) executeCheck(ctx context.Context, name string, checker types.HealthChecker) types.HealthCheck {
	start := time.Now()

	resultChan := make(chan types.HealthCheck, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultChan <- types.HealthCheck{
					Status:  types.StatusUnhealthy,
					Message: fmt.Sprintf("Health check panicked: %v", r),
				}
			}
		}()

		resultChan <- checker(ctx)
	}()

	var result types.HealthCheck
	select {
	case result = <-resultChan:
	case <-hm.ctx.Done():
		result = types.HealthCheck{Status: types.StatusUnhealthy, Message: "Health manager shutting down"}
	case <-ctx.Done():
		result = types.HealthCheck{Status: types.StatusUnhealthy, Message: "Health check timeout"}
	}

	result.Name = name
	result.LastCheck = time.Now()
	result.Duration = time.Since(start)

	if result.Status != types.StatusHealthy {
		hm.logger.Warn("Health check failed",
			zap.String("check", name),
			zap.String("status", string(result.Status)),
			zap.String("message", result.Message))
	}

	return result
}

func (hm *Manager) buildReport(results map[string]types.HealthCheck) types.HealthReport {
	config := hm.config.GetConfig()

	summary := types.HealthSummary{
		Total: len(results),
	}

	overallStatus := types.StatusHealthy
	for _, result := range results {
		switch result.Status {
		case types.StatusHealthy:
			summary.Healthy++
		case types.StatusUnhealthy:
			summary.Unhealthy++
			overallStatus = types.StatusUnhealthy
		default:
			summary.Unknown++
			if overallStatus == types.StatusHealthy {
				overallStatus = types.StatusUnknown
			}
		}
	}

	return types.HealthReport{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Uptime:    time.Since(hm.startTime),
		Service: types.ServiceInfo{
			Name:    config.Name,
			Version: config.Version,
			Host:    config.Server.HTTP.Host,
			Port:    config.Server.HTTP.Port,
		},
		Checks:  results,
		Summary: summary,
	}
}

// StoreChecker reports the shared key-value store as unhealthy when it does
// not answer a ping. Cache reads still fail open in that state.
func StoreChecker(store types.KeyValueStore) types.HealthChecker {
	return func(ctx context.Context) types.HealthCheck {
		if err := store.Ping(ctx); err != nil {
			return types.HealthCheck{
				Status:  types.StatusUnhealthy,
				Message: err.Error(),
			}
		}

		details := map[string]interface{}{}
		if info, err := store.Info(ctx); err == nil {
			details["used_memory"] = info.UsedMemory
			details["connected_clients"] = info.ConnectedClients
			details["hit_rate"] = info.HitRate
		}

		return types.HealthCheck{
			Status:  types.StatusHealthy,
			Details: details,
		}
	}
}
