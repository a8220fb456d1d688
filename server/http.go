package server

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Khoshtrip/backend/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// maxRequestBodySize leaves room for a multipart image upload.
const maxRequestBodySize = 8 << 20

type FastHTTPServer struct {
	ctx             context.Context
	cancel          context.CancelFunc
	config          types.ConfigManager
	logger          types.Logger
	metrics         types.MetricsManager
	middlewares     types.MiddlewareManager
	router          *FastHTTPRouter
	server          *fasthttp.Server
	listener        net.Listener
	httpConfig      *types.HTTPConfig
	state           atomic.Int32
	shutdownTimeout time.Duration
}

func NewHTTPServer(
	ctx context.Context,
	config types.ConfigManager,
	logger types.Logger,
	metrics types.MetricsManager,
	middlewares types.MiddlewareManager,
	router *FastHTTPRouter) *FastHTTPServer {
	serverCtx, cancel := context.WithCancel(ctx)

	httpConfig := config.GetConfig().Server.HTTP
	shutdownTimeout := httpConfig.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}

	return &FastHTTPServer{
		ctx:             serverCtx,
		cancel:          cancel,
		config:          config,
		logger:          logger,
		metrics:         metrics,
		middlewares:     middlewares,
		router:          router,
		httpConfig:      httpConfig,
		shutdownTimeout: shutdownTimeout,
	}
}

// Handler returns the request entry point: routing followed by the
// middleware chain of the matched route.
func (h *FastHTTPServer) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		h.router.Handler(ctx, h)
	}
}

// Compile finalizes every pending route. Start calls it; tests that drive
// Handler directly call it themselves.
func (h *FastHTTPServer) Compile() error {
	if err := h.router.FinalizePendingRoutes(); err != nil {
		return types.WrapError(err, "failed to compile routes")
	}
	return nil
}

func (h *FastHTTPServer) Start() error {
	if !h.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	if err := h.Compile(); err != nil {
		h.setState(StateStopped)
		return err
	}

	addr := fmt.Sprintf("%s:%d", h.httpConfig.Host, h.httpConfig.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		h.setState(StateStopped)
		return types.WrapError(err, "failed to listen")
	}
	h.listener = listener

	h.server = &fasthttp.Server{
		Handler:                      h.Handler(),
		Name:                         h.config.GetConfig().Name,
		ReadTimeout:                  h.httpConfig.ReadTimeout,
		WriteTimeout:                 h.httpConfig.WriteTimeout,
		IdleTimeout:                  h.httpConfig.IdleTimeout,
		TCPKeepalive:                 true,
		DisablePreParseMultipartForm: true,
		MaxRequestBodySize:           maxRequestBodySize,
		CloseOnShutdown:              true,
	}

	go func() {
		if err := h.server.Serve(listener); err != nil {
			h.logger.Error("HTTP server failed", zap.Error(err))
			h.setState(StateStopped)
		}
	}()

	h.setState(StateRunning)

	h.logger.Info("HTTP server started successfully",
		zap.String("address", addr),
		zap.Int("routes", len(h.router.GetAllRoutes())))

	return nil
}

func (h *FastHTTPServer) Stop() error {
	if !h.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		h.setState(StateStopped)
		h.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if h.server == nil {
			return nil
		}
		return h.server.ShutdownWithContext(gCtx)
	})

	if err := g.Wait(); err != nil {
		select {
		case <-gCtx.Done():
			h.logger.Warn("Server stop timeout, some connections may not have closed gracefully")
		default:
			h.logger.Error("Error during server shutdown", zap.Error(err))
		}
		return nil
	}

	h.logger.Info("HTTP server stopped gracefully")
	return nil
}

func (h *FastHTTPServer) IsRunning() bool {
	return h.getState() == StateRunning
}

// HandleRequest runs handler behind the middleware chain configured for the
// route.
func (h *FastHTTPServer) HandleRequest(ctx *fasthttp.RequestCtx, handler types.FastHTTPHandler, config *types.RouteConfig) {
	if handler == nil {
		h.logger.Error("Route without handler", zap.ByteString("path", ctx.Path()), zap.Error(types.ErrHandlerIsNil))
		ctx.Error(types.ErrPathNotFound.Error(), fasthttp.StatusNotFound)
		return
	}

	if h.middlewares == nil {
		handler(ctx)
		return
	}

	h.middlewares.Execute(ctx, handler, config)
}

func (h *FastHTTPServer) getState() State {
	return State(h.state.Load())
}

func (h *FastHTTPServer) setState(newState State) {
	h.state.Store(int32(newState))
}

func (h *FastHTTPServer) transitionState(from, to State) bool {
	return h.state.CompareAndSwap(int32(from), int32(to))
}
