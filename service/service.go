package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Khoshtrip/backend/config"
	"github.com/Khoshtrip/backend/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type Service struct {
	ctx             context.Context
	cancel          context.CancelFunc
	done            chan struct{}
	wg              sync.WaitGroup
	state           atomic.Value
	shutdownTimeout time.Duration
	startTimeout    time.Duration
	components      *Components
}

func NewService(ctx context.Context, configPath string) (*Service, error) {
	if configPath == "" {
		return nil, types.ErrConfigInvalidPath
	}

	if _, err := os.Stat(configPath); err != nil {
		return nil, types.WrapError(err, "file does not exist")
	}

	configManager, err := config.NewConfigurationManager(ctx, configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to register config manager")
	}

	return NewServiceWithConfig(ctx, configManager)
}

func NewServiceWithConfig(ctx context.Context, configManager types.ConfigManager) (*Service, error) {
	serviceCtx, cancel := context.WithCancel(ctx)

	components, err := registerProviders(serviceCtx, configManager)
	if err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to register providers")
	}

	shutdownTimeout := 30 * time.Second
	if httpConfig := configManager.GetConfig().Server.HTTP; httpConfig.ShutdownTimeout > 0 {
		shutdownTimeout = 3 * httpConfig.ShutdownTimeout
	}

	service := &Service{
		ctx:             serviceCtx,
		cancel:          cancel,
		done:            make(chan struct{}),
		shutdownTimeout: shutdownTimeout,
		startTimeout:    60 * time.Second,
		components:      components,
	}

	service.state.Store(StateStopped)
	return service, nil
}

func (s *Service) Components() *Components {
	return s.components
}

// Start brings every component up and blocks until the service is stopped by
// Stop, a signal or the parent context.
func (s *Service) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		s.components.Logger.Warn("Service is already running")
		return types.ErrServerAlreadyRunning
	}

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				runErr = fmt.Errorf("service panic: %v", r)
				s.components.Logger.Error("Service run panic", zap.Stack(string(buf[:n])))
				s.setState(StateStopped)
			}
		}()

		runErr = s.run()
	}()

	return runErr
}

func (s *Service) run() error {
	log := s.components.Logger
	log.Info("Starting service")

	ctx, cancel := context.WithTimeout(s.ctx, s.startTimeout)
	defer cancel()

	if err := s.startComponents(ctx); err != nil {
		s.setState(StateStopped)
		if stopErr := s.stopComponents(); stopErr != nil {
			log.Error("Error while rolling back startup", zap.Error(stopErr))
		}
		return types.WrapError(err, "failed to start components")
	}

	s.setState(StateRunning)
	s.setupSignalHandling()

	s.wg.Add(1)
	go s.contextMonitor()

	log.Info("Service started successfully")

	<-s.done

	if err := s.stopComponents(); err != nil {
		log.Error("Error during service shutdown", zap.Error(err))
	}

	s.wg.Wait()
	s.setState(StateStopped)

	log.Info("Service stopped gracefully")
	return nil
}

func (s *Service) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		s.components.Logger.Warn("Service is not running")
		return types.ErrServiceIsNotRunning
	}

	s.components.Logger.Info("Stopping service...")
	s.cancel()

	return nil
}

func (s *Service) Done() <-chan struct{} {
	return s.done
}

func (s *Service) Context() context.Context {
	return s.ctx
}

func (s *Service) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *Service) getState() State {
	return s.state.Load().(State)
}

func (s *Service) setState(newState State) {
	s.state.Store(newState)
}

func (s *Service) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

// startComponents starts the infrastructure first, then the route owners and
// finally the HTTP server, which freezes the route table.
func (s *Service) startComponents(ctx context.Context) error {
	c := s.components

	if err := c.Logs.Start(); err != nil {
		return types.WrapError(err, "failed to start logger")
	}

	g, gCtx := errgroup.WithContext(ctx)

	for name, manager := range map[string]types.LifecycleManager{
		"metrics manager": c.Metrics,
		"store":           c.Store,
	} {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				if err := manager.Start(); err != nil {
					c.Logger.Error("Failed to start "+name, zap.Error(err))
				}
				return nil
			}
		})
	}

	if c.Catalog != nil {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				if err := c.Catalog.Start(); err != nil {
					return types.WrapError(err, "failed to start catalog")
				}
				return nil
			}
		})
	}

	if err := g.Wait(); err != nil {
		select {
		case <-ctx.Done():
			return types.NewErrorf("component startup timeout: %v", ctx.Err())
		default:
			return err
		}
	}

	if c.Health != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := c.Health.Start(); err != nil {
				c.Logger.Error("Failed to start health manager", zap.Error(err))
			}
		}
	}

	if err := c.HTTPServer.Start(); err != nil {
		return types.WrapError(err, "failed to start HTTP server")
	}

	if c.Cron != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := c.Cron.Start(); err != nil {
				c.Logger.Error("Failed to start cron manager", zap.Error(err))
			}
		}
	}

	c.Logger.Info("All components started successfully",
		zap.Int("routes", len(c.Router.GetAllRoutes())))
	return nil
}

func (s *Service) stopComponents() error {
	c := s.components

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	var errs []error

	c.Logger.Info("Stopping service components...")

	g, gCtx := errgroup.WithContext(ctx)

	if c.Cron != nil && c.Cron.IsRunning() {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				if err := c.Cron.Stop(); err != nil {
					c.Logger.Error("Failed to stop cron manager", zap.Error(err))
					return err
				}
				return nil
			}
		})
	}

	if c.HTTPServer.IsRunning() {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				if err := c.HTTPServer.Stop(); err != nil {
					c.Logger.Error("Failed to stop HTTP server", zap.Error(err))
					return err
				}
				return nil
			}
		})
	}

	if err := g.Wait(); err != nil {
		select {
		case <-ctx.Done():
			c.Logger.Warn("Component shutdown timeout, some components may not have stopped gracefully")
		default:
			errs = append(errs, err)
		}
	}

	g = new(errgroup.Group)

	for name, manager := range map[string]types.LifecycleManager{
		"health manager":  healthOrNil(c),
		"catalog":         catalogOrNil(c),
		"store":           c.Store,
		"metrics manager": c.Metrics,
	} {
		if manager == nil || !manager.IsRunning() {
			continue
		}
		g.Go(func() error {
			if err := manager.Stop(); err != nil {
				c.Logger.Error("Failed to stop "+name, zap.Error(err))
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	c.Logger.Info("All components stopped", zap.Int("errors", len(errs)))

	if c.Logs.IsRunning() {
		if err := c.Logs.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return types.NewErrorf("errors during shutdown: %v", errs)
	}

	return nil
}

func (s *Service) setupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case sig := <-sigChan:
			s.components.Logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
			if s.transitionState(StateRunning, StateStopping) {
				s.cancel()
			}

		case <-s.ctx.Done():
			s.components.Logger.Info("Service context cancelled")
		}

		signal.Stop(sigChan)
	}()
}

func (s *Service) contextMonitor() {
	defer s.wg.Done()
	defer close(s.done)

	<-s.ctx.Done()

	switch err := s.ctx.Err(); {
	case types.IsError(err, context.Canceled):
		s.components.Logger.Info("Service shutdown: context cancelled")
	case types.IsError(err, context.DeadlineExceeded):
		s.components.Logger.Warn("Service shutdown: context deadline exceeded")
	default:
		s.components.Logger.Info("Service shutdown: context done")
	}
}

// healthOrNil and catalogOrNil keep typed nil pointers out of the
// LifecycleManager map.
func healthOrNil(c *Components) types.LifecycleManager {
	if c.Health == nil {
		return nil
	}
	return c.Health
}

func catalogOrNil(c *Components) types.LifecycleManager {
	if c.Catalog == nil {
		return nil
	}
	return c.Catalog
}
