package logger

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Khoshtrip/backend/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// Manager owns the application logger and the cache access log and flushes
// both on shutdown.
type Manager struct {
	logger *ZapWrapper
	access *AccessLog
	state  atomic.Value
}

func NewManager(config *types.ServiceConfig) (*Manager, error) {
	logger, err := NewDefaultLogger(config.Logger)
	if err != nil {
		return nil, err
	}

	var accessConfig *types.AccessLogConfig
	if config.Cache != nil {
		accessConfig = config.Cache.AccessLog
	}

	access, err := NewAccessLog(accessConfig)
	if err != nil {
		return nil, types.WrapError(err, "failed to create access log")
	}

	m := &Manager{
		logger: logger,
		access: access,
	}
	m.state.Store(StateStopped)

	return m, nil
}

func (m *Manager) Logger() types.Logger {
	return m.logger
}

func (m *Manager) AccessLog() *AccessLog {
	return m.access
}

func (m *Manager) Start() error {
	if !m.transitionState(StateStopped, StateRunning) {
		return types.ErrServerAlreadyRunning
	}
	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}
	defer m.state.Store(StateStopped)

	if err := m.access.Close(); err != nil {
		m.logger.Warn("Failed to close access log", zap.Error(err))
	}

	_ = m.logger.Sync()

	return nil
}

func (m *Manager) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *Manager) getState() State {
	return m.state.Load().(State)
}

func (m *Manager) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}
