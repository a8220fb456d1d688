package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
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

const DefaultJobTimeout = 5 * time.Minute

// Manager schedules maintenance jobs. A job never overlaps with itself: a
// tick that arrives while the previous run is still going is skipped.
type Manager struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	metrics         types.MetricsManager
	cron            *cron.Cron
	jobs            map[string]*job
	state           atomic.Int32
	mu              sync.RWMutex
	shutdownTimeout time.Duration
	jobTimeout      time.Duration
}

type job struct {
	entry   types.JobEntry
	run     types.CronJob
	running atomic.Bool
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) *Manager {
	timezone := time.UTC
	if cronConfig := config.GetConfig().Cron; cronConfig != nil && cronConfig.Timezone != "" {
		if location, err := time.LoadLocation(cronConfig.Timezone); err == nil {
			timezone = location
		} else {
			logger.Warn("Unknown cron timezone, using UTC", zap.String("timezone", cronConfig.Timezone))
		}
	}

	managerCtx, cancel := context.WithCancel(ctx)

	return &Manager{
		ctx:     managerCtx,
		cancel:  cancel,
		logger:  logger,
		metrics: metrics,
		cron: cron.New(
			cron.WithLocation(timezone),
			cron.WithChain(cron.Recover(cronLogger{logger: logger})),
		),
		jobs:            make(map[string]*job),
		shutdownTimeout: 10 * time.Second,
		jobTimeout:      DefaultJobTimeout,
	}
}

func (m *Manager) Add(jobName, spec string, run types.CronJob) error {
	if jobName == "" {
		return types.ErrCronJobNameIsEmpty
	}

	if spec == "" {
		return types.ErrCronExpressionInvalid
	}

	if run == nil {
		return types.ErrCronJobIsNil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getState() == StateStopping {
		return types.ErrCronSchedulerStopped
	}

	if _, exists := m.jobs[jobName]; exists {
		return types.Errorf(types.ErrCronJobExists, "%s", jobName)
	}

	j := &job{
		entry: types.JobEntry{
			Name:    jobName,
			Spec:    spec,
			AddedAt: time.Now(),
		},
		run: run,
	}

	entryID, err := m.cron.AddFunc(spec, func() {
		if _, err := m.execute(m.ctx, j); err != nil {
			m.logger.Debug("Scheduled run did not complete", zap.String("job_name", jobName), zap.Error(err))
		}
	})
	if err != nil {
		return types.Errorf(types.ErrCronExpressionInvalid, "%s: %v", spec, err)
	}

	j.entry.ID = entryID
	j.entry.NextRun = m.cron.Entry(entryID).Next
	m.jobs[jobName] = j

	m.logger.Info("Cron job added",
		zap.String("job_name", jobName),
		zap.String("spec", spec))

	return nil
}

// Run executes the named job immediately, outside its schedule.
func (m *Manager) Run(ctx context.Context, jobName string) error {
	m.mu.RLock()
	j, ok := m.jobs[jobName]
	m.mu.RUnlock()

	if !ok {
		return types.Errorf(types.ErrCronJobNotFound, "%s", jobName)
	}

	skipped, err := m.execute(ctx, j)
	if skipped {
		return types.Errorf(types.ErrCronIsRunning, "%s", jobName)
	}
	return err
}

func (m *Manager) Jobs() []types.JobEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]types.JobEntry, 0, len(m.jobs))
	for _, j := range m.jobs {
		entry := j.entry
		if cronEntry := m.cron.Entry(entry.ID); cronEntry.ID != 0 {
			entry.NextRun = cronEntry.Next
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, k int) bool {
		return entries[i].Name < entries[k].Name
	})

	return entries
}

func (m *Manager) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrCronIsRunning
	}

	m.cron.Start()
	m.setState(StateRunning)
	m.setSchedulerStatus(1)

	m.logger.Info("Cron manager started", zap.Int("jobs", len(m.Jobs())))
	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer m.setState(StateStopped)

	m.cancel()
	stopCtx := m.cron.Stop()
	m.setSchedulerStatus(0)

	timer := time.NewTimer(m.shutdownTimeout)
	defer timer.Stop()

	select {
	case <-stopCtx.Done():
		m.logger.Info("Cron scheduler stopped gracefully")
		return nil
	case <-timer.C:
		m.logger.Warn("Cron manager stop timeout, some jobs may still be running")
		return types.ErrCronJobTimeout
	}
}

func (m *Manager) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *Manager) getState() State {
	return State(m.state.Load())
}

func (m *Manager) setState(newState State) {
	m.state.Store(int32(newState))
}

func (m *Manager) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(int32(from), int32(to))
}

func (m *Manager) execute(ctx context.Context, j *job) (skipped bool, err error) {
	name := j.entry.Name

	if !j.running.CompareAndSwap(false, true) {
		m.logger.Warn("Cron job still running, skipping", zap.String("job_name", name))
		return true, nil
	}
	defer j.running.Store(false)

	jobCtx, cancel := context.WithTimeout(ctx, m.jobTimeout)
	defer cancel()

	start := time.Now()
	m.logger.Debug("Cron job started", zap.String("job_name", name))

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = types.Errorf(types.ErrCronJobFailed, "job panic: %v", r)
			}
		}()
		err = j.run(jobCtx)
	}()

	if err == nil && types.IsError(jobCtx.Err(), context.DeadlineExceeded) {
		err = types.Errorf(types.ErrCronJobTimeout, "timeout after %v", m.jobTimeout)
	}

	duration := time.Since(start)
	m.finish(j, start, duration, err)

	if err != nil {
		m.logger.Error("Cron job failed",
			zap.String("job_name", name),
			zap.Duration("duration", duration),
			zap.Error(err))
		return false, err
	}

	m.logger.Info("Cron job completed",
		zap.String("job_name", name),
		zap.Duration("duration", duration))
	return false, nil
}

func (m *Manager) finish(j *job, start time.Time, duration time.Duration, err error) {
	m.mu.Lock()
	j.entry.LastRun = start
	j.entry.LastDuration = duration
	j.entry.RunCount++
	j.entry.LastError = ""
	if err != nil {
		j.entry.LastError = err.Error()
	}
	m.mu.Unlock()

	if m.metrics == nil {
		return
	}

	result := "success"
	if err != nil {
		result = "error"
	}

	m.metrics.Counter("cron_job_executions_total", map[string]string{
		"job_name": j.entry.Name,
		"result":   result,
	}).Inc()

	m.metrics.Histogram("cron_job_duration_seconds",
		[]float64{0.01, 0.1, 1, 10, 60, 300},
		map[string]string{"job_name": j.entry.Name},
	).Observe(duration.Seconds())
}

func (m *Manager) setSchedulerStatus(value float64) {
	if m.metrics == nil {
		return
	}
	m.metrics.Gauge("cron_scheduler_running", nil).Set(value)
}

type cronLogger struct {
	logger types.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, fields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(fields(keysAndValues), zap.Error(err))...)
}

func fields(keysAndValues []interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out = append(out, zap.Any(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1]))
	}
	return out
}
