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
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-cache/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const (
	defaultJobTimeout      = 5 * time.Minute
	defaultShutdownTimeout = 10 * time.Second
)

var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type Option func(*Manager)

func WithJobTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		if timeout > 0 {
			m.jobTimeout = timeout
		}
	}
}

func WithShutdownTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		if timeout > 0 {
			m.shutdownTimeout = timeout
		}
	}
}

type jobEntry struct {
	info    types.JobEntry
	job     types.Job
	running atomic.Bool
}

// Manager schedules background maintenance such as autosave and backup
// pruning. A job never overlaps with itself.
type Manager struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	metrics         types.MetricsManager
	cron            *cron.Cron
	location        *time.Location
	jobs            map[string]*jobEntry
	state           atomic.Value
	mu              sync.RWMutex
	inflight        sync.WaitGroup
	shutdown        chan struct{}
	shutdownOnce    sync.Once
	shutdownTimeout time.Duration
	jobTimeout      time.Duration
}

var _ types.CronManager = (*Manager)(nil)

func NewManager(ctx context.Context, logger types.Logger, metrics types.MetricsManager, config *types.CronConfig, opts ...Option) (*Manager, error) {
	if config == nil {
		return nil, types.ErrConfigIsNil
	}

	location := time.UTC
	if config.Timezone != "" {
		loaded, err := time.LoadLocation(config.Timezone)
		if err != nil {
			logger.Warn("Unknown cron timezone, using UTC", zap.String("timezone", config.Timezone), zap.Error(err))
		} else {
			location = loaded
		}
	}

	cronLogger := cronLogger{logger: logger}
	managerCtx, cancel := context.WithCancel(ctx)

	m := &Manager{
		ctx:     managerCtx,
		cancel:  cancel,
		logger:  logger,
		metrics: metrics,
		cron: cron.New(
			cron.WithLocation(location),
			cron.WithParser(parser),
			cron.WithChain(cron.Recover(cronLogger)),
			cron.WithLogger(cronLogger),
		),
		location:        location,
		jobs:            make(map[string]*jobEntry),
		shutdown:        make(chan struct{}),
		shutdownTimeout: defaultShutdownTimeout,
		jobTimeout:      defaultJobTimeout,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.state.Store(StateStopped)

	return m, nil
}

func (m *Manager) Add(jobName, spec string, job types.Job) error {
	if jobName == "" {
		return types.ErrCronJobNameIsEmpty
	}
	if job == nil {
		return types.ErrCronJobIsNil
	}

	schedule, err := parser.Parse(spec)
	if err != nil {
		return types.Errorf(types.ErrCronExpressionInvalid, "%q: %v", spec, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.shutdown:
		return types.ErrCronSchedulerStopped
	default:
	}

	if _, exists := m.jobs[jobName]; exists {
		return types.Errorf(types.ErrCronJobExists, "job: %s", jobName)
	}

	entryID := m.cron.Schedule(schedule, cron.FuncJob(func() {
		_ = m.run(jobName)
	}))

	m.jobs[jobName] = &jobEntry{
		info: types.JobEntry{
			ID:      entryID,
			Name:    jobName,
			Spec:    spec,
			AddedAt: time.Now(),
		},
		job: job,
	}

	m.logger.Info("Cron job added", zap.String("job_name", jobName), zap.String("spec", spec))

	return nil
}

func (m *Manager) Remove(jobName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.jobs[jobName]
	if !exists {
		return types.Errorf(types.ErrCronJobNotFound, "job: %s", jobName)
	}

	m.cron.Remove(entry.info.ID)
	delete(m.jobs, jobName)

	m.logger.Info("Cron job removed", zap.String("job_name", jobName))
	return nil
}

// Trigger runs a job immediately and returns its error. A run of the same job
// already in progress makes it a no-op.
func (m *Manager) Trigger(jobName string) error {
	return m.run(jobName)
}

// Jobs lists registered jobs sorted by name.
func (m *Manager) Jobs() []types.JobEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]types.JobEntry, 0, len(m.jobs))
	for _, entry := range m.jobs {
		info := entry.info
		if cronEntry := m.cron.Entry(info.ID); cronEntry.Valid() {
			info.NextRun = cronEntry.Next
		}
		jobs = append(jobs, info)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].Name < jobs[j].Name
	})

	return jobs
}

func (m *Manager) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrCronIsRunning
	}

	select {
	case <-m.shutdown:
		m.setState(StateStopped)
		return types.ErrCronSchedulerStopped
	default:
	}

	m.cron.Start()
	m.setState(StateRunning)
	m.setSchedulerStatus(1)

	m.logger.Info("Cron manager started", zap.String("timezone", m.location.String()))
	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) &&
		!m.transitionState(StateStarting, StateStopping) {
		return types.ErrCronIsNotRunning
	}

	var err error
	m.shutdownOnce.Do(func() {
		defer m.setState(StateStopped)

		m.mu.Lock()
		close(m.shutdown)
		m.mu.Unlock()

		err = m.stop()
		m.setSchedulerStatus(0)

		if err == nil {
			m.logger.Info("Cron scheduler stopped gracefully")
		}
	})

	return err
}

func (m *Manager) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *Manager) getState() State {
	return m.state.Load().(State)
}

func (m *Manager) setState(newState State) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *Manager) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}

func (m *Manager) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-m.cron.Stop().Done():
			return nil
		case <-gCtx.Done():
			return types.ErrCronJobTimeout
		}
	})

	g.Go(func() error {
		done := make(chan struct{})
		go func() {
			m.inflight.Wait()
			close(done)
		}()

		select {
		case <-done:
			return nil
		case <-gCtx.Done():
			m.cancel()
			return types.ErrCronJobTimeout
		}
	})

	err := g.Wait()
	m.cancel()

	if err != nil {
		m.logger.Warn("Cron manager stop timeout, jobs were cancelled", zap.Error(err))
	}

	return err
}

func (m *Manager) run(jobName string) error {
	m.mu.RLock()
	entry, exists := m.jobs[jobName]
	select {
	case <-m.shutdown:
		m.mu.RUnlock()
		m.logger.Info("Job skipped due to shutdown", zap.String("job_name", jobName))
		return types.ErrCronSchedulerStopped
	default:
	}
	if exists {
		m.inflight.Add(1)
	}
	m.mu.RUnlock()

	if !exists {
		return types.Errorf(types.ErrCronJobNotFound, "job: %s", jobName)
	}
	defer m.inflight.Done()

	if !entry.running.CompareAndSwap(false, true) {
		m.logger.Debug("Job still running, skipped", zap.String("job_name", jobName))
		return nil
	}
	defer entry.running.Store(false)

	jobCtx, cancel := context.WithTimeout(m.ctx, m.jobTimeout)
	defer cancel()

	startTime := time.Now()
	m.logger.Debug("Cron job started", zap.String("job_name", jobName))

	err := call(jobCtx, entry.job)
	if err == nil && types.IsError(jobCtx.Err(), context.DeadlineExceeded) {
		err = types.Errorf(types.ErrCronJobTimeout, "timeout after %v", m.jobTimeout)
	}

	duration := time.Since(startTime)
	m.record(entry, startTime, duration, err)

	if err != nil {
		m.logger.Error("Cron job failed",
			zap.String("job_name", jobName),
			zap.Duration("duration", duration),
			zap.Error(err))
		return err
	}

	m.logger.Debug("Cron job completed",
		zap.String("job_name", jobName),
		zap.Duration("duration", duration))

	return nil
}

func call(ctx context.Context, job types.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.Errorf(types.ErrCronJobFailed, "job panic: %v", r)
		}
	}()

	return job(ctx)
}

func (m *Manager) record(entry *jobEntry, startTime time.Time, duration time.Duration, err error) {
	result := "success"

	m.mu.Lock()
	entry.info.LastRun = startTime
	entry.info.LastDuration = duration
	entry.info.RunCount++
	entry.info.LastError = ""
	if err != nil {
		result = "error"
		entry.info.ErrorCount++
		entry.info.LastError = err.Error()
	}
	m.mu.Unlock()

	if m.metrics == nil {
		return
	}

	m.metrics.Counter("cron_job_executions_total", map[string]string{
		"job_name": entry.info.Name,
		"result":   result,
	}).Inc()

	m.metrics.Histogram("cron_job_duration_seconds",
		[]float64{0.01, 0.1, 1.0, 10.0, 60.0, 300.0},
		map[string]string{"job_name": entry.info.Name},
	).Observe(duration.Seconds())
}

func (m *Manager) setSchedulerStatus(value float64) {
	if m.metrics == nil {
		return
	}
	m.metrics.Gauge("cron_scheduler_running", nil).Set(value)
}

// cronLogger adapts types.Logger to cron.Logger.
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
