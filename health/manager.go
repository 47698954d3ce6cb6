package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-cache/types"
)

type Option func(*Manager)

func WithCheckTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		if timeout > 0 {
			m.checkTimeout = timeout
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager runs the registered checkers concurrently and folds their results
// into one report.
type Manager struct {
	logger       types.Logger
	service      types.ServiceInfo
	checkers     map[string]types.HealthChecker
	results      map[string]types.HealthCheck
	startTime    time.Time
	mu           sync.RWMutex
	checkTimeout time.Duration
	now          func() time.Time
}

func NewManager(logger types.Logger, name, version string, opts ...Option) *Manager {
	manager := &Manager{
		logger: logger,
		service: types.ServiceInfo{
			Name:    name,
			Version: version,
			Build:   GetBuildInfo().String(),
		},
		checkers:     make(map[string]types.HealthChecker),
		results:      make(map[string]types.HealthCheck),
		checkTimeout: 5 * time.Second,
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(manager)
	}

	manager.startTime = manager.now()
	return manager
}

func (hm *Manager) RegisterChecker(name string, checker types.HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.checkers[name] = checker
}

// Last returns the results of the previous Check.
func (hm *Manager) Last() map[string]types.HealthCheck {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	results := make(map[string]types.HealthCheck, len(hm.results))
	for name, result := range hm.results {
		results[name] = result
	}
	return results
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

	g := new(errgroup.Group)
	results := make(map[string]types.HealthCheck, len(checkers))
	var resultMu sync.Mutex

	for name, checker := range checkers {
		name, checker := name, checker
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

	report := hm.buildReport(results)
	if report.Status != types.StatusHealthy {
		hm.logger.Warn("Health check degraded",
			zap.String("status", string(report.Status)),
			zap.Int("unhealthy", report.Summary.Unhealthy))
	}

	return report
}

func (hm *Manager) executeCheck(ctx context.Context, name string, checker types.HealthChecker) types.HealthCheck {
	start := hm.now()
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
	case <-ctx.Done():
		result = types.HealthCheck{
			Status:  types.StatusUnhealthy,
			Message: "Health check timeout",
		}
	}

	result.Name = name
	result.LastCheck = hm.now()
	result.Duration = result.LastCheck.Sub(start)
	return result
}

func (hm *Manager) buildReport(results map[string]types.HealthCheck) types.HealthReport {
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

	now := hm.now()
	return types.HealthReport{
		Status:    overallStatus,
		Timestamp: now,
		Uptime:    now.Sub(hm.startTime),
		Service:   hm.service,
		Checks:    results,
		Summary:   summary,
	}
}
