package metrics

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
)

type ManagerState int32

const (
	ManagerStateStopped ManagerState = iota
	ManagerStateStarting
	ManagerStateRunning
	ManagerStateStopping
)

type Manager struct {
	ctx     context.Context
	cancel  context.CancelFunc
	logger  types.Logger
	manager types.MetricsManager
	state   atomic.Value
}

var _ types.MetricsManager = (*Manager)(nil)

var customMetricsCreators = sync.Map{}

func RegisterMetricsManager(metricsManagerName string, creator types.MetricsManagerCreator) {
	customMetricsCreators.Store(metricsManagerName, creator)
}

func NewManager(ctx context.Context, logger types.Logger, metricsConfig *types.MetricsConfig) (*Manager, error) {
	if metricsConfig == nil || !metricsConfig.Enabled {
		return nil, types.ErrMetricsIsDisabled
	}

	managerCtx, cancel := context.WithCancel(ctx)

	wrapper := &Manager{
		ctx:    managerCtx,
		cancel: cancel,
		logger: logger,
	}

	wrapper.state.Store(ManagerStateStopped)

	if err := wrapper.initializeManager(metricsConfig); err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to initialize metrics manager")
	}

	return wrapper, nil
}

func (w *Manager) initializeManager(metricsConfig *types.MetricsConfig) error {
	metricsManagerName := metricsConfig.Type

	var manager types.MetricsManager
	var err error

	switch metricsManagerName {
	case "memory":
		manager, err = NewMemoryMetrics(w.logger, metricsConfig)
	case "prometheus":
		manager, err = NewPrometheusMetrics(w.logger, metricsConfig)
	default:
		if creator, exists := customMetricsCreators.Load(metricsManagerName); exists {
			manager, err = creator.(types.MetricsManagerCreator)(metricsConfig)
		} else {
			return types.Errorf(types.ErrMetricsTypeUnknown, "type: %s", metricsManagerName)
		}
	}

	if err != nil {
		return err
	}

	w.manager = manager
	w.logger.Info("Metrics manager initialized", zap.String("type", metricsManagerName))
	return nil
}

func (w *Manager) Start() error {
	if !w.transitionState(ManagerStateStopped, ManagerStateStarting) {
		return types.ErrServerAlreadyRunning
	}

	if err := w.manager.Start(); err != nil {
		w.setState(ManagerStateStopped)
		return types.WrapError(err, "failed to start metrics manager")
	}

	w.setState(ManagerStateRunning)
	w.logger.Info("Metrics manager started successfully")
	return nil
}

func (w *Manager) Stop() error {
	if !w.transitionState(ManagerStateRunning, ManagerStateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		w.setState(ManagerStateStopped)
		w.cancel()
	}()

	if err := w.manager.Stop(); err != nil {
		w.logger.Error("Error during metrics manager shutdown", zap.Error(err))
		return err
	}

	w.logger.Info("Metrics manager stopped gracefully")
	return nil
}

func (w *Manager) IsRunning() bool {
	return w.getState() == ManagerStateRunning
}

func (w *Manager) getState() ManagerState {
	return w.state.Load().(ManagerState)
}

func (w *Manager) setState(newState ManagerState) bool {
	currentState := w.getState()
	return w.state.CompareAndSwap(currentState, newState)
}

func (w *Manager) transitionState(from, to ManagerState) bool {
	return w.state.CompareAndSwap(from, to)
}

func (w *Manager) Counter(name string, labels map[string]string) types.Counter {
	if w.IsRunning() {
		return w.manager.Counter(name, labels)
	}
	return &emptyCounter{}
}

func (w *Manager) Gauge(name string, labels map[string]string) types.Gauge {
	if w.IsRunning() {
		return w.manager.Gauge(name, labels)
	}
	return &emptyGauge{}
}

func (w *Manager) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	if w.IsRunning() {
		return w.manager.Histogram(name, buckets, labels)
	}
	return &emptyHistogram{}
}

func (w *Manager) Handler() http.Handler {
	return w.manager.Handler()
}

func (w *Manager) GetStats() ([]byte, error) {
	if w.IsRunning() {
		return w.manager.GetStats()
	}
	return nil, types.ErrMetricsIsDisabled
}

type emptyCounter struct{}

func (c *emptyCounter) Inc()          {}
func (c *emptyCounter) Add(_ float64) {}
func (c *emptyCounter) Get() float64  { return 0 }

type emptyGauge struct{}

func (g *emptyGauge) Set(_ float64) {}
func (g *emptyGauge) Inc()          {}
func (g *emptyGauge) Dec()          {}
func (g *emptyGauge) Add(_ float64) {}
func (g *emptyGauge) Sub(_ float64) {}
func (g *emptyGauge) Get() float64  { return 0 }

type emptyHistogram struct{}

func (h *emptyHistogram) Observe(_ float64)           {}
func (h *emptyHistogram) ObserveDuration(_ time.Time) {}
func (h *emptyHistogram) GetCount() uint64            { return 0 }
func (h *emptyHistogram) GetSum() float64             { return 0 }
