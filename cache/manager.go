package cache

import (
	"context"
	"sync"
	"time"

	"github.com/saiset-co/sai-cache/metrics"
	"github.com/saiset-co/sai-cache/types"
)

var (
	customEngineCreators   = make(map[string]types.CacheEngineCreator)
	customEngineCreatorsMu sync.RWMutex
)

func RegisterEngine(engineName string, creator types.CacheEngineCreator) {
	customEngineCreatorsMu.Lock()
	defer customEngineCreatorsMu.Unlock()
	customEngineCreators[engineName] = creator
}

// NewEngine builds the engine named by cacheConfig.Type. When a metrics manager
// is supplied the engine reports hits, misses and size through it and every
// operation is counted and timed.
func NewEngine(ctx context.Context, logger types.Logger, metricsManager types.MetricsManager, cacheConfig *types.CacheConfig) (types.CacheEngine, error) {
	if cacheConfig == nil {
		return nil, types.ErrConfigIsNil
	}

	engineName := cacheConfig.Type

	var impl types.CacheEngine
	var err error

	switch engineName {
	case "", "memory":
		impl, err = NewMemoryEngine(ctx, logger, cacheConfig, WithInstrumentation(metrics.NewCacheInstrumentation(metricsManager)))
	default:
		customEngineCreatorsMu.RLock()
		creator, exists := customEngineCreators[engineName]
		customEngineCreatorsMu.RUnlock()

		if !exists {
			return nil, types.Errorf(types.ErrCacheTypeUnknown, "type: %s", engineName)
		}
		impl, err = creator(cacheConfig)
	}

	if err != nil {
		return nil, err
	}

	if metricsManager == nil {
		return impl, nil
	}

	return newInstrumentedEngine(metricsManager, impl), nil
}

type instrumentedEngine struct {
	impl    types.CacheEngine
	metrics types.MetricsManager
}

func newInstrumentedEngine(metrics types.MetricsManager, impl types.CacheEngine) types.CacheEngine {
	return &instrumentedEngine{
		impl:    impl,
		metrics: metrics,
	}
}

func (ie *instrumentedEngine) Get(key string) (interface{}, bool) {
	start := time.Now()
	value, exists := ie.impl.Get(key)

	result := "miss"
	if exists {
		result = "hit"
	}

	ie.recordMetric("get", result, time.Since(start))
	return value, exists
}

func (ie *instrumentedEngine) Set(key string, value interface{}, opts types.SetOptions) error {
	start := time.Now()
	err := ie.impl.Set(key, value, opts)

	result := "success"
	if err != nil {
		result = "error"
	}

	ie.recordMetric("set", result, time.Since(start))
	return err
}

func (ie *instrumentedEngine) Has(key string) bool {
	return ie.impl.Has(key)
}

func (ie *instrumentedEngine) Remove(key string) bool {
	start := time.Now()
	removed := ie.impl.Remove(key)

	result := "miss"
	if removed {
		result = "success"
	}

	ie.recordMetric("remove", result, time.Since(start))
	return removed
}

func (ie *instrumentedEngine) Clear() {
	start := time.Now()
	ie.impl.Clear()
	ie.recordMetric("clear", "success", time.Since(start))
}

func (ie *instrumentedEngine) GetStats() types.CacheStats {
	stats := ie.impl.GetStats()
	ie.metrics.Gauge("cache_items", nil).Set(float64(stats.ItemCount))
	return stats
}

func (ie *instrumentedEngine) Entries() []types.CacheEntry {
	return ie.impl.Entries()
}

func (ie *instrumentedEngine) Shrink(targetSize int64, less types.EntryLess) int {
	start := time.Now()
	evicted := ie.impl.Shrink(targetSize, less)
	ie.recordMetric("shrink", "success", time.Since(start))
	ie.metrics.Counter("cache_evictions_total", map[string]string{"reason": "shrink"}).Add(float64(evicted))
	return evicted
}

func (ie *instrumentedEngine) Destroy() {
	ie.impl.Destroy()
}

func (ie *instrumentedEngine) Start() error {
	return ie.impl.Start()
}

func (ie *instrumentedEngine) Stop() error {
	return ie.impl.Stop()
}

func (ie *instrumentedEngine) IsRunning() bool {
	return ie.impl.IsRunning()
}

func (ie *instrumentedEngine) recordMetric(operation, result string, duration time.Duration) {
	opCounter := ie.metrics.Counter("cache_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
	})
	opCounter.Inc()

	opDuration := ie.metrics.Histogram("cache_operation_duration_seconds",
		[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		map[string]string{"operation": operation},
	)
	opDuration.Observe(duration.Seconds())
}
