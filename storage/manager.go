package storage

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
)

var (
	customStorageCreators   = make(map[string]types.StorageCreator)
	customStorageCreatorsMu sync.RWMutex
)

func RegisterStorage(storageType string, creator types.StorageCreator) {
	customStorageCreatorsMu.Lock()
	defer customStorageCreatorsMu.Unlock()
	customStorageCreators[storageType] = creator
}

// NewStorage opens the adapter named by config.Type. When it cannot be opened
// and config.Fallback is set, an in-memory adapter is returned instead and the
// failure is logged. A non-nil metrics manager counts and times every call.
func NewStorage(ctx context.Context, logger types.Logger, metrics types.MetricsManager, config *types.StorageConfig) (types.StorageAdapter, error) {
	if config == nil {
		return nil, types.ErrConfigIsNil
	}

	impl, err := openStorage(ctx, logger, config)
	if err != nil {
		if !config.Fallback || types.IsError(err, types.ErrStorageTypeUnknown) {
			return nil, err
		}

		logger.Error("Storage unavailable, falling back to memory",
			zap.String("type", config.Type),
			zap.Error(err))
		impl = NewMemoryStorage()
	}

	if metrics == nil {
		return impl, nil
	}

	return newInstrumentedStorage(metrics, impl), nil
}

func openStorage(ctx context.Context, logger types.Logger, config *types.StorageConfig) (types.StorageAdapter, error) {
	switch config.Type {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "clover":
		return NewCloverStorage(logger, config)
	case "sqlite":
		return NewSQLiteStorage(logger, config)
	case "redis":
		return NewRedisStorage(ctx, logger, config)
	default:
		customStorageCreatorsMu.RLock()
		creator, exists := customStorageCreators[config.Type]
		customStorageCreatorsMu.RUnlock()

		if !exists {
			return nil, types.Errorf(types.ErrStorageTypeUnknown, "type: %s", config.Type)
		}
		return creator(config)
	}
}

type instrumentedStorage struct {
	impl    types.StorageAdapter
	metrics types.MetricsManager
}

func newInstrumentedStorage(metrics types.MetricsManager, impl types.StorageAdapter) types.StorageAdapter {
	return &instrumentedStorage{
		impl:    impl,
		metrics: metrics,
	}
}

func (is *instrumentedStorage) GetItem(ctx context.Context, key string) (string, bool, error) {
	start := time.Now()
	value, exists, err := is.impl.GetItem(ctx, key)
	is.recordMetric("get", err, time.Since(start))
	return value, exists, err
}

func (is *instrumentedStorage) SetItem(ctx context.Context, key, value string) error {
	start := time.Now()
	err := is.impl.SetItem(ctx, key, value)
	is.recordMetric("set", err, time.Since(start))
	if err == nil {
		is.metrics.Counter("storage_bytes_written_total", nil).Add(float64(len(value)))
	}
	return err
}

func (is *instrumentedStorage) RemoveItem(ctx context.Context, key string) error {
	start := time.Now()
	err := is.impl.RemoveItem(ctx, key)
	is.recordMetric("remove", err, time.Since(start))
	return err
}

func (is *instrumentedStorage) Clear(ctx context.Context) error {
	start := time.Now()
	err := is.impl.Clear(ctx)
	is.recordMetric("clear", err, time.Since(start))
	return err
}

func (is *instrumentedStorage) GetAllKeys(ctx context.Context) ([]string, error) {
	start := time.Now()
	keys, err := is.impl.GetAllKeys(ctx)
	is.recordMetric("keys", err, time.Since(start))
	return keys, err
}

func (is *instrumentedStorage) Close() error {
	return is.impl.Close()
}

func (is *instrumentedStorage) recordMetric(operation string, err error, duration time.Duration) {
	result := "success"
	if err != nil {
		result = "error"
	}

	is.metrics.Counter("storage_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
	}).Inc()

	is.metrics.Histogram("storage_operation_duration_seconds",
		[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		map[string]string{"operation": operation},
	).Observe(duration.Seconds())
}
