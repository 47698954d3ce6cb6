package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/metrics"
	"github.com/saiset-co/sai-cache/types"
)

func TestNewEngineUnknownType(t *testing.T) {
	_, err := NewEngine(context.Background(), logger.NewNopLogger(), nil, &types.CacheConfig{Type: "bolt"})
	assert.ErrorIs(t, err, types.ErrCacheTypeUnknown)
}

func TestNewEngineCustomCreator(t *testing.T) {
	RegisterEngine("custom", func(cfg *types.CacheConfig) (types.CacheEngine, error) {
		return NewMemoryEngine(context.Background(), logger.NewNopLogger(), cfg)
	})

	engine, err := NewEngine(context.Background(), logger.NewNopLogger(), nil, &types.CacheConfig{Type: "custom"})
	require.NoError(t, err)
	defer engine.Destroy()

	assert.IsType(t, &MemoryEngine{}, engine)
}

func TestNewEngineInstrumented(t *testing.T) {
	mm, err := metrics.NewManager(context.Background(), logger.NewNopLogger(), &types.MetricsConfig{Enabled: true, Type: "memory"})
	require.NoError(t, err)
	require.NoError(t, mm.Start())
	defer func() { _ = mm.Stop() }()

	engine, err := NewEngine(context.Background(), logger.NewNopLogger(), mm, &types.CacheConfig{Type: "memory"})
	require.NoError(t, err)
	defer engine.Destroy()

	require.NoError(t, engine.Set("a", "abc", types.SetOptions{}))
	_, _ = engine.Get("a")
	_, _ = engine.Get("b")

	assert.Equal(t, float64(1), mm.Counter(metrics.CacheHitsMetric, nil).Get())
	assert.Equal(t, float64(1), mm.Counter(metrics.CacheMissesMetric, nil).Get())
	assert.Equal(t, float64(5), mm.Gauge(metrics.CacheSizeMetric, nil).Get())
	assert.Equal(t, float64(1), mm.Counter("cache_operations_total", map[string]string{"operation": "get", "result": "hit"}).Get())
	assert.Equal(t, float64(1), mm.Counter("cache_operations_total", map[string]string{"operation": "set", "result": "success"}).Get())
}
