package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/types"
)

func newTestManager(t *testing.T, metricsType string) *Manager {
	t.Helper()

	m, err := NewManager(context.Background(), logger.NewNopLogger(), &types.MetricsConfig{Enabled: true, Type: metricsType})
	require.NoError(t, err)
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Stop() })

	return m
}

func TestManagerDisabledAndUnknown(t *testing.T) {
	_, err := NewManager(context.Background(), logger.NewNopLogger(), &types.MetricsConfig{Enabled: false})
	assert.ErrorIs(t, err, types.ErrMetricsIsDisabled)

	_, err = NewManager(context.Background(), logger.NewNopLogger(), &types.MetricsConfig{Enabled: true, Type: "statsd"})
	assert.ErrorIs(t, err, types.ErrMetricsTypeUnknown)
}

func TestManagerNotRunningReturnsEmptyMetrics(t *testing.T) {
	m, err := NewManager(context.Background(), logger.NewNopLogger(), &types.MetricsConfig{Enabled: true, Type: "memory"})
	require.NoError(t, err)

	c := m.Counter("ops", nil)
	c.Inc()
	assert.Equal(t, float64(0), c.Get())
	assert.False(t, m.IsRunning())
}

func TestMemoryMetrics(t *testing.T) {
	m := newTestManager(t, "memory")

	m.Counter("ops", map[string]string{"op": "get"}).Add(2)
	m.Counter("ops", map[string]string{"op": "get"}).Inc()
	assert.Equal(t, float64(3), m.Counter("ops", map[string]string{"op": "get"}).Get())

	g := m.Gauge("size", nil)
	g.Set(10)
	g.Sub(2.5)
	assert.Equal(t, 7.5, g.Get())

	h := m.Histogram("latency", []float64{0.1, 1}, nil)
	h.Observe(0.05)
	h.Observe(2)
	assert.Equal(t, uint64(2), h.GetCount())
	assert.InDelta(t, 2.05, h.GetSum(), 1e-9)

	stats, err := m.GetStats()
	require.NoError(t, err)
	assert.Contains(t, string(stats), `"name":"latency"`)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"name":"ops"`)
}

func TestPrometheusMetrics(t *testing.T) {
	m := newTestManager(t, "prometheus")

	inst := NewCacheInstrumentation(m)
	inst.RecordCacheHit()
	inst.RecordCacheHit()
	inst.RecordCacheMiss()
	inst.UpdateCacheSize(512)

	assert.Equal(t, float64(2), m.Counter(CacheHitsMetric, nil).Get())
	assert.Equal(t, float64(512), m.Gauge(CacheSizeMetric, nil).Get())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "sai_cache_cache_hits_total 2"), body)
	assert.Contains(t, body, "sai_cache_cache_misses_total 1")

	stats, err := m.GetStats()
	require.NoError(t, err)
	assert.Contains(t, string(stats), "sai_cache_cache_size_bytes")
}

func TestNopInstrumentation(t *testing.T) {
	inst := NewCacheInstrumentation(nil)
	assert.IsType(t, NopInstrumentation{}, inst)
	inst.RecordCacheHit()
	inst.UpdateCacheSize(1)
}
