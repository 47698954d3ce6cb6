package metrics

import (
	"github.com/saiset-co/sai-cache/types"
)

const (
	CacheHitsMetric   = "cache_hits_total"
	CacheMissesMetric = "cache_misses_total"
	CacheSizeMetric   = "cache_size_bytes"
)

type cacheInstrumentation struct {
	manager types.MetricsManager
}

// NewCacheInstrumentation reports cache hits, misses and byte size through the
// given metrics manager. A nil manager yields a no-op instrumentation.
// Metrics are resolved per call so the manager may be started later.
func NewCacheInstrumentation(manager types.MetricsManager) types.Instrumentation {
	if manager == nil {
		return NopInstrumentation{}
	}
	return &cacheInstrumentation{manager: manager}
}

func (i *cacheInstrumentation) RecordCacheHit() {
	i.manager.Counter(CacheHitsMetric, nil).Inc()
}

func (i *cacheInstrumentation) RecordCacheMiss() {
	i.manager.Counter(CacheMissesMetric, nil).Inc()
}

func (i *cacheInstrumentation) UpdateCacheSize(size int64) {
	i.manager.Gauge(CacheSizeMetric, nil).Set(float64(size))
}

type NopInstrumentation struct{}

func (NopInstrumentation) RecordCacheHit()         {}
func (NopInstrumentation) RecordCacheMiss()        {}
func (NopInstrumentation) UpdateCacheSize(_ int64) {}
