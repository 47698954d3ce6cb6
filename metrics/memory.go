package metrics

import (
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

type MemoryConfig struct {
	MaxMetrics int `yaml:"max_metrics" json:"max_metrics"`
}

type MemoryMetrics struct {
	logger     types.Logger
	config     *MemoryConfig
	counters   map[string]*MemoryCounter
	gauges     map[string]*MemoryGauge
	histograms map[string]*MemoryHistogram
	running    int32
	mu         sync.RWMutex
}

func NewMemoryMetrics(logger types.Logger, config *types.MetricsConfig) (*MemoryMetrics, error) {
	var memConfig = &MemoryConfig{
		MaxMetrics: 10000,
	}

	if config != nil && config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, memConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal memory metrics config")
		}
	}

	return &MemoryMetrics{
		logger:     logger,
		config:     memConfig,
		counters:   make(map[string]*MemoryCounter),
		gauges:     make(map[string]*MemoryGauge),
		histograms: make(map[string]*MemoryHistogram),
	}, nil
}

func (m *MemoryMetrics) Start() error {
	if !atomic.CompareAndSwapInt32(&m.running, 0, 1) {
		return types.ErrServerAlreadyRunning
	}
	m.logger.Debug("Memory metrics started")
	return nil
}

func (m *MemoryMetrics) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.running, 1, 0) {
		return types.ErrServerNotRunning
	}
	m.logger.Debug("Memory metrics stopped")
	return nil
}

func (m *MemoryMetrics) IsRunning() bool {
	return atomic.LoadInt32(&m.running) == 1
}

func (m *MemoryMetrics) total() int {
	return len(m.counters) + len(m.gauges) + len(m.histograms)
}

func (m *MemoryMetrics) Counter(name string, labels map[string]string) types.Counter {
	key := buildKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if counter, exists := m.counters[key]; exists {
		return counter
	}

	counter := &MemoryCounter{name: name, labels: labels}
	if m.total() >= m.config.MaxMetrics {
		m.logger.Warn("Memory metrics limit reached", zap.String("name", name))
		return counter
	}
	m.counters[key] = counter

	return counter
}

func (m *MemoryMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	key := buildKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if gauge, exists := m.gauges[key]; exists {
		return gauge
	}

	gauge := &MemoryGauge{name: name, labels: labels}
	if m.total() >= m.config.MaxMetrics {
		m.logger.Warn("Memory metrics limit reached", zap.String("name", name))
		return gauge
	}
	m.gauges[key] = gauge

	return gauge
}

func (m *MemoryMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	key := buildKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if histogram, exists := m.histograms[key]; exists {
		return histogram
	}

	histogram := &MemoryHistogram{
		name:    name,
		labels:  labels,
		buckets: make([]float64, len(buckets)),
		counts:  make([]uint64, len(buckets)+1),
	}
	copy(histogram.buckets, buckets)

	if m.total() >= m.config.MaxMetrics {
		m.logger.Warn("Memory metrics limit reached", zap.String("name", name))
		return histogram
	}
	m.histograms[key] = histogram

	return histogram
}

func (m *MemoryMetrics) Values() []types.MetricValue {
	m.mu.RLock()
	defer m.mu.RUnlock()

	metrics := make([]types.MetricValue, 0, m.total())

	for _, counter := range m.counters {
		metrics = append(metrics, types.MetricValue{Name: counter.name, Type: "counter", Value: counter.Get(), Labels: counter.labels})
	}
	for _, gauge := range m.gauges {
		metrics = append(metrics, types.MetricValue{Name: gauge.name, Type: "gauge", Value: gauge.Get(), Labels: gauge.labels})
	}
	for _, histogram := range m.histograms {
		metrics = append(metrics, types.MetricValue{Name: histogram.name, Type: "histogram", Value: histogram.GetSum(), Labels: histogram.labels})
	}

	sort.Slice(metrics, func(i, j int) bool {
		if metrics[i].Name != metrics[j].Name {
			return metrics[i].Name < metrics[j].Name
		}
		return buildKey("", metrics[i].Labels) < buildKey("", metrics[j].Labels)
	})

	return metrics
}

func (m *MemoryMetrics) GetStats() ([]byte, error) {
	return utils.Marshal(m.Values())
}

func (m *MemoryMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		data, err := m.GetStats()
		if err != nil {
			m.logger.Error("Failed to marshal metrics", zap.Error(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	})
}

func buildKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString(name)
	for _, k := range names {
		sb.WriteByte('_')
		sb.WriteString(k)
		sb.WriteByte('_')
		sb.WriteString(labels[k])
	}

	return sb.String()
}

type MemoryCounter struct {
	name   string
	labels map[string]string
	value  uint64
}

func (c *MemoryCounter) Inc() {
	c.Add(1)
}

func (c *MemoryCounter) Add(value float64) {
	addFloat(&c.value, value)
}

func (c *MemoryCounter) Get() float64 {
	return math.Float64frombits(atomic.LoadUint64(&c.value))
}

type MemoryGauge struct {
	name   string
	labels map[string]string
	value  uint64
}

func (g *MemoryGauge) Set(value float64) {
	atomic.StoreUint64(&g.value, math.Float64bits(value))
}

func (g *MemoryGauge) Inc()              { addFloat(&g.value, 1) }
func (g *MemoryGauge) Dec()              { addFloat(&g.value, -1) }
func (g *MemoryGauge) Add(value float64) { addFloat(&g.value, value) }
func (g *MemoryGauge) Sub(value float64) { addFloat(&g.value, -value) }

func (g *MemoryGauge) Get() float64 {
	return math.Float64frombits(atomic.LoadUint64(&g.value))
}

type MemoryHistogram struct {
	name    string
	labels  map[string]string
	buckets []float64
	counts  []uint64
	sum     uint64
	count   uint64
}

func (h *MemoryHistogram) Observe(value float64) {
	atomic.AddUint64(&h.count, 1)
	addFloat(&h.sum, value)

	bucketIndex := len(h.buckets)
	for i, bucket := range h.buckets {
		if value <= bucket {
			bucketIndex = i
			break
		}
	}

	atomic.AddUint64(&h.counts[bucketIndex], 1)
}

func (h *MemoryHistogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

func (h *MemoryHistogram) GetCount() uint64 {
	return atomic.LoadUint64(&h.count)
}

func (h *MemoryHistogram) GetSum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

func addFloat(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if atomic.CompareAndSwapUint64(addr, old, next) {
			return
		}
	}
}
