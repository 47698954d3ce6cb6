package cache

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/metrics"
	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

type MemoryState int32

const (
	MemoryStateStopped MemoryState = iota
	MemoryStateStarting
	MemoryStateRunning
	MemoryStateStopping
)

// unknownValueSize is charged for in-memory values that sonic cannot encode.
const unknownValueSize int64 = 64

type EngineOption func(*MemoryEngine)

func WithInstrumentation(instrumentation types.Instrumentation) EngineOption {
	return func(m *MemoryEngine) {
		if instrumentation != nil {
			m.instrumentation = instrumentation
		}
	}
}

func WithClock(now func() time.Time) EngineOption {
	return func(m *MemoryEngine) {
		if now != nil {
			m.now = now
		}
	}
}

type record struct {
	entry     types.CacheEntry
	accessSeq uint64
	createSeq uint64
}

type MemoryEngine struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	config          *types.CacheConfig
	instrumentation types.Instrumentation
	now             func() time.Time
	data            map[string]*record
	size            int64
	seq             uint64
	hits            uint64
	misses          uint64
	evictions       uint64
	expirations     uint64
	mu              sync.Mutex
	state           atomic.Value
	stopCleanup     chan struct{}
	cleanupDone     chan struct{}
	destroyOnce     sync.Once
	destroyed       atomic.Bool
}

var _ types.CacheEngine = (*MemoryEngine)(nil)

func NewMemoryEngine(ctx context.Context, logger types.Logger, config *types.CacheConfig, opts ...EngineOption) (*MemoryEngine, error) {
	if config == nil {
		return nil, types.ErrConfigIsNil
	}

	if config.MaxSize < 0 || config.MaxItems < 0 {
		return nil, types.Errorf(types.ErrInvalidParameter, "cache limits must not be negative")
	}

	engineCtx, cancel := context.WithCancel(ctx)

	engine := &MemoryEngine{
		ctx:             engineCtx,
		cancel:          cancel,
		logger:          logger,
		config:          config,
		instrumentation: metrics.NopInstrumentation{},
		now:             time.Now,
		data:            make(map[string]*record),
	}

	for _, opt := range opts {
		opt(engine)
	}

	engine.state.Store(MemoryStateStopped)

	return engine, nil
}

func (m *MemoryEngine) Set(key string, value interface{}, opts types.SetOptions) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	if m.destroyed.Load() {
		return types.ErrCacheDestroyed
	}

	size := opts.Size
	if size <= 0 {
		estimated, err := utils.EstimateSize(value)
		switch {
		case err != nil && opts.Persistent:
			return types.Errorf(types.ErrCacheValueNotSerializable, "key: %s: %v", key, err)
		case err != nil:
			size = unknownValueSize
		default:
			size = estimated
		}
	} else if opts.Persistent {
		if _, err := utils.EstimateSize(value); err != nil {
			return types.Errorf(types.ErrCacheValueNotSerializable, "key: %s: %v", key, err)
		}
	}

	now := m.now()
	ttl := m.resolveTTL(opts.TTL)

	createdAt := now
	if !opts.CreatedAt.IsZero() && opts.CreatedAt.Before(now) {
		createdAt = opts.CreatedAt
	}

	entry := types.CacheEntry{
		Key:          key,
		Value:        value,
		Category:     opts.Category,
		CreatedAt:    createdAt,
		LastAccessed: now,
		Size:         size,
		Priority:     opts.Priority,
	}

	if ttl > 0 {
		entry.TTL = ttl
		entry.ExpiresAt = now.Add(ttl)
	}

	m.mu.Lock()

	if old, exists := m.data[key]; exists {
		m.size -= old.entry.Size
	}

	m.seq++
	m.data[key] = &record{entry: entry, accessSeq: m.seq, createSeq: m.seq}
	m.size += size

	m.enforceLimitsUnsafe(key, now)
	total := m.size

	m.mu.Unlock()

	m.instrumentation.UpdateCacheSize(total)
	return nil
}

func (m *MemoryEngine) resolveTTL(ttl time.Duration) time.Duration {
	switch {
	case ttl < 0:
		return 0
	case ttl == 0:
		return m.config.DefaultTTL
	default:
		return ttl
	}
}

func (m *MemoryEngine) Get(key string) (interface{}, bool) {
	now := m.now()

	m.mu.Lock()
	rec, exists := m.data[key]
	if !exists {
		m.mu.Unlock()
		m.recordMiss()
		return nil, false
	}

	if rec.entry.IsExpired(now) {
		m.expireUnsafe(key, rec)
		m.mu.Unlock()
		m.recordMiss()
		return nil, false
	}

	m.seq++
	rec.accessSeq = m.seq
	rec.entry.LastAccessed = now
	value := rec.entry.Value
	m.mu.Unlock()

	atomic.AddUint64(&m.hits, 1)
	m.instrumentation.RecordCacheHit()

	return value, true
}

func (m *MemoryEngine) recordMiss() {
	atomic.AddUint64(&m.misses, 1)
	m.instrumentation.RecordCacheMiss()
}

// Has does not touch access order.
func (m *MemoryEngine) Has(key string) bool {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.data[key]
	if !exists {
		return false
	}

	if rec.entry.IsExpired(now) {
		m.expireUnsafe(key, rec)
		return false
	}

	return true
}

func (m *MemoryEngine) Remove(key string) bool {
	m.mu.Lock()
	rec, exists := m.data[key]
	if exists {
		m.deleteUnsafe(key, rec)
	}
	total := m.size
	m.mu.Unlock()

	if exists {
		m.instrumentation.UpdateCacheSize(total)
	}
	return exists
}

func (m *MemoryEngine) Clear() {
	m.mu.Lock()
	m.data = make(map[string]*record)
	m.size = 0
	m.mu.Unlock()

	m.instrumentation.UpdateCacheSize(0)
}

func (m *MemoryEngine) GetStats() types.CacheStats {
	m.mu.Lock()
	m.purgeExpiredUnsafe(m.now())
	stats := types.CacheStats{
		ItemCount: len(m.data),
		Size:      m.size,
	}
	m.mu.Unlock()

	stats.Hits = atomic.LoadUint64(&m.hits)
	stats.Misses = atomic.LoadUint64(&m.misses)
	stats.Evictions = atomic.LoadUint64(&m.evictions)
	stats.Expirations = atomic.LoadUint64(&m.expirations)

	return stats
}

// Entries returns a copy of every live entry in insertion order.
func (m *MemoryEngine) Entries() []types.CacheEntry {
	now := m.now()

	m.mu.Lock()
	records := make([]*record, 0, len(m.data))
	for _, rec := range m.data {
		if !rec.entry.IsExpired(now) {
			records = append(records, rec)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].createSeq < records[j].createSeq
	})

	entries := make([]types.CacheEntry, len(records))
	for i, rec := range records {
		entries[i] = rec.entry
	}
	m.mu.Unlock()

	return entries
}

// Shrink evicts entries in the order given by less until the aggregate size is
// at most targetSize. A nil less uses the engine eviction order.
func (m *MemoryEngine) Shrink(targetSize int64, less types.EntryLess) int {
	if targetSize < 0 {
		targetSize = 0
	}

	m.mu.Lock()
	m.purgeExpiredUnsafe(m.now())

	evicted := 0
	if m.size > targetSize {
		for _, victim := range m.victimsUnsafe("", less) {
			if m.size <= targetSize {
				break
			}
			m.deleteUnsafe(victim.entry.Key, victim)
			atomic.AddUint64(&m.evictions, 1)
			evicted++
		}
	}
	total := m.size
	m.mu.Unlock()

	m.instrumentation.UpdateCacheSize(total)

	if evicted > 0 {
		m.logger.Debug("Cache shrunk", zap.Int("evicted", evicted), zap.Int64("size", total), zap.Int64("target_size", targetSize))
	}

	return evicted
}

func (m *MemoryEngine) Start() error {
	if m.destroyed.Load() {
		return types.ErrCacheDestroyed
	}

	if !m.transitionState(MemoryStateStopped, MemoryStateStarting) {
		m.logger.Warn("Cache engine is already running")
		return types.ErrServerAlreadyRunning
	}

	if m.config.CleanupInterval > 0 {
		m.stopCleanup = make(chan struct{})
		m.cleanupDone = make(chan struct{})
		go m.cleanupRoutine(m.stopCleanup, m.cleanupDone)
	}

	m.setState(MemoryStateRunning)
	m.logger.Info("Memory cache engine started",
		zap.Int64("max_size", m.config.MaxSize),
		zap.Int("max_items", m.config.MaxItems),
		zap.Duration("cleanup_interval", m.config.CleanupInterval))

	return nil
}

func (m *MemoryEngine) Stop() error {
	if !m.transitionState(MemoryStateRunning, MemoryStateStopping) {
		return types.ErrServerNotRunning
	}

	defer m.setState(MemoryStateStopped)

	if m.stopCleanup != nil {
		close(m.stopCleanup)

		select {
		case <-m.cleanupDone:
			m.logger.Debug("Cleanup routine stopped")
		case <-time.After(5 * time.Second):
			m.logger.Warn("Cleanup routine stop timeout")
		}

		m.stopCleanup = nil
		m.cleanupDone = nil
	}

	m.logger.Info("Memory cache engine stopped")
	return nil
}

func (m *MemoryEngine) IsRunning() bool {
	return m.getState() == MemoryStateRunning
}

// Destroy stops the cleanup routine and releases every entry. Calls after the
// first are no-ops.
func (m *MemoryEngine) Destroy() {
	m.destroyOnce.Do(func() {
		if m.IsRunning() {
			_ = m.Stop()
		}

		m.destroyed.Store(true)
		m.cancel()

		m.mu.Lock()
		released := len(m.data)
		m.data = make(map[string]*record)
		m.size = 0
		m.mu.Unlock()

		m.instrumentation.UpdateCacheSize(0)
		m.logger.Info("Memory cache engine destroyed", zap.Int("released", released))
	})
}

func (m *MemoryEngine) getState() MemoryState {
	return m.state.Load().(MemoryState)
}

func (m *MemoryEngine) setState(newState MemoryState) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *MemoryEngine) transitionState(from, to MemoryState) bool {
	return m.state.CompareAndSwap(from, to)
}

func (m *MemoryEngine) cleanupRoutine(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanupExpired()
		case <-stop:
			return
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *MemoryEngine) cleanupExpired() {
	m.mu.Lock()
	removed := m.purgeExpiredUnsafe(m.now())
	total := m.size
	m.mu.Unlock()

	if removed > 0 {
		m.instrumentation.UpdateCacheSize(total)
		m.logger.Debug("Expired cache entries removed", zap.Int("removed", removed))
	}
}

func (m *MemoryEngine) purgeExpiredUnsafe(now time.Time) int {
	removed := 0
	for key, rec := range m.data {
		if rec.entry.IsExpired(now) {
			m.expireUnsafe(key, rec)
			removed++
		}
	}
	return removed
}

func (m *MemoryEngine) expireUnsafe(key string, rec *record) {
	m.deleteUnsafe(key, rec)
	atomic.AddUint64(&m.expirations, 1)
}

func (m *MemoryEngine) deleteUnsafe(key string, rec *record) {
	delete(m.data, key)
	m.size -= rec.entry.Size
}

func (m *MemoryEngine) overLimitUnsafe() bool {
	return (m.config.MaxSize > 0 && m.size > m.config.MaxSize) ||
		(m.config.MaxItems > 0 && len(m.data) > m.config.MaxItems)
}

// enforceLimitsUnsafe evicts until both budgets hold. The entry under keep is
// never a victim, so it survives even when it alone exceeds MaxSize.
func (m *MemoryEngine) enforceLimitsUnsafe(keep string, now time.Time) {
	if !m.overLimitUnsafe() {
		return
	}

	m.purgeExpiredUnsafe(now)
	if !m.overLimitUnsafe() {
		return
	}

	evicted := 0
	for _, victim := range m.victimsUnsafe(keep, nil) {
		if !m.overLimitUnsafe() {
			break
		}
		m.deleteUnsafe(victim.entry.Key, victim)
		evicted++
	}

	atomic.AddUint64(&m.evictions, uint64(evicted))
	m.logger.Debug("Cache entries evicted",
		zap.Int("evicted", evicted),
		zap.Int("items", len(m.data)),
		zap.Int64("size", m.size))
}

// victimsUnsafe lists eviction candidates, first victim first.
func (m *MemoryEngine) victimsUnsafe(keep string, less types.EntryLess) []*record {
	victims := make([]*record, 0, len(m.data))
	for key, rec := range m.data {
		if key != keep {
			victims = append(victims, rec)
		}
	}

	sort.Slice(victims, func(i, j int) bool {
		a, b := victims[i], victims[j]
		if less != nil {
			if less(&a.entry, &b.entry) {
				return true
			}
			if less(&b.entry, &a.entry) {
				return false
			}
		}
		return evictBefore(a, b)
	})

	return victims
}

// evictBefore orders by lowest priority, then least recently accessed, then
// oldest creation.
func evictBefore(a, b *record) bool {
	if a.entry.Priority != b.entry.Priority {
		return a.entry.Priority < b.entry.Priority
	}
	if a.accessSeq != b.accessSeq {
		return a.accessSeq < b.accessSeq
	}
	return a.createSeq < b.createSeq
}
