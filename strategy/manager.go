package strategy

import (
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager is the category aware facade over a cache engine. It never touches
// engine internals, only its public operations.
type Manager struct {
	engine   types.CacheEngine
	logger   types.Logger
	policies Policies
	now      func() time.Time
}

type CleanupOptions struct {
	TargetSize int64 `json:"target_size"`
}

type CleanupResult struct {
	Evicted int              `json:"evicted"`
	Before  types.CacheStats `json:"before"`
	After   types.CacheStats `json:"after"`
}

type CategoryStats struct {
	ItemCount int   `json:"item_count"`
	Size      int64 `json:"size"`
}

type SnapshotEntry struct {
	Key       string         `json:"key"`
	Category  types.Category `json:"category"`
	Value     interface{}    `json:"value"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
	Priority  int            `json:"priority"`
}

type Snapshot struct {
	Entries []SnapshotEntry `json:"entries"`
}

func NewManager(engine types.CacheEngine, logger types.Logger, config *types.StrategyConfig, opts ...Option) (*Manager, error) {
	if engine == nil {
		return nil, types.Errorf(types.ErrInvalidParameter, "cache engine is nil")
	}

	policies, err := BuildPolicies(config)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		engine:   engine,
		logger:   logger,
		policies: policies,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

func (m *Manager) Engine() types.CacheEngine {
	return m.engine
}

func resolve(category types.Category) types.Category {
	if category.Valid() {
		return category
	}
	return types.CategoryOther
}

// Policy returns the policy for category; unknown categories use "other".
func (m *Manager) Policy(category types.Category) Policy {
	return m.policies[resolve(category)]
}

func (m *Manager) Policies() Policies {
	out := make(Policies, len(m.policies))
	for category, policy := range m.policies {
		out[category] = policy
	}
	return out
}

func (m *Manager) Key(key string, category types.Category) string {
	return m.Policy(category).KeyPrefix + keySeparator + key
}

func (m *Manager) SmartSet(key string, value interface{}, category types.Category) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	category = resolve(category)
	policy := m.policies[category]

	return m.engine.Set(m.Key(key, category), value, types.SetOptions{
		TTL:        policy.TTL,
		Priority:   policy.Priority,
		Category:   category,
		Persistent: policy.Persist != PersistNever,
	})
}

func (m *Manager) SmartGet(key string, category types.Category) (interface{}, bool) {
	return m.engine.Get(m.Key(key, category))
}

func (m *Manager) SmartHas(key string, category types.Category) bool {
	return m.engine.Has(m.Key(key, category))
}

func (m *Manager) SmartRemove(key string, category types.Category) bool {
	return m.engine.Remove(m.Key(key, category))
}

// StrategicCleanup evicts by category priority, lowest first, until the cache
// holds at most TargetSize bytes. Recency only orders entries of equal priority.
func (m *Manager) StrategicCleanup(opts CleanupOptions) (CleanupResult, error) {
	if opts.TargetSize < 0 {
		return CleanupResult{}, types.Errorf(types.ErrCacheCleanupTargetNegative, "target size: %d", opts.TargetSize)
	}

	result := CleanupResult{Before: m.engine.GetStats()}

	if result.Before.Size > opts.TargetSize {
		result.Evicted = m.engine.Shrink(opts.TargetSize, func(a, b *types.CacheEntry) bool {
			return m.entryPriority(a) < m.entryPriority(b)
		})
	}

	result.After = m.engine.GetStats()

	m.logger.Info("Strategic cleanup finished",
		zap.Int64("target_size", opts.TargetSize),
		zap.Int("evicted", result.Evicted),
		zap.Int64("size_before", result.Before.Size),
		zap.Int64("size_after", result.After.Size))

	return result, nil
}

func (m *Manager) entryPriority(entry *types.CacheEntry) int {
	if entry.Category.Valid() {
		return m.policies[entry.Category].Priority
	}
	return entry.Priority
}

func (m *Manager) CategoryStats() map[types.Category]CategoryStats {
	stats := make(map[types.Category]CategoryStats, len(types.Categories))
	for _, category := range types.Categories {
		stats[category] = CategoryStats{}
	}

	for _, entry := range m.engine.Entries() {
		category := resolve(entry.Category)
		s := stats[category]
		s.ItemCount++
		s.Size += entry.Size
		stats[category] = s
	}

	return stats
}

// Snapshot collects the entries each category policy allows to be persisted.
func (m *Manager) Snapshot() Snapshot {
	now := m.now()
	snapshot := Snapshot{Entries: make([]SnapshotEntry, 0)}

	for _, entry := range m.engine.Entries() {
		if !entry.Category.Valid() {
			continue
		}

		policy := m.policies[entry.Category]
		switch policy.Persist {
		case PersistNever:
			continue
		case PersistRecent:
			if now.Sub(entry.CreatedAt) > policy.PersistWindow {
				continue
			}
		}

		snapshot.Entries = append(snapshot.Entries, SnapshotEntry{
			Key:       entry.Key,
			Category:  entry.Category,
			Value:     entry.Value,
			CreatedAt: entry.CreatedAt,
			ExpiresAt: entry.ExpiresAt,
			Priority:  entry.Priority,
		})
	}

	return snapshot
}

// Restore reinserts snapshot entries with their remaining lifetime and
// original creation time. Expired entries and categories that are never
// persisted are skipped.
func (m *Manager) Restore(snapshot Snapshot) int {
	now := m.now()
	restored := 0

	for _, entry := range snapshot.Entries {
		if !entry.Category.Valid() || m.policies[entry.Category].Persist == PersistNever {
			continue
		}

		ttl := types.NoExpiry
		if !entry.ExpiresAt.IsZero() {
			ttl = entry.ExpiresAt.Sub(now)
			if ttl <= 0 {
				continue
			}
		}

		err := m.engine.Set(entry.Key, entry.Value, types.SetOptions{
			TTL:       ttl,
			Priority:  entry.Priority,
			Category:  entry.Category,
			CreatedAt: entry.CreatedAt,
		})
		if err != nil {
			m.logger.Warn("Failed to restore cache entry", zap.String("key", entry.Key), zap.Error(err))
			continue
		}
		restored++
	}

	m.logger.Info("Cache snapshot restored", zap.Int("restored", restored), zap.Int("total", len(snapshot.Entries)))
	return restored
}

// Exec returns the cached value for key or computes, stores and returns it.
// Values restored from a snapshot are converted to T through JSON.
func Exec[T any](m *Manager, key string, category types.Category, compute func() (T, error)) (T, error) {
	if cached, ok := m.SmartGet(key, category); ok {
		if typed, ok := cached.(T); ok {
			return typed, nil
		}

		var converted T
		if err := utils.Convert(cached, &converted); err == nil {
			return converted, nil
		}
	}

	value, err := compute()
	if err != nil {
		return value, err
	}

	if err := m.SmartSet(key, value, category); err != nil {
		m.logger.Warn("Failed to cache computed value", zap.String("key", key), zap.Error(err))
	}

	return value, nil
}
