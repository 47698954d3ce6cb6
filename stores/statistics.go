package stores

import (
	"context"
	"sync"
	"time"

	"github.com/saiset-co/sai-cache/persistence"
	"github.com/saiset-co/sai-cache/types"
)

const StatisticsKey = "cache_statistics"

type CategoryTotals struct {
	ItemCount int   `json:"item_count"`
	Size      int64 `json:"size"`
}

// Statistics are cumulative engine counters across sessions.
type Statistics struct {
	Hits        uint64                            `json:"hits"`
	Misses      uint64                            `json:"misses"`
	Evictions   uint64                            `json:"evictions"`
	Expirations uint64                            `json:"expirations"`
	Sessions    uint64                            `json:"sessions"`
	ItemCount   int                               `json:"item_count"`
	Size        int64                             `json:"size"`
	Categories  map[types.Category]CategoryTotals `json:"categories"`
	UpdatedAt   time.Time                         `json:"updated_at"`
}

func (s Statistics) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type StatisticsOption func(*CacheStatistics)

func WithStatisticsClock(now func() time.Time) StatisticsOption {
	return func(c *CacheStatistics) {
		if now != nil {
			c.now = now
		}
	}
}

// CacheStatistics folds the counters of the running engine into the persisted
// totals. Engine counters are cumulative for the session, so only the delta
// since the previous Record is added.
type CacheStatistics struct {
	store    *Store[Statistics]
	now      func() time.Time
	baseline types.CacheStats
	mu       sync.Mutex
}

func NewCacheStatistics(manager *persistence.Manager, logger types.Logger, opts ...StatisticsOption) *CacheStatistics {
	c := &CacheStatistics{
		store: NewStore(StatisticsKey, manager, logger, func() Statistics {
			return Statistics{Categories: map[types.Category]CategoryTotals{}}
		}),
		now: time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *CacheStatistics) Store() Persistable {
	return c.store
}

// Load restores the totals and counts a new session.
func (c *CacheStatistics) Load(ctx context.Context) (bool, error) {
	found, err := c.store.Load(ctx)
	if err != nil {
		return found, err
	}

	c.mu.Lock()
	c.baseline = types.CacheStats{}
	c.mu.Unlock()

	return found, c.store.Update(ctx, func(state *Statistics) error {
		state.Sessions++
		return nil
	})
}

// Record adds the engine counters gathered since the previous call.
func (c *CacheStatistics) Record(ctx context.Context, current types.CacheStats, categories map[types.Category]CategoryTotals) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delta := types.CacheStats{
		Hits:        counterDelta(current.Hits, c.baseline.Hits),
		Misses:      counterDelta(current.Misses, c.baseline.Misses),
		Evictions:   counterDelta(current.Evictions, c.baseline.Evictions),
		Expirations: counterDelta(current.Expirations, c.baseline.Expirations),
	}

	err := c.store.Update(ctx, func(state *Statistics) error {
		state.Hits += delta.Hits
		state.Misses += delta.Misses
		state.Evictions += delta.Evictions
		state.Expirations += delta.Expirations
		state.ItemCount = current.ItemCount
		state.Size = current.Size
		if categories != nil {
			state.Categories = categories
		}
		state.UpdatedAt = c.now().UTC()
		return nil
	})
	if err != nil {
		return err
	}

	c.baseline = current
	return nil
}

func (c *CacheStatistics) Totals() Statistics {
	var totals Statistics

	c.store.View(func(state *Statistics) {
		totals = *state
		totals.Categories = make(map[types.Category]CategoryTotals, len(state.Categories))
		for category, value := range state.Categories {
			totals.Categories[category] = value
		}
	})

	return totals
}

func (c *CacheStatistics) Reset(ctx context.Context) error {
	return c.store.Reset(ctx)
}

// counterDelta treats a counter that went backwards as restarted.
func counterDelta(current, previous uint64) uint64 {
	if current < previous {
		return current
	}
	return current - previous
}
