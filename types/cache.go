package types

import (
	"time"
)

// NoExpiry marks an entry that never expires. A zero TTL means "use the engine default".
const NoExpiry time.Duration = -1

type Category string

const (
	CategoryTranslation Category = "translation"
	CategoryOCR         Category = "ocr"
	CategoryImage       Category = "image"
	CategoryConfig      Category = "config"
	CategoryOther       Category = "other"
)

var Categories = []Category{
	CategoryTranslation,
	CategoryOCR,
	CategoryImage,
	CategoryConfig,
	CategoryOther,
}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

type CacheEngine interface {
	LifecycleManager
	Set(key string, value interface{}, opts SetOptions) error
	Get(key string) (interface{}, bool)
	Has(key string) bool
	Remove(key string) bool
	Clear()
	GetStats() CacheStats
	Entries() []CacheEntry
	Shrink(targetSize int64, less EntryLess) int
	Destroy()
}

type CacheEngineCreator func(config *CacheConfig) (CacheEngine, error)

// EntryLess reports whether a should be evicted before b.
type EntryLess func(a, b *CacheEntry) bool

// SetOptions tunes a single write. A non-zero CreatedAt in the past backdates
// the entry, as when it is restored from a snapshot.
type SetOptions struct {
	TTL        time.Duration
	Priority   int
	Size       int64
	Category   Category
	Persistent bool
	CreatedAt  time.Time
}

type CacheEntry struct {
	Key          string        `json:"key"`
	Value        interface{}   `json:"value"`
	Category     Category      `json:"category,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	ExpiresAt    time.Time     `json:"expires_at,omitempty"`
	LastAccessed time.Time     `json:"last_accessed"`
	Size         int64         `json:"size"`
	Priority     int           `json:"priority"`
	TTL          time.Duration `json:"ttl,omitempty"`
}

func (e *CacheEntry) IsExpired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

type CacheStats struct {
	ItemCount   int    `json:"item_count"`
	Size        int64  `json:"size"`
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Evictions   uint64 `json:"evictions"`
	Expirations uint64 `json:"expirations"`
}

func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type Instrumentation interface {
	RecordCacheHit()
	RecordCacheMiss()
	UpdateCacheSize(size int64)
}
