package strategy

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-cache/cache"
	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/types"
)

func newTestStrategy(t *testing.T, cfg *types.CacheConfig, strategyCfg *types.StrategyConfig, opts ...Option) *Manager {
	t.Helper()

	engine, err := cache.NewMemoryEngine(context.Background(), logger.NewNopLogger(), cfg)
	require.NoError(t, err)
	t.Cleanup(engine.Destroy)

	m, err := NewManager(engine, logger.NewNopLogger(), strategyCfg, opts...)
	require.NoError(t, err)

	return m
}

func TestSmartRoundTrip(t *testing.T) {
	m := newTestStrategy(t, &types.CacheConfig{}, nil)

	values := map[string]interface{}{
		"empty":  "",
		"nil":    nil,
		"large":  strings.Repeat("x", 100000),
		"nested": map[string]interface{}{"nested": 1},
	}

	for key, value := range values {
		require.NoError(t, m.SmartSet(key, value, types.CategoryTranslation), key)
	}

	for key, value := range values {
		got, ok := m.SmartGet(key, types.CategoryTranslation)
		assert.True(t, ok, key)
		assert.Equal(t, value, got, key)
	}
}

func TestSmartNamespaceIsolation(t *testing.T) {
	m := newTestStrategy(t, &types.CacheConfig{}, nil)

	require.NoError(t, m.SmartSet("a", 1, types.CategoryTranslation))
	require.NoError(t, m.SmartSet("a", 2, types.CategoryOCR))

	v, ok := m.SmartGet("a", types.CategoryTranslation)
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = m.SmartGet("a", types.CategoryOCR)
	require.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = m.SmartGet("a", types.CategoryImage)
	assert.False(t, ok)

	assert.True(t, m.Engine().Has("translation:a"))
	assert.True(t, m.Engine().Has("ocr:a"))

	assert.True(t, m.SmartRemove("a", types.CategoryOCR))
	assert.False(t, m.SmartHas("a", types.CategoryOCR))
	assert.True(t, m.SmartHas("a", types.CategoryTranslation))
}

func TestSmartSetUnknownCategoryUsesOther(t *testing.T) {
	m := newTestStrategy(t, &types.CacheConfig{}, nil)

	require.NoError(t, m.SmartSet("k", "v", types.Category("video")))
	v, ok := m.SmartGet("k", types.CategoryOther)
	require.True(t, ok)
	assert.Equal(t, "v", v)
	assert.Equal(t, "other:k", m.Key("k", "video"))
}

func TestSmartSetAppliesCategoryTTL(t *testing.T) {
	ttl := 100 * time.Millisecond
	m := newTestStrategy(t, &types.CacheConfig{}, &types.StrategyConfig{
		Policies: map[string]*types.PolicyConfig{"image": {TTL: &ttl}},
	})

	require.NoError(t, m.SmartSet("img", []byte{1, 2, 3}, types.CategoryImage))
	require.NoError(t, m.SmartSet("tr", "hola", types.CategoryTranslation))
	assert.True(t, m.SmartHas("img", types.CategoryImage))

	time.Sleep(150 * time.Millisecond)

	assert.False(t, m.SmartHas("img", types.CategoryImage))
	assert.True(t, m.SmartHas("tr", types.CategoryTranslation))
}

func TestSmartSetPersistentCategoriesRequireSerializableValues(t *testing.T) {
	m := newTestStrategy(t, &types.CacheConfig{}, nil)

	ch := make(chan int)
	assert.ErrorIs(t, m.SmartSet("c", ch, types.CategoryTranslation), types.ErrCacheValueNotSerializable)
	assert.NoError(t, m.SmartSet("c", ch, types.CategoryImage))
}

func TestStrategicCleanupTranslations(t *testing.T) {
	m := newTestStrategy(t, &types.CacheConfig{}, nil)

	for i := 0; i < 10; i++ {
		require.NoError(t, m.SmartSet(string(rune('a'+i)), strings.Repeat("t", 200), types.CategoryTranslation))
	}

	result, err := m.StrategicCleanup(CleanupOptions{TargetSize: 1024})
	require.NoError(t, err)

	assert.Equal(t, 10, result.Before.ItemCount)
	assert.LessOrEqual(t, result.After.ItemCount, 10)
	assert.LessOrEqual(t, result.After.Size, int64(1024))
	assert.Equal(t, 10-result.After.ItemCount, result.Evicted)
}

func TestStrategicCleanupPrefersLowPriorityCategories(t *testing.T) {
	m := newTestStrategy(t, &types.CacheConfig{}, nil)

	require.NoError(t, m.SmartSet("t1", strings.Repeat("t", 98), types.CategoryTranslation))
	require.NoError(t, m.SmartSet("i1", strings.Repeat("i", 98), types.CategoryImage))
	require.NoError(t, m.SmartSet("o1", strings.Repeat("o", 98), types.CategoryOCR))

	// the image is the most recently used entry and still goes first
	_, _ = m.SmartGet("i1", types.CategoryImage)

	result, err := m.StrategicCleanup(CleanupOptions{TargetSize: 200})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Evicted)
	assert.False(t, m.SmartHas("i1", types.CategoryImage))
	assert.True(t, m.SmartHas("t1", types.CategoryTranslation))
	assert.True(t, m.SmartHas("o1", types.CategoryOCR))

	result, err = m.StrategicCleanup(CleanupOptions{TargetSize: 100})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Evicted)
	assert.True(t, m.SmartHas("t1", types.CategoryTranslation))
}

func TestStrategicCleanupUnreachableTarget(t *testing.T) {
	m := newTestStrategy(t, &types.CacheConfig{}, nil)

	require.NoError(t, m.SmartSet("a", strings.Repeat("a", 500), types.CategoryConfig))

	result, err := m.StrategicCleanup(CleanupOptions{TargetSize: 0})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Evicted)
	assert.Zero(t, result.After.Size)

	_, err = m.StrategicCleanup(CleanupOptions{TargetSize: -1})
	assert.ErrorIs(t, err, types.ErrCacheCleanupTargetNegative)
}

func TestCategoryStats(t *testing.T) {
	m := newTestStrategy(t, &types.CacheConfig{}, nil)

	require.NoError(t, m.SmartSet("a", "xx", types.CategoryTranslation))
	require.NoError(t, m.SmartSet("b", "xx", types.CategoryTranslation))
	require.NoError(t, m.SmartSet("c", "xxxxxx", types.CategoryImage))

	stats := m.CategoryStats()
	assert.Equal(t, CategoryStats{ItemCount: 2, Size: 8}, stats[types.CategoryTranslation])
	assert.Equal(t, CategoryStats{ItemCount: 1, Size: 8}, stats[types.CategoryImage])
	assert.Equal(t, CategoryStats{}, stats[types.CategoryConfig])
}

func TestSnapshotHonoursPersistModes(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	engine, err := cache.NewMemoryEngine(context.Background(), logger.NewNopLogger(), &types.CacheConfig{}, cache.WithClock(clock))
	require.NoError(t, err)
	defer engine.Destroy()

	m, err := NewManager(engine, logger.NewNopLogger(), nil, WithClock(clock))
	require.NoError(t, err)

	require.NoError(t, m.SmartSet("old", []interface{}{"area"}, types.CategoryOCR))
	now = now.Add(7 * time.Hour)
	require.NoError(t, m.SmartSet("fresh", []interface{}{"area"}, types.CategoryOCR))
	require.NoError(t, m.SmartSet("tr", "hello", types.CategoryTranslation))
	require.NoError(t, m.SmartSet("img", "pixels", types.CategoryImage))

	snapshot := m.Snapshot()

	keys := make([]string, 0, len(snapshot.Entries))
	for _, entry := range snapshot.Entries {
		keys = append(keys, entry.Key)
	}
	assert.ElementsMatch(t, []string{"ocr:fresh", "translation:tr"}, keys)
}

func TestRestoreSkipsExpiredAndNeverPersisted(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	engine, err := cache.NewMemoryEngine(context.Background(), logger.NewNopLogger(), &types.CacheConfig{}, cache.WithClock(clock))
	require.NoError(t, err)
	defer engine.Destroy()

	m, err := NewManager(engine, logger.NewNopLogger(), nil, WithClock(clock))
	require.NoError(t, err)

	restored := m.Restore(Snapshot{Entries: []SnapshotEntry{
		{Key: "translation:a", Category: types.CategoryTranslation, Value: "uno", Priority: 100},
		{Key: "ocr:b", Category: types.CategoryOCR, Value: "dos", ExpiresAt: now.Add(time.Hour), Priority: 60},
		{Key: "ocr:c", Category: types.CategoryOCR, Value: "tres", ExpiresAt: now.Add(-time.Minute)},
		{Key: "image:d", Category: types.CategoryImage, Value: "cuatro"},
	}})

	assert.Equal(t, 2, restored)
	v, ok := m.SmartGet("a", types.CategoryTranslation)
	require.True(t, ok)
	assert.Equal(t, "uno", v)
	assert.True(t, m.SmartHas("b", types.CategoryOCR))
	assert.False(t, m.SmartHas("c", types.CategoryOCR))
	assert.False(t, m.SmartHas("d", types.CategoryImage))

	now = now.Add(2 * time.Hour)
	assert.False(t, m.SmartHas("b", types.CategoryOCR))
	assert.True(t, m.SmartHas("a", types.CategoryTranslation))
}

func TestRestoreKeepsRecentWindowAnchoredAtCreation(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	newManager := func() *Manager {
		engine, err := cache.NewMemoryEngine(context.Background(), logger.NewNopLogger(), &types.CacheConfig{}, cache.WithClock(clock))
		require.NoError(t, err)
		t.Cleanup(engine.Destroy)

		m, err := NewManager(engine, logger.NewNopLogger(), nil, WithClock(clock))
		require.NoError(t, err)
		return m
	}

	created := now
	first := newManager()
	require.NoError(t, first.SmartSet("panel", []interface{}{"area"}, types.CategoryOCR))

	now = now.Add(5 * time.Hour)
	snapshot := first.Snapshot()
	require.Len(t, snapshot.Entries, 1)

	second := newManager()
	require.Equal(t, 1, second.Restore(snapshot))
	entries := second.Engine().Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, created, entries[0].CreatedAt)

	now = now.Add(5 * time.Hour)
	assert.True(t, second.SmartHas("panel", types.CategoryOCR))
	assert.Empty(t, second.Snapshot().Entries)
}

func TestExec(t *testing.T) {
	m := newTestStrategy(t, &types.CacheConfig{}, nil)

	calls := 0
	compute := func() (string, error) {
		calls++
		return "translated", nil
	}

	v, err := Exec(m, "hello", types.CategoryTranslation, compute)
	require.NoError(t, err)
	assert.Equal(t, "translated", v)

	v, err = Exec(m, "hello", types.CategoryTranslation, compute)
	require.NoError(t, err)
	assert.Equal(t, "translated", v)
	assert.Equal(t, 1, calls)

	boom := errors.New("boom")
	_, err = Exec(m, "other", types.CategoryTranslation, func() (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, m.SmartHas("other", types.CategoryTranslation))
}

func TestExecConvertsRestoredValues(t *testing.T) {
	type area struct {
		Text string `json:"text"`
	}

	m := newTestStrategy(t, &types.CacheConfig{}, nil)
	require.NoError(t, m.SmartSet("p1", []interface{}{map[string]interface{}{"text": "hi"}}, types.CategoryOCR))

	v, err := Exec(m, "p1", types.CategoryOCR, func() ([]area, error) {
		t.Fatal("compute must not run on a hit")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []area{{Text: "hi"}}, v)
}
