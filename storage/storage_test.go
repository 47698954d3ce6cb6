package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/metrics"
	"github.com/saiset-co/sai-cache/types"
)

func exerciseAdapter(t *testing.T, adapter types.StorageAdapter) {
	t.Helper()
	ctx := context.Background()

	_, found, err := adapter.GetItem(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, adapter.SetItem(ctx, "b", `{"version":"1.0.0"}`))
	require.NoError(t, adapter.SetItem(ctx, "a", "first"))
	require.NoError(t, adapter.SetItem(ctx, "a", "second"))
	require.NoError(t, adapter.SetItem(ctx, "empty", ""))

	value, found, err := adapter.GetItem(ctx, "a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "second", value)

	value, found, err = adapter.GetItem(ctx, "empty")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "", value)

	keys, err := adapter.GetAllKeys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "empty"}, keys)

	require.NoError(t, adapter.RemoveItem(ctx, "a"))
	require.NoError(t, adapter.RemoveItem(ctx, "never-set"))
	_, found, err = adapter.GetItem(ctx, "a")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, adapter.Clear(ctx))
	keys, err = adapter.GetAllKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMemoryStorage(t *testing.T) {
	adapter := NewMemoryStorage()
	exerciseAdapter(t, adapter)

	require.NoError(t, adapter.Close())
	_, _, err := adapter.GetItem(context.Background(), "a")
	assert.ErrorIs(t, err, types.ErrStorageClosed)
	assert.ErrorIs(t, adapter.SetItem(context.Background(), "a", "b"), types.ErrStorageClosed)
}

func TestCloverStorage(t *testing.T) {
	adapter, err := NewCloverStorage(logger.NewNopLogger(), &types.StorageConfig{Path: filepath.Join(t.TempDir(), "clover")})
	require.NoError(t, err)
	defer adapter.Close()

	exerciseAdapter(t, adapter)
}

func TestCloverStorageTempDir(t *testing.T) {
	adapter, err := NewCloverStorage(logger.NewNopLogger(), &types.StorageConfig{})
	require.NoError(t, err)

	require.NoError(t, adapter.SetItem(context.Background(), "k", "v"))
	dir := adapter.tempDir
	require.NotEmpty(t, dir)

	require.NoError(t, adapter.Close())
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestSQLiteStorage(t *testing.T) {
	adapter, err := NewSQLiteStorage(logger.NewNopLogger(), &types.StorageConfig{Path: filepath.Join(t.TempDir(), "cache.db")})
	require.NoError(t, err)
	defer adapter.Close()

	exerciseAdapter(t, adapter)
}

func TestSQLiteStorageSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	adapter, err := NewSQLiteStorage(logger.NewNopLogger(), &types.StorageConfig{Path: path})
	require.NoError(t, err)
	require.NoError(t, adapter.SetItem(ctx, "k", "persisted"))
	require.NoError(t, adapter.Close())

	adapter, err = NewSQLiteStorage(logger.NewNopLogger(), &types.StorageConfig{Path: path})
	require.NoError(t, err)
	defer adapter.Close()

	value, found, err := adapter.GetItem(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "persisted", value)
}

func TestSQLiteStorageInMemory(t *testing.T) {
	adapter, err := NewSQLiteStorage(logger.NewNopLogger(), &types.StorageConfig{})
	require.NoError(t, err)
	defer adapter.Close()

	exerciseAdapter(t, adapter)
}

func TestRedisStorage(t *testing.T) {
	addr := os.Getenv("SAI_CACHE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SAI_CACHE_TEST_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	adapter, err := NewRedisStorageWithClient(context.Background(), logger.NewNopLogger(), client, "sai-cache-test")
	require.NoError(t, err)
	defer adapter.Close()

	exerciseAdapter(t, adapter)
}

func TestNewStorageFallsBackToMemory(t *testing.T) {
	config := &types.StorageConfig{
		Type:     "redis",
		Fallback: true,
		Redis: &types.RedisStorageConfig{
			Host:        "127.0.0.1",
			Port:        1,
			DialTimeout: 100 * time.Millisecond,
		},
	}

	adapter, err := NewStorage(context.Background(), logger.NewNopLogger(), nil, config)
	require.NoError(t, err)
	defer adapter.Close()
	assert.IsType(t, &MemoryStorage{}, adapter)

	config.Fallback = false
	_, err = NewStorage(context.Background(), logger.NewNopLogger(), nil, config)
	assert.ErrorIs(t, err, types.ErrStorageOpenFailed)
}

func TestNewStorageUnknownType(t *testing.T) {
	_, err := NewStorage(context.Background(), logger.NewNopLogger(), nil, &types.StorageConfig{Type: "etcd", Fallback: true})
	assert.ErrorIs(t, err, types.ErrStorageTypeUnknown)
}

func TestNewStorageCustomCreatorAndMetrics(t *testing.T) {
	RegisterStorage("custom", func(_ *types.StorageConfig) (types.StorageAdapter, error) {
		return NewMemoryStorage(), nil
	})

	mm, err := metrics.NewManager(context.Background(), logger.NewNopLogger(), &types.MetricsConfig{Enabled: true, Type: "memory"})
	require.NoError(t, err)
	require.NoError(t, mm.Start())
	defer func() { _ = mm.Stop() }()

	adapter, err := NewStorage(context.Background(), logger.NewNopLogger(), mm, &types.StorageConfig{Type: "custom"})
	require.NoError(t, err)
	defer adapter.Close()

	exerciseAdapter(t, adapter)

	assert.Equal(t, float64(4), mm.Counter("storage_operations_total", map[string]string{"operation": "set", "result": "success"}).Get())
	assert.Equal(t, float64(len(`{"version":"1.0.0"}`)+len("first")+len("second")), mm.Counter("storage_bytes_written_total", nil).Get())
}
