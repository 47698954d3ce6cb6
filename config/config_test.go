package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-cache/types"
)

const sampleConfig = `
name: sai-cache-test
version: 2.0.0
logger:
  level: debug
cache:
  type: memory
  max_size: 1048576
  max_items: 100
  default_ttl: 30m
  cleanup_interval: 1m
strategy:
  policies:
    image:
      ttl: 10m
      priority: 5
storage:
  type: sqlite
  path: /tmp/cache.db
persistence:
  enabled: true
  compression: brotli
  backups:
    enabled: true
    max_backups: 3
`

func TestLoaderDefaultsAreValid(t *testing.T) {
	l := NewLoader()
	assert.NoError(t, l.Validate(l.Defaults()))
}

func TestLoaderFromBytesMergesDefaults(t *testing.T) {
	cfg, err := NewLoader().LoadFromBytes([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "sai-cache-test", cfg.Name)
	assert.Equal(t, int64(1048576), cfg.Cache.MaxSize)
	assert.Equal(t, 30*time.Minute, cfg.Cache.DefaultTTL)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, "brotli", cfg.Persistence.Compression)
	assert.Equal(t, 3, cfg.Persistence.Backups.MaxBackups)

	img := cfg.Strategy.Policies["image"]
	require.NotNil(t, img)
	assert.Equal(t, 10*time.Minute, *img.TTL)
	assert.Equal(t, 5, *img.Priority)
	assert.Nil(t, img.KeyPrefix)
}

func TestLoaderRejectsInvalid(t *testing.T) {
	l := NewLoader()

	_, err := l.LoadFromBytes([]byte("storage:\n  type: etcd\n"))
	assert.True(t, types.IsError(err, types.ErrConfigValidateFailed))

	_, err = l.LoadFromBytes([]byte("strategy:\n  policies:\n    video: {}\n"))
	assert.True(t, types.IsError(err, types.ErrConfigValidateFailed))

	_, err = l.LoadFromBytes([]byte("cache: [1, 2"))
	assert.True(t, types.IsError(err, types.ErrConfigParseFailed))

	assert.ErrorIs(t, l.Validate(nil), types.ErrConfigIsNil)
}

func TestConfigurationManagerFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))

	cm, err := NewConfigurationManager(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "sai-cache-test", cm.GetConfig().Name)
	assert.Equal(t, "sqlite", cm.GetValue("storage.type", ""))
	assert.Equal(t, "fallback", cm.GetValue("storage.missing", "fallback"))

	var backups types.BackupConfig
	require.NoError(t, cm.GetAs("persistence.backups", &backups))
	assert.Equal(t, 3, backups.MaxBackups)

	assert.True(t, types.IsError(cm.GetAs("nope.nope", &backups), types.ErrConfigNotFound))
}

func TestConfigurationManagerMissingFile(t *testing.T) {
	_, err := NewConfigurationManager(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.True(t, types.IsError(err, types.ErrConfigNotFound))
}

func TestStaticManager(t *testing.T) {
	cfg := NewLoader().Defaults()
	cm, err := NewStaticManager(cfg)
	require.NoError(t, err)
	require.NoError(t, cm.Load())
	assert.Same(t, cfg, cm.GetConfig())
	assert.Equal(t, "memory", cm.GetValue("cache.type", nil))
}

func TestParserResolvesPaths(t *testing.T) {
	cfg, err := NewLoader().LoadFromBytes([]byte(sampleConfig))
	require.NoError(t, err)
	cfg.Logger.Config = []interface{}{"stdout", "file"}

	p, err := NewParser(cfg)
	require.NoError(t, err)

	var ttl time.Duration
	require.NoError(t, p.GetAs("cache.default_ttl", &ttl))
	assert.Equal(t, 30*time.Minute, ttl)

	assert.Equal(t, "file", p.GetValue("logger.config.1", nil))
	assert.Nil(t, p.GetValue("logger.config.2", nil))
	assert.Nil(t, p.GetValue("metrics.config", nil))

	paths := p.Paths()
	assert.Contains(t, paths, "strategy.policies.image.priority")
	assert.Contains(t, paths, "logger.config.0")
	assert.NotContains(t, paths, "metrics.config")
}

func TestParserDescribeMasksSecrets(t *testing.T) {
	cfg := NewLoader().Defaults()
	cfg.Admin.Token = "admin-token"
	cfg.Persistence.EncryptionKey = "0123456789abcdef0123456789abcdef"

	p, err := NewParser(cfg)
	require.NoError(t, err)

	value, err := p.Describe("admin.token")
	require.NoError(t, err)
	assert.Equal(t, "********", value)

	persistence, err := p.Describe("persistence")
	require.NoError(t, err)
	assert.Equal(t, "********", persistence.(map[string]interface{})["encryption_key"])

	assert.Equal(t, "admin-token", p.GetValue("admin.token", nil))

	_, err = p.Describe("admin.missing")
	assert.True(t, types.IsError(err, types.ErrConfigNotFound))

	_, err = NewParser(nil)
	assert.ErrorIs(t, err, types.ErrConfigIsNil)
}
