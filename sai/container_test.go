package sai

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-cache/config"
	"github.com/saiset-co/sai-cache/ocr"
	"github.com/saiset-co/sai-cache/stores"
	"github.com/saiset-co/sai-cache/strategy"
	"github.com/saiset-co/sai-cache/types"
)

func testConfig(t *testing.T) *types.ServiceConfig {
	t.Helper()

	cfg := config.NewLoader().Defaults()
	cfg.Logger.Type = "nop"
	cfg.Storage.Type = "sqlite"
	cfg.Storage.Path = filepath.Join(t.TempDir(), "cache.db")
	cfg.Storage.Fallback = false
	cfg.Cron.Enabled = false
	cfg.Admin.Enabled = false
	return cfg
}

func newContainer(t *testing.T, cfg *types.ServiceConfig) *Container {
	t.Helper()

	cm, err := config.NewStaticManager(cfg)
	require.NoError(t, err)

	c, err := New(context.Background(), cm)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Destroy() })

	return c
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(context.Background(), nil)
	assert.ErrorIs(t, err, types.ErrConfigIsNil)
}

func TestContainerLifecycle(t *testing.T) {
	c := newContainer(t, testConfig(t))

	assert.ErrorIs(t, c.Stop(), types.ErrServerNotRunning)

	require.NoError(t, c.Start())
	assert.True(t, c.IsRunning())
	assert.ErrorIs(t, c.Start(), types.ErrServerAlreadyRunning)

	require.NoError(t, c.Stop())
	assert.False(t, c.IsRunning())
	assert.ErrorIs(t, c.Start(), types.ErrInvalidState)

	require.NoError(t, c.Destroy())
	require.NoError(t, c.Destroy())
}

func TestContainerRestoresStateAcrossRestart(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	first := newContainer(t, cfg)
	require.NoError(t, first.Start())

	require.NoError(t, first.Strategy().SmartSet("hello", "hola", types.CategoryTranslation))
	require.NoError(t, first.Strategy().SmartSet("frame", "pixels", types.CategoryImage))

	_, err := first.History().Add(ctx, stores.TranslationEntry{SourceText: "hello", TranslatedText: "hola"})
	require.NoError(t, err)

	require.NoError(t, first.Settings().Update(ctx, func(settings *stores.Settings) error {
		settings.Theme = "dark"
		return nil
	}))

	require.NoError(t, first.Destroy())

	second := newContainer(t, cfg)
	require.NoError(t, second.Start())

	value, ok := second.Strategy().SmartGet("hello", types.CategoryTranslation)
	require.True(t, ok)
	assert.Equal(t, "hola", value)

	_, ok = second.Strategy().SmartGet("frame", types.CategoryImage)
	assert.False(t, ok)

	assert.Equal(t, 1, second.History().Len())
	assert.Equal(t, "dark", second.Settings().Get().Theme)
	assert.Equal(t, uint64(2), second.Statistics().Totals().Sessions)
}

func TestContainerClearPersistsEmptySnapshot(t *testing.T) {
	ctx := context.Background()
	c := newContainer(t, testConfig(t))
	require.NoError(t, c.Start())

	require.NoError(t, c.Strategy().SmartSet("hello", "hola", types.CategoryTranslation))
	require.NoError(t, c.Save(ctx))

	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, 0, c.Engine().GetStats().ItemCount)

	var snapshot strategy.Snapshot
	found, err := c.Persistence().LoadInto(ctx, "cache_snapshot", &snapshot)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, snapshot.Entries)
}

func TestContainerRestoreBackupReloadsSnapshot(t *testing.T) {
	ctx := context.Background()
	c := newContainer(t, testConfig(t))
	require.NoError(t, c.Start())

	require.NoError(t, c.Strategy().SmartSet("a", "1", types.CategoryTranslation))
	require.NoError(t, c.Save(ctx))

	_, err := c.CreateBackup(ctx, "cache_snapshot")
	require.NoError(t, err)

	require.NoError(t, c.Strategy().SmartSet("b", "2", types.CategoryTranslation))
	require.NoError(t, c.Save(ctx))

	require.NoError(t, c.RestoreBackup(ctx, "cache_snapshot", nil))

	assert.True(t, c.Strategy().SmartHas("a", types.CategoryTranslation))
	assert.False(t, c.Strategy().SmartHas("b", types.CategoryTranslation))
}

func TestContainerSettingsBackups(t *testing.T) {
	ctx := context.Background()
	c := newContainer(t, testConfig(t))
	require.NoError(t, c.Start())

	require.NoError(t, c.Settings().Update(ctx, func(settings *stores.Settings) error {
		settings.FontSize = 18
		return nil
	}))

	_, err := c.CreateBackup(ctx, stores.SettingsKey)
	require.NoError(t, err)

	require.NoError(t, c.Settings().Update(ctx, func(settings *stores.Settings) error {
		settings.FontSize = 22
		return nil
	}))

	backups, err := c.ListBackups(ctx, stores.SettingsKey)
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	require.NoError(t, c.RestoreBackup(ctx, stores.SettingsKey, nil))
	assert.Equal(t, 18, c.Settings().Get().FontSize)
}

func TestContainerStats(t *testing.T) {
	c := newContainer(t, testConfig(t))
	require.NoError(t, c.Start())

	require.NoError(t, c.Strategy().SmartSet("hello", "hola", types.CategoryTranslation))
	c.Strategy().SmartGet("hello", types.CategoryTranslation)
	c.Strategy().SmartGet("missing", types.CategoryTranslation)

	raw, err := c.Stats(context.Background())
	require.NoError(t, err)

	stats, ok := raw.(Stats)
	require.True(t, ok)
	assert.Equal(t, "sqlite", stats.Storage)
	assert.Equal(t, 1, stats.Engine.ItemCount)
	assert.InDelta(t, 0.5, stats.HitRate, 0.001)
	assert.Equal(t, 1, stats.Categories[types.CategoryTranslation].ItemCount)
	assert.Contains(t, stats.Persistence, stores.SettingsKey)
}

func TestContainerAutosaveJob(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cron.Enabled = true
	cfg.Persistence.AutosaveSchedule = "@every 1h"

	c := newContainer(t, cfg)
	require.NoError(t, c.Start())

	jobs := c.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, AutosaveJob, jobs[0].Name)

	require.NoError(t, c.Strategy().SmartSet("hello", "hola", types.CategoryTranslation))
	require.NoError(t, c.Cron().Trigger(AutosaveJob))

	data, err := c.Persistence().Load(context.Background(), "cache_snapshot")
	require.NoError(t, err)
	assert.NotNil(t, data)

}

func TestContainerWithoutPersistence(t *testing.T) {
	cfg := testConfig(t)
	cfg.Persistence.Enabled = false
	cfg.Metrics.Enabled = false

	c := newContainer(t, cfg)
	require.NoError(t, c.Start())
	assert.Nil(t, c.Metrics())
	assert.Empty(t, c.Jobs())

	require.NoError(t, c.Strategy().SmartSet("hello", "hola", types.CategoryTranslation))
	require.NoError(t, c.Stop())
}

type fakeProvider struct{}

func (fakeProvider) ID() string {
	return "tesseract"
}

func (fakeProvider) DetectText(_ context.Context, _ []byte, _ types.DetectOptions) ([]types.TextArea, error) {
	return []types.TextArea{{Text: "こんにちは", Confidence: 0.9}}, nil
}

func (fakeProvider) PreprocessImage(_ context.Context, image []byte) ([]byte, error) {
	return image, nil
}

func (fakeProvider) Terminate() error {
	return nil
}

func TestContainerDetectorUsesSettingsProvider(t *testing.T) {
	c := newContainer(t, testConfig(t))
	require.NoError(t, c.Start())

	require.NoError(t, c.OCRProviders().Register("tesseract", func(interface{}) (ocr.Provider, error) {
		return fakeProvider{}, nil
	}))

	detector, err := c.Detector("", nil)
	require.NoError(t, err)

	areas, err := detector.DetectText(context.Background(), []byte("image"), types.DetectOptions{Language: "ja"})
	require.NoError(t, err)
	require.Len(t, areas, 1)
	assert.Equal(t, "こんにちは", areas[0].Text)

	_, err = c.Detector("missing", nil)
	assert.ErrorIs(t, err, types.ErrOCRProviderUnknown)
}

func TestContainerHealth(t *testing.T) {
	c := newContainer(t, testConfig(t))

	report := c.Health(context.Background())
	assert.Equal(t, types.StatusUnhealthy, report.Status)
	assert.Equal(t, types.StatusUnhealthy, report.Checks["engine"].Status)

	require.NoError(t, c.Start())

	report = c.Health(context.Background())
	assert.Equal(t, types.StatusHealthy, report.Status)
	assert.Equal(t, 3, report.Summary.Total)
	assert.Equal(t, "failed", report.Checks["persistence"].Details["cache_snapshot"])
}
