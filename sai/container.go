package sai

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-cache/cache"
	"github.com/saiset-co/sai-cache/cron"
	"github.com/saiset-co/sai-cache/health"
	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/metrics"
	"github.com/saiset-co/sai-cache/ocr"
	"github.com/saiset-co/sai-cache/persistence"
	"github.com/saiset-co/sai-cache/server"
	"github.com/saiset-co/sai-cache/storage"
	"github.com/saiset-co/sai-cache/stores"
	"github.com/saiset-co/sai-cache/strategy"
	"github.com/saiset-co/sai-cache/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateDestroyed
)

const AutosaveJob = "autosave"

// Stats is the combined view served by the admin API and the CLI.
type Stats struct {
	Engine      types.CacheStats                          `json:"engine"`
	HitRate     float64                                   `json:"hit_rate"`
	Categories  map[types.Category]strategy.CategoryStats `json:"categories"`
	Totals      stores.Statistics                         `json:"totals"`
	Persistence map[string]string                         `json:"persistence"`
	Storage     string                                    `json:"storage"`
}

// Container owns every component of a cache instance and their lifecycle.
// It is built explicitly and passed around; there is no package level state.
type Container struct {
	ctx                 context.Context
	cancel              context.CancelFunc
	config              types.ConfigManager
	logger              types.LoggerManager
	metrics             *metrics.Manager
	storage             types.StorageAdapter
	engine              types.CacheEngine
	strategy            *strategy.Manager
	persistence         *persistence.Manager
	settingsPersistence *persistence.Manager
	history             *stores.TranslationHistory
	settings            *stores.SettingsStore
	statistics          *stores.CacheStatistics
	ocr                 *ocr.Registry
	cron                *cron.Manager
	health              *health.Manager
	admin               *server.AdminServer
	state               atomic.Value
	started             atomic.Bool
	saveMu              sync.Mutex
	shutdownTimeout     time.Duration
}

var _ server.Backend = (*Container)(nil)

func New(ctx context.Context, configManager types.ConfigManager) (*Container, error) {
	if configManager == nil {
		return nil, types.ErrConfigIsNil
	}

	cfg := configManager.GetConfig()
	if cfg == nil {
		return nil, types.ErrConfigIsNil
	}

	loggerManager, err := logger.NewManager(ctx, cfg.Logger)
	if err != nil {
		return nil, types.WrapError(err, "failed to create logger")
	}

	containerCtx, cancel := context.WithCancel(ctx)

	c := &Container{
		ctx:             containerCtx,
		cancel:          cancel,
		config:          configManager,
		logger:          loggerManager,
		ocr:             ocr.NewRegistry(),
		shutdownTimeout: 30 * time.Second,
	}
	c.state.Store(StateStopped)

	if err := c.build(cfg); err != nil {
		cancel()
		if c.storage != nil {
			_ = c.storage.Close()
		}
		return nil, err
	}

	return c, nil
}

func (c *Container) build(cfg *types.ServiceConfig) error {
	var err error

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		if c.metrics, err = metrics.NewManager(c.ctx, c.logger, cfg.Metrics); err != nil {
			return types.WrapError(err, "failed to create metrics manager")
		}
	}

	var metricsManager types.MetricsManager
	if c.metrics != nil {
		metricsManager = c.metrics
	}

	if cfg.Persistence.Enabled {
		c.storage, err = storage.NewStorage(c.ctx, c.logger, metricsManager, cfg.Storage)
		if err != nil {
			return types.WrapError(err, "failed to open storage")
		}
	} else {
		c.logger.Info("Persistence disabled, state is kept in memory only")
		c.storage = storage.NewMemoryStorage()
	}

	if c.engine, err = cache.NewEngine(c.ctx, c.logger, metricsManager, cfg.Cache); err != nil {
		return types.WrapError(err, "failed to create cache engine")
	}

	if c.strategy, err = strategy.NewManager(c.engine, c.logger, cfg.Strategy); err != nil {
		return types.WrapError(err, "failed to create strategy manager")
	}

	if c.persistence, err = persistence.NewManager(c.storage, c.logger, cfg.Persistence, nil); err != nil {
		return types.WrapError(err, "failed to create persistence manager")
	}

	settingsMigrator, err := stores.NewSettingsMigrator()
	if err != nil {
		return err
	}

	if c.settingsPersistence, err = persistence.NewManager(c.storage, c.logger, cfg.Persistence, settingsMigrator); err != nil {
		return types.WrapError(err, "failed to create settings persistence manager")
	}

	c.history = stores.NewTranslationHistory(c.persistence, c.logger, stores.DefaultMaxHistory)
	c.settings = stores.NewSettingsStore(c.settingsPersistence, c.logger)
	c.statistics = stores.NewCacheStatistics(c.persistence, c.logger)

	if cfg.Cron != nil && cfg.Cron.Enabled {
		if c.cron, err = cron.NewManager(c.ctx, c.logger, metricsManager, cfg.Cron); err != nil {
			return types.WrapError(err, "failed to create cron manager")
		}
	}

	c.health = health.NewManager(c.logger, cfg.Name, cfg.Version)
	c.registerHealthChecks()

	if cfg.Admin != nil && cfg.Admin.Enabled {
		if c.admin, err = server.NewAdminServer(c.ctx, c.logger, metricsManager, c, cfg.Admin); err != nil {
			return types.WrapError(err, "failed to create admin server")
		}
	}

	return nil
}

func (c *Container) Config() types.ConfigManager {
	return c.config
}

func (c *Container) Logger() types.Logger {
	return c.logger
}

func (c *Container) Metrics() *metrics.Manager {
	return c.metrics
}

func (c *Container) Storage() types.StorageAdapter {
	return c.storage
}

func (c *Container) Engine() types.CacheEngine {
	return c.engine
}

func (c *Container) Strategy() *strategy.Manager {
	return c.strategy
}

func (c *Container) Persistence() *persistence.Manager {
	return c.persistence
}

func (c *Container) History() *stores.TranslationHistory {
	return c.history
}

func (c *Container) Settings() *stores.SettingsStore {
	return c.settings
}

func (c *Container) Statistics() *stores.CacheStatistics {
	return c.statistics
}

func (c *Container) OCRProviders() *ocr.Registry {
	return c.ocr
}

func (c *Container) Cron() *cron.Manager {
	return c.cron
}

func (c *Container) Admin() *server.AdminServer {
	return c.admin
}

func (c *Container) Context() context.Context {
	return c.ctx
}

// Detector builds the provider registered under id and puts it behind the
// cache. An empty id selects the provider from the settings store.
func (c *Container) Detector(id string, config interface{}) (*ocr.CachedDetector, error) {
	if id == "" {
		id = c.settings.Get().OCRProvider
	}

	provider, err := c.ocr.New(id, config)
	if err != nil {
		return nil, err
	}

	return ocr.NewCachedDetector(provider, c.strategy, c.logger), nil
}

// Start loads persisted state, warms the cache from the last snapshot and
// starts background components. A container runs at most once.
func (c *Container) Start() error {
	if !c.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	if c.started.Swap(true) {
		c.setState(StateStopped)
		return types.Errorf(types.ErrInvalidState, "container cannot be restarted")
	}

	if err := c.start(); err != nil {
		c.setState(StateStopped)
		return err
	}

	c.setState(StateRunning)
	c.logger.Info("Cache container started")
	return nil
}

func (c *Container) start() error {
	cfg := c.config.GetConfig()

	if err := c.logger.Start(); err != nil {
		return types.WrapError(err, "failed to start logger")
	}

	if c.metrics != nil {
		if err := c.metrics.Start(); err != nil {
			return types.WrapError(err, "failed to start metrics")
		}
	}

	if err := c.load(c.ctx, true); err != nil {
		return err
	}

	if err := c.engine.Start(); err != nil {
		return types.WrapError(err, "failed to start cache engine")
	}

	if c.cron != nil {
		if cfg.Persistence.Enabled && cfg.Persistence.AutosaveSchedule != "" {
			if err := c.cron.Add(AutosaveJob, cfg.Persistence.AutosaveSchedule, c.Save); err != nil {
				return types.WrapError(err, "failed to schedule autosave")
			}
		}

		if err := c.cron.Start(); err != nil {
			return types.WrapError(err, "failed to start cron")
		}
	}

	if c.admin != nil {
		if err := c.admin.Start(); err != nil {
			return types.WrapError(err, "failed to start admin server")
		}
	}

	return nil
}

// Load reads the stores and restores the cache snapshot without starting
// anything. A missing or unreadable record is a cold start; a failed
// migration is returned.
func (c *Container) Load(ctx context.Context) error {
	return c.load(ctx, false)
}

func (c *Container) load(ctx context.Context, session bool) error {
	for _, store := range []stores.Persistable{c.settings.Store(), c.history.Store()} {
		if _, err := store.Load(ctx); err != nil {
			return types.WrapError(err, "failed to load "+store.Key())
		}
	}

	loadStatistics := c.statistics.Store().Load
	if session {
		loadStatistics = c.statistics.Load
	}

	if _, err := loadStatistics(ctx); err != nil {
		return types.WrapError(err, "failed to load "+stores.StatisticsKey)
	}

	return c.restoreSnapshot(ctx)
}

func (c *Container) restoreSnapshot(ctx context.Context) error {
	var snapshot strategy.Snapshot

	found, err := c.persistence.LoadInto(ctx, c.snapshotKey(), &snapshot)
	if err != nil {
		return types.WrapError(err, "failed to load cache snapshot")
	}

	if found {
		c.strategy.Restore(snapshot)
	}

	return nil
}

func (c *Container) Stop() error {
	if !c.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	err := c.stop()
	c.setState(StateStopped)

	return err
}

func (c *Container) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.shutdownTimeout)
	defer cancel()

	err := c.stopBackground()

	if saveErr := c.Save(ctx); saveErr != nil {
		c.logger.Error("Final save failed", zap.Error(saveErr))
		err = multierr.Append(err, saveErr)
	}

	if c.engine.IsRunning() {
		err = multierr.Append(err, c.engine.Stop())
	}

	c.logger.Info("Cache container stopped")
	return err
}

// stopBackground stops the admin server and cron concurrently.
func (c *Container) stopBackground() error {
	g := new(errgroup.Group)

	if c.admin != nil && c.admin.IsRunning() {
		g.Go(func() error {
			if err := c.admin.Stop(); err != nil {
				return types.WrapError(err, "failed to stop admin server")
			}
			return nil
		})
	}

	if c.cron != nil && c.cron.IsRunning() {
		g.Go(func() error {
			if err := c.cron.Stop(); err != nil {
				return types.WrapError(err, "failed to stop cron")
			}
			return nil
		})
	}

	return g.Wait()
}

// Destroy stops the container if needed and releases every component. It is
// safe to call more than once and after a failed Start.
func (c *Container) Destroy() error {
	var err error

	switch c.getState() {
	case StateDestroyed:
		return nil
	case StateRunning:
		err = c.Stop()
	default:
		err = c.stopBackground()
	}
	c.setState(StateDestroyed)

	c.engine.Destroy()

	if closeErr := c.storage.Close(); closeErr != nil {
		err = multierr.Append(err, closeErr)
	}

	if c.metrics != nil && c.metrics.IsRunning() {
		err = multierr.Append(err, c.metrics.Stop())
	}

	c.cancel()
	_ = c.logger.Stop()

	return err
}

func (c *Container) IsRunning() bool {
	return c.getState() == StateRunning
}

func (c *Container) getState() State {
	return c.state.Load().(State)
}

func (c *Container) setState(newState State) bool {
	currentState := c.getState()
	return c.state.CompareAndSwap(currentState, newState)
}

func (c *Container) transitionState(from, to State) bool {
	return c.state.CompareAndSwap(from, to)
}

func (c *Container) snapshotKey() string {
	if key := c.config.GetConfig().Persistence.SnapshotKey; key != "" {
		return key
	}
	return "cache_snapshot"
}

// Save mirrors the cache snapshot and every store to storage. Failures are
// returned but never affect the in-memory state.
func (c *Container) Save(ctx context.Context) error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	err := c.persistence.Save(ctx, c.snapshotKey(), c.strategy.Snapshot())
	err = multierr.Append(err, c.recordStatistics(ctx))

	for _, store := range []stores.Persistable{c.settings.Store(), c.history.Store()} {
		err = multierr.Append(err, store.Save(ctx))
	}

	if err != nil {
		c.logger.Warn("Save incomplete", zap.Error(err))
	}
	return err
}

func (c *Container) recordStatistics(ctx context.Context) error {
	categories := make(map[types.Category]stores.CategoryTotals)
	for category, stats := range c.strategy.CategoryStats() {
		categories[category] = stores.CategoryTotals{ItemCount: stats.ItemCount, Size: stats.Size}
	}

	if err := c.statistics.Record(ctx, c.engine.GetStats(), categories); err != nil {
		return err
	}
	return c.statistics.Store().Save(ctx)
}

// Export writes every persisted key as an explicit user export, creating a
// backup of each when backups are enabled.
func (c *Container) Export(ctx context.Context) error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	if err := c.persistence.Export(ctx, c.snapshotKey(), c.strategy.Snapshot()); err != nil {
		return err
	}

	for _, store := range []stores.Persistable{c.settings.Store(), c.history.Store(), c.statistics.Store()} {
		if err := store.Export(ctx); err != nil {
			return types.WrapError(err, store.Key())
		}
	}

	c.logger.Info("Export completed")
	return nil
}

func (c *Container) Stats(context.Context) (interface{}, error) {
	engineStats := c.engine.GetStats()

	states := make(map[string]string)
	for _, key := range []string{c.snapshotKey(), stores.HistoryKey, stores.StatisticsKey} {
		states[key] = c.persistence.State(key).String()
	}
	states[stores.SettingsKey] = c.settingsPersistence.State(stores.SettingsKey).String()

	return Stats{
		Engine:      engineStats,
		HitRate:     engineStats.HitRate(),
		Categories:  c.strategy.CategoryStats(),
		Totals:      c.statistics.Totals(),
		Persistence: states,
		Storage:     c.config.GetConfig().Storage.Type,
	}, nil
}

func (c *Container) Jobs() []types.JobEntry {
	if c.cron == nil {
		return []types.JobEntry{}
	}
	return c.cron.Jobs()
}

func (c *Container) persistenceFor(key string) *persistence.Manager {
	if key == stores.SettingsKey {
		return c.settingsPersistence
	}
	return c.persistence
}

func (c *Container) ListBackups(ctx context.Context, key string) ([]persistence.BackupInfo, error) {
	return c.persistenceFor(key).ListBackups(ctx, key)
}

func (c *Container) CreateBackup(ctx context.Context, key string) (persistence.BackupInfo, error) {
	return c.persistenceFor(key).CreateBackup(ctx, key)
}

// RestoreBackup replaces the record of key with a backup and reloads whatever
// component owns that key.
func (c *Container) RestoreBackup(ctx context.Context, key string, at *time.Time) error {
	if _, err := c.persistenceFor(key).RestoreBackup(ctx, key, at); err != nil {
		return err
	}

	switch key {
	case c.snapshotKey():
		c.engine.Clear()
		return c.restoreSnapshot(ctx)
	case stores.SettingsKey:
		_, err := c.settings.Load(ctx)
		return err
	case stores.HistoryKey:
		_, err := c.history.Load(ctx)
		return err
	case stores.StatisticsKey:
		_, err := c.statistics.Store().Load(ctx)
		return err
	}

	return nil
}

func (c *Container) Health(ctx context.Context) types.HealthReport {
	return c.health.Check(ctx)
}

const healthProbeKey = "__health_probe__"

func (c *Container) registerHealthChecks() {
	c.health.RegisterChecker("engine", func(context.Context) types.HealthCheck {
		stats := c.engine.GetStats()
		check := types.HealthCheck{
			Status:  types.StatusHealthy,
			Details: map[string]interface{}{"item_count": stats.ItemCount, "size": stats.Size},
		}
		if !c.engine.IsRunning() {
			check.Status = types.StatusUnhealthy
			check.Message = "cache engine is not running"
		}
		return check
	})

	c.health.RegisterChecker("storage", func(ctx context.Context) types.HealthCheck {
		if _, _, err := c.storage.GetItem(ctx, healthProbeKey); err != nil {
			return types.HealthCheck{Status: types.StatusUnhealthy, Message: err.Error()}
		}
		return types.HealthCheck{Status: types.StatusHealthy}
	})

	c.health.RegisterChecker("persistence", func(context.Context) types.HealthCheck {
		states := make(map[string]interface{})
		restored := false

		for _, key := range []string{c.snapshotKey(), stores.HistoryKey, stores.StatisticsKey, stores.SettingsKey} {
			state := c.persistenceFor(key).State(key)
			states[key] = state.String()
			restored = restored || state == persistence.StateRestoredFromBackup
		}

		check := types.HealthCheck{Status: types.StatusHealthy, Details: states}
		if restored {
			check.Status = types.StatusUnknown
			check.Message = "state was restored from a backup"
		}
		return check
	})
}

func (c *Container) Cleanup(opts strategy.CleanupOptions) (strategy.CleanupResult, error) {
	return c.strategy.StrategicCleanup(opts)
}

// Clear drops every cache entry and persists the empty snapshot. Backups and
// stores are kept; a removed record would be recovered from a backup on the
// next load.
func (c *Container) Clear(ctx context.Context) error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.engine.Clear()
	return c.persistence.Save(ctx, c.snapshotKey(), c.strategy.Snapshot())
}
