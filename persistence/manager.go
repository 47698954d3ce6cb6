package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/blang/semver"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

type State int32

const (
	StateUninitialized State = iota
	StateLoaded
	StateRestoredFromBackup
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateRestoredFromBackup:
		return "restored_from_backup"
	case StateFailed:
		return "failed"
	default:
		return "uninitialized"
	}
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithCodec(codec Codec) Option {
	return func(m *Manager) {
		m.serializer = NewSerializer(codec)
	}
}

type loadResult struct {
	data  interface{}
	found bool
}

// Manager mirrors keyed state into a storage adapter with versioned records,
// schema migration and backups.
type Manager struct {
	storage      types.StorageAdapter
	logger       types.Logger
	serializer   *Serializer
	migrator     *Migrator
	backups      *BackupManager
	backupOnSave bool
	version      semver.Version
	now          func() time.Time
	group        singleflight.Group
	states       map[string]State
	mu           sync.RWMutex
}

func NewManager(storage types.StorageAdapter, logger types.Logger, config *types.PersistenceConfig, migrator *Migrator, opts ...Option) (*Manager, error) {
	if storage == nil {
		return nil, types.Errorf(types.ErrInvalidParameter, "storage adapter is nil")
	}
	if config == nil {
		return nil, types.ErrConfigIsNil
	}

	version, err := semver.Parse(config.SchemaVersion)
	if err != nil {
		return nil, types.Errorf(types.ErrSchemaVersionUnsupported, "%s: %v", config.SchemaVersion, err)
	}

	codec, err := NewCodecFromConfig(config)
	if err != nil {
		return nil, err
	}

	if migrator == nil {
		migrator = &Migrator{}
	}

	m := &Manager{
		storage:    storage,
		logger:     logger,
		serializer: NewSerializer(codec),
		migrator:   migrator,
		version:    version,
		now:        time.Now,
		states:     make(map[string]State),
	}

	for _, opt := range opts {
		opt(m)
	}

	if config.Backups != nil && config.Backups.Enabled {
		m.backups = NewBackupManager(storage, logger, config.Backups.MaxBackups, m.now)
		m.backupOnSave = config.Backups.OnSave
	}

	return m, nil
}

func (m *Manager) Version() string {
	return m.version.String()
}

func (m *Manager) Migrator() *Migrator {
	return m.migrator
}

func (m *Manager) State(key string) State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[key]
}

func (m *Manager) setState(key string, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[key] = state
}

// Save writes data under key at the current schema version. With on-save
// backups enabled the previous record is backed up first.
func (m *Manager) Save(ctx context.Context, key string, data interface{}) error {
	if m.backups != nil && m.backupOnSave {
		if _, err := m.CreateBackup(ctx, key); err != nil && !types.IsError(err, types.ErrBackupNotFound) {
			m.logger.Warn("Failed to back up before save", zap.String("key", key), zap.Error(err))
		}
	}

	return m.write(ctx, key, data)
}

func (m *Manager) write(ctx context.Context, key string, data interface{}) error {
	raw, err := m.serializer.Encode(&Envelope{
		Data:      data,
		Version:   m.version.String(),
		Timestamp: m.now().UnixMilli(),
	})
	if err != nil {
		return err
	}

	if err := m.storage.SetItem(ctx, key, raw); err != nil {
		return types.WrapError(err, "failed to save "+key)
	}

	return nil
}

// Export is a user triggered save: every failure is returned and, when backups
// are enabled, the written record is also kept as a backup.
func (m *Manager) Export(ctx context.Context, key string, data interface{}) error {
	if err := m.write(ctx, key, data); err != nil {
		return types.WrapError(types.ErrExportFailed, err.Error())
	}

	if m.backups != nil {
		if _, err := m.CreateBackup(ctx, key); err != nil {
			return types.WrapError(types.ErrExportFailed, err.Error())
		}
	}

	return nil
}

// Load returns the data stored under key migrated to the current schema, or
// nil when neither the record nor a usable backup exists. Only migration
// failures are returned as errors. Concurrent loads of one key share a single
// execution.
func (m *Manager) Load(ctx context.Context, key string) (interface{}, error) {
	result, err := m.loadShared(ctx, key)
	if err != nil {
		return nil, err
	}
	return result.data, nil
}

// LoadInto decodes the loaded data into target and reports whether any was found.
func (m *Manager) LoadInto(ctx context.Context, key string, target interface{}) (bool, error) {
	result, err := m.loadShared(ctx, key)
	if err != nil || !result.found {
		return false, err
	}

	if err := utils.Convert(result.data, target); err != nil {
		return false, types.Errorf(types.ErrPersistenceDecodeFailed, "key %s: %v", key, err)
	}

	return true, nil
}

func (m *Manager) loadShared(ctx context.Context, key string) (loadResult, error) {
	value, err, _ := m.group.Do(key, func() (interface{}, error) {
		return m.load(ctx, key)
	})
	if err != nil {
		return loadResult{}, err
	}
	return value.(loadResult), nil
}

func (m *Manager) load(ctx context.Context, key string) (loadResult, error) {
	raw, found, err := m.storage.GetItem(ctx, key)
	if err != nil {
		m.logger.Error("Failed to read persisted state", zap.String("key", key), zap.Error(err))
		return m.fallback(ctx, key)
	}

	if !found {
		return m.fallback(ctx, key)
	}

	envelope, err := m.serializer.Decode(raw)
	if err != nil {
		m.logger.Warn("Persisted state is corrupt", zap.String("key", key), zap.Error(err))
		return m.fallback(ctx, key)
	}

	data, err := m.upgrade(ctx, key, envelope)
	if err != nil {
		m.setState(key, StateFailed)
		return loadResult{}, err
	}

	m.setState(key, StateLoaded)
	return loadResult{data: data, found: true}, nil
}

func (m *Manager) fallback(ctx context.Context, key string) (loadResult, error) {
	if m.backups == nil {
		m.setState(key, StateFailed)
		return loadResult{}, nil
	}

	backups, err := m.backups.ListBackups(ctx, key)
	if err != nil {
		m.logger.Error("Failed to list backups", zap.String("key", key), zap.Error(err))
		m.setState(key, StateFailed)
		return loadResult{}, nil
	}

	for _, info := range backups {
		data, err := m.restore(ctx, key, info)
		if err != nil {
			m.logger.Warn("Backup unusable", zap.String("backup", info.StorageKey), zap.Error(err))
			continue
		}

		m.logger.Info("State restored from backup", zap.String("key", key), zap.String("backup", info.StorageKey))
		return loadResult{data: data, found: true}, nil
	}

	m.setState(key, StateFailed)
	return loadResult{}, nil
}

// restore decodes and migrates one backup and writes it back as the primary record.
func (m *Manager) restore(ctx context.Context, key string, info BackupInfo) (interface{}, error) {
	raw, found, err := m.storage.GetItem(ctx, info.StorageKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, types.Errorf(types.ErrBackupNotFound, "backup: %s", info.StorageKey)
	}

	envelope, err := m.serializer.Decode(raw)
	if err != nil {
		return nil, err
	}

	data, _, err := m.migrate(key, envelope)
	if err != nil {
		return nil, err
	}

	if err := m.write(ctx, key, data); err != nil {
		m.logger.Warn("Failed to write restored state", zap.String("key", key), zap.Error(err))
	}

	m.setState(key, StateRestoredFromBackup)
	return data, nil
}

// upgrade migrates envelope data to the current version and persists the
// result when a migration ran.
func (m *Manager) upgrade(ctx context.Context, key string, envelope *Envelope) (interface{}, error) {
	data, migrated, err := m.migrate(key, envelope)
	if err != nil {
		return nil, err
	}

	if migrated {
		if err := m.write(ctx, key, data); err != nil {
			m.logger.Warn("Failed to persist migrated state", zap.String("key", key), zap.Error(err))
		}
	}

	return data, nil
}

func (m *Manager) migrate(key string, envelope *Envelope) (interface{}, bool, error) {
	stored, err := semver.Parse(envelope.Version)
	if err != nil {
		return nil, false, types.Errorf(types.ErrMigrationVersionInvalid, "key %s: %s", key, envelope.Version)
	}

	switch {
	case stored.EQ(m.version):
		return envelope.Data, false, nil
	case stored.GT(m.version):
		m.logger.Warn("Persisted state is newer than this build",
			zap.String("key", key),
			zap.String("stored_version", envelope.Version),
			zap.String("version", m.version.String()))
		return envelope.Data, false, nil
	}

	data, err := m.migrator.Run(envelope.Data, envelope.Version, m.version.String())
	if err != nil {
		m.logger.Error("Migration failed", zap.String("key", key), zap.Error(err))
		return nil, false, err
	}

	m.logger.Info("Persisted state migrated",
		zap.String("key", key),
		zap.String("from", envelope.Version),
		zap.String("to", m.version.String()))

	return data, true, nil
}

func (m *Manager) Remove(ctx context.Context, key string) error {
	if err := m.storage.RemoveItem(ctx, key); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.states, key)
	m.mu.Unlock()

	return nil
}

// CreateBackup copies the current record of key into a new backup.
func (m *Manager) CreateBackup(ctx context.Context, key string) (BackupInfo, error) {
	if m.backups == nil {
		return BackupInfo{}, types.ErrBackupsDisabled
	}

	raw, found, err := m.storage.GetItem(ctx, key)
	if err != nil {
		return BackupInfo{}, err
	}
	if !found {
		return BackupInfo{}, types.Errorf(types.ErrBackupNotFound, "no record for %s", key)
	}

	return m.backups.CreateBackup(ctx, key, raw)
}

func (m *Manager) ListBackups(ctx context.Context, key string) ([]BackupInfo, error) {
	if m.backups == nil {
		return nil, types.ErrBackupsDisabled
	}
	return m.backups.ListBackups(ctx, key)
}

// RestoreBackup replaces the record of key with the backup created at *at, or
// with the newest backup when at is nil, and returns the restored data.
func (m *Manager) RestoreBackup(ctx context.Context, key string, at *time.Time) (interface{}, error) {
	if m.backups == nil {
		return nil, types.ErrBackupsDisabled
	}

	_, info, err := m.backups.ReadBackup(ctx, key, at)
	if err != nil {
		return nil, err
	}

	return m.restore(ctx, key, info)
}
