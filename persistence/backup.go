package persistence

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
)

const (
	backupInfix = "_backup_"
	// fixed width so lexical and chronological order agree
	backupTimeLayout = "2006-01-02T15:04:05.000000Z"
)

type BackupInfo struct {
	Key        string    `json:"key"`
	StorageKey string    `json:"storage_key"`
	CreatedAt  time.Time `json:"created_at"`
}

type BackupManager struct {
	storage    types.StorageAdapter
	logger     types.Logger
	maxBackups int
	now        func() time.Time
	last       time.Time
	mu         sync.Mutex
}

func NewBackupManager(storage types.StorageAdapter, logger types.Logger, maxBackups int, now func() time.Time) *BackupManager {
	if now == nil {
		now = time.Now
	}

	return &BackupManager{
		storage:    storage,
		logger:     logger,
		maxBackups: maxBackups,
		now:        now,
	}
}

func BackupKey(key string, at time.Time) string {
	return key + backupInfix + at.UTC().Format(backupTimeLayout)
}

// IsBackupKey reports whether storageKey names a backup of any key.
func IsBackupKey(storageKey string) bool {
	idx := strings.LastIndex(storageKey, backupInfix)
	if idx < 0 {
		return false
	}
	_, err := time.Parse(backupTimeLayout, storageKey[idx+len(backupInfix):])
	return err == nil
}

// CreateBackup stores raw as a new backup of key and prunes old ones.
func (b *BackupManager) CreateBackup(ctx context.Context, key, raw string) (BackupInfo, error) {
	b.mu.Lock()
	at := b.now().UTC().Truncate(time.Microsecond)
	if !at.After(b.last) {
		at = b.last.Add(time.Microsecond)
	}
	b.last = at
	b.mu.Unlock()

	info := BackupInfo{
		Key:        key,
		StorageKey: BackupKey(key, at),
		CreatedAt:  at,
	}

	if err := b.storage.SetItem(ctx, info.StorageKey, raw); err != nil {
		return BackupInfo{}, err
	}

	b.logger.Debug("Backup created", zap.String("key", key), zap.String("backup", info.StorageKey))

	if _, err := b.Prune(ctx, key); err != nil {
		b.logger.Warn("Failed to prune backups", zap.String("key", key), zap.Error(err))
	}

	return info, nil
}

// ListBackups returns backups of key, newest first.
func (b *BackupManager) ListBackups(ctx context.Context, key string) ([]BackupInfo, error) {
	keys, err := b.storage.GetAllKeys(ctx)
	if err != nil {
		return nil, err
	}

	prefix := key + backupInfix
	backups := make([]BackupInfo, 0)

	for _, storageKey := range keys {
		if !strings.HasPrefix(storageKey, prefix) {
			continue
		}

		at, err := time.Parse(backupTimeLayout, storageKey[len(prefix):])
		if err != nil {
			continue
		}

		backups = append(backups, BackupInfo{Key: key, StorageKey: storageKey, CreatedAt: at})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})

	return backups, nil
}

// ReadBackup returns the raw record of the newest backup, or of the backup
// created exactly at *at.
func (b *BackupManager) ReadBackup(ctx context.Context, key string, at *time.Time) (string, BackupInfo, error) {
	backups, err := b.ListBackups(ctx, key)
	if err != nil {
		return "", BackupInfo{}, err
	}

	for _, info := range backups {
		if at != nil && !info.CreatedAt.Equal(at.UTC().Truncate(time.Microsecond)) {
			continue
		}

		raw, found, err := b.storage.GetItem(ctx, info.StorageKey)
		if err != nil {
			return "", BackupInfo{}, err
		}
		if found {
			return raw, info, nil
		}
	}

	return "", BackupInfo{}, types.Errorf(types.ErrBackupNotFound, "key: %s", key)
}

// Prune removes the oldest backups of key beyond the retention limit. A limit
// of zero keeps everything.
func (b *BackupManager) Prune(ctx context.Context, key string) (int, error) {
	if b.maxBackups <= 0 {
		return 0, nil
	}

	backups, err := b.ListBackups(ctx, key)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, info := range backups[min(len(backups), b.maxBackups):] {
		if err := b.storage.RemoveItem(ctx, info.StorageKey); err != nil {
			return removed, err
		}
		removed++
	}

	if removed > 0 {
		b.logger.Debug("Backups pruned", zap.String("key", key), zap.Int("removed", removed))
	}

	return removed, nil
}

func (b *BackupManager) RemoveBackups(ctx context.Context, key string) error {
	backups, err := b.ListBackups(ctx, key)
	if err != nil {
		return err
	}

	for _, info := range backups {
		if err := b.storage.RemoveItem(ctx, info.StorageKey); err != nil {
			return err
		}
	}

	return nil
}
