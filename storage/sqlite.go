package storage

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
)

type SQLiteStorage struct {
	db     *sql.DB
	logger types.Logger
	path   string
}

var _ types.StorageAdapter = (*SQLiteStorage)(nil)

// NewSQLiteStorage opens a SQLite backed store. An empty path uses an
// in-memory database pinned to a single connection.
func NewSQLiteStorage(logger types.Logger, config *types.StorageConfig) (*SQLiteStorage, error) {
	path := config.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, types.Errorf(types.ErrStorageOpenFailed, "sqlite %s: %v", path, err)
	}

	db.SetMaxOpenConns(1)

	statements := []string{
		`PRAGMA journal_mode=WAL`,
		`CREATE TABLE IF NOT EXISTS storage (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	}

	for _, statement := range statements {
		if _, err := db.Exec(statement); err != nil {
			_ = db.Close()
			return nil, types.Errorf(types.ErrStorageOpenFailed, "sqlite %s: %v", path, err)
		}
	}

	logger.Info("SQLite storage opened", zap.String("path", path))

	return &SQLiteStorage{
		db:     db,
		logger: logger,
		path:   path,
	}, nil
}

func (s *SQLiteStorage) GetItem(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM storage WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, types.Errorf(types.ErrStorageOperationFailed, "get %s: %v", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStorage) SetItem(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO storage (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixNano(),
	)
	if err != nil {
		return types.Errorf(types.ErrStorageOperationFailed, "set %s: %v", key, err)
	}
	return nil
}

func (s *SQLiteStorage) RemoveItem(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM storage WHERE key = ?`, key); err != nil {
		return types.Errorf(types.ErrStorageOperationFailed, "remove %s: %v", key, err)
	}
	return nil
}

func (s *SQLiteStorage) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM storage`); err != nil {
		return types.Errorf(types.ErrStorageOperationFailed, "clear: %v", err)
	}
	return nil
}

func (s *SQLiteStorage) GetAllKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM storage ORDER BY key`)
	if err != nil {
		return nil, types.Errorf(types.ErrStorageOperationFailed, "keys: %v", err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, types.Errorf(types.ErrStorageOperationFailed, "keys: %v", err)
		}
		keys = append(keys, key)
	}

	if err := rows.Err(); err != nil {
		return nil, types.Errorf(types.ErrStorageOperationFailed, "keys: %v", err)
	}

	return keys, nil
}

func (s *SQLiteStorage) Close() error {
	if err := s.db.Close(); err != nil {
		return types.WrapError(err, "failed to close sqlite storage")
	}
	s.logger.Info("SQLite storage closed", zap.String("path", s.path))
	return nil
}
