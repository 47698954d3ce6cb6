package storage

import (
	"context"
	"os"
	"sort"
	"sync"

	"github.com/ostafen/clover"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
)

const (
	cloverCollection = "storage"
	cloverKeyField   = "key"
	cloverValueField = "value"
)

type CloverStorage struct {
	db      *clover.DB
	logger  types.Logger
	path    string
	tempDir string
	// clover has no atomic upsert
	mu sync.Mutex
}

var _ types.StorageAdapter = (*CloverStorage)(nil)

// NewCloverStorage opens a clover document store at config.Path. An empty path
// opens a throwaway store in a temporary directory removed on Close.
func NewCloverStorage(logger types.Logger, config *types.StorageConfig) (*CloverStorage, error) {
	path := config.Path
	tempDir := ""

	if path == "" {
		dir, err := os.MkdirTemp("", "sai-cache-clover-")
		if err != nil {
			return nil, types.WrapError(types.ErrStorageOpenFailed, err.Error())
		}
		path = dir
		tempDir = dir
	}

	db, err := clover.Open(path)
	if err != nil {
		if tempDir != "" {
			_ = os.RemoveAll(tempDir)
		}
		return nil, types.Errorf(types.ErrStorageOpenFailed, "clover %s: %v", path, err)
	}

	exists, err := db.HasCollection(cloverCollection)
	if err == nil && !exists {
		err = db.CreateCollection(cloverCollection)
	}
	if err != nil {
		_ = db.Close()
		return nil, types.Errorf(types.ErrStorageOpenFailed, "clover collection: %v", err)
	}

	logger.Info("Clover storage opened", zap.String("path", path))

	return &CloverStorage{
		db:      db,
		logger:  logger,
		path:    path,
		tempDir: tempDir,
	}, nil
}

func (c *CloverStorage) byKey(key string) *clover.Query {
	return c.db.Query(cloverCollection).Where(clover.Field(cloverKeyField).Eq(key))
}

func (c *CloverStorage) GetItem(_ context.Context, key string) (string, bool, error) {
	doc, err := c.byKey(key).FindFirst()
	if err != nil {
		return "", false, types.Errorf(types.ErrStorageOperationFailed, "get %s: %v", key, err)
	}

	if doc == nil {
		return "", false, nil
	}

	value, ok := doc.Get(cloverValueField).(string)
	if !ok {
		return "", false, types.Errorf(types.ErrStorageOperationFailed, "get %s: value is not a string", key)
	}

	return value, true, nil
}

func (c *CloverStorage) SetItem(_ context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	query := c.byKey(key)

	count, err := query.Count()
	if err != nil {
		return types.Errorf(types.ErrStorageOperationFailed, "set %s: %v", key, err)
	}

	if count > 0 {
		if err := query.Update(map[string]interface{}{cloverValueField: value}); err != nil {
			return types.Errorf(types.ErrStorageOperationFailed, "update %s: %v", key, err)
		}
		return nil
	}

	doc := clover.NewDocument()
	doc.Set(cloverKeyField, key)
	doc.Set(cloverValueField, value)

	if err := c.db.Insert(cloverCollection, doc); err != nil {
		return types.Errorf(types.ErrStorageOperationFailed, "insert %s: %v", key, err)
	}

	return nil
}

func (c *CloverStorage) RemoveItem(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.byKey(key).Delete(); err != nil {
		return types.Errorf(types.ErrStorageOperationFailed, "remove %s: %v", key, err)
	}
	return nil
}

func (c *CloverStorage) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.db.Query(cloverCollection).Delete(); err != nil {
		return types.Errorf(types.ErrStorageOperationFailed, "clear: %v", err)
	}
	return nil
}

func (c *CloverStorage) GetAllKeys(_ context.Context) ([]string, error) {
	docs, err := c.db.Query(cloverCollection).FindAll()
	if err != nil {
		return nil, types.Errorf(types.ErrStorageOperationFailed, "keys: %v", err)
	}

	keys := make([]string, 0, len(docs))
	for _, doc := range docs {
		if key, ok := doc.Get(cloverKeyField).(string); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	return keys, nil
}

func (c *CloverStorage) Close() error {
	err := c.db.Close()

	if c.tempDir != "" {
		if rmErr := os.RemoveAll(c.tempDir); rmErr != nil {
			c.logger.Warn("Failed to remove clover temp dir", zap.String("path", c.tempDir), zap.Error(rmErr))
		}
	}

	if err != nil {
		return types.WrapError(err, "failed to close clover storage")
	}

	c.logger.Info("Clover storage closed", zap.String("path", c.path))
	return nil
}
