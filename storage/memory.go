package storage

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/saiset-co/sai-cache/types"
)

type MemoryStorage struct {
	items  map[string]string
	mutex  sync.RWMutex
	closed atomic.Bool
}

var _ types.StorageAdapter = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		items: make(map[string]string),
	}
}

func (m *MemoryStorage) GetItem(_ context.Context, key string) (string, bool, error) {
	if m.closed.Load() {
		return "", false, types.ErrStorageClosed
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	value, exists := m.items[key]
	return value, exists, nil
}

func (m *MemoryStorage) SetItem(_ context.Context, key, value string) error {
	if m.closed.Load() {
		return types.ErrStorageClosed
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.items[key] = value
	return nil
}

func (m *MemoryStorage) RemoveItem(_ context.Context, key string) error {
	if m.closed.Load() {
		return types.ErrStorageClosed
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	delete(m.items, key)
	return nil
}

func (m *MemoryStorage) Clear(_ context.Context) error {
	if m.closed.Load() {
		return types.ErrStorageClosed
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.items = make(map[string]string)
	return nil
}

func (m *MemoryStorage) GetAllKeys(_ context.Context) ([]string, error) {
	if m.closed.Load() {
		return nil, types.ErrStorageClosed
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	keys := make([]string, 0, len(m.items))
	for key := range m.items {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return keys, nil
}

func (m *MemoryStorage) Close() error {
	m.closed.Store(true)
	return nil
}
