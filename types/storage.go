package types

import "context"

// StorageAdapter is an asynchronous key-value store holding opaque strings.
type StorageAdapter interface {
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key string, value string) error
	RemoveItem(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	GetAllKeys(ctx context.Context) ([]string, error)
	Close() error
}

type StorageCreator func(config *StorageConfig) (StorageAdapter, error)
