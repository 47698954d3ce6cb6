package ocr

import (
	"context"
	"sort"
	"sync"

	"github.com/saiset-co/sai-cache/types"
)

// Provider is implemented by text recognition backends. Recognition itself
// lives outside this module.
type Provider interface {
	ID() string
	DetectText(ctx context.Context, image []byte, opts types.DetectOptions) ([]types.TextArea, error)
	PreprocessImage(ctx context.Context, image []byte) ([]byte, error)
	Terminate() error
}

type Factory func(config interface{}) (Provider, error)

// Registry maps provider ids to factories.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(id string, factory Factory) error {
	if id == "" {
		return types.Errorf(types.ErrInvalidParameter, "provider id is empty")
	}
	if factory == nil {
		return types.Errorf(types.ErrInvalidParameter, "provider %s factory is nil", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[id]; exists {
		return types.Errorf(types.ErrOCRProviderExists, "provider: %s", id)
	}

	r.factories[id] = factory
	return nil
}

func (r *Registry) New(id string, config interface{}) (Provider, error) {
	r.mu.RLock()
	factory, exists := r.factories[id]
	r.mu.RUnlock()

	if !exists {
		return nil, types.Errorf(types.ErrOCRProviderUnknown, "provider: %s", id)
	}

	return factory(config)
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
