package stores

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/persistence"
	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

// Persistable is the load and save surface shared by every store.
type Persistable interface {
	Key() string
	Load(ctx context.Context) (bool, error)
	Save(ctx context.Context) error
	Export(ctx context.Context) error
}

// Store keeps a plain state value in memory and mirrors it to persistence.
// Load is called once on start, every Update saves the new state.
type Store[T any] struct {
	key         string
	persistence *persistence.Manager
	logger      types.Logger
	initial     func() T
	state       T
	revision    uint64
	saved       uint64
	mu          sync.RWMutex
	saveMu      sync.Mutex
}

var _ Persistable = (*Store[struct{}])(nil)

func NewStore[T any](key string, manager *persistence.Manager, logger types.Logger, initial func() T) *Store[T] {
	if initial == nil {
		initial = func() T {
			var zero T
			return zero
		}
	}

	return &Store[T]{
		key:         key,
		persistence: manager,
		logger:      logger,
		initial:     initial,
		state:       initial(),
	}
}

func (s *Store[T]) Key() string {
	return s.key
}

// Load replaces the state with the persisted one. A missing record keeps the
// initial state; only migration failures are returned.
func (s *Store[T]) Load(ctx context.Context) (bool, error) {
	state := s.initial()

	found, err := s.persistence.LoadInto(ctx, s.key, &state)
	if err != nil {
		return false, err
	}

	if !found {
		s.logger.Debug("No persisted state, using defaults", zap.String("key", s.key))
		return false, nil
	}

	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	return true, nil
}

// View runs fn with read access to the state. fn must not keep references.
func (s *Store[T]) View(fn func(state *T)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(&s.state)
}

// Update applies fn and persists the result. Storage failures are logged and
// the in-memory state stays authoritative; errors from fn are returned and
// leave the state untouched.
func (s *Store[T]) Update(ctx context.Context, fn func(state *T) error) error {
	revision, data, err := s.apply(fn)
	if err != nil {
		return err
	}

	if err := s.persist(ctx, revision, data); err != nil {
		s.logger.Warn("Failed to persist state", zap.String("key", s.key), zap.Error(err))
	}

	return nil
}

// Save writes the current state and returns any failure.
func (s *Store[T]) Save(ctx context.Context) error {
	revision, data, err := s.current()
	if err != nil {
		return err
	}
	return s.persist(ctx, revision, data)
}

// Export writes the current state as an explicit user export.
func (s *Store[T]) Export(ctx context.Context) error {
	_, data, err := s.current()
	if err != nil {
		return err
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	return s.persistence.Export(ctx, s.key, data)
}

// Reset returns the store to its initial state and removes the persisted record.
func (s *Store[T]) Reset(ctx context.Context) error {
	s.mu.Lock()
	s.state = s.initial()
	s.revision++
	revision := s.revision
	s.mu.Unlock()

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if revision > s.saved {
		s.saved = revision
	}

	return s.persistence.Remove(ctx, s.key)
}

func (s *Store[T]) apply(fn func(state *T) error) (uint64, interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next T
	if err := utils.Convert(s.state, &next); err != nil {
		return 0, nil, types.WrapError(err, "copy state "+s.key)
	}

	if err := fn(&next); err != nil {
		return 0, nil, err
	}

	var data interface{}
	if err := utils.Convert(next, &data); err != nil {
		return 0, nil, types.Errorf(types.ErrPersistenceEncodeFailed, "key %s: %v", s.key, err)
	}

	s.state = next
	s.revision++

	return s.revision, data, nil
}

func (s *Store[T]) current() (uint64, interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data interface{}
	if err := utils.Convert(s.state, &data); err != nil {
		return 0, nil, types.Errorf(types.ErrPersistenceEncodeFailed, "key %s: %v", s.key, err)
	}

	return s.revision, data, nil
}

// persist skips writes that a newer revision has already superseded.
func (s *Store[T]) persist(ctx context.Context, revision uint64, data interface{}) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if revision < s.saved {
		return nil
	}

	if err := s.persistence.Save(ctx, s.key, data); err != nil {
		return err
	}

	s.saved = revision
	return nil
}
