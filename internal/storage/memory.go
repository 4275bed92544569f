package storage

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps records purely in memory. Used for tests and ephemeral
// namespaces; same interface and semantics as the durable backends minus
// persistence.
type MemoryStore[T any] struct {
	mu    sync.RWMutex
	items map[string]T
	order []string
}

// NewMemoryStore returns an empty memory-backed store.
func NewMemoryStore[T any]() *MemoryStore[T] {
	return &MemoryStore[T]{items: make(map[string]T)}
}

func (s *MemoryStore[T]) Initialize(ctx context.Context) error { return nil }

func (s *MemoryStore[T]) Get(ctx context.Context, id string) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return item, nil
}

func (s *MemoryStore[T]) GetMany(ctx context.Context, opts QueryOptions) ([]T, error) {
	return applyOptions(s.snapshot(), opts)
}

func (s *MemoryStore[T]) Create(ctx context.Context, id string, item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; ok {
		return fmt.Errorf("%w: %s", ErrExists, id)
	}
	s.items[id] = item
	s.order = append(s.order, id)
	return nil
}

func (s *MemoryStore[T]) Update(ctx context.Context, id string, patch map[string]any) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.items[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	merged, err := mergePatch(existing, patch)
	if err != nil {
		var zero T
		return zero, err
	}
	s.items[id] = merged
	return merged, nil
}

func (s *MemoryStore[T]) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.items, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore[T]) Query(ctx context.Context, filter map[string]any) ([]T, error) {
	return applyOptions(s.snapshot(), QueryOptions{Filter: filter})
}

func (s *MemoryStore[T]) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]T)
	s.order = nil
	return nil
}

func (s *MemoryStore[T]) Close() error { return nil }

// snapshot copies items in insertion order so reads never hold the lock
// while filtering.
func (s *MemoryStore[T]) snapshot() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id])
	}
	return out
}

var _ Store[any] = (*MemoryStore[any])(nil)
