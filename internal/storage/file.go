package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// FileStore mirrors a whole namespace to one AES-encrypted JSON file. The
// collection is held in memory; every mutation rewrites the full file. The
// rewrite is not crash-atomic, which is an accepted durability limitation at
// this scale.
type FileStore[T any] struct {
	path       string
	passphrase string
	log        *zap.Logger

	mu          sync.RWMutex
	items       map[string]entry[T]
	order       []string
	initialized bool
}

type entry[T any] struct {
	item T
	id   string
}

// NewFileStore creates a file-backed store persisting to path, encrypting
// with the given passphrase.
func NewFileStore[T any](path, passphrase string, log *zap.Logger) *FileStore[T] {
	if log == nil {
		log = zap.NewNop()
	}
	return &FileStore[T]{
		path:       path,
		passphrase: passphrase,
		log:        log,
		items:      make(map[string]entry[T]),
	}
}

// Initialize loads the file if it exists. A blob that fails to decrypt
// resets the namespace to empty with a loud log rather than failing the
// process: availability wins over an ambiguous corrupt file.
func (s *FileStore[T]) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}

	raw, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := s.persistLocked(); err != nil {
			return err
		}
	case err != nil:
		return fmt.Errorf("read %s: %w", s.path, err)
	case len(raw) > 0:
		plaintext, err := decrypt(string(raw), s.passphrase)
		if err != nil {
			s.log.Error("storage file failed to decrypt, resetting namespace to empty",
				zap.String("path", s.path), zap.Error(err))
			s.items = make(map[string]entry[T])
			s.order = nil
			if err := s.persistLocked(); err != nil {
				return err
			}
			break
		}
		var records []struct {
			ID   string          `json:"id"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(plaintext, &records); err != nil {
			return fmt.Errorf("parse %s: %w", s.path, err)
		}
		for _, rec := range records {
			var item T
			if err := json.Unmarshal(rec.Data, &item); err != nil {
				return fmt.Errorf("parse record %s: %w", rec.ID, err)
			}
			s.items[rec.ID] = entry[T]{item: item, id: rec.ID}
			s.order = append(s.order, rec.ID)
		}
		s.log.Info("loaded storage namespace",
			zap.String("path", s.path), zap.Int("records", len(s.order)))
	}

	s.initialized = true
	return nil
}

func (s *FileStore[T]) Get(ctx context.Context, id string) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.items[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.item, nil
}

func (s *FileStore[T]) GetMany(ctx context.Context, opts QueryOptions) ([]T, error) {
	return applyOptions(s.snapshot(), opts)
}

func (s *FileStore[T]) Create(ctx context.Context, id string, item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; ok {
		return fmt.Errorf("%w: %s", ErrExists, id)
	}
	s.items[id] = entry[T]{item: item, id: id}
	s.order = append(s.order, id)
	return s.persistLocked()
}

func (s *FileStore[T]) Update(ctx context.Context, id string, patch map[string]any) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	e, ok := s.items[id]
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	merged, err := mergePatch(e.item, patch)
	if err != nil {
		return zero, err
	}
	s.items[id] = entry[T]{item: merged, id: id}
	if err := s.persistLocked(); err != nil {
		return zero, err
	}
	return merged, nil
}

func (s *FileStore[T]) Delete(ctx context.Context, id string) error {
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
	return s.persistLocked()
}

func (s *FileStore[T]) Query(ctx context.Context, filter map[string]any) ([]T, error) {
	return applyOptions(s.snapshot(), QueryOptions{Filter: filter})
}

func (s *FileStore[T]) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]entry[T])
	s.order = nil
	return s.persistLocked()
}

func (s *FileStore[T]) Close() error { return nil }

func (s *FileStore[T]) snapshot() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id].item)
	}
	return out
}

// persistLocked encrypts the whole collection and rewrites the file.
// Callers hold s.mu.
func (s *FileStore[T]) persistLocked() error {
	type record struct {
		ID   string `json:"id"`
		Data any    `json:"data"`
	}
	records := make([]record, 0, len(s.order))
	for _, id := range s.order {
		records = append(records, record{ID: id, Data: s.items[id].item})
	}
	plaintext, err := json.Marshal(records)
	if err != nil {
		return err
	}
	blob, err := encrypt(plaintext, s.passphrase)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, []byte(blob), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}

var _ Store[any] = (*FileStore[any])(nil)
