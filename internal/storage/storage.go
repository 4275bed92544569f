// Package storage provides durable, encrypted key-value persistence behind a
// uniform document-store interface. Three interchangeable backends exist:
// ephemeral in-memory, single-file encrypted JSON, and an encrypted-blob SQL
// table. Records are owned by storage; caches hold only expendable copies.
package storage

import (
	"context"
	"errors"
)

var (
	ErrNotFound    = errors.New("storage: not found")
	ErrExists      = errors.New("storage: already exists")
	ErrDecryption  = errors.New("storage: decryption failed")
	ErrUnavailable = errors.New("storage: unavailable")
)

// SortOrder for GetMany.
type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

// Sort names a JSON field and direction.
type Sort struct {
	Field string
	Order SortOrder
}

// QueryOptions shape a GetMany call. Filter matches JSON field values
// exactly; zero Limit means no limit.
type QueryOptions struct {
	Limit  int
	Offset int
	Sort   *Sort
	Filter map[string]any
}

// Store is the uniform persistence interface shared by every namespace.
// T must round-trip through encoding/json. Expected misses surface as
// ErrNotFound so callers can branch with errors.Is instead of treating them
// as failures.
type Store[T any] interface {
	// Initialize prepares the backend (loads the file, creates the table).
	Initialize(ctx context.Context) error
	Get(ctx context.Context, id string) (T, error)
	GetMany(ctx context.Context, opts QueryOptions) ([]T, error)
	Create(ctx context.Context, id string, item T) error
	// Update merges the patch into the stored record at the JSON level and
	// returns the merged result.
	Update(ctx context.Context, id string, patch map[string]any) (T, error)
	Delete(ctx context.Context, id string) error
	// Query is GetMany with only a filter.
	Query(ctx context.Context, filter map[string]any) ([]T, error)
	Clear(ctx context.Context) error
	Close() error
}
