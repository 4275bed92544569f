package storage

import (
	"context"
	"errors"
	"testing"
)

type doc struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Level int    `json:"level"`
}

func TestMemoryStoreCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore[doc]()
	if err := s.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if err := s.Create(ctx, "a", doc{ID: "a", Name: "first", Level: 1}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, "a", doc{ID: "a"}); !errors.Is(err, ErrExists) {
		t.Fatalf("duplicate create err = %v, want ErrExists", err)
	}

	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "first" {
		t.Fatalf("Name = %q", got.Name)
	}

	merged, err := s.Update(ctx, "a", map[string]any{"name": "second"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if merged.Name != "second" || merged.Level != 1 {
		t.Fatalf("merge lost fields: %+v", merged)
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete err = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreQueryAndOptions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore[doc]()
	seed := []doc{
		{ID: "a", Name: "x", Level: 3},
		{ID: "b", Name: "y", Level: 1},
		{ID: "c", Name: "x", Level: 2},
	}
	for _, d := range seed {
		if err := s.Create(ctx, d.ID, d); err != nil {
			t.Fatalf("Create %s: %v", d.ID, err)
		}
	}

	matched, err := s.Query(ctx, map[string]any{"name": "x"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matched) != 2 {
		t.Fatalf("matched = %d, want 2", len(matched))
	}

	sorted, err := s.GetMany(ctx, QueryOptions{Sort: &Sort{Field: "level", Order: Desc}})
	if err != nil {
		t.Fatalf("GetMany: %v", err)
	}
	if sorted[0].Level != 3 || sorted[2].Level != 1 {
		t.Fatalf("sort order wrong: %+v", sorted)
	}

	paged, err := s.GetMany(ctx, QueryOptions{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("GetMany paged: %v", err)
	}
	if len(paged) != 1 || paged[0].ID != "b" {
		t.Fatalf("paged = %+v", paged)
	}

	empty, err := s.GetMany(ctx, QueryOptions{Offset: 10})
	if err != nil {
		t.Fatalf("GetMany offset: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("offset past end = %+v", empty)
	}
}

func TestMemoryStorePreservesInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore[doc]()
	for _, id := range []string{"z", "m", "a"} {
		if err := s.Create(ctx, id, doc{ID: id}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	all, err := s.GetMany(ctx, QueryOptions{})
	if err != nil {
		t.Fatalf("GetMany: %v", err)
	}
	want := []string{"z", "m", "a"}
	for i, d := range all {
		if d.ID != want[i] {
			t.Fatalf("order[%d] = %s, want %s", i, d.ID, want[i])
		}
	}
}
