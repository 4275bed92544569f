package storage

import (
	"encoding/json"
	"fmt"
	"sort"
)

// toDocument flattens a record into its JSON field map. Used for filtering,
// sorting and partial updates, so all backends share one notion of a field.
func toDocument[T any](item T) (map[string]any, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func fromDocument[T any](doc map[string]any) (T, error) {
	var item T
	data, err := json.Marshal(doc)
	if err != nil {
		return item, err
	}
	if err := json.Unmarshal(data, &item); err != nil {
		return item, err
	}
	return item, nil
}

// mergePatch applies a shallow JSON merge of patch onto item.
func mergePatch[T any](item T, patch map[string]any) (T, error) {
	var zero T
	doc, err := toDocument(item)
	if err != nil {
		return zero, err
	}
	for k, v := range patch {
		doc[k] = v
	}
	return fromDocument[T](doc)
}

// matchesFilter reports whether every filter entry equals the corresponding
// JSON field of item. Values are compared through their JSON representation
// so numeric types do not matter.
func matchesFilter[T any](item T, filter map[string]any) (bool, error) {
	if len(filter) == 0 {
		return true, nil
	}
	doc, err := toDocument(item)
	if err != nil {
		return false, err
	}
	for k, want := range filter {
		got, ok := doc[k]
		if !ok {
			return false, nil
		}
		if fmt.Sprint(normalizeJSON(got)) != fmt.Sprint(normalizeJSON(want)) {
			return false, nil
		}
	}
	return true, nil
}

func normalizeJSON(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// applyOptions filters, sorts and pages items in memory. Backends that
// cannot push the work into the engine (encrypted blobs are opaque to it)
// all funnel through here.
func applyOptions[T any](items []T, opts QueryOptions) ([]T, error) {
	out := make([]T, 0, len(items))
	for _, item := range items {
		ok, err := matchesFilter(item, opts.Filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, item)
		}
	}

	if opts.Sort != nil {
		type keyed struct {
			item T
			doc  map[string]any
		}
		rows := make([]keyed, len(out))
		for i, item := range out {
			doc, err := toDocument(item)
			if err != nil {
				return nil, err
			}
			rows[i] = keyed{item: item, doc: doc}
		}
		field, desc := opts.Sort.Field, opts.Sort.Order == Desc
		sort.SliceStable(rows, func(i, j int) bool {
			if desc {
				return lessJSON(rows[j].doc[field], rows[i].doc[field])
			}
			return lessJSON(rows[i].doc[field], rows[j].doc[field])
		})
		for i := range rows {
			out[i] = rows[i].item
		}
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return []T{}, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func lessJSON(a, b any) bool {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if aok && bok {
		return af < bf
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}
