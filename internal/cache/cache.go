// Package cache is the per-session value cache.
//
// Entries are keyed by (attribute, record) and hold values in cache
// representation. A cache belongs to exactly one session and is not safe
// for concurrent use; sessions never share caches.
//
// Stored values written in the session but not yet persisted are marked
// dirty. Dirty entries survive invalidation: a write is never dropped
// before it reaches storage.
package cache

import (
	"slices"
	"sort"

	"github.com/roach88/recfield/internal/field"
	"github.com/roach88/recfield/internal/ir"
)

// Cache maps (attribute, record) to a cached value.
type Cache struct {
	data  map[*field.Field]map[ir.ID]any
	dirty map[*field.Field]map[ir.ID]struct{}
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{
		data:  make(map[*field.Field]map[ir.ID]any),
		dirty: make(map[*field.Field]map[ir.ID]struct{}),
	}
}

// Get returns the cached value of f for id.
func (c *Cache) Get(f *field.Field, id ir.ID) (any, bool) {
	v, ok := c.data[f][id]
	return v, ok
}

// Contains reports whether a value of f is cached for id.
func (c *Cache) Contains(f *field.Field, id ir.ID) bool {
	_, ok := c.data[f][id]
	return ok
}

// Set caches the value of f for id. A dirty value is marked for
// persistence; setting a clean value leaves an existing mark in place.
func (c *Cache) Set(f *field.Field, id ir.ID, v any, dirty bool) {
	values, ok := c.data[f]
	if !ok {
		values = make(map[ir.ID]any)
		c.data[f] = values
	}
	values[id] = v
	if dirty {
		marks, ok := c.dirty[f]
		if !ok {
			marks = make(map[ir.ID]struct{})
			c.dirty[f] = marks
		}
		marks[id] = struct{}{}
	}
}

// Update caches the same value of f for every id.
func (c *Cache) Update(f *field.Field, ids ir.IDs, v any, dirty bool) {
	for _, id := range ids {
		c.Set(f, id, v, dirty)
	}
}

// GetBatch returns the cached values of f for ids, in order, stopping at
// the first miss.
func (c *Cache) GetBatch(f *field.Field, ids ir.IDs) []any {
	out := make([]any, 0, len(ids))
	values := c.data[f]
	for _, id := range ids {
		v, ok := values[id]
		if !ok {
			break
		}
		out = append(out, v)
	}
	return out
}

// Missing returns the ids for which no value of f is cached, in order.
func (c *Cache) Missing(f *field.Field, ids ir.IDs) ir.IDs {
	values := c.data[f]
	return ids.Filter(func(id ir.ID) bool {
		_, ok := values[id]
		return !ok
	})
}

// RecordsDifferingFrom returns the ids whose cached value of f is not
// equal to v under the attribute's equality. Ids without a cached value
// differ.
func (c *Cache) RecordsDifferingFrom(f *field.Field, ids ir.IDs, v any) ir.IDs {
	values := c.data[f]
	return ids.Filter(func(id ir.ID) bool {
		cur, ok := values[id]
		return !ok || !f.Equal(cur, v)
	})
}

// Invalidate drops the clean values of f for ids, or for every record
// when ids is nil. Dirty values are kept.
func (c *Cache) Invalidate(f *field.Field, ids ir.IDs) {
	values, ok := c.data[f]
	if !ok {
		return
	}
	marks := c.dirty[f]
	drop := func(id ir.ID) {
		if _, isDirty := marks[id]; !isDirty {
			delete(values, id)
		}
	}
	if ids == nil {
		for id := range values {
			drop(id)
		}
		return
	}
	for _, id := range ids {
		drop(id)
	}
}

// InvalidateAll drops every clean value.
func (c *Cache) InvalidateAll() {
	for f := range c.data {
		c.Invalidate(f, nil)
	}
}

// Remove forgets the values of f for ids, dirty or not. Used when records
// are deleted.
func (c *Cache) Remove(f *field.Field, ids ir.IDs) {
	for _, id := range ids {
		delete(c.data[f], id)
		delete(c.dirty[f], id)
	}
}

// Records returns the ids with a cached value of f, sorted.
func (c *Cache) Records(f *field.Field) ir.IDs {
	return sortedIDs(c.data[f])
}

// Fields returns the attributes with at least one cached value, by full name.
func (c *Cache) Fields() []*field.Field {
	var out []*field.Field
	for f, values := range c.data {
		if len(values) > 0 {
			out = append(out, f)
		}
	}
	sortFields(out)
	return out
}

// IsDirty reports whether the value of f for id awaits persistence.
func (c *Cache) IsDirty(f *field.Field, id ir.ID) bool {
	_, ok := c.dirty[f][id]
	return ok
}

// Dirty returns the ids whose value of f awaits persistence, sorted.
func (c *Cache) Dirty(f *field.Field) ir.IDs {
	return sortedIDs(c.dirty[f])
}

// DirtyFields returns the attributes with values awaiting persistence,
// by full name.
func (c *Cache) DirtyFields() []*field.Field {
	var out []*field.Field
	for f, marks := range c.dirty {
		if len(marks) > 0 {
			out = append(out, f)
		}
	}
	sortFields(out)
	return out
}

// ClearDirty removes the persistence marks of f for ids, or for every
// record when ids is nil.
func (c *Cache) ClearDirty(f *field.Field, ids ir.IDs) {
	if ids == nil {
		delete(c.dirty, f)
		return
	}
	for _, id := range ids {
		delete(c.dirty[f], id)
	}
}

// Clear empties the cache, dirty values included.
func (c *Cache) Clear() {
	clear(c.data)
	clear(c.dirty)
}

func sortedIDs[V any](m map[ir.ID]V) ir.IDs {
	out := make(ir.IDs, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	slices.SortFunc(out, ir.ID.Compare)
	return out
}

func sortFields(fields []*field.Field) {
	sort.Slice(fields, func(i, j int) bool { return fields[i].FullName() < fields[j].FullName() })
}
