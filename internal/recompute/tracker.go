package recompute

import (
	"sort"

	"github.com/google/btree"

	"github.com/roach88/recfield/internal/field"
	"github.com/roach88/recfield/internal/ir"
)

const degree = 8

func newSet() *btree.BTreeG[ir.ID] {
	return btree.NewG(degree, btree.LessFunc[ir.ID](ir.ID.Less))
}

// Tracker holds the Pending-Recompute sets and the protection guard.
type Tracker struct {
	pending   map[*field.Field]*btree.BTreeG[ir.ID]
	protected map[*field.Field]map[ir.ID]int
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		pending:   make(map[*field.Field]*btree.BTreeG[ir.ID]),
		protected: make(map[*field.Field]map[ir.ID]int),
	}
}

// Add marks ids stale for f and returns those that were not pending yet.
func (t *Tracker) Add(f *field.Field, ids ir.IDs) ir.IDs {
	set, ok := t.pending[f]
	if !ok {
		set = newSet()
		t.pending[f] = set
	}
	var added ir.IDs
	for _, id := range ids {
		if id.IsZero() {
			continue
		}
		if _, found := set.ReplaceOrInsert(id); !found {
			added = append(added, id)
		}
	}
	return added
}

// Remove drains ids from the pending set of f.
func (t *Tracker) Remove(f *field.Field, ids ir.IDs) {
	set, ok := t.pending[f]
	if !ok {
		return
	}
	for _, id := range ids {
		set.Delete(id)
	}
	if set.Len() == 0 {
		delete(t.pending, f)
	}
}

// Pending reports whether the value of f for id is stale.
func (t *Tracker) Pending(f *field.Field, id ir.ID) bool {
	set, ok := t.pending[f]
	return ok && set.Has(id)
}

// IDs returns the stale records of f in order.
func (t *Tracker) IDs(f *field.Field) ir.IDs {
	set, ok := t.pending[f]
	if !ok {
		return nil
	}
	out := make(ir.IDs, 0, set.Len())
	set.Ascend(func(id ir.ID) bool {
		out = append(out, id)
		return true
	})
	return out
}

// Fields returns the attributes with stale records, by full name.
func (t *Tracker) Fields() []*field.Field {
	out := make([]*field.Field, 0, len(t.pending))
	for f := range t.pending {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName() < out[j].FullName() })
	return out
}

// Len returns the number of stale (attribute, record) pairs.
func (t *Tracker) Len() int {
	n := 0
	for _, set := range t.pending {
		n += set.Len()
	}
	return n
}

// Protect raises the guard for fields on ids and returns the function
// lowering it. Guards nest.
func (t *Tracker) Protect(fields []*field.Field, ids ir.IDs) func() {
	for _, f := range fields {
		counts, ok := t.protected[f]
		if !ok {
			counts = make(map[ir.ID]int)
			t.protected[f] = counts
		}
		for _, id := range ids {
			counts[id]++
		}
	}
	return func() {
		for _, f := range fields {
			counts := t.protected[f]
			for _, id := range ids {
				if counts[id]--; counts[id] <= 0 {
					delete(counts, id)
				}
			}
			if len(counts) == 0 {
				delete(t.protected, f)
			}
		}
	}
}

// Protected reports whether f is being computed for id.
func (t *Tracker) Protected(f *field.Field, id ir.ID) bool {
	return t.protected[f][id] > 0
}

// Clear drops every pending set and guard.
func (t *Tracker) Clear() {
	clear(t.pending)
	clear(t.protected)
}
