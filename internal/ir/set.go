package ir

import "golang.org/x/exp/constraints"

// Unique drops duplicates and zero values, keeping first occurrences.
func Unique[T comparable](items []T) []T {
	var zero T
	seen := make(map[T]struct{}, len(items))
	out := make([]T, 0, len(items))
	for _, item := range items {
		if item == zero {
			continue
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

// Max returns the largest of the given values, or the zero value.
func Max[T constraints.Ordered](items ...T) T {
	var best T
	for n, item := range items {
		if n == 0 || item > best {
			best = item
		}
	}
	return best
}

// PrefetchSet is an ordered, growable set of record ids that were fetched
// together and may be fetched together again. It is shared by every
// recordset derived from the same browse.
type PrefetchSet struct {
	ids   IDs
	index map[ID]int
}

// NewPrefetchSet returns a prefetch set holding ids.
func NewPrefetchSet(ids ...ID) *PrefetchSet {
	p := &PrefetchSet{index: make(map[ID]int, len(ids))}
	p.Add(ids...)
	return p
}

// Add appends the ids that are not members yet.
func (p *PrefetchSet) Add(ids ...ID) {
	for _, id := range ids {
		if id.IsZero() {
			continue
		}
		if _, found := p.index[id]; found {
			continue
		}
		p.index[id] = len(p.ids)
		p.ids = append(p.ids, id)
	}
}

// Contains reports whether id is a member.
func (p *PrefetchSet) Contains(id ID) bool {
	_, found := p.index[id]
	return found
}

// Len returns the number of members.
func (p *PrefetchSet) Len() int {
	return len(p.ids)
}

// IDs returns the members in insertion order, starting at first when it is
// a member and wrapping around, so batches always lead with the record
// that caused them.
func (p *PrefetchSet) IDs(first ID) IDs {
	out := make(IDs, 0, len(p.ids))
	start, found := p.index[first]
	if !found {
		out = append(out, first)
		return append(out, p.ids...)
	}
	out = append(out, p.ids[start:]...)
	return append(out, p.ids[:start]...)
}
