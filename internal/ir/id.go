package ir

import (
	"fmt"
	"slices"
	"strconv"
)

// ID identifies a record within a session.
//
// A persisted id is assigned by storage. A transient id is a session-local
// surrogate for a record that does not exist in storage yet. Transient ids
// either carry a fresh reference number (NewRef) or are aligned on a
// persisted origin record (Aligned), so that the same origin always maps to
// the same transient id.
//
// The zero ID means "no record".
type ID struct {
	id     int64
	origin int64
	ref    int64
}

// NewID returns the identity of a persisted record.
func NewID(id int64) ID {
	return ID{id: id}
}

// NewRef returns a fresh transient identity numbered ref.
func NewRef(ref int64) ID {
	return ID{ref: ref}
}

// Aligned returns the transient identity aligned on the persisted record origin.
func Aligned(origin int64) ID {
	return ID{origin: origin}
}

// Persisted reports whether the id was assigned by storage.
func (i ID) Persisted() bool {
	return i.id != 0
}

// Int returns the storage id, or 0 for transient and zero ids.
func (i ID) Int() int64 {
	return i.id
}

// Origin returns the persisted record a transient id is aligned on.
// Persisted ids are their own origin.
func (i ID) Origin() int64 {
	if i.id != 0 {
		return i.id
	}
	return i.origin
}

// Ref returns the reference number of a fresh transient id.
func (i ID) Ref() int64 {
	return i.ref
}

// IsZero reports whether i identifies no record.
func (i ID) IsZero() bool {
	return i == ID{}
}

// String renders persisted ids as their number, transient ids with a "new" prefix.
func (i ID) String() string {
	switch {
	case i.id != 0:
		return strconv.FormatInt(i.id, 10)
	case i.origin != 0:
		return fmt.Sprintf("new_%d", i.origin)
	case i.ref != 0:
		return fmt.Sprintf("new:%d", i.ref)
	default:
		return "false"
	}
}

// Compare orders persisted ids before transient ones, then numerically.
func (i ID) Compare(o ID) int {
	if i.Persisted() != o.Persisted() {
		if i.Persisted() {
			return -1
		}
		return 1
	}
	if c := cmpInt(i.id, o.id); c != 0 {
		return c
	}
	if c := cmpInt(i.origin, o.origin); c != 0 {
		return c
	}
	return cmpInt(i.ref, o.ref)
}

// Less reports whether i sorts before o.
func (i ID) Less(o ID) bool {
	return i.Compare(o) < 0
}

// Align returns the transient counterpart of i: persisted ids become
// aligned transient ids, transient ids are returned unchanged.
func (i ID) Align() ID {
	if i.id != 0 {
		return Aligned(i.id)
	}
	return i
}

// IDs is an ordered list of record identities.
type IDs []ID

// Ints converts storage ids into persisted identities.
func Ints(ids ...int64) IDs {
	out := make(IDs, len(ids))
	for n, id := range ids {
		out[n] = NewID(id)
	}
	return out
}

// Storage returns the storage ids of the persisted members.
func (ids IDs) Storage() []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id.Persisted() {
			out = append(out, id.Int())
		}
	}
	return out
}

// Persisted returns the persisted members, preserving order.
func (ids IDs) Persisted() IDs {
	return ids.Filter(ID.Persisted)
}

// Transient returns the members that are not persisted, preserving order.
func (ids IDs) Transient() IDs {
	return ids.Filter(func(id ID) bool { return !id.Persisted() && !id.IsZero() })
}

// Filter returns the members for which keep returns true.
func (ids IDs) Filter(keep func(ID) bool) IDs {
	out := make(IDs, 0, len(ids))
	for _, id := range ids {
		if keep(id) {
			out = append(out, id)
		}
	}
	return out
}

// Contains reports whether id is a member.
func (ids IDs) Contains(id ID) bool {
	return slices.Contains(ids, id)
}

// Unique drops duplicates and zero ids, keeping first occurrences.
func (ids IDs) Unique() IDs {
	return Unique(ids)
}

// Minus returns the members not in other, preserving order.
func (ids IDs) Minus(other IDs) IDs {
	drop := other.Set()
	return ids.Filter(func(id ID) bool {
		_, found := drop[id]
		return !found
	})
}

// Intersect returns the members also in other, preserving order.
func (ids IDs) Intersect(other IDs) IDs {
	keep := other.Set()
	return ids.Filter(func(id ID) bool {
		_, found := keep[id]
		return found
	})
}

// Set returns the members as a set.
func (ids IDs) Set() map[ID]struct{} {
	set := make(map[ID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// SameSet reports whether both lists hold the same members, ignoring order.
func (ids IDs) SameSet(other IDs) bool {
	a, b := ids.Set(), other.Set()
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if _, found := b[id]; !found {
			return false
		}
	}
	return true
}

// Sorted returns a sorted copy.
func (ids IDs) Sorted() IDs {
	out := slices.Clone(ids)
	slices.SortFunc(out, ID.Compare)
	return out
}

// Strings renders every member with String.
func (ids IDs) Strings() []string {
	out := make([]string, len(ids))
	for n, id := range ids {
		out[n] = id.String()
	}
	return out
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
