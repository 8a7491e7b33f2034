package env

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/recfield/internal/field"
	"github.com/roach88/recfield/internal/ir"
	"github.com/roach88/recfield/internal/model"
)

// Recordset is an ordered list of records of one type bound to a session.
// Recordsets derived from one another share a prefetch set, so that a miss
// on one record fetches its siblings too.
type Recordset struct {
	env      *Env
	model    *model.Model
	ids      ir.IDs
	prefetch *ir.PrefetchSet
}

var (
	_ model.Recordset = (*Recordset)(nil)
	_ field.Recordset = (*Recordset)(nil)
)

// Browse returns the records ids of the record type name. Nothing is read.
func (e *Env) Browse(name string, ids ...ir.ID) (*Recordset, error) {
	m, err := e.model(name)
	if err != nil {
		return nil, err
	}
	return e.browse(m, ir.IDs(ids).Unique(), nil), nil
}

func (e *Env) browse(m *model.Model, ids ir.IDs, prefetch *ir.PrefetchSet) *Recordset {
	if prefetch == nil {
		prefetch = ir.NewPrefetchSet(ids...)
	}
	return &Recordset{env: e, model: m, ids: ids, prefetch: prefetch}
}

// Env returns the session of the records.
func (rs *Recordset) Env() *Env { return rs.env }

// Model returns the record type.
func (rs *Recordset) Model() *model.Model { return rs.model }

// IDs returns the records in order.
func (rs *Recordset) IDs() ir.IDs { return rs.ids }

// Len returns the number of records.
func (rs *Recordset) Len() int { return len(rs.ids) }

// String renders the recordset as "model(ids)".
func (rs *Recordset) String() string {
	return fmt.Sprintf("%s(%s)", rs.model.Name, strings.Join(rs.ids.Strings(), ", "))
}

// Sudo returns the same records in a privileged view of the session.
func (rs *Recordset) Sudo() *Recordset {
	return &Recordset{env: rs.env.Sudo(), model: rs.model, ids: rs.ids, prefetch: rs.prefetch}
}

// WithEnv returns the same records bound to another view of the session.
func (rs *Recordset) WithEnv(e *Env) *Recordset {
	return &Recordset{env: e, model: rs.model, ids: rs.ids, prefetch: rs.prefetch}
}

// Records returns one singleton per record, sharing the prefetch set.
func (rs *Recordset) Records() []model.Recordset {
	out := make([]model.Recordset, len(rs.ids))
	for n, id := range rs.ids {
		out[n] = rs.with(ir.IDs{id})
	}
	return out
}

// Each returns one typed singleton per record.
func (rs *Recordset) Each() []*Recordset {
	out := make([]*Recordset, len(rs.ids))
	for n, id := range rs.ids {
		out[n] = rs.with(ir.IDs{id})
	}
	return out
}

// Browse returns records of the same type sharing the prefetch set.
func (rs *Recordset) Browse(ids ...ir.ID) model.Recordset {
	return rs.with(ir.IDs(ids).Unique())
}

func (rs *Recordset) with(ids ir.IDs) *Recordset {
	rs.prefetch.Add(ids...)
	return &Recordset{env: rs.env, model: rs.model, ids: ids, prefetch: rs.prefetch}
}

// One returns the id of a singleton recordset.
func (rs *Recordset) One() (ir.ID, error) {
	if len(rs.ids) != 1 {
		return ir.ID{}, fmt.Errorf("expected singleton %s, got %d records", rs.model.Name, len(rs.ids))
	}
	return rs.ids[0], nil
}

func (rs *Recordset) field(name string) (*field.Field, error) {
	f, ok := rs.model.Field(name)
	if !ok {
		return nil, fmt.Errorf("%s has no attribute %q", rs.model.Name, name)
	}
	return f, nil
}

// Get returns the cache value of an attribute on a singleton.
func (rs *Recordset) Get(ctx context.Context, name string) (any, error) {
	f, err := rs.field(name)
	if err != nil {
		return nil, err
	}
	id, err := rs.One()
	if err != nil {
		return nil, err
	}
	v, err := rs.env.get(ctx, rs, f, id)
	if err != nil {
		return nil, rs.env.annotate(err)
	}
	return v, nil
}

// Ref returns the records referenced by a relational attribute over every
// record, in order and without duplicates.
func (rs *Recordset) Ref(ctx context.Context, name string) (model.Recordset, error) {
	return rs.RefSet(ctx, name)
}

// RefSet is Ref with a typed result. The targets share a prefetch set made
// of the references of every record in the source prefetch set that are
// already cached.
func (rs *Recordset) RefSet(ctx context.Context, name string) (*Recordset, error) {
	f, err := rs.field(name)
	if err != nil {
		return nil, err
	}
	if !f.Type.Relational() {
		return nil, fmt.Errorf("%s is not relational", f.FullName())
	}
	comodel, err := rs.env.model(f.Comodel)
	if err != nil {
		return nil, err
	}
	var targets ir.IDs
	for _, id := range rs.ids {
		v, err := rs.env.get(ctx, rs, f, id)
		if err != nil {
			return nil, rs.env.annotate(err)
		}
		targets = append(targets, refIDs(v)...)
	}
	targets = targets.Unique()

	prefetch := ir.NewPrefetchSet(targets...)
	var first ir.ID
	if len(rs.ids) > 0 {
		first = rs.ids[0]
	}
	for _, id := range rs.prefetch.IDs(first) {
		if v, ok := rs.env.s.cache.Get(f, id); ok {
			prefetch.Add(refIDs(v)...)
		}
	}
	return rs.env.browse(comodel, targets, prefetch), nil
}

func refIDs(v any) ir.IDs {
	switch val := v.(type) {
	case ir.ID:
		if val.IsZero() {
			return nil
		}
		return ir.IDs{val}
	case ir.IDs:
		return val
	}
	return nil
}

// Mapped returns the leaf values reached by following a dot-separated path
// from every record. Relational leaves yield the distinct target ids.
func (rs *Recordset) Mapped(ctx context.Context, path string) ([]any, error) {
	names := strings.Split(path, ".")
	cur := rs
	for _, name := range names[:len(names)-1] {
		next, err := cur.RefSet(ctx, name)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	leaf := names[len(names)-1]
	f, err := cur.field(leaf)
	if err != nil {
		return nil, err
	}
	if f.Type.Relational() {
		targets, err := cur.RefSet(ctx, leaf)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(targets.ids))
		for n, id := range targets.ids {
			out[n] = id
		}
		return out, nil
	}
	var out []any
	if !f.Computed() {
		out = cur.env.s.cache.GetBatch(f, cur.ids)
	}
	for _, id := range cur.ids[len(out):] {
		v, err := cur.env.get(ctx, cur, f, id)
		if err != nil {
			return nil, cur.env.annotate(err)
		}
		out = append(out, v)
	}
	return out, nil
}
