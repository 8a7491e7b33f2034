package field

import (
	"context"
	"slices"

	"github.com/roach88/recfield/internal/ir"
)

// many2oneConv holds the target id, or the zero id for "no record".
type many2oneConv struct{}

func (many2oneConv) toCache(ctx context.Context, f *Field, owner ir.ID, v any, r Resolver) (any, error) {
	var id ir.ID
	switch val := v.(type) {
	case ir.ID:
		id = val
	case ir.Pair:
		id = val.ID
	case Recordset:
		ids := val.IDs()
		if len(ids) > 1 {
			return nil, f.invalid(ids.Strings(), "expected a single record, got %d", len(ids))
		}
		if len(ids) == 1 {
			id = ids[0]
		}
	case map[string]any:
		if r == nil {
			return nil, f.invalid(v, "cannot create a %s record here", f.Comodel)
		}
		created, err := r.NewRecord(ctx, f.Comodel, val)
		if err != nil {
			return nil, err
		}
		id = created
	default:
		if isFalsy(v) {
			break
		}
		n, ok := asInt64(v)
		if !ok {
			return nil, f.invalid(v, "expected a %s record", f.Comodel)
		}
		if n != 0 {
			id = ir.NewID(n)
		}
	}
	// the parent of a transient delegating record is transient too
	if f.Delegate && !owner.IsZero() && !owner.Persisted() {
		id = id.Align()
	}
	return id, nil
}

func (many2oneConv) toRead(ctx context.Context, f *Field, v any, r Resolver) (any, error) {
	id := v.(ir.ID)
	if id.IsZero() {
		return nil, nil
	}
	pair := ir.Pair{ID: id}
	if r != nil {
		label, err := r.DisplayName(ctx, f.Comodel, id)
		if err != nil {
			return nil, err
		}
		pair.Label = label
	}
	return pair, nil
}

func (many2oneConv) toWrite(_ context.Context, _ *Field, v any, _ Resolver) (any, error) {
	id := v.(ir.ID)
	if id.IsZero() {
		return nil, nil
	}
	return id, nil
}

func (many2oneConv) toColumn(f *Field, v any) (any, error) {
	id := v.(ir.ID)
	if id.IsZero() {
		return nil, nil
	}
	if !id.Persisted() {
		return nil, f.invalid(id.String(), "cannot store a reference to a transient %s record", f.Comodel)
	}
	return id.Int(), nil
}

func (many2oneConv) fromColumn(f *Field, v any) (any, error) {
	if v == nil {
		return ir.ID{}, nil
	}
	n, ok := asInt64(v)
	if !ok {
		return nil, f.invalid(v, "unexpected reference column value")
	}
	return ir.NewID(n), nil
}

func (many2oneConv) equal(_ *Field, a, b any) bool { return a == b }
func (many2oneConv) zero(*Field) any               { return ir.ID{} }

// collectionConv holds an ordered list of target ids. The same
// representation serves one2many and many2many; equality is ordered for
// one2many and set-based for many2many.
type collectionConv struct{}

func (c collectionConv) toCache(ctx context.Context, f *Field, owner ir.ID, v any, r Resolver) (any, error) {
	var ids ir.IDs
	switch val := v.(type) {
	case ir.IDs:
		ids = val
	case []ir.ID:
		ids = val
	case Recordset:
		ids = val.IDs()
	case ir.Command:
		return c.apply(ctx, f, owner, []ir.Command{val}, r)
	case []ir.Command:
		return c.apply(ctx, f, owner, val, r)
	case []int64:
		ids = ir.Ints(val...)
	case []int:
		for _, n := range val {
			ids = append(ids, ir.NewID(int64(n)))
		}
	case []any:
		for _, item := range val {
			id, err := c.item(f, item)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	default:
		if !isFalsy(v) {
			return nil, f.invalid(v, "expected a list of %s records or commands", f.Comodel)
		}
	}
	return c.align(owner, ir.Unique(ids)), nil
}

func (collectionConv) item(f *Field, v any) (ir.ID, error) {
	switch val := v.(type) {
	case ir.ID:
		return val, nil
	case ir.Pair:
		return val.ID, nil
	}
	if n, ok := asInt64(v); ok && n != 0 {
		return ir.NewID(n), nil
	}
	return ir.ID{}, f.invalid(v, "expected a %s record id", f.Comodel)
}

// align maps persisted targets of a transient owner onto transient-aligned
// identities, so that not-yet-persisted records reference each other
// consistently.
func (collectionConv) align(owner ir.ID, ids ir.IDs) ir.IDs {
	if owner.IsZero() || owner.Persisted() {
		return ids
	}
	out := make(ir.IDs, len(ids))
	for n, id := range ids {
		out[n] = id.Align()
	}
	return out
}

// apply runs relation commands against the current cached value.
func (c collectionConv) apply(ctx context.Context, f *Field, owner ir.ID, cmds []ir.Command, r Resolver) (any, error) {
	var ids ir.IDs
	if r != nil && !owner.IsZero() {
		cur, err := r.Current(ctx, f, owner)
		if err != nil {
			return nil, err
		}
		ids = slices.Clone(cur.(ir.IDs))
	}
	for _, cmd := range cmds {
		switch cmd.Op {
		case ir.OpCreate:
			if r == nil {
				return nil, f.invalid(cmd.String(), "cannot create a %s record here", f.Comodel)
			}
			id, err := r.NewRecord(ctx, f.Comodel, cmd.Values)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		case ir.OpUpdate:
			if r == nil {
				return nil, f.invalid(cmd.String(), "cannot update a %s record here", f.Comodel)
			}
			if err := r.UpdateRecord(ctx, f.Comodel, cmd.ID, cmd.Values); err != nil {
				return nil, err
			}
			if !ids.Contains(cmd.ID) {
				ids = append(ids, cmd.ID)
			}
		case ir.OpDelete, ir.OpUnlink:
			ids = ids.Minus(ir.IDs{cmd.ID, cmd.ID.Align()})
		case ir.OpLink:
			ids = append(ids, cmd.ID)
		case ir.OpClear:
			ids = nil
		case ir.OpSet:
			ids = slices.Clone(cmd.IDs)
		default:
			return nil, f.invalid(cmd.String(), "unknown relation command")
		}
	}
	return c.align(owner, ir.Unique(ids)), nil
}

func (collectionConv) toRead(_ context.Context, _ *Field, v any, _ Resolver) (any, error) {
	return slices.Clone(v.(ir.IDs)), nil
}

// toWrite expresses the value as commands: persisted and aligned records
// are set, fresh transient ones are recreated from their current values.
func (collectionConv) toWrite(ctx context.Context, f *Field, v any, r Resolver) (any, error) {
	ids := v.(ir.IDs)
	set := make(ir.IDs, 0, len(ids))
	var creates []ir.Command
	for _, id := range ids {
		if id.Origin() != 0 {
			set = append(set, ir.NewID(id.Origin()))
			continue
		}
		values := map[string]any{}
		if r != nil {
			snap, err := r.Snapshot(ctx, f.Comodel, id)
			if err != nil {
				return nil, err
			}
			values = snap
		}
		creates = append(creates, ir.Create(values))
	}
	return append([]ir.Command{ir.Set(set...)}, creates...), nil
}

func (collectionConv) toColumn(f *Field, v any) (any, error) {
	return nil, ir.ConfigError(f.Model, f.Name, "%s field has no column", f.Type)
}

func (collectionConv) fromColumn(f *Field, v any) (any, error) {
	return nil, ir.ConfigError(f.Model, f.Name, "%s field has no column", f.Type)
}

func (collectionConv) equal(f *Field, a, b any) bool {
	ia, ok1 := a.(ir.IDs)
	ib, ok2 := b.(ir.IDs)
	if !ok1 || !ok2 {
		return false
	}
	if f.Type == Many2many {
		return ia.SameSet(ib)
	}
	return slices.Equal(ia, ib)
}

func (collectionConv) zero(*Field) any { return ir.IDs{} }
