package env

import (
	"context"
	"fmt"
	"maps"

	"github.com/roach88/recfield/internal/access"
	"github.com/roach88/recfield/internal/field"
	"github.com/roach88/recfield/internal/ir"
	"github.com/roach88/recfield/internal/model"
)

// Create inserts one record per values map and returns them. Column values
// are inserted in a single storage call; collections and attributes
// without a column are written afterwards. Stored derived attributes not
// given a value are marked pending.
func (e *Env) Create(ctx context.Context, name string, valuesList ...map[string]any) (*Recordset, error) {
	m, err := e.model(name)
	if err != nil {
		return nil, err
	}
	if !e.su {
		if err := e.s.access.Check(ctx, e.s.user, access.Create, m.Name, nil); err != nil {
			return nil, e.annotate(err)
		}
	}
	rs, err := e.create(ctx, m, valuesList)
	if err != nil {
		return nil, e.annotate(err)
	}
	return rs, nil
}

type createRow struct {
	row    map[string]any
	cached map[*field.Field]any
	rest   map[string]any
}

func (e *Env) create(ctx context.Context, m *model.Model, valuesList []map[string]any) (*Recordset, error) {
	s := e.s
	if len(valuesList) == 0 {
		return e.browse(m, ir.IDs{}, nil), nil
	}

	rows := make([]createRow, len(valuesList))
	inserts := make([]map[string]any, len(valuesList))
	for n, values := range valuesList {
		values, err := e.withDefaults(ctx, m, values)
		if err != nil {
			return nil, err
		}
		if values, err = e.createParents(ctx, m, values); err != nil {
			return nil, err
		}
		r := createRow{
			row:    make(map[string]any),
			cached: make(map[*field.Field]any),
			rest:   make(map[string]any),
		}
		for _, name := range ir.SortedKeys(values) {
			f, ok := m.Field(name)
			if !ok {
				return nil, fmt.Errorf("%s has no attribute %q", m.Name, name)
			}
			if f.Type == field.ID {
				return nil, ir.ValueError(m.Name, f.Name, values[name], "the record id cannot be written")
			}
			if !f.HasColumn() {
				r.rest[name] = values[name]
				continue
			}
			v, err := f.ConvertToCache(ctx, ir.ID{}, values[name], e.resolver())
			if err != nil {
				return nil, err
			}
			col, err := f.ConvertToColumn(v)
			if err != nil {
				return nil, err
			}
			r.row[name] = col
			r.cached[f] = v
		}
		rows[n] = r
		inserts[n] = r.row
	}

	allocated, err := s.storage.Insert(ctx, m.Table, inserts)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", m.Name, err)
	}
	ids := ir.Ints(allocated...)
	rs := e.browse(m, ids, nil)

	for n, id := range ids {
		for _, f := range m.Fields() {
			switch {
			case f.Type == field.ID:
			case f.HasColumn():
				v, given := rows[n].cached[f]
				if !given && f.Computed() {
					s.tracker.Add(f, ir.IDs{id})
					continue
				}
				if !given {
					v = f.Zero()
				}
				s.cache.Set(f, id, v, false)
				if f.Type == field.Many2one {
					e.updateInverses(f, id, ir.ID{}, v.(ir.ID))
				}
			case f.Type.Collection() && f.Store && !f.Computed():
				s.cache.Set(f, id, ir.IDs{}, false)
			}
		}
	}
	for _, f := range m.Fields() {
		if f.Type != field.Many2oneReference || len(s.reg.Inverses(f)) == 0 {
			continue
		}
		for _, id := range ids {
			owner, err := e.referenceTarget(ctx, rs, f, id)
			if err != nil {
				return nil, err
			}
			e.dropReferenceInverses(f, owner)
		}
	}
	s.logger.Debug("created", "model", m.Name, "records", len(ids))

	for _, f := range m.Fields() {
		if f.HasColumn() || (f.Type.Collection() && f.Store) {
			if err := e.modifiedCreated(ctx, f, ids); err != nil {
				return nil, err
			}
		}
	}
	for n, id := range ids {
		if len(rows[n].rest) == 0 {
			continue
		}
		if err := e.writeFields(ctx, rs.with(ir.IDs{id}), rows[n].rest); err != nil {
			return nil, err
		}
	}
	return rs, nil
}

// withDefaults completes values with the defaults of the attributes not
// given. Derived attributes take no defaults.
func (e *Env) withDefaults(ctx context.Context, m *model.Model, values map[string]any) (map[string]any, error) {
	out := maps.Clone(values)
	if out == nil {
		out = make(map[string]any)
	}
	var names []string
	for _, f := range m.Fields() {
		if _, given := out[f.Name]; given || f.Type == field.ID || f.Computed() {
			continue
		}
		names = append(names, f.Name)
	}
	if len(names) == 0 {
		return out, nil
	}
	defaults, err := m.DefaultGet(ctx, names)
	if err != nil {
		return nil, err
	}
	maps.Copy(out, defaults)
	return out, nil
}

// createParents moves the inherited values to the delegation parents. A
// missing parent is created from them; a given parent receives them as a
// write.
func (e *Env) createParents(ctx context.Context, m *model.Model, values map[string]any) (map[string]any, error) {
	for _, d := range m.Delegates() {
		inherited := make(map[string]any)
		for name, v := range values {
			f, ok := m.Field(name)
			if ok && f.Inherited && len(f.Related) == 2 && f.Related[0] == d.Name {
				inherited[f.Related[1]] = v
				delete(values, name)
			}
		}
		parentModel, err := e.model(d.Comodel)
		if err != nil {
			return nil, err
		}
		if given, ok := values[d.Name]; ok {
			v, err := d.ConvertToCache(ctx, ir.ID{}, given, e.resolver())
			if err != nil {
				return nil, err
			}
			if parent := v.(ir.ID); !parent.IsZero() {
				if len(inherited) > 0 {
					if err := e.writeFields(ctx, e.browse(parentModel, ir.IDs{parent}, nil), inherited); err != nil {
						return nil, err
					}
				}
				continue
			}
		}
		parent, err := e.create(ctx, parentModel, []map[string]any{inherited})
		if err != nil {
			return nil, err
		}
		values[d.Name] = parent.ids[0]
	}
	return values, nil
}

// New creates a transient record from values, in cache only. A non-zero
// origin aligns the record on that persisted record: unset stored values
// are read from it.
func (e *Env) New(ctx context.Context, name string, values map[string]any, origin ir.ID) (*Recordset, error) {
	m, err := e.model(name)
	if err != nil {
		return nil, err
	}
	id := ir.NewRef(e.s.refs.Next())
	if !origin.IsZero() {
		if !origin.Persisted() {
			return nil, fmt.Errorf("new %s: origin %s is not persisted", m.Name, origin)
		}
		id = ir.Aligned(origin.Int())
	}
	rs := e.browse(m, ir.IDs{id}, nil)
	if len(values) > 0 {
		if err := e.writeFields(ctx, rs, values); err != nil {
			return nil, e.annotate(err)
		}
	}
	return rs, nil
}

// NewRecord creates a transient record and returns its id.
func (e *Env) NewRecord(ctx context.Context, name string, values map[string]any) (ir.ID, error) {
	rs, err := e.New(ctx, name, values, ir.ID{})
	if err != nil {
		return ir.ID{}, err
	}
	return rs.ids[0], nil
}
