package env

import (
	"context"
	"fmt"

	"github.com/roach88/recfield/internal/field"
	"github.com/roach88/recfield/internal/ir"
)

// resolver gives reference conversions access to the session.
type resolver struct {
	e *Env
}

var _ field.Resolver = resolver{}

func (e *Env) resolver() field.Resolver {
	return resolver{e: e}
}

func (r resolver) NewRecord(ctx context.Context, model string, values map[string]any) (ir.ID, error) {
	return r.e.NewRecord(ctx, model, values)
}

func (r resolver) UpdateRecord(ctx context.Context, model string, id ir.ID, values map[string]any) error {
	rs, err := r.e.Browse(model, id)
	if err != nil {
		return err
	}
	return rs.Write(ctx, values)
}

func (r resolver) Current(ctx context.Context, f *field.Field, owner ir.ID) (any, error) {
	m, err := r.e.model(f.Model)
	if err != nil {
		return nil, err
	}
	return r.e.get(ctx, r.e.browse(m, ir.IDs{owner}, nil), f, owner)
}

// DisplayName reads the record's name attribute with elevated privilege,
// falling back to "model,id".
func (r resolver) DisplayName(ctx context.Context, model string, id ir.ID) (string, error) {
	su := r.e.Sudo()
	m, err := su.model(model)
	if err != nil {
		return "", err
	}
	f, ok := m.Field(m.RecName)
	if !ok {
		return fmt.Sprintf("%s,%s", model, id), nil
	}
	v, err := su.get(ctx, su.browse(m, ir.IDs{id}, nil), f, id)
	if err != nil {
		return "", err
	}
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return fmt.Sprintf("%s,%s", model, id), nil
}

// Snapshot returns the cached values of a transient record that a write
// would need to recreate it.
func (r resolver) Snapshot(ctx context.Context, model string, id ir.ID) (map[string]any, error) {
	m, err := r.e.model(model)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	for _, f := range m.Fields() {
		if f.Type == field.ID || (f.Computed() && f.Readonly) || f.Inherited {
			continue
		}
		v, ok := r.e.s.cache.Get(f, id)
		if !ok {
			continue
		}
		w, err := f.ConvertToWrite(ctx, v, r)
		if err != nil {
			return nil, err
		}
		out[f.Name] = w
	}
	return out, nil
}

// Read returns the values of the named attributes, or of every attribute,
// for each record, in the representation callers see: references as
// (id, label) pairs, amounts as decimal strings, dates as text.
func (rs *Recordset) Read(ctx context.Context, names ...string) ([]map[string]any, error) {
	e := rs.env
	if len(names) == 0 {
		for _, f := range rs.model.Fields() {
			names = append(names, f.Name)
		}
	}
	fields := make([]*field.Field, len(names))
	for n, name := range names {
		f, err := rs.field(name)
		if err != nil {
			return nil, err
		}
		fields[n] = f
	}
	out := make([]map[string]any, 0, len(rs.ids))
	for _, id := range rs.ids {
		row := map[string]any{"id": id}
		for _, f := range fields {
			if f.Type == field.ID {
				continue
			}
			v, err := e.get(ctx, rs, f, id)
			if err != nil {
				return nil, e.annotate(err)
			}
			rv, err := f.ConvertToRead(ctx, v, e.resolver())
			if err != nil {
				return nil, e.annotate(err)
			}
			row[f.Name] = rv
		}
		out = append(out, row)
	}
	return out, nil
}
