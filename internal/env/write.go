package env

import (
	"context"

	"github.com/roach88/recfield/internal/access"
	"github.com/roach88/recfield/internal/field"
	"github.com/roach88/recfield/internal/ir"
)

// Write sets attribute values on every record, with the full write
// semantics: conversion, inverse maintenance and invalidation of
// dependents. Persisted values are written to storage by Flush, except
// many2many links which are written immediately.
func (rs *Recordset) Write(ctx context.Context, values map[string]any) error {
	if len(rs.ids) == 0 || len(values) == 0 {
		return nil
	}
	if err := rs.env.check(ctx, access.Write, rs.model, rs.ids); err != nil {
		return rs.env.annotate(err)
	}
	return rs.env.annotate(rs.env.writeFields(ctx, rs, values))
}

// Assign sets the value of an attribute on every record. On records whose
// attribute is being computed the value is published to the cache only;
// elsewhere Assign is a Write.
func (rs *Recordset) Assign(ctx context.Context, name string, value any) error {
	f, err := rs.field(name)
	if err != nil {
		return err
	}
	s := rs.env.s
	guarded := rs.ids.Filter(func(id ir.ID) bool { return s.tracker.Protected(f, id) })
	if len(guarded) > 0 {
		if err := rs.env.publish(ctx, f, guarded, value); err != nil {
			return rs.env.annotate(err)
		}
	}
	if rest := rs.ids.Minus(guarded); len(rest) > 0 {
		return rs.with(rest).Write(ctx, map[string]any{name: value})
	}
	return nil
}

// publish caches a computed value. Stored values of persisted records are
// marked for persistence.
func (e *Env) publish(ctx context.Context, f *field.Field, ids ir.IDs, value any) error {
	s := e.s
	for _, id := range ids {
		v, err := f.ConvertToCache(ctx, id, value, e.resolver())
		if err != nil {
			return err
		}
		old, had := s.cache.Get(f, id)
		s.cache.Set(f, id, v, f.HasColumn() && id.Persisted())
		if f.Type == field.Many2one && (!had || !f.Equal(old, v)) {
			var prev ir.ID
			if had {
				prev = old.(ir.ID)
			}
			e.updateInverses(f, id, prev, v.(ir.ID))
		}
	}
	return nil
}

// writeFields applies values without access checks.
func (e *Env) writeFields(ctx context.Context, rs *Recordset, values map[string]any) error {
	m := rs.model
	var fields []*field.Field
	for _, name := range ir.SortedKeys(values) {
		f, err := rs.field(name)
		if err != nil {
			return err
		}
		if f.Type == field.ID {
			return ir.ValueError(m.Name, f.Name, values[name], "the record id cannot be written")
		}
		_, hasInverse := m.InverseFunc(f)
		if f.Computed() && !hasInverse && len(rs.ids.Persisted()) > 0 {
			return ir.ValueError(m.Name, f.Name, values[name], "derived attribute has no inverse")
		}
		fields = append(fields, f)
	}

	moves, err := e.referenceMoves(ctx, rs, values)
	if err != nil {
		return err
	}
	for f, mv := range moves {
		if err := e.modified(ctx, f, movedIDs(mv)); err != nil {
			return err
		}
	}

	var inversed []*field.Field
	for _, f := range fields {
		if f.Computed() && f.Store {
			e.s.tracker.Remove(f, rs.ids)
		}
		var err error
		if f.Type.Collection() {
			err = e.writeCollection(ctx, rs, f, values[f.Name])
		} else {
			err = e.writeValue(ctx, rs, f, values[f.Name])
		}
		if err != nil {
			return err
		}
		if _, ok := m.InverseFunc(f); ok && f.Computed() {
			inversed = append(inversed, f)
		}
	}
	for f, mv := range moves {
		for _, m := range mv {
			e.dropReferenceInverses(f, m.from)
			e.dropReferenceInverses(f, m.to)
		}
		if err := e.modified(ctx, f, movedIDs(mv)); err != nil {
			return err
		}
	}
	if len(inversed) == 0 {
		return nil
	}

	release := e.s.tracker.Protect(inversed, rs.ids)
	defer release()
	for _, f := range inversed {
		fn, _ := m.InverseFunc(f)
		if err := fn(ctx, rs); err != nil {
			return err
		}
	}
	return nil
}

// writeValue writes a scalar or single reference on every record of rs.
// Records already holding the value are left untouched.
func (e *Env) writeValue(ctx context.Context, rs *Recordset, f *field.Field, value any) error {
	s := e.s
	v, err := f.ConvertToCache(ctx, rs.ids[0], value, e.resolver())
	if err != nil {
		return err
	}
	reference := f.Type == field.Many2one || f.Type == field.Many2oneReference
	if reference {
		// inverse maintenance needs the previous targets
		for _, id := range s.cache.Missing(f, rs.ids) {
			if _, err := e.get(ctx, rs, f, id); err != nil {
				return err
			}
		}
	}

	changed := s.cache.RecordsDifferingFrom(f, rs.ids, v)
	if len(changed) == 0 {
		return nil
	}
	if reference {
		if err := e.modified(ctx, f, changed); err != nil {
			return err
		}
	}
	for _, id := range changed {
		old, _ := s.cache.Get(f, id)
		s.cache.Set(f, id, v, f.HasColumn() && id.Persisted())
		if f.Type == field.Many2one {
			prev, _ := old.(ir.ID)
			e.updateInverses(f, id, prev, v.(ir.ID))
		}
	}
	return e.modified(ctx, f, changed)
}

// writeCollection writes a one2many or many2many on every record of rs.
// Transient owners are edited in cache only.
func (e *Env) writeCollection(ctx context.Context, rs *Recordset, f *field.Field, value any) error {
	for _, owner := range rs.ids.Transient() {
		if err := e.writeCached(ctx, rs.with(ir.IDs{owner}), f, owner, value); err != nil {
			return err
		}
	}
	persisted := rs.ids.Persisted()
	if len(persisted) == 0 {
		return nil
	}
	owners := rs.with(persisted)
	switch {
	case f.Computed() || !f.Store:
		for _, owner := range persisted {
			if err := e.writeCached(ctx, owners, f, owner, value); err != nil {
				return err
			}
		}
		return nil
	case f.Type == field.One2many:
		return e.writeOne2many(ctx, owners, f, value)
	default:
		return e.writeMany2many(ctx, owners, f, value)
	}
}

// commands normalizes a collection value into relation commands. Plain id
// lists replace the contents.
func (e *Env) commands(ctx context.Context, f *field.Field, value any) ([]ir.Command, error) {
	switch v := value.(type) {
	case ir.Command:
		return []ir.Command{v}, nil
	case []ir.Command:
		return v, nil
	case []any:
		if cmds, ok := commandList(v); ok {
			return cmds, nil
		}
	}
	cv, err := f.ConvertToCache(ctx, ir.ID{}, value, nil)
	if err != nil {
		return nil, err
	}
	return []ir.Command{ir.Set(cv.(ir.IDs)...)}, nil
}

// commandList returns items as commands when every item is one.
func commandList(items []any) ([]ir.Command, bool) {
	if len(items) == 0 {
		return nil, false
	}
	cmds := make([]ir.Command, len(items))
	for n, item := range items {
		cmd, ok := item.(ir.Command)
		if !ok {
			return nil, false
		}
		cmds[n] = cmd
	}
	return cmds, true
}

func movedIDs(moves []referenceMove) ir.IDs {
	ids := make(ir.IDs, len(moves))
	for n, m := range moves {
		ids[n] = m.id
	}
	return ids
}
