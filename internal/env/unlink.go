package env

import (
	"context"
	"fmt"

	"github.com/roach88/recfield/internal/access"
	"github.com/roach88/recfield/internal/field"
	"github.com/roach88/recfield/internal/ir"
)

// Unlink deletes the records. References to them follow their ondelete
// policy: restrict fails, cascade deletes the referencing records, set
// null and set default rewrite the reference. Relation table rows are
// deleted and the records disappear from every cached value.
func (rs *Recordset) Unlink(ctx context.Context) error {
	e := rs.env
	if err := e.check(ctx, access.Unlink, rs.model, rs.ids); err != nil {
		return e.annotate(err)
	}
	return e.annotate(e.unlink(ctx, rs))
}

func (e *Env) unlink(ctx context.Context, rs *Recordset) error {
	s := e.s
	m := rs.model
	ids := rs.ids
	if len(ids) == 0 {
		return nil
	}
	persisted := ids.Persisted()

	type holding struct {
		ref *field.Field
		rs  *Recordset
	}
	var holdings []holding
	for _, ref := range s.reg.Referencing(m.Name) {
		if len(persisted) == 0 {
			break
		}
		holders, err := e.Sudo().referrers(ctx, ref, persisted)
		if err != nil {
			return fmt.Errorf("unlink %s: %w", m.Name, err)
		}
		if ref.Model == m.Name {
			holders = holders.Minus(ids)
		}
		if len(holders) == 0 {
			continue
		}
		if ref.OnDelete == field.OnDeleteRestrict {
			return &ir.Error{
				Code:    ir.ErrCodeRestricted,
				Message: fmt.Sprintf("%d %s record(s) still reference it through %s", len(holders), ref.Model, ref.FullName()),
				Model:   m.Name,
				Record:  persisted[0],
			}
		}
		refModel, err := e.model(ref.Model)
		if err != nil {
			return err
		}
		holdings = append(holdings, holding{ref: ref, rs: e.browse(refModel, holders, nil)})
	}
	for _, h := range holdings {
		var err error
		switch h.ref.OnDelete {
		case field.OnDeleteCascade:
			err = e.unlink(ctx, h.rs)
		case field.OnDeleteSetDefault:
			var defaults map[string]any
			defaults, err = h.rs.model.DefaultGet(ctx, []string{h.ref.Name})
			if err == nil {
				err = e.writeFields(ctx, h.rs, map[string]any{h.ref.Name: defaults[h.ref.Name]})
			}
		default:
			err = e.writeFields(ctx, h.rs, map[string]any{h.ref.Name: nil})
		}
		if err != nil {
			return err
		}
	}

	for _, f := range m.Fields() {
		if err := e.modified(ctx, f, ids); err != nil {
			return err
		}
	}

	if len(persisted) > 0 {
		done := make(map[string]bool)
		clearRelation := func(f *field.Field, column string) error {
			key := f.Relation + "." + column
			if done[key] {
				return nil
			}
			done[key] = true
			return s.storage.DeleteWhere(ctx, f.Relation, column, persisted.Storage())
		}
		for _, f := range s.reg.Fields() {
			if f.Type != field.Many2many || !f.Store || f.Computed() {
				continue
			}
			if f.Model == m.Name {
				if err := clearRelation(f, f.Column1); err != nil {
					return fmt.Errorf("unlink %s: %w", m.Name, err)
				}
			}
			if f.Comodel == m.Name {
				if err := clearRelation(f, f.Column2); err != nil {
					return fmt.Errorf("unlink %s: %w", m.Name, err)
				}
			}
		}
		if err := s.storage.Delete(ctx, m.Table, persisted.Storage()); err != nil {
			return fmt.Errorf("unlink %s: %w", m.Name, err)
		}
	}

	for _, f := range m.Fields() {
		s.cache.Remove(f, ids)
		s.tracker.Remove(f, ids)
	}
	gone := ids.Set()
	for _, f := range s.reg.Fields() {
		if !f.Type.Relational() || f.Comodel != m.Name {
			continue
		}
		for _, holder := range s.cache.Records(f) {
			v, _ := s.cache.Get(f, holder)
			switch ref := v.(type) {
			case ir.ID:
				if _, ok := gone[ref]; ok {
					s.cache.Set(f, holder, ir.ID{}, false)
				}
			case ir.IDs:
				if kept := ref.Minus(ids); len(kept) != len(ref) {
					s.cache.Set(f, holder, kept, false)
				}
			}
		}
	}
	s.logger.Debug("unlinked", "model", m.Name, "records", len(ids), "persisted", len(persisted))
	return nil
}
