package env

import (
	"context"
	"fmt"

	"github.com/roach88/recfield/internal/field"
	"github.com/roach88/recfield/internal/ir"
	"github.com/roach88/recfield/internal/queryir"
)

// modified marks stale every attribute depending on f for ids. Stored
// derived attributes of persisted records join the Pending-Recompute set;
// everything else is dropped from the cache. Records whose attribute is
// being computed are skipped. Marking is transitive.
func (e *Env) modified(ctx context.Context, f *field.Field, ids ir.IDs) error {
	if len(ids) == 0 || len(e.s.reg.Triggers(f)) == 0 {
		return nil
	}
	return e.Sudo().propagate(ctx, f, ids, false, make(map[*field.Field]map[ir.ID]bool))
}

// modifiedCreated is modified for records that were just inserted: no
// reference can point at them yet, so paths starting with one are skipped.
func (e *Env) modifiedCreated(ctx context.Context, f *field.Field, ids ir.IDs) error {
	if len(ids) == 0 || len(e.s.reg.Triggers(f)) == 0 {
		return nil
	}
	return e.Sudo().propagate(ctx, f, ids, true, make(map[*field.Field]map[ir.ID]bool))
}

func (e *Env) propagate(ctx context.Context, f *field.Field, ids ir.IDs, created bool, seen map[*field.Field]map[ir.ID]bool) error {
	s := e.s
	for _, t := range s.reg.Triggers(f) {
		if created && len(t.Path) > 0 && (t.Path[0].Type == field.Many2one || t.Path[0].Type == field.Many2many) {
			continue
		}
		recs := ids
		for _, step := range t.Path {
			next, err := e.referrers(ctx, step, recs)
			if err != nil {
				return fmt.Errorf("invalidate %s: %w", t, err)
			}
			recs = next
			if len(recs) == 0 {
				break
			}
		}

		target := t.Target
		if seen[target] == nil {
			seen[target] = make(map[ir.ID]bool)
		}
		var marked ir.IDs
		for _, id := range recs {
			if seen[target][id] || s.tracker.Protected(target, id) {
				continue
			}
			seen[target][id] = true
			marked = append(marked, id)
		}
		if len(marked) == 0 {
			continue
		}

		if target.Store {
			s.tracker.Add(target, marked.Persisted())
			s.cache.Invalidate(target, marked.Transient())
		} else {
			s.cache.Invalidate(target, marked)
		}
		if err := e.propagate(ctx, target, marked, false, seen); err != nil {
			return err
		}
	}
	return nil
}

// referrers returns the records of step's model whose step references one
// of recs.
func (e *Env) referrers(ctx context.Context, step *field.Field, recs ir.IDs) (ir.IDs, error) {
	s := e.s
	m, err := e.model(step.Model)
	if err != nil {
		return nil, err
	}

	switch step.Type {
	case field.Many2one:
		var out ir.IDs
		want := recs.Set()
		if persisted := recs.Persisted(); len(persisted) > 0 && step.HasColumn() {
			rows, err := s.storage.Select(ctx, queryir.Select{
				From:    m.Table,
				Columns: []string{"id"},
				Filter:  queryir.InInt64(step.Name, persisted.Storage()),
			})
			if err != nil {
				return nil, err
			}
			for _, row := range rows {
				id := ir.NewID(row.ID())
				if v, ok := s.cache.Get(step, id); ok {
					// the cached value is newer than the stored one
					if _, held := want[v.(ir.ID)]; !held {
						continue
					}
				}
				out = append(out, id)
			}
		}
		for _, id := range s.cache.Records(step) {
			v, _ := s.cache.Get(step, id)
			if _, ok := want[v.(ir.ID)]; ok {
				out = append(out, id)
			}
		}
		return out.Unique(), nil

	case field.One2many:
		comodel, err := e.model(step.Comodel)
		if err != nil {
			return nil, err
		}
		inv, ok := comodel.Field(step.InverseName)
		if !ok {
			return nil, nil
		}
		lines := e.browse(comodel, recs, nil)
		var out ir.IDs
		for _, line := range recs {
			v, err := e.get(ctx, lines, inv, line)
			if err != nil {
				return nil, err
			}
			switch ref := v.(type) {
			case ir.ID:
				out = append(out, ref)
			case int64:
				if ref == 0 {
					continue
				}
				target, err := e.get(ctx, lines, mustField(lines, inv.ModelField), line)
				if err != nil {
					return nil, err
				}
				if target == step.Model {
					out = append(out, ir.NewID(ref))
				}
			}
		}
		return out.Unique(), nil

	case field.Many2many:
		comodel, err := e.model(step.Comodel)
		if err != nil {
			return nil, err
		}
		if inverses := s.reg.Inverses(step); len(inverses) > 0 {
			inv := inverses[0]
			targets := e.browse(comodel, recs, nil)
			var out ir.IDs
			for _, y := range recs {
				v, err := e.get(ctx, targets, inv, y)
				if err != nil {
					return nil, err
				}
				out = append(out, v.(ir.IDs)...)
			}
			return out.Unique(), nil
		}
		var out ir.IDs
		if persisted := recs.Persisted(); len(persisted) > 0 && step.Store && !step.Computed() {
			rows, err := s.storage.Select(ctx, queryir.Select{
				From:    step.Relation,
				Columns: []string{step.Column1},
				Filter:  queryir.InInt64(step.Column2, persisted.Storage()),
				OrderBy: []string{step.Column1},
			})
			if err != nil {
				return nil, err
			}
			for _, row := range rows {
				owner, _ := row[step.Column1].(int64)
				out = append(out, ir.NewID(owner))
			}
		}
		want := recs.Set()
		for _, owner := range s.cache.Records(step) {
			v, _ := s.cache.Get(step, owner)
			for _, y := range v.(ir.IDs) {
				if _, ok := want[y]; ok {
					out = append(out, owner)
					break
				}
			}
		}
		return out.Unique(), nil
	}
	return nil, nil
}
