package env

import (
	"context"
	"fmt"

	"github.com/roach88/recfield/internal/access"
	"github.com/roach88/recfield/internal/field"
	"github.com/roach88/recfield/internal/ir"
	"github.com/roach88/recfield/internal/model"
	"github.com/roach88/recfield/internal/queryir"
)

// get returns the cache value of f on id, resolving a miss.
func (e *Env) get(ctx context.Context, rs *Recordset, f *field.Field, id ir.ID) (any, error) {
	s := e.s
	if id.IsZero() {
		return f.Zero(), nil
	}
	if f.Type == field.ID {
		return id, nil
	}
	if f.Computed() && f.Store && s.tracker.Pending(f, id) && !s.tracker.Protected(f, id) {
		batch := ir.IDs{id}
		if !f.Recursive {
			pending := s.tracker.IDs(f).Set()
			batch = e.batch(rs, id, func(other ir.ID) bool {
				_, ok := pending[other]
				return ok && !s.tracker.Protected(f, other)
			})
		}
		if err := e.computeRetry(ctx, rs, f, batch, id); err != nil {
			return nil, err
		}
	}
	if v, ok := s.cache.Get(f, id); ok {
		return v, nil
	}
	if err := e.resolveMiss(ctx, rs, f, id); err != nil {
		return nil, err
	}
	v, ok := s.cache.Get(f, id)
	if !ok {
		v = f.Zero()
		s.cache.Set(f, id, v, false)
	}
	return v, nil
}

// resolveMiss fills the cache for f on id. See the package documentation
// for the order of the branches.
func (e *Env) resolveMiss(ctx context.Context, rs *Recordset, f *field.Field, id ir.ID) error {
	s := e.s
	switch {
	case f.Store && id.Persisted():
		return e.fetch(ctx, rs, f, id)

	case f.Store && id.Origin() != 0 && !(f.Computed() && f.Readonly):
		return e.copyOrigin(ctx, rs, f, id)

	case f.Computed():
		if s.tracker.Protected(f, id) {
			s.cache.Set(f, id, f.Zero(), false)
			return nil
		}
		batch := ir.IDs{id}
		if !f.Recursive {
			batch = e.batch(rs, id, func(other ir.ID) bool {
				if f.Store && other.Persisted() {
					return false
				}
				return !s.cache.Contains(f, other) && !s.tracker.Protected(f, other)
			})
		}
		if err := e.computeRetry(ctx, rs, f, batch, id); err != nil {
			return err
		}
		if s.cache.Contains(f, id) {
			return nil
		}
		return e.defaultValue(ctx, rs, f, id)

	case f.Type == field.Many2one && f.Delegate && !id.Persisted():
		return e.buildParent(ctx, rs, f, id)
	}
	return e.defaultValue(ctx, rs, f, id)
}

// batch returns id followed by the members of the prefetch set accepted
// by keep, up to the prefetch limit.
func (e *Env) batch(rs *Recordset, id ir.ID, keep func(ir.ID) bool) ir.IDs {
	out := ir.IDs{id}
	for _, other := range rs.prefetch.IDs(id) {
		if len(out) >= e.s.prefetchMax {
			break
		}
		if other != id && keep(other) {
			out = append(out, other)
		}
	}
	return out
}

// fetch reads f and the missing columns of the prefetch set from storage.
func (e *Env) fetch(ctx context.Context, rs *Recordset, f *field.Field, id ir.ID) error {
	s := e.s
	batch := e.batch(rs, id, func(other ir.ID) bool {
		return other.Persisted() && !s.cache.Contains(f, other)
	})
	err := e.fetchBatch(ctx, rs.model, f, batch)
	if err != nil && len(batch) > 1 && ir.IsRetryable(err) {
		s.logger.Debug("batch fetch failed, retrying single record",
			"field", f.FullName(),
			"record", id.String(),
			"batch", len(batch),
			"error", err)
		err = e.fetchBatch(ctx, rs.model, f, ir.IDs{id})
	}
	return err
}

func (e *Env) fetchBatch(ctx context.Context, m *model.Model, f *field.Field, ids ir.IDs) error {
	if err := e.check(ctx, access.Read, m, ids); err != nil {
		return err
	}
	switch f.Type {
	case field.One2many:
		return e.fetchOne2many(ctx, m, f, ids)
	case field.Many2many:
		return e.fetchMany2many(ctx, f, ids)
	}
	return e.fetchColumns(ctx, m, ids)
}

// fetchColumns reads every column of the records. Values already cached
// are newer than storage, and stale derived values are left to recompute.
func (e *Env) fetchColumns(ctx context.Context, m *model.Model, ids ir.IDs) error {
	s := e.s
	columns := m.ColumnFields()
	names := make([]string, 0, len(columns)+1)
	names = append(names, "id")
	for _, c := range columns {
		names = append(names, c.Name)
	}
	rows, err := s.storage.Select(ctx, queryir.Select{
		From:    m.Table,
		Columns: names,
		Filter:  queryir.ByIDs(ids.Storage()),
	})
	if err != nil {
		return fmt.Errorf("fetch %s: %w", m.Name, err)
	}

	found := make(map[int64]bool, len(rows))
	for _, row := range rows {
		id := ir.NewID(row.ID())
		found[id.Int()] = true
		for _, c := range columns {
			if s.cache.Contains(c, id) || (c.Computed() && s.tracker.Pending(c, id)) {
				continue
			}
			v, err := c.ConvertFromColumn(row[c.Name])
			if err != nil {
				return fmt.Errorf("fetch %s: %w", m.Name, err)
			}
			s.cache.Set(c, id, v, false)
		}
	}
	for _, id := range ids {
		if !found[id.Int()] {
			return ir.MissingError(m.Name, id)
		}
	}
	s.logger.Debug("fetched", "model", m.Name, "records", len(rows), "columns", len(columns))
	return nil
}

// fetchOne2many lists the records whose inverse reference points at each
// owner. Cached inverse values override storage.
func (e *Env) fetchOne2many(ctx context.Context, m *model.Model, f *field.Field, owners ir.IDs) error {
	s := e.s
	comodel, err := e.model(f.Comodel)
	if err != nil {
		return err
	}
	inv, _ := comodel.Field(f.InverseName)

	var filter queryir.Predicate = queryir.InInt64(inv.Name, owners.Storage())
	if inv.Type == field.Many2oneReference {
		filter = queryir.And{Predicates: []queryir.Predicate{
			filter,
			queryir.Equals{Field: inv.ModelField, Value: m.Name},
		}}
	}
	rows, err := s.storage.Select(ctx, queryir.Select{
		From:    comodel.Table,
		Columns: []string{"id", inv.Name},
		Filter:  filter,
	})
	if err != nil {
		return fmt.Errorf("fetch %s: %w", f.FullName(), err)
	}

	lists := make(map[ir.ID]ir.IDs, len(owners))
	parent := make(map[ir.ID]ir.ID, len(rows))
	for _, row := range rows {
		owner, ok := row[inv.Name].(int64)
		if !ok {
			continue
		}
		child := ir.NewID(row.ID())
		lists[ir.NewID(owner)] = append(lists[ir.NewID(owner)], child)
		parent[child] = ir.NewID(owner)
	}

	// cached references are newer than the stored ones
	wanted := owners.Set()
	modelField, _ := comodel.Field(inv.ModelField)
	for _, child := range s.cache.Records(inv) {
		if !child.Persisted() {
			continue
		}
		v, _ := s.cache.Get(inv, child)
		var target ir.ID
		switch ref := v.(type) {
		case ir.ID:
			target = ref
		case int64:
			name, ok := s.cache.Get(modelField, child)
			if !ok {
				continue
			}
			if ref != 0 && name == m.Name {
				target = ir.NewID(ref)
			}
		}
		if old, ok := parent[child]; ok && old != target {
			lists[old] = lists[old].Minus(ir.IDs{child})
		}
		if _, ok := wanted[target]; ok && !target.IsZero() && !lists[target].Contains(child) {
			lists[target] = append(lists[target], child)
		}
	}

	for _, owner := range owners {
		if s.cache.Contains(f, owner) {
			continue
		}
		ids := lists[owner].Sorted()
		if ids == nil {
			ids = ir.IDs{}
		}
		s.cache.Set(f, owner, ids, false)
	}
	return nil
}

// fetchMany2many reads the relation table rows of the owners.
func (e *Env) fetchMany2many(ctx context.Context, f *field.Field, owners ir.IDs) error {
	s := e.s
	rows, err := s.storage.Select(ctx, queryir.Select{
		From:    f.Relation,
		Columns: []string{f.Column1, f.Column2},
		Filter:  queryir.InInt64(f.Column1, owners.Storage()),
		OrderBy: []string{f.Column1, f.Column2},
	})
	if err != nil {
		return fmt.Errorf("fetch %s: %w", f.FullName(), err)
	}
	lists := make(map[ir.ID]ir.IDs, len(owners))
	for _, row := range rows {
		owner, _ := row[f.Column1].(int64)
		target, _ := row[f.Column2].(int64)
		lists[ir.NewID(owner)] = append(lists[ir.NewID(owner)], ir.NewID(target))
	}
	for _, owner := range owners {
		if s.cache.Contains(f, owner) {
			continue
		}
		ids := lists[owner]
		if ids == nil {
			ids = ir.IDs{}
		}
		s.cache.Set(f, owner, ids, false)
	}
	return nil
}

// copyOrigin caches, for a transient record aligned on a persisted one, the
// value of the origin.
func (e *Env) copyOrigin(ctx context.Context, rs *Recordset, f *field.Field, id ir.ID) error {
	origin := ir.NewID(id.Origin())
	v, err := e.get(ctx, e.browse(rs.model, ir.IDs{origin}, nil), f, origin)
	if err != nil {
		return err
	}
	if f.Type.Collection() {
		ids := v.(ir.IDs)
		aligned := make(ir.IDs, len(ids))
		for n, target := range ids {
			aligned[n] = target.Align()
		}
		v = aligned
	}
	if f.Type == field.Many2one && f.Delegate {
		v = v.(ir.ID).Align()
	}
	e.s.cache.Set(f, id, v, false)
	return nil
}

// buildParent creates the transient parent of a transient delegating
// record from the inherited values cached on the record.
func (e *Env) buildParent(ctx context.Context, rs *Recordset, f *field.Field, id ir.ID) error {
	s := e.s
	values := make(map[string]any)
	for _, g := range rs.model.Fields() {
		if !g.Inherited || len(g.Related) != 2 || g.Related[0] != f.Name {
			continue
		}
		v, ok := s.cache.Get(g, id)
		if !ok {
			continue
		}
		w, err := g.ConvertToWrite(ctx, v, e.resolver())
		if err != nil {
			return err
		}
		values[g.Related[1]] = w
	}
	parent, err := e.NewRecord(ctx, f.Comodel, values)
	if err != nil {
		return err
	}
	s.cache.Set(f, id, parent, false)
	return nil
}

// defaultValue caches the zero value of f, then overrides it with the
// record-level defaults when there are any.
func (e *Env) defaultValue(ctx context.Context, rs *Recordset, f *field.Field, id ir.ID) error {
	s := e.s
	s.cache.Set(f, id, f.Zero(), false)
	if f.Type == field.ID {
		return nil
	}
	defaults, err := rs.model.DefaultGet(ctx, []string{f.Name})
	if err != nil {
		return err
	}
	dv, ok := defaults[f.Name]
	if !ok {
		return nil
	}
	v, err := f.ConvertToCache(ctx, id, dv, e.resolver())
	if err != nil {
		return err
	}
	s.cache.Set(f, id, v, false)
	return nil
}

// computeRetry runs the derivation of f over batch, falling back to id
// alone when the batch hits an access or missing-record failure.
func (e *Env) computeRetry(ctx context.Context, rs *Recordset, f *field.Field, batch ir.IDs, id ir.ID) error {
	err := e.compute(ctx, rs.with(batch), f)
	if err != nil && len(batch) > 1 && ir.IsRetryable(err) {
		e.s.logger.Debug("batch derivation failed, retrying single record",
			"field", f.FullName(),
			"record", id.String(),
			"batch", len(batch),
			"error", err)
		err = e.compute(ctx, rs.with(ir.IDs{id}), f)
	}
	return err
}

// compute runs the derivation of f on recs. The whole compute group is
// drained from the pending sets and guarded while the function runs; on
// failure the drained records are marked pending again.
func (e *Env) compute(ctx context.Context, recs *Recordset, f *field.Field) error {
	s := e.s
	m := recs.model
	fn, ok := m.ComputeFunc(f)
	if !ok {
		return ir.ConfigError(m.Name, f.Name, "no derivation function bound")
	}
	group := m.ComputeGroup(f)

	drained := make(map[*field.Field]ir.IDs)
	for _, g := range group {
		if !g.Store {
			continue
		}
		was := recs.ids.Filter(func(id ir.ID) bool { return s.tracker.Pending(g, id) })
		if len(was) > 0 {
			s.tracker.Remove(g, was)
			drained[g] = was
		}
	}

	// drained values are stale: a derivation that assigns nothing yields zero
	for g, was := range drained {
		for _, id := range was {
			s.cache.Set(g, id, g.Zero(), g.HasColumn() && id.Persisted())
		}
	}

	release := s.tracker.Protect(group, recs.ids)
	err := fn(ctx, recs)
	release()
	if err != nil {
		for g, was := range drained {
			s.cache.Remove(g, was)
			s.tracker.Add(g, was)
		}
		return fmt.Errorf("compute %s: %w", f.FullName(), err)
	}
	s.logger.Debug("computed", "field", f.FullName(), "records", len(recs.ids))
	return nil
}
