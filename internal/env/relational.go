package env

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/recfield/internal/field"
	"github.com/roach88/recfield/internal/ir"
	"github.com/roach88/recfield/internal/store"
)

// updateInverses keeps the cached one2many lists that mirror the single
// reference f consistent after id moved from prev to next. A cached list of
// the previous target loses id; the list of the next target gains it when
// it is cached, or is created when the target is transient.
func (e *Env) updateInverses(f *field.Field, id, prev, next ir.ID) {
	s := e.s
	for _, g := range s.reg.Inverses(f) {
		if g.Type != field.One2many {
			continue
		}
		if !prev.IsZero() {
			if cur, ok := s.cache.Get(g, prev); ok {
				s.cache.Set(g, prev, cur.(ir.IDs).Minus(ir.IDs{id}), false)
			}
		}
		if next.IsZero() {
			continue
		}
		cur, ok := s.cache.Get(g, next)
		switch {
		case ok && !cur.(ir.IDs).Contains(id):
			s.cache.Set(g, next, append(slices.Clone(cur.(ir.IDs)), id), false)
		case !ok && !next.Persisted():
			s.cache.Set(g, next, ir.IDs{id}, false)
		}
	}
}

// referenceMove is a record whose many2one_reference changes owner.
type referenceMove struct {
	id       ir.ID
	from, to referenceTarget
}

// referenceTarget is the owner a many2one_reference points to. The id is
// zero when it points nowhere.
type referenceTarget struct {
	model string
	id    int64
}

func (e *Env) referenceTarget(ctx context.Context, rs *Recordset, f *field.Field, id ir.ID) (referenceTarget, error) {
	n, err := e.get(ctx, rs, f, id)
	if err != nil {
		return referenceTarget{}, err
	}
	name, err := e.get(ctx, rs, mustField(rs, f.ModelField), id)
	if err != nil {
		return referenceTarget{}, err
	}
	model, _ := name.(string)
	ref, _ := n.(int64)
	return referenceTarget{model: model, id: ref}, nil
}

// referenceMoves lists, per many2one_reference of rs mirrored by a
// one2many, the records that values move to another owner. The id and the
// model name are taken together, whatever order they are written in.
func (e *Env) referenceMoves(ctx context.Context, rs *Recordset, values map[string]any) (map[*field.Field][]referenceMove, error) {
	if len(rs.ids) == 0 {
		return nil, nil
	}
	var out map[*field.Field][]referenceMove
	for _, f := range rs.model.Fields() {
		if f.Type != field.Many2oneReference || len(e.s.reg.Inverses(f)) == 0 {
			continue
		}
		idValue, idGiven := values[f.Name]
		modelValue, modelGiven := values[f.ModelField]
		if !idGiven && !modelGiven {
			continue
		}
		var next referenceTarget
		if idGiven {
			v, err := f.ConvertToCache(ctx, rs.ids[0], idValue, e.resolver())
			if err != nil {
				return nil, err
			}
			next.id = v.(int64)
		}
		if modelGiven {
			mf := mustField(rs, f.ModelField)
			v, err := mf.ConvertToCache(ctx, rs.ids[0], modelValue, e.resolver())
			if err != nil {
				return nil, err
			}
			next.model, _ = v.(string)
		}
		for _, id := range rs.ids {
			prev, err := e.referenceTarget(ctx, rs, f, id)
			if err != nil {
				return nil, err
			}
			to := prev
			if idGiven {
				to.id = next.id
			}
			if modelGiven {
				to.model = next.model
			}
			if to == prev {
				continue
			}
			if out == nil {
				out = make(map[*field.Field][]referenceMove)
			}
			out[f] = append(out[f], referenceMove{id: id, from: prev, to: to})
		}
	}
	return out, nil
}

// dropReferenceInverses drops the cached one2many of owner mirroring the
// many2one_reference f. It is rebuilt from storage on the next read.
func (e *Env) dropReferenceInverses(f *field.Field, owner referenceTarget) {
	if owner.id == 0 {
		return
	}
	for _, g := range e.s.reg.Inverses(f) {
		if g.Type == field.One2many && g.Model == owner.model {
			e.s.cache.Invalidate(g, ir.IDs{ir.NewID(owner.id)})
		}
	}
}

func mustField(rs *Recordset, name string) *field.Field {
	f, ok := rs.model.Field(name)
	if !ok {
		panic(fmt.Sprintf("%s has no attribute %q", rs.model.Name, name))
	}
	return f
}

// writeCached edits a collection in cache only: transient owners, and
// derived or virtual collections. One2many edits are routed through the
// inverse reference of the targets.
func (e *Env) writeCached(ctx context.Context, rs *Recordset, f *field.Field, owner ir.ID, value any) error {
	s := e.s
	old, err := e.get(ctx, rs, f, owner)
	if err != nil {
		return err
	}
	nv, err := f.ConvertToCache(ctx, owner, value, e.resolver())
	if err != nil {
		return err
	}
	oldIDs, newIDs := old.(ir.IDs), nv.(ir.IDs)
	if f.Equal(oldIDs, newIDs) {
		return nil
	}

	switch {
	case f.Type == field.One2many && !f.Computed():
		comodel, err := e.model(f.Comodel)
		if err != nil {
			return err
		}
		if inv, _ := comodel.Field(f.InverseName); inv.Type == field.Many2one {
			if removed := oldIDs.Minus(newIDs); len(removed) > 0 {
				if err := e.writeValue(ctx, e.browse(comodel, removed, nil), inv, nil); err != nil {
					return err
				}
			}
			if added := newIDs.Minus(oldIDs); len(added) > 0 {
				if err := e.writeValue(ctx, e.browse(comodel, added, nil), inv, owner); err != nil {
					return err
				}
			}
		}
		s.cache.Set(f, owner, newIDs, false)
		return e.modified(ctx, f, ir.IDs{owner})

	case f.Type == field.Many2many && !f.Computed():
		s.cache.Set(f, owner, newIDs, false)
		added, removed := newIDs.Minus(oldIDs), oldIDs.Minus(newIDs)
		corecords := append(slices.Clone(added), removed...)
		for _, inv := range s.reg.Inverses(f) {
			for _, y := range added {
				cur, ok := s.cache.Get(inv, y)
				switch {
				case ok && !cur.(ir.IDs).Contains(owner):
					s.cache.Set(inv, y, append(slices.Clone(cur.(ir.IDs)), owner), false)
				case !ok && !y.Persisted():
					s.cache.Set(inv, y, ir.IDs{owner}, false)
				}
			}
			for _, y := range removed {
				if cur, ok := s.cache.Get(inv, y); ok {
					s.cache.Set(inv, y, cur.(ir.IDs).Minus(ir.IDs{owner}), false)
				}
			}
		}
		if err := e.modified(ctx, f, ir.IDs{owner}); err != nil {
			return err
		}
		for _, inv := range s.reg.Inverses(f) {
			if err := e.modified(ctx, inv, corecords); err != nil {
				return err
			}
		}
		return nil
	}

	s.cache.Set(f, owner, newIDs, false)
	return e.modified(ctx, f, ir.IDs{owner})
}

// writeOne2many edits the one2many f of persisted owners. The targets are
// edited through their inverse reference in three passes, in order:
// deletions, creations, then re-parenting.
func (e *Env) writeOne2many(ctx context.Context, owners *Recordset, f *field.Field, value any) error {
	cmds, err := e.commands(ctx, f, value)
	if err != nil {
		return err
	}
	comodel, err := e.model(f.Comodel)
	if err != nil {
		return err
	}
	inv, _ := comodel.Field(f.InverseName)
	last := owners.ids[len(owners.ids)-1]

	var (
		toDelete ir.IDs
		toCreate []map[string]any
		toLink   ir.IDs
		changed  bool
	)
	attach := func(owner ir.ID) map[string]any {
		if inv.Type == field.Many2oneReference {
			return map[string]any{inv.Name: owner.Int(), inv.ModelField: owners.model.Name}
		}
		return map[string]any{inv.Name: owner}
	}
	attached := func(lines *Recordset, line, owner ir.ID) (bool, error) {
		v, err := e.get(ctx, lines, inv, line)
		if err != nil {
			return false, err
		}
		switch ref := v.(type) {
		case ir.ID:
			return ref == owner, nil
		case int64:
			if ref != owner.Int() {
				return false, nil
			}
			target, err := e.get(ctx, lines, mustField(lines, inv.ModelField), line)
			return target == owners.model.Name, err
		}
		return false, nil
	}
	detach := func(lines ir.IDs) error {
		if len(lines) == 0 {
			return nil
		}
		changed = true
		if inv.OnDelete == field.OnDeleteCascade {
			toDelete = append(toDelete, lines...)
			return nil
		}
		return e.writeFields(ctx, e.browse(comodel, lines, nil), map[string]any{inv.Name: nil})
	}
	flush := func() error {
		if len(toDelete) > 0 {
			doomed := toDelete.Unique()
			toDelete = nil
			changed = true
			if err := e.unlink(ctx, e.browse(comodel, doomed, nil)); err != nil {
				return err
			}
		}
		if len(toCreate) > 0 {
			batch := toCreate
			toCreate = nil
			changed = true
			if _, err := e.create(ctx, comodel, batch); err != nil {
				return err
			}
		}
		if len(toLink) > 0 {
			lines := e.browse(comodel, toLink.Unique(), nil)
			toLink = nil
			var moving ir.IDs
			for _, line := range lines.ids {
				ok, err := attached(lines, line, last)
				if err != nil {
					return err
				}
				if !ok {
					moving = append(moving, line)
				}
			}
			if len(moving) > 0 {
				changed = true
				if err := e.writeFields(ctx, e.browse(comodel, moving, nil), attach(last)); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for _, cmd := range cmds {
		switch cmd.Op {
		case ir.OpCreate:
			for _, owner := range owners.ids {
				values := maps.Clone(cmd.Values)
				if values == nil {
					values = make(map[string]any)
				}
				maps.Copy(values, attach(owner))
				toCreate = append(toCreate, values)
			}
		case ir.OpUpdate:
			changed = true
			if err := e.writeFields(ctx, e.browse(comodel, ir.IDs{cmd.ID}, nil), cmd.Values); err != nil {
				return err
			}
		case ir.OpDelete:
			toDelete = append(toDelete, cmd.ID)
		case ir.OpUnlink:
			if err := detach(ir.IDs{cmd.ID}); err != nil {
				return err
			}
		case ir.OpLink:
			toLink = append(toLink, cmd.ID)
		case ir.OpClear, ir.OpSet:
			if err := flush(); err != nil {
				return err
			}
			for _, owner := range owners.ids {
				cur, err := e.get(ctx, owners, f, owner)
				if err != nil {
					return err
				}
				if err := detach(cur.(ir.IDs).Minus(cmd.IDs)); err != nil {
					return err
				}
			}
			toLink = append(toLink, cmd.IDs...)
		default:
			return ir.ValueError(f.Model, f.Name, cmd.String(), "unknown relation command")
		}
	}
	if err := flush(); err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return e.modified(ctx, f, owners.ids)
}

// writeMany2many edits the many2many f of persisted owners. The relation
// table receives the difference between the old and new contents of every
// owner as one batched insert and one batched delete; a write that changes
// nothing touches neither storage nor the pending sets.
func (e *Env) writeMany2many(ctx context.Context, owners *Recordset, f *field.Field, value any) error {
	s := e.s
	cmds, err := e.commands(ctx, f, value)
	if err != nil {
		return err
	}
	comodel, err := e.model(f.Comodel)
	if err != nil {
		return err
	}

	old := make(map[ir.ID]ir.IDs, len(owners.ids))
	next := make(map[ir.ID]ir.IDs, len(owners.ids))
	for _, owner := range owners.ids {
		v, err := e.get(ctx, owners, f, owner)
		if err != nil {
			return err
		}
		old[owner] = v.(ir.IDs)
		next[owner] = slices.Clone(v.(ir.IDs))
	}
	edit := func(fn func(ir.IDs) ir.IDs) {
		for _, owner := range owners.ids {
			next[owner] = fn(next[owner])
		}
	}

	var toDelete ir.IDs
	for _, cmd := range cmds {
		switch cmd.Op {
		case ir.OpCreate:
			created, err := e.create(ctx, comodel, []map[string]any{cmd.Values})
			if err != nil {
				return err
			}
			edit(func(ids ir.IDs) ir.IDs { return append(ids, created.ids...) })
		case ir.OpUpdate:
			if err := e.writeFields(ctx, e.browse(comodel, ir.IDs{cmd.ID}, nil), cmd.Values); err != nil {
				return err
			}
		case ir.OpDelete:
			toDelete = append(toDelete, cmd.ID)
			edit(func(ids ir.IDs) ir.IDs { return ids.Minus(ir.IDs{cmd.ID}) })
		case ir.OpUnlink:
			edit(func(ids ir.IDs) ir.IDs { return ids.Minus(ir.IDs{cmd.ID}) })
		case ir.OpLink:
			edit(func(ids ir.IDs) ir.IDs { return append(ids, cmd.ID).Unique() })
		case ir.OpClear:
			edit(func(ir.IDs) ir.IDs { return ir.IDs{} })
		case ir.OpSet:
			edit(func(ir.IDs) ir.IDs { return slices.Clone(cmd.IDs).Unique() })
		default:
			return ir.ValueError(f.Model, f.Name, cmd.String(), "unknown relation command")
		}
	}

	var (
		adds, drops []store.Pair
		changed     ir.IDs
		corecords   ir.IDs
		gained      = make(map[ir.ID]ir.IDs)
		lost        = make(map[ir.ID]ir.IDs)
	)
	for _, owner := range owners.ids {
		added, removed := next[owner].Minus(old[owner]), old[owner].Minus(next[owner])
		for _, y := range added {
			if !y.Persisted() {
				return ir.ValueError(f.Model, f.Name, y.String(), "cannot link a transient %s record to a stored record", f.Comodel)
			}
			adds = append(adds, store.Pair{owner.Int(), y.Int()})
			gained[y] = append(gained[y], owner)
		}
		for _, y := range removed {
			drops = append(drops, store.Pair{owner.Int(), y.Int()})
			lost[y] = append(lost[y], owner)
		}
		if len(added) > 0 || len(removed) > 0 {
			changed = append(changed, owner)
			corecords = append(corecords, added...)
			corecords = append(corecords, removed...)
		}
	}

	if len(adds) > 0 {
		if err := s.storage.InsertPairs(ctx, f.Relation, f.Column1, f.Column2, adds); err != nil {
			return fmt.Errorf("write %s: %w", f.FullName(), err)
		}
	}
	if len(drops) > 0 {
		if err := s.storage.DeletePairs(ctx, f.Relation, f.Column1, f.Column2, drops); err != nil {
			return fmt.Errorf("write %s: %w", f.FullName(), err)
		}
	}
	if len(changed) > 0 {
		s.logger.Debug("relation updated",
			"field", f.FullName(),
			"owners", len(changed),
			"added", len(adds),
			"removed", len(drops))
	}

	for _, owner := range changed {
		s.cache.Set(f, owner, next[owner], false)
	}
	corecords = corecords.Unique()
	inverses := s.reg.Inverses(f)
	for _, inv := range inverses {
		for _, y := range corecords {
			cur, ok := s.cache.Get(inv, y)
			if !ok {
				continue
			}
			ids := cur.(ir.IDs).Minus(lost[y])
			for _, owner := range gained[y] {
				if !ids.Contains(owner) {
					ids = append(ids, owner)
				}
			}
			s.cache.Set(inv, y, ids, false)
		}
	}

	if err := e.modified(ctx, f, changed); err != nil {
		return err
	}
	for _, inv := range inverses {
		if err := e.modified(ctx, inv, corecords); err != nil {
			return err
		}
	}
	if len(toDelete) > 0 {
		return e.unlink(ctx, e.browse(comodel, toDelete.Unique(), nil))
	}
	return nil
}
