package env

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/recfield/internal/field"
	"github.com/roach88/recfield/internal/ir"
	"github.com/roach88/recfield/internal/recompute"
	"github.com/roach88/recfield/internal/store"
)

// Recompute drains the Pending-Recompute sets of fields, or of every
// attribute when none is given. Values are left dirty in the cache; Flush
// writes them. Recomputation that keeps re-marking attributes fails once
// the pass limit is reached.
func (e *Env) Recompute(ctx context.Context, fields ...*field.Field) error {
	s := e.s
	quota := recompute.NewQuota(s.maxPasses)
	for {
		pending := slices.DeleteFunc(s.tracker.Fields(), func(f *field.Field) bool {
			if len(fields) > 0 && !slices.Contains(fields, f) {
				return true
			}
			// records being computed stay pending until their computation ends
			return !slices.ContainsFunc(s.tracker.IDs(f), func(id ir.ID) bool { return !s.tracker.Protected(f, id) })
		})
		if len(pending) == 0 {
			return nil
		}
		if err := quota.Check(s.id); err != nil {
			return e.annotate(err)
		}
		for _, f := range pending {
			if err := e.recomputeField(ctx, f); err != nil {
				return e.annotate(err)
			}
		}
	}
}

// recomputeField computes the pending records of f in batches. A batch
// failing on access or a missing record is computed record by record.
func (e *Env) recomputeField(ctx context.Context, f *field.Field) error {
	s := e.s
	m, err := e.model(f.Model)
	if err != nil {
		return err
	}
	ids := s.tracker.IDs(f).Filter(func(id ir.ID) bool { return !s.tracker.Protected(f, id) })
	if len(ids) == 0 {
		return nil
	}
	rs := e.Sudo().browse(m, ids, nil)
	size := s.prefetchMax
	if f.Recursive {
		size = 1
	}
	for start := 0; start < len(ids); start += size {
		batch := ids[start:min(start+size, len(ids))].Filter(func(id ir.ID) bool { return s.tracker.Pending(f, id) })
		if len(batch) == 0 {
			continue
		}
		err := e.compute(ctx, rs.with(batch), f)
		if err == nil {
			continue
		}
		if len(batch) == 1 || !ir.IsRetryable(err) {
			return err
		}
		s.logger.Debug("batch recomputation failed, retrying record by record", "field", f.FullName(), "batch", len(batch), "error", err)
		for _, id := range batch {
			if err := e.compute(ctx, rs.with(ir.IDs{id}), f); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush recomputes every pending attribute, then writes the dirty values
// of persisted records, one storage call per record type.
func (e *Env) Flush(ctx context.Context) error {
	s := e.s
	if err := e.Recompute(ctx); err != nil {
		return err
	}

	byModel := make(map[string][]*field.Field)
	for _, f := range s.cache.DirtyFields() {
		byModel[f.Model] = append(byModel[f.Model], f)
	}
	for _, name := range ir.SortedKeys(byModel) {
		m, err := e.model(name)
		if err != nil {
			return err
		}
		values := make(map[ir.ID]map[string]any)
		for _, f := range byModel[name] {
			for _, id := range s.cache.Dirty(f) {
				if !id.Persisted() {
					continue
				}
				v, _ := s.cache.Get(f, id)
				col, err := f.ConvertToColumn(v)
				if err != nil {
					return e.annotate(err)
				}
				if values[id] == nil {
					values[id] = make(map[string]any)
				}
				values[id][f.Name] = col
			}
		}
		if len(values) == 0 {
			continue
		}
		ids := make(ir.IDs, 0, len(values))
		for id := range values {
			ids = append(ids, id)
		}
		ids = ids.Sorted()
		writes := make([]store.Write, len(ids))
		for n, id := range ids {
			writes[n] = store.Write{ID: id.Int(), Values: values[id]}
		}
		if err := s.storage.Update(ctx, m.Table, writes); err != nil {
			return fmt.Errorf("flush %s: %w", m.Name, err)
		}
		for _, f := range byModel[name] {
			s.cache.ClearDirty(f, ids)
		}
		s.logger.Debug("flushed", "model", m.Name, "records", len(ids))
	}
	return nil
}
