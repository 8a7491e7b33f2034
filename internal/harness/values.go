package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/recfield/internal/ir"
)

// refPrefix marks a string value as the name of a bound record.
const refPrefix = "@"

// binding is a record created by a step and named by its "as" key.
type binding struct {
	model string
	id    ir.ID
}

type bindings map[string]binding

func (b bindings) lookup(name string) (binding, error) {
	bound, ok := b[strings.TrimPrefix(name, refPrefix)]
	if !ok {
		return binding{}, fmt.Errorf("unknown record %q", name)
	}
	return bound, nil
}

// records resolves names of bound records of a single model.
func (b bindings) records(names []string) (string, ir.IDs, error) {
	var model string
	ids := make(ir.IDs, 0, len(names))
	for _, name := range names {
		bound, err := b.lookup(name)
		if err != nil {
			return "", nil, err
		}
		if model != "" && bound.model != model {
			return "", nil, fmt.Errorf("records %v mix %s and %s", names, model, bound.model)
		}
		model = bound.model
		ids = append(ids, bound.id)
	}
	return model, ids, nil
}

// values resolves scenario values into write values.
func (b bindings) values(values map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(values))
	for k, v := range values {
		rv, err := b.resolve(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = rv
	}
	return out, nil
}

// resolve replaces "@name" strings by record ids, lists of maps by
// relation commands and nested maps by resolved creation payloads.
func (b bindings) resolve(v any) (any, error) {
	switch val := v.(type) {
	case string:
		if !strings.HasPrefix(val, refPrefix) {
			return val, nil
		}
		bound, err := b.lookup(val)
		if err != nil {
			return nil, err
		}
		return bound.id, nil
	case []any:
		if len(val) > 0 {
			if _, ok := val[0].(map[string]any); ok {
				return b.commands(val)
			}
		}
		out := make([]any, len(val))
		for n, item := range val {
			rv, err := b.resolve(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", n, err)
			}
			out[n] = rv
		}
		return out, nil
	case map[string]any:
		return b.values(val)
	}
	return v, nil
}

// commands converts a list of single-operation maps into relation
// commands:
//
//   - create: {qty: 2}
//   - update: "@line", values: {qty: 3}
//   - delete: "@line"
//   - unlink: "@line"
//   - link: "@line"
//   - clear: true
//   - set: ["@a", "@b"]
func (b bindings) commands(items []any) ([]ir.Command, error) {
	out := make([]ir.Command, len(items))
	for n, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("[%d]: commands cannot be mixed with other values", n)
		}
		cmd, err := b.command(m)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", n, err)
		}
		out[n] = cmd
	}
	return out, nil
}

func (b bindings) command(m map[string]any) (ir.Command, error) {
	var name string
	for k := range m {
		if k == "values" {
			continue
		}
		if name != "" {
			return ir.Command{}, fmt.Errorf("command has both %s and %s", name, k)
		}
		name = k
	}
	op, err := ir.ParseCommandOp(name)
	if err != nil {
		return ir.Command{}, err
	}
	arg := m[name]

	switch op {
	case ir.OpCreate:
		values, ok := arg.(map[string]any)
		if !ok {
			return ir.Command{}, fmt.Errorf("create expects values, got %T", arg)
		}
		resolved, err := b.values(values)
		if err != nil {
			return ir.Command{}, err
		}
		return ir.Create(resolved), nil
	case ir.OpClear:
		return ir.Clear(), nil
	case ir.OpSet:
		list, ok := arg.([]any)
		if !ok {
			return ir.Command{}, fmt.Errorf("set expects a list of records, got %T", arg)
		}
		ids := make(ir.IDs, 0, len(list))
		for _, item := range list {
			id, err := b.ref(item)
			if err != nil {
				return ir.Command{}, err
			}
			ids = append(ids, id)
		}
		return ir.Set(ids...), nil
	}

	id, err := b.ref(arg)
	if err != nil {
		return ir.Command{}, err
	}
	switch op {
	case ir.OpUpdate:
		values, _ := m["values"].(map[string]any)
		resolved, err := b.values(values)
		if err != nil {
			return ir.Command{}, err
		}
		return ir.Update(id, resolved), nil
	case ir.OpDelete:
		return ir.Delete(id), nil
	case ir.OpUnlink:
		return ir.Unlink(id), nil
	default:
		return ir.Link(id), nil
	}
}

// ref resolves a "@name" or a bare storage id.
func (b bindings) ref(v any) (ir.ID, error) {
	switch val := v.(type) {
	case string:
		bound, err := b.lookup(val)
		if err != nil {
			return ir.ID{}, err
		}
		return bound.id, nil
	case int:
		return ir.NewID(int64(val)), nil
	}
	return ir.ID{}, fmt.Errorf("expected a record, got %T", v)
}
