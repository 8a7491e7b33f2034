package model

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/cockroachdb/apd/v3"

	"github.com/roach88/recfield/internal/field"
	"github.com/roach88/recfield/internal/ir"
)

// Built-in derivations are named "<kind>:<path>" in compute declarations.
const (
	builtinSum     = "sum"
	builtinCount   = "count"
	builtinProduct = "product"
)

// builtinCompute returns the built-in derivation named by f.Compute, or
// nil when the name is not a built-in. The path of a built-in is added to
// the attribute's dependencies.
func (r *Registry) builtinCompute(m *Model, f *field.Field) (ComputeFunc, error) {
	kind, path, ok := strings.Cut(f.Compute, ":")
	if !ok {
		return nil, nil
	}
	if path == "" {
		return nil, ir.ConfigError(m.Name, f.Name, "built-in %q needs a path", kind)
	}
	var fn ComputeFunc
	deps := []string{path}
	switch kind {
	case builtinSum:
		switch f.Type {
		case field.Integer, field.Float, field.Monetary:
		default:
			return nil, ir.ConfigError(m.Name, f.Name, "sum cannot produce a %s value", f.Type)
		}
		fn = sumCompute(f, path)
	case builtinCount:
		if f.Type != field.Integer {
			return nil, ir.ConfigError(m.Name, f.Name, "count produces integers, not %s", f.Type)
		}
		fn = countCompute(f, path)
	case builtinProduct:
		switch f.Type {
		case field.Integer, field.Float, field.Monetary:
		default:
			return nil, ir.ConfigError(m.Name, f.Name, "product cannot produce a %s value", f.Type)
		}
		deps = strings.Split(path, ",")
		for _, name := range deps {
			if strings.Contains(name, ".") {
				return nil, ir.ConfigError(m.Name, f.Name, "product operands are attributes of the record, got %q", name)
			}
		}
		fn = productCompute(f, deps)
	default:
		return nil, ir.ConfigError(m.Name, f.Name, "unknown built-in derivation %q", kind)
	}
	for _, dep := range deps {
		if !slices.Contains(f.Depends, dep) {
			f.Depends = append(f.Depends, dep)
		}
	}
	return fn, nil
}

// follow walks a relational path from a singleton, taking the first
// record at each collection step.
func follow(ctx context.Context, rec Recordset, path []string) (Recordset, error) {
	cur := rec
	for _, name := range path {
		if cur.Len() == 0 {
			return cur, nil
		}
		next, err := cur.Records()[0].Ref(ctx, name)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// relatedCompute copies the value at the end of the related path.
func relatedCompute(f *field.Field) ComputeFunc {
	steps, leaf := f.Related[:len(f.Related)-1], f.Related[len(f.Related)-1]
	return func(ctx context.Context, rs Recordset) error {
		for _, rec := range rs.Records() {
			target, err := follow(ctx, rec, steps)
			if err != nil {
				return err
			}
			value := f.Zero()
			if target.Len() > 0 {
				value, err = target.Records()[0].Get(ctx, leaf)
				if err != nil {
					return err
				}
			}
			if err := rec.Assign(ctx, f.Name, value); err != nil {
				return err
			}
		}
		return nil
	}
}

// relatedInverse writes the assigned value on the record at the end of
// the related path. Records whose path is empty are skipped.
func relatedInverse(f *field.Field) InverseFunc {
	steps, leaf := f.Related[:len(f.Related)-1], f.Related[len(f.Related)-1]
	return func(ctx context.Context, rs Recordset) error {
		for _, rec := range rs.Records() {
			value, err := rec.Get(ctx, f.Name)
			if err != nil {
				return err
			}
			target, err := follow(ctx, rec, steps)
			if err != nil {
				return err
			}
			if target.Len() == 0 {
				continue
			}
			if err := target.Records()[0].Write(ctx, map[string]any{leaf: value}); err != nil {
				return err
			}
		}
		return nil
	}
}

func sumCompute(f *field.Field, path string) ComputeFunc {
	return func(ctx context.Context, rs Recordset) error {
		for _, rec := range rs.Records() {
			values, err := rec.Mapped(ctx, path)
			if err != nil {
				return err
			}
			var total any
			switch f.Type {
			case field.Integer:
				var n int64
				for _, v := range values {
					n += Int(v)
				}
				total = n
			case field.Float:
				var x float64
				for _, v := range values {
					x += Float(v)
				}
				total = x
			case field.Monetary:
				d := apd.New(0, 0)
				for _, v := range values {
					if _, err := apd.BaseContext.WithPrecision(34).Add(d, d, Decimal(v)); err != nil {
						return fmt.Errorf("sum %s: %w", f.FullName(), err)
					}
				}
				total = d
			}
			if err := rec.Assign(ctx, f.Name, total); err != nil {
				return err
			}
		}
		return nil
	}
}

func countCompute(f *field.Field, path string) ComputeFunc {
	return func(ctx context.Context, rs Recordset) error {
		for _, rec := range rs.Records() {
			values, err := rec.Mapped(ctx, path)
			if err != nil {
				return err
			}
			if err := rec.Assign(ctx, f.Name, int64(len(values))); err != nil {
				return err
			}
		}
		return nil
	}
}

// productCompute multiplies attributes of the same record.
func productCompute(f *field.Field, names []string) ComputeFunc {
	return func(ctx context.Context, rs Recordset) error {
		for _, rec := range rs.Records() {
			values := make([]any, len(names))
			for n, name := range names {
				v, err := rec.Get(ctx, name)
				if err != nil {
					return err
				}
				values[n] = v
			}
			var product any
			switch f.Type {
			case field.Integer:
				p := int64(1)
				for _, v := range values {
					p *= Int(v)
				}
				product = p
			case field.Float:
				p := 1.0
				for _, v := range values {
					p *= Float(v)
				}
				product = p
			case field.Monetary:
				d := apd.New(1, 0)
				for _, v := range values {
					if _, err := apd.BaseContext.WithPrecision(34).Mul(d, d, Decimal(v)); err != nil {
						return fmt.Errorf("product %s: %w", f.FullName(), err)
					}
				}
				product = d
			}
			if err := rec.Assign(ctx, f.Name, product); err != nil {
				return err
			}
		}
		return nil
	}
}
