package model

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/recfield/internal/field"
)

// ComputeFunc derives the values of one or more attributes on every record
// of rs and assigns them with Recordset.Assign.
type ComputeFunc func(ctx context.Context, rs Recordset) error

// InverseFunc writes a derived attribute's assigned value through to the
// attributes it is derived from.
type InverseFunc func(ctx context.Context, rs Recordset) error

// DefaultFunc returns the default value of an attribute for new records.
type DefaultFunc func(ctx context.Context) (any, error)

// SelectionFunc returns the value set of a selection attribute.
type SelectionFunc func() []field.SelectionItem

// DefaultProvider returns record-level defaults for the named attributes.
// Values it returns take precedence over attribute defaults.
type DefaultProvider func(ctx context.Context, m *Model, names []string) (map[string]any, error)

// Funcs is the function table of a record type. Names are those used in
// attribute declarations (compute, inverse, selection_func, default_func).
type Funcs struct {
	Computes        map[string]ComputeFunc
	Inverses        map[string]InverseFunc
	Selections      map[string]SelectionFunc
	Defaults        map[string]DefaultFunc
	DefaultProvider DefaultProvider
}

// merge overlays next on f; entries of next win.
func (f Funcs) merge(next Funcs) Funcs {
	out := Funcs{
		Computes:        mergeTable(f.Computes, next.Computes),
		Inverses:        mergeTable(f.Inverses, next.Inverses),
		Selections:      mergeTable(f.Selections, next.Selections),
		Defaults:        mergeTable(f.Defaults, next.Defaults),
		DefaultProvider: f.DefaultProvider,
	}
	if next.DefaultProvider != nil {
		out.DefaultProvider = next.DefaultProvider
	}
	return out
}

func mergeTable[F any](a, b map[string]F) map[string]F {
	out := make(map[string]F, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// FieldDecl is one attribute declaration of a record type.
type FieldDecl struct {
	Name string `json:"name"`
	field.Decl
}

// Decl declares a record type, a mixin, or an extension of a record type.
type Decl struct {
	Name    string      `json:"name"`
	Table   string      `json:"table,omitempty"`
	RecName string      `json:"rec_name,omitempty"`
	Inherit []string    `json:"inherit,omitempty"`
	Fields  []FieldDecl `json:"fields,omitempty"`
	Funcs   Funcs       `json:"-"`
}

// Model is a set-up record type.
type Model struct {
	Name    string
	Table   string
	RecName string

	fields map[string]*field.Field
	order  []*field.Field

	computes  map[*field.Field]ComputeFunc
	inverses  map[*field.Field]InverseFunc
	defaults  map[*field.Field]DefaultFunc
	groups    map[*field.Field][]*field.Field
	provider  DefaultProvider
	delegates []*field.Field
}

func newModel(name, table string) *Model {
	return &Model{
		Name:     name,
		Table:    table,
		fields:   make(map[string]*field.Field),
		computes: make(map[*field.Field]ComputeFunc),
		inverses: make(map[*field.Field]InverseFunc),
		defaults: make(map[*field.Field]DefaultFunc),
		groups:   make(map[*field.Field][]*field.Field),
	}
}

func (m *Model) add(f *field.Field) {
	m.fields[f.Name] = f
	m.order = append(m.order, f)
}

// Field returns the attribute called name.
func (m *Model) Field(name string) (*field.Field, bool) {
	f, ok := m.fields[name]
	return f, ok
}

// Fields returns every attribute in declaration order, id first.
func (m *Model) Fields() []*field.Field {
	return slices.Clone(m.order)
}

// ColumnFields returns the attributes persisted in the model's table.
func (m *Model) ColumnFields() []*field.Field {
	var out []*field.Field
	for _, f := range m.order {
		if f.HasColumn() && f.Type != field.ID {
			out = append(out, f)
		}
	}
	return out
}

// Delegates returns the delegating single references of the model.
func (m *Model) Delegates() []*field.Field {
	return slices.Clone(m.delegates)
}

// ComputeFunc returns the bound derivation of f.
func (m *Model) ComputeFunc(f *field.Field) (ComputeFunc, bool) {
	fn, ok := m.computes[f]
	return fn, ok
}

// InverseFunc returns the bound inverse of f.
func (m *Model) InverseFunc(f *field.Field) (InverseFunc, bool) {
	fn, ok := m.inverses[f]
	return fn, ok
}

// ComputeGroup returns the attributes computed by the same function as f,
// f included. Computing one of them computes them all.
func (m *Model) ComputeGroup(f *field.Field) []*field.Field {
	if group, ok := m.groups[f]; ok {
		return group
	}
	return []*field.Field{f}
}

// DefaultGet returns default values for the named attributes: literal
// defaults, then default functions, then the record-level provider.
// Attributes without any default are absent from the result.
func (m *Model) DefaultGet(ctx context.Context, names []string) (map[string]any, error) {
	out := make(map[string]any)
	for _, name := range names {
		f, ok := m.fields[name]
		if !ok {
			continue
		}
		if fn, ok := m.defaults[f]; ok {
			v, err := fn(ctx)
			if err != nil {
				return nil, fmt.Errorf("default of %s: %w", f.FullName(), err)
			}
			out[name] = v
		} else if f.Default != nil {
			out[name] = f.Default
		}
	}
	if m.provider != nil {
		values, err := m.provider(ctx, m, names)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			if v, ok := values[name]; ok {
				out[name] = v
			}
		}
	}
	return out, nil
}

// HasDefaultProvider reports whether a record-level provider is bound.
func (m *Model) HasDefaultProvider() bool {
	return m.provider != nil
}
