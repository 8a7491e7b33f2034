package depgraph

import (
	"slices"
	"strings"

	"github.com/roach88/recfield/internal/field"
	"github.com/roach88/recfield/internal/ir"
)

// Schema gives the resolver access to the declared fields of every model.
type Schema interface {
	// Field looks up a field by model and name.
	Field(model, name string) (*field.Field, bool)

	// Inverses returns the fields registered as inverses of f.
	Inverses(f *field.Field) []*field.Field

	// Fields returns every field of every model, in a stable order.
	Fields() []*field.Field
}

// Chain is an ordered list of fields, from a field of the declaring model
// to the leaf field read by the derivation.
type Chain []*field.Field

// Leaf returns the last field of the chain.
func (c Chain) Leaf() *field.Field {
	return c[len(c)-1]
}

// String renders the chain as a dotted path of qualified names.
func (c Chain) String() string {
	names := make([]string, len(c))
	for n, f := range c {
		names[n] = f.FullName()
	}
	return strings.Join(names, " > ")
}

// Paths returns the dependency paths of f: its related path, if any,
// followed by its explicit dependencies.
func Paths(f *field.Field) []string {
	var paths []string
	if len(f.Related) > 0 {
		paths = append(paths, strings.Join(f.Related, "."))
	}
	for _, dep := range f.Depends {
		if !slices.Contains(paths, dep) {
			paths = append(paths, dep)
		}
	}
	return paths
}

// Resolve expands the dependency paths of f into chains.
//
// Every prefix of a path is a dependency: "line_ids.price" depends on
// line_ids and on line_ids.price. When a chain passes through a collection
// field, the chain ending in each of its inverses is yielded too, so that
// editing the far side invalidates f.
//
// A chain that reaches f again requires f to be marked recursive.
func Resolve(s Schema, f *field.Field) ([]Chain, error) {
	var chains []Chain
	seen := make(map[string]bool)
	yield := func(c Chain) {
		key := c.String()
		if !seen[key] {
			seen[key] = true
			chains = append(chains, slices.Clone(c))
		}
	}

	for _, path := range Paths(f) {
		model := f.Model
		names := strings.Split(path, ".")
		var seq Chain
		for i, name := range names {
			g, ok := s.Field(model, name)
			if !ok {
				return nil, ir.ConfigError(f.Model, f.Name, "dependency %q: model %s has no field %q", path, model, name)
			}
			if g == f {
				if i == 0 {
					return nil, ir.ConfigError(f.Model, f.Name, "dependency %q: field depends on itself", path)
				}
				if !f.Recursive {
					return nil, ir.ConfigError(f.Model, f.Name, "dependency %q: field depends on itself through a relation; declare it recursive", path)
				}
			}

			seq = append(seq, g)
			yield(seq)
			if g.Type.Collection() {
				for _, inv := range s.Inverses(g) {
					yield(append(slices.Clone(seq), inv))
				}
			}

			if i < len(names)-1 {
				if !g.Type.Relational() {
					return nil, ir.ConfigError(f.Model, f.Name, "dependency %q: %s is not a relational field", path, g.FullName())
				}
				model = g.Comodel
			}
		}
	}
	return chains, nil
}
