package depgraph

import (
	"slices"
	"strings"

	"github.com/roach88/recfield/internal/field"
)

// Trigger says: when the field it is registered on changes on some
// records, walk Path backwards from those records and invalidate Target
// on the records reached. An empty path targets the modified records.
type Trigger struct {
	Path   []*field.Field
	Target *field.Field
}

// String renders the trigger for diagnostics.
func (t Trigger) String() string {
	if len(t.Path) == 0 {
		return t.Target.FullName()
	}
	names := make([]string, len(t.Path))
	for n, f := range t.Path {
		names[n] = f.FullName()
	}
	return t.Target.FullName() + " via " + strings.Join(names, " < ")
}

// Triggers maps every field to the triggers its modification fires.
type Triggers map[*field.Field][]Trigger

// For returns the triggers fired by a modification of f.
func (t Triggers) For(f *field.Field) []Trigger {
	return t[f]
}

// Build resolves every derived field of the schema and inverts the chains.
func Build(s Schema) (Triggers, error) {
	triggers := make(Triggers)
	seen := make(map[string]bool)

	for _, target := range s.Fields() {
		chains, err := Resolve(s, target)
		if err != nil {
			return nil, err
		}
		for _, chain := range chains {
			leaf := chain.Leaf()
			path := slices.Clone(chain[:len(chain)-1])
			slices.Reverse(path)

			t := Trigger{Path: path, Target: target}
			key := leaf.FullName() + "|" + t.String()
			if seen[key] {
				continue
			}
			seen[key] = true
			triggers[leaf] = append(triggers[leaf], t)
		}
	}

	for leaf := range triggers {
		slices.SortStableFunc(triggers[leaf], func(a, b Trigger) int {
			if c := strings.Compare(a.Target.FullName(), b.Target.FullName()); c != 0 {
				return c
			}
			return len(a.Path) - len(b.Path)
		})
	}
	return triggers, nil
}
