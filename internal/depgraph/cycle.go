package depgraph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/recfield/internal/field"
)

// CycleWarning reports derived fields that depend on each other.
//
// Cycles between distinct fields are warnings, not errors: they terminate
// when the data is acyclic, which only the data can tell. A field reaching
// itself must be declared recursive, which Resolve enforces.
type CycleWarning struct {
	Path    []string `json:"path"`
	Message string   `json:"message"`
	Level   string   `json:"level"`
}

// graph maps a qualified field name to the fields its derivation reads.
type graph map[string][]string

// AnalyzeCycles finds strongly connected components of the field
// dependency graph with Tarjan's algorithm and reports each component of
// more than one field. A schema without cycles returns an empty list.
func AnalyzeCycles(s Schema) ([]CycleWarning, error) {
	g := make(graph)
	for _, target := range s.Fields() {
		chains, err := Resolve(s, target)
		if err != nil {
			return nil, err
		}
		name := target.FullName()
		if g[name] == nil {
			g[name] = []string{}
		}
		for _, chain := range chains {
			for _, f := range chain {
				if f != target && !slices.Contains(g[name], f.FullName()) {
					g[name] = append(g[name], f.FullName())
				}
			}
		}
	}

	warnings := []CycleWarning{}
	for _, scc := range tarjanSCC(g) {
		if len(scc) < 2 {
			continue
		}
		path := reconstructCyclePath(scc, g)
		warnings = append(warnings, CycleWarning{
			Path:    path,
			Message: fmt.Sprintf("fields depend on each other: %s", strings.Join(path, " -> ")),
			Level:   "warning",
		})
	}
	slices.SortFunc(warnings, func(a, b CycleWarning) int {
		return strings.Compare(a.Path[0], b.Path[0])
	})
	return warnings, nil
}

// tarjanSCC returns the strongly connected components of g. Nodes are
// visited in sorted order so the result is deterministic.
func tarjanSCC(g graph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			slices.Sort(scc)
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(g))
	for node := range g {
		nodes = append(nodes, node)
	}
	slices.Sort(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

// reconstructCyclePath follows edges inside the component from its first
// member until it returns to it.
func reconstructCyclePath(scc []string, g graph) []string {
	members := make(map[string]bool, len(scc))
	for _, node := range scc {
		members[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)
	for {
		visited[current] = true
		next := ""
		for _, w := range g[current] {
			if members[w] && (!visited[w] || w == start) {
				next = w
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}

// Dependents returns the qualified names of the fields whose derivation
// reads f, directly or through a relation.
func Dependents(t Triggers, f *field.Field) []string {
	var names []string
	for _, trig := range t.For(f) {
		if !slices.Contains(names, trig.Target.FullName()) {
			names = append(names, trig.Target.FullName())
		}
	}
	return names
}
