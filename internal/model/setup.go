package model

import (
	"slices"
	"sort"
	"strings"

	"github.com/roach88/recfield/internal/depgraph"
	"github.com/roach88/recfield/internal/field"
	"github.com/roach88/recfield/internal/ir"
	"github.com/roach88/recfield/internal/queryir"
)

// setup runs the setup phases in order. Each phase sees the results of
// the previous ones for every record type.
func (r *Registry) setup() error {
	r.models = make(map[string]*Model, len(r.order))
	r.inverses = make(map[*field.Field][]*field.Field)
	r.referencing = make(map[string][]*field.Field)

	for ext := range r.extensions {
		if _, ok := r.decls[ext]; !ok {
			return ir.ConfigError(ext, "", "extension of an undeclared record type")
		}
	}

	funcs := make(map[string]Funcs, len(r.order))
	for _, name := range r.order {
		m, fn, err := r.mergeModel(name)
		if err != nil {
			return err
		}
		r.models[name] = m
		funcs[name] = fn
	}

	state := make(map[string]int)
	for _, name := range r.order {
		if err := r.setupDelegation(r.models[name], state); err != nil {
			return err
		}
	}

	for _, name := range r.order {
		for _, f := range r.models[name].order {
			if err := r.resolveRelated(f, map[*field.Field]bool{}); err != nil {
				return err
			}
		}
	}

	for _, name := range r.order {
		if err := r.checkModel(r.models[name]); err != nil {
			return err
		}
	}

	r.registerInverses()

	for _, name := range r.order {
		if err := r.bindFuncs(r.models[name], funcs[name]); err != nil {
			return err
		}
	}

	triggers, err := depgraph.Build(r)
	if err != nil {
		return err
	}
	r.triggers = triggers
	return nil
}

// mixinChain expands the mixins of d depth-first, each mixin once.
func (r *Registry) mixinChain(d Decl, seen map[string]bool, out *[]Decl) error {
	for _, name := range d.Inherit {
		if seen[name] {
			continue
		}
		seen[name] = true
		mixin, ok := r.mixins[name]
		if !ok {
			return ir.ConfigError(d.Name, "", "unknown mixin %q", name)
		}
		if err := r.mixinChain(mixin, seen, out); err != nil {
			return err
		}
		*out = append(*out, mixin)
	}
	return nil
}

// mergeModel folds every declaration of a record type into fresh field
// descriptors and merges its function tables.
func (r *Registry) mergeModel(name string) (*Model, Funcs, error) {
	base := r.decls[name]
	var parts []Decl
	if err := r.mixinChain(base, map[string]bool{}, &parts); err != nil {
		return nil, Funcs{}, err
	}
	parts = append(parts, base)
	for _, ext := range r.extensions[name] {
		if err := r.mixinChain(ext, map[string]bool{}, &parts); err != nil {
			return nil, Funcs{}, err
		}
		parts = append(parts, ext)
	}

	table := strings.ReplaceAll(name, ".", "_")
	var recName string
	var funcs Funcs
	names := []string{"id"}
	decls := map[string][]field.Decl{"id": {{Type: field.ID, String: "ID"}}}
	for _, part := range parts {
		if part.Table != "" {
			table = part.Table
		}
		if part.RecName != "" {
			recName = part.RecName
		}
		funcs = funcs.merge(part.Funcs)
		for _, fd := range part.Fields {
			if fd.Name == "" {
				return nil, Funcs{}, ir.ConfigError(name, "", "attribute declaration without a name")
			}
			if _, ok := decls[fd.Name]; !ok {
				names = append(names, fd.Name)
			}
			decls[fd.Name] = append(decls[fd.Name], fd.Decl)
		}
	}
	for _, bound := range r.bound[name] {
		funcs = funcs.merge(bound)
	}
	if !queryir.ValidIdent(table) {
		return nil, Funcs{}, ir.ConfigError(name, "", "invalid table name %q", table)
	}

	m := newModel(name, table)
	m.provider = funcs.DefaultProvider
	for _, fname := range names {
		if !queryir.ValidIdent(fname) {
			return nil, Funcs{}, ir.ConfigError(name, fname, "invalid attribute name")
		}
		f, err := field.Merge(name, fname, decls[fname]...)
		if err != nil {
			return nil, Funcs{}, err
		}
		if fname == "id" && f.Type != field.ID {
			return nil, Funcs{}, ir.ConfigError(name, fname, "the id attribute cannot be redeclared as %s", f.Type)
		}
		if f.SelectionFunc != "" {
			fn, ok := funcs.Selections[f.SelectionFunc]
			if !ok {
				return nil, Funcs{}, ir.ConfigError(name, fname, "unknown selection function %q", f.SelectionFunc)
			}
			f.Selection = slices.Clone(fn())
		}
		m.add(f)
	}
	if recName == "" {
		if _, ok := m.fields["name"]; ok {
			recName = "name"
		}
	}
	if recName != "" {
		if _, ok := m.fields[recName]; !ok {
			return nil, Funcs{}, ir.ConfigError(name, recName, "rec_name names an unknown attribute")
		}
	}
	m.RecName = recName
	return m, funcs, nil
}

const (
	unvisited = iota
	visiting
	visited
)

// setupDelegation adds, for every delegating single reference, a related
// attribute per attribute of the delegate type that the record type does
// not declare itself. Delegate types are set up first.
func (r *Registry) setupDelegation(m *Model, state map[string]int) error {
	switch state[m.Name] {
	case visited:
		return nil
	case visiting:
		return ir.ConfigError(m.Name, "", "delegation cycle")
	}
	state[m.Name] = visiting

	for _, f := range slices.Clone(m.order) {
		if !f.Delegate {
			continue
		}
		if f.Type != field.Many2one {
			return ir.ConfigError(m.Name, f.Name, "only single references can delegate")
		}
		parent, ok := r.models[f.Comodel]
		if !ok {
			return ir.ConfigError(m.Name, f.Name, "unknown comodel %q", f.Comodel)
		}
		if err := r.setupDelegation(parent, state); err != nil {
			return err
		}
		m.delegates = append(m.delegates, f)
		for _, pf := range parent.order {
			if pf.Type == field.ID {
				continue
			}
			if _, own := m.fields[pf.Name]; own {
				continue
			}
			inherited, err := field.Merge(m.Name, pf.Name, field.Decl{
				Type:     pf.Type,
				String:   pf.Label,
				Related:  f.Name + "." + pf.Name,
				Readonly: field.Bool(false),
			})
			if err != nil {
				return err
			}
			inherited.Inherited = true
			m.add(inherited)
		}
	}
	state[m.Name] = visited
	return nil
}

// resolveRelated checks the path of a related attribute and copies the
// target's relational and presentation parameters onto it. A type
// mismatch with the target is a configuration error.
func (r *Registry) resolveRelated(f *field.Field, seen map[*field.Field]bool) error {
	if len(f.Related) == 0 {
		return nil
	}
	if seen[f] {
		return ir.ConfigError(f.Model, f.Name, "related path %q loops", strings.Join(f.Related, "."))
	}
	seen[f] = true
	defer delete(seen, f)

	path := strings.Join(f.Related, ".")
	model := f.Model
	var target *field.Field
	for n, name := range f.Related {
		g, ok := r.Field(model, name)
		if !ok {
			return ir.ConfigError(f.Model, f.Name, "related path %q: %s has no attribute %q", path, model, name)
		}
		if err := r.resolveRelated(g, seen); err != nil {
			return err
		}
		if n < len(f.Related)-1 {
			if !g.Type.Relational() {
				return ir.ConfigError(f.Model, f.Name, "related path %q: %s is not relational", path, g.FullName())
			}
			model = g.Comodel
		}
		target = g
	}
	if target.Type != f.Type {
		return ir.ConfigError(f.Model, f.Name, "related attribute is %s but its target %s is %s", f.Type, target.FullName(), target.Type)
	}
	if f.Comodel == "" {
		f.Comodel = target.Comodel
	}
	if f.ModelField == "" {
		f.ModelField = target.ModelField
	}
	if len(f.Selection) == 0 {
		f.Selection = slices.Clone(target.Selection)
	}
	if f.Digits == 0 {
		f.Digits = target.Digits
	}
	if f.Size == 0 {
		f.Size = target.Size
	}
	if f.Label == "" {
		f.Label = target.Label
	}
	return nil
}

// checkModel validates every attribute and the invariants that involve
// other record types.
func (r *Registry) checkModel(m *Model) error {
	for _, f := range m.order {
		if err := f.Validate(); err != nil {
			return err
		}
		if f.Type.Relational() {
			if _, ok := r.models[f.Comodel]; !ok {
				return ir.ConfigError(m.Name, f.Name, "unknown comodel %q", f.Comodel)
			}
		}
		if f.Type.Collection() && f.Computed() && f.Store {
			return ir.ConfigError(m.Name, f.Name, "derived collections cannot be stored")
		}
		switch f.Type {
		case field.One2many:
			if len(f.Related) > 0 {
				continue
			}
			inv, ok := r.Field(f.Comodel, f.InverseName)
			if !ok {
				return ir.ConfigError(m.Name, f.Name, "inverse %q does not exist on %s", f.InverseName, f.Comodel)
			}
			switch {
			case inv.Type == field.Many2one && inv.Comodel == m.Name:
			case inv.Type == field.Many2oneReference:
			default:
				return ir.ConfigError(m.Name, f.Name, "inverse %s must be a single reference to %s", inv.FullName(), m.Name)
			}
		case field.Many2many:
			if len(f.Related) > 0 {
				continue
			}
			if err := r.setupRelation(m, f); err != nil {
				return err
			}
		case field.Many2oneReference:
			mf, ok := m.fields[f.ModelField]
			if !ok || (mf.Type != field.Char && mf.Type != field.Selection) {
				return ir.ConfigError(m.Name, f.Name, "model_field %q must name a char or selection attribute", f.ModelField)
			}
		case field.Many2one:
			if f.Store && !f.Computed() {
				r.referencing[f.Comodel] = append(r.referencing[f.Comodel], f)
			}
		}
	}
	return nil
}

// setupRelation fills in the relation table and columns of a many2many.
func (r *Registry) setupRelation(m *Model, f *field.Field) error {
	comodel := r.models[f.Comodel]
	if f.Relation == "" {
		tables := []string{m.Table, comodel.Table}
		sort.Strings(tables)
		f.Relation = tables[0] + "_" + tables[1] + "_rel"
	}
	if f.Column1 == "" {
		f.Column1 = m.Table + "_id"
	}
	if f.Column2 == "" {
		f.Column2 = comodel.Table + "_id"
	}
	if f.Column1 == f.Column2 {
		return ir.ConfigError(m.Name, f.Name, "relation %s needs distinct column1 and column2", f.Relation)
	}
	for _, ident := range []string{f.Relation, f.Column1, f.Column2} {
		if !queryir.ValidIdent(ident) {
			return ir.ConfigError(m.Name, f.Name, "invalid relation identifier %q", ident)
		}
	}
	return nil
}

// registerInverses pairs single references with the collections listing
// them, and many2many attributes sharing a relation table.
func (r *Registry) registerInverses() {
	var m2ms []*field.Field
	for _, name := range r.order {
		for _, f := range r.models[name].order {
			if len(f.Related) > 0 {
				continue
			}
			switch f.Type {
			case field.One2many:
				inv, _ := r.Field(f.Comodel, f.InverseName)
				r.inverses[f] = append(r.inverses[f], inv)
				r.inverses[inv] = append(r.inverses[inv], f)
			case field.Many2many:
				m2ms = append(m2ms, f)
			}
		}
	}
	for _, f := range m2ms {
		for _, g := range m2ms {
			if f != g && f.Relation == g.Relation && f.Column1 == g.Column2 && f.Column2 == g.Column1 {
				r.inverses[f] = append(r.inverses[f], g)
			}
		}
	}
}

// bindFuncs resolves the function names of every attribute against the
// merged function table.
func (r *Registry) bindFuncs(m *Model, funcs Funcs) error {
	byCompute := make(map[string][]*field.Field)
	for _, f := range m.order {
		switch {
		case len(f.Related) > 0:
			m.computes[f] = relatedCompute(f)
			m.inverses[f] = relatedInverse(f)
		case f.Compute != "":
			fn, err := r.builtinCompute(m, f)
			if err != nil {
				return err
			}
			if fn == nil {
				bound, ok := funcs.Computes[f.Compute]
				if !ok {
					return ir.ConfigError(m.Name, f.Name, "unknown compute function %q", f.Compute)
				}
				fn = bound
				byCompute[f.Compute] = append(byCompute[f.Compute], f)
			}
			m.computes[f] = fn
		}
		if f.Inverse != "" {
			fn, ok := funcs.Inverses[f.Inverse]
			if !ok {
				return ir.ConfigError(m.Name, f.Name, "unknown inverse function %q", f.Inverse)
			}
			m.inverses[f] = fn
		}
		if f.DefaultFunc != "" {
			fn, ok := funcs.Defaults[f.DefaultFunc]
			if !ok {
				return ir.ConfigError(m.Name, f.Name, "unknown default function %q", f.DefaultFunc)
			}
			m.defaults[f] = fn
		}
	}
	for name, group := range byCompute {
		if len(group) < 2 {
			continue
		}
		for _, f := range group[1:] {
			if f.Store != group[0].Store {
				return ir.ConfigError(m.Name, f.Name, "attributes computed by %q must all be stored or all be virtual", name)
			}
		}
		for _, f := range group {
			m.groups[f] = group
		}
	}
	return nil
}
