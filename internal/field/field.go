package field

import (
	"slices"
	"strings"

	"github.com/roach88/recfield/internal/ir"
)

// Decl is one parameter dictionary for an attribute. The same attribute may
// be declared several times (on a base type, then by mixins or extensions);
// Merge folds the declarations in override order.
//
// Zero values mean "not given". Boolean parameters are pointers so that a
// later declaration can turn a flag off.
type Decl struct {
	Type   Type   `json:"type,omitempty"`
	String string `json:"string,omitempty"`

	Store     *bool `json:"store,omitempty"`
	Required  *bool `json:"required,omitempty"`
	Readonly  *bool `json:"readonly,omitempty"`
	Recursive *bool `json:"recursive,omitempty"`
	Delegate  *bool `json:"delegate,omitempty"`

	Compute string   `json:"compute,omitempty"`
	Inverse string   `json:"inverse,omitempty"`
	Related string   `json:"related,omitempty"`
	Depends []string `json:"depends,omitempty"`

	Comodel     string `json:"comodel,omitempty"`
	InverseName string `json:"inverse_name,omitempty"`
	OnDelete    string `json:"ondelete,omitempty"`
	Relation    string `json:"relation,omitempty"`
	Column1     string `json:"column1,omitempty"`
	Column2     string `json:"column2,omitempty"`
	ModelField  string `json:"model_field,omitempty"`

	Selection         []SelectionItem   `json:"selection,omitempty"`
	SelectionFunc     string            `json:"selection_func,omitempty"`
	SelectionAdd      []SelectionItem   `json:"selection_add,omitempty"`
	SelectionOnDelete map[string]string `json:"selection_ondelete,omitempty"`

	Size        int    `json:"size,omitempty"`
	Digits      int    `json:"digits,omitempty"`
	Default     any    `json:"default,omitempty"`
	DefaultFunc string `json:"default_func,omitempty"`
}

// Bool returns a pointer to b, for the tri-state flags of Decl.
func Bool(b bool) *bool {
	return &b
}

// Field is the immutable descriptor of one attribute of one record type.
// Descriptors are built by Merge and completed by registry setup; they are
// never modified afterwards.
type Field struct {
	Model string
	Name  string
	Type  Type
	Label string

	Store     bool
	Required  bool
	Readonly  bool
	Recursive bool
	Delegate  bool

	Compute string
	Inverse string
	Related []string
	Depends []string

	Comodel     string
	InverseName string
	OnDelete    string
	Relation    string
	Column1     string
	Column2     string
	ModelField  string

	Selection         []SelectionItem
	SelectionFunc     string
	SelectionOnDelete map[string]string

	Size        int
	Digits      int
	Default     any
	DefaultFunc string

	// Inherited is set on related fields synthesized for delegation.
	Inherited bool
}

// FullName returns "model.field".
func (f *Field) FullName() string {
	return f.Model + "." + f.Name
}

// String implements fmt.Stringer.
func (f *Field) String() string {
	return f.FullName()
}

// Computed reports whether the value is derived, by function or related path.
func (f *Field) Computed() bool {
	return f.Compute != "" || len(f.Related) > 0
}

// Column returns the column name, or "" when the field has no column.
func (f *Field) Column() string {
	if !f.Store || f.Type.ColumnType() == "" {
		return ""
	}
	return f.Name
}

// HasColumn reports whether values are persisted in the model's own table.
func (f *Field) HasColumn() bool {
	return f.Column() != ""
}

// SelectionValues returns the allowed values of a selection field.
func (f *Field) SelectionValues() []string {
	values := make([]string, len(f.Selection))
	for n, item := range f.Selection {
		values[n] = item.Value
	}
	return values
}

// Merge folds the declarations of one attribute in override order.
//
// Scalars take the last given value. Dependency lists and selection_add
// items accumulate, selection_ondelete maps merge. A type change or two
// incompatible base selections are configuration errors.
func Merge(model, name string, decls ...Decl) (*Field, error) {
	if len(decls) == 0 {
		return nil, ir.ConfigError(model, name, "no declaration")
	}

	f := &Field{Model: model, Name: name}
	var store, readonly, required, recursive, delegate *bool
	related := ""

	for n, d := range decls {
		if d.Type != "" {
			if f.Type != "" && f.Type != d.Type {
				return nil, ir.ConfigError(model, name, "declaration %d changes type from %s to %s", n+1, f.Type, d.Type)
			}
			f.Type = d.Type
		}
		if err := mergeSelection(f, d, n); err != nil {
			return nil, err
		}

		store = override(store, d.Store)
		readonly = override(readonly, d.Readonly)
		required = override(required, d.Required)
		recursive = override(recursive, d.Recursive)
		delegate = override(delegate, d.Delegate)

		f.Label = overrideString(f.Label, d.String)
		f.Compute = overrideString(f.Compute, d.Compute)
		f.Inverse = overrideString(f.Inverse, d.Inverse)
		related = overrideString(related, d.Related)
		f.Comodel = overrideString(f.Comodel, d.Comodel)
		f.InverseName = overrideString(f.InverseName, d.InverseName)
		f.OnDelete = overrideString(f.OnDelete, d.OnDelete)
		f.Relation = overrideString(f.Relation, d.Relation)
		f.Column1 = overrideString(f.Column1, d.Column1)
		f.Column2 = overrideString(f.Column2, d.Column2)
		f.ModelField = overrideString(f.ModelField, d.ModelField)
		f.DefaultFunc = overrideString(f.DefaultFunc, d.DefaultFunc)
		if d.Size != 0 {
			f.Size = d.Size
		}
		if d.Digits != 0 {
			f.Digits = d.Digits
		}
		if d.Default != nil {
			f.Default = d.Default
		}

		for _, dep := range d.Depends {
			if !slices.Contains(f.Depends, dep) {
				f.Depends = append(f.Depends, dep)
			}
		}
		for value, policy := range d.SelectionOnDelete {
			if f.SelectionOnDelete == nil {
				f.SelectionOnDelete = make(map[string]string)
			}
			f.SelectionOnDelete[value] = policy
		}
	}

	if f.Type == "" {
		return nil, ir.ConfigError(model, name, "missing type")
	}
	if related != "" {
		f.Related = strings.Split(related, ".")
	}

	computed := f.Computed()
	f.Store = deref(store, !computed)
	f.Readonly = deref(readonly, computed && f.Inverse == "" && len(f.Related) == 0)
	f.Required = deref(required, false)
	f.Recursive = deref(recursive, false)
	f.Delegate = deref(delegate, false)

	if f.Type == ID {
		f.Store = true
		f.Readonly = true
	}
	if f.Type == Many2one && f.OnDelete == "" {
		f.OnDelete = OnDeleteSetNull
		if f.Required || f.Delegate {
			f.OnDelete = OnDeleteRestrict
		}
	}
	if f.Delegate {
		f.Required = true
	}
	return f, nil
}

// mergeSelection applies the selection parameters of declaration n.
func mergeSelection(f *Field, d Decl, n int) error {
	if len(d.Selection) > 0 {
		switch {
		case f.SelectionFunc != "":
			return ir.ConfigError(f.Model, f.Name, "declaration %d gives a selection list, an earlier one a selection function %q", n+1, f.SelectionFunc)
		case len(f.Selection) > 0 && !sameSelection(f.Selection, d.Selection):
			return ir.ConfigError(f.Model, f.Name, "declaration %d redefines the selection list; use selection_add to extend it", n+1)
		case len(f.Selection) == 0:
			f.Selection = slices.Clone(d.Selection)
		}
	}
	if d.SelectionFunc != "" {
		switch {
		case len(f.Selection) > 0:
			return ir.ConfigError(f.Model, f.Name, "declaration %d gives a selection function, an earlier one a selection list", n+1)
		case f.SelectionFunc != "" && f.SelectionFunc != d.SelectionFunc:
			return ir.ConfigError(f.Model, f.Name, "declaration %d changes the selection function from %q to %q", n+1, f.SelectionFunc, d.SelectionFunc)
		}
		f.SelectionFunc = d.SelectionFunc
	}
	for _, item := range d.SelectionAdd {
		if f.SelectionFunc != "" {
			return ir.ConfigError(f.Model, f.Name, "selection_add cannot extend the selection function %q", f.SelectionFunc)
		}
		idx := slices.IndexFunc(f.Selection, func(s SelectionItem) bool { return s.Value == item.Value })
		if idx >= 0 {
			if item.Label != "" {
				f.Selection[idx].Label = item.Label
			}
			continue
		}
		f.Selection = append(f.Selection, item)
	}
	return nil
}

func sameSelection(a, b []SelectionItem) bool {
	return slices.Equal(a, b)
}

func override(cur, next *bool) *bool {
	if next != nil {
		return next
	}
	return cur
}

func overrideString(cur, next string) string {
	if next != "" {
		return next
	}
	return cur
}

func deref(b *bool, fallback bool) bool {
	if b == nil {
		return fallback
	}
	return *b
}

// Validate checks the invariants a descriptor must satisfy on its own.
// Cross-model invariants (comodel and inverse existence, related types)
// are checked by registry setup.
func (f *Field) Validate() error {
	if f.Type.Relational() && f.Comodel == "" && len(f.Related) == 0 {
		return ir.ConfigError(f.Model, f.Name, "%s field requires a comodel", f.Type)
	}
	if f.Type == One2many && f.InverseName == "" && len(f.Related) == 0 {
		return ir.ConfigError(f.Model, f.Name, "one2many field requires an inverse_name")
	}
	if f.Type == Selection && len(f.Selection) == 0 && f.SelectionFunc == "" && len(f.Related) == 0 {
		return ir.ConfigError(f.Model, f.Name, "selection field requires a non-empty value set")
	}
	if f.Type == Many2one && !validOnDelete(f.OnDelete) {
		return ir.ConfigError(f.Model, f.Name, "invalid ondelete policy %q", f.OnDelete)
	}
	if f.Type == Many2one && f.OnDelete == OnDeleteSetNull && f.Required {
		return ir.ConfigError(f.Model, f.Name, "required field cannot use ondelete %q", OnDeleteSetNull)
	}
	if f.Type == Many2oneReference && f.ModelField == "" {
		return ir.ConfigError(f.Model, f.Name, "many2one_reference field requires a model_field")
	}
	if f.Store && f.Type != ID && !f.Type.Collection() && f.Type.ColumnType() == "" {
		return ir.ConfigError(f.Model, f.Name, "stored %s field has no column encoding", f.Type)
	}
	if f.Size < 0 || f.Digits < 0 {
		return ir.ConfigError(f.Model, f.Name, "size and digits must not be negative")
	}
	for value, policy := range f.SelectionOnDelete {
		if !slices.Contains(f.SelectionValues(), value) && f.SelectionFunc == "" {
			return ir.ConfigError(f.Model, f.Name, "selection_ondelete names unknown value %q", value)
		}
		if policy != OnDeleteCascade && policy != OnDeleteSetNull && policy != OnDeleteSetDefault && !strings.HasPrefix(policy, "set ") {
			return ir.ConfigError(f.Model, f.Name, "invalid selection_ondelete policy %q for %q", policy, value)
		}
	}
	return nil
}
