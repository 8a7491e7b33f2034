package model

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/recfield/internal/depgraph"
	"github.com/roach88/recfield/internal/field"
)

// Registry collects record type declarations and sets them up.
//
// Declarations are accepted until Setup runs. Setup is idempotent and
// memoized: later calls return the first result. Lookups are only
// meaningful after a successful Setup.
type Registry struct {
	mu sync.Mutex

	decls      map[string]Decl
	order      []string
	mixins     map[string]Decl
	extensions map[string][]Decl
	bound      map[string][]Funcs

	logger *slog.Logger

	done     bool
	setupErr error

	models      map[string]*Model
	inverses    map[*field.Field][]*field.Field
	referencing map[string][]*field.Field
	triggers    depgraph.Triggers
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger used during setup.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		decls:      make(map[string]Decl),
		mixins:     make(map[string]Decl),
		extensions: make(map[string][]Decl),
		bound:      make(map[string][]Funcs),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) checkOpen(name string) error {
	if r.done {
		return fmt.Errorf("declare %s: registry is already set up", name)
	}
	if name == "" {
		return fmt.Errorf("declaration without a name")
	}
	return nil
}

// Declare adds a record type.
func (r *Registry) Declare(d Decl) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpen(d.Name); err != nil {
		return err
	}
	if _, dup := r.decls[d.Name]; dup {
		return fmt.Errorf("declare %s: record type already declared; use Extend", d.Name)
	}
	if _, dup := r.mixins[d.Name]; dup {
		return fmt.Errorf("declare %s: name is taken by a mixin", d.Name)
	}
	r.decls[d.Name] = d
	r.order = append(r.order, d.Name)
	return nil
}

// DeclareMixin adds a shared attribute set that record types pull in
// through Decl.Inherit. Mixins are not record types.
func (r *Registry) DeclareMixin(d Decl) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpen(d.Name); err != nil {
		return err
	}
	if _, dup := r.mixins[d.Name]; dup {
		return fmt.Errorf("declare mixin %s: already declared", d.Name)
	}
	if _, dup := r.decls[d.Name]; dup {
		return fmt.Errorf("declare mixin %s: name is taken by a record type", d.Name)
	}
	r.mixins[d.Name] = d
	return nil
}

// Extend re-declares a record type. Its attribute declarations are merged
// after the base declaration, in call order.
func (r *Registry) Extend(d Decl) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpen(d.Name); err != nil {
		return err
	}
	r.extensions[d.Name] = append(r.extensions[d.Name], d)
	return nil
}

// Bind adds functions to a record type's table. Bound functions override
// those of the declarations.
func (r *Registry) Bind(model string, funcs Funcs) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpen(model); err != nil {
		return err
	}
	r.bound[model] = append(r.bound[model], funcs)
	return nil
}

// Setup builds every record type. It runs once; later calls return the
// result of the first.
func (r *Registry) Setup() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return r.setupErr
	}
	r.done = true
	if err := r.setup(); err != nil {
		r.setupErr = err
		r.models = nil
		r.triggers = nil
		return err
	}
	r.logger.Debug("registry set up", "models", len(r.models))
	return nil
}

// Model returns the record type called name.
func (r *Registry) Model(name string) (*Model, bool) {
	m, ok := r.models[name]
	return m, ok
}

// Models returns every record type sorted by name.
func (r *Registry) Models() []*Model {
	out := make([]*Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Field returns the attribute name of the record type model.
func (r *Registry) Field(model, name string) (*field.Field, bool) {
	m, ok := r.models[model]
	if !ok {
		return nil, false
	}
	return m.Field(name)
}

// Fields returns every attribute of every record type, by type name then
// declaration order.
func (r *Registry) Fields() []*field.Field {
	var out []*field.Field
	for _, m := range r.Models() {
		out = append(out, m.order...)
	}
	return out
}

// Inverses returns the attributes registered as inverses of f.
func (r *Registry) Inverses(f *field.Field) []*field.Field {
	return r.inverses[f]
}

// Triggers returns the invalidations fired by a modification of f.
func (r *Registry) Triggers(f *field.Field) []depgraph.Trigger {
	return r.triggers.For(f)
}

// TriggerTree returns the complete trigger tree.
func (r *Registry) TriggerTree() depgraph.Triggers {
	return r.triggers
}

// Referencing returns the stored single references whose target type is
// model, in a stable order.
func (r *Registry) Referencing(model string) []*field.Field {
	return r.referencing[model]
}

// Cycles reports dependency cycles between attributes.
func (r *Registry) Cycles() ([]depgraph.CycleWarning, error) {
	return depgraph.AnalyzeCycles(r)
}

var _ depgraph.Schema = (*Registry)(nil)
