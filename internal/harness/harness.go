package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/recfield/internal/access"
	"github.com/roach88/recfield/internal/compiler"
	"github.com/roach88/recfield/internal/env"
	"github.com/roach88/recfield/internal/field"
	"github.com/roach88/recfield/internal/ir"
	"github.com/roach88/recfield/internal/model"
	"github.com/roach88/recfield/internal/store"
	"github.com/roach88/recfield/internal/testutil"
)

// Option configures a scenario run.
type Option func(*config)

type config struct {
	logger *slog.Logger
	funcs  map[string][]model.Funcs
}

// WithLogger routes session and storage logs. Default: discarded.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithFuncs binds derivation, inverse, default or selection functions
// named by the specs of a model. Built-in derivations need no binding.
func WithFuncs(modelName string, funcs model.Funcs) Option {
	return func(c *config) {
		c.funcs[modelName] = append(c.funcs[modelName], funcs)
	}
}

// harness executes the steps of one scenario in one session.
type harness struct {
	env    *env.Env
	clock  *env.Clock
	bound  bindings
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database with a fixed session
// id, so record ids and traces are reproducible. Failing steps and
// assertions are reported in the result; the error is reserved for specs
// that cannot be loaded and storage that cannot be opened.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := config{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		funcs:  make(map[string][]model.Funcs),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	ctx := context.Background()

	reg, err := LoadRegistry(scenario.Specs, cfg.logger)
	if err != nil {
		return nil, err
	}
	for _, name := range ir.SortedKeys(cfg.funcs) {
		for _, funcs := range cfg.funcs[name] {
			if err := reg.Bind(name, funcs); err != nil {
				return nil, fmt.Errorf("bind %s: %w", name, err)
			}
		}
	}
	if err := reg.Setup(); err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}

	st, err := store.Open(":memory:", store.WithLogger(cfg.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()
	if err := st.EnsureSchema(ctx, reg.Tables()); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	recording := testutil.NewRecordingStorage(st)

	rules, err := accessRules(scenario.Access)
	if err != nil {
		return nil, err
	}
	session := scenario.Session
	if session == "" {
		session = DefaultSession
	}
	envOpts := []env.Option{
		env.WithSessionID(session),
		env.WithLogger(cfg.logger),
		env.WithUser(scenario.User),
	}
	if len(rules) > 0 {
		envOpts = append(envOpts, env.WithAccess(rules))
	}
	e, err := env.New(reg, recording, envOpts...)
	if err != nil {
		return nil, err
	}
	defer e.Close()

	h := &harness{
		env:    e,
		clock:  env.NewClock(),
		bound:  make(bindings),
		logger: cfg.logger,
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		before := len(recording.Calls())
		event, err := h.execute(ctx, step)
		event.Seq = h.clock.Next()
		event.Calls = recording.Calls()[before:]
		result.AddTrace(event)
		if err != nil {
			result.AddError(fmt.Sprintf("steps[%d] %s: %v", i, step.Op(), err))
			return result, nil
		}
		h.logger.Debug("scenario step completed",
			"scenario", scenario.Name,
			"step", i,
			"op", event.Op,
			"calls", len(event.Calls),
		)
	}

	for _, msg := range evaluateAssertions(ctx, result, scenario.Assertions, h) {
		result.AddError(msg)
	}
	return result, nil
}

// LoadRegistry compiles CUE model spec files into a registry that is not
// set up yet, so functions can still be bound. A nil logger discards.
func LoadRegistry(paths []string, logger *slog.Logger) (*model.Registry, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no spec files")
	}
	cctx := cuecontext.New()
	var value cue.Value
	for n, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read spec file: %w", err)
		}
		v := cctx.CompileBytes(data, cue.Filename(path))
		if n == 0 {
			value = v
		} else {
			value = value.Unify(v)
		}
	}
	specs, err := compiler.CompileModels(value)
	if err != nil {
		return nil, fmt.Errorf("compile specs: %w", err)
	}
	if verrs := compiler.Validate(specs); len(verrs) > 0 {
		errs := make([]error, len(verrs))
		for n, verr := range verrs {
			errs[n] = verr
		}
		return nil, fmt.Errorf("validate specs: %w", errors.Join(errs...))
	}
	reg := model.NewRegistry(model.WithRegistryLogger(logger))
	if err := compiler.Register(reg, specs); err != nil {
		return nil, err
	}
	return reg, nil
}

func accessRules(rules []AccessRule) (access.Rules, error) {
	var out access.Rules
	for i, r := range rules {
		op, err := access.ParseOperation(r.Op)
		if err != nil {
			return nil, fmt.Errorf("access[%d]: %w", i, err)
		}
		out = append(out, access.Rule{Model: r.Model, Op: op, IDs: ir.Ints(r.Records...), User: r.User})
	}
	return out, nil
}

// execute runs one step and describes it as a trace event.
func (h *harness) execute(ctx context.Context, step Step) (TraceEvent, error) {
	event := TraceEvent{Op: step.Op()}
	switch event.Op {
	case OpCreate:
		s := step.Create
		event.Model, event.Values = s.Model, s.Values
		values, err := h.bound.values(s.Values)
		if err != nil {
			return event, err
		}
		rs, err := h.env.Create(ctx, s.Model, values)
		if err != nil {
			return event, err
		}
		h.bind(s.As, s.Model, rs.IDs()[0])
		event.Records = rs.IDs().Strings()

	case OpNew:
		s := step.New
		event.Model, event.Values = s.Model, s.Values
		values, err := h.bound.values(s.Values)
		if err != nil {
			return event, err
		}
		var origin ir.ID
		if s.Origin != "" {
			if origin, err = h.bound.ref(s.Origin); err != nil {
				return event, err
			}
		}
		rs, err := h.env.New(ctx, s.Model, values, origin)
		if err != nil {
			return event, err
		}
		h.bind(s.As, s.Model, rs.IDs()[0])
		event.Records = rs.IDs().Strings()

	case OpWrite:
		s := step.Write
		event.Values = s.Values
		rs, err := h.browse(&event, s.Records)
		if err != nil {
			return event, err
		}
		values, err := h.bound.values(s.Values)
		if err != nil {
			return event, err
		}
		return event, rs.Write(ctx, values)

	case OpUnlink:
		rs, err := h.browse(&event, step.Unlink.Records)
		if err != nil {
			return event, err
		}
		return event, rs.Unlink(ctx)

	case OpRead:
		s := step.Read
		rs, err := h.browse(&event, s.Records)
		if err != nil {
			return event, err
		}
		rows, err := rs.Read(ctx, s.Fields...)
		if err != nil {
			return event, err
		}
		event.Result = rows
		if len(s.Expect) > 0 {
			for _, name := range ir.SortedKeys(s.Expect) {
				if err := h.compare(rows[0][name], s.Expect[name]); err != nil {
					return event, fmt.Errorf("%s: %w", name, err)
				}
			}
		}

	case OpRecompute:
		fields, err := h.fields(step.Recompute.Fields)
		if err != nil {
			return event, err
		}
		return event, h.env.Recompute(ctx, fields...)

	case OpFlush:
		return event, h.env.Flush(ctx)

	case OpInvalidate:
		h.env.Invalidate()

	case OpExpectError:
		inner, err := h.execute(ctx, *step.ExpectError.Step)
		event.Model, event.Records, event.Values = inner.Model, inner.Records, inner.Values
		if err == nil {
			return event, fmt.Errorf("%s succeeded, expected %s", inner.Op, step.ExpectError.Code)
		}
		code := string(ir.CodeOf(err))
		event.Error = code
		if code != step.ExpectError.Code {
			return event, fmt.Errorf("%s failed with %q, expected %s: %w", inner.Op, code, step.ExpectError.Code, err)
		}
	}
	return event, nil
}

func (h *harness) bind(name, modelName string, id ir.ID) {
	if name != "" {
		h.bound[name] = binding{model: modelName, id: id}
	}
}

func (h *harness) browse(event *TraceEvent, names []string) (*env.Recordset, error) {
	modelName, ids, err := h.bound.records(names)
	if err != nil {
		return nil, err
	}
	event.Model, event.Records = modelName, ids.Strings()
	return h.env.Browse(modelName, ids...)
}

// fields resolves "model.field" names. The model part may itself
// contain dots; the field name is the last segment.
func (h *harness) fields(names []string) ([]*field.Field, error) {
	out := make([]*field.Field, 0, len(names))
	for _, name := range names {
		i := strings.LastIndex(name, ".")
		if i < 0 {
			return nil, fmt.Errorf("expected model.field, got %q", name)
		}
		f, ok := h.env.Registry().Field(name[:i], name[i+1:])
		if !ok {
			return nil, fmt.Errorf("unknown attribute %q", name)
		}
		out = append(out, f)
	}
	return out, nil
}
