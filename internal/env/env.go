package env

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/recfield/internal/access"
	"github.com/roach88/recfield/internal/cache"
	"github.com/roach88/recfield/internal/ir"
	"github.com/roach88/recfield/internal/model"
	"github.com/roach88/recfield/internal/recompute"
	"github.com/roach88/recfield/internal/store"
)

const (
	// DefaultPrefetchMax bounds the size of fetch and compute batches.
	DefaultPrefetchMax = 1000

	// DefaultMaxRecomputePasses bounds the recomputation passes of a flush.
	DefaultMaxRecomputePasses = 1000
)

// session is the state shared by an Env and its Sudo view.
type session struct {
	id      string
	user    string
	reg     *model.Registry
	storage store.Storage
	access  access.Checker
	logger  *slog.Logger

	cache   *cache.Cache
	tracker *recompute.Tracker
	refs    *Clock

	prefetchMax int
	maxPasses   int
}

// Env is one session over a registry and a storage. It is not safe for
// concurrent use.
type Env struct {
	s  *session
	su bool
}

// Option configures a session.
type Option func(*config)

type config struct {
	logger      *slog.Logger
	access      access.Checker
	user        string
	sessionID   string
	idGen       IDGenerator
	prefetchMax int
	maxPasses   int
}

// WithLogger sets the session logger. Every line carries the session id.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithAccess sets the access-control collaborator. Default: allow all.
func WithAccess(checker access.Checker) Option {
	return func(c *config) {
		c.access = checker
	}
}

// WithUser sets the identity checked against access rules.
func WithUser(user string) Option {
	return func(c *config) {
		c.user = user
	}
}

// WithSessionID fixes the session id instead of generating one.
func WithSessionID(id string) Option {
	return func(c *config) {
		c.sessionID = id
	}
}

// WithIDGenerator sets the generator of session ids.
func WithIDGenerator(gen IDGenerator) Option {
	return func(c *config) {
		c.idGen = gen
	}
}

// WithPrefetchMax bounds fetch and compute batches.
//
// Default: 1000 (DefaultPrefetchMax).
func WithPrefetchMax(n int) Option {
	return func(c *config) {
		c.prefetchMax = n
	}
}

// WithMaxRecomputePasses bounds the recomputation passes of Flush.
//
// Default: 1000 (DefaultMaxRecomputePasses).
func WithMaxRecomputePasses(n int) Option {
	return func(c *config) {
		c.maxPasses = n
	}
}

// New opens a session. The registry is set up if it is not yet.
func New(reg *model.Registry, storage store.Storage, opts ...Option) (*Env, error) {
	if err := reg.Setup(); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	cfg := config{
		logger:      slog.Default(),
		access:      access.AllowAll{},
		idGen:       UUIDv7Generator{},
		prefetchMax: DefaultPrefetchMax,
		maxPasses:   DefaultMaxRecomputePasses,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.prefetchMax < 1 {
		return nil, fmt.Errorf("open session: prefetch max must be positive, got %d", cfg.prefetchMax)
	}
	id := cfg.sessionID
	if id == "" {
		id = cfg.idGen.Generate()
	}
	s := &session{
		id:          id,
		user:        cfg.user,
		reg:         reg,
		storage:     storage,
		access:      cfg.access,
		logger:      cfg.logger.With("session", id),
		cache:       cache.New(),
		tracker:     recompute.NewTracker(),
		refs:        NewClock(),
		prefetchMax: cfg.prefetchMax,
		maxPasses:   cfg.maxPasses,
	}
	s.logger.Debug("session opened", "user", cfg.user)
	return &Env{s: s}, nil
}

// ID returns the session id.
func (e *Env) ID() string {
	return e.s.id
}

// User returns the session user.
func (e *Env) User() string {
	return e.s.user
}

// Registry returns the registry the session runs on.
func (e *Env) Registry() *model.Registry {
	return e.s.reg
}

// Sudo returns a view of the same session that bypasses access checks.
func (e *Env) Sudo() *Env {
	return &Env{s: e.s, su: true}
}

// IsSuperuser reports whether access checks are bypassed.
func (e *Env) IsSuperuser() bool {
	return e.su
}

// Cache exposes the session cache for inspection.
func (e *Env) Cache() *cache.Cache {
	return e.s.cache
}

// Tracker exposes the Pending-Recompute sets for inspection.
func (e *Env) Tracker() *recompute.Tracker {
	return e.s.tracker
}

// Logger returns the session logger.
func (e *Env) Logger() *slog.Logger {
	return e.s.logger
}

// Invalidate drops every clean cached value. Values awaiting persistence
// are kept.
func (e *Env) Invalidate() {
	e.s.cache.InvalidateAll()
}

// Close clears the cache and the pending sets. Unflushed writes are lost.
func (e *Env) Close() {
	dirty := len(e.s.cache.DirtyFields())
	e.s.cache.Clear()
	e.s.tracker.Clear()
	e.s.logger.Debug("session closed", "unflushed_fields", dirty)
}

// model resolves a record type name.
func (e *Env) model(name string) (*model.Model, error) {
	m, ok := e.s.reg.Model(name)
	if !ok {
		return nil, ir.ConfigError(name, "", "unknown record type")
	}
	return m, nil
}

// check consults the access collaborator unless the view is privileged.
// Transient records are never checked.
func (e *Env) check(ctx context.Context, op access.Operation, m *model.Model, ids ir.IDs) error {
	if e.su {
		return nil
	}
	persisted := ids.Persisted()
	if len(persisted) == 0 {
		return nil
	}
	return e.s.access.Check(ctx, e.s.user, op, m.Name, persisted)
}

// annotate stamps runtime errors with the session identity.
func (e *Env) annotate(err error) error {
	var rerr *ir.Error
	if errors.As(err, &rerr) {
		if rerr.Session == "" {
			rerr.Session = e.s.id
		}
		if rerr.User == "" {
			rerr.User = e.s.user
		}
	}
	return err
}
