package container

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/km-arc/go-injector/framework/metrics"
	"github.com/km-arc/go-injector/framework/profile"
)

const tracerName = "github.com/km-arc/go-injector/framework/container"

// EnvironmentFunc bootstraps registrations that depend on the running
// environment. It runs at most once per container.
type EnvironmentFunc func(c *Container) error

// ── Container ─────────────────────────────────────────────────────────────────

// Container is the resolution façade over the profile registry and the
// shared singleton scope.
//
// It supports:
//   - Singleton / ProfileScoped / Transient / Prototype bindings
//   - registration under one or several profiles, with aliases
//   - resolution preferring an explicit profile, then singletons, then
//     profiles by descending priority
//   - configuration units (eager and deferred)
//   - multibinding of slice-typed collections
//   - lifecycle hooks and PostConstruct
//   - sealing once the build phase is over
type Container struct {
	id       uuid.UUID
	sh       *shared
	registry *Registry
	profiles *profile.Registry
	log      *zap.Logger
	metrics  *metrics.Collector
	tracer   trace.Tracer

	envName string
	envFn   EnvironmentFunc
	envMu   sync.Mutex
	envDone atomic.Bool

	units  *UnitRegistry
	sealed atomic.Bool
}

type options struct {
	log           *zap.Logger
	metrics       *metrics.Collector
	tracer        trace.Tracer
	envName       string
	envFn         EnvironmentFunc
	pruneUncached bool
	profiles      []profile.Profile
}

// Option configures New.
type Option func(*options)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.log = l } }

// WithMetrics records engine activity on m.
func WithMetrics(m *metrics.Collector) Option { return func(o *options) { o.metrics = m } }

// WithTracer overrides the tracer taken from the global otel provider.
func WithTracer(t trace.Tracer) Option { return func(o *options) { o.tracer = t } }

// WithEnvironment installs the bootstrap run the first time a resolution
// finds nothing, before retrying once.
func WithEnvironment(name string, fn EnvironmentFunc) Option {
	return func(o *options) {
		o.envName = name
		o.envFn = fn
	}
}

// WithPruneUncached makes cross-scope fallback delete transient and
// prototype bindings it meets instead of only skipping them.
func WithPruneUncached() Option { return func(o *options) { o.pruneUncached = true } }

// WithProfiles declares profiles up front so their priorities are fixed
// before any registration names them.
func WithProfiles(ps ...profile.Profile) Option {
	return func(o *options) { o.profiles = append(o.profiles, ps...) }
}

// New creates an empty container.
func New(opts ...Option) *Container {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}

	id := uuid.New()
	log := o.log.With(zap.String("container", id.String()))
	sh := newShared(log, o.metrics)
	sh.pruneUncached = o.pruneUncached

	profiles := profile.NewRegistry()
	for _, p := range o.profiles {
		profiles.GetOrCreate(p.Name(), p.Priority())
	}

	c := &Container{
		id:       id,
		sh:       sh,
		profiles: profiles,
		log:      log,
		metrics:  o.metrics,
		tracer:   o.tracer,
		envName:  o.envName,
		envFn:    o.envFn,
	}
	c.registry = newRegistry(sh, profiles)
	c.units = newUnitRegistry(c)

	// The container resolves itself, like any other singleton.
	_ = c.RegisterComponentValue(TypeOf[*Container](), c)
	return c
}

func (c *Container) ID() uuid.UUID               { return c.id }
func (c *Container) Logger() *zap.Logger         { return c.log }
func (c *Container) Metrics() *metrics.Collector { return c.metrics }
func (c *Container) Registry() *Registry         { return c.registry }
func (c *Container) Composite() *CompositeScope  { return c.sh.composite }
func (c *Container) Units() *UnitRegistry        { return c.units }

// RegisterUnit is shorthand for c.Units().Register(u, ps...).
func (c *Container) RegisterUnit(u ConfigUnit, ps ...profile.Profile) error {
	return c.units.Register(u, ps...)
}

// Profile returns the profile named name, creating it with priority on first
// use.
func (c *Container) Profile(name string, priority int) profile.Profile {
	return c.profiles.GetOrCreate(name, priority)
}

// Profiles lists the profiles holding registrations, highest priority first.
func (c *Container) Profiles() []profile.Profile { return c.registry.Profiles() }

// ── Registration ──────────────────────────────────────────────────────────────

// RegisterComponent binds t to a constructor function. Parameters of ctor are
// resolved from the container when the value is built. A nil t binds the
// constructor's return type.
//
//	c.RegisterComponent(container.TypeOf[Store](), NewPostgresStore, container.Singleton,
//	    container.InProfiles(prod))
func (c *Container) RegisterComponent(t reflect.Type, ctor any, scope Scope, opts ...RegisterOption) error {
	provider, out, deps, err := Constructor(ctor)
	if err != nil {
		return err
	}
	if t == nil {
		t = out
	}
	if !out.AssignableTo(t) {
		return fmt.Errorf("%w: constructor returns %s, not [%s]", ErrTypeMismatch, out, typeName(t))
	}
	return c.register(t, provider, scope, deps, opts)
}

// RegisterComponentValue binds t to a pre-built value as a singleton. A nil t
// binds the value's dynamic type.
//
//	c.RegisterComponentValue(nil, cfg)
func (c *Container) RegisterComponentValue(t reflect.Type, v any, opts ...RegisterOption) error {
	if t == nil {
		if v == nil {
			return fmt.Errorf("%w: cannot infer the type of a nil value", ErrTypeMismatch)
		}
		t = reflect.TypeOf(v)
	}
	if v != nil && !reflect.TypeOf(v).AssignableTo(t) {
		return fmt.Errorf("%w: %T is not [%s]", ErrTypeMismatch, v, typeName(t))
	}
	return c.register(t, Value(v), Singleton, nil, opts)
}

// RegisterComponentBinding binds t to an explicit provider. Prototype scopes
// take a nil provider; the scope's factory builds the instances.
func (c *Container) RegisterComponentBinding(t reflect.Type, provider Provider, scope Scope, opts ...RegisterOption) error {
	if provider == nil && scope.kind != KindPrototype {
		return fmt.Errorf("%w for [%s]", ErrNilProvider, typeName(t))
	}
	if scope.kind == KindPrototype && scope.factory == nil {
		return fmt.Errorf("%w: prototype binding for [%s] names no factory", ErrUnsupportedScope, typeName(t))
	}
	return c.register(t, provider, scope, nil, opts)
}

// RegisterMultibindable adds element to the slice type collection.
// Resolving collection yields one value per contributed element type.
//
//	c.RegisterMultibindable(container.TypeOf[[]Check](), container.TypeOf[*DiskCheck]())
func (c *Container) RegisterMultibindable(collection, element reflect.Type, opts ...RegisterOption) error {
	reg := applyRegisterOptions(opts)
	if c.sealed.Load() && !reg.deferred {
		return &ImmutableInjectorError{Injector: c.sh.composite.owner.id, Type: collection}
	}
	for _, p := range reg.profiles {
		if err := c.registry.RegisterMultibindable(collection, element, p); err != nil {
			return err
		}
	}
	return nil
}

func (c *Container) register(t reflect.Type, provider Provider, scope Scope, deps []reflect.Type, opts []RegisterOption) error {
	reg := applyRegisterOptions(opts)
	if c.sealed.Load() && !reg.deferred {
		return &ImmutableInjectorError{Injector: c.sh.composite.owner.id, Type: t}
	}
	for _, alias := range reg.aliases {
		if !t.AssignableTo(alias) {
			return fmt.Errorf("%w: [%s] cannot be aliased as [%s]", ErrTypeMismatch, typeName(t), typeName(alias))
		}
	}

	types := append([]reflect.Type{t}, reg.aliases...)
	b := NewBinding(types, provider, scope, append(deps, reg.deps...)...)
	b.unit = reg.unit
	b.lazy = reg.lazy
	return c.registry.RegisterComponent(b, reg.profiles...)
}

// ContainsBinding reports whether t was registered in any profile.
func (c *Container) ContainsBinding(t reflect.Type) bool {
	return c.registry.ContainsBinding(t) || c.sh.composite.owner.Contains(t)
}

// RemoveBinding drops t from ps, or from every profile when ps is empty.
func (c *Container) RemoveBinding(t reflect.Type, ps ...profile.Profile) (bool, error) {
	if c.sealed.Load() {
		return false, &ImmutableInjectorError{Injector: c.sh.composite.owner.id, Type: t}
	}
	return c.registry.RemoveBinding(t, ps...), nil
}

// Seal ends the build phase. Later registrations fail with
// ImmutableInjectorError; deferred configuration units may still load.
func (c *Container) Seal() {
	if c.sealed.Swap(true) {
		return
	}
	c.sh.composite.owner.Seal()
	c.log.Info("container sealed", zap.Int("injectors", c.sh.arena.len()))
}

func (c *Container) Sealed() bool { return c.sealed.Load() }

// ── Hooks ─────────────────────────────────────────────────────────────────────

// BeforeResolving registers a callback fired before a fresh value is built.
func (c *Container) BeforeResolving(fn BeforeFunc) { c.sh.hooks.onBefore(fn) }

// AfterResolving registers a callback fired after a fresh value is built.
//
//	c.AfterResolving(func(t reflect.Type, v any) {
//	    log.Debug("built", zap.Stringer("type", t))
//	})
func (c *Container) AfterResolving(fn AfterFunc) { c.sh.hooks.onAfter(fn) }

// ── Resolution ────────────────────────────────────────────────────────────────

type query struct {
	profile   profile.Profile
	scope     *Scope
	overrides Overrides
}

// GetOption narrows a resolution.
type GetOption func(*query)

// InProfile prefers p's bindings, falling back to other profiles.
func InProfile(p profile.Profile) GetOption { return func(q *query) { q.profile = p } }

// WithScope only accepts bindings of scope s. Prototype scopes go through
// the type's factory instead of the usual lookup.
func WithScope(s Scope) GetOption { return func(q *query) { q.scope = &s } }

// WithOverrides supplies values for dependency types of this resolution.
func WithOverrides(o Overrides) GetOption {
	return func(q *query) {
		if q.overrides == nil {
			q.overrides = Overrides{}
		}
		for t, v := range o {
			q.overrides[t] = v
		}
	}
}

// Override supplies v for T during this resolution.
func Override[T any](v T) GetOption {
	return func(q *query) { q.overrides = Set(q.overrides, v) }
}

func (q *query) filter() []Scope {
	if q.scope == nil {
		return nil
	}
	return []Scope{*q.scope}
}

// Get resolves t and returns nil when nothing can produce it. The reasons
// every candidate failed are logged.
//
//	v := c.Get(container.TypeOf[Clock](), container.InProfile(test))
func (c *Container) Get(t reflect.Type, opts ...GetOption) any {
	v, err := c.Resolve(t, opts...)
	if err != nil {
		c.log.Warn("unable to resolve",
			zap.String("type", typeName(t)),
			zap.Error(err))
		return nil
	}
	return v
}

// Resolve is Get with the accumulated failure returned instead of logged.
func (c *Container) Resolve(t reflect.Type, opts ...GetOption) (any, error) {
	return c.GetContext(context.Background(), t, opts...)
}

// GetContext resolves t inside a tracing span. The context carries no
// cancellation into providers; resolution runs to completion.
func (c *Container) GetContext(ctx context.Context, t reflect.Type, opts ...GetOption) (any, error) {
	var q query
	for _, opt := range opts {
		opt(&q)
	}

	_, span := c.tracer.Start(ctx, "container.Resolve", trace.WithAttributes(
		attribute.String("di.type", typeName(t)),
		attribute.String("di.profile", q.profile.String()),
	))
	defer span.End()

	start := time.Now()
	outcome := metrics.OutcomeHit
	v, err := c.resolveQuery(t, &q)
	if err != nil && c.initEnvironment() {
		outcome = metrics.OutcomeRetried
		v, err = c.resolveQuery(t, &q)
	}
	if err != nil {
		outcome = metrics.OutcomeMiss
		if !errors.Is(err, ErrUnsatisfied) {
			outcome = metrics.OutcomeError
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	c.metrics.ObserveResolution(outcome, time.Since(start))
	return v, err
}

func (c *Container) resolveQuery(t reflect.Type, q *query) (any, error) {
	if !q.profile.IsZero() {
		p, ok := c.profiles.Lookup(q.profile.Name())
		if !ok {
			return nil, &ProfileBindingNotExistedError{Profile: q.profile.Name()}
		}
		if _, ok := c.registry.lookupField(p); !ok {
			return nil, &ProfileBindingNotExistedError{Profile: q.profile.Name()}
		}
		q.profile = p
	}
	if q.scope != nil && q.scope.kind == KindPrototype {
		return c.createPrototype(t, q)
	}

	res := newResolution(q.overrides)
	if v, ok := res.override(t); ok {
		return v, nil
	}
	var errs []error
	for in := range c.candidates(t, q.profile) {
		v, err := in.resolveFiltered(res, t, q.filter())
		if err == nil {
			return v, nil
		}
		c.log.Debug("candidate injector failed",
			zap.String("type", typeName(t)),
			zap.Stringer("profile", in.profile),
			zap.Int("injector", in.id),
			zap.Error(err))
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, &UnsatisfiedRequirementError{Type: t, Profile: q.profile}
	}
	return nil, errors.Join(errs...)
}

// candidates yields the injectors asked for t, in order: p's own injector,
// the composite owner, then every other profile by descending priority.
func (c *Container) candidates(t reflect.Type, p profile.Profile) iter.Seq[*Injector] {
	return func(yield func(*Injector) bool) {
		var first *Injector
		if !p.IsZero() {
			for in := range c.registry.ResolveInjectors(t, p, true) {
				if in.profile.Equal(p) {
					first = in
					if !yield(in) {
						return
					}
				}
				break
			}
		}

		owner := c.sh.composite.owner
		if _, cached := c.sh.composite.Cached(t); cached || owner.Contains(t) {
			if !yield(owner) {
				return
			}
		}

		for in := range c.registry.ResolveInjectors(t, profile.Profile{}, true) {
			if in == first {
				continue
			}
			if !yield(in) {
				return
			}
		}
	}
}

// createPrototype resolves t's factory as a singleton and asks it for a
// fresh instance.
func (c *Container) createPrototype(t reflect.Type, q *query) (any, error) {
	ft := q.scope.factory
	p := q.profile
	if ft == nil {
		b, in, ok := c.prototypeBinding(t, p)
		if !ok {
			return nil, &UnsatisfiedRequirementError{Type: t, Profile: p}
		}
		ft = b.scope.factory
		if p.IsZero() {
			p = in.profile
		}
	}
	if p.IsZero() {
		p = profile.Default
	}

	fv, err := c.resolveQuery(ft, &query{profile: q.profile, scope: &Singleton})
	if err != nil {
		return nil, err
	}
	f, ok := fv.(Factory)
	if !ok {
		return nil, &ResolveError{Type: t, Profile: p, Err: fmt.Errorf("%w: %T", ErrNotFactory, fv)}
	}
	v, err := f.Create(p, q.overrides)
	if err != nil {
		return nil, &ResolveError{Type: t, Profile: p, Err: err}
	}
	c.metrics.IncPrototype()
	c.sh.hooks.fireAfter(t, v)
	return v, nil
}

func (c *Container) prototypeBinding(t reflect.Type, p profile.Profile) (*Binding, *Injector, bool) {
	for in := range c.candidates(t, p) {
		if b, ok := in.lookup(t); ok && b.scope.kind == KindPrototype {
			return b, in, true
		}
	}
	return nil, nil, false
}

// injectorFor returns the injector a factory builds against for p.
func (c *Container) injectorFor(p profile.Profile) *Injector {
	if !p.IsZero() {
		if f, ok := c.registry.lookupField(p); ok {
			return f.Collapse()
		}
	}
	return c.sh.composite.owner
}

// Resolved reports whether a value for t has been cached, either as a
// singleton or in any profile scope.
func (c *Container) Resolved(t reflect.Type) bool {
	if _, ok := c.sh.composite.Cached(t); ok {
		return true
	}
	for _, f := range c.registry.sortedFields() {
		if _, ok := f.scope.Cached(t); ok {
			return true
		}
	}
	return false
}

// ── Environment ───────────────────────────────────────────────────────────────

// InitEnvironment runs the environment bootstrap now if it has not run yet.
func (c *Container) InitEnvironment() error {
	_, err := c.runEnvironment()
	return err
}

// initEnvironment reports whether a bootstrap ran, so the caller retries.
func (c *Container) initEnvironment() bool {
	ran, err := c.runEnvironment()
	if err != nil {
		c.log.Warn("environment bootstrap failed",
			zap.String("environment", c.envName),
			zap.Error(err))
	}
	return ran
}

func (c *Container) runEnvironment() (bool, error) {
	if c.envDone.Load() {
		return false, nil
	}
	c.envMu.Lock()
	defer c.envMu.Unlock()
	if c.envDone.Load() {
		return false, nil
	}
	defer c.envDone.Store(true)
	if c.envFn == nil {
		return false, nil
	}
	c.log.Info("initializing environment", zap.String("environment", c.envName))
	return true, c.envFn(c)
}

// ── Generics helpers ──────────────────────────────────────────────────────────

// Provide registers ctor for T.
//
//	container.Provide[Store](c, NewMemoryStore, container.Singleton)
func Provide[T any](c *Container, ctor any, scope Scope, opts ...RegisterOption) error {
	return c.RegisterComponent(TypeOf[T](), ctor, scope, opts...)
}

// ProvideValue registers v as the singleton value for T.
func ProvideValue[T any](c *Container, v T, opts ...RegisterOption) error {
	return c.RegisterComponentValue(TypeOf[T](), v, opts...)
}

// Multibind contributes element type E to the collection []C.
func Multibind[C, E any](c *Container, opts ...RegisterOption) error {
	return c.RegisterMultibindable(TypeOf[[]C](), TypeOf[E](), opts...)
}

// Resolve resolves T and type-asserts the result.
//
//	// Instead of: store := c.Get(container.TypeOf[Store]()).(Store)
//	// Write:      store, err := container.Resolve[Store](c)
func Resolve[T any](c *Container, opts ...GetOption) (T, error) {
	var zero T
	v, err := c.Resolve(TypeOf[T](), opts...)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: [%s] resolved to %T", ErrTypeMismatch, typeName(TypeOf[T]()), v)
	}
	return typed, nil
}

// Must is like Resolve but panics on failure. Meant for bootstrap code.
func Must[T any](c *Container, opts ...GetOption) T {
	v, err := Resolve[T](c, opts...)
	if err != nil {
		panic(fmt.Sprintf("container: Must[%s]: %v", typeName(TypeOf[T]()), err))
	}
	return v
}
