package container

import (
	"fmt"
	"reflect"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/km-arc/go-injector/framework/profile"
)

// ── ConfigUnit interface ──────────────────────────────────────────────────────

// ConfigUnit groups related registrations, the way a service provider does.
//
// Register declares bindings through the Binder; it must not resolve
// anything. Boot runs after every unit has been registered, so resolving
// other bindings there is safe.
//
//	type StorageUnit struct{ container.BaseUnit }
//
//	func (u *StorageUnit) Register(b *container.Binder) error {
//	    return b.Singleton(container.TypeOf[Store](), NewPostgresStore)
//	}
//
//	func (u *StorageUnit) Boot(c *container.Container) error {
//	    store, err := container.Resolve[Store](c)
//	    if err != nil {
//	        return err
//	    }
//	    return store.Migrate()
//	}
type ConfigUnit interface {
	// Register binds services into the container.
	Register(b *Binder) error

	// Boot is called after all units are registered.
	Boot(c *Container) error

	// Provides lists the types a deferred unit registers. Resolving any of
	// them loads the unit.
	Provides() []reflect.Type

	// IsDeferred reports whether the unit loads lazily, on first use of one
	// of its Provides types.
	IsDeferred() bool
}

// Named units choose their own registry key instead of their type name.
type Named interface {
	UnitName() string
}

// ── BaseUnit ──────────────────────────────────────────────────────────────────

// BaseUnit is an embeddable struct with no-op Boot, Provides and IsDeferred.
//
//	type MyUnit struct{ container.BaseUnit }
//	func (u *MyUnit) Register(b *container.Binder) error { ... }
type BaseUnit struct{}

func (BaseUnit) Boot(*Container) error    { return nil }
func (BaseUnit) Provides() []reflect.Type { return nil }
func (BaseUnit) IsDeferred() bool         { return false }

// UnitName returns the key a unit is registered under.
func UnitName(u ConfigUnit) string {
	if n, ok := u.(Named); ok {
		return n.UnitName()
	}
	return typeName(reflect.TypeOf(u))
}

// ── Binder ────────────────────────────────────────────────────────────────────

// Binder is the registration surface a unit sees. Everything it registers is
// attributed to the unit and, unless the call names profiles itself, goes to
// the profiles the unit was registered with.
type Binder struct {
	c        *Container
	unit     string
	deferred bool
	profiles []profile.Profile
	types    []reflect.Type
}

func (b *Binder) Container() *Container { return b.c }

// Profiles returns the profiles the unit was registered with, or
// profile.Default when there are none.
func (b *Binder) Profiles() []profile.Profile {
	if len(b.profiles) == 0 {
		return []profile.Profile{profile.Default}
	}
	return append([]profile.Profile(nil), b.profiles...)
}

// Profile returns the container's profile named name.
func (b *Binder) Profile(name string, priority int) profile.Profile {
	return b.c.Profile(name, priority)
}

func (b *Binder) Singleton(t reflect.Type, ctor any, opts ...RegisterOption) error {
	return b.component(t, ctor, Singleton, opts)
}

func (b *Binder) ProfileScoped(t reflect.Type, ctor any, opts ...RegisterOption) error {
	return b.component(t, ctor, ProfileScoped, opts)
}

func (b *Binder) Transient(t reflect.Type, ctor any, opts ...RegisterOption) error {
	return b.component(t, ctor, Transient, opts)
}

// Value binds a pre-built singleton.
func (b *Binder) Value(t reflect.Type, v any, opts ...RegisterOption) error {
	if t == nil && v != nil {
		t = reflect.TypeOf(v)
	}
	b.types = append(b.types, t)
	return b.c.RegisterComponentValue(t, v, b.options(opts)...)
}

// Provider binds t to an explicit provider.
func (b *Binder) Provider(t reflect.Type, p Provider, scope Scope, opts ...RegisterOption) error {
	b.types = append(b.types, t)
	return b.c.RegisterComponentBinding(t, p, scope, b.options(opts)...)
}

// Multibind contributes element to collection.
func (b *Binder) Multibind(collection, element reflect.Type, opts ...RegisterOption) error {
	b.types = append(b.types, collection)
	return b.c.RegisterMultibindable(collection, element, b.options(opts)...)
}

func (b *Binder) component(t reflect.Type, ctor any, scope Scope, opts []RegisterOption) error {
	b.types = append(b.types, t)
	return b.c.RegisterComponent(t, ctor, scope, b.options(opts)...)
}

func (b *Binder) options(opts []RegisterOption) []RegisterOption {
	out := []RegisterOption{fromUnit(b.unit, b.deferred)}
	if len(b.profiles) > 0 && !hasProfiles(opts) {
		out = append(out, InProfiles(b.profiles...))
	}
	return append(out, opts...)
}

func hasProfiles(opts []RegisterOption) bool {
	var r registration
	for _, opt := range opts {
		opt(&r)
	}
	return len(r.profiles) > 0
}

// ── UnitRegistry ──────────────────────────────────────────────────────────────

// UnitRegistry registers and boots configuration units, loading deferred
// ones the first time one of their types is resolved.
type UnitRegistry struct {
	c *Container

	mu     sync.Mutex
	eager  []*unitState
	byName map[string]*unitState
	booted bool
}

type unitState struct {
	unit     ConfigUnit
	name     string
	profiles []profile.Profile

	mu     sync.Mutex
	loaded bool
	types  []reflect.Type
}

func (st *unitState) provides(t reflect.Type) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return slices.Contains(st.types, t)
}

func newUnitRegistry(c *Container) *UnitRegistry {
	return &UnitRegistry{c: c, byName: make(map[string]*unitState)}
}

// Register adds a unit and calls its Register method, unless the unit is
// deferred. Registering the same unit name twice is a no-op. Without ps the
// unit's bindings go to profile.Default.
//
//	c.Units().Register(&StorageUnit{}, prod)
func (r *UnitRegistry) Register(u ConfigUnit, ps ...profile.Profile) error {
	if u == nil {
		return fmt.Errorf("%w: nil configuration unit", ErrNilProvider)
	}
	name := UnitName(u)

	r.mu.Lock()
	if _, ok := r.byName[name]; ok {
		r.mu.Unlock()
		return nil
	}
	st := &unitState{unit: u, name: name, profiles: ps}
	r.byName[name] = st
	booted := r.booted
	r.mu.Unlock()

	home := profile.Default
	if len(ps) > 0 {
		home = ps[0]
	}
	r.c.registry.declareUnit(name, u, home)

	if u.IsDeferred() {
		return r.intercept(st)
	}

	if err := r.load(st, false); err != nil {
		return err
	}
	r.mu.Lock()
	r.eager = append(r.eager, st)
	r.mu.Unlock()

	if booted {
		return r.boot(st)
	}
	return nil
}

// intercept binds a trampoline for each type a deferred unit provides. The
// unit's real bindings supersede them when it loads.
func (r *UnitRegistry) intercept(st *unitState) error {
	opts := []RegisterOption{fromUnit(st.name, true), lazy()}
	if len(st.profiles) > 0 {
		opts = append(opts, InProfiles(st.profiles...))
	}
	for _, t := range st.unit.Provides() {
		trampoline := func(res Resolver) (any, error) {
			if err := r.load(st, true); err != nil {
				return nil, err
			}
			if !st.provides(t) {
				return nil, &UnsatisfiedRequirementError{Type: t, Profile: res.Profile()}
			}
			return r.c.Resolve(t, InProfile(res.Profile()))
		}
		if err := r.c.RegisterComponentBinding(t, trampoline, Transient, opts...); err != nil {
			return err
		}
	}
	r.c.log.Debug("deferred configuration unit",
		zap.String("unit", st.name),
		zap.Int("provides", len(st.unit.Provides())))
	return nil
}

// load runs the unit's Register once. Trampolines the unit did not replace
// are dropped, and a deferred unit loading after Boot is booted outside the
// unit lock so its Boot may resolve the unit's own types.
func (r *UnitRegistry) load(st *unitState, deferred bool) error {
	st.mu.Lock()
	if st.loaded {
		st.mu.Unlock()
		return nil
	}

	b := &Binder{c: r.c, unit: st.name, deferred: deferred, profiles: st.profiles}
	if err := st.unit.Register(b); err != nil {
		st.mu.Unlock()
		return fmt.Errorf("container: register unit %s: %w", st.name, err)
	}
	if deferred {
		for _, t := range st.unit.Provides() {
			r.c.registry.dropTrampolines(t, st.name)
		}
	}
	st.loaded = true
	st.types = b.types
	st.mu.Unlock()

	r.c.log.Debug("registered configuration unit",
		zap.String("unit", st.name),
		zap.Bool("deferred", deferred),
		zap.Int("bindings", len(b.types)))

	if deferred && r.Booted() {
		return r.boot(st)
	}
	return nil
}

func (r *UnitRegistry) boot(st *unitState) error {
	if err := st.unit.Boot(r.c); err != nil {
		return fmt.Errorf("container: boot unit %s: %w", st.name, err)
	}
	return nil
}

// Boot calls Boot on every eager unit. Later calls are no-ops.
func (r *UnitRegistry) Boot() error {
	r.mu.Lock()
	if r.booted {
		r.mu.Unlock()
		return nil
	}
	r.booted = true
	eager := append([]*unitState(nil), r.eager...)
	r.mu.Unlock()

	for _, st := range eager {
		if err := r.boot(st); err != nil {
			return err
		}
	}
	return nil
}

func (r *UnitRegistry) Booted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.booted
}

// Units returns the eager units in registration order.
func (r *UnitRegistry) Units() []ConfigUnit {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ConfigUnit, len(r.eager))
	for i, st := range r.eager {
		out[i] = st.unit
	}
	return out
}

// Loaded reports whether the named unit has registered its bindings.
func (r *UnitRegistry) Loaded(name string) bool {
	r.mu.Lock()
	st, ok := r.byName[name]
	r.mu.Unlock()
	if !ok {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.loaded
}
