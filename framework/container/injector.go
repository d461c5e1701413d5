package container

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/km-arc/go-injector/framework/metrics"
	"github.com/km-arc/go-injector/framework/profile"
)

// ── Arena ─────────────────────────────────────────────────────────────────────

const noParent = -1

// arena owns every injector of a container. Injectors refer to each other
// (parent links) by slot index, never by pointer.
type arena struct {
	mu    sync.RWMutex
	slots []*Injector
}

func (a *arena) alloc(sh *shared, p profile.Profile, unit string) *Injector {
	a.mu.Lock()
	defer a.mu.Unlock()
	in := &Injector{
		id:       len(a.slots),
		parent:   noParent,
		profile:  p,
		unit:     unit,
		sh:       sh,
		bindings: make(map[reflect.Type]*Binding),
	}
	a.slots = append(a.slots, in)
	return in
}

func (a *arena) at(id int) *Injector {
	if id == noParent {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.slots[id]
}

func (a *arena) len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.slots)
}

// ── Injector ──────────────────────────────────────────────────────────────────

// Injector is one composable registry of bindings. Fragments created at
// registration time are merged ("collapsed") into a single resolvable
// injector per profile; the container's composite injector owns every
// singleton binding.
type Injector struct {
	id      int
	parent  int
	profile profile.Profile
	unit    string
	sh      *shared
	scope   *ProfileScope // set once the injector is a profile's collapse result

	mu       sync.RWMutex
	bindings map[reflect.Type]*Binding
	order    []reflect.Type

	immutable atomic.Bool
}

// NewInjector creates a standalone injector for p. It is its own composite
// owner, so singletons resolve and cache without a container around it.
func NewInjector(p profile.Profile, log *zap.Logger, m *metrics.Collector) *Injector {
	sh := newShared(log, m)
	owner := sh.composite.owner
	owner.profile = p
	return owner
}

func (in *Injector) ID() int                  { return in.id }
func (in *Injector) Profile() profile.Profile { return in.profile }

// Unit names the configuration unit the injector was built for, if any.
func (in *Injector) Unit() string { return in.unit }

// Scope returns the profile cache attached by collapse, or nil.
func (in *Injector) Scope() *ProfileScope { return in.scope }

// Parent returns the injector this one was created as a child of.
func (in *Injector) Parent() *Injector { return in.sh.arena.at(in.parent) }

// Seal makes the injector immutable; later Bind calls fail.
func (in *Injector) Seal() { in.immutable.Store(true) }

func (in *Injector) Sealed() bool { return in.immutable.Load() }

// Bind adds a binding for t to this injector.
//
//	in.Bind(container.TypeOf[Clock](), container.Value(realClock{}), container.Singleton)
func (in *Injector) Bind(t reflect.Type, provider Provider, scope Scope, deps ...reflect.Type) error {
	if provider == nil && scope.kind != KindPrototype {
		return fmt.Errorf("%w for [%s]", ErrNilProvider, typeName(t))
	}
	return in.Add(NewBinding([]reflect.Type{t}, provider, scope, deps...))
}

// Add installs a prepared binding under all of its types.
func (in *Injector) Add(b *Binding) error {
	if in.Sealed() {
		return &ImmutableInjectorError{Injector: in.id, Type: b.Type()}
	}
	if b.profile.IsZero() {
		b = b.inProfile(in.profile)
	}
	in.put(b)
	return nil
}

// put installs b regardless of the immutable flag; promotions and merges
// performed by the engine itself use it.
func (in *Injector) put(b *Binding) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for _, t := range b.types {
		in.set(t, b)
	}
}

// putIfAbsent installs b under each of its types not already bound locally.
func (in *Injector) putIfAbsent(b *Binding) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for _, t := range b.types {
		if _, ok := in.bindings[t]; !ok {
			in.set(t, b)
		}
	}
}

// set must hold mu.
func (in *Injector) set(t reflect.Type, b *Binding) {
	if _, ok := in.bindings[t]; !ok {
		in.order = append(in.order, t)
	}
	in.bindings[t] = b
}

// remove drops t from this injector only.
func (in *Injector) remove(t reflect.Type) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if _, ok := in.bindings[t]; !ok {
		return false
	}
	delete(in.bindings, t)
	for i, ot := range in.order {
		if ot == t {
			in.order = append(in.order[:i], in.order[i+1:]...)
			break
		}
	}
	return true
}

// purge drops t from this injector and every ancestor.
func (in *Injector) purge(t reflect.Type) {
	for cur := in; cur != nil; cur = cur.Parent() {
		cur.remove(t)
	}
}

// local returns the binding registered on this injector itself.
func (in *Injector) local(t reflect.Type) (*Binding, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	b, ok := in.bindings[t]
	return b, ok
}

// lookup searches this injector, then its ancestors.
func (in *Injector) lookup(t reflect.Type) (*Binding, bool) {
	for cur := in; cur != nil; cur = cur.Parent() {
		if b, ok := cur.local(t); ok {
			return b, true
		}
	}
	return nil, false
}

// Binding returns the binding that would serve t.
func (in *Injector) Binding(t reflect.Type) (*Binding, bool) { return in.lookup(t) }

// Contains reports whether t is bound here or in an ancestor.
func (in *Injector) Contains(t reflect.Type) bool {
	_, ok := in.lookup(t)
	return ok
}

type entry struct {
	t reflect.Type
	b *Binding
}

// entries lists local bindings in registration order.
func (in *Injector) entries() []entry {
	in.mu.RLock()
	defer in.mu.RUnlock()
	out := make([]entry, 0, len(in.order))
	for _, t := range in.order {
		out = append(out, entry{t: t, b: in.bindings[t]})
	}
	return out
}

// Bindings returns the distinct local bindings in registration order.
func (in *Injector) Bindings() []*Binding {
	seen := make(map[uint64]bool)
	var out []*Binding
	for _, e := range in.entries() {
		if !seen[e.b.id] {
			seen[e.b.id] = true
			out = append(out, e.b)
		}
	}
	return out
}

// ── Merging ───────────────────────────────────────────────────────────────────

// MergeFrom copies other's local bindings into in and returns in. A type
// already bound in in is kept, except that a singleton binding gives way to
// a composite-promoted one for the same type; the composite cache is keyed
// by type, so an instance that was already built stays the same object.
func (in *Injector) MergeFrom(other *Injector) *Injector {
	if other == nil || other == in {
		return in
	}
	incoming := other.entries()

	in.mu.Lock()
	defer in.mu.Unlock()
	for _, e := range incoming {
		cur, ok := in.bindings[e.t]
		switch {
		case !ok:
			in.set(e.t, e.b)
		case cur.scope.IsSingletonLike() && e.b.scope.kind == kindComposite:
			in.set(e.t, e.b)
		}
	}
	return in
}

// CreateChild returns a new injector whose parent is in, with other merged
// into it. other is sealed afterwards so later changes to it cannot
// invalidate state the child already resolved.
func (in *Injector) CreateChild(other *Injector) *Injector {
	child := in.sh.arena.alloc(in.sh, in.profile, in.unit)
	child.parent = in.id
	child.scope = in.scope
	child.MergeFrom(other)
	if other != nil {
		other.Seal()
	}
	return child
}

// ── Resolution ────────────────────────────────────────────────────────────────

// ResolveLocal produces t from this injector, its ancestors and the caches
// attached to it. It never consults other profiles directly, although the
// scopes it builds through may fall back to them.
//
// An optional filter restricts which binding scope may answer.
func (in *Injector) ResolveLocal(t reflect.Type, filter ...Scope) (any, error) {
	return in.resolveFiltered(newResolution(nil), t, filter)
}

func (in *Injector) resolveFiltered(res *resolution, t reflect.Type, filter []Scope) (any, error) {
	if len(filter) == 0 {
		return in.resolve(res, t)
	}
	want := filter[0]
	if v, ok := res.override(t); ok {
		return v, nil
	}
	if b, ok := in.lookup(t); ok {
		if !want.accepts(b.scope) {
			return nil, &UnsatisfiedRequirementError{Type: t, Profile: in.profile}
		}
		return in.build(res, t, b)
	}
	if want.IsSingletonLike() {
		return in.fromComposite(res, t)
	}
	return nil, &UnsatisfiedRequirementError{Type: t, Profile: in.profile}
}

func (in *Injector) resolve(res *resolution, t reflect.Type) (any, error) {
	if v, ok := res.override(t); ok {
		return v, nil
	}
	if b, ok := in.lookup(t); ok {
		return in.build(res, t, b)
	}
	if in.scope != nil {
		if v, ok := in.scope.Cached(t); ok {
			return v, nil
		}
	}
	return in.fromComposite(res, t)
}

// fromComposite answers t from the shared singleton scope: its cache, then
// the owner's bindings.
func (in *Injector) fromComposite(res *resolution, t reflect.Type) (any, error) {
	cs := in.sh.composite
	if v, ok := cs.Cached(t); ok {
		return v, nil
	}
	if owner := cs.owner; owner != in {
		if b, ok := owner.lookup(t); ok {
			return owner.build(res, t, b)
		}
	}
	return nil, &UnsatisfiedRequirementError{Type: t, Profile: in.profile}
}

func (in *Injector) build(res *resolution, t reflect.Type, b *Binding) (any, error) {
	switch {
	case b.scope.IsSingletonLike():
		if in.scope != nil && !in.sh.composite.wins(t, b) {
			// shadowed by a higher-priority profile's singleton
			return in.scope.Get(res, t, b, in)
		}
		return in.sh.composite.Get(res, t, b)
	case b.scope.kind == KindProfile && in.scope != nil:
		return in.scope.Get(res, t, b, in)
	case b.scope.kind == KindPrototype:
		return in.prototype(res, t, b)
	default:
		return in.sh.instantiate(res, in, t, b)
	}
}

// prototype resolves the binding's factory (cached like any singleton) and
// asks it for a fresh instance.
func (in *Injector) prototype(res *resolution, t reflect.Type, b *Binding) (any, error) {
	ft := b.scope.factory
	if ft == nil {
		return nil, &ResolveError{Type: t, Profile: in.profile, Err: ErrNotFactory}
	}
	fv, err := in.resolve(res, ft)
	if err != nil {
		return nil, err
	}
	f, ok := fv.(Factory)
	if !ok {
		return nil, &ResolveError{Type: t, Profile: in.profile, Err: fmt.Errorf("%w: %T", ErrNotFactory, fv)}
	}
	v, err := f.Create(in.profile, res.overrides)
	if err != nil {
		return nil, &ResolveError{Type: t, Profile: in.profile, Err: err}
	}
	in.sh.metrics.IncPrototype()
	in.sh.hooks.fireAfter(t, v)
	return v, nil
}
