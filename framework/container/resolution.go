package container

import (
	"iter"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/km-arc/go-injector/framework/metrics"
	"github.com/km-arc/go-injector/framework/profile"
)

// shared is the state every injector of one container points at.
type shared struct {
	arena     *arena
	composite *CompositeScope
	registry  *Registry // nil for standalone injectors
	log       *zap.Logger
	metrics   *metrics.Collector
	hooks     *hooks

	pruneUncached bool
}

func newShared(log *zap.Logger, m *metrics.Collector) *shared {
	if log == nil {
		log = zap.NewNop()
	}
	sh := &shared{
		arena:   &arena{},
		log:     log,
		metrics: m,
		hooks:   &hooks{},
	}
	owner := sh.arena.alloc(sh, profile.Default, "")
	sh.composite = &CompositeScope{owner: owner, sh: sh}
	return sh
}

// profileInjectors yields every profile's collapsed injector by descending
// priority.
func (sh *shared) profileInjectors(t reflect.Type) iter.Seq[*Injector] {
	return func(yield func(*Injector) bool) {
		if sh.registry == nil {
			return
		}
		for in := range sh.registry.ResolveInjectors(t, profile.Profile{}, true) {
			if !yield(in) {
				return
			}
		}
	}
}

// instantiate runs b's provider against in and the lifecycle hooks around it.
func (sh *shared) instantiate(res *resolution, in *Injector, t reflect.Type, b *Binding) (any, error) {
	if b.provider == nil {
		return nil, &ResolveError{Type: t, Profile: in.profile, Err: ErrNilProvider}
	}
	sh.hooks.fireBefore(t, in.profile)

	v, err := b.provider(injectorResolver{in: in, res: res})
	if err != nil {
		return nil, &ResolveError{Type: t, Profile: in.profile, Err: err}
	}
	if pc, ok := v.(PostConstructor); ok {
		if err := pc.PostConstruct(); err != nil {
			return nil, &ResolveError{Type: t, Profile: in.profile, Err: err}
		}
	}

	sh.hooks.fireAfter(t, v)
	return v, nil
}

// ── Resolution path ───────────────────────────────────────────────────────────

// Overrides short-circuit resolution for the listed types. They are threaded
// through every nested lookup of a single request.
type Overrides map[reflect.Type]any

// Set records v as the value for T.
func Set[T any](o Overrides, v T) Overrides {
	if o == nil {
		o = Overrides{}
	}
	o[TypeOf[T]()] = v
	return o
}

type activeKey struct {
	scope any
	t     reflect.Type
}

// resolution is the state of one top-level request. It is never shared
// between goroutines, so it needs no lock.
type resolution struct {
	overrides Overrides
	active    map[activeKey]bool
}

func newResolution(o Overrides) *resolution {
	return &resolution{overrides: o, active: make(map[activeKey]bool)}
}

func (r *resolution) override(t reflect.Type) (any, bool) {
	if r.overrides == nil {
		return nil, false
	}
	v, ok := r.overrides[t]
	return v, ok
}

// enter marks k as in progress; false means k is already on the path.
func (r *resolution) enter(k activeKey) bool {
	if r.active[k] {
		return false
	}
	r.active[k] = true
	return true
}

func (r *resolution) leave(k activeKey) { delete(r.active, k) }

type injectorResolver struct {
	in  *Injector
	res *resolution
}

func (r injectorResolver) Resolve(t reflect.Type) (any, error) { return r.in.resolve(r.res, t) }
func (r injectorResolver) Profile() profile.Profile            { return r.in.profile }

// ── Value cache ───────────────────────────────────────────────────────────────

// valueCache is a check-then-set store: the first value written for a type
// wins, so racing builders agree on one instance. The zero value is ready.
type valueCache struct {
	mu     sync.RWMutex
	values map[reflect.Type]any
}

// Cached returns the memoized value for t.
func (c *valueCache) Cached(t reflect.Type) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[t]
	return v, ok
}

// store memoizes v under t and every type of b, returning whichever value
// was stored first.
func (c *valueCache) store(b *Binding, t reflect.Type, v any) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = make(map[reflect.Type]any)
	}
	if cur, ok := c.values[t]; ok {
		return cur
	}
	c.values[t] = v
	if b != nil {
		for _, bt := range b.types {
			if _, ok := c.values[bt]; !ok {
				c.values[bt] = v
			}
		}
	}
	return v
}

func (c *valueCache) evict(types ...reflect.Type) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range types {
		delete(c.values, t)
	}
}

// Types lists the cached types.
func (c *valueCache) Types() []reflect.Type {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]reflect.Type, 0, len(c.values))
	for t := range c.values {
		out = append(out, t)
	}
	return out
}

// Len returns the number of cached entries.
func (c *valueCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}
