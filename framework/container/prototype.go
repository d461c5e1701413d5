package container

import (
	"fmt"
	"reflect"

	"github.com/km-arc/go-injector/framework/profile"
)

// Factory builds a fresh instance on every call. Factories themselves are
// resolved as singletons; the instances they create are never cached.
//
// Overrides short-circuit resolution of the listed dependency types for the
// instance being created.
type Factory interface {
	Create(p profile.Profile, o Overrides) (any, error)
}

// ── Constructor-backed factory ────────────────────────────────────────────────

// PrototypeFactory runs a constructor against the requested profile's
// injector each time Create is called.
type PrototypeFactory[T any] struct {
	c        *Container
	provider Provider
	deps     []reflect.Type
}

// Create implements Factory.
func (f *PrototypeFactory[T]) Create(p profile.Profile, o Overrides) (any, error) {
	in := f.c.injectorFor(p)
	return f.provider(injectorResolver{in: in, res: newResolution(o)})
}

// New is the typed form of Create.
func (f *PrototypeFactory[T]) New(p profile.Profile, o Overrides) (T, error) {
	var zero T
	v, err := f.Create(p, o)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: prototype [%s] built %T", ErrTypeMismatch, typeName(TypeOf[T]()), v)
	}
	return typed, nil
}

// Deps lists the constructor's parameter types.
func (f *PrototypeFactory[T]) Deps() []reflect.Type { return append([]reflect.Type(nil), f.deps...) }

// RegisterPrototype binds T so that every resolution calls ctor anew. The
// generated *PrototypeFactory[T] is registered as a singleton.
//
//	container.RegisterPrototype[*Request](c, func(cfg *Config) *Request {
//	    return &Request{Timeout: cfg.Timeout}
//	})
func RegisterPrototype[T any](c *Container, ctor any, opts ...RegisterOption) error {
	provider, out, deps, err := Constructor(ctor)
	if err != nil {
		return err
	}
	t := TypeOf[T]()
	if !out.AssignableTo(t) {
		return fmt.Errorf("%w: constructor returns %s, not [%s]", ErrTypeMismatch, out, typeName(t))
	}

	f := &PrototypeFactory[T]{c: c, provider: provider, deps: deps}
	ft := TypeOf[*PrototypeFactory[T]]()
	reg := applyRegisterOptions(opts)
	factoryOpts := []RegisterOption{InProfiles(reg.profiles...)}
	if reg.unit != "" {
		factoryOpts = append(factoryOpts, fromUnit(reg.unit, reg.deferred))
	}
	if err := c.RegisterComponentValue(ft, f, factoryOpts...); err != nil {
		return err
	}
	return c.RegisterComponentBinding(t, nil, Prototype(ft), append(opts, DependsOn(deps...))...)
}

// ── Builder ───────────────────────────────────────────────────────────────────

// PrototypeBuilder collects overrides for one prototype creation.
//
//	conn, err := c.Prototype(container.TypeOf[*Conn]()).
//	    In(test).
//	    Needs(container.TypeOf[Dialer]()).Give(fakeDialer).
//	    Create()
type PrototypeBuilder struct {
	c         *Container
	t         reflect.Type
	profile   profile.Profile
	needs     reflect.Type
	overrides Overrides
}

// Prototype starts a builder for a fresh instance of t.
func (c *Container) Prototype(t reflect.Type) *PrototypeBuilder {
	return &PrototypeBuilder{c: c, t: t, overrides: Overrides{}}
}

// In selects the profile the instance is created for.
func (b *PrototypeBuilder) In(p profile.Profile) *PrototypeBuilder {
	b.profile = p
	return b
}

// Needs names the dependency the next Give applies to.
func (b *PrototypeBuilder) Needs(t reflect.Type) *PrototypeBuilder {
	b.needs = t
	return b
}

// Give supplies the value for the type named by the last Needs.
func (b *PrototypeBuilder) Give(v any) *PrototypeBuilder {
	if b.needs != nil {
		b.overrides[b.needs] = v
		b.needs = nil
	}
	return b
}

// Create builds the instance.
func (b *PrototypeBuilder) Create() (any, error) {
	opts := []GetOption{WithScope(Prototype(nil)), WithOverrides(b.overrides)}
	if !b.profile.IsZero() {
		opts = append(opts, InProfile(b.profile))
	}
	return b.c.Resolve(b.t, opts...)
}
