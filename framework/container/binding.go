package container

import (
	"reflect"
	"sync/atomic"

	"github.com/km-arc/go-injector/framework/profile"
)

var bindingIDs atomic.Uint64

// Binding associates one or more types with a provider and a scope. A
// binding is never mutated after creation; a later registration replaces it.
type Binding struct {
	id       uint64
	types    []reflect.Type
	provider Provider
	deps     []reflect.Type
	scope    Scope
	profile  profile.Profile
	unit     string
	lazy     bool // loads its configuration unit on first use
}

// NewBinding creates a binding for types (the first is the primary type, the
// rest are aliases). deps lists the types the provider is known to request.
func NewBinding(types []reflect.Type, provider Provider, scope Scope, deps ...reflect.Type) *Binding {
	return &Binding{
		id:       bindingIDs.Add(1),
		types:    dedupeTypes(types),
		provider: provider,
		deps:     deps,
		scope:    scope,
	}
}

func (b *Binding) Type() reflect.Type       { return b.types[0] }
func (b *Binding) Types() []reflect.Type    { return append([]reflect.Type(nil), b.types...) }
func (b *Binding) Deps() []reflect.Type     { return append([]reflect.Type(nil), b.deps...) }
func (b *Binding) Scope() Scope             { return b.scope }
func (b *Binding) Profile() profile.Profile { return b.profile }

// Unit names the configuration unit that declared the binding, if any.
func (b *Binding) Unit() string { return b.unit }

// inProfile copies b for registration under p.
func (b *Binding) inProfile(p profile.Profile) *Binding {
	nb := *b
	nb.id = bindingIDs.Add(1)
	nb.profile = p
	return &nb
}

// promoted returns the composite-scoped binding installed into the owner
// injector after a cross-scope fallback resolved b to v.
func (b *Binding) promoted(v any) *Binding {
	nb := *b
	nb.id = bindingIDs.Add(1)
	nb.provider = Value(v)
	nb.scope = compositeScope
	return &nb
}

func dedupeTypes(types []reflect.Type) []reflect.Type {
	out := make([]reflect.Type, 0, len(types))
	seen := make(map[reflect.Type]bool, len(types))
	for _, t := range types {
		if t == nil || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// ── Registration options ──────────────────────────────────────────────────────

type registration struct {
	profiles []profile.Profile
	aliases  []reflect.Type
	deps     []reflect.Type
	unit     string
	deferred bool
	lazy     bool
}

// RegisterOption customises a Register* call.
type RegisterOption func(*registration)

// InProfiles registers the binding under each of ps. Without it the binding
// goes to profile.Default.
func InProfiles(ps ...profile.Profile) RegisterOption {
	return func(r *registration) { r.profiles = append(r.profiles, ps...) }
}

// As binds the same provider under additional types.
func As(types ...reflect.Type) RegisterOption {
	return func(r *registration) { r.aliases = append(r.aliases, types...) }
}

// DependsOn declares dependency types for providers that are not built from
// a constructor function.
func DependsOn(types ...reflect.Type) RegisterOption {
	return func(r *registration) { r.deps = append(r.deps, types...) }
}

func fromUnit(name string, deferred bool) RegisterOption {
	return func(r *registration) {
		r.unit = name
		r.deferred = deferred
	}
}

func lazy() RegisterOption {
	return func(r *registration) { r.lazy = true }
}

func applyRegisterOptions(opts []RegisterOption) registration {
	var r registration
	for _, opt := range opts {
		opt(&r)
	}
	if len(r.profiles) == 0 {
		r.profiles = []profile.Profile{profile.Default}
	}
	return r
}
