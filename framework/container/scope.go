package container

import (
	"reflect"
)

// ── Scope ─────────────────────────────────────────────────────────────────────

// ScopeKind enumerates caching disciplines.
type ScopeKind uint8

const (
	// KindTransient never caches: every resolution re-runs the provider.
	KindTransient ScopeKind = iota
	// KindSingleton caches once in the composite scope, visible from every profile.
	KindSingleton
	// KindProfile caches once per profile.
	KindProfile
	// KindPrototype never caches and builds through a registered Factory.
	KindPrototype

	// kindComposite marks a binding promoted into the composite scope by a
	// cross-scope fallback. It shares the singleton cache.
	kindComposite
)

// Scope is the caching policy attached to a binding.
type Scope struct {
	kind    ScopeKind
	factory reflect.Type
}

var (
	Singleton     = Scope{kind: KindSingleton}
	ProfileScoped = Scope{kind: KindProfile}
	Transient     = Scope{kind: KindTransient}

	compositeScope = Scope{kind: kindComposite}
)

// Prototype returns a scope that builds every instance through the Factory
// registered under factoryType. A nil factoryType is accepted on lookups and
// means "whichever factory the binding declares".
func Prototype(factoryType reflect.Type) Scope {
	return Scope{kind: KindPrototype, factory: factoryType}
}

func (s Scope) Kind() ScopeKind { return s.kind }

// Factory returns the factory type of a Prototype scope.
func (s Scope) Factory() reflect.Type { return s.factory }

// IsSingletonLike reports whether values live in the shared composite cache.
func (s Scope) IsSingletonLike() bool {
	return s.kind == KindSingleton || s.kind == kindComposite
}

// Caches reports whether resolved values are memoized anywhere.
func (s Scope) Caches() bool {
	return s.kind == KindSingleton || s.kind == KindProfile || s.kind == kindComposite
}

// accepts reports whether a binding scoped b satisfies a request filtered by s.
func (s Scope) accepts(b Scope) bool {
	switch {
	case s.IsSingletonLike():
		return b.IsSingletonLike()
	case s.kind == KindPrototype:
		return b.kind == KindPrototype && (s.factory == nil || s.factory == b.factory)
	}
	return s.kind == b.kind
}

func (s Scope) String() string {
	switch s.kind {
	case KindSingleton:
		return "singleton"
	case KindProfile:
		return "profile"
	case KindPrototype:
		if s.factory != nil {
			return "prototype(" + typeName(s.factory) + ")"
		}
		return "prototype"
	case kindComposite:
		return "composite"
	default:
		return "transient"
	}
}
