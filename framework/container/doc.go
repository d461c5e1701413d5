// Package container is a profile-aware dependency-injection runtime.
//
// # Overview
//
// Bindings map a type (a reflect.Type, usually obtained with TypeOf) to a
// provider and a scope. Every binding belongs to a profile: a named,
// prioritized environment such as "test" or "prod". Registrations without a
// profile go to profile.Default, which ranks below every real profile.
//
// Scopes decide where resolved values live:
//
//   - Singleton: one value for the whole container, shared by every profile
//   - ProfileScoped: one value per profile
//   - Prototype: a fresh value per resolution, built by a Factory
//   - Transient: a fresh value per resolution, built by the provider itself
//
// # Container Lifecycle
//
//  1. Create: c := container.New(container.WithLogger(log))
//  2. Register bindings and configuration units
//  3. Boot units: c.Units().Boot()
//  4. Seal: c.Seal(); later registrations fail with ImmutableInjectorError
//  5. Resolve
//
// # Bindings
//
//	test := c.Profile("test", 50)
//
//	// Singleton built from a constructor; its parameters are resolved too.
//	c.RegisterComponent(container.TypeOf[Store](), NewPostgresStore, container.Singleton)
//
//	// Per-profile value
//	c.RegisterComponent(nil, NewFakeMailer, container.ProfileScoped,
//	    container.InProfiles(test), container.As(container.TypeOf[Mailer]()))
//
//	// Pre-built value
//	container.ProvideValue[*Config](c, cfg)
//
//	// Fresh instance per resolution
//	container.RegisterPrototype[*Session](c, NewSession)
//
// # Resolving
//
//	// Untyped; nil when nothing can produce the type
//	v := c.Get(container.TypeOf[Store]())
//
//	// Generic
//	store, err := container.Resolve[Store](c, container.InProfile(test))
//
// Without InProfile, a singleton binding wins; otherwise profiles are tried
// by descending priority. With InProfile the named profile is tried first.
//
// # Cross-scope fallback
//
// A singleton may depend on a type bound only in some profile. The first
// time it is built, the dependency is taken from the highest-priority
// profile that can produce it and promoted into the shared singleton cache.
// Profile-scoped values fall back the same way across profiles.
//
// # Lazy collapse
//
// Each registration is stored as a small injector fragment. A profile's
// fragments are merged ("collapsed") into one injector the first time the
// profile is resolved; a later registration re-arms the merge.
package container
