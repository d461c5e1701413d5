package container

import (
	"iter"
	"reflect"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/km-arc/go-injector/framework/profile"
	"github.com/km-arc/go-injector/framework/stripe"
)

// Registry maps each profile to its Field and enforces the rule that a type
// has at most one singleton binding per profile.
//
// Registrations for different profiles (and different configuration units)
// only contend on their own lock stripe.
type Registry struct {
	sh       *shared
	profiles *profile.Registry
	locks    *stripe.Locks

	mu          sync.RWMutex
	fields      map[string]*Field
	index       map[reflect.Type][]*Binding
	collections map[reflect.Type]bool
	units       map[string]*unitRecord
}

type unitRecord struct {
	name     string
	value    any
	bindings []reflect.Type
	profile  profile.Profile
}

// BindingInfo is a printable description of one registered binding.
type BindingInfo struct {
	Type    string   `json:"type"`
	Aliases []string `json:"aliases,omitempty"`
	Scope   string   `json:"scope"`
	Profile string   `json:"profile"`
	Unit    string   `json:"unit,omitempty"`
	Deps    []string `json:"deps,omitempty"`
}

func newRegistry(sh *shared, profiles *profile.Registry) *Registry {
	r := &Registry{
		sh:          sh,
		profiles:    profiles,
		locks:       stripe.New(stripe.DefaultSize),
		fields:      make(map[string]*Field),
		index:       make(map[reflect.Type][]*Binding),
		collections: make(map[reflect.Type]bool),
		units:       make(map[string]*unitRecord),
	}
	sh.registry = r
	return r
}

// ── Fields ────────────────────────────────────────────────────────────────────

func (r *Registry) lookupField(p profile.Profile) (*Field, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.fields[p.Key()]
	return f, ok
}

// field returns p's Field, creating it on first use.
func (r *Registry) field(p profile.Profile) *Field {
	if f, ok := r.lookupField(p); ok {
		return f
	}
	mu := r.locks.For("profile:" + p.Key())
	mu.Lock()
	defer mu.Unlock()
	if f, ok := r.lookupField(p); ok {
		return f
	}
	f := newField(p, r.sh, mu)
	r.mu.Lock()
	r.fields[p.Key()] = f
	r.mu.Unlock()
	return f
}

// Field returns the Field of a profile that has received registrations.
func (r *Registry) Field(name string) (*Field, error) {
	p, ok := r.profiles.Lookup(name)
	if !ok {
		return nil, &ProfileBindingNotExistedError{Profile: name}
	}
	f, ok := r.lookupField(p)
	if !ok {
		return nil, &ProfileBindingNotExistedError{Profile: name}
	}
	return f, nil
}

// sortedFields snapshots the fields in resolution order.
func (r *Registry) sortedFields() []*Field {
	r.mu.RLock()
	out := make([]*Field, 0, len(r.fields))
	for _, f := range r.fields {
		out = append(out, f)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Field) int { return profile.Compare(a.profile, b.profile) })
	return out
}

// Profiles lists the profiles with a Field, highest priority first.
func (r *Registry) Profiles() []profile.Profile {
	fs := r.sortedFields()
	out := make([]profile.Profile, len(fs))
	for i, f := range fs {
		out[i] = f.profile
	}
	return out
}

// canonical maps p onto the priority first registered for its name.
func (r *Registry) canonical(p profile.Profile) profile.Profile {
	if p.IsZero() {
		return profile.Default
	}
	return r.profiles.GetOrCreate(p.Name(), p.Priority())
}

// ── Fragment intake ───────────────────────────────────────────────────────────

// RegisterInjector queues frag under p.
func (r *Registry) RegisterInjector(frag *Injector, p profile.Profile) {
	r.field(r.canonical(p)).Register(frag)
}

// RegisterConfigInjector queues frag under p as produced by the named
// configuration unit. value is the unit itself; bindings lists the types it
// declared.
func (r *Registry) RegisterConfigInjector(frag *Injector, unit string, value any, bindings []reflect.Type, p profile.Profile) {
	p = r.canonical(p)
	r.declareUnit(unit, value, p, bindings...)
	r.field(p).RegisterConfig(unit, frag)
}

// declareUnit records a configuration unit; the first non-nil value sticks.
func (r *Registry) declareUnit(unit string, value any, p profile.Profile, bindings ...reflect.Type) {
	r.locks.With("unit:"+unit, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		rec, ok := r.units[unit]
		if !ok {
			rec = &unitRecord{name: unit, profile: p}
			r.units[unit] = rec
		}
		if rec.value == nil {
			rec.value = value
		}
		rec.bindings = append(rec.bindings, bindings...)
	})
}

// Unit returns the configuration unit registered under name.
func (r *Registry) Unit(name string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.units[name]
	if !ok {
		return nil, &ConfigNotExistedError{Unit: name}
	}
	return rec.value, nil
}

// UnitBindings lists the types the named unit declared.
func (r *Registry) UnitBindings(name string) ([]reflect.Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.units[name]
	if !ok {
		return nil, &ConfigNotExistedError{Unit: name}
	}
	return append([]reflect.Type(nil), rec.bindings...), nil
}

// ResolveInjectors yields candidate injectors for t: p's own injector first
// when p has one, then every other profile by descending priority. A nil t
// yields every injector; otherwise injectors that cannot see t are skipped.
// With doCollapse unset nothing is merged and fields without a usable
// injector are skipped.
//
// The sequence is lazy: each field is collapsed only when reached.
func (r *Registry) ResolveInjectors(t reflect.Type, p profile.Profile, doCollapse bool) iter.Seq[*Injector] {
	return func(yield func(*Injector) bool) {
		var first *Field
		if !p.IsZero() {
			if f, ok := r.lookupField(p); ok {
				first = f
				if in := f.Retrieve(doCollapse); in != nil && visible(in, t) {
					if !yield(in) {
						return
					}
				}
			}
		}
		for _, f := range r.sortedFields() {
			if f == first {
				continue
			}
			in := f.Retrieve(doCollapse)
			if in == nil || !visible(in, t) {
				continue
			}
			if !yield(in) {
				return
			}
		}
	}
}

func visible(in *Injector, t reflect.Type) bool {
	return t == nil || in.Contains(t)
}

// ── Components ────────────────────────────────────────────────────────────────

// RegisterComponent registers b under each of ps (profile.Default when
// empty).
//
// A second singleton binding for a type in the same profile fails with
// DuplicateSingletonBindingError. In a different profile it is accepted with
// a warning, and the composite owner keeps whichever binding belongs to the
// higher-priority profile. Any other binding for a type already bound in the
// same profile supersedes the earlier one.
func (r *Registry) RegisterComponent(b *Binding, ps ...profile.Profile) error {
	if len(ps) == 0 {
		ps = []profile.Profile{profile.Default}
	}
	for _, p := range ps {
		pb := b.inProfile(r.canonical(p))
		superseded, err := r.indexBinding(pb)
		if err != nil {
			return err
		}

		f := r.field(pb.profile)
		for _, old := range superseded {
			for _, t := range old.types {
				f.remove(t)
			}
			r.uninstall(old)
		}

		frag := r.sh.arena.alloc(r.sh, pb.profile, pb.unit)
		frag.put(pb)
		if pb.unit != "" {
			r.RegisterConfigInjector(frag, pb.unit, nil, pb.types, pb.profile)
		} else {
			f.Register(frag)
		}

		if pb.scope.IsSingletonLike() {
			r.installSingleton(pb)
		}
		r.sh.log.Debug("registered component",
			zap.String("type", typeName(pb.Type())),
			zap.Stringer("scope", pb.scope),
			zap.Stringer("profile", pb.profile))
	}
	return nil
}

// indexBinding checks b against the bindings already registered for its
// types and records it. It returns same-profile bindings that b replaces.
func (r *Registry) indexBinding(b *Binding) ([]*Binding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var superseded []*Binding
	for _, t := range b.types {
		for _, cur := range r.index[t] {
			sameProfile := cur.profile.Equal(b.profile)
			if cur.scope.IsSingletonLike() && b.scope.IsSingletonLike() {
				if sameProfile {
					return nil, &DuplicateSingletonBindingError{Type: t, Profile: b.profile}
				}
				r.sh.metrics.IncDuplicateSingleton()
				r.sh.log.Warn("singleton bound in more than one profile",
					zap.String("type", typeName(t)),
					zap.Stringer("existing", cur.profile),
					zap.Stringer("new", b.profile))
				continue
			}
			if sameProfile && !slices.Contains(superseded, cur) {
				superseded = append(superseded, cur)
			}
		}
	}

	for _, old := range superseded {
		r.unindex(old)
	}
	for _, t := range b.types {
		r.index[t] = append(r.index[t], b)
	}
	return superseded, nil
}

// unindex must hold mu.
func (r *Registry) unindex(b *Binding) {
	for _, t := range b.types {
		r.index[t] = slices.DeleteFunc(r.index[t], func(x *Binding) bool { return x.id == b.id })
		if len(r.index[t]) == 0 {
			delete(r.index, t)
		}
	}
}

// installSingleton puts b into the composite owner unless a binding from a
// higher-priority profile is already there.
func (r *Registry) installSingleton(b *Binding) {
	type displaced struct {
		t   reflect.Type
		old *Binding
	}
	var moved []displaced

	owner := r.sh.composite.owner
	owner.mu.Lock()
	for _, t := range b.types {
		cur, ok := owner.bindings[t]
		if ok && cur.scope.kind != kindComposite && profile.Compare(cur.profile, b.profile) <= 0 {
			continue
		}
		if ok && cur.id != b.id {
			moved = append(moved, displaced{t: t, old: cur})
		}
		owner.set(t, b)
	}
	owner.mu.Unlock()

	for _, d := range moved {
		r.displace(d.t, d.old)
	}
}

// displace hands the value old already built for t back to old's profile
// scope, so the new winner builds its own and old's profile keeps its
// instance.
func (r *Registry) displace(t reflect.Type, old *Binding) {
	cs := r.sh.composite
	v, ok := cs.Cached(t)
	if !ok {
		return
	}
	cs.evict(t)
	if f, ok := r.lookupField(old.profile); ok {
		f.scope.store(old, t, v)
	}
}

// uninstall takes b out of the composite owner, discarding its cached value.
// The best singleton binding still indexed for the type takes its place.
func (r *Registry) uninstall(b *Binding) {
	if !b.scope.IsSingletonLike() {
		return
	}
	owner := r.sh.composite.owner
	for _, t := range b.types {
		cur, ok := owner.local(t)
		if !ok || cur.id != b.id {
			continue
		}
		owner.remove(t)
		r.sh.composite.evict(t)

		r.mu.RLock()
		rest := slices.Clone(r.index[t])
		r.mu.RUnlock()
		for _, k := range rest {
			if k.scope.IsSingletonLike() {
				r.installSingleton(k)
			}
		}
	}
}

// dropTrampolines removes the lazy bindings unit declared for t that its
// real bindings did not supersede, so resolution falls through to wherever
// the unit bound t instead.
func (r *Registry) dropTrampolines(t reflect.Type, unit string) {
	r.mu.RLock()
	var stale []profile.Profile
	for _, b := range r.index[t] {
		if b.lazy && b.unit == unit {
			stale = append(stale, b.profile)
		}
	}
	r.mu.RUnlock()
	if len(stale) > 0 {
		r.RemoveBinding(t, stale...)
	}
}

// RegisterMultibindable records element as a contribution to the slice type
// collection in profile p.
func (r *Registry) RegisterMultibindable(collection, element reflect.Type, p profile.Profile) error {
	if err := validateMultibind(collection, element); err != nil {
		return err
	}
	r.mu.Lock()
	r.collections[collection] = true
	r.mu.Unlock()
	r.field(r.canonical(p)).RegisterMultibind(collection, element)
	return nil
}

// ContainsBinding reports whether t has been registered in any profile,
// without resolving anything.
func (r *Registry) ContainsBinding(t reflect.Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.index[t]) > 0 || r.collections[t]
}

// RemoveBinding drops t's bindings from ps, or from every profile when ps
// is empty. A cached singleton value for t is discarded with its binding;
// when another profile still holds a singleton binding for t, that one
// takes over in the composite owner.
func (r *Registry) RemoveBinding(t reflect.Type, ps ...profile.Profile) bool {
	r.mu.Lock()
	var removed, kept []*Binding
	for _, b := range r.index[t] {
		if len(ps) == 0 || slices.ContainsFunc(ps, b.profile.Equal) {
			removed = append(removed, b)
		} else {
			kept = append(kept, b)
		}
	}
	if len(kept) == 0 {
		delete(r.index, t)
	} else {
		r.index[t] = kept
	}
	r.mu.Unlock()

	if len(removed) == 0 {
		return false
	}
	for _, b := range removed {
		if f, ok := r.lookupField(b.profile); ok {
			f.remove(t)
		}
	}

	for _, b := range removed {
		r.uninstall(b)
	}
	if cur, ok := r.sh.composite.owner.local(t); ok && cur.scope.kind == kindComposite {
		r.sh.composite.owner.remove(t)
		r.sh.composite.evict(t)
	}
	r.sh.log.Debug("removed binding",
		zap.String("type", typeName(t)),
		zap.Int("bindings", len(removed)))
	return true
}

// remove drops t from p only. Used when fallback meets a binding that must
// not be shared.
func (r *Registry) remove(t reflect.Type, p profile.Profile) {
	r.RemoveBinding(t, p)
}

// Bindings describes the bindings registered under p.
func (r *Registry) Bindings(p profile.Profile) []BindingInfo {
	r.mu.RLock()
	seen := make(map[uint64]bool)
	var bs []*Binding
	for _, list := range r.index {
		for _, b := range list {
			if b.profile.Equal(p) && !seen[b.id] {
				seen[b.id] = true
				bs = append(bs, b)
			}
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(bs, func(a, b *Binding) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})
	out := make([]BindingInfo, 0, len(bs))
	for _, b := range bs {
		out = append(out, describe(b))
	}
	return out
}

func describe(b *Binding) BindingInfo {
	info := BindingInfo{
		Type:    typeName(b.Type()),
		Scope:   b.scope.String(),
		Profile: b.profile.String(),
		Unit:    b.unit,
	}
	for _, t := range b.types[1:] {
		info.Aliases = append(info.Aliases, typeName(t))
	}
	for _, t := range b.deps {
		info.Deps = append(info.Deps, typeName(t))
	}
	return info
}

// UnitNames lists the registered configuration units, sorted.
func (r *Registry) UnitNames() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.units))
	for name := range r.units {
		out = append(out, name)
	}
	r.mu.RUnlock()
	slices.Sort(out)
	return out
}

// ProfileInfo summarizes one profile's field.
type ProfileInfo struct {
	Name      string `json:"name"`
	Priority  int    `json:"priority"`
	Collapsed bool   `json:"collapsed"`
	Pending   int    `json:"pending"`
	Bindings  int    `json:"bindings"`
}

// DescribeProfiles summarizes every field, highest priority first. Nothing
// is collapsed.
func (r *Registry) DescribeProfiles() []ProfileInfo {
	fs := r.sortedFields()
	out := make([]ProfileInfo, 0, len(fs))
	for _, f := range fs {
		out = append(out, ProfileInfo{
			Name:      f.profile.Name(),
			Priority:  f.profile.Priority(),
			Collapsed: f.IsCollapsed(),
			Pending:   f.pending(),
			Bindings:  len(r.Bindings(f.profile)),
		})
	}
	return out
}

// SingletonInfo describes a binding held by the composite owner.
type SingletonInfo struct {
	BindingInfo
	Cached bool `json:"cached"`
}

// Singletons describes the composite owner's bindings and whether each
// value has been built yet.
func (r *Registry) Singletons() []SingletonInfo {
	cs := r.sh.composite
	bs := cs.owner.Bindings()
	out := make([]SingletonInfo, 0, len(bs))
	for _, b := range bs {
		_, cached := cs.Cached(b.Type())
		out = append(out, SingletonInfo{BindingInfo: describe(b), Cached: cached})
	}
	return out
}
