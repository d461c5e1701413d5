package container

import (
	"reflect"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/km-arc/go-injector/framework/metrics"
	"github.com/km-arc/go-injector/framework/profile"
)

// ── Composite scope ───────────────────────────────────────────────────────────

// CompositeScope is the process-wide cache for singleton values, shared by
// every injector of a container regardless of profile. Entries are only
// added, except when a binding is explicitly removed.
type CompositeScope struct {
	valueCache
	owner  *Injector
	sh     *shared
	flight singleflight.Group // first builds, keyed by binding id
}

// Owner returns the injector holding every singleton binding.
func (cs *CompositeScope) Owner() *Injector { return cs.owner }

// wins reports whether b is the binding the owner serves t with. Only the
// winner may fill the composite cache for t.
func (cs *CompositeScope) wins(t reflect.Type, b *Binding) bool {
	cur, ok := cs.owner.local(t)
	return !ok || cur.id == b.id
}

// adopt returns a value b already produced in its own profile's scope, from
// the time b was shadowed by a higher-priority singleton.
func (cs *CompositeScope) adopt(t reflect.Type, b *Binding) (any, bool) {
	if cs.sh.registry == nil {
		return nil, false
	}
	f, ok := cs.sh.registry.lookupField(b.profile)
	if !ok {
		return nil, false
	}
	return f.scope.Cached(t)
}

// Get returns the cached value for t or builds it with b against the owner.
// Concurrent first resolutions of one binding run its provider once.
// When the build fails only because a dependency is bound under a profile
// rather than as a singleton, the highest-priority profile able to produce
// that dependency is promoted into the composite scope and the build is
// retried. Later resolutions hit the cache.
func (cs *CompositeScope) Get(res *resolution, t reflect.Type, b *Binding) (any, error) {
	if v, ok := cs.Cached(t); ok {
		return v, nil
	}
	key := activeKey{scope: cs, t: b.Type()}
	if !res.enter(key) {
		return nil, &UnsatisfiedRequirementError{Type: t, Profile: cs.owner.profile, Cycle: true}
	}
	defer res.leave(key)

	v, err, _ := cs.flight.Do(strconv.FormatUint(b.id, 10), func() (any, error) {
		if v, ok := cs.Cached(t); ok {
			return v, nil
		}
		if v, ok := cs.adopt(t, b); ok {
			return cs.store(b, t, v), nil
		}
		return cs.build(res, t, b)
	})
	return v, err
}

func (cs *CompositeScope) build(res *resolution, t reflect.Type, b *Binding) (any, error) {
	tried := make(map[reflect.Type]bool)
	for {
		v, err := cs.sh.instantiate(res, cs.owner, t, b)
		if err == nil {
			return cs.store(b, t, v), nil
		}
		missing, ok := missingType(err)
		if !ok || missing == t || tried[missing] {
			return nil, err
		}
		tried[missing] = true
		if !cs.promote(res, missing) {
			return nil, err
		}
	}
}

// promote searches profile scopes by descending priority for a cacheable
// binding of d, copies the resolved value into the composite cache and the
// binding into the owner.
func (cs *CompositeScope) promote(res *resolution, d reflect.Type) bool {
	for in := range cs.sh.profileInjectors(d) {
		bd, ok := in.lookup(d)
		if !ok {
			continue
		}
		if bd.lazy {
			if _, err := in.build(res, d, bd); err != nil {
				continue
			}
			return cs.promote(res, d)
		}
		if !bd.scope.Caches() {
			cs.sh.skipUncached(in, d, bd)
			continue
		}
		v, err := in.build(res, d, bd)
		if err != nil {
			cs.sh.log.Debug("promotion candidate failed",
				zap.String("type", typeName(d)),
				zap.Stringer("profile", in.profile),
				zap.Error(err))
			continue
		}
		v = cs.store(bd, d, v)
		cs.owner.putIfAbsent(bd.promoted(v))
		cs.sh.metrics.IncPromotion(metrics.PromoteComposite)
		cs.sh.log.Debug("promoted profile binding into composite scope",
			zap.String("type", typeName(d)),
			zap.Stringer("profile", in.profile))
		return true
	}
	return false
}

// ── Profile scope ─────────────────────────────────────────────────────────────

// ProfileScope caches profile-scoped values for one profile. It also holds
// values bridged in from other profiles to satisfy dependencies.
type ProfileScope struct {
	valueCache
	profile profile.Profile
	sh      *shared
}

func (ps *ProfileScope) Profile() profile.Profile { return ps.profile }

// Get returns the cached value for t or builds it with b against in. A
// dependency missing from the profile is bridged from another profile's
// scope (descending priority) and the build retried. A type already being
// resolved through this scope on the current path is skipped, not re-entered.
func (ps *ProfileScope) Get(res *resolution, t reflect.Type, b *Binding, in *Injector) (any, error) {
	if v, ok := ps.Cached(t); ok {
		return v, nil
	}
	key := activeKey{scope: ps, t: t}
	if !res.enter(key) {
		return nil, &UnsatisfiedRequirementError{Type: t, Profile: ps.profile, Cycle: true}
	}
	defer res.leave(key)

	tried := make(map[reflect.Type]bool)
	for {
		v, err := ps.sh.instantiate(res, in, t, b)
		if err == nil {
			return ps.store(b, t, v), nil
		}
		missing, ok := missingType(err)
		if !ok || missing == t || tried[missing] {
			return nil, err
		}
		tried[missing] = true
		if !ps.bridge(res, missing) {
			return nil, err
		}
	}
}

// bridge resolves d in another profile and caches it here. Singleton
// bindings need no bridging: injectors already see the composite scope.
func (ps *ProfileScope) bridge(res *resolution, d reflect.Type) bool {
	for other := range ps.sh.profileInjectors(d) {
		if other.scope == ps {
			continue
		}
		bd, ok := other.lookup(d)
		if !ok {
			continue
		}
		if bd.lazy {
			if _, err := other.build(res, d, bd); err != nil {
				continue
			}
			return ps.bridge(res, d)
		}
		if !bd.scope.Caches() {
			ps.sh.skipUncached(other, d, bd)
			continue
		}
		v, err := other.build(res, d, bd)
		if err != nil {
			ps.sh.log.Debug("bridge candidate failed",
				zap.String("type", typeName(d)),
				zap.Stringer("from", other.profile),
				zap.Stringer("to", ps.profile),
				zap.Error(err))
			continue
		}
		ps.store(bd, d, v)
		ps.sh.metrics.IncPromotion(metrics.PromoteBridge)
		ps.sh.log.Debug("bridged dependency between profiles",
			zap.String("type", typeName(d)),
			zap.Stringer("from", other.profile),
			zap.Stringer("to", ps.profile))
		return true
	}
	return false
}

// skipUncached handles a fallback candidate whose binding must never be
// cached outside its own profile. With pruning enabled the binding is
// removed from that profile altogether.
func (sh *shared) skipUncached(in *Injector, d reflect.Type, bd *Binding) {
	if !sh.pruneUncached || sh.registry == nil {
		return
	}
	sh.log.Warn("pruning uncached binding met during fallback",
		zap.String("type", typeName(d)),
		zap.Stringer("profile", in.profile),
		zap.Stringer("scope", bd.scope))
	sh.registry.remove(d, in.profile)
}
