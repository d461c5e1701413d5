package container

import (
	"reflect"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/km-arc/go-injector/framework/profile"
)

// Field is one profile's holding area for injector fragments that have not
// been merged yet. Collapse merges them lazily into one resolvable injector;
// the result is memoized until the next registration re-arms the latch.
//
// States: open (fragments pending) → collapsed → open again on Register.
type Field struct {
	profile profile.Profile
	sh      *shared
	scope   *ProfileScope
	lock    *sync.Mutex // the registry's stripe for this profile

	fragments     []*Injector
	units         []string
	unitFragments map[string][]*Injector
	collapsed     *Injector
	isCollapsed   atomic.Bool

	multibinds *registrar
}

func newField(p profile.Profile, sh *shared, lock *sync.Mutex) *Field {
	return &Field{
		profile:       p,
		sh:            sh,
		scope:         &ProfileScope{profile: p, sh: sh},
		lock:          lock,
		unitFragments: make(map[string][]*Injector),
		multibinds:    newRegistrar(),
	}
}

func (f *Field) Profile() profile.Profile { return f.profile }
func (f *Field) Scope() *ProfileScope     { return f.scope }

// IsCollapsed reports whether the latch is set.
func (f *Field) IsCollapsed() bool { return f.isCollapsed.Load() }

// Register queues a fragment and re-arms the latch. Values the profile scope
// cached for the fragment's types are dropped so the new bindings win.
func (f *Field) Register(frag *Injector) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.fragments = append(f.fragments, frag)
	f.rearm(frag)
}

// RegisterConfig queues a fragment declared by a configuration unit.
func (f *Field) RegisterConfig(unit string, frag *Injector) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if _, ok := f.unitFragments[unit]; !ok {
		f.units = append(f.units, unit)
	}
	f.unitFragments[unit] = append(f.unitFragments[unit], frag)
	f.rearm(frag)
}

// must hold lock.
func (f *Field) rearm(frag *Injector) {
	for _, e := range frag.entries() {
		f.scope.evict(e.t)
	}
	f.isCollapsed.Store(false)
}

// Collapse returns the profile's merged injector, merging pending fragments
// first if the latch is not set.
//
// Configuration-unit fragments merge first, in unit registration order,
// then plain fragments; within one collapse the first binding for a type
// wins. On a re-collapse the previous result becomes the parent of the new
// injector, so newer registrations shadow older ones and everything merged
// before stays reachable.
func (f *Field) Collapse() *Injector {
	if f.isCollapsed.Load() {
		if in := f.current(); in != nil {
			return in
		}
	}

	f.lock.Lock()
	defer f.lock.Unlock()
	if f.isCollapsed.Load() && f.collapsed != nil {
		return f.collapsed
	}

	batch := f.mergePending()
	merged := f.collapsed
	switch {
	case merged == nil && batch == nil:
		merged = f.sh.arena.alloc(f.sh, f.profile, "")
		merged.scope = f.scope
	case merged == nil:
		merged = batch
		merged.scope = f.scope
	case batch != nil:
		merged = merged.CreateChild(batch)
	}
	f.collapseRegisterMultibind(merged)

	f.collapsed = merged
	f.isCollapsed.Store(true)
	f.sh.metrics.IncCollapse(f.profile.Name())
	f.sh.log.Debug("collapsed profile fragments",
		zap.Stringer("profile", f.profile),
		zap.Int("injector", merged.id))
	return merged
}

// mergePending folds queued fragments into one fresh injector and clears the
// queues. Merged fragments are sealed. Must hold lock.
func (f *Field) mergePending() *Injector {
	var pending []*Injector
	for _, u := range f.units {
		pending = append(pending, f.unitFragments[u]...)
	}
	pending = append(pending, f.fragments...)

	f.units = nil
	f.unitFragments = make(map[string][]*Injector)
	f.fragments = nil

	if len(pending) == 0 {
		return nil
	}
	batch := f.sh.arena.alloc(f.sh, f.profile, pending[0].unit)
	for _, frag := range pending {
		batch.MergeFrom(frag)
		frag.Seal()
	}
	return batch
}

// Retrieve returns the collapsed injector when doCollapse is set. Otherwise
// it returns whatever exists without merging: the last collapse result, or
// the first pending fragment, or nil.
func (f *Field) Retrieve(doCollapse bool) *Injector {
	if doCollapse {
		return f.Collapse()
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.collapsed != nil {
		return f.collapsed
	}
	for _, u := range f.units {
		if frags := f.unitFragments[u]; len(frags) > 0 {
			return frags[0]
		}
	}
	if len(f.fragments) > 0 {
		return f.fragments[0]
	}
	return nil
}

func (f *Field) current() *Injector {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.collapsed
}

// RegisterMultibind records element as a contribution to collection and
// re-arms the latch.
func (f *Field) RegisterMultibind(collection, element reflect.Type) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.multibinds.add(collection, element)
	f.scope.evict(collection)
	f.isCollapsed.Store(false)
}

// remove drops t from pending fragments and from the collapsed chain.
func (f *Field) remove(t reflect.Type) {
	f.lock.Lock()
	defer f.lock.Unlock()
	for _, frag := range f.fragments {
		frag.remove(t)
	}
	for _, frags := range f.unitFragments {
		for _, frag := range frags {
			frag.remove(t)
		}
	}
	if f.collapsed != nil {
		f.collapsed.purge(t)
	}
	f.scope.evict(t)
}

// pending reports the number of fragments waiting for the next collapse.
func (f *Field) pending() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	n := len(f.fragments)
	for _, frags := range f.unitFragments {
		n += len(frags)
	}
	return n
}
