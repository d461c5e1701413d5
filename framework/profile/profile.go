// Package profile defines named, prioritized environments ("test", "prod",
// "validation", ...) used by the container to choose among alternative
// bindings for the same type.
package profile

import (
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/km-arc/go-injector/framework/stripe"
)

// ── Profile ───────────────────────────────────────────────────────────────────

const (
	// DefaultName is the name of the profile used when a registration names none.
	DefaultName = "main"

	// DefaultPriority sits below every real profile so explicit profiles
	// override the default one.
	DefaultPriority = math.MinInt32
)

// Default is the well-known fallback profile.
var Default = Profile{name: DefaultName, priority: DefaultPriority}

// Profile is an immutable (name, priority) pair. Higher priority wins.
type Profile struct {
	name     string
	priority int
}

// New creates a profile value. Prefer Registry.GetOrCreate so that the same
// name always maps to the same priority.
func New(name string, priority int) Profile {
	return Profile{name: name, priority: priority}
}

func (p Profile) Name() string  { return p.name }
func (p Profile) Priority() int { return p.priority }

// IsZero reports whether p is the unset profile.
func (p Profile) IsZero() bool { return p.name == "" }

// IsDefault reports whether p is the default profile.
func (p Profile) IsDefault() bool { return p.Equal(Default) }

// Key is the case-folded name, used for map lookups.
func (p Profile) Key() string { return strings.ToLower(p.name) }

// Equal compares names case-insensitively and priorities exactly.
func (p Profile) Equal(o Profile) bool {
	return p.priority == o.priority && strings.EqualFold(p.name, o.name)
}

func (p Profile) String() string {
	if p.IsZero() {
		return "<none>"
	}
	if p.priority == DefaultPriority {
		return p.name
	}
	return p.name + ":" + strconv.Itoa(p.priority)
}

// Compare orders profiles by descending priority, then by name. It is a
// total order suitable for slices.SortFunc.
func Compare(a, b Profile) int {
	switch {
	case a.priority > b.priority:
		return -1
	case a.priority < b.priority:
		return 1
	}
	return strings.Compare(a.Key(), b.Key())
}

// Sort orders ps in resolution order (highest priority first).
func Sort(ps []Profile) {
	slices.SortFunc(ps, Compare)
}

// ── Registry ──────────────────────────────────────────────────────────────────

// Registry hands out profiles by name. The first reference to a name fixes
// its priority; later references with a different priority get the
// original profile back.
type Registry struct {
	locks *stripe.Locks

	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewRegistry creates a registry that already knows the default profile.
func NewRegistry() *Registry {
	return &Registry{
		locks:    stripe.New(16),
		profiles: map[string]Profile{Default.Key(): Default},
	}
}

// GetOrCreate returns the profile registered under name, creating it with
// priority on first use.
//
//	test := reg.GetOrCreate("test", 50)
func (r *Registry) GetOrCreate(name string, priority int) Profile {
	if p, ok := r.Lookup(name); ok {
		return p
	}

	mu := r.locks.For(name)
	mu.Lock()
	defer mu.Unlock()

	if p, ok := r.Lookup(name); ok {
		return p
	}
	p := New(name, priority)
	r.mu.Lock()
	r.profiles[p.Key()] = p
	r.mu.Unlock()
	return p
}

// Lookup returns the profile registered under name, if any.
func (r *Registry) Lookup(name string) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[strings.ToLower(name)]
	return p, ok
}

// All returns every known profile in resolution order.
func (r *Registry) All() []Profile {
	r.mu.RLock()
	out := make([]Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	r.mu.RUnlock()
	Sort(out)
	return out
}
