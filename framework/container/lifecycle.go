package container

import (
	"reflect"
	"sync"

	"github.com/km-arc/go-injector/framework/profile"
)

// PostConstructor is implemented by values that need a final initialization
// step once their dependencies are injected. An error fails the resolution.
type PostConstructor interface {
	PostConstruct() error
}

// BeforeFunc runs before a provider builds a fresh value for t.
type BeforeFunc func(t reflect.Type, p profile.Profile)

// AfterFunc runs after a fresh value for t was built. Cache hits do not
// trigger it.
type AfterFunc func(t reflect.Type, instance any)

type hooks struct {
	mu     sync.RWMutex
	before []BeforeFunc
	after  []AfterFunc
}

func (h *hooks) onBefore(fn BeforeFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.before = append(h.before, fn)
}

func (h *hooks) onAfter(fn AfterFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.after = append(h.after, fn)
}

func (h *hooks) fireBefore(t reflect.Type, p profile.Profile) {
	h.mu.RLock()
	cbs := h.before
	h.mu.RUnlock()
	for _, cb := range cbs {
		cb(t, p)
	}
}

func (h *hooks) fireAfter(t reflect.Type, instance any) {
	h.mu.RLock()
	cbs := h.after
	h.mu.RUnlock()
	for _, cb := range cbs {
		cb(t, instance)
	}
}
