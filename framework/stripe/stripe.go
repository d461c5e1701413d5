// Package stripe provides a fixed-size table of mutexes indexed by a hash of
// a string key, so that operations on unrelated keys do not serialize on a
// single global lock.
package stripe

import (
	"hash/fnv"
	"strings"
	"sync"
)

// DefaultSize is the number of stripes used by New when size <= 0.
const DefaultSize = 64

// Locks is a striped lock table. The zero value is not usable; call New.
type Locks struct {
	stripes []sync.Mutex
}

// New creates a table with size stripes.
func New(size int) *Locks {
	if size <= 0 {
		size = DefaultSize
	}
	return &Locks{stripes: make([]sync.Mutex, size)}
}

// For returns the mutex guarding key. Keys are case-folded, so "Test" and
// "test" share a stripe.
func (l *Locks) For(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(key)))
	return &l.stripes[h.Sum32()%uint32(len(l.stripes))]
}

// With runs fn while holding the stripe for key.
func (l *Locks) With(key string, fn func()) {
	mu := l.For(key)
	mu.Lock()
	defer mu.Unlock()
	fn()
}

// Size returns the number of stripes.
func (l *Locks) Size() int { return len(l.stripes) }
