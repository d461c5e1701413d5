package container

import (
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// registrar accumulates multibinding contributions for one profile:
// collection type → element types, in registration order.
type registrar struct {
	order   []reflect.Type
	pending map[reflect.Type][]reflect.Type
	bound   map[reflect.Type]*multibinding
}

func newRegistrar() *registrar {
	return &registrar{
		pending: make(map[reflect.Type][]reflect.Type),
		bound:   make(map[reflect.Type]*multibinding),
	}
}

func (r *registrar) add(collection, element reflect.Type) {
	if _, ok := r.pending[collection]; !ok {
		r.order = append(r.order, collection)
	}
	r.pending[collection] = append(r.pending[collection], element)
}

// multibinding resolves a slice-typed collection by resolving each
// contributed element type in turn.
type multibinding struct {
	collection reflect.Type

	mu       sync.RWMutex
	elements []reflect.Type
	has      map[reflect.Type]bool
}

func (mb *multibinding) satisfied(el reflect.Type) bool {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return mb.has[el]
}

func (mb *multibinding) add(els []reflect.Type) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	for _, el := range els {
		if !mb.has[el] {
			mb.has[el] = true
			mb.elements = append(mb.elements, el)
		}
	}
}

func (mb *multibinding) provide(r Resolver) (any, error) {
	mb.mu.RLock()
	els := append([]reflect.Type(nil), mb.elements...)
	mb.mu.RUnlock()

	out := reflect.MakeSlice(mb.collection, 0, len(els))
	for _, el := range els {
		v, err := r.Resolve(el)
		if err != nil {
			return nil, err
		}
		rv, err := assignable(mb.collection.Elem(), v)
		if err != nil {
			return nil, err
		}
		out = reflect.Append(out, rv)
	}
	return out.Interface(), nil
}

// collapseRegisterMultibind binds every collection with contributions not
// yet covered, one binding call per collection type. Elements an earlier
// collapse already registered are skipped. Must hold f.lock.
func (f *Field) collapseRegisterMultibind(in *Injector) {
	reg := f.multibinds
	for _, coll := range reg.order {
		mb, ok := reg.bound[coll]
		if !ok {
			mb = &multibinding{collection: coll, has: make(map[reflect.Type]bool)}
			reg.bound[coll] = mb
		}

		var unsatisfied []reflect.Type
		for _, el := range reg.pending[coll] {
			if !mb.satisfied(el) {
				unsatisfied = append(unsatisfied, el)
			}
		}
		if len(unsatisfied) == 0 {
			continue
		}
		f.multibind(in, mb, unsatisfied)
	}
}

func (f *Field) multibind(in *Injector, mb *multibinding, elements []reflect.Type) {
	mb.add(elements)
	if _, ok := in.lookup(mb.collection); !ok {
		b := NewBinding([]reflect.Type{mb.collection}, mb.provide, Transient, elements...)
		in.put(b.inProfile(f.profile))
	}
	f.sh.log.Debug("registered multibinding elements",
		zap.String("collection", typeName(mb.collection)),
		zap.Int("added", len(elements)),
		zap.Stringer("profile", f.profile))
}

func validateMultibind(collection, element reflect.Type) error {
	if collection == nil || collection.Kind() != reflect.Slice {
		return fmt.Errorf("%w: multibinding collection [%s] must be a slice type", ErrTypeMismatch, typeName(collection))
	}
	if element == nil || !element.AssignableTo(collection.Elem()) {
		return fmt.Errorf("%w: [%s] cannot be an element of [%s]", ErrTypeMismatch, typeName(element), typeName(collection))
	}
	return nil
}
