package container

import (
	"fmt"
	"reflect"

	"github.com/muir/reflectutils"

	"github.com/km-arc/go-injector/framework/profile"
)

// ── Type keys ─────────────────────────────────────────────────────────────────

var (
	errorType    = reflect.TypeOf((*error)(nil)).Elem()
	resolverType = reflect.TypeOf((*Resolver)(nil)).Elem()
	profileType  = reflect.TypeOf(profile.Profile{})
)

// TypeOf returns the key for T. Interfaces work as expected:
//
//	container.TypeOf[UserRepository]()  // the interface, not a pointer to it
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return reflectutils.TypeName(t)
}

// ── Providers ─────────────────────────────────────────────────────────────────

// Resolver is what a provider sees while it runs: the injector currently
// building the value, restricted to the active resolution path.
type Resolver interface {
	Resolve(t reflect.Type) (any, error)
	Profile() profile.Profile
}

// Provider builds a value for a binding.
type Provider func(r Resolver) (any, error)

// Value returns a provider that always yields v.
func Value(v any) Provider {
	return func(Resolver) (any, error) { return v, nil }
}

// Func adapts a typed provider function.
//
//	container.Func(func(r container.Resolver) (*Repo, error) {
//	    db, err := container.Need[*sql.DB](r)
//	    ...
//	})
func Func[T any](fn func(r Resolver) (T, error)) Provider {
	return func(r Resolver) (any, error) {
		return fn(r)
	}
}

// Need resolves T through r inside a provider.
func Need[T any](r Resolver) (T, error) {
	var zero T
	v, err := r.Resolve(TypeOf[T]())
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: [%s] resolved to %T", ErrTypeMismatch, typeName(TypeOf[T]()), v)
	}
	return typed, nil
}

// Constructor adapts a plain function such as
//
//	func(db *sql.DB, log *zap.Logger) (*Repo, error)
//
// into a Provider. Every parameter is resolved from the container (a
// Resolver or profile.Profile parameter receives the active one), and the
// parameter types become the binding's declared dependencies. The function
// must return one value, optionally followed by an error.
func Constructor(fn any) (Provider, reflect.Type, []reflect.Type, error) {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return nil, nil, nil, fmt.Errorf("%w: %T is not a function", ErrInvalidConstructor, fn)
	}
	ft := v.Type()
	if ft.IsVariadic() {
		return nil, nil, nil, fmt.Errorf("%w: %s is variadic", ErrInvalidConstructor, ft)
	}
	switch {
	case ft.NumOut() == 1:
	case ft.NumOut() == 2 && ft.Out(1) == errorType:
	default:
		return nil, nil, nil, fmt.Errorf("%w: %s must return (T) or (T, error)", ErrInvalidConstructor, ft)
	}

	params := make([]reflect.Type, ft.NumIn())
	deps := make([]reflect.Type, 0, ft.NumIn())
	for i := range params {
		params[i] = ft.In(i)
		if params[i] != resolverType && params[i] != profileType {
			deps = append(deps, params[i])
		}
	}

	provider := func(r Resolver) (any, error) {
		args := make([]reflect.Value, len(params))
		for i, pt := range params {
			arg, err := argument(r, pt)
			if err != nil {
				return nil, err
			}
			args[i] = arg
		}
		out := v.Call(args)
		if len(out) == 2 && !out[1].IsNil() {
			return nil, out[1].Interface().(error)
		}
		return out[0].Interface(), nil
	}
	return provider, ft.Out(0), deps, nil
}

// argument resolves one constructor parameter.
func argument(r Resolver, t reflect.Type) (reflect.Value, error) {
	switch t {
	case resolverType:
		return reflect.ValueOf(&r).Elem(), nil
	case profileType:
		return reflect.ValueOf(r.Profile()), nil
	}
	v, err := r.Resolve(t)
	if err != nil {
		return reflect.Value{}, err
	}
	return assignable(t, v)
}

// assignable converts a resolved value into something reflect.Call or
// reflect.Value.Set accepts for t.
func assignable(t reflect.Type, v any) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(v)
	if !rv.Type().AssignableTo(t) {
		return reflect.Value{}, fmt.Errorf("%w: [%s] resolved to %s", ErrTypeMismatch, typeName(t), rv.Type())
	}
	return rv, nil
}
