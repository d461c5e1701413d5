package container

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/km-arc/go-injector/framework/profile"
)

// Sentinel errors; every typed error below unwraps to one of these so callers
// can use errors.Is without caring about the detail struct.
var (
	ErrDuplicateSingleton    = errors.New("container: duplicate singleton binding")
	ErrUnsatisfied           = errors.New("container: unsatisfied requirement")
	ErrProfileNotExisted     = errors.New("container: profile binding does not exist")
	ErrConfigNotExisted      = errors.New("container: configuration unit does not exist")
	ErrImmutable             = errors.New("container: injector is immutable")
	ErrTypeMismatch          = errors.New("container: type mismatch")
	ErrInvalidConstructor    = errors.New("container: invalid constructor")
	ErrNotFactory            = errors.New("container: prototype factory does not implement Factory")
	ErrNilProvider           = errors.New("container: nil provider")
	ErrUnsupportedScope      = errors.New("container: unsupported scope for this operation")
	ErrInvalidAutowireTarget = errors.New("container: autowire target must be a non-nil pointer to a struct")
)

// DuplicateSingletonBindingError is returned when a second Singleton binding
// for the same type is registered in the same profile.
type DuplicateSingletonBindingError struct {
	Type    reflect.Type
	Profile profile.Profile
}

func (e *DuplicateSingletonBindingError) Error() string {
	return fmt.Sprintf("container: singleton [%s] is already bound in profile %s", typeName(e.Type), e.Profile)
}

func (e *DuplicateSingletonBindingError) Unwrap() error { return ErrDuplicateSingleton }

// UnsatisfiedRequirementError reports a type the queried injector could not
// produce. Inside the engine it triggers cross-scope fallback; callers only
// see it when every fallback failed too.
type UnsatisfiedRequirementError struct {
	Type    reflect.Type
	Profile profile.Profile
	// Cycle is set when the type was skipped because it is already being
	// resolved on the current path.
	Cycle bool
}

func (e *UnsatisfiedRequirementError) Error() string {
	if e.Cycle {
		return fmt.Sprintf("container: [%s] is already being resolved in profile %s", typeName(e.Type), e.Profile)
	}
	return fmt.Sprintf("container: no binding for [%s] in profile %s", typeName(e.Type), e.Profile)
}

func (e *UnsatisfiedRequirementError) Unwrap() error { return ErrUnsatisfied }

// ProfileBindingNotExistedError is returned when a lookup names a profile that
// has never received a registration.
type ProfileBindingNotExistedError struct {
	Profile string
}

func (e *ProfileBindingNotExistedError) Error() string {
	return fmt.Sprintf("container: profile %q has no bindings", e.Profile)
}

func (e *ProfileBindingNotExistedError) Unwrap() error { return ErrProfileNotExisted }

// ConfigNotExistedError is returned when a lookup names a configuration unit
// that was never registered.
type ConfigNotExistedError struct {
	Unit string
}

func (e *ConfigNotExistedError) Error() string {
	return fmt.Sprintf("container: configuration unit %q is not registered", e.Unit)
}

func (e *ConfigNotExistedError) Unwrap() error { return ErrConfigNotExisted }

// ImmutableInjectorError is returned by any mutation after an injector (or the
// whole container) has been sealed.
type ImmutableInjectorError struct {
	Injector int
	Type     reflect.Type
}

func (e *ImmutableInjectorError) Error() string {
	if e.Type == nil {
		return fmt.Sprintf("container: injector #%d is sealed", e.Injector)
	}
	return fmt.Sprintf("container: cannot bind [%s]: injector #%d is sealed", typeName(e.Type), e.Injector)
}

func (e *ImmutableInjectorError) Unwrap() error { return ErrImmutable }

// ResolveError wraps a provider failure with the type being built.
type ResolveError struct {
	Type    reflect.Type
	Profile profile.Profile
	Err     error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("container: resolve [%s] in profile %s: %v", typeName(e.Type), e.Profile, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// missingType returns the type an UnsatisfiedRequirementError in err names.
func missingType(err error) (reflect.Type, bool) {
	var u *UnsatisfiedRequirementError
	if errors.As(err, &u) {
		return u.Type, true
	}
	return nil, false
}
