package container

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/muir/reflectutils"
)

const injectTag = "inject"

type injectOptions struct {
	optional bool
	profile  string
}

func parseInjectTag(tag string) (injectOptions, error) {
	var o injectOptions
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "":
		case part == "optional":
			o.optional = true
		case strings.HasPrefix(part, "profile="):
			o.profile = strings.TrimPrefix(part, "profile=")
		default:
			return o, fmt.Errorf("unknown inject option %q", part)
		}
	}
	return o, nil
}

// Autowire sets every field of the struct target points to that carries an
// inject tag, resolving the field's type from the container. Embedded structs
// are walked too.
//
//	type Handler struct {
//	    Store  Store       `inject:""`
//	    Clock  Clock       `inject:",optional"`
//	    Mailer Mailer      `inject:"profile=test"`
//	}
//
// opts apply to every field; a profile= tag overrides InProfile for its
// field.
func (c *Container) Autowire(target any, opts ...GetOption) error {
	rv := reflect.ValueOf(target)
	if !rv.IsValid() || rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("%w: got %T", ErrInvalidAutowireTarget, target)
	}
	sv := rv.Elem()

	var errs []error
	reflectutils.WalkStructElements(sv.Type(), func(field reflect.StructField) bool {
		tag, ok := field.Tag.Lookup(injectTag)
		if !ok {
			return true
		}
		if err := c.inject(sv, field, tag, opts); err != nil {
			errs = append(errs, err)
		}
		return false
	})
	return errors.Join(errs...)
}

func (c *Container) inject(sv reflect.Value, field reflect.StructField, tag string, opts []GetOption) error {
	o, err := parseInjectTag(tag)
	if err != nil {
		return fmt.Errorf("autowire %s.%s: %w", sv.Type().Name(), field.Name, err)
	}
	if !field.IsExported() {
		return fmt.Errorf("%w: field %s is not exported", ErrInvalidAutowireTarget, field.Name)
	}
	fv, err := sv.FieldByIndexErr(field.Index)
	if err != nil {
		return fmt.Errorf("autowire %s: %w", field.Name, err)
	}

	if o.profile != "" {
		p, ok := c.profiles.Lookup(o.profile)
		if !ok {
			return &ProfileBindingNotExistedError{Profile: o.profile}
		}
		opts = append(append([]GetOption(nil), opts...), InProfile(p))
	}
	v, err := c.Resolve(field.Type, opts...)
	if err != nil {
		if o.optional {
			return nil
		}
		return fmt.Errorf("autowire %s: %w", field.Name, err)
	}
	av, err := assignable(field.Type, v)
	if err != nil {
		return fmt.Errorf("autowire %s: %w", field.Name, err)
	}
	fv.Set(av)
	return nil
}

// Inject builds T's zero value and autowires it.
func Inject[T any](c *Container, opts ...GetOption) (*T, error) {
	v := new(T)
	if err := c.Autowire(v, opts...); err != nil {
		return nil, err
	}
	return v, nil
}
