// Package override layers caller supplied decorators on top of a default
// implementation.
//
// Recipe implementations are structs whose fields are funcs. An override
// receives the implementation built so far and returns a new one, usually a
// copy with a few fields swapped for wrappers that call back into the
// original. The builder also exposes the fully built value so that a wrapper
// can dispatch through the outermost layer (for example, an API operation that
// calls a recipe operation which has itself been overridden).
package override

import (
	"reflect"

	"github.com/samber/oops"
)

// Func decorates original. b.Final() returns the completed value once Build
// has run.
type Func[T any] func(original T, b *Builder[T]) T

// Option configures a Builder.
type Option func(*options)

type options struct {
	allowNil bool
}

// AllowNilOperations disables the check that every func field is set after
// all overrides ran.
func AllowNilOperations() Option {
	return func(o *options) { o.allowNil = true }
}

// Builder accumulates overrides. It is not safe for concurrent use while
// being built; the built value may be shared freely.
type Builder[T any] struct {
	original T
	layers   []Func[T]
	opts     options
	final    *T
}

// New starts a builder from the default implementation.
func New[T any](original T, opts ...Option) *Builder[T] {
	b := &Builder[T]{original: original}
	for _, opt := range opts {
		opt(&b.opts)
	}
	return b
}

// Override appends a layer. Layers apply in the order added, so the last one
// added sits outermost. A nil fn is ignored.
func (b *Builder[T]) Override(fn Func[T]) *Builder[T] {
	if fn != nil {
		b.layers = append(b.layers, fn)
	}
	return b
}

// Build applies every layer and validates the result.
func (b *Builder[T]) Build() (T, error) {
	impl := b.original
	for _, layer := range b.layers {
		impl = layer(impl, b)
	}

	if !b.opts.allowNil {
		if err := checkComplete(impl); err != nil {
			var zero T
			return zero, err
		}
	}

	b.final = &impl
	return impl, nil
}

// Final returns the built value. It panics when called before Build, which
// only happens if an override invokes an operation while being constructed.
func (b *Builder[T]) Final() T {
	if b.final == nil {
		panic("override: Final called before Build")
	}
	return *b.final
}

func checkComplete(impl any) error {
	v := reflect.ValueOf(impl)
	if !v.IsValid() {
		return oops.Code("CONFIG_INVALID").Errorf("override produced a nil implementation")
	}

	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return oops.Code("CONFIG_INVALID").With("type", v.Type().String()).
				Errorf("override produced a nil implementation")
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Func:
		if v.IsNil() {
			return oops.Code("CONFIG_INVALID").Errorf("override produced a nil function")
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() || field.Type.Kind() != reflect.Func {
				continue
			}
			if v.Field(i).IsNil() {
				return oops.Code("CONFIG_INVALID").
					With("type", t.String()).
					With("operation", field.Name).
					Errorf("override removed operation %s of %s", field.Name, t.Name())
			}
		}
	}
	return nil
}
