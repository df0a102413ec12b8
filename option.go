package atom

import "fmt"

// Option represents a value that may be absent.
// Some(v) is a present value, None is absence. Every chained operation on
// an absent Option yields an absent Option without running the callback.
type Option[T any] struct {
	value   T
	present bool
}

// Some constructs a present Option
func Some[T any](v T) Option[T] {
	return Option[T]{value: v, present: true}
}

// None constructs an absent Option
func None[T any]() Option[T] {
	return Option[T]{}
}

// FromPtr is present when p is non-nil
func FromPtr[T any](p *T) Option[T] {
	if p == nil {
		return None[T]()
	}
	return Some(*p)
}

// FromOk adapts the comma-ok idiom
func FromOk[T any](v T, ok bool) Option[T] {
	if !ok {
		return None[T]()
	}
	return Some(v)
}

// IsPresent reports whether the option holds a value
func (o Option[T]) IsPresent() bool {
	return o.present
}

// IsAbsent reports whether the option is empty
func (o Option[T]) IsAbsent() bool {
	return !o.present
}

// Get returns the value and whether it was present
func (o Option[T]) Get() (T, bool) {
	return o.value, o.present
}

// OrElse returns the contained value or def
func (o Option[T]) OrElse(def T) T {
	if o.present {
		return o.value
	}
	return def
}

// OrElseGet returns the contained value or the result of fn.
// fn is only called when the option is absent.
func (o Option[T]) OrElseGet(fn func() T) T {
	if o.present {
		return o.value
	}
	return fn()
}

// UnwrapOrFail returns the contained value, or a *NullAccessError that
// records the caller's location when the option is absent.
func (o Option[T]) UnwrapOrFail() (T, error) {
	if !o.present {
		var zero T
		return zero, newNullAccessError[T](1)
	}
	return o.value, nil
}

// MustUnwrap returns the contained value or panics with a *NullAccessError.
// Reserve it for call sites where absence has already been ruled out.
func (o Option[T]) MustUnwrap() T {
	if !o.present {
		panic(newNullAccessError[T](1))
	}
	return o.value
}

func (o Option[T]) String() string {
	if !o.present {
		return "None"
	}
	return fmt.Sprintf("Some(%v)", o.value)
}

// Map applies f to a present value. A panic raised by f propagates.
func Map[T, U any](o Option[T], f func(T) U) Option[U] {
	if !o.present {
		return None[U]()
	}
	return Some(f(o.value))
}

// TryMap is Map for fallible transformations. The error from f is
// returned as-is; absence is not an error.
func TryMap[T, U any](o Option[T], f func(T) (U, error)) (Option[U], error) {
	if !o.present {
		return None[U](), nil
	}
	v, err := f(o.value)
	if err != nil {
		return None[U](), err
	}
	return Some(v), nil
}

// Chain applies an Option-returning f and flattens the result
func Chain[T, U any](o Option[T], f func(T) Option[U]) Option[U] {
	if !o.present {
		return None[U]()
	}
	return f(o.value)
}

// Filter keeps a present value only when pred holds
func Filter[T any](o Option[T], pred func(T) bool) Option[T] {
	if !o.present || !pred(o.value) {
		return None[T]()
	}
	return o
}
