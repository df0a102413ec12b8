package atom

import (
	"fmt"
	"reflect"
)

type singleton struct {
	value any
}

// instanceOf unwraps an installed instance. A nil interface installed
// by ctor unwraps to the zero T.
func instanceOf[T any](s *singleton) T {
	v, _ := s.value.(T)
	return v
}

// Registry holds at most one instance per type. Initialization is
// first-writer-wins: each slot is a register that starts out holding an
// uninitialized marker and is swapped to the constructed instance once.
type Registry struct {
	slots *TypeSafeCache[*Register[*singleton]]
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		slots: NewTypeSafeCache[*Register[*singleton]](),
	}
}

func (r *Registry) slot(typ reflect.Type) *Register[*singleton] {
	if reg, ok := r.slots.Load(typ); ok {
		return reg
	}
	return r.slots.LoadOrStore(typ, NewRegister[*singleton](nil, WithName("singleton."+typ.String())))
}

// Len returns the number of initialized instances
func (r *Registry) Len() int {
	n := 0
	r.slots.Range(func(_ CacheKey, reg *Register[*singleton]) bool {
		if reg.Load() != nil {
			n++
		}
		return true
	})
	return n
}

// Singleton returns the registry's instance of T, constructing it with
// ctor on first use. Concurrent callers may each run ctor; exactly one
// result is installed and returned to all of them. A ctor error leaves
// the slot uninitialized.
func Singleton[T any](r *Registry, ctor func() (T, error)) (T, error) {
	slot := r.slot(reflect.TypeFor[T]())

	snap := slot.LoadSnapshot()
	if s := snap.Value(); s != nil {
		return instanceOf[T](s), nil
	}

	v, err := ctor()
	if err != nil {
		var zero T
		return zero, fmt.Errorf("constructing singleton %s: %w", reflect.TypeFor[T](), err)
	}

	if _, ok := slot.CompareAndSwapSnapshot(snap, &singleton{value: v}); ok {
		return v, nil
	}

	// Lost the race; slots only ever move away from the marker once.
	return instanceOf[T](slot.Load()), nil
}

// Lookup returns the instance of T if it has been initialized
func Lookup[T any](r *Registry) Option[T] {
	reg, ok := r.slots.Load(reflect.TypeFor[T]())
	if !ok {
		return None[T]()
	}
	return Map(FromPtr(reg.Load()), func(s singleton) T {
		return instanceOf[T](&s)
	})
}
