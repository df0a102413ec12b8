package atom

import (
	"sync"
)

type CacheKey interface{}

// TypeSafeCache is a typed wrapper over sync.Map
type TypeSafeCache[T any] struct {
	data sync.Map
}

func NewTypeSafeCache[T any]() *TypeSafeCache[T] {
	return &TypeSafeCache[T]{}
}

func (c *TypeSafeCache[T]) Load(key CacheKey) (T, bool) {
	value, ok := c.data.Load(key)
	if !ok {
		var zero T
		return zero, false
	}
	return value.(T), true
}

// LoadOrStore returns the existing value for key if present, otherwise
// stores and returns value. The first writer's value wins.
func (c *TypeSafeCache[T]) LoadOrStore(key CacheKey, value T) T {
	actual, _ := c.data.LoadOrStore(key, value)
	return actual.(T)
}

func (c *TypeSafeCache[T]) Range(fn func(key CacheKey, value T) bool) {
	c.data.Range(func(key, value any) bool {
		return fn(key.(CacheKey), value.(T))
	})
}

func (c *TypeSafeCache[T]) Size() int {
	count := 0
	c.data.Range(func(key, value any) bool {
		count++
		return true
	})
	return count
}
