package atom

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Scope owns the extensions, singletons and cleanups shared by a group
// of registers. Its own mutable state is kept in registers.
type Scope struct {
	tags       sync.Map
	extensions *Register[[]Extension]
	cleanups   *Register[[]func() error]
	registry   *Registry
}

// ScopeOption is a modifier for scopes
type ScopeOption func(*Scope)

// WithScopeTag returns an option that sets a tag on a scope
func WithScopeTag[T any](tag Tag[T], val T) ScopeOption {
	return func(s *Scope) {
		tag.SetOnScope(s, val)
	}
}

// WithExtension returns an option that registers an extension to a scope
func WithExtension(ext Extension) ScopeOption {
	return func(s *Scope) {
		if err := s.UseExtension(ext); err != nil {
			panic(err)
		}
	}
}

// NewScope creates a new scope with optional configuration
func NewScope(opts ...ScopeOption) *Scope {
	s := &Scope{
		extensions: NewRegister[[]Extension](nil, WithName("scope.extensions")),
		cleanups:   NewRegister[[]func() error](nil, WithName("scope.cleanups")),
		registry:   NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// UseExtension registers an extension to the scope
func (s *Scope) UseExtension(ext Extension) error {
	_, _ = s.extensions.Update(func(current []Extension) []Extension {
		next := append(slices.Clone(current), ext)
		slices.SortStableFunc(next, func(a, b Extension) int {
			return cmp.Compare(a.Order(), b.Order())
		})
		return next
	})

	if err := ext.Init(s); err != nil {
		return fmt.Errorf("initializing extension %s: %w", ext.Name(), err)
	}
	return nil
}

// Extensions returns the registered extensions in execution order
func (s *Scope) Extensions() []Extension {
	return slices.Clone(s.extensions.Load())
}

func (s *Scope) extensionList() []Extension {
	return s.extensions.Load()
}

// Registry returns the scope's singleton registry
func (s *Scope) Registry() *Registry {
	return s.registry
}

// OnCleanup registers fn to run when the scope is disposed.
// Cleanups run in reverse registration order.
func (s *Scope) OnCleanup(fn func() error) {
	_, _ = s.cleanups.Update(func(current []func() error) []func() error {
		return append(slices.Clone(current), fn)
	})
}

// Dispose runs registered cleanups and disposes every extension
func (s *Scope) Dispose() error {
	snap := s.cleanups.LoadSnapshot()
	for !s.takeCleanups(snap) {
		snap = s.cleanups.LoadSnapshot()
	}

	var errs []error
	entries := snap.Value()
	for i := len(entries) - 1; i >= 0; i-- {
		if err := entries[i](); err != nil {
			errs = append(errs, fmt.Errorf("cleanup: %w", err))
		}
	}

	for _, ext := range s.extensionList() {
		if err := ext.Dispose(s); err != nil {
			errs = append(errs, fmt.Errorf("disposing extension %s: %w", ext.Name(), err))
		}
	}

	return errors.Join(errs...)
}

// takeCleanups claims the cleanup list so that concurrent Dispose calls
// never run the same cleanup twice.
func (s *Scope) takeCleanups(snap *Snapshot[[]func() error]) bool {
	_, ok := s.cleanups.CompareAndSwapSnapshot(snap, nil)
	return ok
}

// GetTag retrieves a tag value from the scope
func (s *Scope) GetTag(tag any) (any, bool) {
	return s.tags.Load(tag)
}

// SetTag stores a tag value on the scope
func (s *Scope) SetTag(tag any, val any) {
	s.tags.Store(tag, val)
}
