package atom

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Snapshot is one published value of a register. It is never modified
// after publication and may be retained by readers indefinitely.
type Snapshot[T any] struct {
	value   T
	version uint64
}

// Value returns the snapshot's value
func (s *Snapshot[T]) Value() T {
	return s.value
}

// Version returns the position of this snapshot in the register's
// publication order, starting at 1 for the initial value.
func (s *Snapshot[T]) Version() uint64 {
	return s.version
}

// AnyRegister is the type-erased view of a register used by extensions
type AnyRegister interface {
	ID() string
	Name() string
	Version() uint64
	LoadAny() any
	GetTag(tag any) (any, bool)
	SetTag(tag any, val any)
}

// RegisterStats counts CAS outcomes on a register
type RegisterStats struct {
	Swaps     uint64
	Conflicts uint64
	Exhausted uint64
}

// Register holds a single immutable value and publishes replacements
// with compare-and-swap. Readers never block.
type Register[T any] struct {
	current atomic.Pointer[Snapshot[T]]
	id      string
	name    string
	equal   func(a, b T) bool
	scope   *Scope
	tags    sync.Map

	swaps     atomic.Uint64
	conflicts atomic.Uint64
	exhausted atomic.Uint64
}

type registerConfig struct {
	name  string
	equal any
	scope *Scope
	tags  map[any]any
}

// RegisterOption configures a register
type RegisterOption func(*registerConfig)

// WithName sets the register name used in errors, logs and metrics
func WithName(name string) RegisterOption {
	return func(c *registerConfig) {
		c.name = name
	}
}

// WithEqual sets the equality used by value CompareAndSwap
func WithEqual[T any](eq func(a, b T) bool) RegisterOption {
	return func(c *registerConfig) {
		c.equal = eq
	}
}

// WithScope attaches the register to a scope, enabling the scope's extensions
func WithScope(s *Scope) RegisterOption {
	return func(c *registerConfig) {
		c.scope = s
	}
}

// WithRegisterTag sets a tag on the register
func WithRegisterTag[V any](tag Tag[V], val V) RegisterOption {
	return func(c *registerConfig) {
		if c.tags == nil {
			c.tags = make(map[any]any)
		}
		c.tags[tag] = val
	}
}

// NewRegister creates a register holding initial
func NewRegister[T any](initial T, opts ...RegisterOption) *Register[T] {
	cfg := registerConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	r := &Register[T]{
		id:    uuid.NewString(),
		name:  cfg.name,
		scope: cfg.scope,
	}
	if r.name == "" {
		r.name = "register-" + r.id[:8]
	}
	r.equal = resolveEqual[T](r.name, cfg.equal)
	for k, v := range cfg.tags {
		r.tags.Store(k, v)
	}

	r.current.Store(&Snapshot[T]{value: initial, version: 1})
	return r
}

func resolveEqual[T any](name string, custom any) func(a, b T) bool {
	if custom != nil {
		eq, ok := custom.(func(a, b T) bool)
		if !ok {
			panic(fmt.Sprintf("register %s: WithEqual expects func(a, b %s) bool, got %T", name, reflect.TypeFor[T](), custom))
		}
		return eq
	}

	typ := reflect.TypeFor[T]()
	if typ.Implements(reflect.TypeFor[Equaler[T]]()) {
		return func(a, b T) bool {
			eq, ok := any(a).(Equaler[T])
			if !ok {
				// a is a nil interface
				return any(b) == nil
			}
			return eq.Equal(b)
		}
	}
	if typ.Comparable() {
		if !holdsInterface(typ) {
			return func(a, b T) bool {
				return any(a) == any(b)
			}
		}
		// == panics when an interface holds an uncomparable dynamic value
		return func(a, b T) bool {
			if !dynamicComparable(any(a)) || !dynamicComparable(any(b)) {
				return false
			}
			return any(a) == any(b)
		}
	}
	return nil
}

// holdsInterface reports whether a comparable type can carry an interface
// value, directly or through struct fields and array elements
func holdsInterface(typ reflect.Type) bool {
	switch typ.Kind() {
	case reflect.Interface:
		return true
	case reflect.Array:
		return holdsInterface(typ.Elem())
	case reflect.Struct:
		for i := 0; i < typ.NumField(); i++ {
			if holdsInterface(typ.Field(i).Type) {
				return true
			}
		}
	}
	return false
}

func dynamicComparable(v any) bool {
	rv := reflect.ValueOf(v)
	return !rv.IsValid() || rv.Comparable()
}

// ID returns the register's unique identifier
func (r *Register[T]) ID() string {
	return r.id
}

// Name returns the register's name
func (r *Register[T]) Name() string {
	return r.name
}

// Load returns the current value without blocking
func (r *Register[T]) Load() T {
	return r.current.Load().value
}

// LoadSnapshot returns the current snapshot without blocking
func (r *Register[T]) LoadSnapshot() *Snapshot[T] {
	return r.current.Load()
}

// LoadAny returns the current value as any
func (r *Register[T]) LoadAny() any {
	return r.Load()
}

// Version returns the version of the current snapshot
func (r *Register[T]) Version() uint64 {
	return r.current.Load().version
}

// Stats returns CAS counters for this register
func (r *Register[T]) Stats() RegisterStats {
	return RegisterStats{
		Swaps:     r.swaps.Load(),
		Conflicts: r.conflicts.Load(),
		Exhausted: r.exhausted.Load(),
	}
}

// GetTag retrieves a tag value from the register
func (r *Register[T]) GetTag(tag any) (any, bool) {
	return r.tags.Load(tag)
}

// SetTag stores a tag value on the register
func (r *Register[T]) SetTag(tag any, val any) {
	r.tags.Store(tag, val)
}

// CompareAndSwapSnapshot installs updated iff expected is still the
// current snapshot (pointer identity). On failure it returns the snapshot
// that was current when the swap was rejected. A nil expected never
// matches.
func (r *Register[T]) CompareAndSwapSnapshot(expected *Snapshot[T], updated T) (*Snapshot[T], bool) {
	return r.CompareAndSwapSnapshotContext(context.Background(), expected, updated)
}

// CompareAndSwapSnapshotContext is CompareAndSwapSnapshot with a context
// passed through to extensions.
func (r *Register[T]) CompareAndSwapSnapshotContext(ctx context.Context, expected *Snapshot[T], updated T) (*Snapshot[T], bool) {
	exts := r.extensions()
	op := &Operation{Kind: OpCompareAndSwap, Register: r, Attempt: 1}

	if len(exts) == 0 {
		return r.swap(ctx, nil, op, expected, updated)
	}

	var (
		snap *Snapshot[T]
		ok   bool
	)
	_, _ = wrapOperation(ctx, exts, op, func() (any, error) {
		snap, ok = r.swap(ctx, exts, op, expected, updated)
		return snap, nil
	})
	return snap, ok
}

// CompareAndSwap installs updated iff the current value equals expected
// by the register's equality (WithEqual, Equaler, or ==). It panics when
// T has no usable equality.
func (r *Register[T]) CompareAndSwap(expected, updated T) bool {
	return r.CompareAndSwapContext(context.Background(), expected, updated)
}

// CompareAndSwapContext is CompareAndSwap with a context passed through
// to extensions.
func (r *Register[T]) CompareAndSwapContext(ctx context.Context, expected, updated T) bool {
	if r.equal == nil {
		panic(fmt.Sprintf("register %s: value CompareAndSwap on %s requires WithEqual or an Equaler implementation", r.name, reflect.TypeFor[T]()))
	}

	exts := r.extensions()
	op := &Operation{Kind: OpCompareAndSwap, Register: r}

	run := func() bool {
		for {
			op.Attempt++
			cur := r.current.Load()
			if !r.equal(cur.value, expected) {
				return false
			}
			// A failed pointer swap means another writer published in
			// between; the new current value may still equal expected.
			if _, ok := r.swap(ctx, exts, op, cur, updated); ok {
				return true
			}
		}
	}

	if len(exts) == 0 {
		return run()
	}

	var ok bool
	_, _ = wrapOperation(ctx, exts, op, func() (any, error) {
		ok = run()
		return ok, nil
	})
	return ok
}

// UpdateOption configures a single Update call
type UpdateOption func(*updateConfig)

type updateConfig struct {
	maxRetries int
}

// WithMaxRetries bounds Update to n retries after the first attempt.
// A negative n means unbounded, which is also the default.
func WithMaxRetries(n int) UpdateOption {
	return func(c *updateConfig) {
		c.maxRetries = n
	}
}

// Update applies fn to the current value and publishes the result,
// retrying against the fresh value whenever another writer wins. fn must
// be free of side effects since it may run more than once. Without
// WithMaxRetries, the returned error is always nil.
func (r *Register[T]) Update(fn func(T) T, opts ...UpdateOption) (T, error) {
	return r.UpdateContext(context.Background(), fn, opts...)
}

// UpdateContext is Update that also stops retrying once ctx is done
func (r *Register[T]) UpdateContext(ctx context.Context, fn func(T) T, opts ...UpdateOption) (T, error) {
	cfg := updateConfig{maxRetries: -1}
	for _, opt := range opts {
		opt(&cfg)
	}

	exts := r.extensions()
	op := &Operation{Kind: OpUpdate, Register: r}

	var (
		snap *Snapshot[T]
		err  error
	)
	if len(exts) == 0 {
		snap, err = r.update(ctx, nil, op, fn, cfg)
	} else {
		var result any
		result, err = wrapOperation(ctx, exts, op, func() (any, error) {
			return r.update(ctx, exts, op, fn, cfg)
		})
		if err == nil {
			var ok bool
			snap, ok = result.(*Snapshot[T])
			if !ok {
				err = fmt.Errorf("register %s: extension returned %T from update, expected *Snapshot[%s]", r.name, result, reflect.TypeFor[T]())
			}
		}
	}

	if err != nil {
		for _, ext := range exts {
			ext.OnError(err, op)
		}
		var zero T
		return zero, err
	}
	return snap.value, nil
}

func (r *Register[T]) update(ctx context.Context, exts []Extension, op *Operation, fn func(T) T, cfg updateConfig) (*Snapshot[T], error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("register %s: update interrupted after %d attempts: %w", r.name, attempt-1, err)
		}

		op.Attempt = attempt
		cur := r.current.Load()
		if snap, ok := r.swap(ctx, exts, op, cur, fn(cur.value)); ok {
			return snap, nil
		}

		if cfg.maxRetries >= 0 && attempt > cfg.maxRetries {
			r.exhausted.Add(1)
			return nil, &ContentionExceededError{Register: r.name, Attempts: attempt}
		}
	}
}

// swap is the single point where the register's contents change
func (r *Register[T]) swap(ctx context.Context, exts []Extension, op *Operation, expected *Snapshot[T], updated T) (*Snapshot[T], bool) {
	if expected == nil {
		return r.current.Load(), false
	}
	next := &Snapshot[T]{value: updated, version: expected.version + 1}
	if !r.current.CompareAndSwap(expected, next) {
		r.conflicts.Add(1)
		for _, ext := range exts {
			ext.OnConflict(ctx, op)
		}
		return r.current.Load(), false
	}

	r.swaps.Add(1)
	if len(exts) > 0 {
		ev := PublishEvent{
			Operation:       op,
			Register:        r,
			Version:         next.version,
			Value:           next.value,
			Previous:        expected.value,
			PreviousVersion: expected.version,
		}
		for _, ext := range exts {
			ext.OnPublish(ctx, ev)
		}
	}
	return next, true
}

func (r *Register[T]) extensions() []Extension {
	if r.scope == nil {
		return nil
	}
	return r.scope.extensionList()
}
