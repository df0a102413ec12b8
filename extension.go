package atom

import "context"

// Extension provides hooks into register operations
type Extension interface {
	// Name returns the extension's name
	Name() string

	// Order determines extension execution order (lower = earlier)
	Order() int

	// Init is called when the extension is registered to a scope
	Init(scope *Scope) error

	// Wrap intercepts operations (update, compare-and-swap)
	Wrap(ctx context.Context, next func() (any, error), op *Operation) (any, error)

	// OnPublish is called after every successful swap. It cannot undo the
	// publication; failures must be handled inside the extension.
	OnPublish(ctx context.Context, ev PublishEvent)

	// OnConflict is called each time a swap loses a race
	OnConflict(ctx context.Context, op *Operation)

	// OnError handles errors returned by update
	OnError(err error, op *Operation)

	// Dispose is called when the scope is disposed
	Dispose(scope *Scope) error
}

// PublishEvent describes one successful swap
type PublishEvent struct {
	Operation       *Operation
	Register        AnyRegister
	Version         uint64
	Value           any
	Previous        any
	PreviousVersion uint64
}

// BaseExtension provides default implementations for Extension methods
type BaseExtension struct {
	name string
}

// NewBaseExtension creates a new base extension with the given name
func NewBaseExtension(name string) BaseExtension {
	return BaseExtension{name: name}
}

func (e *BaseExtension) Name() string {
	return e.name
}

func (e *BaseExtension) Order() int {
	return 100
}

func (e *BaseExtension) Init(scope *Scope) error {
	return nil
}

func (e *BaseExtension) Wrap(ctx context.Context, next func() (any, error), op *Operation) (any, error) {
	return next()
}

func (e *BaseExtension) OnPublish(ctx context.Context, ev PublishEvent) {
}

func (e *BaseExtension) OnConflict(ctx context.Context, op *Operation) {
}

func (e *BaseExtension) OnError(err error, op *Operation) {
}

func (e *BaseExtension) Dispose(scope *Scope) error {
	return nil
}

// Operation describes what operation is happening
type Operation struct {
	Kind     OperationKind
	Register AnyRegister
	// Attempt is the 1-based attempt number of the current swap
	Attempt int
}

// OperationKind represents the type of operation
type OperationKind string

const (
	// OpUpdate indicates a retrying read-modify-write
	OpUpdate OperationKind = "update"
	// OpCompareAndSwap indicates a single compare-and-swap call
	OpCompareAndSwap OperationKind = "compare_and_swap"
)

// wrapOperation chains extensions around next, last registered wraps first
func wrapOperation(ctx context.Context, exts []Extension, op *Operation, next func() (any, error)) (any, error) {
	for i := len(exts) - 1; i >= 0; i-- {
		ext := exts[i]
		currentNext := next
		next = func() (any, error) {
			return ext.Wrap(ctx, currentNext, op)
		}
	}
	return next()
}
