package atom

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
)

var (
	// ErrNullAccess matches any *NullAccessError via errors.Is
	ErrNullAccess = errors.New("null access")
	// ErrContentionExceeded matches any *ContentionExceededError via errors.Is
	ErrContentionExceeded = errors.New("contention exceeded")
)

// NullAccessError is returned when an absent Option is force-unwrapped
type NullAccessError struct {
	Type   string
	Caller string
}

func (e *NullAccessError) Error() string {
	if e.Caller != "" {
		return fmt.Sprintf("null access: unwrap of absent %s at %s", e.Type, e.Caller)
	}
	return fmt.Sprintf("null access: unwrap of absent %s", e.Type)
}

func (e *NullAccessError) Is(target error) bool {
	return target == ErrNullAccess
}

// ContentionExceededError is returned by a bounded update that ran out of retries
type ContentionExceededError struct {
	Register string
	Attempts int
}

func (e *ContentionExceededError) Error() string {
	return fmt.Sprintf("contention exceeded on register %s after %d attempts", e.Register, e.Attempts)
}

func (e *ContentionExceededError) Is(target error) bool {
	return target == ErrContentionExceeded
}

func newNullAccessError[T any](skip int) *NullAccessError {
	err := &NullAccessError{Type: reflect.TypeFor[T]().String()}
	if _, file, line, ok := runtime.Caller(skip + 1); ok {
		err.Caller = fmt.Sprintf("%s:%d", file, line)
	}
	return err
}
