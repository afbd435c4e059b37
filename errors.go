package vision

import (
	"errors"
	"fmt"
)

// Error kinds shared by every package of the toolkit.
//
// Callers match them with [errors.Is]; the concrete error carries the
// package prefix and the offending value.
var (
	// ErrInvalidArgument is returned when a constructor or property receives
	// a bad value. The caller can recover by adjusting the value.
	ErrInvalidArgument = errors.New("vision: invalid argument")

	// ErrIllegalOperation is returned on lifecycle and contract violations:
	// using an uninitialized or released node, a missing upstream link,
	// an empty output port after execution, a double free.
	ErrIllegalOperation = errors.New("vision: illegal operation")

	// ErrNotSupported is returned for a structurally valid parameter
	// combination that is not implemented.
	ErrNotSupported = errors.New("vision: not supported")

	// ErrAbstractMethod is returned when a node type does not provide its task.
	ErrAbstractMethod = errors.New("vision: abstract method")

	// ErrOutOfMemory is returned when the texture pool is exhausted.
	ErrOutOfMemory = errors.New("vision: out of memory")

	// ErrCycleDetected is returned when a pipeline graph contains a cycle.
	// It also matches ErrIllegalOperation.
	ErrCycleDetected = fmt.Errorf("%w: cycle detected", ErrIllegalOperation)
)

// InvalidArgument formats an error that matches ErrInvalidArgument.
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// IllegalOperation formats an error that matches ErrIllegalOperation.
func IllegalOperation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIllegalOperation, fmt.Sprintf(format, args...))
}

// NotSupported formats an error that matches ErrNotSupported.
func NotSupported(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotSupported, fmt.Sprintf(format, args...))
}
