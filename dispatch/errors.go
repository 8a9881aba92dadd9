package dispatch

import (
	"errors"
	"strings"
)

// Sentinel errors for the dispatcher.
var (
	// ErrNilHandler is returned when a nil handler is registered or waited on.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrEmptyID is returned when an empty registration id is supplied.
	ErrEmptyID = errors.New("registration id cannot be empty")

	// ErrNoIDs is returned when WaitFor is called without any ids.
	ErrNoIDs = errors.New("wait-for requires at least one registration id")

	// ErrNoHandlers is returned when WaitForHandlers is called without any handlers.
	ErrNoHandlers = errors.New("wait-for requires at least one handler")

	// ErrNilMiddleware is returned when Use is called with a nil middleware.
	ErrNilMiddleware = errors.New("middleware cannot be nil")

	// ErrNotDispatching is returned when WaitFor is called outside a running handler.
	ErrNotDispatching = errors.New("wait-for is only valid inside a handler of the current dispatch")

	// ErrStaleContext is returned when a middleware Context from a previous
	// dispatch is used to continue the chain.
	ErrStaleContext = errors.New("middleware context does not belong to the active dispatch")

	// ErrDeadlock is the target for errors.Is on DeadlockError.
	ErrDeadlock = errors.New("dependency deadlock detected")

	// ErrDepthExceeded is returned when nested dispatches exceed the
	// configured maximum depth.
	ErrDepthExceeded = errors.New("maximum dispatch depth exceeded")
)

// DeadlockError reports a cyclical WaitFor dependency among handlers in one
// dispatch cycle. Chain lists the registration ids along the waiting path,
// starting and ending with the same id.
type DeadlockError struct {
	Chain []RegistrationID
}

// Error implements the error interface.
func (e *DeadlockError) Error() string {
	if len(e.Chain) == 0 {
		return "dependency deadlock detected"
	}
	ids := make([]string, len(e.Chain))
	for i, id := range e.Chain {
		ids[i] = string(id)
	}
	return "dependency deadlock detected: " + strings.Join(ids, " -> ")
}

// Is allows errors.Is to match DeadlockError with ErrDeadlock.
func (e *DeadlockError) Is(target error) bool {
	return target == ErrDeadlock
}
