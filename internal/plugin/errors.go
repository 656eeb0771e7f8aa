package plugin

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for errors.Is checks. The typed errors below wrap or
// match these.
var (
	// ErrNotFound is returned for operations on an unknown plugin id.
	ErrNotFound = errors.New("plugin not found")

	// ErrDuplicateID is returned when registering an id twice.
	ErrDuplicateID = errors.New("duplicate plugin id")

	// ErrPermissionDenied is returned when a plugin calls a host API
	// operation it was not granted.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvocationTimeout is returned when a hook invocation exceeds
	// its budget.
	ErrInvocationTimeout = errors.New("hook invocation timed out")

	// ErrManagerClosed is returned for operations on a closed manager.
	ErrManagerClosed = errors.New("plugin manager is closed")
)

// ValidationError reports a malformed manifest or package, or an invalid
// registration.
type ValidationError struct {
	Field  string
	Reason string
	err    error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid plugin package: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid plugin package: %s", e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.err }

// NotFoundError reports an operation on an unknown plugin id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("plugin %q not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// PermissionError reports a call to an ungranted host API operation.
type PermissionError struct {
	Plugin     string
	Permission Permission
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("plugin %q: permission %q not granted", e.Plugin, e.Permission)
}

func (e *PermissionError) Is(target error) bool { return target == ErrPermissionDenied }

// TimeoutError reports a hook invocation that exceeded its budget. The
// underlying Lua call is abandoned, not stopped; see the Executor contract.
type TimeoutError struct {
	Plugin string
	Hook   Hook
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("plugin %q: hook %s exceeded %s budget", e.Plugin, e.Hook, e.Budget)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrInvocationTimeout }

// RuntimeError wraps an error raised inside plugin code.
type RuntimeError struct {
	Plugin string
	Hook   Hook
	Err    error
}

func (e *RuntimeError) Error() string {
	if e.Hook != "" {
		return fmt.Sprintf("plugin %q: hook %s: %v", e.Plugin, e.Hook, e.Err)
	}
	return fmt.Sprintf("plugin %q: %v", e.Plugin, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }
