// Package errors provides the domain-specific error types of the SDK.
// All error types support unwrapping via errors.As() and errors.Is().
package errors

import (
	stdErrors "errors"
	"fmt"
	"strings"
)

// As and Is re-export the standard matchers so callers that already
// import this package do not need a second errors import.
func As(err error, target any) bool { return stdErrors.As(err, target) }

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stdErrors.Is(err, target) }

// DisposedError reports an operation on an already-disposed resource.
type DisposedError struct {
	Resource string // e.g. "environment", "script"
}

func (e *DisposedError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s is disposed", e.Resource)
	}
	return "resource is disposed"
}

// AlreadyRegisteredError reports that a policy was registered twice.
type AlreadyRegisteredError struct{}

func (e *AlreadyRegisteredError) Error() string {
	return "policy is already registered"
}

// NotRegisteredError reports an unregister of a policy that is not
// currently registered.
type NotRegisteredError struct{}

func (e *NotRegisteredError) Error() string {
	return "policy is not registered"
}

// ConflictError reports that a different policy already holds the host
// runtime's single registration slot.
type ConflictError struct {
	Active string // Optional: identity of the registered policy
}

func (e *ConflictError) Error() string {
	if e.Active != "" {
		return fmt.Sprintf("another policy is already registered (%s)", e.Active)
	}
	return "another policy is already registered"
}

// ScriptFault is the failure a runtime adapter reports when executed code
// raises. Trace carries the runtime's own formatted diagnostic, if any.
type ScriptFault struct {
	Message string
	Trace   string
}

func (e *ScriptFault) Error() string {
	return e.Message
}

// ExecutionError wraps any failure raised by executed code. This is the
// one stable failure shape script callers see; the original failure is
// available via Unwrap and its formatted diagnostic via Diagnostic.
type ExecutionError struct {
	Err        error
	Diagnostic string
}

// NewExecutionError builds an ExecutionError from the failure an
// execution raised, formatting its diagnostic as an indented block.
func NewExecutionError(err error) *ExecutionError {
	return &ExecutionError{
		Err:        err,
		Diagnostic: formatDiagnostic(err),
	}
}

func (e *ExecutionError) Error() string {
	return "an error was raised while running the script\n" + indent(e.Diagnostic, "| ")
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func formatDiagnostic(err error) string {
	var fault *ScriptFault
	if As(err, &fault) && fault.Trace != "" {
		return fault.Message + "\n" + fault.Trace
	}
	return err.Error()
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

// VariableNotFoundError reports a script variable lookup that found no
// binding and was given no default.
type VariableNotFoundError struct {
	Name string
}

func (e *VariableNotFoundError) Error() string {
	return fmt.Sprintf("script defines no variable %q", e.Name)
}

// NoLoopError reports an operation that requires an installed event loop
// when none was ever set.
type NoLoopError struct {
	Operation string
}

func (e *NoLoopError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("%s requires an event loop, but none is installed", e.Operation)
	}
	return "no event loop is installed"
}

// CancelledError reports an operation cancelled before or while pending.
// Loop adapters translate it into their scheduler's native cancellation
// via WrapCancelled.
type CancelledError struct {
	Operation string
}

func (e *CancelledError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("%s was cancelled", e.Operation)
	}
	return "operation was cancelled"
}

// IsCancelled reports whether err is, or wraps, a CancelledError.
func IsCancelled(err error) bool {
	var c *CancelledError
	return As(err, &c)
}
