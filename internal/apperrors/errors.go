// Package apperrors provides the unified error taxonomy shared by source
// plugins, the action executor, and the script sandbox.
package apperrors

import "fmt"

// Category classifies an error by how the supervisor must react to it.
type Category string

const (
	// CategoryConfiguration marks a bad glob/regex, missing required field,
	// duplicate name, or similar error detected at load or construction
	// time. Fatal at load; recoverable via a subsequent hot reload.
	CategoryConfiguration Category = "configuration"

	// CategoryInitialization marks a missing OS capability (privilege,
	// hook install, registry open) reported from a plugin's Start. The
	// plugin is skipped; the engine continues with the rest.
	CategoryInitialization Category = "initialization"

	// CategoryRuntime marks a transient error on a source's OS thread: a
	// callback parse failure, a transient OS error. Logged and counted,
	// never propagated out of the source thread.
	CategoryRuntime Category = "runtime"

	// CategoryExecution marks an action failure: non-zero subprocess
	// exit, script runtime error, HTTP failure. Subject to per-action or
	// per-composite error policy.
	CategoryExecution Category = "execution"

	// CategoryTimeout marks an action that exceeded its declared budget.
	CategoryTimeout Category = "timeout"
)

// Error is a structured error carrying a Category alongside the usual
// message and optional wrapped cause.
type Error struct {
	Category Category
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a categorized error with no wrapped cause.
func New(cat Category, message string) *Error {
	return &Error{Category: cat, Message: message}
}

// Wrap builds a categorized error that wraps an underlying cause.
func Wrap(cat Category, message string, err error) *Error {
	return &Error{Category: cat, Message: message, Err: err}
}

// Configuration builds a CategoryConfiguration error.
func Configuration(format string, args ...any) *Error {
	return New(CategoryConfiguration, fmt.Sprintf(format, args...))
}

// Initialization builds a CategoryInitialization error.
func Initialization(format string, args ...any) *Error {
	return New(CategoryInitialization, fmt.Sprintf(format, args...))
}

// Runtime builds a CategoryRuntime error.
func Runtime(format string, args ...any) *Error {
	return New(CategoryRuntime, fmt.Sprintf(format, args...))
}

// Execution builds a CategoryExecution error.
func Execution(format string, args ...any) *Error {
	return New(CategoryExecution, fmt.Sprintf(format, args...))
}

// Timeout builds a CategoryTimeout error with a fixed message, since the
// budget that was exceeded is already known to the caller.
func Timeout(message string) *Error {
	return New(CategoryTimeout, message)
}

// CategoryOf returns the category of err if it is (or wraps) an *Error,
// and CategoryRuntime otherwise, which is the conservative default for an
// error whose origin was never classified.
func CategoryOf(err error) Category {
	var e *Error
	for err != nil {
		if ce, ok := err.(*Error); ok {
			e = ce
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e != nil {
		return e.Category
	}
	return CategoryRuntime
}
