// Package aerr provides the typed error used across aurforge's core.
package aerr

import (
	"errors"
	"fmt"
)

// Kind categorizes an Error for callers that branch on failure type.
type Kind string

const (
	// KindNotFound indicates a package or dependency could not be located.
	KindNotFound Kind = "not_found"
	// KindRPC indicates the AUR RPC endpoint returned an error or could not
	// be reached.
	KindRPC Kind = "rpc"
	// KindParse indicates malformed SRCINFO or PKGBUILD-derived input.
	KindParse Kind = "parse"
	// KindCycle indicates a dependency cycle between foreign packages.
	KindCycle Kind = "cycle"
	// KindCommand indicates an external command exited non-zero.
	KindCommand Kind = "command"
	// KindAborted indicates the user declined a confirmation prompt.
	KindAborted Kind = "aborted"
	// KindAmbiguous indicates a unique-match requirement was violated
	// (e.g. more than one build artifact matched a package prefix).
	KindAmbiguous Kind = "ambiguous"
	// KindValidation indicates a struct failed validation.
	KindValidation Kind = "validation"
	// KindFileSystem indicates a filesystem operation failed.
	KindFileSystem Kind = "filesystem"
	// KindNetwork indicates a non-RPC network failure.
	KindNetwork Kind = "network"
	// KindConfiguration indicates invalid or incomplete configuration.
	KindConfiguration Kind = "configuration"
	// KindInternal indicates a bug or unreachable state.
	KindInternal Kind = "internal"
)

// Error is a structured error carrying a Kind, message, optional cause,
// the operation that failed, and free-form context for logging.
type Error struct {
	Kind      Kind
	Message   string
	Cause     error
	Operation string
	Context   map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is(err, &Error{Kind: ...}) comparisons by Kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}

	return false
}

// WithContext attaches a key/value pair for structured logging.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}

	e.Context[key] = value

	return e
}

// WithOperation records the operation that was being attempted.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op

	return e
}

// New creates an Error with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with Kind and message context.
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: err}
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(err error, kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: err}
}

// Is reports whether err is an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}

	return false
}
