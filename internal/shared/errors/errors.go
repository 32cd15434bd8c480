package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a playground failure
type Kind int

const (
	KindUnknown Kind = iota
	KindBoot
	KindWrite
	KindAttach
	KindNotFound
	KindValidation
	KindConfig
)

// Exit codes for the playground CLI
const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitBootFailed   = 2
	ExitWriteFailed  = 3
	ExitAttachFailed = 4
	ExitNotFound     = 5
	ExitValidation   = 6
	ExitConfigError  = 7
)

var (
	// ErrUnavailable is reported for operations on a session that is not Ready
	ErrUnavailable = errors.New("workspace unavailable")
	// ErrInvalidTarget is reported when a terminal is attached to a missing or closed target
	ErrInvalidTarget = errors.New("invalid render target")
	// ErrClosed is reported for operations on a released session or closed handle
	ErrClosed = errors.New("closed")
)

// String returns the taxonomy name of the kind
func (k Kind) String() string {
	switch k {
	case KindBoot:
		return "BootFailure"
	case KindWrite:
		return "WriteFailure"
	case KindAttach:
		return "AttachFailure"
	case KindNotFound:
		return "NotFound"
	case KindValidation:
		return "Validation"
	case KindConfig:
		return "Config"
	default:
		return "Unknown"
	}
}

// Error is the base error type for the playground
type Error struct {
	Kind      Kind
	Op        string // boot stage, "write", "attach", ...
	Workspace string
	Cause     error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg += " (" + e.Op + ")"
	}
	if e.Workspace != "" {
		msg += fmt.Sprintf(" in workspace %q", e.Workspace)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ExitCode returns the CLI exit code for this error
func (e *Error) ExitCode() int {
	switch e.Kind {
	case KindBoot:
		return ExitBootFailed
	case KindWrite:
		return ExitWriteFailed
	case KindAttach:
		return ExitAttachFailed
	case KindNotFound:
		return ExitNotFound
	case KindValidation:
		return ExitValidation
	case KindConfig:
		return ExitConfigError
	default:
		return ExitGeneralError
	}
}

// HTTPStatus returns the status code the API reports for this error
func (e *Error) HTTPStatus() int {
	switch {
	case errors.Is(e.Cause, ErrUnavailable), errors.Is(e.Cause, ErrClosed), e.Kind == KindBoot:
		return http.StatusServiceUnavailable
	case e.Kind == KindNotFound:
		return http.StatusNotFound
	case e.Kind == KindValidation, e.Kind == KindAttach:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Common error constructors

// BootFailure records a failed boot stage
func BootFailure(workspace, stage string, cause error) *Error {
	return &Error{Kind: KindBoot, Op: stage, Workspace: workspace, Cause: cause}
}

// WriteFailure records a failed or rejected file write
func WriteFailure(workspace, path string, cause error) *Error {
	return &Error{Kind: KindWrite, Op: "write " + path, Workspace: workspace, Cause: cause}
}

// AttachFailure records a rejected terminal attach
func AttachFailure(workspace string, cause error) *Error {
	return &Error{Kind: KindAttach, Op: "attach", Workspace: workspace, Cause: cause}
}

// NotFound returns an error for an unknown workspace or path
func NotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Cause: fmt.Errorf("not found: %s", what)}
}

// Validation returns an error for invalid input
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Cause: errors.New(message)}
}

// Validationf returns a formatted validation error
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Cause: fmt.Errorf(format, args...)}
}

// ConfigError returns an error for configuration issues
func ConfigError(message string, cause error) *Error {
	return &Error{Kind: KindConfig, Op: message, Cause: cause}
}

// Unavailable wraps a cause so it matches ErrUnavailable
func Unavailable(cause error) error {
	if cause == nil {
		return ErrUnavailable
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, cause)
}

// GetExitCode extracts the exit code from an error chain
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.ExitCode()
	}
	return ExitGeneralError
}

// GetHTTPStatus extracts the HTTP status from an error chain
func GetHTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrClosed) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// KindOf returns the kind of the first *Error in the chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is checks if an error is of a specific type
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target any) bool {
	return errors.As(err, target)
}

// New creates a plain error value
func New(message string) error {
	return errors.New(message)
}
