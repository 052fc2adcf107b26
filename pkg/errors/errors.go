// Package errors defines the pipeline's error taxonomy. Every failure that
// leaves a component wraps one of the sentinel kinds below so callers can
// classify it with errors.Is, and the CLI can map it to an exit code.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrExtraction   = errors.New("extraction error")
	ErrSchema       = errors.New("schema error")
	ErrWrite        = errors.New("write error")
	ErrMapping      = errors.New("mapping error")
	ErrConfig       = errors.New("configuration error")
	ErrInvalidInput = errors.New("invalid input")
	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrTimeout      = errors.New("operation timed out")
	ErrNotFound     = errors.New("not found")
)

// Exit codes returned by the CLI for each error kind.
const (
	ExitOK         = 0
	ExitInternal   = 1
	ExitConfig     = 2
	ExitExtraction = 3
	ExitSchema     = 4
	ExitWrite      = 5
	ExitMapping    = 6
)

// AppError carries a sentinel kind, a human-readable message and an
// optional underlying cause.
type AppError struct {
	Err     error
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Err.Error(), e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func New(sentinel error, message string) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: message,
	}
}

func Newf(sentinel error, format string, args ...any) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap attaches cause to a new AppError of the given kind.
func Wrap(sentinel error, cause error, message string) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: message,
		Cause:   cause,
	}
}

func Wrapf(sentinel error, cause error, format string, args ...any) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Kind returns the user-visible name of the error's category.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfig):
		return "ConfigError"
	case errors.Is(err, ErrSchema):
		return "SchemaError"
	case errors.Is(err, ErrWrite):
		return "WriteError"
	case errors.Is(err, ErrMapping):
		return "MappingError"
	case errors.Is(err, ErrExtraction):
		return "ExtractionError"
	case errors.Is(err, ErrInvalidInput):
		return "InputError"
	default:
		return "InternalError"
	}
}

// ExitCode maps err to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrConfig), errors.Is(err, ErrInvalidInput):
		return ExitConfig
	case errors.Is(err, ErrSchema):
		return ExitSchema
	case errors.Is(err, ErrWrite):
		return ExitWrite
	case errors.Is(err, ErrMapping):
		return ExitMapping
	case errors.Is(err, ErrExtraction):
		return ExitExtraction
	default:
		return ExitInternal
	}
}
