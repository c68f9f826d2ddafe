package utils

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is matched by every InvalidInputError through errors.Is.
var ErrInvalidInput = errors.New("invalid input")

// ErrUnsupported is matched by every UnsupportedError through errors.Is.
var ErrUnsupported = errors.New("unsupported")

// ErrNotFound is wrapped by lookups of reports, filters and stored states that do not exist.
var ErrNotFound = errors.New("not found")

// InvalidInputError reports arguments that cannot be analyzed, such as too few
// observations for the requested lag order or mismatched vector dimensions.
type InvalidInputError struct {
	Message string
}

// Error returns the error message string.
func (e *InvalidInputError) Error() string {
	return e.Message
}

// Is reports whether target is ErrInvalidInput.
func (e *InvalidInputError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewInvalidInputError creates a new InvalidInputError with a specific message.
//
// Parameters:
//   - message: The description of the rejected input.
//
// Returns:
//   - An error interface wrapping the InvalidInputError.
func NewInvalidInputError(message string) error {
	return &InvalidInputError{
		Message: message,
	}
}

// NewInvalidInputErrorf creates a new InvalidInputError with a formatted message.
//
// Parameters:
//   - format: The format string.
//   - args: Arguments for the format string.
//
// Returns:
//   - An error interface wrapping the InvalidInputError.
func NewInvalidInputErrorf(format string, args ...interface{}) error {
	return &InvalidInputError{
		Message: fmt.Sprintf(format, args...),
	}
}

// UnsupportedError reports a request outside the tabulated or implemented range.
type UnsupportedError struct {
	Message string
}

// Error returns the error message string.
func (e *UnsupportedError) Error() string {
	return e.Message
}

// Is reports whether target is ErrUnsupported.
func (e *UnsupportedError) Is(target error) bool {
	return target == ErrUnsupported
}

// NewUnsupportedErrorf creates a new UnsupportedError with a formatted message.
func NewUnsupportedErrorf(format string, args ...interface{}) error {
	return &UnsupportedError{
		Message: fmt.Sprintf(format, args...),
	}
}

// IsInvalidInput reports whether err (or anything it wraps) is an input error.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsUnsupported reports whether err (or anything it wraps) is an unsupported request.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupported)
}

// IsNotFound reports whether err (or anything it wraps) is a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
