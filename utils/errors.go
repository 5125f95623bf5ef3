package utils

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinels for the error taxonomy. Every typed error below reports true from `errors.Is` against
// exactly one of these, so callers can branch on the category without type switches.
var (
	ErrTransport       = errors.New("transport error")
	ErrFormat          = errors.New("format error")
	ErrPrecondition    = errors.New("precondition failed")
	ErrNotFound        = errors.New("not found")
	ErrNotResident     = errors.New("byte range not resident")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotLoaded       = errors.New("hierarchy not loaded")
)

// TransportError is returned when a remote range fetch fails or returns the wrong number of bytes.
type TransportError struct {
	Op         string
	Start, End int64
	Err        error
}

// NewTransportError is used when fetching the half-open byte range [start, end) fails.
func NewTransportError(op string, start, end int64, err error) error {
	return &TransportError{Op: op, Start: start, End: end, Err: err}
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: fetching bytes [%d, %d): %v", e.Op, e.Start, e.End, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is reports whether target is ErrTransport.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// FormatError is returned when header or hierarchy bytes cannot be parsed.
type FormatError struct {
	What string
	Err  error
}

// NewFormatError is used when the bytes of `what` are not what the format requires.
func NewFormatError(what string, err error) error {
	return &FormatError{What: what, Err: err}
}

// NewFormatErrorf is NewFormatError with a formatted cause.
func NewFormatErrorf(what, format string, args ...interface{}) error {
	return &FormatError{What: what, Err: errors.Errorf(format, args...)}
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed %s: %v", e.What, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Is reports whether target is ErrFormat.
func (e *FormatError) Is(target error) bool { return target == ErrFormat }

// PreconditionError is returned when an operation is invoked before the one it depends on.
type PreconditionError struct {
	Op       string
	Requires string
}

// NewPreconditionError is used when `op` is called before `requires` has succeeded.
func NewPreconditionError(op, requires string) error {
	return &PreconditionError{Op: op, Requires: requires}
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s called before %s", e.Op, e.Requires)
}

// Is reports whether target is ErrPrecondition.
func (e *PreconditionError) Is(target error) bool { return target == ErrPrecondition }

// NotFoundError is returned when a key or object is absent.
type NotFoundError struct {
	What string
}

// NewNotFoundError is used when `what` does not exist.
func NewNotFoundError(what string) error {
	return &NotFoundError{What: what}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.What)
}

// Is reports whether target is ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotResidentError is returned when reading a byte range that was never fetched into the mirror.
type NotResidentError struct {
	Start, End int64
}

// NewNotResidentError is used when [start, end) is not fully resident locally.
func NewNotResidentError(start, end int64) error {
	return &NotResidentError{Start: start, End: end}
}

func (e *NotResidentError) Error() string {
	return fmt.Sprintf("bytes [%d, %d) not resident", e.Start, e.End)
}

// Is reports whether target is ErrNotResident.
func (e *NotResidentError) Is(target error) bool { return target == ErrNotResident }

// InvalidArgumentError is returned for out of range or malformed arguments.
type InvalidArgumentError struct {
	Name   string
	Reason string
}

// NewInvalidArgumentError is used when the argument `name` is rejected.
func NewInvalidArgumentError(name, reason string) error {
	return &InvalidArgumentError{Name: name, Reason: reason}
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Name, e.Reason)
}

// Is reports whether target is ErrInvalidArgument.
func (e *InvalidArgumentError) Is(target error) bool { return target == ErrInvalidArgument }

// NewConfigValidationError returns a config validation error for the config at `path`.
func NewConfigValidationError(path string, err error) error {
	return errors.Wrapf(err, "error validating %q", path)
}

// NewConfigValidationFieldRequiredError returns a config validation error for a missing field.
func NewConfigValidationFieldRequiredError(path, field string) error {
	return NewConfigValidationError(path, errors.Errorf("%q is required", field))
}
