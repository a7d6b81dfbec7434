package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for validation failures.
var (
	ErrInvalidVehicle = errors.New("invalid vehicle")
	ErrInvalidVIN     = errors.New("invalid VIN")
	ErrMissingMake    = errors.New("missing make")
	ErrMissingModel   = errors.New("missing model")
	ErrYearOutOfRange = errors.New("year out of range")
	ErrYearNotNumeric = errors.New("year is not numeric")
)

// Fetch failure kinds. The comparison form treats all three the same way; the
// distinction exists for logs and metrics.
var (
	ErrTransport        = errors.New("transport failure")
	ErrStatus           = errors.New("unexpected response status")
	ErrMalformedPayload = errors.New("malformed payload")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// FetchError reports a failed option fetch. Kind is one of ErrTransport,
// ErrStatus or ErrMalformedPayload; Err is the underlying cause, if any.
type FetchError struct {
	Path   string
	Status int
	Kind   error
	Err    error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.Path, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the fetch failure kind of err, defaulting to ErrTransport for
// errors that did not come from the API client.
func KindOf(err error) error {
	for _, k := range []error{ErrStatus, ErrMalformedPayload, ErrTransport} {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrTransport
}
