package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced record (site, version, lineage) cannot be resolved.
	ErrNotFound = errors.New("not found")

	// ErrSpatialStoreUnavailable wraps failures talking to the spatial datastore.
	ErrSpatialStoreUnavailable = errors.New("spatial store unavailable")

	// ErrNonFiniteCoordinate aborts a tessellation batch when projection produced NaN or Inf.
	ErrNonFiniteCoordinate = errors.New("non-finite coordinate after projection")
)

// ValidationError reports an input that is shaped wrong before any write happens.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError for the given field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err wraps a *ValidationError.
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// NotFoundf wraps ErrNotFound with a description of the missing reference.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
