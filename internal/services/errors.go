package services

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors mapped to HTTP status codes by the handlers.
var (
	// ErrNotFound indicates the requested record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrForbidden indicates the caller's role does not permit the operation
	ErrForbidden = errors.New("operation not permitted for this role")

	// ErrConflict indicates the operation conflicts with current state,
	// e.g. resolving an already-resolved escalation chain
	ErrConflict = errors.New("operation conflicts with current state")
)

// ValidationError carries per-field validation failures for a request.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// NewValidationError creates a validation error for a single field.
func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// AsValidationError extracts a ValidationError from an error chain.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
