package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the recoverable failure modes of the workflow. Callers
// degrade on these rather than failing the session.
var (
	// ErrRegistryUnavailable signals a transport or HTTP failure talking to
	// the trial registry. The workflow degrades to an empty result set.
	ErrRegistryUnavailable = errors.New("trial registry unavailable")

	// ErrOracleUnavailable signals a missing credential or a failed oracle
	// call. The workflow substitutes a fixed error verdict.
	ErrOracleUnavailable = errors.New("eligibility oracle unavailable")

	// ErrMalformedExtraction signals that structured profile extraction
	// returned output that could not be parsed. Callers fall back to manual
	// form entry.
	ErrMalformedExtraction = errors.New("malformed profile extraction")

	// ErrSessionNotFound signals an unknown or expired session identifier.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTrialNotFound signals an NCT ID that is not in the current result set.
	ErrTrialNotFound = errors.New("trial not in current results")
)

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}
