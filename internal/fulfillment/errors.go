package fulfillment

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is wrapped by every ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrAlreadySelected means a pharmacy has already been selected.
	ErrAlreadySelected = errors.New("pharmacy already selected")
	// ErrSelectionInFlight means another selection for the prescription is pending.
	ErrSelectionInFlight = errors.New("selection already in progress")
	// ErrInvalidTransition means the status change is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrApprovalFinal means a pharmacy tried to change a recorded response.
	ErrApprovalFinal = errors.New("approval already responded")
)

// ValidationError is returned before any network call when an operation's
// preconditions do not hold.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return e.Reason
}

func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrValidation, e.Err}
	}
	return []error{ErrValidation}
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
