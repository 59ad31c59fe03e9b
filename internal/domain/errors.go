package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks user-correctable input problems.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized is returned when the caller identity is missing.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound is returned when an activity cannot be located.
	ErrNotFound = errors.New("activity not found")
	// ErrClosed is returned when an activity no longer accepts input.
	ErrClosed = errors.New("activity closed")
	// ErrInsufficientBalance is returned when removing more votes than a participant holds.
	ErrInsufficientBalance = errors.New("insufficient vote balance")
	// ErrLimitExceeded is returned when a purchase would exceed a lifetime purchase limit.
	ErrLimitExceeded = errors.New("purchase limit exceeded")
	// ErrConflict indicates a concurrent modification or duplicate write.
	ErrConflict = errors.New("conflict")
)

var (
	// ErrMissingAnswer is returned when a required form question is unanswered.
	ErrMissingAnswer = fmt.Errorf("%w: missing answer", ErrValidation)
	// ErrPaymentRequired is returned when a priced form is submitted without a matching payment.
	ErrPaymentRequired = fmt.Errorf("%w: payment required", ErrValidation)
	// ErrAlreadySubmitted is returned for a second submission to a once-only form.
	ErrAlreadySubmitted = fmt.Errorf("%w: form already submitted", ErrConflict)
)

// errNoEffect aborts a purchase whose adjustments change nothing.
var errNoEffect = errors.New("no effective adjustments")

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
