package xerrors

import (
	"errors"
	"fmt"
	"strings"
)

// Generic
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
)

// Ledger
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientAvailable = errors.New("insufficient available balance")
	ErrInsufficientHeld      = errors.New("insufficient held balance")
	ErrAccountNotFound       = fmt.Errorf("account %w", ErrNotFound)
	ErrAccountInactive       = errors.New("account inactive")
	ErrAccountExists         = fmt.Errorf("%w: account already exists", ErrConflict)
	ErrEntryNotFound         = fmt.Errorf("ledger entry %w", ErrNotFound)
	ErrInvariantViolated     = errors.New("ledger invariant violated")
)

// Workflow
var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrSegregationOfDuties = fmt.Errorf("%w: maker cannot resolve own item", ErrUnauthorized)
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrStaleState          = fmt.Errorf("%w: stale state", ErrInvalidTransition)
	ErrMissingComments     = fmt.Errorf("%w: comments required", ErrValidation)
	ErrItemNotFound        = fmt.Errorf("workflow item %w", ErrNotFound)
)

// Batch
var (
	ErrPartialFailure     = errors.New("partial failure")
	ErrBatchNotFound      = fmt.Errorf("batch %w", ErrNotFound)
	ErrItemAlreadyBatched = fmt.Errorf("%w: item already belongs to a batch", ErrConflict)
)

// IPO
var (
	ErrIPONotFound         = fmt.Errorf("ipo %w", ErrNotFound)
	ErrApplicationNotFound = fmt.Errorf("ipo application %w", ErrNotFound)
)

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError for field.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ItemFailure is the reason a single batch member could not be processed.
type ItemFailure struct {
	ItemID string
	Err    error
}

// PartialFailure is returned when any member of a batch fails validation.
// No member of the batch has changed state when it is returned.
type PartialFailure struct {
	BatchID  string
	Failures []ItemFailure
}

func (e *PartialFailure) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.ItemID, f.Err))
	}
	return fmt.Sprintf("batch %s: %d item(s) failed: %s", e.BatchID, len(e.Failures), strings.Join(parts, "; "))
}

func (e *PartialFailure) Is(target error) bool {
	return target == ErrPartialFailure
}

// Unwrap exposes the item errors so callers can match on the underlying cause.
func (e *PartialFailure) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
