/*
errors.go - Centralized error types for the settlement engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The HTTP layer classifies these into status codes; the engine itself
  never returns a bare string error for a business-rule violation.

ERROR CATEGORIES:
  1. Not-found errors  - Missing group, period, member, transaction
  2. Conflict errors   - Lifecycle guard violations (active period exists,
                         period locked)
  3. Forbidden errors  - Role lacks the required capability
  4. Validation errors - Malformed input rejected before any store write

USAGE:
  Callers branch with errors.Is:

    if errors.Is(err, engine.ErrActivePeriodExists) {
        // surface 409 with the guard's message
    }

SEE ALSO:
  - lifecycle.go: Returns conflict/forbidden errors
  - api/handlers.go: Maps errors to HTTP status codes
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrGroupNotFound is returned when a referenced group doesn't exist.
	ErrGroupNotFound = errors.New("group not found")

	// ErrPeriodNotFound is returned when a referenced period doesn't exist.
	ErrPeriodNotFound = errors.New("period not found")

	// ErrMemberNotFound is returned when the caller or target is not an
	// active member of the group.
	ErrMemberNotFound = errors.New("member not found")

	// ErrTransactionNotFound is returned when a referenced transaction
	// doesn't exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrActivePeriodExists is returned when creating a period while the
	// group already has an active one. The caller must end the current
	// period first.
	ErrActivePeriodExists = errors.New("end the current period before starting a new one")

	// ErrPeriodLocked is returned when attaching a ledger entity to a
	// locked period, or mutating one within it.
	ErrPeriodLocked = errors.New("period is locked")

	// ErrPeriodNotActive is returned when a ledger write targets an ended
	// or archived period.
	ErrPeriodNotActive = errors.New("period is not active")

	// ErrInvalidTransition is returned for lifecycle transitions the state
	// machine does not allow (e.g. archiving an active period).
	ErrInvalidTransition = errors.New("invalid period transition")

	// ErrForbidden is returned when the caller's role lacks the required
	// capability. Lifecycle mutations fail closed.
	ErrForbidden = errors.New("forbidden")

	// ErrValidation is returned for malformed input (bad amount, bad date,
	// missing required field) before any store mutation.
	ErrValidation = errors.New("validation failed")

	// ErrGroupFull is returned when joining a group at member capacity.
	ErrGroupFull = errors.New("group is full")

	// ErrDuplicateMeal is returned when a member claims a meal slot they
	// already hold for that date. One row per (period, user, date, slot).
	ErrDuplicateMeal = errors.New("meal slot already recorded for this member and date")

	// ErrWrongPassword is returned when joining a private group with the
	// wrong password.
	ErrWrongPassword = errors.New("wrong group password")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConflictError describes a lifecycle guard violation with the rule that
// was broken, so callers get a specific human-readable reason.
type ConflictError struct {
	GroupID  GroupID
	PeriodID PeriodID
	Rule     error // one of the sentinel conflict errors
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict for group %s: %v", e.GroupID, e.Rule)
}

func (e *ConflictError) Unwrap() error { return e.Rule }

// ForbiddenError reports which role attempted which operation.
type ForbiddenError struct {
	UserID    UserID
	Role      Role
	Operation string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("role %q may not %s", e.Role, e.Operation)
}

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrGroupNotFound) ||
		errors.Is(err, ErrPeriodNotFound) ||
		errors.Is(err, ErrMemberNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}

// IsConflict returns true for lifecycle guard violations. The caller
// must resolve these manually (end/unlock first); no retry will help.
func IsConflict(err error) bool {
	return errors.Is(err, ErrActivePeriodExists) ||
		errors.Is(err, ErrPeriodLocked) ||
		errors.Is(err, ErrPeriodNotActive) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrGroupFull) ||
		errors.Is(err, ErrDuplicateMeal)
}

// IsForbidden returns true when the caller lacks the required role.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden) || errors.Is(err, ErrWrongPassword)
}

// IsClientError returns true if the error is due to invalid client input
// or a business-rule violation, as opposed to a store failure.
func IsClientError(err error) bool {
	return IsConflict(err) || IsForbidden(err) || errors.Is(err, ErrValidation)
}
