package job

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors for the job subsystem. Handlers map these onto HTTP
// status codes; everything else is treated as an internal error.
var (
	// ErrNotFound is returned when a job or batch identity is unknown.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned when request input fails validation.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTransition is returned when a status change violates the
	// state machine. It indicates a programming or race defect and is never
	// silently swallowed.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrConflict is returned when an operation is not possible in the
	// job's current state, e.g. downloading before completion.
	ErrConflict = errors.New("conflict")

	// ErrShuttingDown is returned for new submissions once teardown started.
	ErrShuttingDown = errors.New("server is shutting down")
)

// NotFoundError wraps ErrNotFound with the missing identity.
type NotFoundError struct {
	Resource string
	ID       uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFoundError creates a NotFoundError for the given resource kind.
func NewNotFoundError(resource string, id uuid.UUID) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError wraps ErrValidation with the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid input: %s", e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError creates a ValidationError.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// InvalidTransitionError wraps ErrInvalidTransition with both edges.
type InvalidTransitionError struct {
	ID   uuid.UUID
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("job %s: illegal transition %s → %s", e.ID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// ConflictError wraps ErrConflict with a reason.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

func (e *ConflictError) Unwrap() error { return ErrConflict }

// NewConflictError creates a ConflictError.
func NewConflictError(format string, args ...any) error {
	return &ConflictError{Reason: fmt.Sprintf(format, args...)}
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsValidation reports whether err is or wraps ErrValidation.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsInvalidTransition reports whether err is or wraps ErrInvalidTransition.
func IsInvalidTransition(err error) bool { return errors.Is(err, ErrInvalidTransition) }

// IsConflict reports whether err is or wraps ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsShuttingDown reports whether err is or wraps ErrShuttingDown.
func IsShuttingDown(err error) bool { return errors.Is(err, ErrShuttingDown) }
