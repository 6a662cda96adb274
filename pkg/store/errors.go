package store

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Common errors returned by store operations.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrCorruptState is returned when persisted content cannot be decoded.
	// A missing or empty file is "no prior state", never corruption.
	ErrCorruptState = errors.New("corrupt persisted state")

	// ErrClosed is returned when using a store after Close.
	ErrClosed = errors.New("store is closed")

	// ErrLocked is returned when another process holds the storage lock.
	ErrLocked = errors.New("storage directory is locked by another process")
)

// NotFoundError wraps ErrNotFound with the missing record ID.
type NotFoundError struct {
	ID uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("job record not found: %s", e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// CorruptStateError wraps ErrCorruptState with the source path and cause.
type CorruptStateError struct {
	Path string
	Err  error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("corrupt persisted state in %s: %v", e.Path, e.Err)
}

func (e *CorruptStateError) Unwrap() error { return ErrCorruptState }

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsCorruptState reports whether err is or wraps ErrCorruptState.
func IsCorruptState(err error) bool { return errors.Is(err, ErrCorruptState) }
