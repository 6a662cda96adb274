// Package store provides durable persistence for jobs behind a pluggable
// backend contract. Backends are selected once at startup through the
// factory and never mixed at runtime.
package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/bookforge/bookforge/pkg/job"
)

// Store is the persistence contract. The job registry owns the in-memory
// authoritative copy and treats the store as a write-through mirror that is
// read back only at startup.
type Store interface {
	// Save writes or overwrites the record for a job.
	Save(j *job.Job) error

	// Get returns a job by ID, or a NotFoundError.
	Get(id uuid.UUID) (*job.Job, error)

	// List returns all persisted jobs in unspecified order.
	List() ([]*job.Job, error)

	// Delete removes a job record. Deleting an unknown ID is not an error.
	Delete(id uuid.UUID) error

	// GetPending returns jobs whose status is queued or processing.
	GetPending() ([]*job.Job, error)

	// Cleanup deletes terminal jobs created before the cutoff and returns
	// how many records were removed.
	Cleanup(olderThan time.Time) (int, error)

	// Flush forces buffered state to durable storage.
	Flush() error

	// Close flushes and releases backend resources.
	Close() error
}
