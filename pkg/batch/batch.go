// Package batch groups jobs submitted together and derives an aggregate
// status from its members. The batch itself carries no lifecycle of its
// own; everything reported about a batch is a pure function of the member
// jobs at the moment of asking.
package batch

import (
	"time"

	"github.com/google/uuid"

	"github.com/bookforge/bookforge/pkg/job"
)

// Status is the derived aggregate state of a batch.
type Status string

const (
	StatusQueued             Status = "queued"
	StatusProcessing         Status = "processing"
	StatusCompleted          Status = "completed"
	StatusPartiallyCompleted Status = "partially_completed"
	StatusFailed             Status = "failed"
	StatusCancelled          Status = "cancelled"
)

// Batch is the membership record for a group submission.
type Batch struct {
	ID        uuid.UUID   `json:"id"`
	JobIDs    []uuid.UUID `json:"job_ids"`
	CreatedAt time.Time   `json:"created_at"`
}

// Progress summarizes member states.
type Progress struct {
	Total      int `json:"total"`
	Queued     int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

// Snapshot is what the API reports for a batch.
type Snapshot struct {
	ID        uuid.UUID `json:"id"`
	Status    Status    `json:"status"`
	Progress  Progress  `json:"progress"`
	CreatedAt time.Time `json:"created_at"`
}

// Derive computes the aggregate status from member jobs.
//
// A batch with work still moving is processing; a batch where nothing has
// started is queued. Once every member is terminal the aggregate collapses
// to completed, partially_completed (some but not all members completed),
// failed or cancelled.
func Derive(members []*job.Job) Status {
	p := Count(members)

	active := p.Queued + p.Processing
	if active > 0 {
		if p.Processing > 0 || p.Completed+p.Failed+p.Cancelled > 0 {
			return StatusProcessing
		}
		return StatusQueued
	}

	switch {
	case p.Total == 0:
		return StatusQueued
	case p.Completed == p.Total:
		return StatusCompleted
	case p.Cancelled == p.Total:
		return StatusCancelled
	case p.Completed > 0:
		return StatusPartiallyCompleted
	default:
		return StatusFailed
	}
}

// Count tallies member jobs per status.
func Count(members []*job.Job) Progress {
	p := Progress{Total: len(members)}
	for _, j := range members {
		switch j.Status {
		case job.StatusQueued:
			p.Queued++
		case job.StatusProcessing:
			p.Processing++
		case job.StatusCompleted:
			p.Completed++
		case job.StatusFailed:
			p.Failed++
		case job.StatusCancelled:
			p.Cancelled++
		}
	}
	return p
}
