// Package job holds the canonical model and registry for conversion jobs.
//
// The Registry is the single source of truth for job state. All status
// transitions go through it, every accepted transition is written through to
// the persistence store, and the worker pool is the only component allowed
// to move a job into or out of processing.
package job

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ConvertOptions is the processing configuration attached to a job.
// The registry and scheduler never interpret it beyond validation; it is
// passed opaquely to the execution callback.
type ConvertOptions struct {
	DPI      int  `json:"dpi" validate:"gte=72,lte=1200"`
	Deskew   bool `json:"deskew"`
	Upscale  bool `json:"upscale"`
	OCR      bool `json:"ocr"`
	Advanced bool `json:"advanced"`
}

// DefaultConvertOptions returns the options applied when a submission
// carries none.
func DefaultConvertOptions() ConvertOptions {
	return ConvertOptions{
		DPI:     300,
		Deskew:  true,
		Upscale: true,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks option bounds. A zero DPI is filled from defaults rather
// than rejected, so partial option payloads stay usable.
func (o *ConvertOptions) Validate() error {
	if o.DPI == 0 {
		o.DPI = DefaultConvertOptions().DPI
	}
	if err := validate.Struct(o); err != nil {
		return NewValidationError("options", err.Error())
	}
	return nil
}

// Progress describes where a processing job currently is. It is present on
// a job only while the job is in StatusProcessing.
type Progress struct {
	CurrentStep int    `json:"current_step"`
	TotalSteps  int    `json:"total_steps"`
	StepName    string `json:"step_name"`
	Percent     int    `json:"percent"`
}

// NewProgress builds a Progress with the percent derived from the step
// position.
func NewProgress(current, total int, stepName string) Progress {
	p := Progress{CurrentStep: current, TotalSteps: total, StepName: stepName}
	if total > 0 {
		pct := (current * 100) / total
		if pct > 100 {
			pct = 100
		}
		p.Percent = pct
	}
	return p
}

// Job is one unit of submitted conversion work.
type Job struct {
	ID            uuid.UUID      `json:"id"`
	Status        Status         `json:"status"`
	Options       ConvertOptions `json:"options"`
	Progress      *Progress      `json:"progress,omitempty"`
	InputFilename string         `json:"input_filename"`
	InputPath     string         `json:"input_path,omitempty"`
	OutputPath    string         `json:"output_path,omitempty"`
	Error         string         `json:"error,omitempty"`
	RetryCount    int            `json:"retry_count"`
	Priority      Priority       `json:"priority"`
	BatchID       *uuid.UUID     `json:"batch_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

// New creates a queued job for the given input.
func New(inputFilename string, options ConvertOptions) *Job {
	return &Job{
		ID:            uuid.New(),
		Status:        StatusQueued,
		Options:       options,
		InputFilename: inputFilename,
		Priority:      PriorityNormal,
		CreatedAt:     time.Now().UTC(),
	}
}

// IsTerminal reports whether the job reached a terminal status.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Duration returns the wall time between start and completion, or zero if
// either timestamp is missing.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}

// markStarted moves the job into processing. Callers must have checked the
// transition is legal.
func (j *Job) markStarted(now time.Time) {
	j.Status = StatusProcessing
	j.StartedAt = &now
}

// markTerminal stamps a terminal status. Progress is cleared because it is
// only meaningful while processing.
func (j *Job) markTerminal(status Status, now time.Time) {
	j.Status = status
	j.CompletedAt = &now
	j.Progress = nil
}

// Clone returns a deep copy so callers can hand jobs across goroutines
// without sharing mutable state.
func (j *Job) Clone() *Job {
	c := *j
	if j.Progress != nil {
		p := *j.Progress
		c.Progress = &p
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.BatchID != nil {
		b := *j.BatchID
		c.BatchID = &b
	}
	return &c
}
