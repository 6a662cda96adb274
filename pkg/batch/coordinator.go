package batch

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/bookforge/bookforge/pkg/job"
)

// Coordinator creates batches and answers batch queries. Membership lives
// here; job state stays in the registry and is consulted fresh on every
// query, so batch status can never drift from job status.
type Coordinator struct {
	registry *job.Registry

	mu      sync.RWMutex
	batches map[uuid.UUID]*Batch
}

// NewCoordinator creates a coordinator over the given registry.
func NewCoordinator(registry *job.Registry) *Coordinator {
	return &Coordinator{
		registry: registry,
		batches:  make(map[uuid.UUID]*Batch),
	}
}

// Submission is one file in a batch creation request.
type Submission struct {
	InputFilename string
	InputPath     string
}

// Create submits one job per input under a fresh batch ID. Submission is
// all-or-nothing: if any member is rejected, the already-admitted members
// are cancelled and the batch is not recorded.
func (c *Coordinator) Create(inputs []Submission, options job.ConvertOptions, priority job.Priority) (*Batch, error) {
	if len(inputs) == 0 {
		return nil, job.NewValidationError("files", "batch requires at least one file")
	}

	b := &Batch{
		ID:        uuid.New(),
		JobIDs:    make([]uuid.UUID, 0, len(inputs)),
		CreatedAt: time.Now().UTC(),
	}

	for _, in := range inputs {
		j := job.New(in.InputFilename, options)
		j.InputPath = in.InputPath
		j.Priority = priority
		id := b.ID
		j.BatchID = &id

		if err := c.registry.Submit(j); err != nil {
			c.rollback(b)
			return nil, err
		}
		b.JobIDs = append(b.JobIDs, j.ID)
	}

	c.mu.Lock()
	c.batches[b.ID] = b
	c.mu.Unlock()

	log.Info().
		Str("component", "batch").
		Str("batch_id", b.ID.String()).
		Int("jobs", len(b.JobIDs)).
		Msg("Batch created")
	return b, nil
}

// rollback cancels the members admitted before a submission failed.
func (c *Coordinator) rollback(b *Batch) {
	for _, id := range b.JobIDs {
		if err := c.registry.Cancel(id); err != nil {
			log.Warn().
				Str("component", "batch").
				Str("job_id", id.String()).
				Err(err).
				Msg("Rollback cancel failed")
		}
	}
}

// Get returns the derived snapshot for a batch.
func (c *Coordinator) Get(id uuid.UUID) (*Snapshot, error) {
	b, err := c.lookup(id)
	if err != nil {
		return nil, err
	}
	members := c.members(b)
	return &Snapshot{
		ID:        b.ID,
		Status:    Derive(members),
		Progress:  Count(members),
		CreatedAt: b.CreatedAt,
	}, nil
}

// Jobs returns copies of the member jobs in submission order.
func (c *Coordinator) Jobs(id uuid.UUID) ([]*job.Job, error) {
	b, err := c.lookup(id)
	if err != nil {
		return nil, err
	}
	return c.members(b), nil
}

// Cancel cancels every member that is still cancellable and returns how
// many were cancelled. Members already terminal are left alone; cancelling
// a finished batch is a no-op, not an error.
func (c *Coordinator) Cancel(id uuid.UUID) (int, error) {
	b, err := c.lookup(id)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, jobID := range b.JobIDs {
		if err := c.registry.Cancel(jobID); err != nil {
			if job.IsInvalidTransition(err) || job.IsNotFound(err) {
				continue
			}
			return cancelled, err
		}
		cancelled++
	}

	log.Info().
		Str("component", "batch").
		Str("batch_id", id.String()).
		Int("cancelled", cancelled).
		Msg("Batch cancelled")
	return cancelled, nil
}

// Restore rebuilds batch membership from restored jobs. Batches are not
// persisted on their own; the batch_id carried by each job is enough to
// reconstruct them at startup.
func (c *Coordinator) Restore() int {
	grouped := make(map[uuid.UUID]*Batch)
	all := c.registry.List()
	// List is newest first; walk backwards so members land in submission
	// order.
	for i := len(all) - 1; i >= 0; i-- {
		j := all[i]
		if j.BatchID == nil {
			continue
		}
		b, ok := grouped[*j.BatchID]
		if !ok {
			b = &Batch{ID: *j.BatchID, CreatedAt: j.CreatedAt}
			grouped[*j.BatchID] = b
		}
		b.JobIDs = append(b.JobIDs, j.ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, b := range grouped {
		if _, exists := c.batches[id]; !exists {
			c.batches[id] = b
		}
	}
	return len(grouped)
}

func (c *Coordinator) lookup(id uuid.UUID) (*Batch, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.batches[id]
	if !ok {
		return nil, job.NewNotFoundError("batch", id)
	}
	return b, nil
}

// members resolves current member jobs, skipping any that were removed by
// retention cleanup.
func (c *Coordinator) members(b *Batch) []*job.Job {
	out := make([]*job.Job, 0, len(b.JobIDs))
	for _, id := range b.JobIDs {
		if j, err := c.registry.Get(id); err == nil {
			out = append(out, j)
		}
	}
	return out
}
