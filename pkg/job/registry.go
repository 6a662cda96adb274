package job

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/bookforge/bookforge/pkg/stringutil"
)

// maxErrorLen bounds the stored failure reason.
const maxErrorLen = 500

// shardCount must be a power of two.
const shardCount = 16

// Mirror is the slice of the persistence contract the registry writes
// through to. The store package's Store satisfies it; keeping the interface
// here lets the registry stay free of a dependency on any backend.
type Mirror interface {
	Save(j *Job) error
	Delete(id uuid.UUID) error
	List() ([]*Job, error)
	Flush() error
}

// Scheduler receives jobs that are ready to run. The worker pool implements
// it; the indirection exists so the registry never imports the pool.
type Scheduler interface {
	Enqueue(j *Job)
}

type shard struct {
	mu      sync.RWMutex
	jobs    map[uuid.UUID]*Job
	cancels map[uuid.UUID]context.CancelFunc
}

// Registry is the authoritative in-memory table of all jobs. The table is
// sharded by job ID so unrelated jobs never contend on one lock. Every
// status transition is validated against the state machine, applied under
// the owning shard's lock and written through to the mirror before the
// call returns. Reads never touch the mirror after startup.
type Registry struct {
	shards [shardCount]shard
	mirror Mirror
	sealed atomic.Bool

	schedMu   sync.RWMutex
	scheduler Scheduler

	subMu       sync.RWMutex
	subscribers []func(*Job)
}

// NewRegistry creates an empty registry writing through to the given mirror.
func NewRegistry(mirror Mirror) *Registry {
	r := &Registry{mirror: mirror}
	for i := range r.shards {
		r.shards[i].jobs = make(map[uuid.UUID]*Job)
		r.shards[i].cancels = make(map[uuid.UUID]context.CancelFunc)
	}
	return r
}

func (r *Registry) shardFor(id uuid.UUID) *shard {
	return &r.shards[id[0]&(shardCount-1)]
}

// SetScheduler wires the worker pool in. Must be called before Submit.
func (r *Registry) SetScheduler(s Scheduler) {
	r.schedMu.Lock()
	defer r.schedMu.Unlock()
	r.scheduler = s
}

func (r *Registry) getScheduler() Scheduler {
	r.schedMu.RLock()
	defer r.schedMu.RUnlock()
	return r.scheduler
}

// Subscribe registers a callback invoked with a copy of every job whose
// status changed. Callbacks run outside any shard lock and may call back
// into the registry.
func (r *Registry) Subscribe(fn func(*Job)) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

func (r *Registry) notify(j *Job) {
	r.subMu.RLock()
	subs := r.subscribers
	r.subMu.RUnlock()
	for _, fn := range subs {
		fn(j.Clone())
	}
}

// Restore loads persisted jobs into the table. Called once at startup,
// before the recovery pass and before any traffic is accepted.
func (r *Registry) Restore() (int, error) {
	if r.mirror == nil {
		return 0, nil
	}
	persisted, err := r.mirror.List()
	if err != nil {
		return 0, fmt.Errorf("restore jobs: %w", err)
	}

	for _, j := range persisted {
		sh := r.shardFor(j.ID)
		sh.mu.Lock()
		sh.jobs[j.ID] = j
		sh.mu.Unlock()
	}
	return len(persisted), nil
}

// Submit validates and admits a new job. The job is persisted before it
// becomes visible; a mirror failure rejects the submission so the server
// never accepts work it could lose.
func (r *Registry) Submit(j *Job) error {
	if err := j.Options.Validate(); err != nil {
		return err
	}
	if r.sealed.Load() {
		return ErrShuttingDown
	}

	sh := r.shardFor(j.ID)
	sh.mu.Lock()
	if r.sealed.Load() {
		sh.mu.Unlock()
		return ErrShuttingDown
	}
	if _, exists := sh.jobs[j.ID]; exists {
		sh.mu.Unlock()
		return NewConflictError("job %s already exists", j.ID)
	}
	if err := r.persist(j); err != nil {
		sh.mu.Unlock()
		return fmt.Errorf("persist job %s: %w", j.ID, err)
	}
	sh.jobs[j.ID] = j.Clone()
	sh.mu.Unlock()

	if scheduler := r.getScheduler(); scheduler != nil {
		scheduler.Enqueue(j.Clone())
	}
	log.Debug().
		Str("component", "registry").
		Str("job_id", j.ID.String()).
		Str("priority", j.Priority.String()).
		Msg("Job submitted")
	return nil
}

// Get returns a copy of the job.
func (r *Registry) Get(id uuid.UUID) (*Job, error) {
	sh := r.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	j, ok := sh.jobs[id]
	if !ok {
		return nil, NewNotFoundError("job", id)
	}
	return j.Clone(), nil
}

// List returns copies of all jobs, newest first.
func (r *Registry) List() []*Job {
	var out []*Job
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		for _, j := range sh.jobs {
			out = append(out, j.Clone())
		}
		sh.mu.RUnlock()
	}

	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.After(out[k].CreatedAt)
		}
		return out[i].ID.String() < out[k].ID.String()
	})
	return out
}

// ListByBatch returns copies of the batch members in submission order.
func (r *Registry) ListByBatch(batchID uuid.UUID) []*Job {
	var out []*Job
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		for _, j := range sh.jobs {
			if j.BatchID != nil && *j.BatchID == batchID {
				out = append(out, j.Clone())
			}
		}
		sh.mu.RUnlock()
	}

	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.Before(out[k].CreatedAt)
		}
		return out[i].ID.String() < out[k].ID.String()
	})
	return out
}

// Claim atomically moves a queued job into processing on behalf of a
// worker. It returns false when the job is no longer claimable, which
// happens when it was cancelled while sitting in the queue. The check and
// the transition happen under one lock acquisition, so two workers can
// never claim the same job.
func (r *Registry) Claim(id uuid.UUID) (*Job, bool) {
	sh := r.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	j, ok := sh.jobs[id]
	if !ok || j.Status != StatusQueued {
		return nil, false
	}
	j.markStarted(time.Now().UTC())
	if err := r.persist(j); err != nil {
		log.Error().
			Str("component", "registry").
			Str("job_id", id.String()).
			Err(err).
			Msg("Failed to persist claim")
	}
	return j.Clone(), true
}

// UpdateProgress records progress for a processing job. Progress on a job
// in any other state is dropped silently: a late update from a worker that
// lost a cancellation race is expected, not an error.
func (r *Registry) UpdateProgress(id uuid.UUID, p Progress) {
	sh := r.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	j, ok := sh.jobs[id]
	if !ok || j.Status != StatusProcessing {
		return
	}
	j.Progress = &p
	// Progress rides the auto-save cycle; losing one interval of progress
	// on crash is acceptable, unlike losing a status transition.
	if err := r.persist(j); err != nil {
		log.Warn().
			Str("component", "registry").
			Str("job_id", id.String()).
			Err(err).
			Msg("Failed to persist progress")
	}
}

// Complete marks a processing job as completed with its output artifact.
func (r *Registry) Complete(id uuid.UUID, outputPath string) error {
	return r.finish(id, StatusCompleted, func(j *Job) {
		j.OutputPath = outputPath
	})
}

// Fail marks a processing job as failed and records the execution error.
func (r *Registry) Fail(id uuid.UUID, reason string) error {
	return r.finish(id, StatusFailed, func(j *Job) {
		// Pipeline errors can carry pages of tool output; keep the stored
		// reason to a single presentable line.
		j.Error = stringutil.Ellipsis(reason, maxErrorLen)
	})
}

// Cancel requests cancellation. A queued job is cancelled immediately and
// will be skipped at claim time. A processing job is marked cancelled and
// its execution context is cancelled so the worker can stop cooperatively.
// Cancelling a terminal job is an invalid transition.
func (r *Registry) Cancel(id uuid.UUID) error {
	sh := r.shardFor(id)
	sh.mu.Lock()
	j, ok := sh.jobs[id]
	if !ok {
		sh.mu.Unlock()
		return NewNotFoundError("job", id)
	}
	if !j.Status.CanTransitionTo(StatusCancelled) {
		err := &InvalidTransitionError{ID: id, From: j.Status, To: StatusCancelled}
		sh.mu.Unlock()
		return err
	}
	j.markTerminal(StatusCancelled, time.Now().UTC())
	if err := r.persist(j); err != nil {
		log.Error().
			Str("component", "registry").
			Str("job_id", id.String()).
			Err(err).
			Msg("Failed to persist cancellation")
	}
	cancel := sh.cancels[id]
	delete(sh.cancels, id)
	clone := j.Clone()
	sh.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.notify(clone)
	log.Info().
		Str("component", "registry").
		Str("job_id", id.String()).
		Msg("Job cancelled")
	return nil
}

// finish applies a terminal transition coming from a worker. A job already
// cancelled reports an InvalidTransitionError; the pool treats that as the
// cancellation having won the race.
func (r *Registry) finish(id uuid.UUID, status Status, apply func(*Job)) error {
	sh := r.shardFor(id)
	sh.mu.Lock()
	j, ok := sh.jobs[id]
	if !ok {
		sh.mu.Unlock()
		return NewNotFoundError("job", id)
	}
	if !j.Status.CanTransitionTo(status) {
		err := &InvalidTransitionError{ID: id, From: j.Status, To: status}
		sh.mu.Unlock()
		return err
	}
	apply(j)
	j.markTerminal(status, time.Now().UTC())
	if err := r.persist(j); err != nil {
		log.Error().
			Str("component", "registry").
			Str("job_id", id.String()).
			Err(err).
			Msg("Failed to persist terminal status")
	}
	delete(sh.cancels, id)
	clone := j.Clone()
	sh.mu.Unlock()

	r.notify(clone)
	return nil
}

// Retry resubmits a failed job as a fresh queued job. The original stays
// failed; terminal records are never mutated. The new job carries the same
// input and options with an incremented retry count.
func (r *Registry) Retry(id uuid.UUID) (*Job, error) {
	sh := r.shardFor(id)
	sh.mu.RLock()
	orig, ok := sh.jobs[id]
	if !ok {
		sh.mu.RUnlock()
		return nil, NewNotFoundError("job", id)
	}
	if orig.Status != StatusFailed {
		sh.mu.RUnlock()
		return nil, NewConflictError("job %s is %s, only failed jobs can be retried", id, orig.Status)
	}
	retry := New(orig.InputFilename, orig.Options)
	retry.InputPath = orig.InputPath
	retry.Priority = orig.Priority
	retry.RetryCount = orig.RetryCount + 1
	if orig.BatchID != nil {
		b := *orig.BatchID
		retry.BatchID = &b
	}
	sh.mu.RUnlock()

	if err := r.Submit(retry); err != nil {
		return nil, err
	}
	return retry.Clone(), nil
}

// RegisterCancel associates a running job with the cancel function of its
// execution context. The pool registers it right after a successful claim.
func (r *Registry) RegisterCancel(id uuid.UUID, cancel context.CancelFunc) {
	sh := r.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.cancels[id] = cancel
}

// UnregisterCancel drops the association once execution finished.
func (r *Registry) UnregisterCancel(id uuid.UUID) {
	sh := r.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.cancels, id)
}

// Seal stops intake. Every Submit after this returns ErrShuttingDown.
func (r *Registry) Seal() {
	r.sealed.Store(true)
}

// Cleanup removes terminal jobs created before the cutoff from the table
// and the mirror, returning how many were removed.
func (r *Registry) Cleanup(olderThan time.Time) (int, error) {
	var removed []uuid.UUID
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.Lock()
		for id, j := range sh.jobs {
			if j.IsTerminal() && j.CreatedAt.Before(olderThan) {
				delete(sh.jobs, id)
				removed = append(removed, id)
			}
		}
		sh.mu.Unlock()
	}

	if r.mirror != nil {
		for _, id := range removed {
			if err := r.mirror.Delete(id); err != nil {
				return len(removed), fmt.Errorf("cleanup job %s: %w", id, err)
			}
		}
		if len(removed) > 0 {
			if err := r.mirror.Flush(); err != nil {
				return len(removed), err
			}
		}
	}
	return len(removed), nil
}

// Flush forces the mirror to durable storage.
func (r *Registry) Flush() error {
	if r.mirror == nil {
		return nil
	}
	return r.mirror.Flush()
}

// Stats is a point-in-time census of the table.
type Stats struct {
	Total      int `json:"total"`
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

// Stats counts jobs per status.
func (r *Registry) Stats() Stats {
	var s Stats
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		s.Total += len(sh.jobs)
		for _, j := range sh.jobs {
			switch j.Status {
			case StatusQueued:
				s.Queued++
			case StatusProcessing:
				s.Processing++
			case StatusCompleted:
				s.Completed++
			case StatusFailed:
				s.Failed++
			case StatusCancelled:
				s.Cancelled++
			}
		}
		sh.mu.RUnlock()
	}
	return s
}

// PendingCount returns how many jobs are queued or processing.
func (r *Registry) PendingCount() int {
	s := r.Stats()
	return s.Queued + s.Processing
}

func (r *Registry) persist(j *Job) error {
	if r.mirror == nil {
		return nil
	}
	return r.mirror.Save(j)
}

// restoreOverwrite replaces a job record during the startup recovery pass,
// bypassing the runtime state machine. Crash leftovers such as a job stuck
// in processing with no worker have no legal runtime edge back to queued;
// recovery repairs them before any traffic is accepted.
func (r *Registry) restoreOverwrite(j *Job) error {
	sh := r.shardFor(j.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.jobs[j.ID] = j.Clone()
	return r.persist(j)
}
