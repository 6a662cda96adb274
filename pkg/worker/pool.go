// Package worker schedules queued jobs onto a fixed pool of goroutines.
//
// The pool owns the priority queue and the execution contexts of running
// jobs, but never decides job state on its own: every transition goes
// through the registry, which is the single authority on the state machine.
package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bookforge/bookforge/pkg/job"
)

// Executor runs one job to completion. It must honor ctx cancellation
// promptly at stage boundaries and may report progress through the sink.
// On success it returns the path of the produced artifact.
type Executor interface {
	Execute(ctx context.Context, j *job.Job, progress ProgressFunc) (outputPath string, err error)
}

// ProgressFunc receives progress updates during execution.
type ProgressFunc func(p job.Progress)

// Config holds pool sizing.
type Config struct {
	// Workers is the number of concurrent job slots.
	Workers int `koanf:"workers"`
}

// DefaultConfig sizes the pool to the host's CPU count.
func DefaultConfig() Config {
	return Config{Workers: runtime.NumCPU()}
}

// Pool runs jobs from a priority queue on a fixed number of workers.
// Higher priority wins; within a tier jobs run in submission order.
type Pool struct {
	registry *job.Registry
	executor Executor
	size     int

	mu      sync.Mutex
	cond    *sync.Cond
	queue   *priorityQueue
	paused  bool
	stopped bool
	active  int

	wg sync.WaitGroup
}

// New creates a pool. It does not start workers; call Start.
func New(registry *job.Registry, executor Executor, cfg Config) *Pool {
	size := cfg.Workers
	if size <= 0 {
		size = DefaultConfig().Workers
	}
	p := &Pool{
		registry: registry,
		executor: executor,
		size:     size,
		queue:    newPriorityQueue(),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	log.Info().
		Str("component", "worker").
		Int("workers", p.size).
		Msg("Worker pool started")
}

// Enqueue adds a job to the queue and wakes a worker. Implements the
// registry's Scheduler contract.
func (p *Pool) Enqueue(j *job.Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.queue.push(j)
	p.cond.Signal()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for (p.queue.Len() == 0 || p.paused) && !p.stopped {
			p.cond.Wait()
		}
		if p.stopped {
			p.mu.Unlock()
			return
		}
		next := p.queue.pop()
		// Count the slot as busy before releasing the lock so Drain never
		// sees an idle pool while a claim is in flight.
		p.active++
		p.mu.Unlock()

		// The queue entry may be stale: the job could have been cancelled
		// while waiting. Claim settles it atomically.
		claimed, ok := p.registry.Claim(next.ID)
		if !ok {
			p.mu.Lock()
			p.active--
			p.mu.Unlock()
			p.cond.Broadcast()
			continue
		}

		p.run(id, claimed)

		p.mu.Lock()
		p.active--
		p.mu.Unlock()
		p.cond.Broadcast()
	}
}

func (p *Pool) run(workerID int, j *job.Job) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.registry.RegisterCancel(j.ID, cancel)
	defer p.registry.UnregisterCancel(j.ID)

	log.Debug().
		Str("component", "worker").
		Int("worker_id", workerID).
		Str("job_id", j.ID.String()).
		Str("priority", j.Priority.String()).
		Msg("Job started")

	output, err := p.executor.Execute(ctx, j, func(prog job.Progress) {
		p.registry.UpdateProgress(j.ID, prog)
	})

	switch {
	case err == nil:
		if terr := p.registry.Complete(j.ID, output); terr != nil {
			// Cancellation won the race; the terminal state stands.
			logLostRace(j, terr)
		}
	case errors.Is(err, context.Canceled):
		// The registry already marked the job cancelled.
		log.Info().
			Str("component", "worker").
			Str("job_id", j.ID.String()).
			Msg("Job execution stopped by cancellation")
	default:
		if terr := p.registry.Fail(j.ID, err.Error()); terr != nil {
			logLostRace(j, terr)
		}
		log.Warn().
			Str("component", "worker").
			Str("job_id", j.ID.String()).
			Err(err).
			Msg("Job failed")
	}
}

func logLostRace(j *job.Job, err error) {
	if job.IsInvalidTransition(err) {
		log.Debug().
			Str("component", "worker").
			Str("job_id", j.ID.String()).
			Msg("Terminal result discarded, job already finalized")
		return
	}
	log.Error().
		Str("component", "worker").
		Str("job_id", j.ID.String()).
		Err(err).
		Msg("Failed to record job result")
}

// Pause stops workers from picking up new jobs. Running jobs continue.
func (p *Pool) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
}

// Resume lifts a pause.
func (p *Pool) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Drain blocks until no job is executing or the context expires. It does
// not wait for queued jobs; pause first so none get picked up.
func (p *Pool) Drain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		p.mu.Lock()
		active := p.active
		p.mu.Unlock()
		if active == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop shuts the workers down. Running jobs are allowed to finish; queued
// jobs stay queued for the next start.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.cond.Broadcast()
	p.wg.Wait()
	log.Info().
		Str("component", "worker").
		Msg("Worker pool stopped")
}

// PoolStats is a snapshot of pool occupancy.
type PoolStats struct {
	Workers int `json:"workers"`
	Active  int `json:"active"`
	Queued  int `json:"queued"`
}

// Stats reports current occupancy.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{Workers: p.size, Active: p.active, Queued: p.queue.Len()}
}

// Active returns the number of jobs currently executing.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}
