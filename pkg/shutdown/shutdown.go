// Package shutdown sequences a coordinated teardown: stop intake, notify
// listeners, drain running work, flush state. The coordinator does not own
// any of the pieces; it drives them through narrow interfaces so the
// sequencing logic stays testable on its own.
package shutdown

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Sealer stops new work from being admitted.
type Sealer interface {
	Seal()
}

// Drainer pauses pickup and waits for running work to finish.
type Drainer interface {
	Pause()
	Drain(ctx context.Context) error
}

// Flusher forces state to durable storage.
type Flusher interface {
	Flush() error
}

// PendingCounter reports how much admitted work has not finished.
type PendingCounter interface {
	PendingCount() int
}

// Outcome classifies how a shutdown ended.
type Outcome string

const (
	// OutcomeSuccess means all running work finished and state flushed.
	OutcomeSuccess Outcome = "success"
	// OutcomeTimeout means running work did not finish within the window.
	OutcomeTimeout Outcome = "timeout"
	// OutcomeError means a teardown step failed outright.
	OutcomeError Outcome = "error"
)

// Result describes a finished shutdown.
type Result struct {
	Outcome Outcome
	// PendingJobs is how many jobs were still queued or running when the
	// window closed. Zero on success.
	PendingJobs int
	// Err holds the failure for OutcomeError, or the context error for
	// OutcomeTimeout.
	Err error
	// Elapsed is the wall time the teardown took.
	Elapsed time.Duration
}

// Config holds the teardown window.
type Config struct {
	// Timeout bounds the whole teardown, drain included.
	Timeout time.Duration `koanf:"timeout"`

	// WaitForJobs controls whether teardown drains in-flight jobs. When
	// false the drain step is skipped and pending work is reported
	// immediately; the recovery pass requeues it on the next start.
	WaitForJobs bool `koanf:"wait_for_jobs"`

	// NoticePeriod is the grace window between notifying subscribers and
	// pausing the pool, so listeners can disconnect cleanly.
	NoticePeriod time.Duration `koanf:"notice_period"`
}

// DefaultConfig returns a 30 second teardown window that waits for
// in-flight jobs.
func DefaultConfig() Config {
	return Config{
		Timeout:      30 * time.Second,
		WaitForJobs:  true,
		NoticePeriod: 250 * time.Millisecond,
	}
}

// Coordinator runs the teardown sequence exactly once.
type Coordinator struct {
	cfg     Config
	sealer  Sealer
	drainer Drainer
	flusher Flusher
	pending PendingCounter

	mu          sync.Mutex
	subscribers []chan struct{}
	started     bool

	once   sync.Once
	result Result
}

// New creates a coordinator over the given participants.
func New(cfg Config, sealer Sealer, drainer Drainer, flusher Flusher, pending PendingCounter) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Coordinator{
		cfg:     cfg,
		sealer:  sealer,
		drainer: drainer,
		flusher: flusher,
		pending: pending,
	}
}

// Subscribe returns a channel closed when teardown begins. Long-lived
// goroutines select on it to wind themselves down. Subscribing after
// teardown started returns an already-closed channel.
func (c *Coordinator) Subscribe() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan struct{})
	if c.started {
		close(ch)
		return ch
	}
	c.subscribers = append(c.subscribers, ch)
	return ch
}

// Run executes the teardown: seal intake, notify subscribers, pause and
// drain the pool, flush the store. Safe to call more than once; later
// calls return the first result.
func (c *Coordinator) Run(ctx context.Context) Result {
	c.once.Do(func() {
		c.result = c.run(ctx)
	})
	return c.result
}

func (c *Coordinator) run(ctx context.Context) Result {
	begin := time.Now()
	log.Info().
		Str("component", "shutdown").
		Dur("timeout", c.cfg.Timeout).
		Msg("Shutdown started")

	c.sealer.Seal()
	c.broadcast()
	c.notice(ctx)
	c.drainer.Pause()

	if !c.cfg.WaitForJobs {
		pending := c.pending.PendingCount()
		if err := c.flusher.Flush(); err != nil {
			return Result{Outcome: OutcomeError, PendingJobs: pending, Err: err, Elapsed: time.Since(begin)}
		}
		log.Info().
			Str("component", "shutdown").
			Int("pending_jobs", pending).
			Msg("Shutdown completed without draining")
		return Result{Outcome: OutcomeSuccess, PendingJobs: pending, Elapsed: time.Since(begin)}
	}

	drainCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if err := c.drainer.Drain(drainCtx); err != nil {
		pending := c.pending.PendingCount()
		// Flush anyway so whatever state we have survives; the recovery
		// pass requeues interrupted jobs on the next start.
		if ferr := c.flusher.Flush(); ferr != nil {
			log.Error().
				Str("component", "shutdown").
				Err(ferr).
				Msg("State flush failed during timed-out shutdown")
		}
		outcome := OutcomeTimeout
		if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			outcome = OutcomeError
		}
		log.Warn().
			Str("component", "shutdown").
			Int("pending_jobs", pending).
			Err(err).
			Msg("Shutdown did not drain cleanly")
		return Result{Outcome: outcome, PendingJobs: pending, Err: err, Elapsed: time.Since(begin)}
	}

	if err := c.flusher.Flush(); err != nil {
		return Result{Outcome: OutcomeError, Err: err, Elapsed: time.Since(begin)}
	}

	log.Info().
		Str("component", "shutdown").
		Dur("elapsed", time.Since(begin)).
		Msg("Shutdown completed")
	return Result{Outcome: OutcomeSuccess, Elapsed: time.Since(begin)}
}

// notice holds the teardown between the subscriber broadcast and the pool
// pause, giving listeners a moment to wind down before work stops.
func (c *Coordinator) notice(ctx context.Context) {
	if c.cfg.NoticePeriod <= 0 {
		return
	}
	select {
	case <-time.After(c.cfg.NoticePeriod):
	case <-ctx.Done():
	}
}

func (c *Coordinator) broadcast() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	for _, ch := range c.subscribers {
		close(ch)
	}
	c.subscribers = nil
}
