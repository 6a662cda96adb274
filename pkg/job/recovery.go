package job

import (
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// RecoveryConfig controls the startup repair pass.
type RecoveryConfig struct {
	// RetryFailed re-queues jobs that died in a failed state, as long as
	// they have retries left.
	RetryFailed bool `koanf:"retry_failed"`

	// MaxRetries caps how many times a failed job is retried by recovery.
	MaxRetries int `koanf:"max_retries"`
}

// DefaultRecoveryConfig enables the processing requeue but not the failed
// retry, matching a conservative restart.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{RetryFailed: false, MaxRetries: 3}
}

// RecoverySummary reports what the startup pass did.
type RecoverySummary struct {
	// Recovered is the total number of jobs the pass touched.
	Recovered int `json:"recovered"`
	// Requeued is how many jobs stuck in processing went back to queued.
	Requeued int `json:"requeued"`
	// Retried is how many failed jobs were given another attempt.
	Retried int `json:"retried"`
	// Failed is how many repairs could not be persisted.
	Failed int `json:"failed"`
}

// Recovery repairs crash leftovers after the registry restored persisted
// state. A job found in processing has no worker anymore, so it goes back
// to queued with its start timestamp and progress cleared. The pass runs
// before any traffic is accepted and is idempotent: a second run finds
// nothing left to repair.
type Recovery struct {
	registry *Registry
	cfg      RecoveryConfig
}

// NewRecovery creates the startup repair pass for a registry.
func NewRecovery(registry *Registry, cfg RecoveryConfig) *Recovery {
	return &Recovery{registry: registry, cfg: cfg}
}

// Run scans the registry and repairs interrupted jobs, then hands every
// queued job to the scheduler. Returns a summary of what was done.
func (rc *Recovery) Run() RecoverySummary {
	var summary RecoverySummary

	for _, j := range rc.registry.List() {
		switch {
		case j.Status == StatusProcessing:
			rc.requeue(j)
			if rc.apply(j, &summary) {
				summary.Requeued++
			}

		case j.Status == StatusFailed && rc.cfg.RetryFailed && j.RetryCount < rc.cfg.MaxRetries:
			rc.requeue(j)
			j.RetryCount++
			j.Error = ""
			if rc.apply(j, &summary) {
				summary.Retried++
			}
		}
	}
	summary.Recovered = summary.Requeued + summary.Retried

	if summary.Recovered > 0 || summary.Failed > 0 {
		log.Info().
			Str("component", "recovery").
			Int("requeued", summary.Requeued).
			Int("retried", summary.Retried).
			Int("failed", summary.Failed).
			Msg("Crash recovery completed")
	}
	return summary
}

// requeue rewinds a job to a clean queued state.
func (rc *Recovery) requeue(j *Job) {
	j.Status = StatusQueued
	j.Progress = nil
	j.StartedAt = nil
	j.CompletedAt = nil
}

func (rc *Recovery) apply(j *Job, summary *RecoverySummary) bool {
	if err := rc.registry.restoreOverwrite(j); err != nil {
		summary.Failed++
		log.Error().
			Str("component", "recovery").
			Str("job_id", j.ID.String()).
			Err(err).
			Msg("Failed to persist recovered job")
		return false
	}
	return true
}

// ScheduleQueued enqueues every queued job with the registry's scheduler.
// Called after Run once the worker pool is wired in, so restored and
// repaired jobs start flowing without a new submission.
func (rc *Recovery) ScheduleQueued() int {
	scheduler := rc.registry.getScheduler()
	if scheduler == nil {
		return 0
	}
	var queued []*Job
	for _, j := range rc.registry.List() {
		if j.Status == StatusQueued {
			queued = append(queued, j)
		}
	}
	// Oldest first so restored jobs keep their original ordering.
	sort.Slice(queued, func(i, k int) bool {
		return queued[i].CreatedAt.Before(queued[k].CreatedAt)
	})
	for _, j := range queued {
		scheduler.Enqueue(j)
	}
	return len(queued)
}

// RetentionSweeper periodically removes old terminal jobs.
type RetentionSweeper struct {
	registry *Registry
	keep     time.Duration
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewRetentionSweeper creates a sweeper that removes terminal jobs older
// than keep, checking once per interval.
func NewRetentionSweeper(registry *Registry, keep, interval time.Duration) *RetentionSweeper {
	return &RetentionSweeper{
		registry: registry,
		keep:     keep,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *RetentionSweeper) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				removed, err := s.registry.Cleanup(time.Now().UTC().Add(-s.keep))
				if err != nil {
					log.Error().
						Str("component", "recovery").
						Err(err).
						Msg("Retention sweep failed")
					continue
				}
				if removed > 0 {
					log.Info().
						Str("component", "recovery").
						Int("removed", removed).
						Msg("Retention sweep removed old jobs")
				}
			}
		}
	}()
}

// Stop halts the sweep loop and waits for it to exit.
func (s *RetentionSweeper) Stop() {
	close(s.stop)
	<-s.done
}
