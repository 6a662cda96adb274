// Package api implements the REST handlers for job submission, polling,
// batches and service introspection.
package api

import (
	"sync/atomic"

	"github.com/bookforge/bookforge/pkg/batch"
	"github.com/bookforge/bookforge/pkg/job"
	"github.com/bookforge/bookforge/pkg/metrics"
	"github.com/bookforge/bookforge/pkg/ratelimit"
	"github.com/bookforge/bookforge/pkg/worker"
)

// Deps holds the dependencies handlers work against. Passing them as one
// struct keeps handler signatures uniform and makes substituting fakes in
// tests trivial.
type Deps struct {
	Registry *job.Registry
	Batches  *batch.Coordinator
	Pool     *worker.Pool
	Limiter  *ratelimit.Limiter
	Metrics  *metrics.Collector

	// UploadDir receives submitted files.
	UploadDir string

	// MaxUploadBytes bounds a single multipart request body.
	MaxUploadBytes int64

	// Ready flips to true once the server accepts traffic and back to
	// false during teardown. The /readyz endpoint reports it.
	Ready *atomic.Bool
}

// New creates Deps with a not-ready flag.
func New(registry *job.Registry, batches *batch.Coordinator, pool *worker.Pool, limiter *ratelimit.Limiter, collector *metrics.Collector) *Deps {
	return &Deps{
		Registry: registry,
		Batches:  batches,
		Pool:     pool,
		Limiter:  limiter,
		Metrics:  collector,
		Ready:    &atomic.Bool{},
	}
}

// SetReady marks the server ready to serve traffic.
func (d *Deps) SetReady() { d.Ready.Store(true) }

// SetNotReady marks the server draining or not yet started.
func (d *Deps) SetNotReady() { d.Ready.Store(false) }
