// Package server assembles the application: persistence, registry,
// recovery, workers, batches, rate limiting, HTTP surface and the
// coordinated shutdown path.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bookforge/bookforge/pkg/batch"
	"github.com/bookforge/bookforge/pkg/config"
	"github.com/bookforge/bookforge/pkg/job"
	"github.com/bookforge/bookforge/pkg/metrics"
	"github.com/bookforge/bookforge/pkg/pipeline"
	"github.com/bookforge/bookforge/pkg/ratelimit"
	"github.com/bookforge/bookforge/pkg/server/api"
	"github.com/bookforge/bookforge/pkg/server/httpx"
	"github.com/bookforge/bookforge/pkg/shutdown"
	"github.com/bookforge/bookforge/pkg/store"
	"github.com/bookforge/bookforge/pkg/worker"
)

// App owns every long-lived component and their start/stop ordering.
type App struct {
	cfg  config.Config
	deps *api.Deps

	store       store.Store
	registry    *job.Registry
	recovery    *job.Recovery
	pool        *worker.Pool
	limiter     *ratelimit.Limiter
	sweeper     *job.RetentionSweeper
	coordinator *shutdown.Coordinator
	httpSrv     *http.Server
}

// NewApp builds the application. Restore and crash recovery run here,
// before any traffic can be accepted, so the first request already sees a
// repaired registry.
func NewApp(cfg config.Config) (*App, error) {
	st, err := store.New(&cfg.Server.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	registry := job.NewRegistry(st)
	restored, err := registry.Restore()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	recovery := job.NewRecovery(registry, cfg.Server.Recovery)
	summary := recovery.Run()
	log.Info().
		Str("component", "server").
		Int("restored", restored).
		Int("requeued", summary.Requeued).
		Int("retried", summary.Retried).
		Msg("Job state restored")

	batches := batch.NewCoordinator(registry)
	batches.Restore()

	pool := worker.New(registry, pipeline.New(cfg.Server.Pipeline), cfg.Server.Worker)
	registry.SetScheduler(pool)

	limiter, err := ratelimit.New(cfg.Server.RateLimit)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	collector := metrics.New()
	registry.Subscribe(func(j *job.Job) {
		if j.IsTerminal() {
			collector.JobFinished(j)
		}
	})

	deps := api.New(registry, batches, pool, limiter, collector)
	deps.UploadDir = cfg.Server.UploadDir
	deps.MaxUploadBytes = cfg.Server.MaxUploadBytes

	retention := time.Duration(cfg.Server.Store.RetentionDays) * 24 * time.Hour
	sweeper := job.NewRetentionSweeper(registry, retention, time.Hour)

	coordinator := shutdown.New(cfg.Server.Shutdown, registry, pool, registry, registry)

	addr := net.JoinHostPort(cfg.Server.Addr, fmt.Sprintf("%d", cfg.Server.Port))
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      httpx.Chain(deps, httpx.NewRouter(deps)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &App{
		cfg:         cfg,
		deps:        deps,
		store:       st,
		registry:    registry,
		recovery:    recovery,
		pool:        pool,
		limiter:     limiter,
		sweeper:     sweeper,
		coordinator: coordinator,
		httpSrv:     httpSrv,
	}, nil
}

// Run starts workers and the HTTP listener, then blocks until the context
// is cancelled or the listener fails, and tears everything down in order.
func (a *App) Run(ctx context.Context) error {
	a.pool.Start()
	scheduled := a.recovery.ScheduleQueued()
	if scheduled > 0 {
		log.Info().
			Str("component", "server").
			Int("scheduled", scheduled).
			Msg("Restored jobs scheduled")
	}
	a.sweeper.Start()

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("component", "server").
			Str("addr", a.httpSrv.Addr).
			Msg("HTTP server listening")
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	a.deps.SetReady()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		runErr = err
	}

	a.deps.SetNotReady()
	result := a.coordinator.Run(context.Background())

	httpCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.httpSrv.Shutdown(httpCtx); err != nil {
		log.Warn().
			Str("component", "server").
			Err(err).
			Msg("HTTP shutdown did not finish cleanly")
	}

	a.pool.Stop()
	a.sweeper.Stop()
	if err := a.limiter.Close(); err != nil {
		log.Warn().
			Str("component", "server").
			Err(err).
			Msg("Rate limiter close failed")
	}
	if err := a.store.Close(); err != nil {
		log.Error().
			Str("component", "server").
			Err(err).
			Msg("Store close failed")
	}

	if runErr != nil {
		return runErr
	}
	switch result.Outcome {
	case shutdown.OutcomeError:
		return result.Err
	case shutdown.OutcomeTimeout:
		log.Warn().
			Str("component", "server").
			Int("pending_jobs", result.PendingJobs).
			Msg("Shutdown left pending jobs for next-start recovery")
	}
	return nil
}

// Deps exposes the handler dependencies, used by tests and commands.
func (a *App) Deps() *api.Deps { return a.deps }
