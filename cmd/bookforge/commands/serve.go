package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bookforge/bookforge/pkg/config"
	"github.com/bookforge/bookforge/pkg/server"
	"github.com/bookforge/bookforge/pkg/version"
)

// newServeCommand creates the 'bookforge serve' command.
//
// The server hosts the full conversion runtime in a single process:
//   - HTTP API (job submission, polling, batches, downloads)
//   - Background conversion workers with priority scheduling
//   - Crash-safe job persistence with startup recovery
//
// It runs until interrupted (SIGINT/SIGTERM), then drains running jobs
// within the configured shutdown timeout and flushes state to disk.
func newServeCommand(manager *config.Manager) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the conversion server",
		Long: `Start the bookforge conversion server.

The server accepts scanned book uploads over HTTP, converts them in the
background and persists job state so interrupted work is resumed after a
restart. It shuts down gracefully on SIGINT/SIGTERM, waiting for running
conversions up to the configured timeout.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := manager.Get()

			app, err := server.NewApp(cfg)
			if err != nil {
				return fmt.Errorf("initialize server: %w", err)
			}

			printBanner(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return app.Run(ctx)
		},
	}

	config.BindServerFlags(cmd.Flags())

	return cmd
}

// printBanner writes a short human-facing startup summary to stderr;
// structured logs carry the same facts for machines.
func printBanner(cfg config.Config) {
	bold := color.New(color.Bold)
	dim := color.New(color.Faint)

	fmt.Fprintln(os.Stderr)
	bold.Fprintf(os.Stderr, "  bookforge %s\n", version.Version)
	dim.Fprintf(os.Stderr, "  listening on http://%s:%d\n", cfg.Server.Addr, cfg.Server.Port)
	dim.Fprintf(os.Stderr, "  workers: %d  store: %s  rate limit: %s\n",
		cfg.Server.Worker.Workers,
		storeLabel(cfg),
		onOff(cfg.Server.RateLimit.Enabled))
	fmt.Fprintln(os.Stderr)
}

func storeLabel(cfg config.Config) string {
	if !cfg.Server.Store.Enabled {
		return "disabled"
	}
	return string(cfg.Server.Store.Backend)
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}
