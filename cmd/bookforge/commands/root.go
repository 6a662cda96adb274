// Package commands wires the bookforge CLI: global flags, configuration
// loading and the serve/version subcommands.
package commands

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bookforge/bookforge/pkg/config"
	"github.com/bookforge/bookforge/pkg/logging"
	"github.com/bookforge/bookforge/pkg/paths"
)

const cliExecutable = "bookforge"

// NewCommand constructs the top-level bookforge CLI command. Configuration
// is loaded in PersistentPreRunE so every subcommand sees the merged
// defaults, file, environment and flag layers.
func NewCommand() *cobra.Command {
	var (
		configFile string
		debug      bool
		manager    = config.NewManager()
	)

	cmd := &cobra.Command{
		Use:   cliExecutable,
		Short: "Bookforge converts scanned books into searchable PDFs",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configFile == "" {
				configFile = defaultConfigFile()
			}
			if err := manager.Load(cmd.Flags(), configFile, debug); err != nil {
				return err
			}
			cfg := manager.Get()
			return logging.Configure(cfg.Log.Level, cfg.Log.Format, cfg.Log.File)
		},
	}

	cmd.SilenceUsage = true

	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(newServeCommand(manager))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// defaultConfigFile returns the conventional config location if a file
// exists there, otherwise empty so Load skips the file layer.
func defaultConfigFile() string {
	p := filepath.Join(paths.ConfigDir(), "bookforge.yaml")
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}
