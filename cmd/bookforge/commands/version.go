package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	v "github.com/bookforge/bookforge/pkg/version"
)

func newVersionCommand() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			info := v.Get()
			fmt.Printf("%s version: %s\n", cliExecutable, info.Version)
			if short {
				return
			}
			fmt.Printf("Commit: %s\n", info.Commit)
			fmt.Printf("Build Date: %s\n", info.BuildDate)
			fmt.Printf("Go Version: %s\n", info.GoVersion)
			fmt.Printf("Platform: %s\n", info.Platform)
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only the version number")

	return cmd
}
