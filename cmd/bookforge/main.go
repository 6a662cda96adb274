package main

import (
	"fmt"
	"os"

	"github.com/bookforge/bookforge/cmd/bookforge/commands"
)

func main() {
	if err := commands.NewCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
