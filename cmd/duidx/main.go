// Command duidx is a one-shot, non-interactive CLI over the directory
// accounting engine. It has no REPL and renders no colorized tree; it
// exists to drive internal/engine from a shell, not to replace the
// interactive front-end the engine itself does not implement.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:     "duidx",
		Short:   "Incremental directory accounting engine",
		Version: version,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a duidx config file")

	cmd.AddCommand(
		newScanCommand(&configPath),
		newDumpCommand(&configPath),
		newLoadCommand(&configPath),
		newRemoteCommand(&configPath),
	)
	return cmd
}
