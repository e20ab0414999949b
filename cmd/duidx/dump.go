package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/sadopc/duidx/internal/duconfig"
	"github.com/sadopc/duidx/internal/engine"
	"github.com/sadopc/duidx/internal/treefs"
)

func newDumpCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "dump <path> <cache-file>",
		Short: "Scan a path and persist its index to a cache file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := duconfig.Load(*configPath, cmd.Flags())
			if err != nil {
				return errors.Wrap(err, "loading config")
			}

			eng := engine.New(treefs.OS{}, engine.WithIgnoreSet(cfg.IgnoreSet()))
			if err := scanAndPrint(cmd, eng, args[0]); err != nil {
				return err
			}
			if err := eng.Dump(args[1]); err != nil {
				return errors.Wrapf(err, "dumping to %s", args[1])
			}
			return nil
		},
	}
}
