package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/sadopc/duidx/internal/duconfig"
	"github.com/sadopc/duidx/internal/engine"
	"github.com/sadopc/duidx/internal/index"
	"github.com/sadopc/duidx/internal/treefs"
)

func newLoadCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "load <cache-file>",
		Short: "Load a cache file into a fresh index and print its top-level aggregates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := duconfig.Load(*configPath, cmd.Flags())
			if err != nil {
				return errors.Wrap(err, "loading config")
			}

			eng := engine.New(treefs.OS{}, engine.WithIgnoreSet(cfg.IgnoreSet()))
			if err := eng.Load(args[0]); err != nil {
				return errors.Wrapf(err, "loading %s", args[0])
			}

			roots, err := eng.ChildrenOf(index.Sentinel)
			if err != nil {
				return err
			}
			for _, root := range roots {
				printSnapshot(cmd, root.Info)
			}
			return nil
		},
	}
}
