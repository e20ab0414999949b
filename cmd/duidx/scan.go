package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/sadopc/duidx/internal/duconfig"
	"github.com/sadopc/duidx/internal/engine"
	"github.com/sadopc/duidx/internal/treefs"
	"github.com/sadopc/duidx/internal/treenode"
)

func newScanCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "scan <path>",
		Short: "Locate and update a path, printing its aggregate counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := duconfig.Load(*configPath, cmd.Flags())
			if err != nil {
				return errors.Wrap(err, "loading config")
			}

			eng := engine.New(treefs.OS{}, engine.WithIgnoreSet(cfg.IgnoreSet()))
			return scanAndPrint(cmd, eng, args[0])
		},
	}
}

func scanAndPrint(cmd *cobra.Command, eng *engine.Engine, path string) error {
	handle, err := eng.Locate(path)
	if err != nil {
		return errors.Wrapf(err, "locating %s", path)
	}
	if err := eng.Update(context.Background(), handle); err != nil {
		return errors.Wrapf(err, "updating %s", path)
	}
	snap, err := eng.GetInfo(handle)
	if err != nil {
		return errors.Wrapf(err, "reading %s", path)
	}
	printSnapshot(cmd, snap)
	return nil
}

func printSnapshot(cmd *cobra.Command, snap treenode.Snapshot) {
	fmt.Fprintf(cmd.OutOrStdout(),
		"path=%s\nsize=%d\ncount_file=%d\ncount_dir=%d\n",
		snap.Path, snap.Size, snap.CountFile, snap.CountDir)
}
