package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/sadopc/duidx/internal/duconfig"
	"github.com/sadopc/duidx/internal/engine"
	"github.com/sadopc/duidx/internal/remotefs"
)

// newRemoteCommand wires up the opt-in SFTP-backed scan path. It is
// deliberately a separate subcommand rather than an alternate mode of
// scan: the default, documented path for every other subcommand stays
// local-only, keeping network filesystems a non-first-class target.
func newRemoteCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote <user@host:path> <cache-file>",
		Short: "Scan a remote tree over SFTP and persist it to a cache file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := duconfig.Load(*configPath, cmd.Flags())
			if err != nil {
				return errors.Wrap(err, "loading config")
			}

			target, remotePath, err := splitRemoteSpec(args[0])
			if err != nil {
				return err
			}

			fsys, err := remotefs.Dial(context.Background(), remotefs.Config{
				Target:    target,
				Port:      cfg.RemotePort(),
				BatchMode: cfg.RemoteBatchMode(),
			})
			if err != nil {
				return errors.Wrapf(err, "connecting to %s", target)
			}
			defer fsys.Close()

			eng := engine.New(fsys, engine.WithIgnoreSet(cfg.IgnoreSet()))
			if err := scanAndPrint(cmd, eng, remotePath); err != nil {
				return err
			}
			return errors.Wrapf(eng.Dump(args[1]), "dumping to %s", args[1])
		},
	}
	return cmd
}

// splitRemoteSpec splits "user@host:path" into its SSH target and remote
// path, defaulting to "." when no path is given.
func splitRemoteSpec(spec string) (target, path string, err error) {
	for i := len(spec) - 1; i >= 0; i-- {
		if spec[i] == ':' {
			if i == len(spec)-1 {
				return spec[:i], ".", nil
			}
			return spec[:i], spec[i+1:], nil
		}
	}
	return spec, ".", nil
}
