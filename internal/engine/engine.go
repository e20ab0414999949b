// Package engine is the facade gluing the index, scanner, updater and
// cache together behind the operations exposed to collaborators: Locate,
// GetInfo, Update, ChildrenOf, Dump, Load, Delete.
package engine

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/sadopc/duidx/internal/cache"
	"github.com/sadopc/duidx/internal/index"
	"github.com/sadopc/duidx/internal/scanner"
	"github.com/sadopc/duidx/internal/treefs"
	"github.com/sadopc/duidx/internal/treenode"
	"github.com/sadopc/duidx/internal/updater"
)

// Engine is the top-level entry point a CLI or other collaborator drives.
type Engine struct {
	fsys treefs.FS
	idx  *index.Index
	scn  *scanner.Scanner
	upd  *updater.Updater
	log  *slog.Logger
}

// Option configures an Engine.
type Option func(*engineConfig)

type engineConfig struct {
	ignore    scanner.IgnoreSet
	hasIgnore bool
	log       *slog.Logger
}

// WithIgnoreSet overrides the default ignore set carried by the scanner.
func WithIgnoreSet(s scanner.IgnoreSet) Option {
	return func(c *engineConfig) { c.ignore = s; c.hasIgnore = true }
}

// WithLogger overrides the default logger (slog.Default()) used by the
// engine and every collaborator it constructs.
func WithLogger(log *slog.Logger) Option {
	return func(c *engineConfig) { c.log = log }
}

// New builds an Engine operating against fsys (typically treefs.OS{} for
// local scans, or an internal/remotefs implementation for an opt-in SFTP
// target).
func New(fsys treefs.FS, opts ...Option) *Engine {
	cfg := &engineConfig{log: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}

	scannerOpts := []scanner.Option{scanner.WithLogger(cfg.log)}
	if cfg.hasIgnore {
		scannerOpts = append(scannerOpts, scanner.WithIgnoreSet(cfg.ignore))
	}
	scn := scanner.New(fsys, scannerOpts...)

	idx := index.New(fsys, index.WithLogger(cfg.log))
	upd := updater.New(fsys, scn, updater.WithLogger(cfg.log))

	return &Engine{fsys: fsys, idx: idx, scn: scn, upd: upd, log: cfg.log}
}

// Locate canonicalizes path and returns its handle, creating a node for
// it if one is not already indexed.
func (e *Engine) Locate(path string) (index.Handle, error) {
	h, err := e.idx.Locate(path)
	if err != nil {
		return 0, errors.Wrapf(err, "locating %s", path)
	}
	return h, nil
}

// GetInfo returns a detached snapshot of handle's current attributes.
func (e *Engine) GetInfo(handle index.Handle) (treenode.Snapshot, error) {
	snap, err := e.idx.GetInfo(handle)
	if err != nil {
		return treenode.Snapshot{}, errors.Wrapf(err, "reading node %d", handle)
	}
	return snap, nil
}

// Update forces incremental reconciliation of the subtree rooted at
// handle.
func (e *Engine) Update(ctx context.Context, handle index.Handle) error {
	if err := e.upd.Update(ctx, e.idx, handle); err != nil {
		return errors.Wrapf(err, "updating node %d", handle)
	}
	return nil
}

// ChildEntry pairs a handle with its snapshot, for tree rendering by the
// caller.
type ChildEntry struct {
	Handle index.Handle
	Info   treenode.Snapshot
}

// ChildrenOf returns handle's direct children with their current
// snapshots.
func (e *Engine) ChildrenOf(handle index.Handle) ([]ChildEntry, error) {
	children := e.idx.ChildrenOf(handle)
	out := make([]ChildEntry, 0, len(children))
	for _, h := range children {
		snap, err := e.idx.GetInfo(h)
		if err != nil {
			continue
		}
		out = append(out, ChildEntry{Handle: h, Info: snap})
	}
	return out, nil
}

// Dump persists every indexed node to path.
func (e *Engine) Dump(path string) error {
	if err := cache.Dump(e.idx, path); err != nil {
		return errors.Wrapf(err, "dumping cache to %s", path)
	}
	return nil
}

// Load reads path into this engine's index, overwriting any existing
// attributes at matching handles.
func (e *Engine) Load(path string) error {
	if err := cache.Load(e.idx, e.fsys, path); err != nil {
		return errors.Wrapf(err, "loading cache from %s", path)
	}
	return nil
}

// Delete removes handle and its descendants from the index.
func (e *Engine) Delete(handle index.Handle) {
	e.idx.Delete(handle)
}
