// Package updater implements the incremental recomputation driver: the
// central `update` operation that reconciles a subtree with live
// filesystem state and recomputes aggregates bottom-up.
package updater

import (
	"context"
	"log/slog"
	"sort"

	"github.com/maruel/natural"
	"github.com/pkg/errors"

	"github.com/sadopc/duidx/internal/index"
	"github.com/sadopc/duidx/internal/scanner"
	"github.com/sadopc/duidx/internal/treefs"
	"github.com/sadopc/duidx/internal/treenode"
)

// Updater drives incremental reconciliation of a subtree.
type Updater struct {
	fsys treefs.FS
	scn  *scanner.Scanner
	log  *slog.Logger
}

// Option configures an Updater.
type Option func(*Updater)

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(u *Updater) { u.log = log }
}

// New builds an Updater over fsys, using scn to reconcile directory
// listings.
func New(fsys treefs.FS, scn *scanner.Scanner, opts ...Option) *Updater {
	u := &Updater{fsys: fsys, scn: scn, log: slog.Default()}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Update reconciles the subtree rooted at handle with live filesystem
// state and recomputes aggregates. A FileNode handle is refreshed in
// place with no recursion. A DirNode handle is fully reconciled via
// scanner.ScanFull, then its descendants are updated bottom-up by
// recursive calls (see updateSubtree), and its aggregates are recomputed
// as exact sums over its direct children. Dirtiness is propagated to
// every ancestor once this subtree's own aggregation completes, since
// the ancestor's own aggregates are now stale with respect to it.
func (u *Updater) Update(ctx context.Context, idx *index.Index, handle index.Handle) error {
	node, err := idx.Get(handle)
	if err != nil {
		return err
	}

	if !node.IsDir() {
		if err := u.refreshFile(node); err != nil {
			return err
		}
		idx.MarkDirty(idx.ParentOf(handle))
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := u.scn.ScanFull(idx, handle); err != nil {
		return errors.Wrapf(err, "scanning %s", node.Path())
	}

	if err := u.updateSubtree(ctx, idx, handle); err != nil {
		return err
	}

	// The immediate parent's aggregates are now stale with respect to
	// this freshly-updated subtree; propagate upward so a later update
	// of an ancestor recomputes it too.
	idx.MarkDirty(idx.ParentOf(handle))
	return nil
}

func (u *Updater) refreshFile(node treenode.Node) error {
	f, ok := node.(*treenode.FileNode)
	if !ok {
		return nil
	}
	info, err := u.fsys.Stat(f.Path())
	if err != nil {
		return err
	}
	f.Refresh(info)
	return nil
}

// updateSubtree performs a post-order traversal rooted at handle,
// recursively updating directory descendants before recomputing
// handle's own aggregates. Invalid directories are rescanned first; a
// valid directory is still descended into when it has indexed children,
// because a file's content change does not alter its parent directory's
// mtime. Files are refreshed in place
// without separate dirty tracking, matching the node model's contract
// that file validity derives purely from a live mtime/size comparison.
func (u *Updater) updateSubtree(ctx context.Context, idx *index.Index, handle index.Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	node, err := idx.Get(handle)
	if err != nil {
		return err
	}
	dir, ok := node.(*treenode.DirNode)
	if !ok {
		return nil
	}

	children := orderedChildren(idx, handle)

	var size, countFile, countDir uint64
	for _, child := range children {
		childNode, err := idx.Get(child)
		if err != nil {
			continue
		}

		if childNode.IsDir() {
			childDir := childNode.(*treenode.DirNode)
			valid, err := childDir.IsValid(u.fsys)
			if err != nil {
				return err
			}
			if !valid {
				if err := u.scn.ScanFull(idx, child); err != nil {
					return errors.Wrapf(err, "scanning %s", childDir.Path())
				}
			}
			if !valid || len(idx.ChildrenOf(child)) > 0 {
				if err := u.updateSubtree(ctx, idx, child); err != nil {
					return err
				}
			}
			size += childDir.Size()
			countFile += childDir.CountFile()
			countDir += 1 + childDir.CountDir()
		} else {
			childFile := childNode.(*treenode.FileNode)
			valid, err := childFile.IsValid(u.fsys)
			if err != nil {
				return err
			}
			if !valid {
				if err := u.refreshFile(childFile); err != nil {
					return err
				}
			}
			size += childFile.Size()
			countFile++
		}
	}

	info, err := u.fsys.Stat(dir.Path())
	if err != nil {
		return err
	}
	dir.SetAggregates(size, countFile, countDir, info.ModTime())
	return nil
}

// orderedChildren returns handle's direct children sorted by path in
// natural order, so ties are broken deterministically (matching the
// ordering convention the teacher's sort package uses for the same
// reason, and giving reproducible fixtures in tests).
func orderedChildren(idx *index.Index, handle index.Handle) []index.Handle {
	children := idx.ChildrenOf(handle)
	paths := make(map[index.Handle]string, len(children))
	for _, h := range children {
		if info, err := idx.GetInfo(h); err == nil {
			paths[h] = info.Path
		}
	}
	sort.Slice(children, func(i, j int) bool {
		return natural.Less(paths[children[i]], paths[children[j]])
	})
	return children
}
