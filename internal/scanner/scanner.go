// Package scanner reconciles the index against live filesystem state,
// one directory level at a time. It never aggregates statistics itself
// (that is the updater's job) except for opaque, ignored subtrees, which
// it walks and sums raw.
package scanner

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/sadopc/duidx/internal/duerrors"
	"github.com/sadopc/duidx/internal/index"
	"github.com/sadopc/duidx/internal/pathkey"
	"github.com/sadopc/duidx/internal/treefs"
	"github.com/sadopc/duidx/internal/treenode"
)

// Scanner reconciles directories against the live filesystem.
type Scanner struct {
	fsys   treefs.FS
	ignore IgnoreSet
	log    *slog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithIgnoreSet overrides the default ignore set.
func WithIgnoreSet(s IgnoreSet) Option {
	return func(s2 *Scanner) { s2.ignore = s }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Scanner) { s.log = log }
}

// New builds a Scanner backed by fsys, defaulting to DefaultIgnoreSet.
func New(fsys treefs.FS, opts ...Option) *Scanner {
	s := &Scanner{
		fsys:   fsys,
		ignore: DefaultIgnoreSet(),
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScanOnce reconciles the single directory named by handle against the
// live filesystem: adopts new children, deletes vanished ones. If the
// directory's basename matches the ignore set, it delegates entirely to
// ScanRaw instead of indexing its entries individually.
func (s *Scanner) ScanOnce(idx *index.Index, handle index.Handle) error {
	node, err := idx.Get(handle)
	if err != nil {
		return err
	}
	path := node.Path()
	if !node.IsDir() {
		return &duerrors.NotDirectory{Path: path}
	}

	if s.ignore.Match(filepath.Base(path)) {
		return s.ScanRaw(idx, handle)
	}

	entries, err := s.fsys.ReadDir(path)
	if err != nil {
		return s.readDirError(path, err)
	}

	live := make(map[string]struct{}, len(entries))
	for _, info := range entries {
		childPath := s.fsys.Join(path, info.Name())
		live[childPath] = struct{}{}
		// A path that changed kind (file <-> directory) is dropped so
		// EnsureNode re-creates it as the correct node type.
		if existing, err := idx.Get(pathkey.Of(childPath)); err == nil {
			if cur, err := s.fsys.Stat(childPath); err == nil && cur.IsDir() != existing.IsDir() {
				idx.Delete(pathkey.Of(childPath))
			}
		}
		if _, err := idx.EnsureNode(childPath); err != nil {
			return errors.Wrapf(err, "adopting %s", childPath)
		}
	}

	for _, childHandle := range idx.ChildrenOf(handle) {
		childInfo, err := idx.GetInfo(childHandle)
		if err != nil {
			continue
		}
		if _, stillLive := live[childInfo.Path]; !stillLive {
			idx.Delete(childHandle)
		}
	}

	return nil
}

// ScanRaw walks the subtree at handle entirely outside the index,
// accumulating (size, file count, dir count) and writing the result into
// the DirNode with dirty cleared. Used for opaque, ignored directories.
func (s *Scanner) ScanRaw(idx *index.Index, handle index.Handle) error {
	node, err := idx.Get(handle)
	if err != nil {
		return err
	}
	path := node.Path()

	size, countFile, countDir, err := s.rawWalk(path)
	if err != nil {
		return err
	}

	info, err := s.fsys.Stat(path)
	if err != nil {
		return s.readDirError(path, err)
	}

	dir, ok := node.(*treenode.DirNode)
	if !ok {
		return &duerrors.NotDirectory{Path: path}
	}
	dir.SetAggregates(size, countFile, countDir, info.ModTime())
	return nil
}

func (s *Scanner) rawWalk(path string) (size, countFile, countDir uint64, err error) {
	entries, err := s.fsys.ReadDir(path)
	if err != nil {
		return 0, 0, 0, s.readDirError(path, err)
	}
	for _, info := range entries {
		childPath := s.fsys.Join(path, info.Name())
		if info.IsDir() {
			countDir++
			childSize, childFiles, childDirs, err := s.rawWalk(childPath)
			if err != nil {
				return 0, 0, 0, err
			}
			size += childSize
			countFile += childFiles
			countDir += childDirs
		} else {
			countFile++
			size += uint64(info.Size())
		}
	}
	return size, countFile, countDir, nil
}

// ScanFull walks downward from handle, invoking ScanOnce on every
// directory it transitively owns whose node is not already valid.
// Directories that are already clean (dirty=false and live mtime
// matches) are not re-listed; ScanFull still stats them and descends
// into their subdirectories, since an entry added deeper down does not
// change an ancestor's mtime.
func (s *Scanner) ScanFull(idx *index.Index, handle index.Handle) error {
	node, err := idx.Get(handle)
	if err != nil {
		return err
	}
	if !node.IsDir() {
		return nil
	}

	valid, err := node.IsValid(s.fsys)
	if err != nil {
		return err
	}
	if !valid {
		if err := s.ScanOnce(idx, handle); err != nil {
			return err
		}
	}

	for _, child := range idx.ChildrenOf(handle) {
		childNode, err := idx.Get(child)
		if err != nil {
			continue
		}
		if !childNode.IsDir() {
			continue
		}
		if err := s.ScanFull(idx, child); err != nil {
			return err
		}
	}
	return nil
}

// readDirError surfaces a permission failure during directory
// enumeration distinctly as NoAuthorization rather than folding it into
// a generic wrapped error, per spec §7's NoAuthorization kind.
func (s *Scanner) readDirError(path string, err error) error {
	if os.IsPermission(err) {
		return &duerrors.NoAuthorization{Path: path, Err: err}
	}
	return errors.Wrapf(err, "reading %s", path)
}
