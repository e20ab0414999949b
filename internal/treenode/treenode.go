// Package treenode implements the tagged-union node model: FileNode and
// DirNode share a small interface (path, size, last-modified, validity)
// rather than a deep type hierarchy. Nodes hold no back-references to
// their parent or to the index; all relationships live in the index's
// parent/child maps, which keeps the tree an arena-plus-handles
// structure instead of a cyclic object graph.
package treenode

import (
	"io/fs"
	"os"
	"time"

	"github.com/sadopc/duidx/internal/duerrors"
	"github.com/sadopc/duidx/internal/treefs"
)

// Node is the shared interface for FileNode and DirNode. It is sealed to
// this package: external code only ever holds a Node obtained from the
// index.
type Node interface {
	Path() string
	Size() uint64
	LastModified() time.Time
	IsDir() bool

	// IsValid reports whether the cached attributes still agree with the
	// live filesystem. A vanished path returns (false, nil). A
	// permission error during the check is surfaced distinctly rather
	// than folded into "invalid", so callers can tell "gone" from
	// "inaccessible".
	IsValid(fsys treefs.FS) (bool, error)

	sealed()
}

// FileNode represents a single regular file.
type FileNode struct {
	path         string
	lastModified time.Time
	size         uint64
}

func (f *FileNode) sealed() {}

// NewFile builds a FileNode from a freshly-read stat result.
func NewFile(path string, info fs.FileInfo) *FileNode {
	return &FileNode{
		path:         path,
		lastModified: Truncate(info.ModTime()),
		size:         uint64(info.Size()),
	}
}

func (f *FileNode) Path() string            { return f.path }
func (f *FileNode) Size() uint64            { return f.size }
func (f *FileNode) LastModified() time.Time { return f.lastModified }
func (f *FileNode) IsDir() bool             { return false }

// Refresh overwrites cached attributes from a fresh stat result. Used by
// the updater when a file's mtime/size has drifted.
func (f *FileNode) Refresh(info fs.FileInfo) {
	f.lastModified = Truncate(info.ModTime())
	f.size = uint64(info.Size())
}

// SetRaw overwrites attributes directly; used by the cache loader, which
// trusts the persisted record verbatim (spec: load does not try to be
// clever about disagreement with the live filesystem).
func (f *FileNode) SetRaw(lastModified time.Time, size uint64) {
	f.lastModified = Truncate(lastModified)
	f.size = size
}

func (f *FileNode) IsValid(fsys treefs.FS) (bool, error) {
	info, err := fsys.Stat(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		if os.IsPermission(err) {
			return false, &duerrors.NoAuthorization{Path: f.path, Err: err}
		}
		return false, err
	}
	if info.IsDir() {
		// The path changed kind underneath us; treat as invalid.
		// Scanner.ScanOnce replaces the node with one of the correct type
		// when it reconciles the parent directory.
		return false, nil
	}
	return Truncate(info.ModTime()).Equal(f.lastModified) && uint64(info.Size()) == f.size, nil
}

// DirNode represents a directory together with its recursively
// aggregated statistics.
type DirNode struct {
	path         string
	lastModified time.Time
	size         uint64
	countFile    uint64
	countDir     uint64
	dirty        bool
}

func (d *DirNode) sealed() {}

// NewDir builds a fresh, dirty DirNode from a stat result. A new
// DirNode always starts dirty: its aggregates (all zero) have not been
// computed yet.
func NewDir(path string, info fs.FileInfo) *DirNode {
	return &DirNode{
		path:         path,
		lastModified: Truncate(info.ModTime()),
		dirty:        true,
	}
}

func (d *DirNode) Path() string            { return d.path }
func (d *DirNode) Size() uint64            { return d.size }
func (d *DirNode) LastModified() time.Time { return d.lastModified }
func (d *DirNode) IsDir() bool             { return true }
func (d *DirNode) CountFile() uint64       { return d.countFile }
func (d *DirNode) CountDir() uint64        { return d.countDir }
func (d *DirNode) Dirty() bool             { return d.dirty }

// MarkDirty sets the dirty flag. Dirty rises monotonically toward the
// root and is cleared only by SetAggregates.
func (d *DirNode) MarkDirty() { d.dirty = true }

// SetAggregates records a freshly-computed bottom-up aggregate and
// clears dirty. lastModified is read from the live filesystem after
// aggregation completes, so the stored mtime matches the instant at
// which the aggregates were known correct.
func (d *DirNode) SetAggregates(size, countFile, countDir uint64, lastModified time.Time) {
	d.size = size
	d.countFile = countFile
	d.countDir = countDir
	d.lastModified = Truncate(lastModified)
	d.dirty = false
}

// SetRaw overwrites every attribute directly, including dirty; used by
// the cache loader, which trusts the persisted record verbatim.
func (d *DirNode) SetRaw(lastModified time.Time, size, countFile, countDir uint64, dirty bool) {
	d.lastModified = Truncate(lastModified)
	d.size = size
	d.countFile = countFile
	d.countDir = countDir
	d.dirty = dirty
}

func (d *DirNode) IsValid(fsys treefs.FS) (bool, error) {
	if d.dirty {
		return false, nil
	}
	info, err := fsys.Stat(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		if os.IsPermission(err) {
			return false, &duerrors.NoAuthorization{Path: d.path, Err: err}
		}
		return false, err
	}
	if !info.IsDir() {
		return false, nil
	}
	return Truncate(info.ModTime()).Equal(d.lastModified), nil
}

// New inspects path's metadata and builds the appropriate Node kind. The
// path must exist; callers are expected to have just Stat'd it (e.g. the
// scanner) or to handle the error themselves (index.Create does).
func New(fsys treefs.FS, path string) (Node, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return NewDir(path, info), nil
	}
	return NewFile(path, info), nil
}

// Truncate drops sub-millisecond precision, matching the cache file's
// millisecond-resolution timestamp field so a dump/load round trip is
// exact.
func Truncate(t time.Time) time.Time {
	return t.Truncate(time.Millisecond)
}

// ToMillis converts t to milliseconds since the Unix epoch, the unit the
// cache file stores timestamps in.
func ToMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis is the inverse of ToMillis.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Snapshot is a read-only, detached copy of a node's attributes, safe to
// hand back to a caller after the index's internal lock (if any) is
// released. Returned by Index.GetInfo.
type Snapshot struct {
	Path         string
	IsDir        bool
	LastModified time.Time
	Size         uint64
	CountFile    uint64
	CountDir     uint64
	Dirty        bool
}

// SnapshotOf clones n's attributes into a detached Snapshot.
func SnapshotOf(n Node) Snapshot {
	s := Snapshot{
		Path:         n.Path(),
		IsDir:        n.IsDir(),
		LastModified: n.LastModified(),
		Size:         n.Size(),
	}
	if d, ok := n.(*DirNode); ok {
		s.CountFile = d.CountFile()
		s.CountDir = d.CountDir()
		s.Dirty = d.Dirty()
	}
	return s
}
