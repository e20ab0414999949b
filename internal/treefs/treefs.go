// Package treefs abstracts the minimal filesystem surface the scanner and
// node model need (stat + directory listing), so the same scanning and
// validity logic runs unchanged against either the local OS filesystem
// or a remote SFTP tree (see internal/remotefs).
package treefs

import (
	"io/fs"
	"os"
	"path/filepath"
)

// FS is the filesystem surface the engine depends on. Every method must
// be synchronous and side-effect free other than the underlying I/O —
// the engine is single-threaded cooperative (no internal concurrency).
type FS interface {
	// Stat returns metadata for path, following the final path component
	// if it is a symlink is NOT required: implementations are free to
	// use Lstat semantics since the engine never follows symlinks.
	Stat(path string) (fs.FileInfo, error)
	// ReadDir lists the direct entries of a directory, resolved to
	// FileInfo (not fs.DirEntry) since callers need size/mtime inline.
	ReadDir(path string) ([]fs.FileInfo, error)
	// Join joins path elements using this filesystem's separator.
	Join(elem ...string) string
	// Canonicalize resolves path to its absolute, canonical form. It is
	// the only place path canonicalization happens (spec contract: every
	// path stored in the index is absolute and canonical).
	Canonicalize(path string) (string, error)
	// IsRoot reports whether path has no parent on this filesystem.
	IsRoot(path string) bool
	// Parent returns the parent of path. Undefined if IsRoot(path).
	Parent(path string) string
}

// OS is the local-filesystem FS implementation. It is the default target
// for every engine operation; see internal/remotefs for the opt-in SFTP
// implementation.
type OS struct{}

func (OS) Stat(path string) (fs.FileInfo, error) { return os.Lstat(path) }

func (OS) ReadDir(path string) ([]fs.FileInfo, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	infos := make([]fs.FileInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			// A vanished entry between ReadDir and Info is not an error
			// for the caller: the next scan will simply not see it.
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (OS) Join(elem ...string) string { return filepath.Join(elem...) }

func (OS) Canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	// EvalSymlinks fails for a path that does not exist yet; callers that
	// need existence will find out via Stat right after.
	return abs, nil
}

func (OS) IsRoot(path string) bool {
	return filepath.Dir(path) == path
}

func (OS) Parent(path string) string { return filepath.Dir(path) }
