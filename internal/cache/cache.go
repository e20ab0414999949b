// Package cache implements the flat, tabular on-disk persistence of the
// index: one CSV record per node, sorted by absolute path, reloaded into
// a fresh index by confirming each path still exists before trusting its
// cached attributes.
package cache

import (
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"

	"github.com/maruel/natural"
	"github.com/pkg/errors"

	"github.com/sadopc/duidx/internal/duerrors"
	"github.com/sadopc/duidx/internal/index"
	"github.com/sadopc/duidx/internal/treefs"
	"github.com/sadopc/duidx/internal/treenode"
)

var header = []string{"abspath", "last_write_time", "size", "count_dir", "count_file", "_dirty"}

// Dump writes every node currently in idx as one CSV record to path,
// sorted by abspath ascending. Existing contents are replaced; the write
// goes to a temp file in the same directory first and is renamed into
// place atomically on success, so a reader never observes a partial
// file.
func Dump(idx *index.Index, path string) (retErr error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".duidx-cache-*.tmp")
	if err != nil {
		return &duerrors.CacheError{Path: path, Err: err}
	}
	tmpPath := tmp.Name()
	defer func() {
		if retErr != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := writeRecords(idx, tmp); err != nil {
		return &duerrors.CacheError{Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &duerrors.CacheError{Path: path, Err: err}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		if runtime.GOOS != "windows" {
			return &duerrors.CacheError{Path: path, Err: err}
		}
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return &duerrors.CacheError{Path: path, Err: err}
		}
		if err := os.Rename(tmpPath, path); err != nil {
			return &duerrors.CacheError{Path: path, Err: err}
		}
	}
	return nil
}

func writeRecords(idx *index.Index, w io.Writer) error {
	handles := idx.Walk()
	type row struct {
		path   string
		record []string
	}
	rows := make([]row, 0, len(handles))
	for _, h := range handles {
		snap, err := idx.GetInfo(h)
		if err != nil {
			continue
		}
		var countDir, countFile uint64
		var dirty bool
		if snap.IsDir {
			countDir = snap.CountDir
			countFile = snap.CountFile
			dirty = snap.Dirty
		}
		rows = append(rows, row{
			path: snap.Path,
			record: []string{
				snap.Path,
				strconv.FormatInt(treenode.ToMillis(snap.LastModified), 10),
				strconv.FormatUint(snap.Size, 10),
				strconv.FormatUint(countDir, 10),
				strconv.FormatUint(countFile, 10),
				strconv.FormatBool(dirty),
			},
		})
	}
	sort.Slice(rows, func(i, j int) bool { return natural.Less(rows[i].path, rows[j].path) })

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(r.record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Load reads path and, for each record whose absolute path still exists
// on the live filesystem, ensures a node is present in idx at that path
// (creating it if absent) and overwrites its in-memory attributes from
// the record verbatim. Records whose paths no longer exist are silently
// dropped. A missing cache file is not an error: Load returns success
// with no effect. Malformed records fail the whole load with a
// CacheError; the index is left unchanged in that case.
//
// Loading does not itself mark anything clean or dirty beyond what the
// record says — the record carries the dirty flag it had at dump time,
// and it is up to the next Update to revalidate.
func Load(idx *index.Index, fsys treefs.FS, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &duerrors.CacheError{Path: path, Err: err}
	}
	defer f.Close()

	records, err := parseRecords(f)
	if err != nil {
		return &duerrors.CacheError{Path: path, Err: err}
	}

	type match struct {
		handle index.Handle
		rec    record
	}
	matched := make([]match, 0, len(records))
	for _, rec := range records {
		if _, err := fsys.Stat(rec.path); err != nil {
			continue
		}

		h, err := idx.EnsureNode(rec.path)
		if err != nil {
			continue
		}
		matched = append(matched, match{handle: h, rec: rec})
	}

	// Records are applied only once every node exists: creating a node
	// marks its ancestors dirty, which would otherwise override the dirty
	// flag an ancestor's record had already restored.
	for _, m := range matched {
		node, err := idx.Get(m.handle)
		if err != nil {
			continue
		}
		rec := m.rec

		lastModified := treenode.FromMillis(rec.lastWriteTimeMs)
		if node.IsDir() {
			if dir, ok := node.(*treenode.DirNode); ok {
				dir.SetRaw(lastModified, rec.size, rec.countFile, rec.countDir, rec.dirty)
			}
		} else {
			if file, ok := node.(*treenode.FileNode); ok {
				file.SetRaw(lastModified, rec.size)
			}
		}
	}

	slog.Default().Debug("cache: loaded", "path", path, "records", len(records))
	return nil
}

type record struct {
	path            string
	lastWriteTimeMs int64
	size            uint64
	countDir        uint64
	countFile       uint64
	dirty           bool
}

func parseRecords(r io.Reader) ([]record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(header)

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "parsing cache records")
	}
	if len(rows) == 0 {
		return nil, nil
	}
	rows = rows[1:] // drop header

	out := make([]record, 0, len(rows))
	for _, row := range rows {
		lastWrite, err := strconv.ParseInt(row[1], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "malformed last_write_time %q", row[1])
		}
		size, err := strconv.ParseUint(row[2], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "malformed size %q", row[2])
		}
		countDir, err := strconv.ParseUint(row[3], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "malformed count_dir %q", row[3])
		}
		countFile, err := strconv.ParseUint(row[4], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "malformed count_file %q", row[4])
		}
		dirty, err := strconv.ParseBool(row[5])
		if err != nil {
			return nil, errors.Wrapf(err, "malformed _dirty %q", row[5])
		}
		out = append(out, record{
			path:            row[0],
			lastWriteTimeMs: lastWrite,
			size:            size,
			countDir:        countDir,
			countFile:       countFile,
			dirty:           dirty,
		})
	}
	return out, nil
}
