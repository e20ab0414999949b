package scanner_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sadopc/duidx/internal/index"
	"github.com/sadopc/duidx/internal/scanner"
	"github.com/sadopc/duidx/internal/treefs"
)

func TestScanOnceAdoptsNewChildrenAndDropsVanished(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))

	idx := index.New(treefs.OS{})
	scn := scanner.New(treefs.OS{})

	h, err := idx.Locate(dir)
	require.NoError(t, err)
	require.NoError(t, scn.ScanOnce(idx, h))
	require.Len(t, idx.ChildrenOf(h), 1)

	require.NoError(t, os.Remove(filepath.Join(dir, "a.txt")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("y"), 0o644))
	require.NoError(t, scn.ScanOnce(idx, h))

	children := idx.ChildrenOf(h)
	require.Len(t, children, 1)
	info, err := idx.GetInfo(children[0])
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "b.txt"), info.Path)
}

func TestScanOnceDelegatesIgnoredDirectoryToRawWalk(t *testing.T) {
	dir := t.TempDir()
	nm := filepath.Join(dir, "node_modules")
	require.NoError(t, os.MkdirAll(filepath.Join(nm, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(nm, "pkg", "f.txt"), make([]byte, 8), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(nm, "top.txt"), make([]byte, 4), 0o644))

	idx := index.New(treefs.OS{})
	scn := scanner.New(treefs.OS{})

	h, err := idx.Locate(nm)
	require.NoError(t, err)
	require.NoError(t, scn.ScanOnce(idx, h))

	require.Empty(t, idx.ChildrenOf(h), "ignored directory's interior must not be individually indexed")

	info, err := idx.GetInfo(h)
	require.NoError(t, err)
	require.False(t, info.Dirty)
	require.Equal(t, uint64(12), info.Size)
	require.Equal(t, uint64(2), info.CountFile)
	require.Equal(t, uint64(1), info.CountDir)
}

func TestDefaultIgnoreSetMatchesExactBasename(t *testing.T) {
	s := scanner.DefaultIgnoreSet()
	require.True(t, s.Match("node_modules"))
	require.True(t, s.Match(".git"))
	require.False(t, s.Match("node_modules2"))
}
