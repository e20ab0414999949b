package updater_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sadopc/duidx/internal/engine"
	"github.com/sadopc/duidx/internal/treefs"
)

const sampleContent = "hellow word78787878" // 19 bytes

var fileBytes = []byte(sampleContent)

// buildFixture lays out the literal T/A/... tree used throughout this
// test file, with every leaf file exactly 19 bytes.
func buildFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	a := filepath.Join(root, "A")

	dirs := []string{
		filepath.Join(a, "B", "C"),
		filepath.Join(a, "B2", "C2"),
	}
	for _, d := range dirs {
		require.NoError(t, os.MkdirAll(d, 0o755))
	}

	files := map[string]string{
		filepath.Join(a, "B", "C", "file_0.txt"):  "",
		filepath.Join(a, "B", "C", "file_1.txt"):  "",
		filepath.Join(a, "B", "file_b.txt"):       "",
		filepath.Join(a, "B2", "C2", "file_0.txt"): "",
		filepath.Join(a, "B2", "file_b21.txt"):    "",
		filepath.Join(a, "B2", "file_b22.txt"):    "",
		filepath.Join(a, "file_a.txt"):            "",
	}
	for p := range files {
		require.NoError(t, os.WriteFile(p, fileBytes, 0o644))
	}
	return a
}

func TestFreshScan(t *testing.T) {
	a := buildFixture(t)
	eng := engine.New(treefs.OS{})

	h, err := eng.Locate(a)
	require.NoError(t, err)
	require.NoError(t, eng.Update(context.Background(), h))

	snap, err := eng.GetInfo(h)
	require.NoError(t, err)
	require.Equal(t, uint64(133), snap.Size)
	require.Equal(t, uint64(7), snap.CountFile)
	require.Equal(t, uint64(4), snap.CountDir)
	require.False(t, snap.Dirty)
}

func TestSubtreeThenRootYieldsSameResultAndNoDuplication(t *testing.T) {
	a := buildFixture(t)
	eng := engine.New(treefs.OS{})

	bHandle, err := eng.Locate(filepath.Join(a, "B"))
	require.NoError(t, err)
	require.NoError(t, eng.Update(context.Background(), bHandle))

	aHandle, err := eng.Locate(a)
	require.NoError(t, err)
	require.NoError(t, eng.Update(context.Background(), aHandle))

	snap, err := eng.GetInfo(aHandle)
	require.NoError(t, err)
	require.Equal(t, uint64(133), snap.Size)
	require.Equal(t, uint64(7), snap.CountFile)
	require.Equal(t, uint64(4), snap.CountDir)

	require.Equal(t, bHandle, mustLocate(t, eng, filepath.Join(a, "B")))
}

func TestAddEmptyDirectory(t *testing.T) {
	a := buildFixture(t)
	eng := engine.New(treefs.OS{})
	h, err := eng.Locate(a)
	require.NoError(t, err)
	require.NoError(t, eng.Update(context.Background(), h))

	require.NoError(t, os.MkdirAll(filepath.Join(a, "B2", "C3"), 0o755))
	require.NoError(t, eng.Update(context.Background(), h))

	snap, err := eng.GetInfo(h)
	require.NoError(t, err)
	require.Equal(t, uint64(5), snap.CountDir)
	require.Equal(t, uint64(7), snap.CountFile)
	require.Equal(t, uint64(133), snap.Size)
}

func TestRenameSubdirectory(t *testing.T) {
	a := buildFixture(t)
	eng := engine.New(treefs.OS{})
	h, err := eng.Locate(a)
	require.NoError(t, err)
	require.NoError(t, eng.Update(context.Background(), h))

	oldB2, err := eng.Locate(filepath.Join(a, "B2"))
	require.NoError(t, err)

	require.NoError(t, os.Rename(filepath.Join(a, "B2"), filepath.Join(a, "B2333")))
	require.NoError(t, eng.Update(context.Background(), h))

	snap, err := eng.GetInfo(h)
	require.NoError(t, err)
	require.Equal(t, uint64(7), snap.CountFile)
	require.Equal(t, uint64(4), snap.CountDir)
	require.Equal(t, uint64(133), snap.Size)

	_, err = eng.GetInfo(oldB2)
	require.Error(t, err)

	newB2333, err := eng.Locate(filepath.Join(a, "B2333"))
	require.NoError(t, err)
	newSnap, err := eng.GetInfo(newB2333)
	require.NoError(t, err)
	require.True(t, newSnap.IsDir)
}

func TestAppendToFile(t *testing.T) {
	a := buildFixture(t)
	eng := engine.New(treefs.OS{})
	h, err := eng.Locate(a)
	require.NoError(t, err)
	require.NoError(t, eng.Update(context.Background(), h))

	target := filepath.Join(a, "B", "C", "file_0.txt")
	f, err := os.OpenFile(target, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte("12345678"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, eng.Update(context.Background(), h))

	snap, err := eng.GetInfo(h)
	require.NoError(t, err)
	require.Equal(t, uint64(141), snap.Size)
	require.Equal(t, uint64(7), snap.CountFile)
	require.Equal(t, uint64(4), snap.CountDir)
}

func TestIgnoreRulesKeepOpaqueDirUnindexedButCounted(t *testing.T) {
	a := buildFixture(t)
	eng := engine.New(treefs.OS{})
	h, err := eng.Locate(a)
	require.NoError(t, err)
	require.NoError(t, eng.Update(context.Background(), h))
	before, err := eng.GetInfo(h)
	require.NoError(t, err)

	nm := filepath.Join(a, "B", "node_modules")
	require.NoError(t, os.MkdirAll(filepath.Join(nm, "inside"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(nm, "inside", "file.txt"), make([]byte, 8), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(nm, "file.txt"), make([]byte, 8), 0o644))

	require.NoError(t, eng.Update(context.Background(), h))
	after, err := eng.GetInfo(h)
	require.NoError(t, err)

	require.Equal(t, before.Size+16, after.Size)
}

// TestCreateAtDepthPropagatesDirtyPastUnchangedAncestors reproduces a
// create two levels below the handle being updated: root/A is untouched
// on disk (its own mtime doesn't change) even though its grandchild B
// gains a new child C. Aggregation at root must still see C.
func TestCreateAtDepthPropagatesDirtyPastUnchangedAncestors(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "A", "B"), 0o755))

	eng := engine.New(treefs.OS{})
	rootHandle, err := eng.Locate(root)
	require.NoError(t, err)
	require.NoError(t, eng.Update(context.Background(), rootHandle))

	before, err := eng.GetInfo(rootHandle)
	require.NoError(t, err)
	require.Equal(t, uint64(2), before.CountDir)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "A", "B", "C"), 0o755))
	require.NoError(t, eng.Update(context.Background(), rootHandle))

	after, err := eng.GetInfo(rootHandle)
	require.NoError(t, err)
	require.Equal(t, uint64(3), after.CountDir, "aggregate at root must include the newly created grandchild C")
}

func mustLocate(t *testing.T, eng *engine.Engine, path string) uint64 {
	t.Helper()
	h, err := eng.Locate(path)
	require.NoError(t, err)
	return h
}
