package fsutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jvs-project/volsnap/pkg/fsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicWrite_OverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "volsnap.yaml")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0644))

	require.NoError(t, fsutil.AtomicWrite(path, []byte("new"), 0644))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(content))

	entries, _ := os.ReadDir(dir)
	assert.Len(t, entries, 1, "only the target file should exist")
}

func TestAtomicWrite_MissingDir(t *testing.T) {
	err := fsutil.AtomicWrite(filepath.Join(t.TempDir(), "nope", "f"), []byte("x"), 0644)
	assert.Error(t, err)
}

func TestRenameAndSync(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0644))

	require.NoError(t, fsutil.RenameAndSync(src, dst))

	assert.NoFileExists(t, src)
	assert.True(t, fsutil.Exists(dst))
}

func TestDirSize(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a", "b"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "top"), make([]byte, 10), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a", "b", "deep"), make([]byte, 32), 0644))

	size, err := fsutil.DirSize(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(42), size)

	_, err = fsutil.DirSize(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
