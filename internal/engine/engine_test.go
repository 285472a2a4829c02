package engine_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvs-project/volsnap/internal/engine"
	"github.com/jvs-project/volsnap/pkg/model"
)

func writeTree(t *testing.T, root string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "disk"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "disk", "block0"), []byte("hello"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "run.sh"), []byte("#!/bin/sh"), 0755))
	require.NoError(t, os.Symlink("disk/block0", filepath.Join(root, "current")))
}

func assertTree(t *testing.T, root string) {
	t.Helper()
	content, err := os.ReadFile(filepath.Join(root, "disk", "block0"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))

	info, err := os.Stat(filepath.Join(root, "run.sh"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())

	target, err := os.Readlink(filepath.Join(root, "current"))
	require.NoError(t, err)
	assert.Equal(t, "disk/block0", target)
}

func TestCopyEngine_Clone(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src)
	dst := filepath.Join(t.TempDir(), "clone")

	eng := engine.NewCopyEngine()
	result, err := eng.Clone(src, dst)
	require.NoError(t, err)
	assert.False(t, result.Degraded)
	assert.False(t, eng.NativeClone())
	assertTree(t, dst)
}

func TestCopyEngine_RefusesExistingDestination(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src)

	_, err := engine.NewCopyEngine().Clone(src, t.TempDir())
	assert.Error(t, err)
}

func TestCopyEngine_ReportsHardlinkDegradation(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a"), []byte("x"), 0644))
	require.NoError(t, os.Link(filepath.Join(src, "a"), filepath.Join(src, "b")))

	result, err := engine.NewCopyEngine().Clone(src, filepath.Join(t.TempDir(), "clone"))
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.Equal(t, []string{"hardlink"}, result.Degradations)
}

func TestReflinkEngine_Clone(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src)
	dst := filepath.Join(t.TempDir(), "clone")

	eng := engine.NewReflinkEngine()
	_, err := eng.Clone(src, dst)
	require.NoError(t, err)
	assert.True(t, eng.NativeClone())
	assertTree(t, dst)
}

func TestJuiceFSEngine_DegradesWithoutCommand(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src)
	dst := filepath.Join(t.TempDir(), "clone")

	eng := engine.NewJuiceFSEngineForTest(filepath.Join(t.TempDir(), "mounts"), "volsnap-no-such-juicefs")
	result, err := eng.Clone(src, dst)
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.Contains(t, result.Degradations, "juicefs-not-available")
	assertTree(t, dst)
}

func TestJuiceFSEngine_MountDetection(t *testing.T) {
	mounts := filepath.Join(t.TempDir(), "mounts")
	require.NoError(t, os.WriteFile(mounts, []byte(
		"/dev/sda1 / ext4 rw 0 0\n"+
			"JuiceFS:vol /mnt/jfs fuse.juicefs rw 0 0\n"), 0644))

	eng := engine.NewJuiceFSEngineForTest(mounts, "juicefs")
	assert.True(t, eng.OnJuiceFS("/mnt/jfs/primary/volumes"))
	assert.True(t, eng.OnJuiceFS("/mnt/jfs"))
	assert.False(t, eng.OnJuiceFS("/mnt/jfs2/other"))
	assert.False(t, eng.OnJuiceFS("/srv/primary"))
}

func TestForStore(t *testing.T) {
	root := t.TempDir()
	for name, want := range map[string]model.EngineType{
		"copy":          model.EngineCopy,
		"reflink":       model.EngineReflinkCopy,
		"juicefs-clone": model.EngineJuiceFSClone,
	} {
		eng, err := engine.ForStore(name, root)
		require.NoError(t, err)
		assert.Equal(t, want, eng.Name())
	}

	_, err := engine.ForStore("tape", root)
	assert.Error(t, err)
}

func TestDetect_EnvOverride(t *testing.T) {
	t.Setenv(engine.EnvOverride, "copy")
	eng, err := engine.Detect(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, model.EngineCopy, eng.Name())
}

func TestDetect_Default(t *testing.T) {
	t.Setenv(engine.EnvOverride, "")
	eng, err := engine.Detect(t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, []model.EngineType{
		model.EngineCopy,
		model.EngineReflinkCopy,
		model.EngineJuiceFSClone,
	}, eng.Name())
}

func TestNewEngine(t *testing.T) {
	assert.Equal(t, model.EngineCopy, engine.NewEngine("bogus").Name())
	assert.Equal(t, model.EngineJuiceFSClone, engine.NewEngine(model.EngineJuiceFSClone).Name())
}
