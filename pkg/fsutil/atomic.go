// Package fsutil provides filesystem utilities for atomic writes, durable
// renames and space accounting used by the filesystem store driver.
package fsutil

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// AtomicWrite replaces path with data so that readers see either the old
// or the new content, never a torn file. The temporary file lives next to
// path so the final rename stays on one filesystem.
func AtomicWrite(path string, data []byte, perm os.FileMode) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".volsnap-tmp-*")
	if err != nil {
		return fmt.Errorf("atomic write %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	for _, step := range []struct {
		name string
		run  func() error
	}{
		{"write", func() error { _, err := tmp.Write(data); return err }},
		{"chmod", func() error { return tmp.Chmod(perm) }},
		{"fsync", tmp.Sync},
		{"close", tmp.Close},
	} {
		if err := step.run(); err != nil {
			return fmt.Errorf("atomic write %s: %s: %w", path, step.name, err)
		}
	}
	return RenameAndSync(tmp.Name(), path)
}

// RenameAndSync renames old to new and fsyncs the parent directory.
func RenameAndSync(oldpath, newpath string) error {
	if err := os.Rename(oldpath, newpath); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return FsyncDir(filepath.Dir(newpath))
}

// FsyncDir fsyncs a directory so that renames inside it are durable.
func FsyncDir(dirPath string) error {
	d, err := os.Open(dirPath)
	if err != nil {
		return fmt.Errorf("fsync dir open: %w", err)
	}
	defer d.Close()
	return d.Sync()
}

// DirSize returns the apparent size of all regular files under root.
func DirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("dir size %s: %w", root, err)
	}
	return total, nil
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
