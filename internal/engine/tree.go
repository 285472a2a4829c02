package engine

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jvs-project/volsnap/pkg/fsutil"
)

// fileID is the device and inode pair of a multiply linked file.
type fileID struct{ dev, ino uint64 }

// fileCloner copies one regular file, reporting a degradation kind when it
// had to fall back.
type fileCloner func(src, dst string, info os.FileInfo) (degradation string, err error)

// cloneTree walks src and recreates it under dst, delegating regular files to
// cloneFile. Hardlinks inside src are copied as separate files.
func cloneTree(src, dst string, cloneFile fileCloner) (*CloneResult, error) {
	if _, err := os.Lstat(dst); err == nil {
		return nil, fmt.Errorf("clone destination %s already exists", dst)
	}

	result := &CloneResult{}
	seen := make(map[fileID]bool)

	err := filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return fmt.Errorf("relative path: %w", err)
		}
		target := filepath.Join(dst, rel)

		switch {
		case info.IsDir():
			return os.MkdirAll(target, info.Mode().Perm())
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("readlink %s: %w", path, err)
			}
			return os.Symlink(link, target)
		case !info.Mode().IsRegular():
			result.degrade("special-file")
			return nil
		}

		if id, ok := linkKey(info); ok {
			if seen[id] {
				result.degrade("hardlink")
			}
			seen[id] = true
		}
		kind, err := cloneFile(path, target, info)
		if err != nil {
			return err
		}
		if kind != "" {
			result.degrade(kind)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("clone %s: %w", src, err)
	}

	if err := fsutil.FsyncDir(dst); err != nil {
		return nil, fmt.Errorf("fsync dst: %w", err)
	}
	return result, nil
}

// copyFile duplicates the bytes of src into dst and preserves its mtime.
func copyFile(src, dst string, info os.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open src %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create dst %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	if err := out.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", dst, err)
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
