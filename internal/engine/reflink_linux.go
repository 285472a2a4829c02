//go:build linux

package engine

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// reflinkFile creates dst sharing the extents of src. The partial dst is
// removed when the filesystem refuses the clone.
func reflinkFile(src, dst string, info os.FileInfo) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open src: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create dst: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dst)
		}
	}()

	if err := unix.IoctlFileClone(int(out.Fd()), int(in.Fd())); err != nil {
		return fmt.Errorf("clone %s: %w", src, err)
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
