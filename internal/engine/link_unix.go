//go:build !windows

package engine

import (
	"os"
	"syscall"
)

// linkKey identifies a regular file that has more than one name. Files with a
// single link report false so the walk never has to remember them.
func linkKey(info os.FileInfo) (fileID, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok || st.Nlink < 2 {
		return fileID{}, false
	}
	return fileID{dev: uint64(st.Dev), ino: uint64(st.Ino)}, true
}
