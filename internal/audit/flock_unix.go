//go:build !windows

package audit

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockFile blocks until this process holds the exclusive advisory lock on
// the audit log, so appenders in separate processes keep one chain.
func lockFile(f *os.File) error {
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX)
		if err != unix.EINTR {
			return err
		}
	}
}

func unlockFile(f *os.File) error { return unix.Flock(int(f.Fd()), unix.LOCK_UN) }
