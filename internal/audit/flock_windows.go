//go:build windows

package audit

import "os"

// Windows has no flock; appenders there are serialized only by the
// appender mutex, so one process per audit log.
func lockFile(*os.File) error   { return nil }
func unlockFile(*os.File) error { return nil }
