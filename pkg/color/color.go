// Package color provides terminal color output for the volsnap CLI.
// It respects the NO_COLOR environment variable (https://no-color.org/).
package color

import (
	"fmt"
	"os"
	"sync/atomic"
)

var state struct {
	enabled    atomic.Bool
	overridden atomic.Bool
}

// Init decides whether colors are used. An explicit Enable or Disable wins
// over the environment.
func Init(noColorFlag bool) {
	if state.overridden.Load() {
		return
	}
	_, noColor := os.LookupEnv("NO_COLOR")
	state.enabled.Store(!noColor && os.Getenv("TERM") != "dumb" && !noColorFlag)
}

// Enabled returns true if color output is enabled.
func Enabled() bool {
	return state.enabled.Load()
}

// Disable turns off color output.
func Disable() {
	state.overridden.Store(true)
	state.enabled.Store(false)
}

// Enable turns on color output.
func Enable() {
	state.overridden.Store(true)
	state.enabled.Store(true)
}

// ANSI codes
const (
	Reset   = "\033[0m"
	Bold    = "\033[1m"
	DimCode = "\033[2m"
	Red     = "\033[31m"
	Green   = "\033[32m"
	Yellow  = "\033[33m"
	Blue    = "\033[34m"
	Cyan    = "\033[36m"
)

func paint(code, s string) string {
	if !Enabled() {
		return s
	}
	return code + s + Reset
}

// Success formats s in green.
func Success(s string) string { return paint(Green, s) }

// Successf formats a success message with printf-style arguments.
func Successf(format string, args ...any) string { return Success(fmt.Sprintf(format, args...)) }

// Error formats s in red.
func Error(s string) string { return paint(Red, s) }

// Warning formats s in yellow.
func Warning(s string) string { return paint(Yellow, s) }

// ID formats a row id or uuid.
func ID(s string) string { return paint(Cyan, s) }

// Header formats a table header.
func Header(s string) string { return paint(Bold, s) }

// Dim formats secondary information.
func Dim(s string) string { return paint(DimCode, s) }

// State colors a lifecycle state name: settled states green, failures red,
// terminal states dimmed and anything in flight yellow.
func State(s string) string {
	switch s {
	case "Ready", "BackedUp", "CreatedOnPrimary":
		return Success(s)
	case "Error", "Failed":
		return Error(s)
	case "Destroyed", "Destroy":
		return Dim(s)
	case "Allocated":
		return paint(Blue, s)
	default:
		return Warning(s)
	}
}
