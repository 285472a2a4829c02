// Package progress reports the progress of long running operations such as
// gc runs and payload verification.
package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
)

// Callback receives progress updates during long operations. It may be
// called from several goroutines.
type Callback func(op string, current, total int, message string)

// Noop is a no-op callback for default behavior.
func Noop(op string, current, total int, message string) {}

// Progress tracks operation progress. It is safe for concurrent use.
type Progress struct {
	Op      string
	Total   int
	current atomic.Int64
	cb      Callback
}

// New creates a new Progress tracker.
func New(op string, total int, cb Callback) *Progress {
	if cb == nil {
		cb = Noop
	}
	return &Progress{Op: op, Total: total, cb: cb}
}

// Increment advances the progress and calls the callback.
func (p *Progress) Increment(message string) {
	n := p.current.Add(1)
	p.cb(p.Op, int(n), p.Total, message)
}

// Done marks the operation as complete.
func (p *Progress) Done(message string) {
	p.current.Store(int64(p.Total))
	p.cb(p.Op, p.Total, p.Total, message)
}

// Current returns the current progress value.
func (p *Progress) Current() int {
	return int(p.current.Load())
}

// Terminal draws a single line progress bar.
type Terminal struct {
	mu          sync.Mutex
	writer      io.Writer
	lastLineLen int
	enabled     atomic.Bool
}

// NewTerminal creates a progress bar writing to w.
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	t := &Terminal{writer: w}
	t.enabled.Store(enabled)
	return t
}

// Callback returns a Callback drawing on this terminal.
func (t *Terminal) Callback() Callback {
	return func(op string, current, total int, message string) {
		if !t.enabled.Load() {
			return
		}
		t.render(op, current, total, message)
	}
}

func (t *Terminal) render(op string, current, total int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if total <= 0 {
		total = 1
	}
	if current > total {
		current = total
	}
	percentage := float64(current) / float64(total) * 100

	const barWidth = 30
	filled := barWidth * current / total
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", barWidth-filled)

	clear := "\r"
	if t.lastLineLen > 0 {
		clear = "\r" + strings.Repeat(" ", t.lastLineLen) + "\r"
	}

	line := fmt.Sprintf("%s [%s] %d/%d (%.0f%%)", op, bar, current, total, percentage)
	if message != "" {
		line += " " + message
	}
	fmt.Fprint(t.writer, clear+line)
	t.lastLineLen = len(line)
}

// Finish ends the progress line. Nothing is written when the bar never
// rendered.
func (t *Terminal) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled.Load() || t.lastLineLen == 0 {
		return
	}
	fmt.Fprintln(t.writer)
	t.lastLineLen = 0
}

// SetEnabled enables or disables the progress bar.
func (t *Terminal) SetEnabled(enabled bool) {
	t.enabled.Store(enabled)
}

// IsEnabled returns whether the progress bar is enabled.
func (t *Terminal) IsEnabled() bool {
	return t.enabled.Load()
}
