// Package progress provides byte progress reporting for transfers.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
)

// Callback receives progress updates during a transfer.
type Callback func(op string, current, total int64)

// Noop is a no-op callback for default behavior.
func Noop(op string, current, total int64) {}

// Progress tracks the bytes of one transfer. It is safe for concurrent use
// by the transfer's workers.
type Progress struct {
	Op      string
	Total   int64
	current atomic.Int64
	cb      Callback
}

// New creates a new Progress tracker.
func New(op string, total int64, cb Callback) *Progress {
	if cb == nil {
		cb = Noop
	}
	return &Progress{Op: op, Total: total, cb: cb}
}

// Add advances the progress by n bytes and calls the callback. A nil
// Progress ignores the call.
func (p *Progress) Add(n int64) {
	if p == nil || n == 0 {
		return
	}
	p.cb(p.Op, p.current.Add(n), p.Total)
}

// Set sets the current progress value, for example to the bytes already
// recorded when a transfer resumes.
func (p *Progress) Set(current int64) {
	if p == nil {
		return
	}
	p.current.Store(current)
	p.cb(p.Op, current, p.Total)
}

// Current returns the current progress value.
func (p *Progress) Current() int64 {
	if p == nil {
		return 0
	}
	return p.current.Load()
}

// Terminal renders a single-line progress bar.
type Terminal struct {
	mu          sync.Mutex
	writer      io.Writer
	op          string
	total       int64
	lastLineLen int
	enabled     atomic.Bool
}

// NewTerminal creates a progress bar writing to stderr.
func NewTerminal(op string, total int64, enabled bool) *Terminal {
	return NewTerminalWriter(os.Stderr, op, total, enabled)
}

// NewTerminalWriter creates a progress bar writing to w.
func NewTerminalWriter(w io.Writer, op string, total int64, enabled bool) *Terminal {
	t := &Terminal{writer: w, op: op, total: total}
	t.enabled.Store(enabled)
	return t
}

// Callback returns a Callback drawing this bar.
func (t *Terminal) Callback() Callback {
	return func(op string, current, total int64) {
		if !t.enabled.Load() {
			return
		}
		t.render(current)
	}
}

func (t *Terminal) render(current int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := t.total
	if total <= 0 {
		total = 1
	}
	if current > total {
		current = total
	}

	barWidth := 30
	filled := int(int64(barWidth) * current / total)
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", barWidth-filled)

	clear := "\r"
	if t.lastLineLen > 0 {
		clear = "\r" + strings.Repeat(" ", t.lastLineLen) + "\r"
	}
	line := fmt.Sprintf("%s [%s] %s/%s (%.0f%%)", t.op, bar,
		humanize.IBytes(uint64(current)), humanize.IBytes(uint64(t.total)),
		float64(current)/float64(total)*100)

	fmt.Fprint(t.writer, clear+line)
	t.lastLineLen = len(line)
}

// Done draws the full bar and ends the line.
func (t *Terminal) Done() {
	if !t.enabled.Load() {
		return
	}
	t.render(t.total)
	fmt.Fprintln(t.writer)
}

// SetEnabled enables or disables the progress bar.
func (t *Terminal) SetEnabled(enabled bool) {
	t.enabled.Store(enabled)
}

// IsEnabled returns whether the progress bar is enabled.
func (t *Terminal) IsEnabled() bool {
	return t.enabled.Load()
}
