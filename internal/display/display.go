// Package display renders status lines drained from a status.Queue.
// The amp-side OLED is out of scope; these sinks stand in for it on a host.
package display

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/chaz8081/sparkctl/internal/status"
)

// Sink shows one status line at a time.
type Sink interface {
	Show(text string) error
}

// LogSink writes status lines to the structured log.
type LogSink struct{}

// Compile-time interface satisfaction checks.
var (
	_ Sink = LogSink{}
	_ Sink = (*WriterSink)(nil)
)

func (LogSink) Show(text string) error {
	slog.Info("[DISPLAY] status", "text", strings.ReplaceAll(text, "\n", " "))
	return nil
}

// WriterSink prints each status line to an io.Writer, one per line.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a WriterSink backed by w.
// Panics if w is nil (programmer error).
func NewWriterSink(w io.Writer) *WriterSink {
	if w == nil {
		panic("display: NewWriterSink called with nil writer")
	}
	return &WriterSink{w: w}
}

// Show writes text, flattening embedded line breaks.
func (s *WriterSink) Show(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintln(s.w, strings.ReplaceAll(text, "\n", " ")); err != nil {
		return fmt.Errorf("display: write: %w", err)
	}
	return nil
}

// Run drains q into sink until ctx is done or q is closed. Sink errors are
// logged and do not stop the loop.
func Run(ctx context.Context, q *status.Queue, sink Sink) {
	lines := q.Lines()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := sink.Show(line); err != nil {
				slog.Warn("[DISPLAY] failed to show status", "error", err)
			}
		}
	}
}
