package ui

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"labdash/internal/ratelimit"
)

// maxPartialLine bounds the bytes held while waiting for a newline.
const maxPartialLine = 64 * 1024

// lineWriter adapts log output to a surface that takes whole lines. It sits
// behind the log package, so it must never log itself; overflow notices go
// through emit.
type lineWriter struct {
	emit     func(line string)
	overflow *ratelimit.Counter

	mu      sync.Mutex
	partial []byte
	dropped uint64
}

func newLineWriter(emit func(line string)) *lineWriter {
	return &lineWriter{emit: emit, overflow: ratelimit.NewCounter(30 * time.Second)}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	if w == nil || w.emit == nil {
		return len(p), nil
	}
	w.mu.Lock()
	w.partial = append(w.partial, p...)
	var notice string
	if excess := len(w.partial) - maxPartialLine; excess > 0 {
		w.partial = w.partial[excess:]
		w.dropped += uint64(excess)
		if _, _, report := w.overflow.Inc(); report {
			notice = fmt.Sprintf("UI: log line over %d bytes, dropped %d bytes (total %d)", maxPartialLine, excess, w.dropped)
		}
	}
	lines := w.completeLinesLocked()
	w.mu.Unlock()

	if notice != "" {
		w.emit(notice)
	}
	for _, line := range lines {
		w.emit(line)
	}
	return len(p), nil
}

func (w *lineWriter) completeLinesLocked() []string {
	var lines []string
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			return lines
		}
		lines = append(lines, string(bytes.TrimSuffix(w.partial[:i], []byte("\r"))))
		w.partial = w.partial[i+1:]
	}
}
