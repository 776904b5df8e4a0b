package ui

import (
	"io"
	"log"
	"strings"
	"sync"

	"labdash/export"

	"github.com/zeebo/xxh3"
)

// Headless is the Surface used without a console. Everything goes to the
// logger; the overview is printed only when its rendered text changes.
type Headless struct {
	logger *log.Logger

	mu       sync.Mutex
	lastView uint64
	stopped  bool
}

// NewHeadless writes through logger, or the standard logger when nil.
func NewHeadless(logger *log.Logger) *Headless {
	if logger == nil {
		logger = log.Default()
	}
	return &Headless{logger: logger}
}

func (h *Headless) WaitReady() {}

func (h *Headless) Stop() {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
}

func (h *Headless) SetStats(lines []string) {
	if h.isStopped() {
		return
	}
	for _, line := range lines {
		h.logger.Print(line)
	}
	h.logger.Print("")
}

func (h *Headless) SetOverview(view Overview) {
	text := HeadlessText(view)
	sum := xxh3.HashString(text)
	h.mu.Lock()
	if h.stopped || sum == h.lastView {
		h.mu.Unlock()
		return
	}
	h.lastView = sum
	h.mu.Unlock()
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		h.logger.Print(line)
	}
}

func (h *Headless) SetExportStatus(st export.Status) {
	if h.isStopped() {
		return
	}
	h.logger.Printf("Export: %s (%s)", export.Feedback(st), exportEventLine(st))
}

func (h *Headless) AppendSystem(line string) {
	if h.isStopped() {
		return
	}
	h.logger.Print(stripTags(line))
}

// SystemWriter returns nil: headless logging already targets the console.
func (h *Headless) SystemWriter() io.Writer {
	return nil
}

func (h *Headless) isStopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

// HeadlessText renders the overview as plain text, one section per panel.
func HeadlessText(view Overview) string {
	var b strings.Builder
	b.WriteString("== ")
	b.WriteString(stripTags(renderMetadata(view.Metadata, view.HasMetadata)))
	b.WriteString(" ==\n")
	for _, pd := range view.Panels {
		b.WriteString("-- ")
		b.WriteString(panelTitle(pd.Panel))
		b.WriteString("\n")
		b.WriteString(stripTags(RenderPanelText(pd, defaultPanelWidth, "")))
	}
	return b.String()
}
