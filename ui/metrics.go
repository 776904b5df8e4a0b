package ui

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// durationWindow retains the most recent frame costs for percentile reads.
type durationWindow struct {
	mu     sync.Mutex
	ring   []time.Duration
	filled int
	next   int
}

func newDurationWindow(size int) *durationWindow {
	if size <= 0 {
		size = 256
	}
	return &durationWindow{ring: make([]time.Duration, size)}
}

func (w *durationWindow) Add(d time.Duration) {
	w.mu.Lock()
	w.ring[w.next] = d
	w.next = (w.next + 1) % len(w.ring)
	w.filled = min(w.filled+1, len(w.ring))
	w.mu.Unlock()
}

// FrameStats summarizes the retained frame costs.
type FrameStats struct {
	P50 time.Duration
	P99 time.Duration
	N   int
}

func (w *durationWindow) Stats() FrameStats {
	w.mu.Lock()
	sorted := slices.Clone(w.ring[:w.filled])
	w.mu.Unlock()
	if len(sorted) == 0 {
		return FrameStats{}
	}
	slices.Sort(sorted)
	return FrameStats{
		P50: percentile(sorted, 0.50),
		P99: percentile(sorted, 0.99),
		N:   len(sorted),
	}
}

// percentile reads a nearest-rank value from an ascending slice.
func percentile(sorted []time.Duration, q float64) time.Duration {
	return sorted[int(float64(len(sorted)-1)*q)]
}

// Metrics describes the dashboard's own behaviour for the stats box: what a
// frame costs, how often the overview layout had to be rebuilt and how often
// the operator switched pages.
type Metrics struct {
	frames         *durationWindow
	layoutRebuilds atomic.Uint64
	pageSwitches   atomic.Uint64
}

func NewMetrics() *Metrics {
	return &Metrics{frames: newDurationWindow(512)}
}

func (m *Metrics) ObserveRender(d time.Duration) {
	if m != nil {
		m.frames.Add(d)
	}
}

func (m *Metrics) LayoutRebuilt() {
	if m != nil {
		m.layoutRebuilds.Add(1)
	}
}

func (m *Metrics) PageSwitch() {
	if m != nil {
		m.pageSwitches.Add(1)
	}
}

func (m *Metrics) RenderSnapshot() FrameStats {
	if m == nil {
		return FrameStats{}
	}
	return m.frames.Stats()
}

func (m *Metrics) LayoutRebuilds() uint64 {
	if m == nil {
		return 0
	}
	return m.layoutRebuilds.Load()
}

func (m *Metrics) PageSwitches() uint64 {
	if m == nil {
		return 0
	}
	return m.pageSwitches.Load()
}

// Line formats the metrics for the stats box.
func (m *Metrics) Line() string {
	snap := m.RenderSnapshot()
	if snap.N == 0 {
		return "UI frames: none yet"
	}
	return fmt.Sprintf("UI frames: p50 %s p99 %s over %d (layouts %d, page switches %d)",
		snap.P50.Round(time.Microsecond), snap.P99.Round(time.Microsecond), snap.N,
		m.LayoutRebuilds(), m.PageSwitches())
}
