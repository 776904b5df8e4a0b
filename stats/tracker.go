// Package stats counts what the console has been doing: swallowed fetch
// failures, export outcomes and live samples. It backs the status pane and
// the periodic headless status line.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"labdash/export"
	"labdash/resource"

	"github.com/dustin/go-humanize"
)

// Tracker is safe for concurrent use. Counters live in sync.Map +
// atomic.Uint64 so MQTT callbacks don't fight over a mutex.
type Tracker struct {
	fetchByKind     sync.Map // resource kind -> *atomic.Uint64
	fetchByEndpoint sync.Map // endpoint -> *atomic.Uint64
	exportOutcomes  sync.Map // state -> *atomic.Uint64
	liveAccepted    sync.Map // panel ID -> *atomic.Uint64
	liveRejected    atomic.Uint64
	start           atomic.Int64
	lastExport      atomic.Pointer[export.Status]
}

// NewTracker creates a new stats tracker
func NewTracker() *Tracker {
	t := &Tracker{}
	t.start.Store(time.Now().UnixNano())
	return t
}

// ObserveFetchFailure counts a degraded fetch by error kind and endpoint.
func (t *Tracker) ObserveFetchFailure(endpoint string, err error) {
	kind := "other"
	if k, ok := resource.KindOf(err); ok {
		kind = k.String()
	}
	incrementCounter(&t.fetchByKind, kind)
	incrementCounter(&t.fetchByEndpoint, endpointKey(endpoint))
}

// ObserveLiveSample counts one MQTT message for a chart.
func (t *Tracker) ObserveLiveSample(panelID string, ok bool) {
	if !ok {
		t.liveRejected.Add(1)
		return
	}
	incrementCounter(&t.liveAccepted, panelID)
}

// ExportListener returns a listener for export.Controller.Subscribe.
func (t *Tracker) ExportListener() export.Listener {
	return func(st export.Status) {
		if !st.State.Terminal() {
			return
		}
		incrementCounter(&t.exportOutcomes, st.State.String())
		snap := st
		t.lastExport.Store(&snap)
	}
}

// FetchFailures returns failures by kind.
func (t *Tracker) FetchFailures() map[string]uint64 {
	return snapshot(&t.fetchByKind)
}

// FetchFailuresByEndpoint returns failures by endpoint path.
func (t *Tracker) FetchFailuresByEndpoint() map[string]uint64 {
	return snapshot(&t.fetchByEndpoint)
}

// ExportOutcomes returns terminal export counts by state.
func (t *Tracker) ExportOutcomes() map[string]uint64 {
	return snapshot(&t.exportOutcomes)
}

// LiveSamples returns accepted samples by panel.
func (t *Tracker) LiveSamples() map[string]uint64 {
	return snapshot(&t.liveAccepted)
}

// LiveRejected returns the number of unusable MQTT messages.
func (t *Tracker) LiveRejected() uint64 {
	return t.liveRejected.Load()
}

// LastExport returns the most recent terminal export status.
func (t *Tracker) LastExport() (export.Status, bool) {
	if st := t.lastExport.Load(); st != nil {
		return *st, true
	}
	return export.Status{}, false
}

// GetUptime returns how long the tracker has been running
func (t *Tracker) GetUptime() time.Duration {
	return time.Since(time.Unix(0, t.start.Load()))
}

// SnapshotLines returns human-readable stats ready for console display.
func (t *Tracker) SnapshotLines(now time.Time) []string {
	lines := []string{
		fmt.Sprintf("Uptime: %s", t.GetUptime().Round(time.Second)),
		formatCounts("Fetch failures", snapshot(&t.fetchByKind)),
		formatCounts("Exports", snapshot(&t.exportOutcomes)),
		formatCounts("Live samples", snapshot(&t.liveAccepted)) + fmt.Sprintf(" (rejected %s)", humanize.Comma(int64(t.liveRejected.Load()))),
	}
	if st, ok := t.LastExport(); ok {
		detail := st.Filename
		if st.State == export.Failed {
			detail = "failed"
		}
		lines = append(lines, fmt.Sprintf("Last export: %s %s (%s)", st.Selection.Experiment, detail, humanize.RelTime(st.FinishedAt, now, "ago", "from now")))
	}
	return lines
}

// endpointKey drops the query string and the experiment path segment so
// failures aggregate per endpoint family.
func endpointKey(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		endpoint = endpoint[:i]
	}
	if strings.HasPrefix(endpoint, "/time_series/") {
		parts := strings.SplitN(strings.TrimPrefix(endpoint, "/time_series/"), "/", 2)
		return "/time_series/" + parts[0]
	}
	return endpoint
}

func snapshot(m *sync.Map) map[string]uint64 {
	counts := make(map[string]uint64)
	m.Range(func(key, value any) bool {
		counts[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return counts
}

func formatCounts(label string, counts map[string]uint64) string {
	if len(counts) == 0 {
		return label + ": (none)"
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+humanize.Comma(int64(counts[k])))
	}
	return label + ": " + strings.Join(parts, ", ")
}

func incrementCounter(m *sync.Map, key string) {
	if strings.TrimSpace(key) == "" {
		return
	}
	if value, ok := m.Load(key); ok {
		value.(*atomic.Uint64).Add(1)
		return
	}
	counter := &atomic.Uint64{}
	actual, _ := m.LoadOrStore(key, counter)
	actual.(*atomic.Uint64).Add(1)
}
