package ui

import (
	"strings"
	"testing"
	"time"
)

func TestDurationWindowKeepsNewestSamples(t *testing.T) {
	w := newDurationWindow(4)
	for _, ms := range []int{9, 1, 2, 3, 4} {
		w.Add(time.Duration(ms) * time.Millisecond)
	}
	stats := w.Stats()
	if stats.N != 4 {
		t.Fatalf("expected 4 retained samples, got %d", stats.N)
	}
	if stats.P50 != 2*time.Millisecond || stats.P99 != 3*time.Millisecond {
		t.Fatalf("unexpected percentiles %+v", stats)
	}
	if got := newDurationWindow(0).Stats(); got.N != 0 {
		t.Fatalf("expected empty stats, got %+v", got)
	}
}

func TestMetricsLine(t *testing.T) {
	m := NewMetrics()
	if m.Line() != "UI frames: none yet" {
		t.Fatalf("unexpected empty line %q", m.Line())
	}
	m.ObserveRender(2 * time.Millisecond)
	m.LayoutRebuilt()
	m.PageSwitch()
	m.PageSwitch()
	got := m.Line()
	for _, want := range []string{"p50 2ms", "over 1", "layouts 1", "page switches 2"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in %q", want, got)
		}
	}

	var nilMetrics *Metrics
	nilMetrics.ObserveRender(time.Second)
	nilMetrics.LayoutRebuilt()
	if nilMetrics.PageSwitches() != 0 || nilMetrics.RenderSnapshot().N != 0 {
		t.Fatalf("nil metrics should report zero")
	}
}
