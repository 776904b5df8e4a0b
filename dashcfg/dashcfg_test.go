package dashcfg

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseFlattensSections(t *testing.T) {
	cfg, err := Parse([]byte(`
ui.overview.charts:
  implied_growth_rate: "1"
  raw_135_optical_density: "0"
ui.overview.cards.dosings: "1"
ui:
  overview:
    settings:
      filtered_od_lookback_hours: 12
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !cfg.Enabled("ui.overview.charts.implied_growth_rate") {
		t.Fatalf("expected implied_growth_rate enabled")
	}
	if cfg.Enabled("ui.overview.charts.raw_135_optical_density") {
		t.Fatalf("expected raw OD disabled")
	}
	if !cfg.Enabled("ui.overview.cards.dosings") {
		t.Fatalf("expected dotted key to be enabled")
	}
	if v, ok := cfg.Float("ui.overview.settings.filtered_od_lookback_hours"); !ok || v != 12 {
		t.Fatalf("expected lookback 12, got %v (%v)", v, ok)
	}
	if !cfg.HasSection("ui.overview.charts") || !cfg.HasSection("ui") {
		t.Fatalf("expected sections to be recorded")
	}
	if cfg.HasSection("ui.overview.cards.event_logs") {
		t.Fatalf("unexpected section")
	}
}

func TestEnabledRequiresExactOne(t *testing.T) {
	cfg := FromMap(map[string]string{
		"a": "1",
		"b": "true",
		"c": " 1",
		"d": "0",
	})
	want := map[string]bool{"a": true, "b": false, "c": false, "d": false, "missing": false}
	for key, expect := range want {
		if got := cfg.Enabled(key); got != expect {
			t.Fatalf("Enabled(%q)=%v, want %v", key, got, expect)
		}
	}
}

func TestTruthy(t *testing.T) {
	cfg := FromMap(map[string]string{
		"ui.overview.rename":    "yes please",
		"off.flag":              "0",
		"empty.flag":            "",
		"false.flag":            "False",
		"section.child.enabled": "0",
	})
	cases := map[string]bool{
		"ui.overview.rename": true,
		"off.flag":           false,
		"empty.flag":         false,
		"false.flag":         false,
		"section.child":      true,
		"absent":             false,
	}
	for key, want := range cases {
		if got := cfg.Truthy(key); got != want {
			t.Fatalf("Truthy(%q)=%v, want %v", key, got, want)
		}
	}
}

func TestParseRejectsNonMapping(t *testing.T) {
	if _, err := Parse([]byte("- a\n- b\n")); err == nil {
		t.Fatalf("expected error for sequence document")
	}
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse([]byte(""))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.Keys()) != 0 {
		t.Fatalf("expected no keys, got %v", cfg.Keys())
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dashboard.yaml")
	if err := os.WriteFile(path, []byte("ui.overview.rename: \"1\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Truthy("ui.overview.rename") {
		t.Fatalf("expected rename truthy")
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestMapIsCopy(t *testing.T) {
	cfg := FromMap(map[string]string{"a.b": "1"})
	m := cfg.Map()
	m["a.b"] = "0"
	if !cfg.Enabled("a.b") {
		t.Fatalf("config must not change through Map copy")
	}
}
