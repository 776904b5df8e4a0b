package compose

import (
	"reflect"
	"testing"

	"labdash/catalog"
	"labdash/dashcfg"
)

var allOn = map[string]string{
	"ui.overview.charts.implied_growth_rate":                          "1",
	"ui.overview.charts.fraction_of_volume_that_is_alternative_media": "1",
	"ui.overview.charts.normalized_135_optical_density":               "1",
	"ui.overview.charts.raw_135_optical_density":                      "1",
	"ui.overview.cards.dosings":                                       "1",
	"ui.overview.cards.event_logs":                                    "1",
}

func ids(panels []Panel) []string {
	out := make([]string, len(panels))
	for i, p := range panels {
		out[i] = p.ID
	}
	return out
}

func TestComposeDosingsOnly(t *testing.T) {
	cfg := dashcfg.FromMap(map[string]string{"ui.overview.cards.dosings": "1"})
	panels := Compose(cfg, catalog.Metadata{Experiment: "Trial-25"})
	if len(panels) != 1 {
		t.Fatalf("expected one panel, got %v", ids(panels))
	}
	p := panels[0]
	if p.ID != "dosings" || p.Kind != KindCard || !p.Enabled {
		t.Fatalf("unexpected panel: %+v", p)
	}
	if p.Param(ParamExperiment) != "Trial-25" {
		t.Fatalf("expected experiment parameter, got %q", p.Param(ParamExperiment))
	}
}

func TestComposeZeroFlagOmitsPanel(t *testing.T) {
	cfg := dashcfg.FromMap(map[string]string{
		"ui.overview.charts.implied_growth_rate":     "0",
		"ui.overview.charts.raw_135_optical_density": "1",
	})
	got := ids(Compose(cfg, catalog.Metadata{}))
	if !reflect.DeepEqual(got, []string{"raw_135_optical_density", "clear_charts"}) {
		t.Fatalf("unexpected panels: %v", got)
	}
}

func TestComposeClearChartsFollowsCharts(t *testing.T) {
	cases := []struct {
		name string
		doc  map[string]string
		want bool
	}{
		{"one chart", map[string]string{"ui.overview.charts.implied_growth_rate": "1"}, true},
		{"charts off", map[string]string{"ui.overview.charts.implied_growth_rate": "0", "ui.overview.cards.dosings": "1"}, false},
		{"cards only", map[string]string{"ui.overview.cards.event_logs": "1"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var found *Panel
			for _, p := range Compose(dashcfg.FromMap(tc.doc), catalog.Metadata{}) {
				if p.ID == "clear_charts" {
					found = &p
				}
			}
			if (found != nil) != tc.want {
				t.Fatalf("clear_charts present=%v, want %v", found != nil, tc.want)
			}
			if found != nil && (found.Kind != KindButtonGroup || found.Param(ParamActions) != "clear_charts") {
				t.Fatalf("unexpected clear_charts panel %+v", *found)
			}
		})
	}
}

func TestComposeMissingNamespaces(t *testing.T) {
	if got := Compose(dashcfg.Empty(), catalog.Metadata{Experiment: "x"}); len(got) != 0 {
		t.Fatalf("expected no panels, got %v", ids(got))
	}
}

func TestComposeOrderFollowsDeclarations(t *testing.T) {
	cfg := dashcfg.FromMap(allOn)
	got := ids(Compose(cfg, catalog.Metadata{Experiment: "Trial-25"}))
	want := []string{
		"implied_growth_rate",
		"fraction_of_volume_that_is_alternative_media",
		"normalized_135_optical_density",
		"raw_135_optical_density",
		"clear_charts",
		"dosings",
		"event_logs",
		"clear_logs",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected order:\n got %v\nwant %v", got, want)
	}
}

func TestComposeRenameBanner(t *testing.T) {
	cases := []struct {
		name  string
		doc   map[string]string
		want  bool
		total int
	}{
		{"truthy alone", map[string]string{"ui.overview.rename": "1"}, true, 1},
		{"truthy with others", map[string]string{"ui.overview.rename": "1", "ui.overview.cards.dosings": "1"}, true, 2},
		{"section present", map[string]string{"ui.overview.rename.hint": "1"}, true, 1},
		{"zero", map[string]string{"ui.overview.rename": "0"}, false, 0},
		{"absent", map[string]string{"ui.overview.cards.dosings": "1"}, false, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			panels := Compose(dashcfg.FromMap(tc.doc), catalog.Metadata{})
			if len(panels) != tc.total {
				t.Fatalf("expected %d panels, got %v", tc.total, ids(panels))
			}
			found := false
			for _, p := range panels {
				if p.ID == "rename_notification" {
					found = true
				}
			}
			if found != tc.want {
				t.Fatalf("rename banner present=%v, want %v", found, tc.want)
			}
		})
	}
}

func TestComposeChartParameters(t *testing.T) {
	doc := map[string]string{"ui.overview.settings.raw_od_lookback_hours": "24"}
	for k, v := range allOn {
		doc[k] = v
	}
	panels := Compose(dashcfg.FromMap(doc), catalog.Metadata{Experiment: "Trial-25"})
	byID := make(map[string]Panel)
	for _, p := range panels {
		byID[p.ID] = p
	}

	raw := byID["raw_135_optical_density"]
	if raw.Param(ParamLiveExperiment) != WildcardExperiment {
		t.Fatalf("raw OD live feed must use the wildcard, got %q", raw.Param(ParamLiveExperiment))
	}
	if raw.Param(ParamExperiment) != "Trial-25" {
		t.Fatalf("raw OD history must use the latest experiment, got %q", raw.Param(ParamExperiment))
	}
	if raw.Param(ParamLookbackHours) != "24" {
		t.Fatalf("expected configured lookback, got %q", raw.Param(ParamLookbackHours))
	}
	norm := byID["normalized_135_optical_density"]
	if norm.Param(ParamLookbackHours) != "4" || norm.Param(ParamTopic) != "od_filtered/135/+" {
		t.Fatalf("unexpected normalized OD params: %v", norm.Params)
	}
	alt := byID["fraction_of_volume_that_is_alternative_media"]
	if alt.Param(ParamDomainMin) != "0" || alt.Param(ParamDomainMax) != "1" {
		t.Fatalf("expected 0..1 domain, got %v", alt.Params)
	}
	if byID["event_logs"].Param(ParamMinLevel) != "INFO" {
		t.Fatalf("expected INFO default log level")
	}
}

func TestComposeAbsentMetadataLeavesExperimentEmpty(t *testing.T) {
	panels := Compose(dashcfg.FromMap(allOn), catalog.Metadata{})
	for _, p := range panels {
		if p.Kind != KindChart {
			continue
		}
		if p.Param(ParamExperiment) != "" {
			t.Fatalf("%s: expected empty experiment, got %q", p.ID, p.Param(ParamExperiment))
		}
	}
}

func TestComposeDeterministic(t *testing.T) {
	doc := map[string]string{"ui.overview.rename": "1"}
	for k, v := range allOn {
		doc[k] = v
	}
	cfg := dashcfg.FromMap(doc)
	meta := catalog.Metadata{Experiment: "Trial-25"}
	first := Compose(cfg, meta)
	second := Compose(cfg, meta)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("compose is not idempotent")
	}
	if Fingerprint(first) != Fingerprint(second) {
		t.Fatalf("fingerprints differ for identical output")
	}
	other := Compose(cfg, catalog.Metadata{Experiment: "Trial-26"})
	if Fingerprint(first) == Fingerprint(other) {
		t.Fatalf("expected fingerprint to change with experiment")
	}
}
