// Package compose decides which overview panels exist and what each receives.
//
// Compose is pure: it walks a fixed declaration list, consults the dashboard
// config for each entry and returns data-only descriptors. Drawing them is the
// ui package's job.
package compose

import (
	"sort"
	"strconv"

	"labdash/catalog"
	"labdash/dashcfg"

	"github.com/zeebo/xxh3"
)

// Kind is the presentation family of a panel.
type Kind string

const (
	KindChart       Kind = "chart"
	KindCard        Kind = "card"
	KindTable       Kind = "table"
	KindButtonGroup Kind = "button-group"
)

// Parameter keys understood by the renderer.
const (
	ParamTitle          = "title"
	ParamTopic          = "topic"
	ParamYAxisLabel     = "y_axis_label"
	ParamExperiment     = "experiment"
	ParamLiveExperiment = "live_experiment"
	ParamInterpolation  = "interpolation"
	ParamDomainMin      = "domain_min"
	ParamDomainMax      = "domain_max"
	ParamODReading      = "od_reading"
	ParamSeries         = "series"
	ParamLookbackHours  = "lookback_hours"
	ParamMinLevel       = "min_level"
	ParamActions        = "actions"
)

// WildcardExperiment matches every experiment on the live topic tree. It is
// only used as ParamLiveExperiment, which overrides ParamExperiment for the
// live subscription; history is always fetched for the latest experiment.
const WildcardExperiment = "+"

// RenameFlag gates the banner notification independently of the declarations.
const RenameFlag = "ui.overview.rename"

// Panel describes one dashboard region.
type Panel struct {
	ID      string            `json:"id"`
	Kind    Kind              `json:"kind"`
	Title   string            `json:"title"`
	Params  map[string]string `json:"params"`
	Enabled bool              `json:"enabled"`
}

// Param returns a parameter value or "".
func (p Panel) Param(key string) string {
	return p.Params[key]
}

// declaration is one entry of the fixed panel list.
type declaration struct {
	id     string
	flag   string
	anyOf  []string
	kind   Kind
	title  string
	params func(cfg dashcfg.Config, experiment string) map[string]string
}

// enabled checks flag, or when anyOf is set, whether any of those flags is.
func (d declaration) enabled(cfg dashcfg.Config) bool {
	if len(d.anyOf) == 0 {
		return cfg.Enabled(d.flag)
	}
	for _, flag := range d.anyOf {
		if cfg.Enabled(flag) {
			return true
		}
	}
	return false
}

// chartFlags gate the chart panels; the clear-charts buttons follow them.
var chartFlags = []string{
	"ui.overview.charts.implied_growth_rate",
	"ui.overview.charts.fraction_of_volume_that_is_alternative_media",
	"ui.overview.charts.normalized_135_optical_density",
	"ui.overview.charts.raw_135_optical_density",
}

const (
	defaultFilteredLookbackHours = 4
	defaultRawLookbackHours      = 4
)

var declarations = []declaration{
	{
		id:    "implied_growth_rate",
		flag:  "ui.overview.charts.implied_growth_rate",
		kind:  KindChart,
		title: "Implied growth rate",
		params: func(_ dashcfg.Config, experiment string) map[string]string {
			return map[string]string{
				ParamTopic:         "growth_rate",
				ParamSeries:        "growth_rates",
				ParamYAxisLabel:    "Growth rate, h⁻¹",
				ParamExperiment:    experiment,
				ParamInterpolation: "stepAfter",
			}
		},
	},
	{
		id:    "fraction_of_volume_that_is_alternative_media",
		flag:  "ui.overview.charts.fraction_of_volume_that_is_alternative_media",
		kind:  KindChart,
		title: "Fraction of volume that is alternative media",
		params: func(_ dashcfg.Config, experiment string) map[string]string {
			return map[string]string{
				ParamTopic:         "alt_media_calculating/alt_media_fraction",
				ParamSeries:        "alt_media_fraction",
				ParamYAxisLabel:    "Fraction",
				ParamExperiment:    experiment,
				ParamInterpolation: "stepAfter",
				ParamDomainMin:     "0",
				ParamDomainMax:     "1",
			}
		},
	},
	{
		id:    "normalized_135_optical_density",
		flag:  "ui.overview.charts.normalized_135_optical_density",
		kind:  KindChart,
		title: "Normalized 135° optical density",
		params: func(cfg dashcfg.Config, experiment string) map[string]string {
			return map[string]string{
				ParamTopic:         "od_filtered/135/+",
				ParamSeries:        "od_readings_filtered",
				ParamYAxisLabel:    "Current OD / initial OD",
				ParamExperiment:    experiment,
				ParamInterpolation: "stepAfter",
				ParamODReading:     "true",
				ParamLookbackHours: lookback(cfg, "ui.overview.settings.filtered_od_lookback_hours", defaultFilteredLookbackHours),
			}
		},
	},
	{
		id:    "raw_135_optical_density",
		flag:  "ui.overview.charts.raw_135_optical_density",
		kind:  KindChart,
		title: "Raw 135° optical density",
		params: func(cfg dashcfg.Config, experiment string) map[string]string {
			return map[string]string{
				ParamTopic:          "od_raw/135/+",
				ParamSeries:         "od_readings",
				ParamYAxisLabel:     "Voltage",
				ParamExperiment:     experiment,
				ParamLiveExperiment: WildcardExperiment,
				ParamInterpolation:  "stepAfter",
				ParamODReading:      "true",
				ParamLookbackHours:  lookback(cfg, "ui.overview.settings.raw_od_lookback_hours", defaultRawLookbackHours),
			}
		},
	},
	{
		id:    "clear_charts",
		anyOf: chartFlags,
		kind:  KindButtonGroup,
		title: "Clear charts",
		params: func(_ dashcfg.Config, _ string) map[string]string {
			return map[string]string{ParamActions: "clear_charts"}
		},
	},
	{
		id:    "dosings",
		flag:  "ui.overview.cards.dosings",
		kind:  KindCard,
		title: "Dosing",
		params: func(_ dashcfg.Config, experiment string) map[string]string {
			return map[string]string{ParamExperiment: experiment}
		},
	},
	{
		id:    "event_logs",
		flag:  "ui.overview.cards.event_logs",
		kind:  KindTable,
		title: "Event logs",
		params: func(cfg dashcfg.Config, _ string) map[string]string {
			level, ok := cfg.Value("ui.overview.settings.log_min_level")
			if !ok || level == "" {
				level = "INFO"
			}
			return map[string]string{ParamMinLevel: level}
		},
	},
	{
		id:    "clear_logs",
		flag:  "ui.overview.cards.event_logs",
		kind:  KindButtonGroup,
		title: "Clear logs",
		params: func(_ dashcfg.Config, _ string) map[string]string {
			return map[string]string{ParamActions: "clear_logs"}
		},
	},
}

var renameBanner = declaration{
	id:    "rename_notification",
	flag:  RenameFlag,
	kind:  KindCard,
	title: "Press the tactile button on a unit to identify it",
	params: func(_ dashcfg.Config, _ string) map[string]string {
		return map[string]string{}
	},
}

// Purpose: Produce the ordered panel list for the overview page.
// Key aspects: Order follows the declaration list; panels whose flag is not
// exactly "1" (or whose namespace is missing) are omitted. The clear-charts
// buttons appear whenever at least one chart does. The rename banner
// is checked separately and appended last.
// Upstream: overview page on config or metadata change, `panels` subcommand.
// Downstream: dashcfg.Config lookups.
func Compose(cfg dashcfg.Config, meta catalog.Metadata) []Panel {
	experiment := meta.Experiment
	panels := make([]Panel, 0, len(declarations)+1)
	for _, d := range declarations {
		if !d.enabled(cfg) {
			continue
		}
		panels = append(panels, d.build(cfg, experiment))
	}
	if cfg.Truthy(RenameFlag) {
		panels = append(panels, renameBanner.build(cfg, experiment))
	}
	return panels
}

func (d declaration) build(cfg dashcfg.Config, experiment string) Panel {
	return Panel{
		ID:      d.id,
		Kind:    d.kind,
		Title:   d.title,
		Params:  d.params(cfg, experiment),
		Enabled: true,
	}
}

func lookback(cfg dashcfg.Config, key string, def float64) string {
	hours, ok := cfg.Float(key)
	if !ok || hours <= 0 {
		hours = def
	}
	return strconv.FormatFloat(hours, 'f', -1, 64)
}

// Fingerprint hashes a panel list so callers can skip redraws when
// recomposition produced identical output.
func Fingerprint(panels []Panel) uint64 {
	h := xxh3.New()
	var sep = []byte{0}
	for _, p := range panels {
		_, _ = h.WriteString(p.ID)
		_, _ = h.Write(sep)
		_, _ = h.WriteString(string(p.Kind))
		_, _ = h.Write(sep)
		_, _ = h.WriteString(p.Title)
		_, _ = h.Write(sep)
		_, _ = h.WriteString(strconv.FormatBool(p.Enabled))
		keys := make([]string, 0, len(p.Params))
		for k := range p.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			_, _ = h.Write(sep)
			_, _ = h.WriteString(k)
			_, _ = h.Write(sep)
			_, _ = h.WriteString(p.Params[k])
		}
		_, _ = h.Write([]byte{1})
	}
	return h.Sum64()
}
