package ui

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"labdash/catalog"
	"labdash/compose"
	"labdash/timeseries"

	"github.com/dustin/go-humanize"
)

const (
	accentTag   = "[#ff69b4]"
	accentReset = "[-]"
)

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// sparkline draws the last width values scaled into [lo, hi]. NaN bounds are
// taken from the data itself.
func sparkline(values []float64, width int, lo, hi float64) string {
	if width <= 0 || len(values) == 0 {
		return ""
	}
	if len(values) > width {
		values = values[len(values)-width:]
	}
	if math.IsNaN(lo) || math.IsNaN(hi) {
		dataLo, dataHi := values[0], values[0]
		for _, v := range values[1:] {
			dataLo = math.Min(dataLo, v)
			dataHi = math.Max(dataHi, v)
		}
		if math.IsNaN(lo) {
			lo = dataLo
		}
		if math.IsNaN(hi) {
			hi = dataHi
		}
	}
	span := hi - lo
	var b strings.Builder
	for _, v := range values {
		idx := 0
		if span > 0 {
			frac := (v - lo) / span
			frac = math.Max(0, math.Min(1, frac))
			idx = int(math.Round(frac * float64(len(sparkRunes)-1)))
		}
		b.WriteRune(sparkRunes[idx])
	}
	return b.String()
}

// chartDomain reads the fixed domain of a chart panel; missing bounds are NaN.
func chartDomain(p compose.Panel) (float64, float64) {
	parse := func(key string) float64 {
		v, err := strconv.ParseFloat(p.Param(key), 64)
		if err != nil {
			return math.NaN()
		}
		return v
	}
	return parse(compose.ParamDomainMin), parse(compose.ParamDomainMax)
}

func formatValue(v float64) string {
	return humanize.FtoaWithDigits(v, 4)
}

func renderChart(pd PanelData, width int) string {
	p := pd.Panel
	var b strings.Builder
	fmt.Fprintf(&b, "%s", p.Param(compose.ParamYAxisLabel))
	if exp := p.Param(compose.ParamExperiment); exp != "" {
		fmt.Fprintf(&b, "  (%s)", exp)
	}
	if p.Param(compose.ParamLiveExperiment) == compose.WildcardExperiment {
		b.WriteString("  live: all experiments")
	}
	if h := p.Param(compose.ParamLookbackHours); h != "" {
		fmt.Fprintf(&b, "  last %sh", h)
	}
	b.WriteByte('\n')
	if p.Param(compose.ParamExperiment) == "" && p.Param(compose.ParamLiveExperiment) == "" {
		b.WriteString("  waiting for an experiment\n")
		return b.String()
	}
	if len(pd.Lines) == 0 {
		b.WriteString("  no data\n")
		return b.String()
	}
	labelWidth := 0
	for _, line := range pd.Lines {
		if len(line.Label) > labelWidth {
			labelWidth = len(line.Label)
		}
	}
	lo, hi := chartDomain(p)
	sparkWidth := width - labelWidth - 14
	if sparkWidth < 8 {
		sparkWidth = 8
	}
	for _, line := range pd.Lines {
		last := "-"
		if n := len(line.Values); n > 0 {
			last = formatValue(line.Values[n-1])
		}
		fmt.Fprintf(&b, "  %-*s %s %s\n", labelWidth, line.Label, sparkline(line.Values, sparkWidth, lo, hi), last)
	}
	return b.String()
}

func levelTag(level string) string {
	switch level {
	case "ERROR":
		return "[red]"
	case "WARNING":
		return "[yellow]"
	case "NOTICE":
		return "[cyan]"
	default:
		return "[white]"
	}
}

// visibleLogs hides entries at or before the clear mark. Leader timestamps
// are ISO strings, so lexical order is time order.
func visibleLogs(entries []timeseries.LogEntry, clearedThrough string) []timeseries.LogEntry {
	if clearedThrough == "" {
		return entries
	}
	out := make([]timeseries.LogEntry, 0, len(entries))
	for _, e := range entries {
		if e.Timestamp > clearedThrough {
			out = append(out, e)
		}
	}
	return out
}

func renderLogs(entries []timeseries.LogEntry) string {
	if len(entries) == 0 {
		return "no recent events\n"
	}
	var b strings.Builder
	for _, e := range entries {
		level := e.Level()
		fmt.Fprintf(&b, "%s %s%-7s%s %-10s %s: %s\n", e.Timestamp, levelTag(level), level, accentReset, e.Unit, e.Task, e.Message)
	}
	return b.String()
}

func renderRates(rates []timeseries.MediaRate, experiment string) string {
	var b strings.Builder
	if experiment != "" {
		fmt.Fprintf(&b, "Experiment %s\n", experiment)
	}
	if len(rates) == 0 {
		b.WriteString("no dosing in the last hours\n")
		return b.String()
	}
	for _, r := range rates {
		fmt.Fprintf(&b, "%-10s media %s mL/h  alt media %s mL/h\n", r.Unit, formatValue(r.MediaRate), formatValue(r.AltMediaRate))
	}
	return b.String()
}

func renderMetadata(meta catalog.Metadata, ok bool) string {
	if !ok {
		return "No active experiment"
	}
	parts := []string{accentText(meta.Experiment)}
	if meta.Description != "" {
		parts = append(parts, meta.Description)
	}
	if meta.MediaUsed != "" || meta.OrganismUsed != "" {
		parts = append(parts, strings.TrimSpace(meta.OrganismUsed+" in "+meta.MediaUsed))
	}
	if meta.DeltaHours > 0 {
		parts = append(parts, "running "+humanize.FtoaWithDigits(meta.DeltaHours, 3)+"h")
	}
	if meta.CreatedAt != "" {
		parts = append(parts, "since "+meta.CreatedAt)
	}
	return strings.Join(parts, " | ")
}

// RenderPanelText returns the body of a panel for a box of the given width.
func RenderPanelText(pd PanelData, width int, clearedThrough string) string {
	switch pd.Panel.Kind {
	case compose.KindChart:
		return renderChart(pd, width)
	case compose.KindTable:
		return renderLogs(visibleLogs(pd.Logs, clearedThrough))
	case compose.KindButtonGroup:
		if pd.Panel.Param(compose.ParamActions) == "clear_charts" {
			return "Press x to clear the charts\n"
		}
		return "Press c to clear the event logs\n"
	case compose.KindCard:
		if pd.Panel.ID == "dosings" {
			return renderRates(pd.Rates, pd.Panel.Param(compose.ParamExperiment))
		}
		return accentText(pd.Panel.Title) + "\n"
	default:
		return ""
	}
}

func stripTags(s string) string {
	if s == "" {
		return ""
	}
	replacer := strings.NewReplacer(
		"[red]", "",
		"[yellow]", "",
		"[cyan]", "",
		"[white]", "",
		accentTag, "",
		accentReset, "",
	)
	return replacer.Replace(s)
}

func accentText(text string) string {
	if text == "" {
		return ""
	}
	return accentTag + text + accentReset
}
