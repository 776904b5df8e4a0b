package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"labdash/catalog"
	"labdash/compose"
	"labdash/dashcfg"
	"labdash/live"
	"labdash/timeseries"
	"labdash/ui"
)

// defaultDashboard is used when the dashboard document does not exist. It
// enables every declared panel.
var defaultDashboard = map[string]string{
	"ui.overview.charts.implied_growth_rate":                          "1",
	"ui.overview.charts.fraction_of_volume_that_is_alternative_media": "1",
	"ui.overview.charts.normalized_135_optical_density":               "1",
	"ui.overview.charts.raw_135_optical_density":                      "1",
	"ui.overview.cards.dosings":                                       "1",
	"ui.overview.cards.event_logs":                                    "1",
	"ui.overview.settings.filtered_od_lookback_hours":                 "4",
	"ui.overview.settings.raw_od_lookback_hours":                      "4",
}

// overviewSources gathers everything one overview refresh reads.
type overviewSources struct {
	catalog  *catalog.Catalog
	loader   *timeseries.Loader
	feed     *live.Feed // nil when MQTT is disabled
	dashPath string
	now      func() time.Time

	warnOnce sync.Once

	mu            sync.Mutex
	chartsCleared time.Time // chart points at or before this are hidden
}

// loadDashboard reads the panel document. A missing file selects the
// built-in default; any other failure composes nothing.
func (s *overviewSources) loadDashboard() dashcfg.Config {
	cfg, err := dashcfg.Load(s.dashPath)
	if err == nil {
		return cfg
	}
	if errors.Is(err, fs.ErrNotExist) {
		s.warnOnce.Do(func() {
			log.Printf("Dashboard: %s not found; showing every panel", s.dashPath)
		})
		return dashcfg.FromMap(defaultDashboard)
	}
	log.Printf("Warning: dashboard: %v", err)
	return dashcfg.Empty()
}

// Purpose: Build one overview snapshot.
// Key aspects: Reloads the catalog and panel document, recomposes, resyncs the
// live subscriptions, then fetches each panel's data. Every fetch degrades to
// an empty panel so the refresh always produces a view.
// Upstream: runOverviewLoop.
// Downstream: catalog, dashcfg, compose, live.Feed.Sync, timeseries.Loader.
func (s *overviewSources) refresh(ctx context.Context) ui.Overview {
	experiments := s.catalog.LoadAll(ctx)
	meta, ok := s.catalog.LoadLatest(ctx)
	panels := compose.Compose(s.loadDashboard(), meta)
	if s.feed != nil {
		s.feed.Sync(panels)
	}

	view := ui.Overview{
		GeneratedAt: s.now().UTC(),
		Metadata:    meta,
		HasMetadata: ok,
		Fingerprint: compose.Fingerprint(panels),
		Panels:      make([]ui.PanelData, 0, len(panels)),
		Experiments: make([]string, 0, len(experiments)),
	}
	for _, e := range experiments {
		view.Experiments = append(view.Experiments, e.Name)
	}

	var logs []timeseries.LogEntry
	logsLoaded := false
	for _, p := range panels {
		pd := ui.PanelData{Panel: p}
		switch p.Kind {
		case compose.KindChart:
			pd.Lines = s.chartLines(ctx, p, view.GeneratedAt)
		case compose.KindTable:
			if !logsLoaded {
				logs = s.loader.RecentLogs(ctx, p.Param(compose.ParamMinLevel))
				logsLoaded = true
			}
			pd.Logs = logs
		case compose.KindCard:
			if p.ID == "dosings" {
				pd.Rates = s.loader.MediaRates(ctx)
			}
		}
		view.Panels = append(view.Panels, pd)
	}
	return view
}

// clearCharts hides every chart point received so far, fetched or live.
// Points that arrive later still appear.
func (s *overviewSources) clearCharts() {
	at := s.now().UTC()
	s.mu.Lock()
	s.chartsCleared = at
	s.mu.Unlock()
	if s.feed != nil {
		s.feed.Clear()
	}
	log.Printf("Overview: charts cleared at %s", at.Format(time.RFC3339))
}

func (s *overviewSources) chartsClearedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chartsCleared
}

// chartLines merges fetched history with live samples newer than the last
// historical point of the same line. Points at or before the last chart clear
// are skipped.
func (s *overviewSources) chartLines(ctx context.Context, p compose.Panel, now time.Time) []ui.ChartLine {
	cleared := s.chartsClearedAt()
	history := s.loader.ChartHistory(ctx, p)
	lines := make(map[string]*ui.ChartLine, history.Len())
	for i := 0; i < history.Len(); i++ {
		unit, points := history.Line(i)
		line := &ui.ChartLine{Label: unit, Values: make([]float64, 0, len(points))}
		for _, pt := range points {
			if math.IsNaN(pt.Y) {
				continue
			}
			at := live.ParseTime(pt.X)
			if !cleared.IsZero() && !at.After(cleared) {
				continue
			}
			line.Values = append(line.Values, pt.Y)
			if at.After(line.Last) {
				line.Last = at
			}
		}
		lines[unit] = line
	}

	if s.feed != nil {
		var cutoff time.Time
		if h := timeseries.LookbackHours(p); h > 0 {
			cutoff = now.Add(-time.Duration(h * float64(time.Hour)))
		}
		if cleared.After(cutoff) {
			cutoff = cleared
		}
		for _, ll := range s.feed.Lines(p.ID, cutoff) {
			line := lines[ll.Label]
			if line == nil {
				line = &ui.ChartLine{Label: ll.Label}
				lines[ll.Label] = line
			}
			for _, sample := range ll.Samples {
				if !sample.At.After(line.Last) {
					continue
				}
				line.Values = append(line.Values, sample.Value)
				line.Last = sample.At
			}
		}
	}

	out := make([]ui.ChartLine, 0, len(lines))
	for _, line := range lines {
		if len(line.Values) == 0 {
			continue
		}
		out = append(out, *line)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// Purpose: Keep a surface's overview and stats current until ctx ends.
// Key aspects: One refresh immediately, then on the refresh ticker; stats
// lines on their own ticker. A slow refresh delays the next tick rather than
// overlapping it.
// Upstream: runOverview.
// Downstream: overviewSources.refresh, Surface.SetOverview, Surface.SetStats.
func runOverviewLoop(ctx context.Context, src *overviewSources, surface ui.Surface, refreshEvery, statsEvery time.Duration, statsLines func(time.Time) []string) {
	refreshTicker := time.NewTicker(refreshEvery)
	defer refreshTicker.Stop()
	statsTicker := time.NewTicker(statsEvery)
	defer statsTicker.Stop()

	surface.SetOverview(src.refresh(ctx))
	surface.SetStats(statsLines(src.now()))
	for {
		select {
		case <-ctx.Done():
			return
		case <-refreshTicker.C:
			surface.SetOverview(src.refresh(ctx))
		case <-statsTicker.C:
			surface.SetStats(statsLines(src.now()))
		}
	}
}
