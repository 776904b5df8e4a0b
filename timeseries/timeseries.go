// Package timeseries loads the data behind overview panels: initial chart
// history per unit, the recent event log and recent media rates.
//
// Every loader degrades to an empty result with a warning; a panel whose data
// cannot be fetched renders empty rather than failing the page.
package timeseries

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"

	"labdash/catalog"
	"labdash/compose"
)

const (
	seriesEndpoint     = "/time_series/"
	logsEndpoint       = "/recent_logs"
	mediaRatesEndpoint = "/recent_media_rates"
)

// Point is one sample. X is the timestamp string the leader produced.
type Point struct {
	X string  `json:"x"`
	Y float64 `json:"y"`
}

// Series holds one line per unit; Data[i] belongs to Units[i].
type Series struct {
	Units []string  `json:"series"`
	Data  [][]Point `json:"data"`
}

// Len returns the number of unit lines.
func (s Series) Len() int {
	if len(s.Units) < len(s.Data) {
		return len(s.Units)
	}
	return len(s.Data)
}

// Line returns the unit name and samples of line i.
func (s Series) Line(i int) (string, []Point) {
	return s.Units[i], s.Data[i]
}

// LogEntry is one row of the recent event log.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	IsError   Flag   `json:"is_error"`
	IsWarning Flag   `json:"is_warning"`
	IsNotice  Flag   `json:"is_notice"`
	Unit      string `json:"pioreactor_unit"`
	Message   string `json:"message"`
	Task      string `json:"task"`
}

// Level returns the severity label of the entry.
func (e LogEntry) Level() string {
	switch {
	case bool(e.IsError):
		return "ERROR"
	case bool(e.IsWarning):
		return "WARNING"
	case bool(e.IsNotice):
		return "NOTICE"
	default:
		return "INFO"
	}
}

// MediaRate is the dosing volume per hour of one unit.
type MediaRate struct {
	Unit         string  `json:"pioreactor_unit"`
	MediaRate    float64 `json:"media_rate"`
	AltMediaRate float64 `json:"alt_media_rate"`
}

// Flag decodes SQL-style booleans, which arrive as 0/1 or true/false.
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	switch s := strings.Trim(strings.TrimSpace(string(data)), `"`); s {
	case "1", "true":
		*f = true
	case "0", "false", "null", "":
		*f = false
	default:
		return fmt.Errorf("timeseries: invalid flag %s", s)
	}
	return nil
}

// Fetcher is the part of resource.Client used here.
type Fetcher interface {
	FetchJSON(ctx context.Context, endpoint string, out any) error
}

// Loader fetches panel data.
type Loader struct {
	fetcher  Fetcher
	observer catalog.FailureObserver
}

// NewLoader returns a loader. observer may be nil.
func NewLoader(fetcher Fetcher, observer catalog.FailureObserver) *Loader {
	return &Loader{fetcher: fetcher, observer: observer}
}

// SeriesEndpoint builds the history URL path for a chart series.
func SeriesEndpoint(series, experiment string, lookbackHours string) string {
	ep := seriesEndpoint + url.PathEscape(series) + "/" + url.PathEscape(experiment)
	if lookbackHours != "" {
		ep += "?" + url.Values{"lookback": {lookbackHours}}.Encode()
	}
	return ep
}

// Purpose: Load initial history for a chart panel.
// Key aspects: Uses the panel's series, experiment and lookback parameters.
// A chart without an experiment has nothing to show and is not fetched.
// Upstream: overview page after compose, `panels --data`.
// Downstream: Fetcher.FetchJSON.
func (l *Loader) ChartHistory(ctx context.Context, p compose.Panel) Series {
	if p.Kind != compose.KindChart {
		return Series{}
	}
	experiment := p.Param(compose.ParamExperiment)
	series := p.Param(compose.ParamSeries)
	if experiment == "" || series == "" {
		return Series{}
	}
	ep := SeriesEndpoint(series, experiment, p.Param(compose.ParamLookbackHours))
	var out Series
	if err := l.fetcher.FetchJSON(ctx, ep, &out); err != nil {
		l.degrade(ep, err)
		return Series{}
	}
	n := out.Len()
	out.Units, out.Data = out.Units[:n], out.Data[:n]
	return out
}

// RecentLogs loads at most the leader's recent window of event logs at or
// above minLevel. An empty level leaves the leader default (INFO).
func (l *Loader) RecentLogs(ctx context.Context, minLevel string) []LogEntry {
	ep := logsEndpoint
	if lvl := strings.ToUpper(strings.TrimSpace(minLevel)); lvl != "" {
		ep += "?" + url.Values{"min_level": {lvl}}.Encode()
	}
	var out []LogEntry
	if err := l.fetcher.FetchJSON(ctx, ep, &out); err != nil {
		l.degrade(ep, err)
		return nil
	}
	return out
}

// MediaRates loads the dosing card data for the running experiment.
func (l *Loader) MediaRates(ctx context.Context) []MediaRate {
	var out []MediaRate
	if err := l.fetcher.FetchJSON(ctx, mediaRatesEndpoint, &out); err != nil {
		l.degrade(mediaRatesEndpoint, err)
		return nil
	}
	return out
}

func (l *Loader) degrade(endpoint string, err error) {
	log.Printf("Warning: timeseries: %s unavailable: %v", endpoint, err)
	if l.observer != nil {
		l.observer.ObserveFetchFailure(endpoint, err)
	}
}

// LookbackHours parses a panel's lookback parameter; zero means unbounded.
func LookbackHours(p compose.Panel) float64 {
	h, err := strconv.ParseFloat(p.Param(compose.ParamLookbackHours), 64)
	if err != nil || h < 0 {
		return 0
	}
	return h
}
