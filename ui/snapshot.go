package ui

import (
	"time"

	"labdash/catalog"
	"labdash/compose"
	"labdash/timeseries"
)

// Overview is everything the overview page draws, built by the refresh loop.
// It is immutable once handed to a Surface.
type Overview struct {
	GeneratedAt time.Time
	Metadata    catalog.Metadata
	HasMetadata bool
	Fingerprint uint64 // compose.Fingerprint of Panels
	Panels      []PanelData
	Experiments []string // export form choices, server order
}

// PanelData pairs a composed panel with the data fetched for it. Only the
// field matching the panel kind is populated.
type PanelData struct {
	Panel compose.Panel
	Lines []ChartLine
	Logs  []timeseries.LogEntry
	Rates []timeseries.MediaRate
}

// ChartLine is one unit's values in chronological order.
type ChartLine struct {
	Label  string
	Values []float64
	Last   time.Time
}
