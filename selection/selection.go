// Package selection holds the operator's export choices: which experiment and
// which of the fixed dataset kinds to include.
package selection

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultExperiment is the placeholder chosen before the operator picks one.
const DefaultExperiment = "Trial-25"

// ErrUnknownDataset is returned for keys outside the closed dataset set.
var ErrUnknownDataset = errors.New("selection: unknown dataset")

// DatasetKind identifies one exportable dataset category.
type DatasetKind int

const (
	GrowthRates DatasetKind = iota
	IOEvents
	ODReadingsRaw
	ODReadingsFiltered
	Logs
	AltMediaFraction

	datasetCount
)

var datasetKeys = [datasetCount]string{
	GrowthRates:        "growth_rates",
	IOEvents:           "io_events",
	ODReadingsRaw:      "od_readings_raw",
	ODReadingsFiltered: "od_readings_filtered",
	Logs:               "logs",
	AltMediaFraction:   "alt_media_fraction",
}

var datasetLabels = [datasetCount]string{
	GrowthRates:        "Growth rate",
	IOEvents:           "IO events",
	ODReadingsRaw:      "Raw OD readings",
	ODReadingsFiltered: "Filtered OD readings",
	Logs:               "Logs",
	AltMediaFraction:   "Alt. media fraction",
}

// Key returns the wire key, e.g. "growth_rates".
func (k DatasetKind) Key() string {
	if k < 0 || k >= datasetCount {
		return ""
	}
	return datasetKeys[k]
}

// Label returns the operator-facing name.
func (k DatasetKind) Label() string {
	if k < 0 || k >= datasetCount {
		return ""
	}
	return datasetLabels[k]
}

func (k DatasetKind) String() string {
	if key := k.Key(); key != "" {
		return key
	}
	return fmt.Sprintf("DatasetKind(%d)", int(k))
}

// AllDatasetKinds lists every kind in declaration order.
func AllDatasetKinds() []DatasetKind {
	out := make([]DatasetKind, datasetCount)
	for i := range out {
		out[i] = DatasetKind(i)
	}
	return out
}

// ParseDatasetKind maps a wire key back to its kind.
func ParseDatasetKind(key string) (DatasetKind, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	for i, k := range datasetKeys {
		if k == key {
			return DatasetKind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownDataset, key)
}

// DatasetSelection maps every dataset kind to a flag. The array shape keeps all
// six keys present at all times.
type DatasetSelection [datasetCount]bool

// Get reports the flag for k.
func (d DatasetSelection) Get(k DatasetKind) bool {
	if k < 0 || k >= datasetCount {
		return false
	}
	return d[k]
}

// Selected returns the kinds whose flag is set, in declaration order.
func (d DatasetSelection) Selected() []DatasetKind {
	var out []DatasetKind
	for i, on := range d {
		if on {
			out = append(out, DatasetKind(i))
		}
	}
	return out
}

// MarshalJSON writes an object with all six keys in declaration order.
func (d DatasetSelection) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, on := range d {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%q:%t", datasetKeys[i], on)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// UnmarshalJSON accepts an object of known keys; missing keys stay false.
func (d *DatasetSelection) UnmarshalJSON(data []byte) error {
	var raw map[string]bool
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var next DatasetSelection
	for key, on := range raw {
		k, err := ParseDatasetKind(key)
		if err != nil {
			return err
		}
		next[k] = on
	}
	*d = next
	return nil
}

// ExportSelection is the complete payload of an export request.
type ExportSelection struct {
	Experiment string           `json:"experimentSelection"`
	Datasets   DatasetSelection `json:"datasetCheckbox"`
}

// State is the mutable container behind the export form.
type State struct {
	mu  sync.Mutex
	sel ExportSelection
}

// NewState starts with the given experiment (or the placeholder) and every
// dataset flag cleared.
func NewState(experiment string) *State {
	experiment = strings.TrimSpace(experiment)
	if experiment == "" {
		experiment = DefaultExperiment
	}
	return &State{sel: ExportSelection{Experiment: experiment}}
}

// SetExperiment replaces the chosen experiment. The name is not checked
// against the catalog; the server decides whether it exists.
func (s *State) SetExperiment(name string) {
	s.mu.Lock()
	s.sel.Experiment = name
	s.mu.Unlock()
}

// ToggleDataset sets exactly one flag and leaves the other five untouched.
func (s *State) ToggleDataset(key string, value bool) error {
	k, err := ParseDatasetKind(key)
	if err != nil {
		return err
	}
	s.Set(k, value)
	return nil
}

// Set is the typed form of ToggleDataset.
func (s *State) Set(k DatasetKind, value bool) {
	if k < 0 || k >= datasetCount {
		return
	}
	s.mu.Lock()
	s.sel.Datasets[k] = value
	s.mu.Unlock()
}

// Snapshot returns a copy of the current selection.
func (s *State) Snapshot() ExportSelection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sel
}
