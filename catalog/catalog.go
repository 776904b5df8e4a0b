// Package catalog loads the experiments known to the leader and the one that is
// currently running. Both reads are best-effort: failures degrade to empty
// values so the UI shows a blank selector instead of an error.
package catalog

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"labdash/resource"

	"github.com/agnivade/levenshtein"
)

const (
	experimentsEndpoint = "/get_experiments"
	latestEndpoint      = "/get_latest_experiment"

	// maxSuggestDistance bounds how far a typo may be from a known name.
	maxSuggestDistance = 3
)

// Experiment is one entry of the experiment list, in server order.
type Experiment struct {
	Name        string `json:"experiment"`
	CreatedAt   string `json:"created_at,omitempty"`
	Description string `json:"description,omitempty"`
}

// Metadata describes the presently running experiment.
type Metadata struct {
	Experiment   string  `json:"experiment"`
	CreatedAt    string  `json:"created_at,omitempty"`
	Description  string  `json:"description,omitempty"`
	MediaUsed    string  `json:"media_used,omitempty"`
	OrganismUsed string  `json:"organism_used,omitempty"`
	DeltaHours   float64 `json:"delta_hours,omitempty"`
}

// Fetcher is the part of resource.Client the catalog needs.
type Fetcher interface {
	FetchJSON(ctx context.Context, endpoint string, out any) error
}

// FailureObserver is notified of swallowed fetch errors.
type FailureObserver interface {
	ObserveFetchFailure(endpoint string, err error)
}

// Catalog holds the session's in-memory experiment list and latest metadata.
// A new Catalog starts empty; nothing is cached across sessions.
type Catalog struct {
	fetcher  Fetcher
	observer FailureObserver

	mu          sync.RWMutex
	experiments []Experiment
	latest      Metadata
	hasLatest   bool
}

// New creates an empty catalog. observer may be nil.
func New(fetcher Fetcher, observer FailureObserver) *Catalog {
	return &Catalog{fetcher: fetcher, observer: observer}
}

// Purpose: Fetch the experiment list and replace the in-memory copy.
// Key aspects: Any failure leaves the list empty and is only logged.
// Upstream: overview/export views at mount, `experiments` subcommand.
// Downstream: Fetcher.FetchJSON.
func (c *Catalog) LoadAll(ctx context.Context) []Experiment {
	var raw []Experiment
	if err := c.fetcher.FetchJSON(ctx, experimentsEndpoint, &raw); err != nil {
		c.swallow(experimentsEndpoint, err)
		raw = nil
	}
	list := make([]Experiment, 0, len(raw))
	for _, exp := range raw {
		exp.Name = strings.TrimSpace(exp.Name)
		if exp.Name == "" {
			continue
		}
		list = append(list, exp)
	}
	c.mu.Lock()
	c.experiments = list
	c.mu.Unlock()
	return cloneExperiments(list)
}

// Purpose: Fetch metadata for the running experiment.
// Key aspects: A failure or an object without an experiment name yields
// absent metadata (ok=false); callers must not render data for it.
// Upstream: overview view, panels subcommand.
// Downstream: Fetcher.FetchJSON.
func (c *Catalog) LoadLatest(ctx context.Context) (Metadata, bool) {
	var meta Metadata
	err := c.fetcher.FetchJSON(ctx, latestEndpoint, &meta)
	if err == nil && strings.TrimSpace(meta.Experiment) == "" {
		err = resource.Decode(latestEndpoint, errors.New("missing experiment field"))
	}
	if err != nil {
		c.swallow(latestEndpoint, err)
		c.mu.Lock()
		c.latest = Metadata{}
		c.hasLatest = false
		c.mu.Unlock()
		return Metadata{}, false
	}
	meta.Experiment = strings.TrimSpace(meta.Experiment)
	c.mu.Lock()
	c.latest = meta
	c.hasLatest = true
	c.mu.Unlock()
	return meta, true
}

// Experiments returns the last loaded list.
func (c *Catalog) Experiments() []Experiment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneExperiments(c.experiments)
}

// Latest returns the last loaded metadata.
func (c *Catalog) Latest() (Metadata, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest, c.hasLatest
}

// Suggest returns the known experiment closest to name when name itself is not
// in the list. It is an operator hint only; unknown names remain valid.
func (c *Catalog) Suggest(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	best := ""
	bestDist := maxSuggestDistance + 1
	for _, exp := range c.experiments {
		if exp.Name == name {
			return "", false
		}
		d := levenshtein.ComputeDistance(strings.ToLower(name), strings.ToLower(exp.Name))
		if d < bestDist {
			best, bestDist = exp.Name, d
		}
	}
	if best == "" {
		return "", false
	}
	return best, true
}

func (c *Catalog) swallow(endpoint string, err error) {
	log.Printf("Warning: catalog: %s unavailable: %v", endpoint, err)
	if c.observer != nil {
		c.observer.ObserveFetchFailure(endpoint, err)
	}
}

func cloneExperiments(in []Experiment) []Experiment {
	out := make([]Experiment, len(in))
	copy(out, in)
	return out
}
