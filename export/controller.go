// Package export drives a dataset export: one POST to the leader, a tracked
// request lifecycle, and a download of the resulting artifact.
package export

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"labdash/resource"
	"labdash/selection"
)

const queryEndpoint = "/query_datasets"

var (
	// ErrInFlight is returned when Submit is called while an export runs.
	ErrInFlight = errors.New("export: request already in flight")
	// ErrClosed is returned once the controller has been torn down.
	ErrClosed = errors.New("export: controller closed")
	// ErrMissingFilename marks a 2xx response that named no artifact.
	ErrMissingFilename = errors.New("missing filename")
)

// State is the lifecycle position of the controller.
type State int

const (
	Idle State = iota
	Running
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether s ends an attempt.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed
}

// Status is an immutable snapshot of the lifecycle.
type Status struct {
	State      State
	Attempt    uint64 // counts submits of this controller only
	Selection  selection.ExportSelection
	Filename   string // set when Succeeded
	Err        error  // set when Failed
	StartedAt  time.Time
	FinishedAt time.Time
}

// Poster issues the export request.
type Poster interface {
	PostJSON(ctx context.Context, endpoint string, body any, out any) error
}

// DownloadTrigger asks the environment to save or open an artifact.
type DownloadTrigger interface {
	Trigger(ctx context.Context, filename string) error
}

// Listener observes every lifecycle transition.
type Listener func(Status)

type queryResponse struct {
	Filename string `json:"filename"`
}

// Controller serializes exports: at most one request is in flight.
type Controller struct {
	poster  Poster
	trigger DownloadTrigger
	now     func() time.Time

	// life is cancelled by Close and aborts the request in flight.
	life context.Context
	stop context.CancelFunc

	mu        sync.Mutex
	status    Status
	closed    bool
	listeners []Listener
}

// NewController wires a controller. trigger may be nil, in which case a
// successful export only reports the filename.
func NewController(poster Poster, trigger DownloadTrigger) *Controller {
	life, stop := context.WithCancel(context.Background())
	return &Controller{
		poster:  poster,
		trigger: trigger,
		now:     time.Now,
		life:    life,
		stop:    stop,
	}
}

// Subscribe registers a listener. Listeners run on the submitting goroutine
// after the controller's lock is released.
func (c *Controller) Subscribe(l Listener) {
	if l == nil {
		return
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// Status returns the current lifecycle snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Close tears the controller down and aborts the request in flight. Its
// outcome is dropped: no transition, no download, no listener call.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.listeners = nil
	c.mu.Unlock()
	c.stop()
}

// Purpose: Run one export from submit to terminal state.
// Key aspects: Ignored with ErrInFlight while Running; from Idle or a terminal
// state it moves straight to Running. Blocks until the response arrives.
// Cancelling ctx abandons the attempt: the previous status is restored and
// nothing is recorded as Failed. A deadline on ctx still fails it.
// Upstream: export form submit button, `export` subcommand.
// Downstream: Poster.PostJSON, DownloadTrigger.Trigger, listeners.
func (c *Controller) Submit(ctx context.Context, sel selection.ExportSelection) (Status, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Status{}, ErrClosed
	}
	if c.status.State == Running {
		st := c.status
		c.mu.Unlock()
		return st, ErrInFlight
	}
	prev := c.status
	running := Status{
		State:     Running,
		Attempt:   prev.Attempt + 1,
		Selection: sel,
		StartedAt: c.now().UTC(),
	}
	c.status = running
	listeners := c.snapshotListenersLocked()
	c.mu.Unlock()
	notify(listeners, running)

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	detach := context.AfterFunc(c.life, cancel)
	defer detach()

	var resp queryResponse
	err := c.poster.PostJSON(reqCtx, queryEndpoint, sel, &resp)
	filename := strings.TrimSpace(resp.Filename)
	if err == nil && filename == "" {
		err = resource.Decode(queryEndpoint, ErrMissingFilename)
	}

	done := running
	done.FinishedAt = c.now().UTC()
	if err != nil {
		done.State = Failed
		done.Err = err
	} else {
		done.State = Succeeded
		done.Filename = filename
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Status{}, ErrClosed
	}
	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		prev.Attempt = running.Attempt
		c.status = prev
		listeners = c.snapshotListenersLocked()
		c.mu.Unlock()
		log.Printf("Export: %s abandoned by caller", sel.Experiment)
		notify(listeners, prev)
		return prev, ctx.Err()
	}
	c.status = done
	listeners = c.snapshotListenersLocked()
	c.mu.Unlock()

	if done.State == Failed {
		log.Printf("Export: %s failed after %s: %v", sel.Experiment, done.FinishedAt.Sub(done.StartedAt).Round(time.Millisecond), err)
	} else {
		log.Printf("Export: %s ready as %s", sel.Experiment, filename)
	}
	notify(listeners, done)

	if done.State == Succeeded && c.trigger != nil {
		if err := c.trigger.Trigger(reqCtx, filename); err != nil {
			log.Printf("Warning: export: download of %s failed: %v", filename, err)
		}
	}
	return done, nil
}

func (c *Controller) snapshotListenersLocked() []Listener {
	if len(c.listeners) == 0 {
		return nil
	}
	out := make([]Listener, len(c.listeners))
	copy(out, c.listeners)
	return out
}

func notify(listeners []Listener, st Status) {
	for _, l := range listeners {
		l(st)
	}
}

// Feedback returns the operator-facing text for a status.
func Feedback(st Status) string {
	switch st.State {
	case Running:
		return "Exporting..."
	case Failed:
		return "Server error occurred. Check logs."
	case Succeeded:
		return "Export ready: " + st.Filename
	default:
		return "Querying the database may take up to a minute or so."
	}
}
