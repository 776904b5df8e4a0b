package ui

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rivo/tview"
)

// Redraw regions. Scheduling a region again before the next frame replaces
// its pending update.
const (
	regionOverview = "overview"
	regionStats    = "stats"
	regionExport   = "export"
	regionActivity = "activity"
)

// frameScheduler batches region updates into frames. It sleeps until an
// update arrives and never draws more often than targetFPS.
type frameScheduler struct {
	app          *tview.Application
	observe      func(time.Duration)
	minInterval  time.Duration
	drainTimeout time.Duration

	mu        sync.Mutex
	pending   map[string]func()
	lastFrame time.Time

	wake     chan struct{}
	quit     chan struct{}
	done     chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
}

// newFrameScheduler draws through app; a nil app runs updates inline, which
// tests rely on. observe receives each frame's apply time and may be nil.
func newFrameScheduler(app *tview.Application, targetFPS int, drainTimeout time.Duration, observe func(time.Duration)) *frameScheduler {
	if targetFPS <= 0 {
		targetFPS = 4
	}
	if drainTimeout <= 0 {
		drainTimeout = 100 * time.Millisecond
	}
	return &frameScheduler{
		app:          app,
		observe:      observe,
		minInterval:  time.Second / time.Duration(targetFPS),
		drainTimeout: drainTimeout,
		pending:      make(map[string]func()),
		wake:         make(chan struct{}, 1),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

func (f *frameScheduler) Start() {
	if f.started.CompareAndSwap(false, true) {
		go f.run()
	}
}

// Stop flushes what is pending and waits up to drainTimeout for the loop.
func (f *frameScheduler) Stop() {
	f.stopOnce.Do(func() {
		close(f.quit)
		if !f.started.Load() {
			return
		}
		select {
		case <-f.done:
		case <-time.After(f.drainTimeout):
		}
	})
}

func (f *frameScheduler) Schedule(region string, fn func()) {
	if f == nil {
		return
	}
	f.mu.Lock()
	f.pending[region] = fn
	f.mu.Unlock()
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *frameScheduler) run() {
	defer close(f.done)
	for {
		select {
		case <-f.quit:
			f.flush()
			return
		case <-f.wake:
		}
		if wait := f.untilNextFrame(); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-f.quit:
				timer.Stop()
				f.flush()
				return
			}
		}
		f.flush()
	}
}

func (f *frameScheduler) untilNextFrame() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastFrame.IsZero() {
		return 0
	}
	return time.Until(f.lastFrame.Add(f.minInterval))
}

// take empties the pending set in region order so a frame is reproducible.
func (f *frameScheduler) take() []func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return nil
	}
	regions := make([]string, 0, len(f.pending))
	for region := range f.pending {
		regions = append(regions, region)
	}
	sort.Strings(regions)
	batch := make([]func(), len(regions))
	for i, region := range regions {
		batch[i] = f.pending[region]
		delete(f.pending, region)
	}
	f.lastFrame = time.Now()
	return batch
}

func (f *frameScheduler) flush() {
	batch := f.take()
	if len(batch) == 0 {
		return
	}
	frame := func() {
		start := time.Now()
		for _, fn := range batch {
			fn()
		}
		if f.observe != nil {
			f.observe(time.Since(start))
		}
	}
	if f.app == nil {
		frame()
		return
	}
	f.app.QueueUpdateDraw(frame)
}
