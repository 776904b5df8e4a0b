package ui

import (
	"sync"
	"time"
)

// ActivityKind tags a line on the activity page.
type ActivityKind int

const (
	ActivitySystem ActivityKind = iota
	ActivityExport
)

func (k ActivityKind) Label() string {
	switch k {
	case ActivitySystem:
		return "SYS"
	case ActivityExport:
		return "EXPORT"
	default:
		return "UNK"
	}
}

// ActivityEvent is one line of the activity page.
type ActivityEvent struct {
	Timestamp time.Time
	Kind      ActivityKind
	Message   string
}

// ActivityDrops counts lines the log refused or pushed out.
type ActivityDrops struct {
	Oversized uint64
	Evicted   uint64
}

// activityLog keeps the newest events within an event and byte budget. Add
// is called from log writers and export listeners; CopyInto from the render
// path.
type activityLog struct {
	maxEvents int
	maxBytes  int
	maxLine   int

	mu     sync.Mutex
	events []ActivityEvent
	bytes  int
	total  uint64
	drops  ActivityDrops
}

// newActivityLog bounds the log. A zero maxBytes or maxLine disables that
// limit.
func newActivityLog(maxEvents, maxBytes, maxLine int) *activityLog {
	return &activityLog{
		maxEvents: max(maxEvents, 1),
		maxBytes:  max(maxBytes, 0),
		maxLine:   maxLine,
		events:    make([]ActivityEvent, 0, max(maxEvents, 1)),
	}
}

// Add appends e, dropping the oldest events until it fits. It reports false
// when e alone is longer than the line limit.
func (l *activityLog) Add(e ActivityEvent) bool {
	if l == nil {
		return false
	}
	size := len(e.Message)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.maxLine > 0 && size > l.maxLine {
		l.drops.Oversized++
		return false
	}
	evict := max(len(l.events)+1-l.maxEvents, 0)
	if l.maxBytes > 0 {
		for freed := l.freedBy(evict); evict < len(l.events) && l.bytes-freed+size > l.maxBytes; evict++ {
			freed += len(l.events[evict].Message)
		}
	}
	if evict > 0 {
		l.bytes -= l.freedBy(evict)
		l.drops.Evicted += uint64(evict)
		l.events = append(l.events[:0], l.events[evict:]...)
	}
	l.events = append(l.events, e)
	l.bytes += size
	l.total++
	return true
}

func (l *activityLog) freedBy(n int) int {
	freed := 0
	for _, e := range l.events[:n] {
		freed += len(e.Message)
	}
	return freed
}

// CopyInto returns the retained events oldest first, reusing dst, and the
// number of events ever added.
func (l *activityLog) CopyInto(dst []ActivityEvent) ([]ActivityEvent, uint64) {
	if l == nil {
		return dst[:0], 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return append(dst[:0], l.events...), l.total
}

func (l *activityLog) Drops() ActivityDrops {
	if l == nil {
		return ActivityDrops{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drops
}
