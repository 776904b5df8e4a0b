// Package ratelimit throttles repetitive warnings, such as a misbehaving
// publisher flooding the live feed with unparsable payloads.
package ratelimit

import (
	"sync/atomic"
	"time"
)

// Counter counts events and admits at most one report per interval.
// It is safe for concurrent use; the zero value never throttles.
type Counter struct {
	interval time.Duration
	now      func() time.Time

	lastReport atomic.Int64
	total      atomic.Uint64
	sinceLast  atomic.Uint64
}

// NewCounter returns a counter reporting at most once per interval.
func NewCounter(interval time.Duration) *Counter {
	return &Counter{interval: interval, now: time.Now}
}

// Inc records one event. It returns the running total, the number of events
// suppressed since the previous admitted report, and whether the caller
// should report now.
func (c *Counter) Inc() (total, suppressed uint64, report bool) {
	if c == nil {
		return 0, 0, false
	}
	total = c.total.Add(1)
	if c.interval <= 0 {
		return total, 0, true
	}
	now := time.Now().UnixNano()
	if c.now != nil {
		now = c.now().UnixNano()
	}
	last := c.lastReport.Load()
	if last != 0 && now-last < c.interval.Nanoseconds() {
		c.sinceLast.Add(1)
		return total, 0, false
	}
	if !c.lastReport.CompareAndSwap(last, now) {
		c.sinceLast.Add(1)
		return total, 0, false
	}
	return total, c.sinceLast.Swap(0), true
}

// Total returns every event seen so far.
func (c *Counter) Total() uint64 {
	if c == nil {
		return 0
	}
	return c.total.Load()
}
