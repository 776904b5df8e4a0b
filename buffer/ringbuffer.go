// Package buffer keeps the most recent live samples of one chart series.
// Each slot stores an atomic pointer so readers either see a complete sample
// or the previous one, never a partially written value; MQTT callbacks can
// publish while the UI draws without a shared lock.
package buffer

import (
	"sync/atomic"
	"time"
)

// Sample is one live reading for a unit.
type Sample struct {
	Seq   uint64 // assigned by Add, 1-based
	Unit  string
	At    time.Time
	Value float64
}

// RingBuffer is a thread-safe circular buffer of samples. Writers atomically
// publish completed *Sample values; readers walk backwards from the newest
// sequence number.
type RingBuffer struct {
	slots    []atomic.Pointer[Sample]
	capacity int
	total    atomic.Uint64 // samples ever added (may exceed capacity)
}

// NewRingBuffer allocates a ring of the given capacity (minimum 1).
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{
		slots:    make([]atomic.Pointer[Sample], capacity),
		capacity: capacity,
	}
}

// Add stores a copy of s, stamping it with the next sequence number.
func (rb *RingBuffer) Add(s Sample) uint64 {
	seq := rb.total.Add(1)
	s.Seq = seq
	idx := (seq - 1) % uint64(rb.capacity)
	rb.slots[idx].Store(&s)
	return seq
}

// Recent returns up to n samples, newest first. The sequence check skips slots
// overwritten by a concurrent writer after wraparound.
func (rb *RingBuffer) Recent(n int) []Sample {
	if n <= 0 {
		return nil
	}
	total := rb.total.Load()
	available := int(total)
	if available > rb.capacity {
		available = rb.capacity
	}
	if n > available {
		n = available
	}
	result := make([]Sample, 0, n)
	floor := total - uint64(available)
	for seq := total; seq > floor && len(result) < n; seq-- {
		if sp := rb.slots[(seq-1)%uint64(rb.capacity)].Load(); sp != nil && sp.Seq == seq {
			result = append(result, *sp)
		}
	}
	return result
}

// Since returns retained samples at or after cutoff in chronological order,
// which is the order a chart plots them.
func (rb *RingBuffer) Since(cutoff time.Time) []Sample {
	recent := rb.Recent(rb.capacity)
	out := make([]Sample, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		if cutoff.IsZero() || !recent[i].At.Before(cutoff) {
			out = append(out, recent[i])
		}
	}
	return out
}

// Latest returns the newest sample.
func (rb *RingBuffer) Latest() (Sample, bool) {
	r := rb.Recent(1)
	if len(r) == 0 {
		return Sample{}, false
	}
	return r[0], true
}

// Count returns the number of samples ever added.
func (rb *RingBuffer) Count() uint64 {
	return rb.total.Load()
}

// Capacity returns the retained sample bound.
func (rb *RingBuffer) Capacity() int {
	return rb.capacity
}
