// Package ringbuf implements the pre-trigger frame buffer: a fixed-capacity
// FIFO of the most recent FrameEvents, continuously refreshed from process
// start so a trigger can retrieve footage from before it fired.
package ringbuf

import (
	"sync"

	"imx296-capture/models"
)

// Ring is a bounded, single-producer/multi-consumer container of
// models.FrameEvent. Push is O(1); Snapshot is O(N) and runs under a short
// critical section to guarantee a point-in-time consistent view.
type Ring struct {
	mu       sync.Mutex
	buf      []models.FrameEvent
	capacity int
	head     int // index of the oldest element
	size     int
}

// New creates a Ring with the given fixed capacity.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{
		buf:      make([]models.FrameEvent, capacity),
		capacity: capacity,
	}
}

// Push inserts an event, evicting the oldest element if the ring is full.
// Never blocks.
func (r *Ring) Push(e models.FrameEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size < r.capacity {
		idx := (r.head + r.size) % r.capacity
		r.buf[idx] = e
		r.size++
		return
	}

	// Full: overwrite the oldest slot and advance head.
	r.buf[r.head] = e
	r.head = (r.head + 1) % r.capacity
}

// Snapshot returns a copy of the ring's current contents in frame-number
// ascending order. Does not clear the buffer.
func (r *Ring) Snapshot() []models.FrameEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.FrameEvent, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+i)%r.capacity]
	}
	return out
}

// Len returns the current number of elements held.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the fixed capacity.
func (r *Ring) Cap() int {
	return r.capacity
}

// OldestAge returns now - oldest element's capture time, in seconds. Returns
// 0 if the ring is empty.
func (r *Ring) OldestAge(now float64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size == 0 {
		return 0
	}
	return now - r.buf[r.head].CaptureTime
}
