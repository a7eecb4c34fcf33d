// Package buffer provides a bounded ring of recent bus frames.
package buffer

import (
	"sync"
	"time"

	"github.com/brandonphelps/rusty-pellets/internal/can"
)

// Entry is one traced bus frame.
type Entry struct {
	Time      time.Time     `json:"time"`
	Direction can.Direction `json:"direction"`
	Frame     can.Frame     `json:"frame"`
	Candump   string        `json:"candump"`
}

// FrameRing is a thread-safe circular buffer that keeps the most recent
// frames up to a fixed capacity. When the ring is full the oldest entry is
// overwritten.
//
// It implements can.Observer so it can be attached to a can.Tap.
type FrameRing struct {
	entries  []Entry
	start    int
	count    int
	capacity int
	mu       sync.RWMutex
}

// NewFrameRing creates a FrameRing with the given capacity.
// The capacity must be greater than 0; if not, it defaults to 1.
func NewFrameRing(capacity int) *FrameRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &FrameRing{
		entries:  make([]Entry, capacity),
		capacity: capacity,
	}
}

// ObserveFrame appends a frame to the ring.
func (r *FrameRing) ObserveFrame(dir can.Direction, at time.Time, f can.Frame) {
	r.Add(Entry{Time: at, Direction: dir, Frame: f, Candump: f.String()})
}

// Add appends e, discarding the oldest entry if the ring is full.
func (r *FrameRing) Add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count < r.capacity {
		r.entries[(r.start+r.count)%r.capacity] = e
		r.count++
		return
	}

	r.entries[r.start] = e
	r.start = (r.start + 1) % r.capacity
}

// Entries returns a copy of the buffered entries, oldest first.
func (r *FrameRing) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.count == 0 {
		return nil
	}

	out := make([]Entry, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.entries[(r.start+i)%r.capacity]
	}
	return out
}

// Last returns up to n of the newest entries, oldest first.
func (r *FrameRing) Last(n int) []Entry {
	all := r.Entries()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Clear removes all entries.
func (r *FrameRing) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.start = 0
	r.count = 0
}

// Len returns the number of buffered entries.
func (r *FrameRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.count
}

// Cap returns the capacity of the ring.
func (r *FrameRing) Cap() int {
	return r.capacity
}
