package core

import (
	"errors"
	"fmt"
)

// MinTiebreakBits is the smallest number of low-order bits reserved for
// ordering events that share the same macroscopic time.
const MinTiebreakBits = 8

// DefaultTiebreakBits is used when the configuration does not say otherwise.
const DefaultTiebreakBits = 8

const initialHeapCapacity = 1024

var (
	// ErrTiebreakBits is returned by NewHeap when the number of tie-break bits
	// is out of range.
	ErrTiebreakBits = errors.New("tie-break bits must be in [8, 63)")

	// ErrTimeOverflow is returned by Heap.Add when a time does not fit in the
	// bits left after the tie-break bits.
	ErrTimeOverflow = errors.New("event time out of range")
)

// Event is a delivery scheduled at Time. A nil Node marks a Control event, in
// which case Pid is the index of the Control.
type Event struct {
	Time    int64
	Src     Address
	Node    *Node
	Pid     int
	Payload interface{}
}

// IsControl reports whether the event targets a Control rather than a Node.
func (e Event) IsControl() bool {
	return e.Node == nil
}

type heapEntry struct {
	key   int64
	event Event
}

// Heap is a binary min-heap of events ordered by encoded time. The encoded time
// is the event time shifted left by the number of tie-break bits, OR'd with a
// tie-break value. Heap is not safe for concurrent use; the engines guard it.
type Heap struct {
	// 1-based; entries[0] is unused
	entries []heapEntry
	size    int
	bits    uint
	mask    int64
	maxTime int64
}

// NewHeap creates an empty Heap using the given number of tie-break bits.
func NewHeap(bits int) (*Heap, error) {
	return NewHeapWithCapacity(bits, initialHeapCapacity)
}

// NewHeapWithCapacity is NewHeap with an explicit initial capacity.
func NewHeapWithCapacity(bits int, capacity int) (*Heap, error) {
	if bits < MinTiebreakBits || bits >= 63 {
		return nil, ErrTiebreakBits
	}
	if capacity < 1 {
		capacity = 1
	}
	return &Heap{
		entries: make([]heapEntry, capacity+1),
		bits:    uint(bits),
		mask:    int64(1)<<uint(bits) - 1,
		maxTime: int64(1)<<uint(63-bits) - 1,
	}, nil
}

// Bits returns the number of tie-break bits.
func (h *Heap) Bits() int {
	return int(h.bits)
}

// Size returns the number of events in the heap.
func (h *Heap) Size() int {
	return h.size
}

// Capacity returns the length of the backing storage.
func (h *Heap) Capacity() int {
	return len(h.entries) - 1
}

// Add inserts an event. Only the low bits of tiebreak are used.
func (h *Heap) Add(ev Event, tiebreak int64) error {
	if ev.Time < 0 || ev.Time > h.maxTime {
		return fmt.Errorf("%w: %d", ErrTimeOverflow, ev.Time)
	}

	h.size++
	if h.size >= len(h.entries) {
		grown := make([]heapEntry, 2*len(h.entries))
		copy(grown, h.entries)
		h.entries = grown
	}

	h.entries[h.size] = heapEntry{
		key:   ev.Time<<h.bits | (tiebreak & h.mask),
		event: ev,
	}
	h.up(h.size)

	return nil
}

// RemoveEarliest removes and returns the event with the smallest encoded
// time. The boolean is false when the heap is empty.
func (h *Heap) RemoveEarliest() (Event, bool) {
	if h.size == 0 {
		return Event{}, false
	}

	ev := h.entries[1].event
	h.entries[1] = h.entries[h.size]
	h.entries[h.size] = heapEntry{}
	h.size--
	if h.size > 1 {
		h.down(1)
	}

	return ev, true
}

// PeekEarliestTime returns the time of the earliest event without removing it.
func (h *Heap) PeekEarliestTime() (int64, bool) {
	if h.size == 0 {
		return 0, false
	}
	return h.entries[1].key >> h.bits, true
}

func (h *Heap) up(i int) {
	for i > 1 {
		parent := i / 2
		if h.entries[parent].key <= h.entries[i].key {
			return
		}
		h.entries[parent], h.entries[i] = h.entries[i], h.entries[parent]
		i = parent
	}
}

func (h *Heap) down(i int) {
	for {
		smallest := i
		left, right := 2*i, 2*i+1
		if left <= h.size && h.entries[left].key < h.entries[smallest].key {
			smallest = left
		}
		if right <= h.size && h.entries[right].key < h.entries[smallest].key {
			smallest = right
		}
		if smallest == i {
			return
		}
		h.entries[smallest], h.entries[i] = h.entries[i], h.entries[smallest]
		i = smallest
	}
}
