package core

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeap_Order(t *testing.T) {
	h, err := NewHeap(DefaultTiebreakBits)
	require.NoError(t, err)

	for _, tm := range []int64{50, 10, 30} {
		require.NoError(t, h.Add(Event{Time: tm}, 0))
	}

	var got []int64
	for {
		ev, ok := h.RemoveEarliest()
		if !ok {
			break
		}
		got = append(got, ev.Time)
	}

	assert.Equal(t, []int64{10, 30, 50}, got)
}

func TestHeap_Empty(t *testing.T) {
	h, err := NewHeap(DefaultTiebreakBits)
	require.NoError(t, err)

	_, ok := h.RemoveEarliest()
	assert.False(t, ok)

	_, ok = h.PeekEarliestTime()
	assert.False(t, ok)
	assert.Equal(t, 0, h.Size())
}

func TestHeap_Bits(t *testing.T) {
	for _, bits := range []int{-1, 0, 7, 63, 64} {
		_, err := NewHeap(bits)
		assert.Equal(t, ErrTiebreakBits, err, "bits=%d", bits)
	}
	for _, bits := range []int{8, 16, 62} {
		h, err := NewHeap(bits)
		require.NoError(t, err, "bits=%d", bits)
		assert.Equal(t, bits, h.Bits())
	}
}

func TestHeap_TimeOverflow(t *testing.T) {
	h, err := NewHeap(62)
	require.NoError(t, err)

	assert.NoError(t, h.Add(Event{Time: 1}, 0))
	assert.Error(t, h.Add(Event{Time: 2}, 0))
	assert.Error(t, h.Add(Event{Time: -1}, 0))
	assert.Equal(t, 1, h.Size())
}

func TestHeap_Tiebreak(t *testing.T) {
	h, err := NewHeap(DefaultTiebreakBits)
	require.NoError(t, err)

	// same macroscopic time, order follows the tie-break value
	require.NoError(t, h.Add(Event{Time: 7, Pid: 2}, 2))
	require.NoError(t, h.Add(Event{Time: 7, Pid: 0}, 0))
	require.NoError(t, h.Add(Event{Time: 7, Pid: 1}, 1))
	require.NoError(t, h.Add(Event{Time: 6, Pid: 9}, 255))

	want := []int{9, 0, 1, 2}
	for _, pid := range want {
		ev, ok := h.RemoveEarliest()
		require.True(t, ok)
		assert.Equal(t, pid, ev.Pid)
	}
}

func TestHeap_GrowAndSize(t *testing.T) {
	h, err := NewHeapWithCapacity(DefaultTiebreakBits, 2)
	require.NoError(t, err)

	r := rand.New(rand.NewSource(1))
	inserted := 0
	removed := 0
	last := int64(-1)

	for round := 0; round < 50; round++ {
		for i := 0; i < 40; i++ {
			require.NoError(t, h.Add(Event{Time: last + 1 + r.Int63n(1000)}, r.Int63()))
			inserted++
		}
		for i := 0; i < 25; i++ {
			ev, ok := h.RemoveEarliest()
			require.True(t, ok)
			removed++
			if ev.Time < last {
				t.Fatalf("time went backwards: %d after %d", ev.Time, last)
			}
			last = ev.Time
		}
		assert.Equal(t, inserted-removed, h.Size())
	}

	capacity := h.Capacity()
	for h.Size() > 0 {
		ev, _ := h.RemoveEarliest()
		if ev.Time < last {
			t.Fatalf("time went backwards: %d after %d", ev.Time, last)
		}
		last = ev.Time
	}
	assert.Equal(t, capacity, h.Capacity(), "storage never shrinks")
}

func TestHeap_PeekEarliestTime(t *testing.T) {
	h, err := NewHeap(16)
	require.NoError(t, err)

	require.NoError(t, h.Add(Event{Time: 42}, 0xffff))
	require.NoError(t, h.Add(Event{Time: 43}, 0))

	tm, ok := h.PeekEarliestTime()
	require.True(t, ok)
	assert.Equal(t, int64(42), tm)
	assert.Equal(t, 2, h.Size())
}
