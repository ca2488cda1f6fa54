package core

import (
	"errors"
	"sync/atomic"
)

// ErrNotPow2 is returned when a ring capacity is not a power of two.
// Power-of-two capacities let index derivation use a mask instead of a
// modulo in the hot path.
var ErrNotPow2 = errors.New("ring capacity must be a power of two")

// Ring is a lock-free single-producer/single-consumer ring of Samples
// shared between the two cores. The producer owns head and overruns, the
// consumer owns tail; each cursor is written by exactly one side and read
// by the other. Atomic stores at the two publish points give the
// release/acquire ordering that the hardware memory barriers provide in
// the interrupt-driven original.
//
// When the ring is full the producer drops the oldest unread sample by
// advancing tail itself and counting an overrun. That write races with a
// consumer publishing its own tail; the overrun counter makes the loss
// visible and occupancy never exceeds capacity either way.
type Ring struct {
	capacity uint32
	mask     uint32

	head     atomic.Uint32 // producer publishes here after writing the slot
	tail     atomic.Uint32 // consumer publishes here after copying out
	overruns atomic.Uint32

	slots []Sample
}

// NewRing creates a ring with the given capacity. The capacity must be a
// power of two.
func NewRing(capacity uint32) (*Ring, error) {
	if capacity == 0 || capacity&(capacity-1) != 0 {
		return nil, ErrNotPow2
	}
	return &Ring{
		capacity: capacity,
		mask:     capacity - 1,
		slots:    make([]Sample, capacity),
	}, nil
}

// Cap returns the ring capacity in samples.
func (r *Ring) Cap() uint32 { return r.capacity }

// Len returns the current occupancy. Consumer-side diagnostic; the value
// is already stale when it returns.
func (r *Ring) Len() uint32 {
	return r.head.Load() - r.tail.Load()
}

// Overruns returns how many unread samples the producer has overwritten.
func (r *Ring) Overruns() uint32 { return r.overruns.Load() }

// Add appends one sample. Producer side only. Never fails and never
// blocks: when the ring is full the oldest unread sample is dropped
// before the new one is written.
func (r *Ring) Add(s Sample) {
	head := r.head.Load()
	tail := r.tail.Load()

	if head-tail >= r.capacity {
		// Full: drop oldest first so occupancy never exceeds capacity.
		r.tail.Store(tail + 1)
		r.overruns.Add(1)
	}

	r.slots[head&r.mask] = s

	// Publish. The atomic store orders the slot write before the new
	// head becomes visible to the consumer.
	r.head.Store(head + 1)
}

// Consume copies up to len(out) samples into out and returns the count
// copied. Consumer side only. Returns 0 immediately when nothing is
// available; never blocks and never allocates.
func (r *Ring) Consume(out []Sample) int {
	if len(out) == 0 {
		return 0
	}

	// Snapshot head once; the load orders all slot writes published
	// before it ahead of the copies below.
	head := r.head.Load()
	tail := r.tail.Load()

	available := head - tail
	if available == 0 {
		return 0
	}

	take := uint32(len(out))
	if take > available {
		take = available
	}

	// At most two linear copies when the region wraps.
	first := r.capacity - (tail & r.mask)
	if first > take {
		first = take
	}
	copy(out[:first], r.slots[tail&r.mask:(tail&r.mask)+first])
	if take > first {
		copy(out[first:take], r.slots[:take-first])
	}

	// Publish the new tail only after the copies are done.
	r.tail.Store(tail + take)
	return int(take)
}
