package execution

import (
	"sync"
	"sync/atomic"
)

// slotTable tracks running capacity: a counter of reserved slots and a
// registry of which execution ids currently occupy one. The counter and
// the registry stay consistent even in the window between reserving a
// slot and the scheduler recording the execution as running, so release
// by id works no matter which side of that window the caller is on.
//
// Reservation is a compare-and-swap loop, not check-then-increment: two
// concurrent drains can never both slip past the ceiling.
type slotTable struct {
	ceiling  int64
	reserved atomic.Int64

	mu       sync.Mutex
	occupied map[string]struct{}
}

func newSlotTable(ceiling int) *slotTable {
	return &slotTable{
		ceiling:  int64(ceiling),
		occupied: make(map[string]struct{}),
	}
}

// tryReserve atomically claims one slot if the count is below the ceiling
func (t *slotTable) tryReserve() bool {
	for {
		cur := t.reserved.Load()
		if cur >= t.ceiling {
			return false
		}
		if t.reserved.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// unreserve returns a slot claimed by tryReserve that was never bound to
// an execution (the wait list turned out to be empty)
func (t *slotTable) unreserve() {
	t.reserved.Add(-1)
}

// bind records the execution id as the occupant of a reserved slot
func (t *slotTable) bind(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.occupied[id] = struct{}{}
}

// release frees the slot bound to id. Idempotent: releasing an id that
// holds no slot is a no-op, so a cancel racing a natural completion frees
// the slot exactly once.
func (t *slotTable) release(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.occupied[id]; !ok {
		return false
	}
	delete(t.occupied, id)
	t.reserved.Add(-1)
	return true
}

func (t *slotTable) count() int {
	return int(t.reserved.Load())
}
