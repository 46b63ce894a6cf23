package execution

import (
	"sync"
)

// Queue holds the ordered set of waiting execution ids and enforces the
// running-count ceiling. It is the only place capacity is enforced, and
// the enforcement point is DequeueNext - submission always succeeds.
//
// Expected races (an id already dequeued, an already-released slot) are
// reported through return values, never errors.
type Queue struct {
	mu      sync.Mutex
	waiting []string
	slots   *slotTable
}

// NewQueue creates a queue with the given concurrency ceiling
func NewQueue(ceiling int) *Queue {
	if ceiling < 1 {
		ceiling = 1
	}
	return &Queue{slots: newSlotTable(ceiling)}
}

// Enqueue appends an execution id to the tail of the wait list.
// No capacity check: capacity is enforced at dequeue time.
func (q *Queue) Enqueue(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.waiting = append(q.waiting, id)
}

// Position returns the 1-based rank of id in the wait list, 0 if absent.
// Linear scan; wait lists stay small.
func (q *Queue) Position(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, waiting := range q.waiting {
		if waiting == id {
			return i + 1
		}
	}
	return 0
}

// HasCapacity reports whether a slot is currently free. Advisory only:
// by the time the caller acts the answer may be stale. DequeueNext is
// the authoritative admission check.
func (q *Queue) HasCapacity() bool {
	return q.slots.count() < int(q.slots.ceiling)
}

// DequeueNext atomically reserves a slot and pops the head of the wait
// list. Returns ("", false) when the ceiling is reached or the wait list
// is empty; an empty list releases the reservation again so capacity
// cannot leak. A successfully dequeued id is bound to its slot before
// DequeueNext returns, so MarkCompleted/CancelRunning free it correctly
// even if the scheduler has not yet recorded the execution as running.
func (q *Queue) DequeueNext() (string, bool) {
	if !q.slots.tryReserve() {
		return "", false
	}

	q.mu.Lock()
	if len(q.waiting) == 0 {
		q.mu.Unlock()
		q.slots.unreserve()
		return "", false
	}
	id := q.waiting[0]
	q.waiting = q.waiting[1:]
	q.slots.bind(id)
	q.mu.Unlock()

	return id, true
}

// Remove takes an id out of the wait list. Returns false when the id is
// not waiting - typically because a concurrent drain already dequeued
// it; callers treat that as "handle as already running", not an error.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, waiting := range q.waiting {
		if waiting == id {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			return true
		}
	}
	return false
}

// MarkCompleted releases the slot held by id once it finishes.
// No-op if the id holds no slot.
func (q *Queue) MarkCompleted(id string) {
	q.slots.release(id)
}

// CancelRunning releases the slot held by a cancelled execution.
// No-op if the id holds no slot.
func (q *Queue) CancelRunning(id string) {
	q.slots.release(id)
}

// RunningCount returns the number of currently reserved slots
func (q *Queue) RunningCount() int {
	return q.slots.count()
}

// QueuedCount returns the number of waiting execution ids
func (q *Queue) QueuedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}

// Ceiling returns the configured concurrency ceiling
func (q *Queue) Ceiling() int {
	return int(q.slots.ceiling)
}
