package execution

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/colinzhu/jmeter-web-runner-sub000/errors"
	"github.com/colinzhu/jmeter-web-runner-sub000/runner"
)

// SubscriberChannelBufferSize is the buffer size for subscriber channels
const SubscriberChannelBufferSize = 100

// PlanStore is the slice of the artifact store the scheduler needs:
// existence checks at submission and path resolution at launch.
type PlanStore interface {
	Exists(id string) bool
	ResolvePath(id string) (string, error)
}

// ReportRegistry records where a completed execution's output landed and
// hands back the report artifact id.
type ReportRegistry interface {
	RegisterOutput(executionID string, outputDir string) (string, error)
}

// Runner executes one test plan per call and supports forceful
// termination by execution id.
type Runner interface {
	Execute(ctx context.Context, planPath string, executionID string) runner.Result
	Terminate(executionID string) bool
}

// Scheduler owns the execution state machine and the drive loop that
// keeps the queue moving. All execution mutation happens here, under one
// lock; the queue and the runner only return signals.
//
// Create, Cancel, Get and List are synchronous and return quickly; the
// blocking wait for JMeter happens in per-execution goroutines launched
// by Drain.
type Scheduler struct {
	queue   *Queue
	runner  Runner
	plans   PlanStore
	reports ReportRegistry
	ctx     context.Context
	log     *zap.SugaredLogger

	mu          sync.RWMutex
	executions  map[string]*Execution
	subscribers []chan *Execution
}

// NewScheduler creates a scheduler with the given concurrency ceiling.
// The context bounds every child process: cancelling it interrupts all
// in-flight runs during shutdown.
func NewScheduler(ctx context.Context, ceiling int, r Runner, plans PlanStore, reports ReportRegistry, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		queue:       NewQueue(ceiling),
		runner:      r,
		plans:       plans,
		reports:     reports,
		ctx:         ctx,
		log:         log.Named("scheduler"),
		executions:  make(map[string]*Execution),
		subscribers: make([]chan *Execution, 0),
	}
}

// Create validates the test plan exists, stores a new queued execution,
// enqueues it and triggers a drain. Returns the stored execution.
func (s *Scheduler) Create(planID string) (*Execution, error) {
	if !s.plans.Exists(planID) {
		return nil, errors.NewNotFoundError("test plan %s not found", planID)
	}

	e := NewExecution(planID)

	s.mu.Lock()
	s.executions[e.ID] = e
	s.mu.Unlock()

	s.queue.Enqueue(e.ID)
	position := s.queue.Position(e.ID)

	s.mu.Lock()
	// A concurrent drain may already have dequeued it; only record the
	// position while it is still waiting
	if e.Status == StatusQueued && position > 0 {
		e.QueuePosition = position
	}
	snapshot := s.snapshotLocked(e)
	s.mu.Unlock()

	s.log.Infow("Execution created",
		"execution_id", e.ID,
		"plan_id", planID,
		"queue_position", snapshot.QueuePosition)

	s.notify(snapshot)
	s.Drain()

	return snapshot, nil
}

// Drain dequeues as many executions as current capacity allows and
// launches each asynchronously. Not gated on HasCapacity: the slot
// reservation inside DequeueNext is the sole admission check, so a stale
// capacity read can never admit more work than allowed.
func (s *Scheduler) Drain() {
	for {
		id, ok := s.queue.DequeueNext()
		if !ok {
			return
		}
		go s.run(id)
	}
}

// run drives one dequeued execution to a terminal state. The deferred
// block releases the slot and re-drains no matter how the run ends -
// success, failure, cancellation or panic - so capacity cannot leak.
func (s *Scheduler) run(id string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("Execution run panicked", "execution_id", id, "panic", r)
			s.finish(id, func(e *Execution) { e.Fail(fmt.Sprintf("internal error: %v", r)) })
		}
		s.queue.MarkCompleted(id)
		s.Drain()
	}()

	s.mu.Lock()
	e, ok := s.executions[id]
	if !ok || e.Status != StatusQueued {
		// Cancelled between dequeue and start; the deferred release
		// frees the reserved slot
		s.mu.Unlock()
		s.log.Debugw("Skipping run of non-queued execution", "execution_id", id)
		return
	}
	e.Start()
	planID := e.PlanID
	snapshot := e.Clone()
	s.mu.Unlock()

	s.log.Infow("Execution started", "execution_id", id, "plan_id", planID)
	s.notify(snapshot)

	planPath, err := s.plans.ResolvePath(planID)
	if err != nil {
		s.finish(id, func(e *Execution) { e.Fail("test plan unavailable: " + err.Error()) })
		return
	}

	res := s.runner.Execute(s.ctx, planPath, id)

	if !res.OK() {
		s.finish(id, func(e *Execution) { e.Fail(res.ErrorMessage()) })
		return
	}

	reportID, err := s.reports.RegisterOutput(id, res.OutputDir())
	if err != nil {
		s.finish(id, func(e *Execution) { e.Fail("failed to register report: " + err.Error()) })
		return
	}
	s.finish(id, func(e *Execution) { e.Complete(reportID) })
}

// finish applies a terminal mutation only while the execution is still
// running. A cancellation that got there first wins; the late result is
// dropped rather than overwriting a terminal state.
func (s *Scheduler) finish(id string, mutate func(*Execution)) {
	s.mu.Lock()
	e, ok := s.executions[id]
	if !ok || e.Status != StatusRunning {
		s.mu.Unlock()
		s.log.Debugw("Dropping result for execution no longer running", "execution_id", id)
		return
	}
	mutate(e)
	snapshot := e.Clone()
	s.mu.Unlock()

	s.log.Infow("Execution finished",
		"execution_id", id,
		"status", snapshot.Status,
		"error", snapshot.Error)
	s.notify(snapshot)
}

// Cancel cancels a queued or running execution. Unknown ids fail with
// not-found; terminal executions fail with invalid-state and are left
// untouched.
func (s *Scheduler) Cancel(id string) (*Execution, error) {
	s.mu.Lock()
	e, ok := s.executions[id]
	if !ok {
		s.mu.Unlock()
		return nil, errors.NewNotFoundError("execution %s not found", id)
	}

	switch e.Status {
	case StatusQueued:
		removed := s.queue.Remove(id)
		e.Cancel("cancelled by user")
		snapshot := e.Clone()
		s.mu.Unlock()

		if !removed {
			// A concurrent drain already dequeued it; the in-flight run
			// observes the terminal state and releases the slot itself
			s.log.Debugw("Cancelled execution was already dequeued", "execution_id", id)
		}
		s.log.Infow("Execution cancelled while queued", "execution_id", id)
		s.notify(snapshot)
		return snapshot, nil

	case StatusRunning:
		s.mu.Unlock()

		// Best effort: a kill that fails or finds no process is logged,
		// never escalated - the user's intent is honored regardless
		if !s.runner.Terminate(id) {
			s.log.Warnw("No live process to terminate", "execution_id", id)
		}

		s.mu.Lock()
		e, ok = s.executions[id]
		if !ok || e.Status != StatusRunning {
			// Lost the race against completion or another cancel
			s.mu.Unlock()
			return nil, errors.NewInvalidStateError("execution %s is no longer cancellable", id)
		}
		e.Cancel("cancelled by user")
		snapshot := e.Clone()
		s.mu.Unlock()

		s.log.Infow("Execution cancelled while running", "execution_id", id)
		s.notify(snapshot)
		s.queue.CancelRunning(id)
		s.Drain()
		return snapshot, nil

	default:
		status := e.Status
		s.mu.Unlock()
		return nil, errors.NewInvalidStateError("execution %s is %s and cannot be cancelled", id, status)
	}
}

// Get returns a snapshot of the execution with the given id
func (s *Scheduler) Get(id string) (*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.executions[id]
	if !ok {
		return nil, errors.NewNotFoundError("execution %s not found", id)
	}
	return s.snapshotLocked(e), nil
}

// List returns snapshots of all executions in creation order
func (s *Scheduler) List() []*Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*Execution, 0, len(s.executions))
	for _, e := range s.executions {
		list = append(list, s.snapshotLocked(e))
	}
	// Ids carry a fixed-width creation timestamp, so lexical order is
	// creation order
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// ClearHistory deletes all terminal executions and returns the count
// removed. Queued and running executions are never touched.
func (s *Scheduler) ClearHistory() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.executions {
		if e.Status.Terminal() {
			delete(s.executions, id)
			removed++
		}
	}
	return removed
}

// Queue exposes the underlying queue for introspection
func (s *Scheduler) Queue() *Queue {
	return s.queue
}

// snapshotLocked clones an execution, overlaying the live queue position
// for queued records so positions renumber as earlier entries leave.
// REQUIRES: s.mu held (read or write).
func (s *Scheduler) snapshotLocked(e *Execution) *Execution {
	snapshot := e.Clone()
	if snapshot.Status == StatusQueued {
		snapshot.QueuePosition = s.queue.Position(snapshot.ID)
	}
	return snapshot
}

// Subscribe returns a channel receiving execution snapshots on every
// state change. The caller must Unsubscribe when done; the channel is
// buffered and slow subscribers miss updates rather than block the
// scheduler.
func (s *Scheduler) Subscribe() chan *Execution {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan *Execution, SubscriberChannelBufferSize)
	s.subscribers = append(s.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel. The channel is not closed
// here - callers own the channel lifecycle.
func (s *Scheduler) Unsubscribe(ch chan *Execution) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subscribers {
		if sub == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			return
		}
	}
}

// notify fans a snapshot out to all subscribers without blocking
func (s *Scheduler) notify(snapshot *Execution) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- snapshot:
		default:
			// Subscriber buffer full - skip
		}
	}
}
