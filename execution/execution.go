// Package execution provides the load-test execution orchestration core:
// the admission-controlled FIFO queue, the execution state machine, and
// the scheduler that drives test plans through the external JMeter runner.
package execution

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of an execution
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal returns true for states that permit no further transition
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsValidStatus returns true if the status string is a valid Status
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Execution represents one request to run a test plan through JMeter.
//
// Executions live in memory for the lifetime of the process; queued and
// running work is lost on restart and must be resubmitted. Records are
// mutated only by the Scheduler - the queue and the runner return
// signals, they never write execution state.
type Execution struct {
	ID              string     `json:"id"`
	PlanID          string     `json:"plan_id"` // Uploaded test plan artifact this execution runs
	Status          Status     `json:"status"`
	QueuePosition   int        `json:"queue_position"` // 1-based rank while queued; 0 otherwise
	ReportID        string     `json:"report_id,omitempty"`
	Error           string     `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`
}

// NewExecution creates a new queued execution for the given test plan
func NewExecution(planID string) *Execution {
	return &Execution{
		ID:        newExecutionID(),
		PlanID:    planID,
		Status:    StatusQueued,
		CreatedAt: time.Now(),
	}
}

// newExecutionID generates a time-ordered, collision-resistant id.
// The fixed-width nanosecond prefix sorts ids in creation order (FIFO
// tie-breaking relies on this); the uuid fragment keeps concurrent
// creations from colliding.
func newExecutionID() string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("EX-%019d-%s", time.Now().UnixNano(), suffix)
}

// Start marks the execution as running
func (e *Execution) Start() {
	now := time.Now()
	e.Status = StatusRunning
	e.StartedAt = &now
	e.QueuePosition = 0
}

// Complete marks the execution as completed with its report artifact
func (e *Execution) Complete(reportID string) {
	e.Status = StatusCompleted
	e.ReportID = reportID
	e.finish()
}

// Fail marks the execution as failed with a human-readable reason
func (e *Execution) Fail(reason string) {
	e.Status = StatusFailed
	e.Error = reason
	e.finish()
}

// Cancel marks the execution as cancelled
func (e *Execution) Cancel(reason string) {
	e.Status = StatusCancelled
	e.Error = reason
	e.QueuePosition = 0
	e.finish()
}

// finish stamps completion time and, when the execution actually started,
// derives the duration. Cancelled-before-start leaves duration unset.
func (e *Execution) finish() {
	now := time.Now()
	e.CompletedAt = &now
	if e.StartedAt != nil {
		seconds := now.Sub(*e.StartedAt).Seconds()
		if seconds < 0 {
			seconds = 0
		}
		e.DurationSeconds = &seconds
	}
}

// Clone returns a copy safe to hand to callers while the scheduler keeps
// mutating the original
func (e *Execution) Clone() *Execution {
	clone := *e
	if e.StartedAt != nil {
		t := *e.StartedAt
		clone.StartedAt = &t
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		clone.CompletedAt = &t
	}
	if e.DurationSeconds != nil {
		d := *e.DurationSeconds
		clone.DurationSeconds = &d
	}
	return &clone
}
