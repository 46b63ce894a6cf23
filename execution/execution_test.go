package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewExecutionStartsQueued(t *testing.T) {
	e := NewExecution("plan-1")

	assert.Equal(t, StatusQueued, e.Status)
	assert.Equal(t, "plan-1", e.PlanID)
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.CreatedAt.IsZero())
	assert.Nil(t, e.StartedAt)
	assert.Nil(t, e.CompletedAt)
	assert.Nil(t, e.DurationSeconds)
}

func TestExecutionIDsSortInCreationOrder(t *testing.T) {
	// Ids embed a fixed-width nanosecond timestamp; a later creation
	// must sort lexically after an earlier one.
	first := NewExecution("plan-1")
	time.Sleep(time.Microsecond)
	second := NewExecution("plan-1")

	assert.Less(t, first.ID, second.ID)
}

func TestExecutionIDsAreUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := newExecutionID()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusQueued, false},
		{StatusRunning, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusCancelled, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.terminal, tt.status.Terminal(), "status %s", tt.status)
	}
}

func TestIsValidStatus(t *testing.T) {
	assert.True(t, IsValidStatus("queued"))
	assert.True(t, IsValidStatus("cancelled"))
	assert.False(t, IsValidStatus("paused"))
	assert.False(t, IsValidStatus(""))
	assert.False(t, IsValidStatus("Queued"))
}

func TestStartClearsQueuePosition(t *testing.T) {
	e := NewExecution("plan-1")
	e.QueuePosition = 3

	e.Start()

	assert.Equal(t, StatusRunning, e.Status)
	assert.Equal(t, 0, e.QueuePosition)
	require.NotNil(t, e.StartedAt)
}

func TestCompleteRecordsReportAndDuration(t *testing.T) {
	e := NewExecution("plan-1")
	e.Start()

	e.Complete("report-9")

	assert.Equal(t, StatusCompleted, e.Status)
	assert.Equal(t, "report-9", e.ReportID)
	require.NotNil(t, e.CompletedAt)
	require.NotNil(t, e.DurationSeconds)
	assert.GreaterOrEqual(t, *e.DurationSeconds, 0.0)
}

func TestFailRecordsReason(t *testing.T) {
	e := NewExecution("plan-1")
	e.Start()

	e.Fail("jmeter exited with code 1")

	assert.Equal(t, StatusFailed, e.Status)
	assert.Equal(t, "jmeter exited with code 1", e.Error)
	require.NotNil(t, e.CompletedAt)
	require.NotNil(t, e.DurationSeconds)
}

func TestCancelBeforeStartLeavesDurationUnset(t *testing.T) {
	// An execution cancelled while still queued never ran, so there is
	// no duration to derive.
	e := NewExecution("plan-1")
	e.QueuePosition = 2

	e.Cancel("cancelled by user")

	assert.Equal(t, StatusCancelled, e.Status)
	assert.Equal(t, 0, e.QueuePosition)
	require.NotNil(t, e.CompletedAt)
	assert.Nil(t, e.DurationSeconds)
}

func TestCancelAfterStartDerivesDuration(t *testing.T) {
	e := NewExecution("plan-1")
	e.Start()

	e.Cancel("cancelled by user")

	assert.Equal(t, StatusCancelled, e.Status)
	require.NotNil(t, e.DurationSeconds)
	assert.GreaterOrEqual(t, *e.DurationSeconds, 0.0)
}

func TestCloneIsIndependent(t *testing.T) {
	e := NewExecution("plan-1")
	e.Start()
	e.Complete("report-1")

	clone := e.Clone()
	require.NotNil(t, clone.StartedAt)
	require.NotNil(t, clone.CompletedAt)
	require.NotNil(t, clone.DurationSeconds)

	// Mutating the clone's pointer fields must not touch the original
	*clone.DurationSeconds = 999
	clone.Status = StatusFailed

	assert.Equal(t, StatusCompleted, e.Status)
	assert.NotEqual(t, 999.0, *e.DurationSeconds)
}
