package domain

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to TaskStatus
		ok       bool
	}{
		{TaskPlanning, TaskExecuting, true},
		{TaskPlanning, TaskCancelled, true},
		{TaskPlanning, TaskPaused, true},
		{TaskExecuting, TaskCompleted, true},
		{TaskExecuting, TaskFailed, true},
		{TaskExecuting, TaskPaused, true},
		{TaskPaused, TaskExecuting, true},
		{TaskPaused, TaskCancelled, true},
		{TaskPlanning, TaskCompleted, false},
		{TaskCompleted, TaskFailed, false},
		{TaskCancelled, TaskExecuting, false},
		{TaskFailed, TaskCancelled, false},
	}
	for _, tt := range tests {
		err := tt.from.CanTransitionTo(tt.to)
		if tt.ok {
			assert.NoError(t, err, "%s -> %s", tt.from, tt.to)
		} else {
			assert.ErrorIs(t, err, ErrInvalidTaskTransition, "%s -> %s", tt.from, tt.to)
		}
	}
}

func TestStepRetryState(t *testing.T) {
	s := &TaskStep{ID: "step_0", Status: StepFailed, Error: "boom", MaxRetries: 2}
	require.True(t, s.CanRetry())

	s.ResetForRetry()
	assert.Equal(t, StepPending, s.Status)
	assert.Empty(t, s.Error)
	assert.Equal(t, 1, s.RetryCount)

	s.ResetForRetry()
	assert.False(t, s.CanRetry())
	assert.LessOrEqual(t, s.RetryCount, s.MaxRetries)
}

func TestProgressOnlyFullWhenAllStepsCompleted(t *testing.T) {
	task := &Task{Steps: []*TaskStep{
		{Status: StepCompleted},
		{Status: StepFailed},
	}}
	assert.InDelta(t, 0.5, task.Progress(), 1e-9)

	task.Steps[1].Status = StepCompleted
	assert.InDelta(t, 1.0, task.Progress(), 1e-9)

	assert.Zero(t, (&Task{}).Progress())
}

func TestProgressBoundsProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("progress stays in [0,1]", prop.ForAll(
		func(statuses []int) bool {
			task := &Task{}
			for _, s := range statuses {
				st := []StepStatus{StepPending, StepInProgress, StepCompleted, StepFailed, StepSkipped}[s%5]
				task.Steps = append(task.Steps, &TaskStep{Status: st})
			}
			p := task.Progress()
			return p >= 0 && p <= 1
		},
		gen.SliceOf(gen.IntRange(0, 4)),
	))

	properties.TestingRun(t)
}

func TestCloneIsIndependent(t *testing.T) {
	now := time.Now()
	task := &Task{
		ID:        "t1",
		Steps:     []*TaskStep{{ID: "step_0", Parameters: map[string]any{"path": "/tmp"}, StartedAt: &now}},
		Context:   map[string]any{"k": "v"},
		StartedAt: &now,
	}
	c := task.Clone()
	c.Steps[0].Status = StepCompleted
	c.Steps[0].Parameters["path"] = "/etc"
	c.Context["k"] = "x"

	assert.Equal(t, StepStatus(""), task.Steps[0].Status)
	assert.Equal(t, "/tmp", task.Steps[0].Parameters["path"])
	assert.Equal(t, "v", task.Context["k"])
}

func TestSkipRemaining(t *testing.T) {
	task := &Task{Steps: []*TaskStep{
		{ID: "step_0", Status: StepCompleted},
		{ID: "step_1", Status: StepFailed},
		{ID: "step_2", Status: StepPending},
		{ID: "step_3", Status: StepPending},
	}}

	assert.Equal(t, 2, task.SkipRemaining())
	assert.Equal(t, StepFailed, task.Steps[1].Status)
	assert.Equal(t, StepSkipped, task.Steps[2].Status)
	assert.Equal(t, StepSkipped, task.Steps[3].Status)
	assert.Equal(t, 0, task.SkipRemaining())
}
