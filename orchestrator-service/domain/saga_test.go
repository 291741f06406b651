package domain

import (
	"testing"
	"time"

	"github.com/meinzeug/autodevai-orchestrator/shared/events"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeSteps(ids ...string) []SagaStep {
	steps := make([]SagaStep, len(ids))
	for i, id := range ids {
		steps[i] = SagaStep{
			ID:          id,
			ServiceType: ServiceTypeClaudeFlow,
			Operation:   NewOperation(OpSwarmInitialize, nil),
			Timeout:     5 * time.Second,
		}
	}
	return steps
}

func TestNewSaga(t *testing.T) {
	tests := []struct {
		name          string
		steps         []SagaStep
		compensations []*CompensationStep
		expectedError string
	}{
		{
			name:          "no steps",
			steps:         nil,
			expectedError: "at least one step",
		},
		{
			name:          "misaligned compensations",
			steps:         makeSteps("a", "b"),
			compensations: []*CompensationStep{nil},
			expectedError: "index-aligned",
		},
		{
			name:          "step without ID",
			steps:         makeSteps("a", ""),
			expectedError: "has no ID",
		},
		{
			name:          "duplicate step ID",
			steps:         makeSteps("a", "a"),
			expectedError: `duplicate step ID "a"`,
		},
		{
			name: "step without operation",
			steps: []SagaStep{
				{ID: "a", ServiceType: ServiceTypeClaudeFlow},
			},
			expectedError: "has no operation",
		},
		{
			name:  "valid saga",
			steps: makeSteps("a", "b"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saga, err := NewSaga(tt.steps, tt.compensations)

			if tt.expectedError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, SagaStatusPending, saga.Status)
			assert.Equal(t, 0, saga.CurrentStep)
			assert.Len(t, saga.Compensations, len(tt.steps))
			assert.False(t, saga.CancelRequested)
		})
	}
}

func TestNewSaga_AppliesDefaultRetryPolicy(t *testing.T) {
	steps := makeSteps("a", "b")
	steps[1].Retry = RetryPolicy{MaxAttempts: 3, Backoff: time.Second}

	saga, err := NewSaga(steps, nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultRetryPolicy(), saga.Steps[0].Retry)
	assert.Equal(t, 3, saga.Steps[1].Retry.MaxAttempts)
}

func TestSaga_Lifecycle(t *testing.T) {
	saga, err := NewSaga(makeSteps("a", "b"), nil)
	require.NoError(t, err)

	require.NoError(t, saga.Start())
	assert.Equal(t, SagaStatusRunning, saga.Status)

	// Starting twice is invalid
	require.Error(t, saga.Start())

	result := NewSuccessResult(saga.Steps[0].Operation.ID, map[string]interface{}{"swarm_id": "sw-1"}, time.Millisecond)
	require.NoError(t, saga.RecordStepResult(0, result))
	assert.Same(t, result, saga.Context["a"])

	require.NoError(t, saga.Checkpoint(1))
	assert.Equal(t, 1, saga.CurrentStep)

	require.NoError(t, saga.RecordStepResult(1, NewSuccessResult(saga.Steps[1].Operation.ID, nil, time.Millisecond)))
	require.NoError(t, saga.Complete())
	assert.Equal(t, SagaStatusCompleted, saga.Status)
	assert.True(t, saga.Status.IsTerminal())
}

func TestSaga_CheckpointNeverMovesBackwards(t *testing.T) {
	saga, err := NewSaga(makeSteps("a", "b", "c"), nil)
	require.NoError(t, err)
	require.NoError(t, saga.Start())
	require.NoError(t, saga.Checkpoint(2))

	err = saga.Checkpoint(1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot move backwards")

	require.Error(t, saga.Checkpoint(3))
}

func TestSaga_RecordStepResultRequiresCursorMatch(t *testing.T) {
	saga, err := NewSaga(makeSteps("a", "b"), nil)
	require.NoError(t, err)
	require.NoError(t, saga.Start())

	err = saga.RecordStepResult(1, NewSuccessResult(saga.Steps[1].Operation.ID, nil, 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cursor is at 0")
}

func TestSaga_CompensationPath(t *testing.T) {
	saga, err := NewSaga(makeSteps("a", "b"), nil)
	require.NoError(t, err)
	require.NoError(t, saga.Start())

	cause := errors.New("backend unreachable")
	require.NoError(t, saga.BeginCompensating(cause))
	assert.Equal(t, SagaStatusCompensating, saga.Status)
	assert.Equal(t, "backend unreachable", saga.Error)

	saga.RecordCompensationFailure("a", errors.New("undo rejected"))
	require.Len(t, saga.CompensationErrors, 1)
	assert.Contains(t, saga.CompensationErrors[0], "step a")

	require.NoError(t, saga.Fail())
	assert.Equal(t, SagaStatusFailed, saga.Status)

	// Compensating twice, or failing again, is invalid
	require.Error(t, saga.BeginCompensating(cause))
	require.Error(t, saga.Fail())
}

func TestSaga_FailOnlyFromCompensating(t *testing.T) {
	saga, err := NewSaga(makeSteps("a"), nil)
	require.NoError(t, err)
	require.NoError(t, saga.Start())

	require.Error(t, saga.Fail())
}

func TestSaga_RequestCancellation(t *testing.T) {
	saga, err := NewSaga(makeSteps("a", "b"), nil)
	require.NoError(t, err)

	require.NoError(t, saga.RequestCancellation())
	assert.True(t, saga.CancelRequested)

	// Idempotent: second request records no new event
	recorded := len(saga.Events())
	require.NoError(t, saga.RequestCancellation())
	assert.Len(t, saga.Events(), recorded)
}

func TestSaga_RequestCancellationOnTerminalSaga(t *testing.T) {
	saga, err := NewSaga(makeSteps("a"), nil)
	require.NoError(t, err)
	require.NoError(t, saga.Start())
	require.NoError(t, saga.RecordStepResult(0, NewSuccessResult(saga.Steps[0].Operation.ID, nil, 0)))
	require.NoError(t, saga.Complete())

	err = saga.RequestCancellation()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already completed")
}

func TestSaga_RecordsEvents(t *testing.T) {
	saga, err := NewSaga(makeSteps("a"), nil)
	require.NoError(t, err)

	require.NoError(t, saga.Start())
	require.NoError(t, saga.RecordStepResult(0, NewSuccessResult(saga.Steps[0].Operation.ID, nil, 0)))
	require.NoError(t, saga.Complete())

	recorded := saga.Events()
	require.Len(t, recorded, 3)
	assert.Equal(t, events.SagaStartedEvent, recorded[0].EventType)
	assert.Equal(t, events.SagaStepCompletedEvent, recorded[1].EventType)
	assert.Equal(t, events.SagaCompletedEvent, recorded[2].EventType)

	saga.ClearEvents()
	assert.Empty(t, saga.Events())
}
