package application

import (
	"context"
	"testing"

	"github.com/meinzeug/autodevai-orchestrator/orchestrator-service/domain"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSaga_Execute(t *testing.T) {
	fixture := newSagaFixture(t)
	sagaID := fixture.submit(t, threeStepCommand())
	getSaga := NewGetSaga(fixture.sagas)

	response, err := getSaga.Execute(context.Background(), &GetSagaQuery{SagaID: sagaID.String()})
	require.NoError(t, err)
	require.NotNil(t, response)

	assert.Equal(t, sagaID.String(), response.SagaID)
	assert.Equal(t, domain.SagaStatusPending, response.Status)
	assert.Equal(t, 0, response.CurrentStep)
	require.Len(t, response.Steps, 3)
	assert.Equal(t, "a", response.Steps[0].ID)
	assert.Nil(t, response.Steps[0].Result)
}

func TestGetSaga_ExecuteAfterRun(t *testing.T) {
	fixture := newSagaFixture(t)
	sagaID := fixture.submit(t, threeStepCommand())
	require.NoError(t, fixture.orchestrator.Run(context.Background(), sagaID))

	response, err := NewGetSaga(fixture.sagas).Execute(context.Background(), &GetSagaQuery{SagaID: sagaID.String()})
	require.NoError(t, err)
	require.NotNil(t, response)

	assert.Equal(t, domain.SagaStatusCompleted, response.Status)
	for _, step := range response.Steps {
		require.NotNil(t, step.Result, "step %s", step.ID)
		assert.True(t, step.Result.IsSuccess())
	}
}

func TestGetSaga_NotFound(t *testing.T) {
	fixture := newSagaFixture(t)

	response, err := NewGetSaga(fixture.sagas).Execute(context.Background(), &GetSagaQuery{
		SagaID: "4dc85273-9c1c-49ac-ba64-6fb0a7e2dbb0",
	})
	require.NoError(t, err)
	assert.Nil(t, response)
}

func TestGetSaga_InvalidID(t *testing.T) {
	fixture := newSagaFixture(t)

	_, err := NewGetSaga(fixture.sagas).Execute(context.Background(), &GetSagaQuery{SagaID: "not-a-uuid"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid saga ID")
}

func TestCancelSaga_Execute(t *testing.T) {
	fixture := newSagaFixture(t)
	sagaID := fixture.submit(t, threeStepCommand())
	cancelSaga := NewCancelSaga(fixture.sagas, fixture.publisher)

	response, err := cancelSaga.Execute(context.Background(), &CancelSagaCommand{SagaID: sagaID.String()})
	require.NoError(t, err)
	require.NotNil(t, response)
	assert.Equal(t, domain.SagaStatusPending, response.Status)

	saga := fixture.loadSaga(t, sagaID)
	assert.True(t, saga.CancelRequested)
	assert.Equal(t, 1, fixture.publisher.countOf("saga.cancellation.requested"))

	// A second request is a no-op, not an error
	_, err = cancelSaga.Execute(context.Background(), &CancelSagaCommand{SagaID: sagaID.String()})
	require.NoError(t, err)
}

func TestCancelSaga_TerminalSaga(t *testing.T) {
	fixture := newSagaFixture(t)
	sagaID := fixture.submit(t, threeStepCommand())
	require.NoError(t, fixture.orchestrator.Run(context.Background(), sagaID))

	_, err := NewCancelSaga(fixture.sagas, fixture.publisher).Execute(context.Background(), &CancelSagaCommand{
		SagaID: sagaID.String(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already completed")
}

func TestCancelSaga_NotFound(t *testing.T) {
	fixture := newSagaFixture(t)

	response, err := NewCancelSaga(fixture.sagas, fixture.publisher).Execute(context.Background(), &CancelSagaCommand{
		SagaID: "4dc85273-9c1c-49ac-ba64-6fb0a7e2dbb0",
	})
	require.NoError(t, err)
	assert.Nil(t, response)
}

func TestCancelSaga_HonoredAtNextBoundary(t *testing.T) {
	fixture := newSagaFixture(t)
	sagaID := fixture.submit(t, threeStepCommand())
	cancelSaga := NewCancelSaga(fixture.sagas, fixture.publisher)

	fixture.dispatcher.onDispatch = func(op *domain.Operation) {
		if op.Type == opWorkspaceCreate {
			_, err := cancelSaga.Execute(context.Background(), &CancelSagaCommand{SagaID: sagaID.String()})
			require.NoError(t, err)
		}
	}

	require.NoError(t, fixture.orchestrator.Run(context.Background(), sagaID))

	// Step a finished, step b never started, and a's undo ran
	assert.Equal(t, []domain.OperationType{opWorkspaceCreate, opWorkspaceDelete}, fixture.dispatcher.dispatchedTypes())

	saga := fixture.loadSaga(t, sagaID)
	assert.Equal(t, domain.SagaStatusFailed, saga.Status)
	assert.Equal(t, "saga canceled", saga.Error)
}

func TestCancelSaga_RetriesOnVersionConflict(t *testing.T) {
	fixture := newSagaFixture(t)
	sagaID := fixture.submit(t, threeStepCommand())

	// A checkpoint landing between the load and the save makes the first
	// write lose; the request must land on the retry, not surface a conflict
	repo := &conflictingSagaRepository{SagaRepository: fixture.sagas, conflicts: 1}
	response, err := NewCancelSaga(repo, fixture.publisher).Execute(context.Background(), &CancelSagaCommand{
		SagaID: sagaID.String(),
	})
	require.NoError(t, err)
	require.NotNil(t, response)

	saga := fixture.loadSaga(t, sagaID)
	assert.True(t, saga.CancelRequested)
	assert.Equal(t, 1, fixture.publisher.countOf("saga.cancellation.requested"))
}

func TestGetSaga_RepositoryError(t *testing.T) {
	failing := &failingSagaRepository{err: errors.New("store offline")}

	_, err := NewGetSaga(failing).Execute(context.Background(), &GetSagaQuery{
		SagaID: "4dc85273-9c1c-49ac-ba64-6fb0a7e2dbb0",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store offline")
}
