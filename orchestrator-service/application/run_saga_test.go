package application

import (
	"context"
	"testing"

	"github.com/meinzeug/autodevai-orchestrator/orchestrator-service/domain"
	"github.com/meinzeug/autodevai-orchestrator/orchestrator-service/infrastructure"
	"github.com/meinzeug/autodevai-orchestrator/shared/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	opWorkspaceCreate domain.OperationType = "workspace.create"
	opWorkspaceDelete domain.OperationType = "workspace.delete"
	opRepoClone       domain.OperationType = "repo.clone"
	opRepoCleanup     domain.OperationType = "repo.cleanup"
	opBuildRun        domain.OperationType = "build.run"
)

type sagaFixture struct {
	orchestrator *SagaOrchestrator
	sagas        *infrastructure.MemorySagaRepository
	dispatcher   *fakeDispatcher
	publisher    *capturingPublisher
}

func newSagaFixture(t *testing.T) *sagaFixture {
	t.Helper()

	router := NewBridgeRouter()
	bridge := newFakeBridge(opWorkspaceCreate, opWorkspaceDelete, opRepoClone, opRepoCleanup, opBuildRun)
	require.NoError(t, router.Register("workspace-manager", bridge))

	sagas := infrastructure.NewMemorySagaRepository()
	dispatcher := &fakeDispatcher{}
	publisher := &capturingPublisher{}

	return &sagaFixture{
		orchestrator: NewSagaOrchestrator(sagas, router, dispatcher, publisher),
		sagas:        sagas,
		dispatcher:   dispatcher,
		publisher:    publisher,
	}
}

func threeStepCommand() *SubmitSagaCommand {
	return &SubmitSagaCommand{
		Steps: []SagaStepInput{
			{
				ID:            "a",
				OperationType: string(opWorkspaceCreate),
				Parameters:    map[string]interface{}{"name": "build-42"},
				Compensation:  &CompensationInput{OperationType: string(opWorkspaceDelete)},
			},
			{
				ID:            "b",
				OperationType: string(opRepoClone),
				Compensation:  &CompensationInput{OperationType: string(opRepoCleanup)},
			},
			{
				ID:            "c",
				OperationType: string(opBuildRun),
			},
		},
	}
}

func (f *sagaFixture) submit(t *testing.T, cmd *SubmitSagaCommand) models.ID {
	t.Helper()
	resp, err := f.orchestrator.Submit(context.Background(), cmd)
	require.NoError(t, err)
	return models.ID(resp.SagaID)
}

func (f *sagaFixture) loadSaga(t *testing.T, sagaID models.ID) *domain.Saga {
	t.Helper()
	saga, err := f.sagas.FindByID(context.Background(), sagaID)
	require.NoError(t, err)
	require.NotNil(t, saga)
	return saga
}

func TestSagaOrchestrator_SubmitValidates(t *testing.T) {
	fixture := newSagaFixture(t)
	ctx := context.Background()

	tests := []struct {
		name          string
		cmd           *SubmitSagaCommand
		expectedError string
	}{
		{
			name:          "no steps",
			cmd:           &SubmitSagaCommand{},
			expectedError: "at least one step",
		},
		{
			name: "unroutable step",
			cmd: &SubmitSagaCommand{Steps: []SagaStepInput{
				{ID: "a", OperationType: "nobody.handles.this"},
			}},
			expectedError: "no bridge declares capability",
		},
		{
			name: "unroutable compensation",
			cmd: &SubmitSagaCommand{Steps: []SagaStepInput{
				{
					ID:            "a",
					OperationType: string(opWorkspaceCreate),
					Compensation:  &CompensationInput{OperationType: "nobody.handles.this"},
				},
			}},
			expectedError: `compensation for step "a"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fixture.orchestrator.Submit(ctx, tt.cmd)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectedError)
		})
	}
}

func TestSagaOrchestrator_SubmitStoresPendingSaga(t *testing.T) {
	fixture := newSagaFixture(t)

	sagaID := fixture.submit(t, threeStepCommand())

	saga := fixture.loadSaga(t, sagaID)
	assert.Equal(t, domain.SagaStatusPending, saga.Status)
	assert.Equal(t, 0, saga.CurrentStep)
	assert.Len(t, saga.Steps, 3)

	// Nothing runs until Run is called
	assert.Empty(t, fixture.dispatcher.dispatchedTypes())
}

func TestSagaOrchestrator_RunCompletes(t *testing.T) {
	fixture := newSagaFixture(t)
	sagaID := fixture.submit(t, threeStepCommand())

	require.NoError(t, fixture.orchestrator.Run(context.Background(), sagaID))

	saga := fixture.loadSaga(t, sagaID)
	assert.Equal(t, domain.SagaStatusCompleted, saga.Status)
	assert.Contains(t, saga.Context, "a")
	assert.Contains(t, saga.Context, "b")
	assert.Contains(t, saga.Context, "c")

	assert.Equal(t, []domain.OperationType{opWorkspaceCreate, opRepoClone, opBuildRun}, fixture.dispatcher.dispatchedTypes())

	assert.Equal(t, 1, fixture.publisher.countOf("saga.started"))
	assert.Equal(t, 3, fixture.publisher.countOf("saga.step.completed"))
	assert.Equal(t, 1, fixture.publisher.countOf("saga.completed"))
}

func TestSagaOrchestrator_FailureCompensatesInReverseOrder(t *testing.T) {
	fixture := newSagaFixture(t)
	fixture.dispatcher.respond = func(op *domain.Operation) (*domain.OperationResult, error) {
		if op.Type == opBuildRun {
			return nil, domain.NewInvalidOperationError("workspace-manager", errors.New("build script rejected"))
		}
		return domain.NewSuccessResult(op.ID, nil, 0), nil
	}

	sagaID := fixture.submit(t, threeStepCommand())
	require.NoError(t, fixture.orchestrator.Run(context.Background(), sagaID))

	// Executed steps are undone newest-first; step c never completed and
	// has no compensation to run
	assert.Equal(t, []domain.OperationType{
		opWorkspaceCreate, opRepoClone, opBuildRun,
		opRepoCleanup, opWorkspaceDelete,
	}, fixture.dispatcher.dispatchedTypes())

	saga := fixture.loadSaga(t, sagaID)
	assert.Equal(t, domain.SagaStatusFailed, saga.Status)
	assert.Contains(t, saga.Error, `step "c" failed`)
	assert.Contains(t, saga.Context, "a")
	assert.Contains(t, saga.Context, "b")
	assert.NotContains(t, saga.Context, "c")
	assert.Empty(t, saga.CompensationErrors)

	assert.Equal(t, 1, fixture.publisher.countOf("saga.compensating"))
	assert.Equal(t, 1, fixture.publisher.countOf("saga.failed"))
}

func TestSagaOrchestrator_RetriesTransientStepFailures(t *testing.T) {
	fixture := newSagaFixture(t)

	failures := 2
	fixture.dispatcher.respond = func(op *domain.Operation) (*domain.OperationResult, error) {
		if op.Type == opRepoClone && failures > 0 {
			failures--
			return nil, domain.NewBackendTimeoutError("workspace-manager", errors.New("deadline exceeded"))
		}
		return domain.NewSuccessResult(op.ID, nil, 0), nil
	}

	cmd := threeStepCommand()
	cmd.Steps[1].MaxAttempts = 3
	sagaID := fixture.submit(t, cmd)

	require.NoError(t, fixture.orchestrator.Run(context.Background(), sagaID))

	saga := fixture.loadSaga(t, sagaID)
	assert.Equal(t, domain.SagaStatusCompleted, saga.Status)
	assert.Equal(t, 3, fixture.dispatcher.countOf(opRepoClone))
}

func TestSagaOrchestrator_NonRetryableFailureAbortsImmediately(t *testing.T) {
	fixture := newSagaFixture(t)
	fixture.dispatcher.respond = func(op *domain.Operation) (*domain.OperationResult, error) {
		if op.Type == opRepoClone {
			return nil, domain.NewInvalidOperationError("workspace-manager", errors.New("no such repo"))
		}
		return domain.NewSuccessResult(op.ID, nil, 0), nil
	}

	cmd := threeStepCommand()
	cmd.Steps[1].MaxAttempts = 5
	sagaID := fixture.submit(t, cmd)

	require.NoError(t, fixture.orchestrator.Run(context.Background(), sagaID))

	// A caller error burns no further attempts
	assert.Equal(t, 1, fixture.dispatcher.countOf(opRepoClone))

	saga := fixture.loadSaga(t, sagaID)
	assert.Equal(t, domain.SagaStatusFailed, saga.Status)
}

func TestSagaOrchestrator_CompensationFailuresNeverStopTheWalk(t *testing.T) {
	fixture := newSagaFixture(t)
	fixture.dispatcher.respond = func(op *domain.Operation) (*domain.OperationResult, error) {
		switch op.Type {
		case opBuildRun:
			return nil, domain.NewInvalidOperationError("workspace-manager", errors.New("build script rejected"))
		case opRepoCleanup:
			return nil, errors.New("cleanup agent offline")
		default:
			return domain.NewSuccessResult(op.ID, nil, 0), nil
		}
	}

	sagaID := fixture.submit(t, threeStepCommand())
	require.NoError(t, fixture.orchestrator.Run(context.Background(), sagaID))

	// The failed cleanup did not stop the earlier step's undo
	assert.Equal(t, 1, fixture.dispatcher.countOf(opWorkspaceDelete))

	saga := fixture.loadSaga(t, sagaID)
	assert.Equal(t, domain.SagaStatusFailed, saga.Status)
	require.Len(t, saga.CompensationErrors, 1)
	assert.Contains(t, saga.CompensationErrors[0], "step b")
	assert.Contains(t, saga.CompensationErrors[0], "cleanup agent offline")

	assert.Equal(t, 1, fixture.publisher.countOf("saga.compensation.failed"))
}

func TestSagaOrchestrator_CancellationBeforeFirstStep(t *testing.T) {
	fixture := newSagaFixture(t)
	sagaID := fixture.submit(t, threeStepCommand())

	saga := fixture.loadSaga(t, sagaID)
	require.NoError(t, saga.RequestCancellation())
	require.NoError(t, fixture.sagas.Save(context.Background(), saga))

	require.NoError(t, fixture.orchestrator.Run(context.Background(), sagaID))

	// No step ever ran, so there is nothing to undo
	assert.Empty(t, fixture.dispatcher.dispatchedTypes())

	final := fixture.loadSaga(t, sagaID)
	assert.Equal(t, domain.SagaStatusFailed, final.Status)
	assert.Equal(t, "saga canceled", final.Error)
}

func TestSagaOrchestrator_CancellationBetweenSteps(t *testing.T) {
	fixture := newSagaFixture(t)
	sagaID := fixture.submit(t, threeStepCommand())

	// The cancellation request lands while step b is in flight; it is
	// honored after b completes, before c starts
	fixture.dispatcher.onDispatch = func(op *domain.Operation) {
		if op.Type != opRepoClone {
			return
		}
		saga := fixture.loadSaga(t, sagaID)
		require.NoError(t, saga.RequestCancellation())
		require.NoError(t, fixture.sagas.Save(context.Background(), saga))
	}

	require.NoError(t, fixture.orchestrator.Run(context.Background(), sagaID))

	assert.Equal(t, []domain.OperationType{
		opWorkspaceCreate, opRepoClone,
		opRepoCleanup, opWorkspaceDelete,
	}, fixture.dispatcher.dispatchedTypes())

	saga := fixture.loadSaga(t, sagaID)
	assert.Equal(t, domain.SagaStatusFailed, saga.Status)
	assert.Equal(t, "saga canceled", saga.Error)
	assert.Contains(t, saga.Context, "b")
	assert.NotContains(t, saga.Context, "c")
}

func TestSagaOrchestrator_RecoverResumesFromCheckpoint(t *testing.T) {
	fixture := newSagaFixture(t)
	sagaID := fixture.submit(t, threeStepCommand())

	// Simulate a crash after step a: the saga is running with its cursor
	// checkpointed at step b
	saga := fixture.loadSaga(t, sagaID)
	require.NoError(t, saga.Start())
	require.NoError(t, saga.RecordStepResult(0, domain.NewSuccessResult(saga.Steps[0].Operation.ID, nil, 0)))
	require.NoError(t, saga.Checkpoint(1))
	require.NoError(t, fixture.sagas.Save(context.Background(), saga))

	require.NoError(t, fixture.orchestrator.Recover(context.Background()))

	// Step a does not run again
	assert.Equal(t, []domain.OperationType{opRepoClone, opBuildRun}, fixture.dispatcher.dispatchedTypes())

	final := fixture.loadSaga(t, sagaID)
	assert.Equal(t, domain.SagaStatusCompleted, final.Status)
}

func TestSagaOrchestrator_RunUnknownSaga(t *testing.T) {
	fixture := newSagaFixture(t)

	err := fixture.orchestrator.Run(context.Background(), models.GenerateUUID())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
