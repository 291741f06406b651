package infrastructure

import (
	"context"
	"testing"

	"github.com/meinzeug/autodevai-orchestrator/orchestrator-service/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storedSaga(t *testing.T, repo *MemorySagaRepository) *domain.Saga {
	t.Helper()

	steps := []domain.SagaStep{
		{ID: "a", Operation: domain.NewOperation("workspace.create", nil)},
		{ID: "b", Operation: domain.NewOperation("repo.clone", nil)},
	}
	saga, err := domain.NewSaga(steps, nil)
	require.NoError(t, err)
	require.NoError(t, repo.Save(context.Background(), saga))
	return saga
}

func TestMemorySagaRepository_SaveAndFindByID(t *testing.T) {
	repo := NewMemorySagaRepository()
	saga := storedSaga(t, repo)

	loaded, err := repo.FindByID(context.Background(), saga.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, saga.ID, loaded.ID)
	assert.Equal(t, domain.SagaStatusPending, loaded.Status)

	unknown, err := repo.FindByID(context.Background(), "4dc85273-9c1c-49ac-ba64-6fb0a7e2dbb0")
	require.NoError(t, err)
	assert.Nil(t, unknown)
}

func TestMemorySagaRepository_SequentialMutationsSave(t *testing.T) {
	repo := NewMemorySagaRepository()
	saga := storedSaga(t, repo)

	loaded, err := repo.FindByID(context.Background(), saga.ID)
	require.NoError(t, err)
	require.NoError(t, loaded.Start())
	require.NoError(t, repo.Save(context.Background(), loaded))

	loaded, err = repo.FindByID(context.Background(), saga.ID)
	require.NoError(t, err)
	require.NoError(t, loaded.RecordStepResult(0, domain.NewSuccessResult(loaded.Steps[0].Operation.ID, nil, 0)))
	require.NoError(t, loaded.Checkpoint(1))
	require.NoError(t, repo.Save(context.Background(), loaded))

	loaded, err = repo.FindByID(context.Background(), saga.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.CurrentStep)
	assert.Contains(t, loaded.Context, "a")
}

func TestMemorySagaRepository_StaleWriteRejected(t *testing.T) {
	repo := NewMemorySagaRepository()
	saga := storedSaga(t, repo)

	canceling, err := repo.FindByID(context.Background(), saga.ID)
	require.NoError(t, err)
	stale, err := repo.FindByID(context.Background(), saga.ID)
	require.NoError(t, err)

	require.NoError(t, canceling.RequestCancellation())
	require.NoError(t, repo.Save(context.Background(), canceling))

	// The second copy was loaded before the cancellation landed; letting
	// its save through would erase the flag.
	require.NoError(t, stale.Start())
	err = repo.Save(context.Background(), stale)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "modified concurrently")

	loaded, err := repo.FindByID(context.Background(), saga.ID)
	require.NoError(t, err)
	assert.True(t, loaded.CancelRequested)
	assert.Equal(t, domain.SagaStatusPending, loaded.Status)
}

func TestMemorySagaRepository_FindByStatus(t *testing.T) {
	repo := NewMemorySagaRepository()
	first := storedSaga(t, repo)
	second := storedSaga(t, repo)

	running, err := repo.FindByID(context.Background(), second.ID)
	require.NoError(t, err)
	require.NoError(t, running.Start())
	require.NoError(t, repo.Save(context.Background(), running))

	pending, err := repo.FindByStatus(context.Background(), domain.SagaStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, first.ID, pending[0].ID)

	active, err := repo.FindByStatus(context.Background(), domain.SagaStatusRunning)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)
}
