package infrastructure

import (
	"context"
	"sort"
	"sync"

	"github.com/meinzeug/autodevai-orchestrator/orchestrator-service/domain"
	"github.com/meinzeug/autodevai-orchestrator/shared/models"
	"github.com/pkg/errors"
)

// MemorySagaRepository is an in-memory SagaRepository for development and
// tests. Checkpoints survive process restarts only with the Postgres
// implementation.
type MemorySagaRepository struct {
	mu    sync.RWMutex
	sagas map[models.ID]*domain.Saga
}

// NewMemorySagaRepository creates a new MemorySagaRepository
func NewMemorySagaRepository() *MemorySagaRepository {
	return &MemorySagaRepository{
		sagas: make(map[models.ID]*domain.Saga),
	}
}

// Save stores a snapshot of the saga. Writes carry the same optimistic
// locking guarantee as the Postgres implementation: a save built on a
// stale load is rejected instead of overwriting the newer record.
func (r *MemorySagaRepository) Save(ctx context.Context, saga *domain.Saga) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if stored, ok := r.sagas[saga.ID]; ok && saga.Version.Value != stored.Version.Value+1 {
		return errors.Errorf("saga %s was modified concurrently", saga.ID)
	}

	r.sagas[saga.ID] = snapshotSaga(saga)
	return nil
}

// FindByID returns the saga, or nil when unknown
func (r *MemorySagaRepository) FindByID(ctx context.Context, id models.ID) (*domain.Saga, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	saga, ok := r.sagas[id]
	if !ok {
		return nil, nil
	}
	loaded := snapshotSaga(saga)
	loaded.MarkLoaded()
	return loaded, nil
}

// FindByStatus returns sagas in the given status, oldest first
func (r *MemorySagaRepository) FindByStatus(ctx context.Context, status domain.SagaStatus) ([]*domain.Saga, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*domain.Saga
	for _, saga := range r.sagas {
		if saga.Status == status {
			loaded := snapshotSaga(saga)
			loaded.MarkLoaded()
			matched = append(matched, loaded)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Timestamps.CreatedAt.Before(matched[j].Timestamps.CreatedAt)
	})
	return matched, nil
}

func snapshotSaga(saga *domain.Saga) *domain.Saga {
	snapshot := *saga
	snapshot.ClearEvents()

	snapshot.Steps = make([]domain.SagaStep, len(saga.Steps))
	copy(snapshot.Steps, saga.Steps)

	snapshot.Compensations = make([]*domain.CompensationStep, len(saga.Compensations))
	copy(snapshot.Compensations, saga.Compensations)

	snapshot.Context = make(map[string]*domain.OperationResult, len(saga.Context))
	for stepID, result := range saga.Context {
		snapshot.Context[stepID] = result
	}

	snapshot.CompensationErrors = append([]string(nil), saga.CompensationErrors...)
	return &snapshot
}
