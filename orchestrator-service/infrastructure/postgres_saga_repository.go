package infrastructure

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/meinzeug/autodevai-orchestrator/orchestrator-service/domain"
	"github.com/meinzeug/autodevai-orchestrator/shared/models"
	"github.com/pkg/errors"
)

// PostgresSagaRepository implements SagaRepository using PostgreSQL.
// Steps, compensations and the accumulated context are stored as JSONB;
// writes use optimistic locking on the version column so a stale
// orchestrator never overwrites a newer checkpoint.
type PostgresSagaRepository struct {
	db *sqlx.DB
}

// NewPostgresSagaRepository creates a new PostgresSagaRepository
func NewPostgresSagaRepository(db *sqlx.DB) *PostgresSagaRepository {
	return &PostgresSagaRepository{db: db}
}

// postgresSaga represents a saga record in the database
type postgresSaga struct {
	ID                 string          `db:"id"`
	Steps              json.RawMessage `db:"steps"`
	Compensations      json.RawMessage `db:"compensations"`
	CurrentStep        int             `db:"current_step"`
	Status             string          `db:"status"`
	Context            json.RawMessage `db:"context"`
	CancelRequested    bool            `db:"cancel_requested"`
	Error              sql.NullString  `db:"error"`
	CompensationErrors pq.StringArray  `db:"compensation_errors"`
	CreatedAt          time.Time       `db:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at"`
	Version            int             `db:"version"`
}

// Save persists the saga. A version of 1 inserts; anything newer updates
// guarded by the previous version.
func (r *PostgresSagaRepository) Save(ctx context.Context, saga *domain.Saga) error {
	pgSaga, err := r.toPostgres(saga)
	if err != nil {
		return err
	}

	if saga.Version.Value == 1 {
		return r.insertSaga(ctx, pgSaga)
	}
	return r.updateSaga(ctx, pgSaga)
}

func (r *PostgresSagaRepository) insertSaga(ctx context.Context, pgSaga *postgresSaga) error {
	query := `
		INSERT INTO sagas (
			id, steps, compensations, current_step, status, context,
			cancel_requested, error, compensation_errors,
			created_at, updated_at, version
		) VALUES (
			:id, :steps, :compensations, :current_step, :status, :context,
			:cancel_requested, :error, :compensation_errors,
			:created_at, :updated_at, :version
		)`

	_, err := r.db.NamedExecContext(ctx, query, pgSaga)
	if err != nil {
		return errors.Wrap(err, "failed to insert saga")
	}

	return nil
}

func (r *PostgresSagaRepository) updateSaga(ctx context.Context, pgSaga *postgresSaga) error {
	query := `
		UPDATE sagas
		SET current_step = :current_step, status = :status, context = :context,
			cancel_requested = :cancel_requested, error = :error,
			compensation_errors = :compensation_errors,
			updated_at = :updated_at, version = :version
		WHERE id = :id AND version = :old_version`

	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":                  pgSaga.ID,
		"current_step":        pgSaga.CurrentStep,
		"status":              pgSaga.Status,
		"context":             pgSaga.Context,
		"cancel_requested":    pgSaga.CancelRequested,
		"error":               pgSaga.Error,
		"compensation_errors": pgSaga.CompensationErrors,
		"updated_at":          pgSaga.UpdatedAt,
		"version":             pgSaga.Version,
		"old_version":         pgSaga.Version - 1, // Optimistic locking
	})
	if err != nil {
		return errors.Wrap(err, "failed to update saga")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read update result")
	}
	if affected == 0 {
		return errors.Errorf("saga %s was modified concurrently", pgSaga.ID)
	}

	return nil
}

// FindByID finds a saga by ID
func (r *PostgresSagaRepository) FindByID(ctx context.Context, id models.ID) (*domain.Saga, error) {
	query := `
		SELECT id, steps, compensations, current_step, status, context,
			   cancel_requested, error, compensation_errors,
			   created_at, updated_at, version
		FROM sagas
		WHERE id = $1`

	var pgSaga postgresSaga
	err := r.db.GetContext(ctx, &pgSaga, query, id.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Saga not found
		}
		return nil, errors.Wrap(err, "failed to find saga")
	}

	return r.toDomain(&pgSaga)
}

// FindByStatus finds sagas in the given status, oldest first
func (r *PostgresSagaRepository) FindByStatus(ctx context.Context, status domain.SagaStatus) ([]*domain.Saga, error) {
	query := `
		SELECT id, steps, compensations, current_step, status, context,
			   cancel_requested, error, compensation_errors,
			   created_at, updated_at, version
		FROM sagas
		WHERE status = $1
		ORDER BY created_at ASC`

	var pgSagas []postgresSaga
	err := r.db.SelectContext(ctx, &pgSagas, query, string(status))
	if err != nil {
		return nil, errors.Wrap(err, "failed to find sagas by status")
	}

	sagas := make([]*domain.Saga, len(pgSagas))
	for i := range pgSagas {
		saga, err := r.toDomain(&pgSagas[i])
		if err != nil {
			return nil, err
		}
		sagas[i] = saga
	}

	return sagas, nil
}

// toPostgres converts domain saga to postgres model
func (r *PostgresSagaRepository) toPostgres(saga *domain.Saga) (*postgresSaga, error) {
	steps, err := json.Marshal(saga.Steps)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode saga steps")
	}

	compensations, err := json.Marshal(saga.Compensations)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode saga compensations")
	}

	sagaContext, err := json.Marshal(saga.Context)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode saga context")
	}

	var sagaError sql.NullString
	if saga.Error != "" {
		sagaError = sql.NullString{String: saga.Error, Valid: true}
	}

	return &postgresSaga{
		ID:                 saga.ID.String(),
		Steps:              steps,
		Compensations:      compensations,
		CurrentStep:        saga.CurrentStep,
		Status:             string(saga.Status),
		Context:            sagaContext,
		CancelRequested:    saga.CancelRequested,
		Error:              sagaError,
		CompensationErrors: saga.CompensationErrors,
		CreatedAt:          saga.Timestamps.CreatedAt,
		UpdatedAt:          saga.Timestamps.UpdatedAt,
		Version:            saga.Version.Value,
	}, nil
}

// toDomain converts postgres model to domain saga
func (r *PostgresSagaRepository) toDomain(pgSaga *postgresSaga) (*domain.Saga, error) {
	id, err := models.NewID(pgSaga.ID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid saga ID")
	}

	var steps []domain.SagaStep
	if err := json.Unmarshal(pgSaga.Steps, &steps); err != nil {
		return nil, errors.Wrap(err, "failed to decode saga steps")
	}

	var compensations []*domain.CompensationStep
	if err := json.Unmarshal(pgSaga.Compensations, &compensations); err != nil {
		return nil, errors.Wrap(err, "failed to decode saga compensations")
	}

	sagaContext := make(map[string]*domain.OperationResult)
	if len(pgSaga.Context) > 0 {
		if err := json.Unmarshal(pgSaga.Context, &sagaContext); err != nil {
			return nil, errors.Wrap(err, "failed to decode saga context")
		}
	}

	saga := &domain.Saga{
		ID:                 id,
		Steps:              steps,
		Compensations:      compensations,
		CurrentStep:        pgSaga.CurrentStep,
		Status:             domain.SagaStatus(pgSaga.Status),
		Context:            sagaContext,
		CancelRequested:    pgSaga.CancelRequested,
		Error:              pgSaga.Error.String,
		CompensationErrors: pgSaga.CompensationErrors,
		Timestamps: models.Timestamps{
			CreatedAt: pgSaga.CreatedAt,
			UpdatedAt: pgSaga.UpdatedAt,
		},
		Version: models.Version{Value: pgSaga.Version},
	}
	saga.MarkLoaded()
	return saga, nil
}
