package application

import (
	"context"
	"time"

	"github.com/meinzeug/autodevai-orchestrator/orchestrator-service/domain"
	"github.com/meinzeug/autodevai-orchestrator/shared/models"
	"github.com/pkg/errors"
)

// GetSagaQuery represents the query to get a saga
type GetSagaQuery struct {
	SagaID string `json:"saga_id"`
}

// SagaStepView is the external view of one step's progress
type SagaStepView struct {
	ID          string                  `json:"id"`
	ServiceType domain.ServiceType      `json:"service_type"`
	Result      *domain.OperationResult `json:"result,omitempty"`
}

// GetSagaResponse represents the saga status response
type GetSagaResponse struct {
	SagaID             string            `json:"saga_id"`
	Status             domain.SagaStatus `json:"status"`
	CurrentStep        int               `json:"current_step"`
	CancelRequested    bool              `json:"cancel_requested"`
	Steps              []SagaStepView    `json:"steps"`
	Error              string            `json:"error,omitempty"`
	CompensationErrors []string          `json:"compensation_errors,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// GetSaga use case returns the current state of a saga
type GetSaga struct {
	sagas domain.SagaRepository
}

// NewGetSaga creates a new GetSaga use case
func NewGetSaga(sagas domain.SagaRepository) *GetSaga {
	return &GetSaga{sagas: sagas}
}

// Execute executes the get saga query
func (uc *GetSaga) Execute(ctx context.Context, query *GetSagaQuery) (*GetSagaResponse, error) {
	sagaID, err := models.NewID(query.SagaID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid saga ID")
	}

	saga, err := uc.sagas.FindByID(ctx, sagaID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find saga")
	}
	if saga == nil {
		return nil, nil // Saga not found
	}

	steps := make([]SagaStepView, len(saga.Steps))
	for i, step := range saga.Steps {
		steps[i] = SagaStepView{
			ID:          step.ID,
			ServiceType: step.ServiceType,
			Result:      saga.Context[step.ID],
		}
	}

	return &GetSagaResponse{
		SagaID:             saga.ID.String(),
		Status:             saga.Status,
		CurrentStep:        saga.CurrentStep,
		CancelRequested:    saga.CancelRequested,
		Steps:              steps,
		Error:              saga.Error,
		CompensationErrors: saga.CompensationErrors,
		CreatedAt:          saga.Timestamps.CreatedAt,
		UpdatedAt:          saga.Timestamps.UpdatedAt,
	}, nil
}
