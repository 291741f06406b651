package application

import (
	"context"

	"github.com/meinzeug/autodevai-orchestrator/orchestrator-service/domain"
	"github.com/meinzeug/autodevai-orchestrator/shared/events"
	"github.com/meinzeug/autodevai-orchestrator/shared/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// CancelSagaCommand represents the command to cancel a saga
type CancelSagaCommand struct {
	SagaID string `json:"saga_id"`
}

// CancelSagaResponse represents the response after requesting cancellation
type CancelSagaResponse struct {
	SagaID string            `json:"saga_id"`
	Status domain.SagaStatus `json:"status"`
}

// CancelSaga use case flags a saga for cancellation. The orchestrator
// honors the flag at the next step or retry boundary; a step already in
// flight always runs to completion first.
type CancelSaga struct {
	sagas          domain.SagaRepository
	eventPublisher events.Publisher
}

// NewCancelSaga creates a new CancelSaga use case
func NewCancelSaga(sagas domain.SagaRepository, eventPublisher events.Publisher) *CancelSaga {
	return &CancelSaga{sagas: sagas, eventPublisher: eventPublisher}
}

// Execute executes the cancel saga command. The flag is written through
// a reload-apply-save loop: a checkpoint landing between the load and
// the save surfaces as a version conflict and the request is retried on
// a fresh copy instead of bubbling a conflict to the caller.
func (uc *CancelSaga) Execute(ctx context.Context, cmd *CancelSagaCommand) (*CancelSagaResponse, error) {
	sagaID, err := models.NewID(cmd.SagaID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid saga ID")
	}

	const maxSaveAttempts = 3

	var lastErr error
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		saga, err := uc.sagas.FindByID(ctx, sagaID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to find saga")
		}
		if saga == nil {
			return nil, nil // Saga not found
		}

		if saga.CancelRequested {
			return &CancelSagaResponse{SagaID: saga.ID.String(), Status: saga.Status}, nil
		}

		if err := saga.RequestCancellation(); err != nil {
			return nil, errors.Wrap(err, "cannot cancel saga")
		}

		if err := uc.sagas.Save(ctx, saga); err != nil {
			lastErr = err
			continue
		}

		if err := uc.eventPublisher.Publish(ctx, saga.Events()...); err != nil {
			log.Warn().Err(err).Str("saga_id", cmd.SagaID).Msg("failed to publish cancellation event")
		}
		saga.ClearEvents()

		log.Info().Str("saga_id", cmd.SagaID).Msg("saga cancellation requested")
		return &CancelSagaResponse{
			SagaID: saga.ID.String(),
			Status: saga.Status,
		}, nil
	}

	return nil, errors.Wrapf(lastErr, "failed to save saga %s", sagaID)
}
