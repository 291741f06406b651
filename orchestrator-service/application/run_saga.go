package application

import (
	"context"
	"time"

	"github.com/meinzeug/autodevai-orchestrator/orchestrator-service/domain"
	"github.com/meinzeug/autodevai-orchestrator/shared/backoff"
	"github.com/meinzeug/autodevai-orchestrator/shared/events"
	"github.com/meinzeug/autodevai-orchestrator/shared/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// OperationDispatcher runs one operation through the routing, breaker and
// load balancing pipeline. Satisfied by ExecuteOperation.
type OperationDispatcher interface {
	Dispatch(ctx context.Context, op *domain.Operation) (*domain.OperationResult, error)
}

// errSagaCanceled is the compensation cause when a cancellation request
// is honored between steps or between retries.
var errSagaCanceled = errors.New("saga canceled")

// SagaStepInput describes one forward step in a saga submission
type SagaStepInput struct {
	ID            string                 `json:"id"`
	OperationType string                 `json:"operation_type"`
	Parameters    map[string]interface{} `json:"parameters"`
	Context       map[string]string      `json:"context,omitempty"`
	TimeoutMS     int64                  `json:"timeout_ms,omitempty"`
	MaxAttempts   int                    `json:"max_attempts,omitempty"`
	BackoffMS     int64                  `json:"backoff_ms,omitempty"`
	Compensation  *CompensationInput     `json:"compensation,omitempty"`
}

// CompensationInput describes the undo operation for one step
type CompensationInput struct {
	OperationType string                 `json:"operation_type"`
	Parameters    map[string]interface{} `json:"parameters"`
}

// SubmitSagaCommand represents the command to submit a saga
type SubmitSagaCommand struct {
	Steps []SagaStepInput `json:"steps"`
}

// SubmitSagaResponse represents the response after submitting a saga
type SubmitSagaResponse struct {
	SagaID string `json:"saga_id"`
}

// SagaOrchestrator drives sagas: strictly sequential forward execution
// with a durable checkpoint after every transition, per-step retries, and
// reverse-order best-effort compensation on failure or cancellation.
type SagaOrchestrator struct {
	sagas      domain.SagaRepository
	router     *BridgeRouter
	dispatcher OperationDispatcher
	publisher  events.Publisher
}

// NewSagaOrchestrator creates a new SagaOrchestrator
func NewSagaOrchestrator(
	sagas domain.SagaRepository,
	router *BridgeRouter,
	dispatcher OperationDispatcher,
	publisher events.Publisher,
) *SagaOrchestrator {
	return &SagaOrchestrator{
		sagas:      sagas,
		router:     router,
		dispatcher: dispatcher,
		publisher:  publisher,
	}
}

// Submit validates and persists a new saga in pending status. Execution
// is a separate concern; the caller decides when Run happens.
func (o *SagaOrchestrator) Submit(ctx context.Context, cmd *SubmitSagaCommand) (*SubmitSagaResponse, error) {
	steps, compensations, err := o.buildSteps(cmd)
	if err != nil {
		return nil, err
	}

	saga, err := domain.NewSaga(steps, compensations)
	if err != nil {
		return nil, errors.Wrap(err, "invalid saga")
	}

	if err := o.sagas.Save(ctx, saga); err != nil {
		return nil, errors.Wrap(err, "failed to save saga")
	}

	log.Info().Str("saga_id", saga.ID.String()).Int("steps", len(steps)).Msg("saga submitted")
	return &SubmitSagaResponse{SagaID: saga.ID.String()}, nil
}

// Run drives a saga to a terminal status. Safe to call again on a saga
// recovered mid-flight: a running saga resumes at its checkpoint and a
// compensating saga resumes its backward walk.
func (o *SagaOrchestrator) Run(ctx context.Context, sagaID models.ID) error {
	saga, err := o.load(ctx, sagaID)
	if err != nil {
		return err
	}

	switch saga.Status {
	case domain.SagaStatusPending:
		if err := o.mutate(ctx, sagaID, func(s *domain.Saga) error { return s.Start() }); err != nil {
			return err
		}
	case domain.SagaStatusRunning:
		// resume at checkpoint
	case domain.SagaStatusCompensating:
		return o.compensate(ctx, sagaID)
	default:
		return nil
	}

	return o.runForward(ctx, sagaID)
}

// Recover resumes every non-terminal saga. Called once at startup so
// sagas interrupted by a crash finish from their last checkpoint.
func (o *SagaOrchestrator) Recover(ctx context.Context) error {
	for _, status := range []domain.SagaStatus{domain.SagaStatusRunning, domain.SagaStatusCompensating} {
		sagas, err := o.sagas.FindByStatus(ctx, status)
		if err != nil {
			return errors.Wrapf(err, "failed to load %s sagas", status)
		}

		for _, saga := range sagas {
			log.Info().Str("saga_id", saga.ID.String()).Str("status", string(saga.Status)).Msg("recovering saga")
			if err := o.Run(ctx, saga.ID); err != nil {
				log.Error().Err(err).Str("saga_id", saga.ID.String()).Msg("saga recovery failed")
			}
		}
	}
	return nil
}

func (o *SagaOrchestrator) runForward(ctx context.Context, sagaID models.ID) error {
	for {
		saga, err := o.load(ctx, sagaID)
		if err != nil {
			return err
		}
		if saga.Status != domain.SagaStatusRunning {
			if saga.Status == domain.SagaStatusCompensating {
				return o.compensate(ctx, sagaID)
			}
			return nil
		}

		// Cancellation is honored between steps, never mid-step
		if saga.CancelRequested {
			return o.beginCompensation(ctx, sagaID, errSagaCanceled)
		}

		stepIndex := saga.CurrentStep
		step := saga.Steps[stepIndex]

		result, err := o.runStep(ctx, saga, step)
		if err != nil {
			return o.beginCompensation(ctx, sagaID, err)
		}

		lastStep := stepIndex == len(saga.Steps)-1
		err = o.mutate(ctx, sagaID, func(s *domain.Saga) error {
			if err := s.RecordStepResult(stepIndex, result); err != nil {
				return err
			}
			if lastStep {
				return s.Complete()
			}
			return s.Checkpoint(stepIndex + 1)
		})
		if err != nil {
			return err
		}

		if lastStep {
			log.Info().Str("saga_id", sagaID.String()).Msg("saga completed")
			return nil
		}
	}
}

// runStep executes one forward step with its retry policy. Only transient
// failures are retried; routing and validation failures abort immediately.
func (o *SagaOrchestrator) runStep(ctx context.Context, saga *domain.Saga, step domain.SagaStep) (*domain.OperationResult, error) {
	op := step.Operation
	if step.Timeout > 0 {
		op.WithTimeout(step.Timeout)
	}

	var lastErr error
	for attempt := 1; attempt <= step.Retry.MaxAttempts; attempt++ {
		result, err := o.dispatcher.Dispatch(ctx, op)
		if err == nil {
			return result, nil
		}
		lastErr = err

		log.Warn().Err(err).
			Str("saga_id", saga.ID.String()).
			Str("step_id", step.ID).
			Int("attempt", attempt).
			Msg("saga step failed")

		if !retryable(err) || attempt == step.Retry.MaxAttempts {
			break
		}

		// Cancellation is also honored between retries
		if canceled, checkErr := o.cancelRequested(ctx, saga.ID); checkErr != nil {
			return nil, checkErr
		} else if canceled {
			return nil, errSagaCanceled
		}

		if err := backoff.SleepWithContext(ctx, backoff.ExponentialWithJitter(step.Retry.Backoff, attempt)); err != nil {
			return nil, err
		}
	}

	return nil, errors.Wrapf(lastErr, "step %q failed after %d attempts", step.ID, step.Retry.MaxAttempts)
}

// compensate walks executed steps in reverse order, dispatching each
// step's compensation once. Failures are recorded on the saga and never
// stop the walk; the saga always reaches failed status.
func (o *SagaOrchestrator) compensate(ctx context.Context, sagaID models.ID) error {
	saga, err := o.load(ctx, sagaID)
	if err != nil {
		return err
	}

	for i := len(saga.Steps) - 1; i >= 0; i-- {
		step := saga.Steps[i]
		if _, executed := saga.Context[step.ID]; !executed {
			continue
		}

		compensation := saga.Compensations[i]
		if compensation == nil || compensation.Operation == nil {
			continue
		}

		if _, err := o.dispatcher.Dispatch(ctx, compensation.Operation); err != nil {
			log.Error().Err(err).
				Str("saga_id", sagaID.String()).
				Str("step_id", step.ID).
				Msg("compensation failed")

			mutErr := o.mutate(ctx, sagaID, func(s *domain.Saga) error {
				s.RecordCompensationFailure(step.ID, err)
				return nil
			})
			if mutErr != nil {
				return mutErr
			}
		}
	}

	if err := o.mutate(ctx, sagaID, func(s *domain.Saga) error { return s.Fail() }); err != nil {
		return err
	}

	log.Info().Str("saga_id", sagaID.String()).Msg("saga failed after compensation")
	return nil
}

func (o *SagaOrchestrator) beginCompensation(ctx context.Context, sagaID models.ID, cause error) error {
	err := o.mutate(ctx, sagaID, func(s *domain.Saga) error {
		return s.BeginCompensating(cause)
	})
	if err != nil {
		return err
	}
	return o.compensate(ctx, sagaID)
}

func (o *SagaOrchestrator) load(ctx context.Context, sagaID models.ID) (*domain.Saga, error) {
	saga, err := o.sagas.FindByID(ctx, sagaID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load saga")
	}
	if saga == nil {
		return nil, errors.Errorf("saga %s not found", sagaID)
	}
	return saga, nil
}

// mutate reloads the saga, applies the transition and saves. A concurrent
// write (a cancellation request landing mid-save) is retried on a fresh
// copy so neither writer is lost.
func (o *SagaOrchestrator) mutate(ctx context.Context, sagaID models.ID, transition func(*domain.Saga) error) error {
	const maxSaveAttempts = 3

	var lastErr error
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		saga, err := o.load(ctx, sagaID)
		if err != nil {
			return err
		}

		if err := transition(saga); err != nil {
			return err
		}

		if err := o.sagas.Save(ctx, saga); err != nil {
			lastErr = err
			continue
		}

		o.publishEvents(ctx, saga)
		return nil
	}

	return errors.Wrapf(lastErr, "failed to save saga %s", sagaID)
}

func (o *SagaOrchestrator) publishEvents(ctx context.Context, saga *domain.Saga) {
	recorded := saga.Events()
	if len(recorded) == 0 {
		return
	}
	if err := o.publisher.Publish(ctx, recorded...); err != nil {
		log.Warn().Err(err).Str("saga_id", saga.ID.String()).Msg("failed to publish saga events")
	}
	saga.ClearEvents()
}

func (o *SagaOrchestrator) cancelRequested(ctx context.Context, sagaID models.ID) (bool, error) {
	saga, err := o.load(ctx, sagaID)
	if err != nil {
		return false, err
	}
	return saga.CancelRequested, nil
}

func (o *SagaOrchestrator) buildSteps(cmd *SubmitSagaCommand) ([]domain.SagaStep, []*domain.CompensationStep, error) {
	if len(cmd.Steps) == 0 {
		return nil, nil, errors.New("saga requires at least one step")
	}

	steps := make([]domain.SagaStep, 0, len(cmd.Steps))
	compensations := make([]*domain.CompensationStep, 0, len(cmd.Steps))

	for i, input := range cmd.Steps {
		if input.OperationType == "" {
			return nil, nil, errors.Errorf("step %d has no operation type", i)
		}

		opType := domain.OperationType(input.OperationType)
		serviceType, _, err := o.router.Route(opType)
		if err != nil {
			return nil, nil, err
		}

		op := domain.NewOperation(opType, input.Parameters)
		for key, value := range input.Context {
			op.WithContextValue(key, value)
		}

		retry := domain.DefaultRetryPolicy()
		if input.MaxAttempts > 0 {
			retry.MaxAttempts = input.MaxAttempts
		}
		if input.BackoffMS > 0 {
			retry.Backoff = time.Duration(input.BackoffMS) * time.Millisecond
		}

		steps = append(steps, domain.SagaStep{
			ID:          input.ID,
			ServiceType: serviceType,
			Operation:   op,
			Timeout:     time.Duration(input.TimeoutMS) * time.Millisecond,
			Retry:       retry,
		})

		if input.Compensation == nil {
			compensations = append(compensations, nil)
			continue
		}

		compType := domain.OperationType(input.Compensation.OperationType)
		if _, _, err := o.router.Route(compType); err != nil {
			return nil, nil, errors.Wrapf(err, "compensation for step %q", input.ID)
		}
		compensations = append(compensations, &domain.CompensationStep{
			StepID:    input.ID,
			Operation: domain.NewOperation(compType, input.Compensation.Parameters),
		})
	}

	return steps, compensations, nil
}

// retryable reports whether a step failure is worth another attempt.
// Caller errors and open-circuit rejections are not: the breaker already
// decided the backend needs time, and retrying inside the step would
// only fight it.
func retryable(err error) bool {
	switch domain.KindOf(err) {
	case domain.ErrKindBackendTimeout, domain.ErrKindBackendFailure, domain.ErrKindNoHealthyEndpoint:
		return true
	default:
		return false
	}
}
