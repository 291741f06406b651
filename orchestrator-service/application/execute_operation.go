package application

import (
	"context"
	"time"

	"github.com/meinzeug/autodevai-orchestrator/orchestrator-service/domain"
	"github.com/meinzeug/autodevai-orchestrator/shared/circuitbreaker"
	"github.com/meinzeug/autodevai-orchestrator/shared/events"
	"github.com/meinzeug/autodevai-orchestrator/shared/telemetry"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// ExecuteOperationCommand represents the command to execute one operation
type ExecuteOperationCommand struct {
	Type       string                 `json:"operation_type"`
	Parameters map[string]interface{} `json:"parameters"`
	Context    map[string]string      `json:"context,omitempty"`
	TimeoutMS  int64                  `json:"timeout_ms,omitempty"`
}

// ExecuteOperation is the dispatch pipeline for single operations:
// route to a bridge, gate through the service's circuit breaker, pick an
// endpoint, call the backend and classify the outcome. Saga steps run
// through the same pipeline.
type ExecuteOperation struct {
	router         *BridgeRouter
	registry       domain.EndpointRegistry
	selector       domain.EndpointSelector
	breakers       *circuitbreaker.Manager
	eventPublisher events.Publisher
}

// NewExecuteOperation creates a new ExecuteOperation use case
func NewExecuteOperation(
	router *BridgeRouter,
	registry domain.EndpointRegistry,
	selector domain.EndpointSelector,
	breakers *circuitbreaker.Manager,
	eventPublisher events.Publisher,
) *ExecuteOperation {
	return &ExecuteOperation{
		router:         router,
		registry:       registry,
		selector:       selector,
		breakers:       breakers,
		eventPublisher: eventPublisher,
	}
}

// Execute builds an operation from the command and dispatches it
func (uc *ExecuteOperation) Execute(ctx context.Context, cmd *ExecuteOperationCommand) (*domain.OperationResult, error) {
	if cmd.Type == "" {
		return nil, domain.NewInvalidOperationError("", errors.New("operation type is required"))
	}

	op := domain.NewOperation(domain.OperationType(cmd.Type), cmd.Parameters)
	if cmd.TimeoutMS > 0 {
		op.WithTimeout(time.Duration(cmd.TimeoutMS) * time.Millisecond)
	}
	for key, value := range cmd.Context {
		op.WithContextValue(key, value)
	}

	if err := op.Validate(); err != nil {
		return nil, domain.NewInvalidOperationError("", err)
	}

	return uc.Dispatch(ctx, op)
}

// Dispatch runs an already-built operation through the full pipeline.
// The open-state check precedes endpoint selection, so a rejected call
// never touches the registry. Selection happens outside the breaker:
// only the fate of an actual backend call feeds its accounting, and a
// half-open probe slot is never consumed by an empty registry.
func (uc *ExecuteOperation) Dispatch(ctx context.Context, op *domain.Operation) (*domain.OperationResult, error) {
	serviceType, bridge, err := uc.router.Route(op.Type)
	if err != nil {
		uc.publishFailure(ctx, op, err)
		return nil, err
	}

	if uc.breakers.State(serviceType.String()) == circuitbreaker.StateOpen {
		err := domain.NewCircuitOpenError(serviceType)
		uc.publishFailure(ctx, op, err)
		return nil, err
	}

	candidates := uc.registry.List(serviceType.String())
	endpoint, err := uc.selector.Select(serviceType.String(), candidates, op.RoutingKey())
	if err != nil {
		uc.publishFailure(ctx, op, err)
		return nil, err
	}

	start := time.Now()

	result, err := uc.breakers.Execute(ctx, serviceType.String(), op.Timeout, func(callCtx context.Context) (any, error) {
		return uc.callBackend(callCtx, bridge, op, endpoint)
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpenState) {
			err = domain.NewCircuitOpenError(serviceType)
		}
		uc.publishFailure(ctx, op, err)
		return nil, err
	}

	operationResult := result.(*domain.OperationResult)

	telemetry.RecordHistogram(ctx, "operation_duration_seconds", "Operation dispatch duration", time.Since(start).Seconds(),
		attribute.String("operation_type", string(op.Type)),
		attribute.String("service_type", serviceType.String()),
	)

	log.Debug().
		Str("operation_id", op.ID.String()).
		Str("operation_type", string(op.Type)).
		Str("service", serviceType.String()).
		Dur("elapsed", time.Since(start)).
		Msg("operation dispatched")

	uc.publishSuccess(ctx, op, serviceType, operationResult)
	return operationResult, nil
}

// callBackend runs inside the circuit breaker with an already-selected
// endpoint. Timeouts and connectivity failures advance the failure
// count; a response from the backend, even a rejecting one, does not.
func (uc *ExecuteOperation) callBackend(ctx context.Context, bridge domain.Bridge, op *domain.Operation, endpoint domain.ServiceEndpoint) (*domain.OperationResult, error) {
	uc.selector.Acquire(endpoint.InstanceID)
	defer uc.selector.Release(endpoint.InstanceID)

	result, err := bridge.Execute(ctx, op, endpoint)
	if err != nil {
		if domain.IsConnectivityFailure(err) {
			if markErr := uc.registry.MarkHealth(endpoint.InstanceID, domain.HealthStatusUnreachable); markErr != nil {
				log.Warn().Err(markErr).Str("instance_id", endpoint.InstanceID).Msg("failed to mark endpoint unreachable")
			}
		}
		return nil, err
	}

	// A successful call doubles as a health probe
	if markErr := uc.registry.MarkHealth(endpoint.InstanceID, domain.HealthStatusHealthy); markErr != nil {
		log.Warn().Err(markErr).Str("instance_id", endpoint.InstanceID).Msg("failed to refresh endpoint health")
	}

	return result, nil
}

func (uc *ExecuteOperation) publishSuccess(ctx context.Context, op *domain.Operation, serviceType domain.ServiceType, result *domain.OperationResult) {
	event := events.NewEvent(op.ID, events.OperationCompletedEvent, domain.OperationCompletedData{
		OperationID:   op.ID,
		OperationType: op.Type,
		ServiceType:   serviceType,
		InstanceID:    result.Metadata["instance_id"],
		ExecutionTime: result.ExecutionTime,
	})

	if err := uc.eventPublisher.Publish(ctx, event); err != nil {
		log.Warn().Err(err).Str("operation_id", op.ID.String()).Msg("failed to publish operation completed event")
	}
}

func (uc *ExecuteOperation) publishFailure(ctx context.Context, op *domain.Operation, failure error) {
	kind := domain.KindOf(failure)
	serviceType := domain.ServiceTypeOf(failure)

	toPublish := []*events.Event{
		events.NewEvent(op.ID, events.OperationFailedEvent, domain.OperationFailedData{
			OperationID:   op.ID,
			OperationType: op.Type,
			ServiceType:   serviceType,
			ErrorKind:     kind,
			Reason:        failure.Error(),
		}),
	}

	// No healthy endpoint is the signal an external provisioner scales on
	if kind == domain.ErrKindNoHealthyEndpoint {
		serviceName := serviceType.String()
		toPublish = append(toPublish, events.NewEvent(op.ID, events.ServiceUnavailableEvent, domain.ServiceUnavailableData{
			ServiceName:    serviceName,
			KnownEndpoints: len(uc.registry.List(serviceName)),
		}))
	}

	if err := uc.eventPublisher.Publish(ctx, toPublish...); err != nil {
		log.Warn().Err(err).Str("operation_id", op.ID.String()).Msg("failed to publish operation failed event")
	}
}
