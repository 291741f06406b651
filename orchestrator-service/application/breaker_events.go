package application

import (
	"context"

	"github.com/meinzeug/autodevai-orchestrator/orchestrator-service/domain"
	"github.com/meinzeug/autodevai-orchestrator/shared/circuitbreaker"
	"github.com/meinzeug/autodevai-orchestrator/shared/events"
	"github.com/meinzeug/autodevai-orchestrator/shared/models"
	"github.com/meinzeug/autodevai-orchestrator/shared/telemetry"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// BreakerEventPublisher translates circuit breaker state transitions into
// domain events so operators and dashboards see backend degradation as it
// happens, not when the next call fails.
type BreakerEventPublisher struct {
	eventPublisher events.Publisher
}

// NewBreakerEventPublisher creates a new BreakerEventPublisher
func NewBreakerEventPublisher(eventPublisher events.Publisher) *BreakerEventPublisher {
	return &BreakerEventPublisher{eventPublisher: eventPublisher}
}

// OnStateChange implements circuitbreaker.StateChangeListener
func (p *BreakerEventPublisher) OnStateChange(serviceName string, from circuitbreaker.State, to circuitbreaker.State) {
	var eventType string
	switch to {
	case circuitbreaker.StateOpen:
		eventType = events.CircuitOpenedEvent
	case circuitbreaker.StateHalfOpen:
		eventType = events.CircuitHalfOpenEvent
	case circuitbreaker.StateClosed:
		eventType = events.CircuitClosedEvent
	default:
		return
	}

	if to == circuitbreaker.StateOpen {
		telemetry.RecordCounter(context.Background(), "circuit_breaker_trips_total", "Circuit breaker open transitions", 1,
			attribute.String("service_type", serviceName),
		)
	}

	event := events.NewEvent(models.ID(serviceName), eventType, domain.CircuitStateChangedData{
		ServiceType: domain.ServiceType(serviceName),
		From:        string(from),
		To:          string(to),
	})

	// Listener callbacks carry no request context
	if err := p.eventPublisher.Publish(context.Background(), event); err != nil {
		log.Warn().Err(err).Str("service", serviceName).Msg("failed to publish circuit state event")
	}
}
