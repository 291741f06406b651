package application

import (
	"context"

	"github.com/meinzeug/autodevai-orchestrator/orchestrator-service/domain"
	"github.com/meinzeug/autodevai-orchestrator/shared/events"
	"github.com/meinzeug/autodevai-orchestrator/shared/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// MarkEndpointHealthCommand represents the command to apply a probe result
type MarkEndpointHealthCommand struct {
	InstanceID string `json:"instance_id"`
	Health     string `json:"health_status"`
}

// MarkEndpointHealth use case applies an external probe result to an
// endpoint. Health probing itself lives outside the core; this is its
// write path into the registry.
type MarkEndpointHealth struct {
	registry       domain.EndpointRegistry
	eventPublisher events.Publisher
}

// NewMarkEndpointHealth creates a new MarkEndpointHealth use case
func NewMarkEndpointHealth(registry domain.EndpointRegistry, eventPublisher events.Publisher) *MarkEndpointHealth {
	return &MarkEndpointHealth{registry: registry, eventPublisher: eventPublisher}
}

// Execute executes the mark endpoint health command
func (uc *MarkEndpointHealth) Execute(ctx context.Context, cmd *MarkEndpointHealthCommand) error {
	if cmd.InstanceID == "" {
		return errors.New("instance ID is required")
	}

	health := domain.HealthStatus(cmd.Health)
	switch health {
	case domain.HealthStatusHealthy, domain.HealthStatusUnhealthy,
		domain.HealthStatusUnreachable, domain.HealthStatusUnknown:
	default:
		return errors.Errorf("unknown health status %q", cmd.Health)
	}

	if err := uc.registry.MarkHealth(cmd.InstanceID, health); err != nil {
		return errors.Wrap(err, "failed to mark endpoint health")
	}

	event := events.NewEvent(models.ID(cmd.InstanceID), events.EndpointHealthChangedEvent, domain.EndpointHealthChangedData{
		InstanceID: cmd.InstanceID,
		Health:     health,
	})
	if err := uc.eventPublisher.Publish(ctx, event); err != nil {
		log.Warn().Err(err).Str("instance_id", cmd.InstanceID).Msg("failed to publish health changed event")
	}

	return nil
}
