package application

import (
	"context"

	"github.com/meinzeug/autodevai-orchestrator/orchestrator-service/domain"
	"github.com/meinzeug/autodevai-orchestrator/shared/events"
	"github.com/meinzeug/autodevai-orchestrator/shared/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DeregisterEndpointCommand represents the command to remove an endpoint
type DeregisterEndpointCommand struct {
	InstanceID string `json:"instance_id"`
}

// DeregisterEndpoint use case removes a backend instance from rotation
type DeregisterEndpoint struct {
	registry       domain.EndpointRegistry
	eventPublisher events.Publisher
}

// NewDeregisterEndpoint creates a new DeregisterEndpoint use case
func NewDeregisterEndpoint(registry domain.EndpointRegistry, eventPublisher events.Publisher) *DeregisterEndpoint {
	return &DeregisterEndpoint{registry: registry, eventPublisher: eventPublisher}
}

// Execute executes the deregister endpoint command
func (uc *DeregisterEndpoint) Execute(ctx context.Context, cmd *DeregisterEndpointCommand) error {
	if cmd.InstanceID == "" {
		return errors.New("instance ID is required")
	}

	if err := uc.registry.Deregister(cmd.InstanceID); err != nil {
		return errors.Wrap(err, "failed to deregister endpoint")
	}

	event := events.NewEvent(models.ID(cmd.InstanceID), events.EndpointDeregisteredEvent, domain.EndpointHealthChangedData{
		InstanceID: cmd.InstanceID,
	})
	if err := uc.eventPublisher.Publish(ctx, event); err != nil {
		log.Warn().Err(err).Str("instance_id", cmd.InstanceID).Msg("failed to publish endpoint deregistered event")
	}

	log.Info().Str("instance_id", cmd.InstanceID).Msg("endpoint deregistered")
	return nil
}
