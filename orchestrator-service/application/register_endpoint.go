package application

import (
	"context"
	"time"

	"github.com/meinzeug/autodevai-orchestrator/orchestrator-service/domain"
	"github.com/meinzeug/autodevai-orchestrator/shared/events"
	"github.com/meinzeug/autodevai-orchestrator/shared/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// RegisterEndpointCommand represents the command to register an endpoint
type RegisterEndpointCommand struct {
	ServiceName string `json:"service_name"`
	InstanceID  string `json:"instance_id"`
	Address     string `json:"address"`
	Health      string `json:"health_status,omitempty"`
}

// RegisterEndpoint use case adds or refreshes a backend instance
type RegisterEndpoint struct {
	registry       domain.EndpointRegistry
	eventPublisher events.Publisher
}

// NewRegisterEndpoint creates a new RegisterEndpoint use case
func NewRegisterEndpoint(registry domain.EndpointRegistry, eventPublisher events.Publisher) *RegisterEndpoint {
	return &RegisterEndpoint{registry: registry, eventPublisher: eventPublisher}
}

// Execute executes the register endpoint command
func (uc *RegisterEndpoint) Execute(ctx context.Context, cmd *RegisterEndpointCommand) error {
	if cmd.ServiceName == "" {
		return errors.New("service name is required")
	}
	if cmd.InstanceID == "" {
		return errors.New("instance ID is required")
	}
	if cmd.Address == "" {
		return errors.New("address is required")
	}

	health := domain.HealthStatusUnknown
	if cmd.Health != "" {
		health = domain.HealthStatus(cmd.Health)
	}

	uc.registry.Register(domain.ServiceEndpoint{
		ServiceName: cmd.ServiceName,
		InstanceID:  cmd.InstanceID,
		Address:     cmd.Address,
		Health:      health,
		LastChecked: time.Now(),
	})

	event := events.NewEvent(models.ID(cmd.InstanceID), events.EndpointRegisteredEvent, domain.EndpointHealthChangedData{
		ServiceName: cmd.ServiceName,
		InstanceID:  cmd.InstanceID,
		Health:      health,
	})
	if err := uc.eventPublisher.Publish(ctx, event); err != nil {
		log.Warn().Err(err).Str("instance_id", cmd.InstanceID).Msg("failed to publish endpoint registered event")
	}

	log.Info().
		Str("service", cmd.ServiceName).
		Str("instance_id", cmd.InstanceID).
		Str("address", cmd.Address).
		Msg("endpoint registered")
	return nil
}
