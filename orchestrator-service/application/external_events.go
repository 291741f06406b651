package application

import (
	"context"

	"github.com/meinzeug/autodevai-orchestrator/orchestrator-service/domain"
	"github.com/meinzeug/autodevai-orchestrator/shared/events"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// EndpointProbeHandler consumes endpoint.probe.completed events published
// by the external health prober and applies the result to the registry.
type EndpointProbeHandler struct {
	markHealth *MarkEndpointHealth
}

// NewEndpointProbeHandler creates a new EndpointProbeHandler
func NewEndpointProbeHandler(markHealth *MarkEndpointHealth) *EndpointProbeHandler {
	return &EndpointProbeHandler{markHealth: markHealth}
}

// Handle handles an endpoint.probe.completed event
func (h *EndpointProbeHandler) Handle(ctx context.Context, event *events.Event) error {
	var data domain.EndpointProbeCompletedData
	if err := event.UnmarshalPayload(&data); err != nil {
		return errors.Wrap(err, "failed to unmarshal probe payload")
	}

	err := h.markHealth.Execute(ctx, &MarkEndpointHealthCommand{
		InstanceID: data.InstanceID,
		Health:     string(data.Health),
	})
	if err != nil {
		// Probes for instances deregistered mid-cycle are expected noise
		log.Debug().Err(err).Str("instance_id", data.InstanceID).Msg("probe result dropped")
		return nil
	}

	return nil
}

// EndpointProvisionedHandler consumes endpoint.provisioned events from the
// external provisioner reacting to service.unavailable, bringing fresh
// instances into rotation.
type EndpointProvisionedHandler struct {
	registerEndpoint *RegisterEndpoint
}

// NewEndpointProvisionedHandler creates a new EndpointProvisionedHandler
func NewEndpointProvisionedHandler(registerEndpoint *RegisterEndpoint) *EndpointProvisionedHandler {
	return &EndpointProvisionedHandler{registerEndpoint: registerEndpoint}
}

// Handle handles an endpoint.provisioned event
func (h *EndpointProvisionedHandler) Handle(ctx context.Context, event *events.Event) error {
	var data domain.EndpointProvisionedData
	if err := event.UnmarshalPayload(&data); err != nil {
		return errors.Wrap(err, "failed to unmarshal provisioned payload")
	}

	return h.registerEndpoint.Execute(ctx, &RegisterEndpointCommand{
		ServiceName: data.ServiceName,
		InstanceID:  data.InstanceID,
		Address:     data.Address,
	})
}
