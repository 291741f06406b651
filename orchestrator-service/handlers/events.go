package handlers

import (
	"context"

	"github.com/meinzeug/autodevai-orchestrator/orchestrator-service/application"
	"github.com/meinzeug/autodevai-orchestrator/shared/events"
)

// OrchestratorEventHandlers dispatches inbound infrastructure events to
// the use cases that act on them
type OrchestratorEventHandlers struct {
	probeHandler       *application.EndpointProbeHandler
	provisionedHandler *application.EndpointProvisionedHandler
}

// NewOrchestratorEventHandlers creates new orchestrator event handlers
func NewOrchestratorEventHandlers(
	probeHandler *application.EndpointProbeHandler,
	provisionedHandler *application.EndpointProvisionedHandler,
) *OrchestratorEventHandlers {
	return &OrchestratorEventHandlers{
		probeHandler:       probeHandler,
		provisionedHandler: provisionedHandler,
	}
}

// Handle implements the events.EventHandler interface
func (h *OrchestratorEventHandlers) Handle(ctx context.Context, event *events.Event) error {
	switch event.EventType {
	case events.EndpointProbeCompletedEvent:
		return h.probeHandler.Handle(ctx, event)
	case events.EndpointProvisionedEvent:
		return h.provisionedHandler.Handle(ctx, event)
	default:
		// Unknown event type, ignore
		return nil
	}
}

// HandlerID returns the unique identifier for this event handler
func (h *OrchestratorEventHandlers) HandlerID() string {
	return "orchestrator-service-event-handler"
}
