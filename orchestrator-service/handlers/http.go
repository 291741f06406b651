package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/meinzeug/autodevai-orchestrator/orchestrator-service/application"
	"github.com/meinzeug/autodevai-orchestrator/orchestrator-service/domain"
	"github.com/meinzeug/autodevai-orchestrator/shared/models"
	"github.com/rs/zerolog/log"
)

// OrchestratorHandlers contains orchestrator HTTP handlers
type OrchestratorHandlers struct {
	executeOperation   *application.ExecuteOperation
	sagaOrchestrator   *application.SagaOrchestrator
	getSaga            *application.GetSaga
	cancelSaga         *application.CancelSaga
	registerEndpoint   *application.RegisterEndpoint
	deregisterEndpoint *application.DeregisterEndpoint
	markEndpointHealth *application.MarkEndpointHealth
}

// NewOrchestratorHandlers creates new orchestrator handlers
func NewOrchestratorHandlers(
	executeOperation *application.ExecuteOperation,
	sagaOrchestrator *application.SagaOrchestrator,
	getSaga *application.GetSaga,
	cancelSaga *application.CancelSaga,
	registerEndpoint *application.RegisterEndpoint,
	deregisterEndpoint *application.DeregisterEndpoint,
	markEndpointHealth *application.MarkEndpointHealth,
) *OrchestratorHandlers {
	return &OrchestratorHandlers{
		executeOperation:   executeOperation,
		sagaOrchestrator:   sagaOrchestrator,
		getSaga:            getSaga,
		cancelSaga:         cancelSaga,
		registerEndpoint:   registerEndpoint,
		deregisterEndpoint: deregisterEndpoint,
		markEndpointHealth: markEndpointHealth,
	}
}

// errorResponse is the body for every rejected request
type errorResponse struct {
	Error       string             `json:"error"`
	Kind        domain.ErrorKind   `json:"kind,omitempty"`
	ServiceType domain.ServiceType `json:"service_type,omitempty"`
}

// ExecuteOperation handles single operation requests
func (h *OrchestratorHandlers) ExecuteOperation(w http.ResponseWriter, r *http.Request) {
	var cmd application.ExecuteOperationCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.executeOperation.Execute(r.Context(), &cmd)
	if err != nil {
		writeOrchestrationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// SubmitSaga handles saga submission requests. The saga runs in the
// background; clients poll GetSaga for progress.
func (h *OrchestratorHandlers) SubmitSaga(w http.ResponseWriter, r *http.Request) {
	var cmd application.SubmitSagaCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	response, err := h.sagaOrchestrator.Submit(r.Context(), &cmd)
	if err != nil {
		writeOrchestrationError(w, err)
		return
	}

	sagaID := models.ID(response.SagaID)
	go func() {
		if err := h.sagaOrchestrator.Run(context.Background(), sagaID); err != nil {
			log.Error().Err(err).Str("saga_id", sagaID.String()).Msg("saga run aborted")
		}
	}()

	writeJSON(w, http.StatusAccepted, response)
}

// GetSaga handles saga status requests
func (h *OrchestratorHandlers) GetSaga(w http.ResponseWriter, r *http.Request) {
	sagaID := chi.URLParam(r, "id")
	if sagaID == "" {
		http.Error(w, "Saga ID is required", http.StatusBadRequest)
		return
	}

	response, err := h.getSaga.Execute(r.Context(), &application.GetSagaQuery{SagaID: sagaID})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if response == nil {
		http.Error(w, "Saga not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

// CancelSaga handles saga cancellation requests
func (h *OrchestratorHandlers) CancelSaga(w http.ResponseWriter, r *http.Request) {
	sagaID := chi.URLParam(r, "id")
	if sagaID == "" {
		http.Error(w, "Saga ID is required", http.StatusBadRequest)
		return
	}

	response, err := h.cancelSaga.Execute(r.Context(), &application.CancelSagaCommand{SagaID: sagaID})
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if response == nil {
		http.Error(w, "Saga not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusAccepted, response)
}

// RegisterEndpoint handles endpoint registration requests
func (h *OrchestratorHandlers) RegisterEndpoint(w http.ResponseWriter, r *http.Request) {
	var cmd application.RegisterEndpointCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.registerEndpoint.Execute(r.Context(), &cmd); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

// DeregisterEndpoint handles endpoint removal requests
func (h *OrchestratorHandlers) DeregisterEndpoint(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")
	if instanceID == "" {
		http.Error(w, "Instance ID is required", http.StatusBadRequest)
		return
	}

	if err := h.deregisterEndpoint.Execute(r.Context(), &application.DeregisterEndpointCommand{InstanceID: instanceID}); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// MarkEndpointHealth handles probe result submissions
func (h *OrchestratorHandlers) MarkEndpointHealth(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")
	if instanceID == "" {
		http.Error(w, "Instance ID is required", http.StatusBadRequest)
		return
	}

	var cmd application.MarkEndpointHealthCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	cmd.InstanceID = instanceID

	if err := h.markEndpointHealth.Execute(r.Context(), &cmd); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RegisterRoutes registers orchestrator routes
func (h *OrchestratorHandlers) RegisterRoutes(r chi.Router) {
	r.Post("/operations", h.ExecuteOperation)

	r.Route("/sagas", func(r chi.Router) {
		r.Post("/", h.SubmitSaga)
		r.Get("/{id}", h.GetSaga)
		r.Post("/{id}/cancel", h.CancelSaga)
	})

	r.Route("/endpoints", func(r chi.Router) {
		r.Post("/", h.RegisterEndpoint)
		r.Delete("/{instanceID}", h.DeregisterEndpoint)
		r.Put("/{instanceID}/health", h.MarkEndpointHealth)
	})
}

// writeOrchestrationError maps classified failures onto HTTP statuses:
// caller errors to 400, degraded backends to 502/503/504.
func writeOrchestrationError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)

	var status int
	switch kind {
	case domain.ErrKindNoRoute, domain.ErrKindInvalidOperation:
		status = http.StatusBadRequest
	case domain.ErrKindCircuitOpen, domain.ErrKindNoHealthyEndpoint:
		status = http.StatusServiceUnavailable
	case domain.ErrKindBackendTimeout:
		status = http.StatusGatewayTimeout
	case domain.ErrKindBackendFailure:
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, errorResponse{
		Error:       err.Error(),
		Kind:        kind,
		ServiceType: domain.ServiceTypeOf(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
