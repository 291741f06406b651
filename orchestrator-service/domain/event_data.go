package domain

import (
	"time"

	"github.com/meinzeug/autodevai-orchestrator/shared/models"
)

// Event payloads for operation and endpoint notifications. Delivery to
// subscribers is best-effort; losing one never affects core correctness.

type OperationCompletedData struct {
	OperationID   models.ID     `json:"operation_id"`
	OperationType OperationType `json:"operation_type"`
	ServiceType   ServiceType   `json:"service_type"`
	InstanceID    string        `json:"instance_id"`
	ExecutionTime time.Duration `json:"execution_time"`
}

type OperationFailedData struct {
	OperationID   models.ID     `json:"operation_id"`
	OperationType OperationType `json:"operation_type"`
	ServiceType   ServiceType   `json:"service_type"`
	ErrorKind     ErrorKind     `json:"error_kind"`
	Reason        string        `json:"reason"`
}

type ServiceUnavailableData struct {
	ServiceName string `json:"service_name"`
	// KnownEndpoints is how many instances the registry knows about,
	// healthy or not, so a provisioner can tell "all down" from "none".
	KnownEndpoints int `json:"known_endpoints"`
}

type EndpointHealthChangedData struct {
	ServiceName string       `json:"service_name"`
	InstanceID  string       `json:"instance_id"`
	Health      HealthStatus `json:"health_status"`
}

type CircuitStateChangedData struct {
	ServiceType ServiceType `json:"service_type"`
	From        string      `json:"from"`
	To          string      `json:"to"`
}

// EndpointProbeCompletedData is the inbound payload an external health
// prober publishes per probe cycle.
type EndpointProbeCompletedData struct {
	InstanceID string       `json:"instance_id"`
	Health     HealthStatus `json:"health_status"`
}

// EndpointProvisionedData is the inbound payload the external provisioner
// publishes after reacting to a service.unavailable event.
type EndpointProvisionedData struct {
	ServiceName string `json:"service_name"`
	InstanceID  string `json:"instance_id"`
	Address     string `json:"address"`
}
