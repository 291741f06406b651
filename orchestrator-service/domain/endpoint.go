package domain

import (
	"time"
)

// HealthStatus represents the health of one backend instance
type HealthStatus string

const (
	HealthStatusHealthy     HealthStatus = "healthy"
	HealthStatusUnhealthy   HealthStatus = "unhealthy"
	HealthStatusUnreachable HealthStatus = "unreachable"
	HealthStatusUnknown     HealthStatus = "unknown"
)

// ServiceEndpoint is one network-addressable instance of a backend
// service. Owned by the registry; health is refreshed by external probes.
type ServiceEndpoint struct {
	ServiceName string       `json:"service_name"`
	InstanceID  string       `json:"instance_id"`
	Address     string       `json:"address"`
	Health      HealthStatus `json:"health_status"`
	LastChecked time.Time    `json:"last_checked"`
}

// EndpointRegistry tracks known backend instances per logical service
type EndpointRegistry interface {
	// Register inserts or refreshes an endpoint; idempotent on
	// (service_name, instance_id).
	Register(endpoint ServiceEndpoint)

	// List returns the current known endpoints for a service, health
	// included. An unknown service yields an empty slice, not an error.
	List(serviceName string) []ServiceEndpoint

	// MarkHealth applies an external probe result to an instance
	MarkHealth(instanceID string, status HealthStatus) error

	// Deregister removes an instance entirely
	Deregister(instanceID string) error
}

// EndpointSelector picks one endpoint from the healthy candidates and
// tracks in-flight calls for the least_connections strategy.
type EndpointSelector interface {
	Select(serviceName string, candidates []ServiceEndpoint, hint string) (ServiceEndpoint, error)
	Acquire(instanceID string)
	Release(instanceID string)
}
