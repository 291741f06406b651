package domain

import (
	"context"
)

// BridgeConfig holds backend-specific settings handed to a bridge at
// startup (base paths, auth material, plugin capability lists).
type BridgeConfig struct {
	ServiceType ServiceType       `json:"service_type"`
	Settings    map[string]string `json:"settings"`
}

// Bridge executes operations against one specific backend integration.
// Concrete variants differ only in how they translate an Operation into
// backend calls and backend responses into an OperationResult; nothing
// outside a bridge branches on variant identity.
type Bridge interface {
	// Initialize prepares the bridge; called once before first use
	Initialize(ctx context.Context, config BridgeConfig) error

	// Execute runs the operation against the selected endpoint
	Execute(ctx context.Context, op *Operation, endpoint ServiceEndpoint) (*OperationResult, error)

	// HealthCheck probes one endpoint of this bridge's backend
	HealthCheck(ctx context.Context, endpoint ServiceEndpoint) (HealthStatus, error)

	// Capabilities lists the operation types this bridge can execute
	Capabilities() []OperationType

	// Shutdown releases bridge resources
	Shutdown(ctx context.Context) error
}
