package domain

import (
	"time"

	"github.com/meinzeug/autodevai-orchestrator/shared/models"
	"github.com/pkg/errors"
)

// OperationType identifies a capability a backend bridge can execute
type OperationType string

// ServiceType identifies a logical backend service. It is the unit of
// routing, circuit breaking and endpoint grouping.
type ServiceType string

const (
	ServiceTypeClaudeFlow ServiceType = "claude-flow"
	ServiceTypeCodex      ServiceType = "codex"
)

func (t ServiceType) String() string {
	return string(t)
}

// Operation types served by the built-in bridges. Plugin bridges declare
// their own types through configuration.
const (
	OpSwarmInitialize OperationType = "swarm.initialize"
	OpSwarmScale      OperationType = "swarm.scale"
	OpSwarmDestroy    OperationType = "swarm.destroy"
	OpAgentSpawn      OperationType = "agent.spawn"
	OpTaskOrchestrate OperationType = "task.orchestrate"
	OpMemoryStore     OperationType = "memory.store"
	OpMemoryRetrieve  OperationType = "memory.retrieve"

	OpCodeGenerate OperationType = "code.generate"
	OpCodeReview   OperationType = "code.review"
	OpCodeExplain  OperationType = "code.explain"
)

// OperationStatus represents the outcome of an operation
type OperationStatus string

const (
	OperationStatusSuccess OperationStatus = "success"
	OperationStatusFailure OperationStatus = "failure"
	OperationStatusTimeout OperationStatus = "timeout"
)

// RoutingKeyContextKey is the operation context key a caller sets to get
// sticky endpoint selection under the ip_hash balancing strategy.
const RoutingKeyContextKey = "routing_key"

// Operation is a unit of work submitted for execution by a backend service.
// Immutable once submitted.
type Operation struct {
	ID         models.ID              `json:"id"`
	Type       OperationType          `json:"operation_type"`
	Parameters map[string]interface{} `json:"parameters"`
	Context    map[string]string      `json:"context"`
	Timeout    time.Duration          `json:"timeout"`
	CreatedAt  time.Time              `json:"created_at"`
}

// NewOperation creates an operation with a generated ID
func NewOperation(opType OperationType, parameters map[string]interface{}) *Operation {
	if parameters == nil {
		parameters = make(map[string]interface{})
	}
	return &Operation{
		ID:         models.GenerateUUID(),
		Type:       opType,
		Parameters: parameters,
		Context:    make(map[string]string),
		CreatedAt:  time.Now(),
	}
}

// WithTimeout sets the per-call timeout
func (o *Operation) WithTimeout(timeout time.Duration) *Operation {
	o.Timeout = timeout
	return o
}

// WithContextValue attaches opaque caller metadata
func (o *Operation) WithContextValue(key, value string) *Operation {
	if o.Context == nil {
		o.Context = make(map[string]string)
	}
	o.Context[key] = value
	return o
}

// RoutingKey returns the caller-supplied stickiness key, if any
func (o *Operation) RoutingKey() string {
	return o.Context[RoutingKeyContextKey]
}

// Validate checks the operation is executable
func (o *Operation) Validate() error {
	if o.ID.String() == "" {
		return errors.New("operation ID is required")
	}
	if o.Type == "" {
		return errors.New("operation type is required")
	}
	if o.Timeout < 0 {
		return errors.New("operation timeout must not be negative")
	}
	return nil
}

// OperationResult is produced by a bridge, never mutated after creation.
// A result is associated with exactly one operation ID.
type OperationResult struct {
	OperationID   models.ID         `json:"operation_id"`
	Status        OperationStatus   `json:"status"`
	Payload       interface{}       `json:"payload"`
	Metadata      map[string]string `json:"metadata"`
	ExecutionTime time.Duration     `json:"execution_time"`
}

// NewSuccessResult builds a successful result for an operation
func NewSuccessResult(operationID models.ID, payload interface{}, executionTime time.Duration) *OperationResult {
	return &OperationResult{
		OperationID:   operationID,
		Status:        OperationStatusSuccess,
		Payload:       payload,
		Metadata:      make(map[string]string),
		ExecutionTime: executionTime,
	}
}

// NewFailureResult builds a failed result for an operation
func NewFailureResult(operationID models.ID, failure error, executionTime time.Duration) *OperationResult {
	status := OperationStatusFailure
	if KindOf(failure) == ErrKindBackendTimeout {
		status = OperationStatusTimeout
	}
	metadata := map[string]string{"error": failure.Error()}
	return &OperationResult{
		OperationID:   operationID,
		Status:        status,
		Metadata:      metadata,
		ExecutionTime: executionTime,
	}
}

// IsSuccess reports whether the operation succeeded
func (r *OperationResult) IsSuccess() bool {
	return r.Status == OperationStatusSuccess
}
