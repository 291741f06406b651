package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies orchestration failures so the external layer can
// decide whether to surface a retry affordance.
type ErrorKind string

const (
	// ErrKindNoRoute means no bridge declares the operation type. Caller
	// error, never retried.
	ErrKindNoRoute ErrorKind = "no_route"
	// ErrKindCircuitOpen means the backend is presumed degraded. The caller
	// may retry later; the core does not auto-retry.
	ErrKindCircuitOpen ErrorKind = "circuit_open"
	// ErrKindNoHealthyEndpoint is transient; the caller may retry.
	ErrKindNoHealthyEndpoint ErrorKind = "no_healthy_endpoint"
	// ErrKindBackendTimeout is a backend call exceeding its deadline.
	// Counts toward the circuit breaker.
	ErrKindBackendTimeout ErrorKind = "backend_timeout"
	// ErrKindBackendFailure is a connection-level backend failure. Counts
	// toward the circuit breaker and marks the endpoint unhealthy.
	ErrKindBackendFailure ErrorKind = "backend_failure"
	// ErrKindInvalidOperation is an application-level rejection by the
	// backend. Does not trip the breaker or endpoint health.
	ErrKindInvalidOperation ErrorKind = "invalid_operation"
	// ErrKindCompensation is a failed saga compensation step, surfaced in
	// the final saga record for manual follow-up.
	ErrKindCompensation ErrorKind = "compensation_failure"
)

// OrchestrationError carries the structured failure information attached
// to every rejected operation.
type OrchestrationError struct {
	Kind        ErrorKind
	ServiceType ServiceType
	Err         error
}

func (e *OrchestrationError) Error() string {
	if e.ServiceType != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s [%s]: %v", e.Kind, e.ServiceType, e.Err)
		}
		return fmt.Sprintf("%s [%s]", e.Kind, e.ServiceType)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *OrchestrationError) Unwrap() error {
	return e.Err
}

// NewNoRouteError reports an operation type no bridge can handle
func NewNoRouteError(opType OperationType) error {
	return &OrchestrationError{
		Kind: ErrKindNoRoute,
		Err:  fmt.Errorf("no bridge declares capability %q", opType),
	}
}

// NewCircuitOpenError reports a rejected call while the breaker is open
func NewCircuitOpenError(serviceType ServiceType) error {
	return &OrchestrationError{
		Kind:        ErrKindCircuitOpen,
		ServiceType: serviceType,
		Err:         fmt.Errorf("circuit breaker open for service %q", serviceType),
	}
}

// NewNoHealthyEndpointError reports a service with no healthy endpoints
func NewNoHealthyEndpointError(serviceName string) error {
	return &OrchestrationError{
		Kind:        ErrKindNoHealthyEndpoint,
		ServiceType: ServiceType(serviceName),
		Err:         fmt.Errorf("no healthy endpoint for service %q", serviceName),
	}
}

// NewBackendTimeoutError reports a backend call exceeding its deadline
func NewBackendTimeoutError(serviceType ServiceType, err error) error {
	return &OrchestrationError{Kind: ErrKindBackendTimeout, ServiceType: serviceType, Err: err}
}

// NewBackendFailureError reports a connection-level backend failure
func NewBackendFailureError(serviceType ServiceType, err error) error {
	return &OrchestrationError{Kind: ErrKindBackendFailure, ServiceType: serviceType, Err: err}
}

// NewInvalidOperationError reports an application-level backend rejection
func NewInvalidOperationError(serviceType ServiceType, err error) error {
	return &OrchestrationError{Kind: ErrKindInvalidOperation, ServiceType: serviceType, Err: err}
}

// NewCompensationError reports a failed compensation step
func NewCompensationError(stepID string, err error) error {
	return &OrchestrationError{
		Kind: ErrKindCompensation,
		Err:  fmt.Errorf("compensation for step %q: %w", stepID, err),
	}
}

// KindOf extracts the error kind, or "" for unclassified errors
func KindOf(err error) ErrorKind {
	var oe *OrchestrationError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return ""
}

// ServiceTypeOf extracts the service type attached to an error, if any
func ServiceTypeOf(err error) ServiceType {
	var oe *OrchestrationError
	if errors.As(err, &oe) {
		return oe.ServiceType
	}
	return ""
}

// CountsForBreaker reports whether a failure should trip the circuit
// breaker. Only connectivity and timeout failures count; application-level
// rejections and selection errors pass through.
func CountsForBreaker(err error) bool {
	switch KindOf(err) {
	case ErrKindBackendTimeout, ErrKindBackendFailure:
		return true
	default:
		return false
	}
}

// IsConnectivityFailure reports whether the endpoint itself should be
// marked unhealthy for this failure.
func IsConnectivityFailure(err error) bool {
	return KindOf(err) == ErrKindBackendFailure
}
