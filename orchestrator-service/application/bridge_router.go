package application

import (
	"context"
	"sort"

	"github.com/meinzeug/autodevai-orchestrator/orchestrator-service/domain"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// BridgeRouter maps operation types to the single bridge declaring that
// capability. The map is built at registration time and read-only
// afterwards, so routing needs no locking.
type BridgeRouter struct {
	bridges map[domain.ServiceType]domain.Bridge
	routes  map[domain.OperationType]domain.ServiceType
}

// NewBridgeRouter creates an empty BridgeRouter
func NewBridgeRouter() *BridgeRouter {
	return &BridgeRouter{
		bridges: make(map[domain.ServiceType]domain.Bridge),
		routes:  make(map[domain.OperationType]domain.ServiceType),
	}
}

// Register adds a bridge under its service type. Two bridges declaring
// the same capability is a configuration error, rejected at startup
// rather than silently resolved at dispatch time.
func (r *BridgeRouter) Register(serviceType domain.ServiceType, bridge domain.Bridge) error {
	if serviceType == "" {
		return errors.New("bridge requires a service type")
	}
	if _, exists := r.bridges[serviceType]; exists {
		return errors.Errorf("bridge for service %q already registered", serviceType)
	}

	capabilities := bridge.Capabilities()
	if len(capabilities) == 0 {
		return errors.Errorf("bridge for service %q declares no capabilities", serviceType)
	}

	for _, opType := range capabilities {
		if owner, taken := r.routes[opType]; taken {
			return errors.Errorf("capability %q already claimed by service %q", opType, owner)
		}
	}

	for _, opType := range capabilities {
		r.routes[opType] = serviceType
	}
	r.bridges[serviceType] = bridge

	log.Info().
		Str("service", serviceType.String()).
		Int("capabilities", len(capabilities)).
		Msg("registered bridge")
	return nil
}

// Route resolves an operation type to its owning service and bridge
func (r *BridgeRouter) Route(opType domain.OperationType) (domain.ServiceType, domain.Bridge, error) {
	serviceType, ok := r.routes[opType]
	if !ok {
		return "", nil, domain.NewNoRouteError(opType)
	}
	return serviceType, r.bridges[serviceType], nil
}

// BridgeFor returns the bridge for a service type, if registered
func (r *BridgeRouter) BridgeFor(serviceType domain.ServiceType) (domain.Bridge, bool) {
	bridge, ok := r.bridges[serviceType]
	return bridge, ok
}

// ServiceTypes lists registered services in stable order
func (r *BridgeRouter) ServiceTypes() []domain.ServiceType {
	serviceTypes := make([]domain.ServiceType, 0, len(r.bridges))
	for serviceType := range r.bridges {
		serviceTypes = append(serviceTypes, serviceType)
	}
	sort.Slice(serviceTypes, func(i, j int) bool { return serviceTypes[i] < serviceTypes[j] })
	return serviceTypes
}

// Shutdown stops every registered bridge, keeping the first error
func (r *BridgeRouter) Shutdown(ctx context.Context) error {
	var firstErr error
	for serviceType, bridge := range r.bridges {
		if err := bridge.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "shutdown bridge %q", serviceType)
		}
	}
	return firstErr
}
