package infrastructure

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meinzeug/autodevai-orchestrator/orchestrator-service/domain"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// InMemoryEndpointRegistry tracks backend instances per logical service.
// Health is written by external probes; reads take a snapshot so
// selection is never blocked by a concurrent probe result.
type InMemoryEndpointRegistry struct {
	mu sync.RWMutex
	// services maps service name -> instance ID -> endpoint
	services map[string]map[string]*domain.ServiceEndpoint
	// instances indexes instance ID -> service name for O(1) MarkHealth
	instances map[string]string

	// ttl is how long a health entry stays trusted without a refresh;
	// past it the endpoint is reported Unreachable but kept, so a slow
	// prober does not make the registry flap.
	ttl time.Duration
	// grace is the additional age after which the sweeper deletes an
	// entry outright.
	grace time.Duration
}

var _ domain.EndpointRegistry = (*InMemoryEndpointRegistry)(nil)

// NewInMemoryEndpointRegistry creates a registry with the given health
// TTL and deletion grace period.
func NewInMemoryEndpointRegistry(ttl, grace time.Duration) *InMemoryEndpointRegistry {
	return &InMemoryEndpointRegistry{
		services:  make(map[string]map[string]*domain.ServiceEndpoint),
		instances: make(map[string]string),
		ttl:       ttl,
		grace:     grace,
	}
}

// Register inserts or refreshes an endpoint under its service name.
// Idempotent on (service_name, instance_id).
func (r *InMemoryEndpointRegistry) Register(endpoint domain.ServiceEndpoint) {
	if endpoint.Health == "" {
		endpoint.Health = domain.HealthStatusUnknown
	}
	if endpoint.LastChecked.IsZero() {
		endpoint.LastChecked = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	byInstance, ok := r.services[endpoint.ServiceName]
	if !ok {
		byInstance = make(map[string]*domain.ServiceEndpoint)
		r.services[endpoint.ServiceName] = byInstance
	}

	ep := endpoint
	byInstance[endpoint.InstanceID] = &ep
	r.instances[endpoint.InstanceID] = endpoint.ServiceName

	log.Info().
		Str("service", endpoint.ServiceName).
		Str("instance", endpoint.InstanceID).
		Str("address", endpoint.Address).
		Msg("endpoint registered")
}

// List returns the current known endpoints for a service, health
// included. Entries whose health outlived the TTL are reported
// Unreachable. An unknown service yields an empty slice.
func (r *InMemoryEndpointRegistry) List(serviceName string) []domain.ServiceEndpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byInstance := r.services[serviceName]
	endpoints := make([]domain.ServiceEndpoint, 0, len(byInstance))
	now := time.Now()

	for _, ep := range byInstance {
		snapshot := *ep
		if r.ttl > 0 && now.Sub(snapshot.LastChecked) > r.ttl {
			snapshot.Health = domain.HealthStatusUnreachable
		}
		endpoints = append(endpoints, snapshot)
	}

	sort.Slice(endpoints, func(i, j int) bool {
		return endpoints[i].InstanceID < endpoints[j].InstanceID
	})

	return endpoints
}

// MarkHealth applies an external probe result to an instance
func (r *InMemoryEndpointRegistry) MarkHealth(instanceID string, status domain.HealthStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	serviceName, ok := r.instances[instanceID]
	if !ok {
		return errors.Errorf("unknown instance %q", instanceID)
	}

	ep := r.services[serviceName][instanceID]
	ep.Health = status
	ep.LastChecked = time.Now()

	return nil
}

// Deregister removes an instance entirely
func (r *InMemoryEndpointRegistry) Deregister(instanceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	serviceName, ok := r.instances[instanceID]
	if !ok {
		return errors.Errorf("unknown instance %q", instanceID)
	}

	delete(r.services[serviceName], instanceID)
	delete(r.instances, instanceID)
	if len(r.services[serviceName]) == 0 {
		delete(r.services, serviceName)
	}

	log.Info().Str("service", serviceName).Str("instance", instanceID).Msg("endpoint deregistered")
	return nil
}

// StartSweeper runs the grace-period sweep until ctx is cancelled
func (r *InMemoryEndpointRegistry) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
}

func (r *InMemoryEndpointRegistry) sweep() {
	if r.ttl <= 0 && r.grace <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-(r.ttl + r.grace))
	for serviceName, byInstance := range r.services {
		for instanceID, ep := range byInstance {
			if ep.LastChecked.Before(cutoff) {
				delete(byInstance, instanceID)
				delete(r.instances, instanceID)
				log.Warn().
					Str("service", serviceName).
					Str("instance", instanceID).
					Msg("endpoint swept after grace period")
			}
		}
		if len(byInstance) == 0 {
			delete(r.services, serviceName)
		}
	}
}
