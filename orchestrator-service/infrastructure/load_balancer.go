package infrastructure

import (
	"hash/fnv"
	"sort"
	"sync"

	"github.com/meinzeug/autodevai-orchestrator/orchestrator-service/domain"
)

// BalancingStrategy selects among healthy endpoints
type BalancingStrategy string

const (
	StrategyRoundRobin       BalancingStrategy = "round_robin"
	StrategyLeastConnections BalancingStrategy = "least_connections"
	StrategyIPHash           BalancingStrategy = "ip_hash"
)

// LoadBalancer picks one healthy endpoint per call. Candidates are sorted
// by instance ID before the strategy applies, so ties and cursors are
// deterministic.
type LoadBalancer struct {
	strategy BalancingStrategy

	mu       sync.Mutex
	cursors  map[string]uint64 // service name -> round-robin cursor
	inflight map[string]int64  // instance ID -> in-flight calls
}

var _ domain.EndpointSelector = (*LoadBalancer)(nil)

// NewLoadBalancer creates a balancer with the given strategy. An
// unrecognized strategy falls back to round robin.
func NewLoadBalancer(strategy BalancingStrategy) *LoadBalancer {
	switch strategy {
	case StrategyRoundRobin, StrategyLeastConnections, StrategyIPHash:
	default:
		strategy = StrategyRoundRobin
	}
	return &LoadBalancer{
		strategy: strategy,
		cursors:  make(map[string]uint64),
		inflight: make(map[string]int64),
	}
}

// Select picks an endpoint among the Healthy candidates, failing with
// NoHealthyEndpoint when none qualifies. Cost is O(len(candidates)).
func (lb *LoadBalancer) Select(serviceName string, candidates []domain.ServiceEndpoint, hint string) (domain.ServiceEndpoint, error) {
	healthy := make([]domain.ServiceEndpoint, 0, len(candidates))
	for _, ep := range candidates {
		if ep.Health == domain.HealthStatusHealthy {
			healthy = append(healthy, ep)
		}
	}
	if len(healthy) == 0 {
		return domain.ServiceEndpoint{}, domain.NewNoHealthyEndpointError(serviceName)
	}

	sort.Slice(healthy, func(i, j int) bool {
		return healthy[i].InstanceID < healthy[j].InstanceID
	})

	lb.mu.Lock()
	defer lb.mu.Unlock()

	switch lb.strategy {
	case StrategyLeastConnections:
		return lb.selectLeastConnections(healthy), nil
	case StrategyIPHash:
		if hint != "" {
			return lb.selectByHash(healthy, hint), nil
		}
		// No stickiness key supplied; cycle instead of pinning slot zero.
		return lb.selectRoundRobin(serviceName, healthy), nil
	default:
		return lb.selectRoundRobin(serviceName, healthy), nil
	}
}

// Acquire increments the in-flight counter for an instance
func (lb *LoadBalancer) Acquire(instanceID string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.inflight[instanceID]++
}

// Release decrements the in-flight counter for an instance
func (lb *LoadBalancer) Release(instanceID string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if lb.inflight[instanceID] > 0 {
		lb.inflight[instanceID]--
	}
}

// Inflight returns the current in-flight count for an instance
func (lb *LoadBalancer) Inflight(instanceID string) int64 {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.inflight[instanceID]
}

func (lb *LoadBalancer) selectRoundRobin(serviceName string, healthy []domain.ServiceEndpoint) domain.ServiceEndpoint {
	cursor := lb.cursors[serviceName]
	lb.cursors[serviceName] = cursor + 1
	return healthy[cursor%uint64(len(healthy))]
}

func (lb *LoadBalancer) selectLeastConnections(healthy []domain.ServiceEndpoint) domain.ServiceEndpoint {
	best := healthy[0]
	bestCount := lb.inflight[best.InstanceID]
	for _, ep := range healthy[1:] {
		if count := lb.inflight[ep.InstanceID]; count < bestCount {
			best = ep
			bestCount = count
		}
	}
	return best
}

func (lb *LoadBalancer) selectByHash(healthy []domain.ServiceEndpoint, hint string) domain.ServiceEndpoint {
	h := fnv.New32a()
	h.Write([]byte(hint))
	return healthy[h.Sum32()%uint32(len(healthy))]
}
