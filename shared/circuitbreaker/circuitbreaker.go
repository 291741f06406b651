// Package circuitbreaker provides per-service fault isolation on top of
// sony/gobreaker. One breaker exists per service name; unrelated services
// never block each other.
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// State represents circuit breaker state
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
	StateUnknown  State = "unknown"
)

// Counts represents circuit breaker statistics
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Config holds circuit breaker configuration
type Config struct {
	// FailureThreshold is the consecutive failure count that trips the
	// breaker open. Counting is consecutive, not time-windowed.
	FailureThreshold uint32
	// SuccessThreshold is the consecutive success count in half-open
	// that closes the breaker; it also bounds the probe calls admitted.
	SuccessThreshold uint32
	// RecoveryTimeout is how long the breaker stays open before the next
	// call transitions it to half-open.
	RecoveryTimeout time.Duration
	// CallTimeout bounds each gated call when the caller supplies none.
	CallTimeout time.Duration
}

// DefaultConfig provides balanced settings for most backends
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  60 * time.Second,
		CallTimeout:      30 * time.Second,
	}
}

// StateChangeListener is notified when a circuit breaker changes state
type StateChangeListener interface {
	OnStateChange(serviceName string, from State, to State)
}

// ErrOpenState is returned when a call is rejected without being
// attempted because the breaker is open (or half-open and saturated).
var ErrOpenState = gobreaker.ErrOpenState

// Manager owns one breaker per service name. The check-then-act on each
// breaker is atomic with respect to concurrent callers.
type Manager struct {
	mu        sync.RWMutex
	breakers  map[string]*gobreaker.CircuitBreaker
	listeners []StateChangeListener
	config    Config

	// countsAsFailure decides which errors advance the failure count.
	// Errors it rejects still propagate but leave the breaker untouched.
	countsAsFailure func(error) bool
}

// NewManager creates a circuit breaker manager. countsAsFailure may be
// nil, in which case every error counts.
func NewManager(config Config, countsAsFailure func(error) bool) *Manager {
	if countsAsFailure == nil {
		countsAsFailure = func(err error) bool { return err != nil }
	}
	return &Manager{
		breakers:        make(map[string]*gobreaker.CircuitBreaker),
		listeners:       make([]StateChangeListener, 0),
		config:          config,
		countsAsFailure: countsAsFailure,
	}
}

// RegisterStateChangeListener registers a listener for state changes
func (m *Manager) RegisterStateChangeListener(listener StateChangeListener) {
	if listener == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, listener)
}

// Execute runs fn through the breaker for serviceName, bounded by
// timeout (or the configured call timeout when zero). When the breaker
// is open, fn is not invoked and ErrOpenState is returned.
func (m *Manager) Execute(ctx context.Context, serviceName string, timeout time.Duration, fn func(ctx context.Context) (any, error)) (any, error) {
	breaker := m.getOrCreate(serviceName)

	if timeout <= 0 {
		timeout = m.config.CallTimeout
	}

	result, err := breaker.Execute(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fn(callCtx)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		log.Warn().Str("service", serviceName).Msg("circuit breaker rejected call")
		return nil, ErrOpenState
	}

	return result, err
}

// State returns the current state for a service's breaker
func (m *Manager) State(serviceName string) State {
	m.mu.RLock()
	breaker, exists := m.breakers[serviceName]
	m.mu.RUnlock()

	if !exists {
		return StateUnknown
	}
	return convertState(breaker.State())
}

// Counts returns the current counts for a service's breaker
func (m *Manager) Counts(serviceName string) Counts {
	m.mu.RLock()
	breaker, exists := m.breakers[serviceName]
	m.mu.RUnlock()

	if !exists {
		return Counts{}
	}

	counts := breaker.Counts()
	return Counts{
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
	}
}

func (m *Manager) getOrCreate(serviceName string) *gobreaker.CircuitBreaker {
	m.mu.RLock()
	breaker, exists := m.breakers[serviceName]
	m.mu.RUnlock()

	if exists {
		return breaker
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if breaker, exists = m.breakers[serviceName]; exists {
		return breaker
	}

	failureThreshold := m.config.FailureThreshold
	settings := gobreaker.Settings{
		Name:        serviceName,
		MaxRequests: m.config.SuccessThreshold,
		Timeout:     m.config.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		IsSuccessful: func(err error) bool {
			return !m.countsAsFailure(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			m.handleStateChange(name, from, to)
		},
	}

	breaker = gobreaker.NewCircuitBreaker(settings)
	m.breakers[serviceName] = breaker

	log.Debug().Str("service", serviceName).Msg("created circuit breaker")
	return breaker
}

func (m *Manager) handleStateChange(serviceName string, from gobreaker.State, to gobreaker.State) {
	fromState := convertState(from)
	toState := convertState(to)

	log.Warn().
		Str("service", serviceName).
		Str("from", string(fromState)).
		Str("to", string(toState)).
		Msg("circuit breaker state changed")

	m.mu.RLock()
	listeners := make([]StateChangeListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.RUnlock()

	for _, listener := range listeners {
		// Listeners run detached so a slow subscriber never blocks the
		// breaker's critical section.
		go func(l StateChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Str("service", serviceName).Interface("panic", r).Msg("state change listener panic")
				}
			}()
			l.OnStateChange(serviceName, fromState, toState)
		}(listener)
	}
}

func convertState(state gobreaker.State) State {
	switch state {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateUnknown
	}
}
