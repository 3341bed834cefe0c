// Package circuitbreaker implements per-deployment failure protection.
// An open breaker removes its deployment from the healthy set handed to the
// usage-based router, so traffic shifts away from failing backends before
// their usage counters ever come into play.
//
// States:
//   - Closed: normal operation, requests pass through
//   - Open: deployment unhealthy, excluded from routing
//   - Half-Open: testing recovery, limited requests allowed
//
// Implementations:
//   - InMemoryCircuitBreaker: single instance, sync.RWMutex
//   - RedisCircuitBreaker: distributed, Lua scripts for atomicity
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/felipepmaragno/ai-router/internal/domain"
)

// CircuitBreaker is satisfied by both the in-memory and Redis-backed
// implementations.
type CircuitBreaker interface {
	// Allow returns nil if a request may proceed, ErrCircuitBreakerOpen if
	// the circuit is open.
	Allow(ctx context.Context) error

	// RecordSuccess records a successful request. In half-open state,
	// enough successes close the circuit.
	RecordSuccess(ctx context.Context)

	// RecordFailure records a failed request. Enough failures open the
	// circuit.
	RecordFailure(ctx context.Context)

	// State returns the current breaker state.
	State(ctx context.Context) State
}

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type Config struct {
	FailureThreshold int           // Failures before opening
	SuccessThreshold int           // Successes to close from half-open
	Timeout          time.Duration // Time before transitioning to half-open
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// InMemoryCircuitBreaker tracks failures for one deployment. Suitable for
// single-instance gateways.
type InMemoryCircuitBreaker struct {
	mu          sync.RWMutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
	config      Config
}

func NewInMemory(cfg Config) *InMemoryCircuitBreaker {
	return &InMemoryCircuitBreaker{
		state:  StateClosed,
		config: cfg,
	}
}

func (cb *InMemoryCircuitBreaker) Allow(ctx context.Context) error {
	cb.mu.RLock()
	state := cb.state
	lastFailure := cb.lastFailure
	cb.mu.RUnlock()

	switch state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(lastFailure) > cb.config.Timeout {
			cb.mu.Lock()
			if cb.state == StateOpen {
				cb.state = StateHalfOpen
				cb.successes = 0
			}
			cb.mu.Unlock()
			return nil
		}
		return domain.ErrCircuitBreakerOpen
	case StateHalfOpen:
		return nil
	}

	return nil
}

func (cb *InMemoryCircuitBreaker) RecordSuccess(ctx context.Context) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.state = StateClosed
			cb.failures = 0
			cb.successes = 0
		}
	}
}

func (cb *InMemoryCircuitBreaker) RecordFailure(ctx context.Context) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = time.Now()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.state = StateOpen
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.successes = 0
	}
}

func (cb *InMemoryCircuitBreaker) State(ctx context.Context) State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Manager holds one breaker per deployment, created on first use.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]CircuitBreaker
	config   Config
	factory  func(deploymentID string) CircuitBreaker
}

type ManagerOption func(*Manager)

// WithRedis switches the manager to distributed, Redis-backed breakers.
func WithRedis(redisURL string) ManagerOption {
	return func(m *Manager) {
		m.factory = func(deploymentID string) CircuitBreaker {
			cb, err := NewRedis(redisURL, deploymentID, m.config)
			if err != nil {
				return NewInMemory(m.config)
			}
			return cb
		}
	}
}

func NewManager(cfg Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		breakers: make(map[string]CircuitBreaker),
		config:   cfg,
		factory: func(deploymentID string) CircuitBreaker {
			return NewInMemory(cfg)
		},
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Get returns the breaker for a deployment, creating one if needed.
func (m *Manager) Get(deploymentID string) CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[deploymentID]
	m.mu.RUnlock()

	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.breakers[deploymentID]; ok {
		return existing
	}

	cb = m.factory(deploymentID)
	m.breakers[deploymentID] = cb
	return cb
}

// States reports the current state of every known breaker.
func (m *Manager) States() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ctx := context.Background()
	states := make(map[string]string)
	for id, cb := range m.breakers {
		states[id] = cb.State(ctx).String()
	}
	return states
}
