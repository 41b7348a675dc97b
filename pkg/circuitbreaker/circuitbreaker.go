// Package circuitbreaker guards optional sinks (database mirror, cache).
// After a run of failures the breaker opens and calls are rejected until a
// cool-down passes; one probe call then decides whether it closes again.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the current state of the circuit breaker.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the cool-down elapses.
	StateOpen
	// StateHalfOpen lets a single probe through.
	StateHalfOpen
)

// String returns the string representation of the state.
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

// ErrCircuitOpen is returned when a call is rejected.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds circuit breaker configuration.
type Config struct {
	// Name identifies this breaker in logs and metrics.
	Name string

	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int

	// Cooldown is how long the circuit stays open before a probe is allowed.
	Cooldown time.Duration

	// OnStateChange is called on every transition, outside the lock.
	OnStateChange func(name string, from, to State)

	// IsFailure decides whether an error counts. Context errors never count.
	IsFailure func(error) bool

	// Now is injectable for tests.
	Now func() time.Time
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 3,
		Cooldown:         time.Minute,
		Now:              time.Now,
	}
}

// Option configures a CircuitBreaker.
type Option func(*Config)

// WithFailureThreshold sets the number of failures before opening.
func WithFailureThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.FailureThreshold = n
		}
	}
}

// WithCooldown sets the open-state duration.
func WithCooldown(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Cooldown = d
		}
	}
}

// WithOnStateChange sets the transition callback.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(c *Config) {
		c.OnStateChange = fn
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		if now != nil {
			c.Now = now
		}
	}
}

// Counts holds cumulative counters.
type Counts struct {
	Calls               int
	Failures            int
	Rejected            int
	ConsecutiveFailures int
}

// CircuitBreaker implements the circuit breaker pattern.
type CircuitBreaker struct {
	config Config

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	probing  bool
}

// New creates a new CircuitBreaker with the given name and options.
func New(name string, opts ...Option) *CircuitBreaker {
	config := DefaultConfig(name)
	for _, opt := range opts {
		opt(&config)
	}
	return &CircuitBreaker{config: config, state: StateClosed}
}

// Execute runs fn unless the circuit rejects the call.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

type transition struct {
	from, to State
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	var tr *transition
	defer func() {
		cb.mu.Unlock()
		cb.notify(tr)
	}()

	switch cb.state {
	case StateOpen:
		if cb.config.Now().Sub(cb.openedAt) < cb.config.Cooldown {
			cb.counts.Rejected++
			return ErrCircuitOpen
		}
		tr = cb.setState(StateHalfOpen)
		cb.probing = true
		return nil
	case StateHalfOpen:
		if cb.probing {
			cb.counts.Rejected++
			return ErrCircuitOpen
		}
		cb.probing = true
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	var tr *transition
	defer func() {
		cb.mu.Unlock()
		cb.notify(tr)
	}()

	cb.counts.Calls++
	cb.probing = false

	if !cb.isFailure(err) {
		cb.counts.ConsecutiveFailures = 0
		if cb.state == StateHalfOpen {
			tr = cb.setState(StateClosed)
		}
		return
	}

	cb.counts.Failures++
	cb.counts.ConsecutiveFailures++
	if cb.state == StateHalfOpen || cb.counts.ConsecutiveFailures >= cb.config.FailureThreshold {
		cb.openedAt = cb.config.Now()
		tr = cb.setState(StateOpen)
	}
}

func (cb *CircuitBreaker) isFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if cb.config.IsFailure != nil {
		return cb.config.IsFailure(err)
	}
	return true
}

// setState must be called with the lock held.
func (cb *CircuitBreaker) setState(to State) *transition {
	if cb.state == to {
		return nil
	}
	from := cb.state
	cb.state = to
	if to == StateClosed {
		cb.counts.ConsecutiveFailures = 0
	}
	return &transition{from: from, to: to}
}

func (cb *CircuitBreaker) notify(tr *transition) {
	if tr != nil && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, tr.from, tr.to)
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Counts returns the current counts.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Reset closes the circuit and clears the counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.counts = Counts{}
	cb.probing = false
}

// Name returns the name of the circuit breaker.
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// ─────────────────────────────────────────────────────────────────────────────
// Presets
// ─────────────────────────────────────────────────────────────────────────────

// PostgresMirrorBreaker guards one relational mirror sink.
func PostgresMirrorBreaker(name string, onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(
		name,
		WithFailureThreshold(2),
		WithCooldown(30*time.Minute),
		WithOnStateChange(onStateChange),
	)
}

// RedisCacheBreaker guards the read cache; it recovers faster because every
// cycle rewrites the whole cache.
func RedisCacheBreaker(name string, onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(
		name,
		WithFailureThreshold(3),
		WithCooldown(10*time.Minute),
		WithOnStateChange(onStateChange),
	)
}
