// Package handlers contains HTTP handler interfaces and implementations.
package handlers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH CHECK INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// Health status values.
const (
	StatusOK        = "ok"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthChecker defines the interface for health checking.
type HealthChecker interface {
	// Check performs a health check and returns the status.
	Check(ctx context.Context) HealthStatus
}

// HealthCheckFunc is a function that performs a single health check.
// It returns an error if the check fails.
type HealthCheckFunc func(ctx context.Context) error

// HealthStatus represents the overall health status of the service.
type HealthStatus struct {
	// Status is one of ok, degraded or unhealthy.
	Status string `json:"status"`

	// Healthy is false only when a required check failed.
	Healthy bool `json:"healthy"`

	Message string                 `json:"message,omitempty"`
	Checks  map[string]CheckResult `json:"checks,omitempty"`

	Uptime    string    `json:"uptime,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// CheckResult represents the result of a single health check.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Optional bool   `json:"optional,omitempty"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPOSITE HEALTH CHECKER
// ══════════════════════════════════════════════════════════════════════════════

type registeredCheck struct {
	fn       HealthCheckFunc
	optional bool
}

// CompositeHealthChecker aggregates multiple health checks.
// A failed optional check (mirrors, cache) degrades the status without
// making the service unhealthy.
type CompositeHealthChecker struct {
	mu        sync.RWMutex
	checks    map[string]registeredCheck
	startTime time.Time
	version   string
	timeout   time.Duration
	now       func() time.Time
}

// NewCompositeHealthChecker creates a new composite health checker.
func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		checks:    make(map[string]registeredCheck),
		startTime: time.Now(),
		version:   version,
		timeout:   5 * time.Second,
		now:       time.Now,
	}
}

// SetTimeout sets the timeout for individual health checks.
func (c *CompositeHealthChecker) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// AddCheck adds a required health check.
func (c *CompositeHealthChecker) AddCheck(name string, check HealthCheckFunc) {
	c.add(name, check, false)
}

// AddOptionalCheck adds a check whose failure only degrades the status.
func (c *CompositeHealthChecker) AddOptionalCheck(name string, check HealthCheckFunc) {
	c.add(name, check, true)
}

func (c *CompositeHealthChecker) add(name string, check HealthCheckFunc, optional bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = registeredCheck{fn: check, optional: optional}
}

// RemoveCheck removes a named health check.
func (c *CompositeHealthChecker) RemoveCheck(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

type namedResult struct {
	name   string
	result CheckResult
}

// Check performs all health checks in parallel and returns the aggregated status.
func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := make(map[string]registeredCheck, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	status := HealthStatus{
		Status:    StatusOK,
		Healthy:   true,
		Checks:    make(map[string]CheckResult, len(checks)),
		Uptime:    c.now().Sub(c.startTime).Round(time.Second).String(),
		Timestamp: c.now().UTC(),
		Version:   c.version,
	}
	if len(checks) == 0 {
		status.Message = "No health checks registered"
		return status
	}

	var wg sync.WaitGroup
	results := make(chan namedResult, len(checks))
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check registeredCheck) {
			defer wg.Done()
			results <- namedResult{name: name, result: c.run(ctx, check)}
		}(name, check)
	}
	wg.Wait()
	close(results)

	var failedRequired, failedOptional []string
	for r := range results {
		status.Checks[r.name] = r.result
		if r.result.Healthy {
			continue
		}
		if r.result.Optional {
			failedOptional = append(failedOptional, r.name)
		} else {
			failedRequired = append(failedRequired, r.name)
		}
	}
	sort.Strings(failedRequired)
	sort.Strings(failedOptional)

	switch {
	case len(failedRequired) > 0:
		status.Status = StatusUnhealthy
		status.Healthy = false
		status.Message = "Required checks failed: " + strings.Join(failedRequired, ", ")
	case len(failedOptional) > 0:
		status.Status = StatusDegraded
		status.Message = "Optional checks failed: " + strings.Join(failedOptional, ", ")
	default:
		status.Message = "All checks passed"
	}
	return status
}

func (c *CompositeHealthChecker) run(ctx context.Context, check registeredCheck) (result CheckResult) {
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = CheckResult{Optional: check.optional, Message: fmt.Sprintf("panic: %v", r)}
		}
		result.Duration = time.Since(start).Round(time.Millisecond).String()
	}()

	err := check.fn(checkCtx)
	result = CheckResult{Healthy: err == nil, Optional: check.optional, Message: "OK"}
	if err != nil {
		result.Message = err.Error()
	}
	return result
}

// ══════════════════════════════════════════════════════════════════════════════
// PREDEFINED HEALTH CHECKS
// ══════════════════════════════════════════════════════════════════════════════

// Pinger is satisfied by the Postgres connection and the Redis client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewPingCheck creates a connectivity check.
func NewPingCheck(p Pinger) HealthCheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// StateSource reports when the leaderboard was last rebuilt.
type StateSource interface {
	// LastUpdate returns the last successful cycle time and whether state is loaded.
	LastUpdate() (time.Time, bool)
}

// StateSourceFunc adapts a function to StateSource.
type StateSourceFunc func() (time.Time, bool)

// LastUpdate calls f.
func (f StateSourceFunc) LastUpdate() (time.Time, bool) { return f() }

// NewLoadedCheck fails until the leaderboard has been loaded.
func NewLoadedCheck(src StateSource) HealthCheckFunc {
	return func(context.Context) error {
		if _, loaded := src.LastUpdate(); !loaded {
			return fmt.Errorf("leaderboard not loaded yet")
		}
		return nil
	}
}

// NewFreshnessCheck fails when no cycle has succeeded within maxAge.
func NewFreshnessCheck(src StateSource, maxAge time.Duration, now func() time.Time) HealthCheckFunc {
	if now == nil {
		now = time.Now
	}
	return func(context.Context) error {
		last, loaded := src.LastUpdate()
		if !loaded || last.IsZero() {
			return fmt.Errorf("no successful update yet")
		}
		if age := now().Sub(last); age > maxAge {
			return fmt.Errorf("last update %s ago exceeds %s", age.Round(time.Second), maxAge)
		}
		return nil
	}
}
