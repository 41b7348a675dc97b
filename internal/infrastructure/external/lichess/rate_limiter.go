package lichess

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lqo-hub/lqo-leaderboard/internal/domain/shared"
	"github.com/lqo-hub/lqo-leaderboard/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER - request pacing and 429 back-off
// ══════════════════════════════════════════════════════════════════════════════

// RateLimiter paces requests to the game server. It enforces a minimum interval
// between requests and, after a 429, holds every request until Retry-After elapses.
// The block survives across Fetch calls, so a cancelled cycle does not let the
// next one hammer the API.
type RateLimiter struct {
	mu sync.Mutex

	minInterval       time.Duration
	defaultRetryAfter time.Duration

	lastRequest  time.Time
	blockedUntil time.Time
	hits         int

	now   func() time.Time
	sleep retry.SleepFunc
}

// RateLimiterConfig contains configuration for the rate limiter.
type RateLimiterConfig struct {
	// MinInterval is the minimum time between request starts.
	MinInterval time.Duration

	// DefaultRetryAfter is used when a 429 carries no usable Retry-After header.
	DefaultRetryAfter time.Duration

	// Now and Sleep are injectable for tests.
	Now   func() time.Time
	Sleep retry.SleepFunc
}

// DefaultRateLimiterConfig returns the defaults used against lichess.org.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		MinInterval:       0,
		DefaultRetryAfter: 10 * time.Second,
	}
}

// NewRateLimiter creates a new RateLimiter with the given configuration.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Sleep == nil {
		config.Sleep = retry.Sleep
	}
	if config.DefaultRetryAfter <= 0 {
		config.DefaultRetryAfter = 10 * time.Second
	}
	return &RateLimiter{
		minInterval:       config.MinInterval,
		defaultRetryAfter: config.DefaultRetryAfter,
		now:               config.Now,
		sleep:             config.Sleep,
	}
}

// RateLimitError is returned for an HTTP 429 response.
type RateLimitError struct {
	// RetryAfter is the wait requested by the server
	RetryAfter time.Duration

	// Message provides additional context
	Message string
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s (retry after %s)", e.Message, e.RetryAfter)
}

// Is implements errors.Is interface.
func (e *RateLimitError) Is(target error) bool {
	if _, ok := target.(*RateLimitError); ok {
		return true
	}
	return errors.Is(shared.ErrRateLimited, target)
}

// Allow blocks until a request may be sent or ctx is done.
func (rl *RateLimiter) Allow(ctx context.Context) error {
	if wait := rl.WaitTime(); wait > 0 {
		if err := rl.sleep(ctx, wait); err != nil {
			return err
		}
	}

	rl.mu.Lock()
	rl.lastRequest = rl.now()
	rl.mu.Unlock()
	return nil
}

// WaitTime returns how long to wait before the next request can be made.
func (rl *RateLimiter) WaitTime() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	var wait time.Duration
	if rl.blockedUntil.After(now) {
		wait = rl.blockedUntil.Sub(now)
	}
	if rl.minInterval > 0 && !rl.lastRequest.IsZero() {
		if next := rl.lastRequest.Add(rl.minInterval); next.After(now) && next.Sub(now) > wait {
			wait = next.Sub(now)
		}
	}
	return wait
}

// RecordRateLimitHit records a 429 and returns the effective wait.
func (rl *RateLimiter) RecordRateLimitHit(retryAfter time.Duration) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if retryAfter <= 0 {
		retryAfter = rl.defaultRetryAfter
	}
	until := rl.now().Add(retryAfter)
	if until.After(rl.blockedUntil) {
		rl.blockedUntil = until
	}
	rl.hits++
	return retryAfter
}

// RateLimiterStatus is a point-in-time view of the limiter.
type RateLimiterStatus struct {
	BlockedUntil time.Time
	LastRequest  time.Time
	Hits         int
}

// Status returns the current status of the rate limiter.
func (rl *RateLimiter) Status() RateLimiterStatus {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return RateLimiterStatus{
		BlockedUntil: rl.blockedUntil,
		LastRequest:  rl.lastRequest,
		Hits:         rl.hits,
	}
}
