// Package ratelimit provides the process-wide pacing gate for outbound LLM
// requests. Every client call acquires a slot before sending, so in-flight
// parallelism across all worker pools is capped by the configured spacing.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter enforces a minimum spacing between successive acquisitions,
// measured on a monotonic clock. Safe for concurrent use; contention is
// expected since outbound LLM requests are the bottleneck.
type Limiter struct {
	limiter *rate.Limiter
	spacing time.Duration
}

// New creates a limiter with the given minimum spacing. A non-positive
// spacing disables pacing entirely.
func New(minSpacing time.Duration) *Limiter {
	if minSpacing <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	// Burst 1 turns the token bucket into a pure spacing gate: no two
	// acquisitions can succeed closer than minSpacing apart.
	return &Limiter{
		limiter: rate.NewLimiter(rate.Every(minSpacing), 1),
		spacing: minSpacing,
	}
}

// Acquire blocks until at least the minimum spacing has elapsed since the
// previous successful acquisition, or until ctx is cancelled.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// MinSpacing returns the configured spacing (zero when disabled).
func (l *Limiter) MinSpacing() time.Duration { return l.spacing }
