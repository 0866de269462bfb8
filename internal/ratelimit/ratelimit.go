// Package ratelimit spaces outbound requests to a host-friendly pace.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter grants at most one slot per interval. Callers wait in the order
// they arrive; a waiting caller sleeps on a timer rather than polling.
// The zero interval disables limiting.
type Limiter struct {
	name     string
	interval time.Duration
	limiter  *rate.Limiter
}

// New creates a limiter with the given minimum interval between slots.
func New(name string, interval time.Duration) *Limiter {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Limiter{
		name:     name,
		interval: interval,
		// Burst 1: no two slots are ever granted inside one interval.
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Wait blocks until a slot is granted or ctx is done. A cancelled wait
// returns its reservation, so it does not delay later callers.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// Name identifies the limiter in logs.
func (l *Limiter) Name() string {
	return l.name
}

// Interval returns the configured minimum spacing.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}
