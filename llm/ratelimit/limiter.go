// Package ratelimit wraps golang.org/x/time/rate into the per-provider
// client-side limiter configured by RateLimitPerMin.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket sized to a requests-per-minute budget.
// A zero or negative budget disables limiting.
type Limiter struct {
	perMin  int
	limiter *rate.Limiter
}

// New creates a limiter allowing perMin requests per minute with a burst of
// the full minute budget.
func New(perMin int) *Limiter {
	if perMin <= 0 {
		return &Limiter{perMin: 0, limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	interval := time.Minute / time.Duration(perMin)
	return &Limiter{
		perMin:  perMin,
		limiter: rate.NewLimiter(rate.Every(interval), perMin),
	}
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// Allow reports whether a token is available right now and consumes it.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// Limit returns the configured per-minute budget, 0 when unlimited.
func (l *Limiter) Limit() int {
	return l.perMin
}

// Status synthesizes a conservative rate-limit view from local bucket state:
// remaining tokens now, reset at the next minute boundary.
func (l *Limiter) Status() (limit, remaining int, resetAt time.Time) {
	resetAt = time.Now().Truncate(time.Minute).Add(time.Minute)
	if l.perMin <= 0 {
		return 0, 1, resetAt
	}
	tokens := int(l.limiter.Tokens())
	if tokens < 0 {
		tokens = 0
	}
	if tokens > l.perMin {
		tokens = l.perMin
	}
	return l.perMin, tokens, resetAt
}
