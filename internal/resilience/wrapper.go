// Package resilience wraps outward calls with three composed policies:
// rate limit, then circuit breaker, then bounded retry. One Wrapper exists
// per downstream dependency and is shared by all concurrent executions.
package resilience

import (
	"context"

	"scrape-orchestrator/internal/apperr"
)

// Wrapper composes a rate limiter, a circuit breaker, and a retry policy
// around an arbitrary operation. Any policy may be nil, in which case it is
// skipped.
type Wrapper struct {
	name    string
	limiter *Limiter
	breaker *Breaker
	retry   RetryConfig
}

// NewWrapper builds the composed wrapper for the named dependency.
func NewWrapper(name string, limiter *Limiter, breaker *Breaker, retry RetryConfig) *Wrapper {
	return &Wrapper{
		name:    name,
		limiter: limiter,
		breaker: breaker,
		retry:   retry,
	}
}

// Breaker exposes the wrapped breaker for observability wiring.
func (w *Wrapper) Breaker() *Breaker { return w.breaker }

// Do runs fn under rate limit, circuit breaker, and retry, in that order:
// a rate-limited call never reaches the breaker, and an open circuit fails
// fast before any retry attempt is made. The breaker records one outcome per
// Do call, after the retry budget is spent; only downstream failures count
// against the circuit.
func (w *Wrapper) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if w.limiter != nil {
		allowed, _, err := w.limiter.Allow(ctx, "rl:"+w.name)
		if err != nil {
			return err
		}
		if !allowed {
			return apperr.New(apperr.CodeRateLimited, op, "rate limit exceeded for %s", w.name)
		}
	}

	if w.breaker != nil {
		if !w.breaker.Acquire() {
			return apperr.New(apperr.CodeCircuitOpen, op, "circuit open for %s", w.name)
		}
		err := Retry(ctx, w.retry, fn)
		w.breaker.Record(!isCircuitFailure(err))
		return err
	}

	return Retry(ctx, w.retry, fn)
}

// isCircuitFailure reports whether an error should count against the breaker.
// Client-side errors (validation, not-found, illegal transitions) say nothing
// about the health of the downstream and must not open the circuit.
func isCircuitFailure(err error) bool {
	if err == nil {
		return false
	}
	switch apperr.CodeOf(err) {
	case apperr.CodeTransient, apperr.CodePersistence, apperr.CodeInternal:
		return true
	}
	return false
}
