package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	errx "github.com/procura-agent/server/internal/core/error"
)

// DefaultCallTimeout bounds a single raw provider call.
const DefaultCallTimeout = 30 * time.Second

// Pipeline composes the reliability primitives for one provider:
// rate limiter slot, then retry policy, then breaker-gated raw call. The slot
// is held for the whole retry sequence; every attempt takes its own
// requests-per-minute token and runs under its own timeout.
type Pipeline struct {
	name        string
	limiter     *RateLimiter
	retry       *RetryPolicy
	breaker     *CircuitBreaker
	callTimeout time.Duration
}

// NewPipeline wires the given primitives. A non-positive callTimeout uses
// [DefaultCallTimeout].
func NewPipeline(name string, limiter *RateLimiter, retry *RetryPolicy, breaker *CircuitBreaker, callTimeout time.Duration) *Pipeline {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Pipeline{
		name:        name,
		limiter:     limiter,
		retry:       retry,
		breaker:     breaker,
		callTimeout: callTimeout,
	}
}

// Name returns the provider this pipeline guards.
func (p *Pipeline) Name() string { return p.name }

// Breaker exposes the pipeline's circuit breaker.
func (p *Pipeline) Breaker() *CircuitBreaker { return p.breaker }

// Limiter exposes the pipeline's rate limiter.
func (p *Pipeline) Limiter() *RateLimiter { return p.limiter }

// Execute runs call through the pipeline. Errors are always one of
// *errx.ProviderUnavailableError or *errx.ProviderCallFailedError.
func (p *Pipeline) Execute(ctx context.Context, call func(ctx context.Context) error) error {
	release, err := p.limiter.Acquire(ctx)
	if err != nil {
		return &errx.ProviderCallFailedError{Provider: p.name, Attempts: 0, Err: err}
	}
	defer release()

	return p.retry.Do(ctx, func(ctx context.Context) error {
		return p.attempt(ctx, call)
	})
}

// Run is Execute for calls that produce a value.
func Run[T any](ctx context.Context, p *Pipeline, call func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Execute(ctx, func(ctx context.Context) error {
		v, err := call(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (p *Pipeline) attempt(ctx context.Context, call func(ctx context.Context) error) error {
	return p.breaker.Execute(func() error {
		if err := p.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %w", errCallerGone, err)
		}
		callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
		defer cancel()

		err := call(callCtx)
		if err != nil && ctx.Err() != nil {
			return fmt.Errorf("%w: %w", errCallerGone, ctx.Err())
		}
		if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("provider call timed out after %s: %w", p.callTimeout, errors.Join(err, context.DeadlineExceeded))
		}
		return err
	})
}
