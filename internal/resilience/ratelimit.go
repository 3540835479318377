package resilience

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// RateLimiterConfig holds tuning knobs for a [RateLimiter].
type RateLimiterConfig struct {
	Name string

	// MaxConcurrency bounds in-flight calls. Default: 4.
	MaxConcurrency int

	// RequestsPerMinute is an optional throughput budget. Zero disables it.
	RequestsPerMinute int

	// OnQueueDepth is called whenever the number of queued callers changes.
	OnQueueDepth func(name string, depth int)
}

// RateLimiter gates calls to one provider. Callers beyond MaxConcurrency
// queue and are admitted in arrival order. When a requests-per-minute budget
// is set, callers that exhaust it wait for refill instead of failing.
type RateLimiter struct {
	name         string
	max          int64
	slots        *semaphore.Weighted
	budget       *rate.Limiter
	onQueueDepth func(name string, depth int)

	waiting  atomic.Int64
	inFlight atomic.Int64
}

// NewRateLimiter creates a [RateLimiter].
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	l := &RateLimiter{
		name:         cfg.Name,
		max:          int64(cfg.MaxConcurrency),
		slots:        semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		onQueueDepth: cfg.OnQueueDepth,
	}
	if cfg.RequestsPerMinute > 0 {
		burst := cfg.MaxConcurrency
		if burst > cfg.RequestsPerMinute {
			burst = cfg.RequestsPerMinute
		}
		l.budget = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), burst)
	}
	return l
}

// Acquire blocks until a concurrency slot is free or ctx is done. The
// returned release func must be called exactly once.
func (l *RateLimiter) Acquire(ctx context.Context) (release func(), err error) {
	if !l.slots.TryAcquire(1) {
		l.setWaiting(l.waiting.Add(1))
		err = l.slots.Acquire(ctx, 1)
		l.setWaiting(l.waiting.Add(-1))
		if err != nil {
			return nil, err
		}
	}
	l.inFlight.Add(1)

	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			l.inFlight.Add(-1)
			l.slots.Release(1)
		}
	}, nil
}

// Wait consumes one request from the per-minute budget, blocking until it
// refills. It returns immediately when no budget is configured.
func (l *RateLimiter) Wait(ctx context.Context) error {
	if l.budget == nil {
		return nil
	}
	return l.budget.Wait(ctx)
}

// Do runs fn once admitted and releases the slot when fn returns, including
// when it panics.
func (l *RateLimiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	release, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := l.Wait(ctx); err != nil {
		return err
	}
	return fn(ctx)
}

// Waiting returns the number of queued callers.
func (l *RateLimiter) Waiting() int {
	return int(l.waiting.Load())
}

// InFlight returns the number of admitted callers that have not released.
func (l *RateLimiter) InFlight() int {
	return int(l.inFlight.Load())
}

// MaxConcurrency returns the configured slot count.
func (l *RateLimiter) MaxConcurrency() int {
	return int(l.max)
}

func (l *RateLimiter) setWaiting(n int64) {
	if l.onQueueDepth != nil {
		l.onQueueDepth(l.name, int(n))
	}
}
