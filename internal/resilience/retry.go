package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	errx "github.com/procura-agent/server/internal/core/error"
	logx "github.com/procura-agent/server/pkg/logger"
)

// errCallerGone marks an attempt that ended because the caller's context was
// done. It is never retried and never counted against the breaker.
var errCallerGone = errors.New("caller context done")

// RetryConfig holds tuning knobs for a [RetryPolicy].
type RetryConfig struct {
	Name string

	// MaxAttempts bounds the total number of calls. Default: 3.
	MaxAttempts int

	// InitialBackoff is the first delay. Default: 500ms.
	InitialBackoff time.Duration

	// MaxBackoff caps a single delay. Default: 8s.
	MaxBackoff time.Duration

	// Jitter is the randomization factor applied to each delay. Default: 0.5.
	Jitter float64

	// IsTransient decides which errors are retried. Default: [IsTransient].
	IsTransient func(error) bool

	// OnRetry is called before sleeping ahead of attempt n+1.
	OnRetry func(name string, attempt int, err error, wait time.Duration)
}

// RetryPolicy re-runs a call on transient failures with exponential backoff
// and jitter. Attempts for one logical call are strictly sequential.
type RetryPolicy struct {
	cfg RetryConfig
}

// NewRetryPolicy creates a [RetryPolicy].
func NewRetryPolicy(cfg RetryConfig) *RetryPolicy {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 8 * time.Second
	}
	if cfg.Jitter < 0 || cfg.Jitter > 1 {
		cfg.Jitter = 0.5
	}
	if cfg.IsTransient == nil {
		cfg.IsTransient = IsTransient
	}
	return &RetryPolicy{cfg: cfg}
}

func (p *RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.InitialBackoff
	b.MaxInterval = p.cfg.MaxBackoff
	b.RandomizationFactor = p.cfg.Jitter
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.cfg.MaxAttempts-1)), ctx)
}

// Do calls fn until it succeeds, fails with a non-transient error, the
// breaker rejects it, or the attempt budget is spent.
//
// A breaker rejection at any point yields *errx.ProviderUnavailableError.
// Everything else that is not a success yields *errx.ProviderCallFailedError
// carrying the attempt count and the last underlying error.
func (p *RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := 0
	op := func() error {
		attempts++
		err := fn(ctx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrCircuitOpen), errors.Is(err, errCallerGone):
			return backoff.Permanent(err)
		case !p.cfg.IsTransient(err):
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logx.Debug().Err(err).Str("provider", p.cfg.Name).Int("attempt", attempts).Dur("backoff", wait).Msg("retrying provider call")
		if p.cfg.OnRetry != nil {
			p.cfg.OnRetry(p.cfg.Name, attempts, err, wait)
		}
	}

	err := backoff.RetryNotify(op, p.backOff(ctx), notify)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCircuitOpen) {
		return &errx.ProviderUnavailableError{Provider: p.cfg.Name}
	}
	return &errx.ProviderCallFailedError{Provider: p.cfg.Name, Attempts: attempts, Err: err}
}
