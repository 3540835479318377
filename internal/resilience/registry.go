package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/procura-agent/server/internal/observe"
)

// Config is the per-provider reliability budget, loaded from the environment.
type Config struct {
	BreakerThreshold   int           `envconfig:"BREAKER_THRESHOLD" default:"5"`
	BreakerCooldown    time.Duration `envconfig:"BREAKER_COOLDOWN" default:"30s"`
	BreakerMaxCooldown time.Duration `envconfig:"BREAKER_MAX_COOLDOWN" default:"5m"`

	LimiterMaxConcurrency    int `envconfig:"LIMITER_MAX_CONCURRENCY" default:"4"`
	LimiterRequestsPerMinute int `envconfig:"LIMITER_REQUESTS_PER_MINUTE" default:"0"`

	RetryMaxAttempts    int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff time.Duration `envconfig:"RETRY_INITIAL_BACKOFF" default:"500ms"`
	RetryMaxBackoff     time.Duration `envconfig:"RETRY_MAX_BACKOFF" default:"8s"`

	CallTimeout time.Duration `envconfig:"LLM_CALL_TIMEOUT" default:"30s"`
}

// RegistryOption customises a [Registry].
type RegistryOption func(*Registry)

// WithMetrics reports breaker state, queue depth and retries to m.
func WithMetrics(m *observe.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithClock replaces the breaker clock, for tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// Registry owns one [Pipeline] per provider for the life of the process.
// It is built once at startup and handed to whoever makes provider calls.
type Registry struct {
	cfg     Config
	metrics *observe.Metrics
	now     func() time.Time

	mu        sync.Mutex
	pipelines map[string]*Pipeline
}

// NewRegistry creates an empty [Registry]; pipelines are created on first use.
func NewRegistry(cfg Config, opts ...RegistryOption) *Registry {
	r := &Registry{cfg: cfg, pipelines: make(map[string]*Pipeline)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Pipeline returns the pipeline for provider, creating it if needed.
func (r *Registry) Pipeline(provider string) *Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.pipelines[provider]; ok {
		return p
	}
	p := r.build(provider)
	r.pipelines[provider] = p
	return p
}

// Providers lists the providers that have a pipeline.
func (r *Registry) Providers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.pipelines))
	for name := range r.pipelines {
		out = append(out, name)
	}
	return out
}

func (r *Registry) build(provider string) *Pipeline {
	bcfg := CircuitBreakerConfig{
		Name:            provider,
		MaxFailures:     r.cfg.BreakerThreshold,
		ResetTimeout:    r.cfg.BreakerCooldown,
		MaxResetTimeout: r.cfg.BreakerMaxCooldown,
		Classify:        classifyProviderResult,
		Now:             r.now,
	}
	lcfg := RateLimiterConfig{
		Name:              provider,
		MaxConcurrency:    r.cfg.LimiterMaxConcurrency,
		RequestsPerMinute: r.cfg.LimiterRequestsPerMinute,
	}
	rcfg := RetryConfig{
		Name:           provider,
		MaxAttempts:    r.cfg.RetryMaxAttempts,
		InitialBackoff: r.cfg.RetryInitialBackoff,
		MaxBackoff:     r.cfg.RetryMaxBackoff,
		Jitter:         0.5,
	}

	if m := r.metrics; m != nil {
		ctx := context.Background()
		bcfg.OnStateChange = func(name string, _, to State) {
			m.SetCircuitState(ctx, name, stateGauge(to))
		}
		lcfg.OnQueueDepth = func(name string, depth int) {
			m.SetQueueDepth(ctx, name, int64(depth))
		}
		rcfg.OnRetry = func(name string, _ int, _ error, _ time.Duration) {
			m.RecordRetry(ctx, name)
		}
		m.SetCircuitState(ctx, provider, observe.CircuitClosed)
		m.SetQueueDepth(ctx, provider, 0)
	}

	return NewPipeline(provider,
		NewRateLimiter(lcfg),
		NewRetryPolicy(rcfg),
		NewCircuitBreaker(bcfg),
		r.cfg.CallTimeout,
	)
}

// classifyProviderResult counts only transient failures against the breaker.
// A provider that answers with a validation or auth error is reachable.
func classifyProviderResult(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, errCallerGone), errors.Is(err, context.Canceled):
		return OutcomeIgnore
	case IsTransient(err):
		return OutcomeFailure
	default:
		return OutcomeSuccess
	}
}

func stateGauge(s State) int64 {
	switch s {
	case StateOpen:
		return observe.CircuitOpen
	case StateHalfOpen:
		return observe.CircuitHalfOpen
	default:
		return observe.CircuitClosed
	}
}
