// Package resilience provides the per-provider circuit breaker, rate limiter
// and retry policy, and the pipeline that composes them around a provider
// call. All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	logx "github.com/procura-agent/server/pkg/logger"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is
// open and the cool-down has not elapsed, or while the half-open probe is
// still in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards all calls.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the cool-down ends.
	StateOpen

	// StateHalfOpen lets exactly one probe call through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Outcome is how a call result affects breaker health.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	// OutcomeIgnore leaves counters untouched, e.g. when the caller gave up.
	OutcomeIgnore
)

// DefaultClassify counts every error as a failure except cancellation.
func DefaultClassify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, context.Canceled):
		return OutcomeIgnore
	default:
		return OutcomeFailure
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels logs and state change notifications.
	Name string

	// MaxFailures is the number of consecutive failures before the breaker
	// opens. Default: 5.
	MaxFailures int

	// ResetTimeout is the initial cool-down. Default: 30s.
	ResetTimeout time.Duration

	// MaxResetTimeout caps the cool-down, which doubles each time a probe
	// fails. Default: 5m. Values below ResetTimeout disable widening.
	MaxResetTimeout time.Duration

	// Classify maps a call result to an outcome. Default: DefaultClassify.
	Classify func(error) Outcome

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(name string, from, to State)

	// Now is the clock. Default: time.Now.
	Now func() time.Time
}

// CircuitBreaker implements the three-state circuit breaker with a single
// half-open probe.
type CircuitBreaker struct {
	name            string
	maxFailures     int
	resetTimeout    time.Duration
	maxResetTimeout time.Duration
	classify        func(error) Outcome
	onStateChange   func(name string, from, to State)
	now             func() time.Time

	mu              sync.Mutex
	state           State
	consecutiveFail int
	lastFailure     time.Time
	openUntil       time.Time
	cooldown        time.Duration
	probing         bool
}

// NewCircuitBreaker creates a [CircuitBreaker]. Zero-value config fields are
// replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.MaxResetTimeout <= 0 {
		cfg.MaxResetTimeout = 5 * time.Minute
	}
	if cfg.MaxResetTimeout < cfg.ResetTimeout {
		cfg.MaxResetTimeout = cfg.ResetTimeout
	}
	if cfg.Classify == nil {
		cfg.Classify = DefaultClassify
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		name:            cfg.Name,
		maxFailures:     cfg.MaxFailures,
		resetTimeout:    cfg.ResetTimeout,
		maxResetTimeout: cfg.MaxResetTimeout,
		classify:        cfg.Classify,
		onStateChange:   cfg.OnStateChange,
		now:             cfg.Now,
		state:           StateClosed,
		cooldown:        cfg.ResetTimeout,
	}
}

type transition struct{ from, to State }

// Execute runs fn if the breaker allows it. While open it returns
// [ErrCircuitOpen] without calling fn. The first call after the cool-down
// becomes the only half-open probe; concurrent calls are rejected until the
// probe settles.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	var changes []transition

	cb.mu.Lock()
	probe := false
	switch cb.state {
	case StateOpen:
		if cb.now().Before(cb.openUntil) {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		changes = append(changes, cb.setState(StateHalfOpen))
		cb.probing = true
		probe = true
	case StateHalfOpen:
		if cb.probing {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.probing = true
		probe = true
	}
	cb.mu.Unlock()
	cb.notify(changes)
	changes = changes[:0]

	err := fn()

	cb.mu.Lock()
	switch cb.classify(err) {
	case OutcomeSuccess:
		changes = cb.recordSuccess(probe, changes)
	case OutcomeFailure:
		changes = cb.recordFailure(probe, changes)
	case OutcomeIgnore:
		if probe {
			// Let the next caller probe instead.
			cb.probing = false
		}
	}
	cb.mu.Unlock()
	cb.notify(changes)
	return err
}

// recordFailure must be called with cb.mu held.
func (cb *CircuitBreaker) recordFailure(probe bool, changes []transition) []transition {
	now := cb.now()
	cb.lastFailure = now

	if probe {
		cb.probing = false
		cb.cooldown *= 2
		if cb.cooldown > cb.maxResetTimeout {
			cb.cooldown = cb.maxResetTimeout
		}
		cb.openUntil = now.Add(cb.cooldown)
		logx.Warn().Str("breaker", cb.name).Dur("cooldown", cb.cooldown).Msg("circuit breaker re-opened from half-open")
		return append(changes, cb.setState(StateOpen))
	}

	cb.consecutiveFail++
	if cb.state == StateClosed && cb.consecutiveFail >= cb.maxFailures {
		cb.openUntil = now.Add(cb.cooldown)
		logx.Warn().Str("breaker", cb.name).Int("consecutive_failures", cb.consecutiveFail).Msg("circuit breaker opened")
		return append(changes, cb.setState(StateOpen))
	}
	return changes
}

// recordSuccess must be called with cb.mu held.
func (cb *CircuitBreaker) recordSuccess(probe bool, changes []transition) []transition {
	cb.consecutiveFail = 0
	if !probe {
		return changes
	}
	cb.probing = false
	cb.cooldown = cb.resetTimeout
	logx.Info().Str("breaker", cb.name).Msg("circuit breaker closed after successful probe")
	return append(changes, cb.setState(StateClosed))
}

func (cb *CircuitBreaker) setState(to State) transition {
	t := transition{from: cb.state, to: to}
	cb.state = to
	return t
}

func (cb *CircuitBreaker) notify(changes []transition) {
	if cb.onStateChange == nil {
		return
	}
	for _, c := range changes {
		if c.from != c.to {
			cb.onStateChange(cb.name, c.from, c.to)
		}
	}
}

// State returns the current state. An open breaker whose cool-down has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && !cb.now().Before(cb.openUntil) {
		return StateHalfOpen
	}
	return cb.state
}

// Snapshot is a point-in-time copy of breaker state.
type Snapshot struct {
	State               State
	ConsecutiveFailures int
	LastFailure         time.Time
	OpenUntil           time.Time
}

func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		State:               cb.state,
		ConsecutiveFailures: cb.consecutiveFail,
		LastFailure:         cb.lastFailure,
		OpenUntil:           cb.openUntil,
	}
}

// Reset forces the breaker back to [StateClosed].
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	change := cb.setState(StateClosed)
	cb.consecutiveFail = 0
	cb.probing = false
	cb.cooldown = cb.resetTimeout
	cb.openUntil = time.Time{}
	cb.mu.Unlock()

	logx.Info().Str("breaker", cb.name).Msg("circuit breaker manually reset")
	cb.notify([]transition{change})
}
