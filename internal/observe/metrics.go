// Package observe provides the OpenTelemetry metric instruments and tracer
// used across the agent. A Prometheus exporter bridge is installed by
// [InitProvider] so the instruments can be scraped from /metrics. Tests build
// their own [Metrics] with [NewMetrics] and a ManualReader.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/procura-agent/server"

// Circuit state encodings for the CircuitState gauge.
const (
	CircuitClosed   int64 = 0
	CircuitOpen     int64 = 1
	CircuitHalfOpen int64 = 2
)

// Metrics holds all metric instruments. The OTel types are safe for
// concurrent use.
type Metrics struct {
	// LLMCalls counts provider invocations by provider, model and status.
	LLMCalls metric.Int64Counter

	// LLMDuration tracks provider invocation latency, retries included.
	LLMDuration metric.Float64Histogram

	// LLMRetries counts re-attempts after a transient failure.
	LLMRetries metric.Int64Counter

	// ToolExecutions counts tool runs by tool and status.
	ToolExecutions metric.Int64Counter

	// ToolDuration tracks tool execution latency.
	ToolDuration metric.Float64Histogram

	// InputTokens and OutputTokens count usage by provider and model.
	InputTokens  metric.Int64Counter
	OutputTokens metric.Int64Counter

	// Cost accumulates estimated USD spend by provider and model.
	Cost metric.Float64Counter

	// CircuitState reports 0 closed, 1 open, 2 half-open per provider.
	CircuitState metric.Int64Gauge

	// QueueDepth reports callers waiting for a rate limiter slot per provider.
	QueueDepth metric.Int64Gauge

	// Truncations counts history messages dropped from the context window.
	Truncations metric.Int64Counter

	// AccountingDegraded counts approximate token counts and unknown prices.
	AccountingDegraded metric.Int64Counter
}

// latencyBuckets spans fast tool calls up to slow multi-retry provider calls.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60,
}

// NewMetrics creates all instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.LLMCalls, err = m.Int64Counter("procura.llm.calls",
		metric.WithDescription("Total LLM provider invocations by provider, model and status."),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("procura.llm.duration",
		metric.WithDescription("Latency of LLM provider invocations."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMRetries, err = m.Int64Counter("procura.llm.retries",
		metric.WithDescription("Provider call re-attempts after transient failures."),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutions, err = m.Int64Counter("procura.tool.executions",
		metric.WithDescription("Total tool executions by tool and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolDuration, err = m.Float64Histogram("procura.tool.duration",
		metric.WithDescription("Latency of tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.InputTokens, err = m.Int64Counter("procura.llm.tokens.input",
		metric.WithDescription("Prompt tokens consumed by provider and model."),
		metric.WithUnit("{token}"),
	); err != nil {
		return nil, err
	}
	if met.OutputTokens, err = m.Int64Counter("procura.llm.tokens.output",
		metric.WithDescription("Completion tokens produced by provider and model."),
		metric.WithUnit("{token}"),
	); err != nil {
		return nil, err
	}
	if met.Cost, err = m.Float64Counter("procura.llm.cost",
		metric.WithDescription("Estimated spend by provider and model."),
		metric.WithUnit("USD"),
	); err != nil {
		return nil, err
	}
	if met.CircuitState, err = m.Int64Gauge("procura.circuit.state",
		metric.WithDescription("Circuit breaker state per provider (0 closed, 1 open, 2 half-open)."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64Gauge("procura.ratelimit.queue_depth",
		metric.WithDescription("Callers waiting for a rate limiter slot per provider."),
	); err != nil {
		return nil, err
	}
	if met.Truncations, err = m.Int64Counter("procura.conversation.truncations",
		metric.WithDescription("History messages dropped to fit the context window."),
	); err != nil {
		return nil, err
	}
	if met.AccountingDegraded, err = m.Int64Counter("procura.accounting.degraded",
		metric.WithDescription("Approximate token counts or unknown model prices."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a package-level instance bound to the global meter
// provider. It panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordLLMCall records one provider invocation and its latency.
func (m *Metrics) RecordLLMCall(ctx context.Context, provider, model, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("model", model),
		attribute.String("status", status),
	)
	m.LLMCalls.Add(ctx, 1, attrs)
	m.LLMDuration.Record(ctx, seconds, attrs)
}

// RecordUsage records token counts and estimated cost for one call.
func (m *Metrics) RecordUsage(ctx context.Context, provider, model string, input, output int, costUSD float64) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("model", model),
	)
	m.InputTokens.Add(ctx, int64(input), attrs)
	m.OutputTokens.Add(ctx, int64(output), attrs)
	m.Cost.Add(ctx, costUSD, attrs)
}

// RecordToolExecution records one tool run and its latency.
func (m *Metrics) RecordToolExecution(ctx context.Context, tool, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	)
	m.ToolExecutions.Add(ctx, 1, attrs)
	m.ToolDuration.Record(ctx, seconds, attrs)
}

// RecordRetry records a re-attempt for provider.
func (m *Metrics) RecordRetry(ctx context.Context, provider string) {
	m.LLMRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

// SetCircuitState records the breaker state for provider.
func (m *Metrics) SetCircuitState(ctx context.Context, provider string, state int64) {
	m.CircuitState.Record(ctx, state, metric.WithAttributes(attribute.String("provider", provider)))
}

// SetQueueDepth records the rate limiter backlog for provider.
func (m *Metrics) SetQueueDepth(ctx context.Context, provider string, depth int64) {
	m.QueueDepth.Record(ctx, depth, metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordTruncation records n dropped history messages.
func (m *Metrics) RecordTruncation(ctx context.Context, reason string, n int) {
	m.Truncations.Add(ctx, int64(n), metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordAccountingDegraded records an approximate accounting figure.
func (m *Metrics) RecordAccountingDegraded(ctx context.Context, model, reason string) {
	m.AccountingDegraded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("reason", reason),
	))
}
