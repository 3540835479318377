package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/procura-agent/server/internal/background"
	errx "github.com/procura-agent/server/internal/core/error"
	"github.com/procura-agent/server/internal/llm/accounting"
	"github.com/procura-agent/server/internal/llm/usage"
	"github.com/procura-agent/server/internal/observe"
	"github.com/procura-agent/server/internal/resilience"
	logx "github.com/procura-agent/server/pkg/logger"
)

// Adapter sends chat requests for the active provider through its
// reliability pipeline and accounts for every successful call.
type Adapter struct {
	client     Client
	defaults   ProviderConfig
	pipeline   *resilience.Pipeline
	accountant *accounting.Accountant
	store      usage.Store
	runner     *background.Runner
	metrics    *observe.Metrics
	now        func() time.Time
}

// AdapterOption customises an [Adapter].
type AdapterOption func(*Adapter)

// WithUsageStore persists a usage record per accounted call.
func WithUsageStore(s usage.Store) AdapterOption {
	return func(a *Adapter) { a.store = s }
}

// WithRunner runs persistence and metrics off the request path.
func WithRunner(r *background.Runner) AdapterOption {
	return func(a *Adapter) { a.runner = r }
}

// WithAdapterMetrics records call, token and cost metrics.
func WithAdapterMetrics(m *observe.Metrics) AdapterOption {
	return func(a *Adapter) { a.metrics = m }
}

// WithAccountant replaces the default token accountant.
func WithAccountant(acc *accounting.Accountant) AdapterOption {
	return func(a *Adapter) { a.accountant = acc }
}

// NewAdapter binds client to the pipeline registered for its provider.
func NewAdapter(client Client, defaults ProviderConfig, registry *resilience.Registry, opts ...AdapterOption) *Adapter {
	defaults.Provider = client.Provider()
	a := &Adapter{
		client:   client,
		defaults: defaults,
		pipeline: registry.Pipeline(string(client.Provider())),
		now:      time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	if a.accountant == nil {
		a.accountant = accounting.New(accounting.Config{})
	}
	return a
}

// Provider returns the active provider.
func (a *Adapter) Provider() Provider { return a.defaults.Provider }

// Defaults returns the adapter's default configuration.
func (a *Adapter) Defaults() ProviderConfig { return a.defaults }

// Accountant exposes the token accountant shared with callers.
func (a *Adapter) Accountant() *accounting.Accountant { return a.accountant }

// InvokeRequest is one chat invocation.
type InvokeRequest struct {
	Messages []*schema.Message
	// Tools replaces the default tool set when non-nil. An empty non-nil
	// slice disables tools for this call.
	Tools     []ToolDefinition
	Overrides *Overrides

	ConversationID string
	UserID         string
}

// InvokeChat sends req through the reliability pipeline and returns the
// normalized response. Failures are *errx.ProviderUnavailableError or
// *errx.ProviderCallFailedError. Usage persistence and metrics run detached
// and never affect the result.
func (a *Adapter) InvokeChat(ctx context.Context, req InvokeRequest) (*AIResponse, error) {
	cfg := a.defaults.With(req.Overrides, req.Tools)

	ctx, span := observe.StartSpan(ctx, "llm.invoke_chat", trace.WithAttributes(
		attribute.String("llm.provider", string(cfg.Provider)),
		attribute.String("llm.model", cfg.Model),
		attribute.Int("llm.messages", len(req.Messages)),
		attribute.Int("llm.tools", len(cfg.Tools)),
	))
	defer span.End()

	chatReq := ChatRequest{
		Model:       cfg.Model,
		Messages:    req.Messages,
		Tools:       cfg.Tools,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}

	start := a.now()
	resp, err := resilience.Run(ctx, a.pipeline, func(ctx context.Context) (*AIResponse, error) {
		return a.client.Chat(ctx, chatReq)
	})
	elapsed := a.now().Sub(start).Seconds()

	if err != nil {
		status := "failed"
		var unavailable *errx.ProviderUnavailableError
		if errors.As(err, &unavailable) {
			status = "unavailable"
		}
		a.recordCall(cfg, status, elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		logx.Warn().Err(err).
			Str("provider", string(cfg.Provider)).
			Str("model", cfg.Model).
			Str("conversation_id", req.ConversationID).
			Msg("llm call failed")
		return nil, err
	}
	a.recordCall(cfg, "ok", elapsed)

	resp.Provider = cfg.Provider
	if resp.Model == "" {
		resp.Model = cfg.Model
	}
	a.fillUsage(resp, chatReq)

	if !resp.Usage.IsZero() {
		cost := a.accountant.Cost(resp.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens)
		resp.CostUSD = cost.Total
		a.account(resp, req)
	}

	span.SetAttributes(
		attribute.Int("llm.usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int("llm.usage.output_tokens", resp.Usage.OutputTokens),
		attribute.Int("llm.tool_calls", len(resp.ToolCalls)),
	)

	if strings.TrimSpace(resp.Content) == "" && len(resp.ToolCalls) == 0 {
		logx.Warn().
			Str("provider", string(cfg.Provider)).
			Str("model", resp.Model).
			Str("finish_reason", resp.FinishReason).
			Msg("llm returned neither content nor tool calls")
	}
	return resp, nil
}

// fillUsage completes partial usage and estimates it locally when the
// provider reported none.
func (a *Adapter) fillUsage(resp *AIResponse, req ChatRequest) {
	u := &resp.Usage
	if u.IsZero() {
		u.InputTokens = a.accountant.CountMessageTokens(req.Messages, resp.Model)
		out := a.accountant.CountTokens(resp.Content, resp.Model)
		for _, tc := range resp.ToolCalls {
			out += a.accountant.CountTokens(tc.Name, resp.Model) + a.accountant.CountTokens(tc.Arguments, resp.Model)
		}
		u.OutputTokens = out
		u.Estimated = true
		a.accountant.ReportEstimated(resp.Model)
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
}

func (a *Adapter) account(resp *AIResponse, req InvokeRequest) {
	rec := usage.Record{
		Provider:         string(resp.Provider),
		Model:            resp.Model,
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		CostUSD:          resp.CostUSD,
		Estimated:        resp.Usage.Estimated,
		ConversationID:   req.ConversationID,
		UserID:           req.UserID,
		CreatedAt:        a.now().UTC(),
	}
	task := func(ctx context.Context) error {
		if a.metrics != nil {
			a.metrics.RecordUsage(ctx, rec.Provider, rec.Model, rec.PromptTokens, rec.CompletionTokens, rec.CostUSD)
		}
		if a.store == nil {
			return nil
		}
		return a.store.Save(ctx, rec)
	}

	logx.Debug().
		Str("provider", rec.Provider).
		Str("model", rec.Model).
		Int("prompt_tokens", rec.PromptTokens).
		Int("completion_tokens", rec.CompletionTokens).
		Int("total_tokens", rec.TotalTokens).
		Float64("total_cost_usd", rec.CostUSD).
		Msg("LLM usage")

	if a.runner != nil {
		a.runner.Submit("usage.save", task)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := task(ctx); err != nil {
			logx.Error().Err(err).Str("task", "usage.save").Msg("background task failed")
		}
	}()
}

func (a *Adapter) recordCall(cfg ProviderConfig, status string, seconds float64) {
	if a.metrics == nil {
		return
	}
	a.metrics.RecordLLMCall(context.Background(), string(cfg.Provider), cfg.Model, status, seconds)
}
