package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/procura-agent/server/internal/background"
	errx "github.com/procura-agent/server/internal/core/error"
	"github.com/procura-agent/server/internal/llm/accounting"
	"github.com/procura-agent/server/internal/llm/usage"
	"github.com/procura-agent/server/internal/resilience"
)

type fakeClient struct {
	mu       sync.Mutex
	provider Provider
	replies  []func(ChatRequest) (*AIResponse, error)
	requests []ChatRequest
}

func (f *fakeClient) Provider() Provider { return f.provider }

func (f *fakeClient) Chat(_ context.Context, req ChatRequest) (*AIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	next := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return next(req)
}

func reply(resp AIResponse) func(ChatRequest) (*AIResponse, error) {
	return func(ChatRequest) (*AIResponse, error) { r := resp; return &r, nil }
}

func testRegistry() *resilience.Registry {
	return resilience.NewRegistry(resilience.Config{
		BreakerThreshold:    3,
		BreakerCooldown:     time.Minute,
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		CallTimeout:         time.Second,
	})
}

func newTestAdapter(t *testing.T, client *fakeClient) (*Adapter, *usage.MemoryStore, *background.Runner) {
	t.Helper()
	store := usage.NewMemoryStore()
	runner := background.New(background.Config{Workers: 1})
	a := NewAdapter(client, ProviderConfig{Model: "gpt-4o", Temperature: 0.3, MaxTokens: 500}, testRegistry(),
		WithUsageStore(store), WithRunner(runner))
	return a, store, runner
}

func TestInvokeChat_AccountsUsageOnce(t *testing.T) {
	client := &fakeClient{provider: ProviderOpenAI, replies: []func(ChatRequest) (*AIResponse, error){
		reply(AIResponse{Content: "I found 3 items", Usage: Usage{InputTokens: 1000, OutputTokens: 500}}),
	}}
	a, store, runner := newTestAdapter(t, client)

	resp, err := a.InvokeChat(context.Background(), InvokeRequest{
		Messages:       []*schema.Message{schema.UserMessage("find USB-C cables")},
		ConversationID: "conv-1",
	})
	if err != nil {
		t.Fatalf("InvokeChat: %v", err)
	}
	_ = runner.Shutdown(context.Background())

	want := 1000*2.50/1_000_000.0 + 500*10.00/1_000_000.0
	if resp.CostUSD != want {
		t.Errorf("CostUSD = %v, want %v", resp.CostUSD, want)
	}
	if resp.Usage.TotalTokens != 1500 {
		t.Errorf("TotalTokens = %d, want 1500", resp.Usage.TotalTokens)
	}
	if resp.Provider != ProviderOpenAI || resp.Model != "gpt-4o" {
		t.Errorf("provider/model = %s/%s", resp.Provider, resp.Model)
	}

	recs := store.All()
	if len(recs) != 1 {
		t.Fatalf("usage records = %d, want 1", len(recs))
	}
	if r := recs[0]; r.ConversationID != "conv-1" || r.PromptTokens != 1000 || r.CostUSD != want || r.Estimated {
		t.Errorf("record = %+v", r)
	}
}

func TestInvokeChat_EstimatesMissingUsage(t *testing.T) {
	client := &fakeClient{provider: ProviderGemini, replies: []func(ChatRequest) (*AIResponse, error){
		reply(AIResponse{Content: "Sure, here is your cart."}),
	}}
	a, store, runner := newTestAdapter(t, client)
	var mu sync.Mutex
	var reasons []string
	a.accountant = accounting.New(accounting.Config{}, accounting.WithDegradedHook(func(_, reason string) {
		mu.Lock()
		reasons = append(reasons, reason)
		mu.Unlock()
	}))

	resp, err := a.InvokeChat(context.Background(), InvokeRequest{
		Messages:  []*schema.Message{schema.UserMessage("show my cart")},
		Overrides: &Overrides{Model: "gemini-2.5-flash"},
	})
	if err != nil {
		t.Fatal(err)
	}
	_ = runner.Shutdown(context.Background())

	if !resp.Usage.Estimated || resp.Usage.InputTokens == 0 || resp.Usage.OutputTokens == 0 {
		t.Errorf("usage = %+v, want a local estimate", resp.Usage)
	}
	mu.Lock()
	defer mu.Unlock()
	var estimated bool
	for _, r := range reasons {
		estimated = estimated || r == "usage_estimated"
	}
	if !estimated {
		t.Errorf("degraded reasons = %v, want usage_estimated", reasons)
	}
	if len(store.All()) != 1 {
		t.Fatalf("usage records = %d, want 1", len(store.All()))
	}
}

func TestInvokeChat_AppliesOverridesAndTools(t *testing.T) {
	client := &fakeClient{provider: ProviderOpenAI, replies: []func(ChatRequest) (*AIResponse, error){
		reply(AIResponse{Content: "ok", Usage: Usage{InputTokens: 1, OutputTokens: 1}}),
	}}
	a, _, runner := newTestAdapter(t, client)
	defer runner.Shutdown(context.Background())

	maxTokens := 64
	_, err := a.InvokeChat(context.Background(), InvokeRequest{
		Messages:  []*schema.Message{schema.UserMessage("hi")},
		Tools:     []ToolDefinition{{Name: "search_catalog"}},
		Overrides: &Overrides{Model: "gpt-4.1-mini", MaxTokens: &maxTokens},
	})
	if err != nil {
		t.Fatal(err)
	}
	req := client.requests[0]
	if req.Model != "gpt-4.1-mini" || req.MaxTokens != 64 || req.Temperature != 0.3 {
		t.Errorf("request = %+v", req)
	}
	if len(req.Tools) != 1 || req.Tools[0].Name != "search_catalog" {
		t.Errorf("tools = %v", req.Tools)
	}
}

func TestInvokeChat_RetriesTransientFailures(t *testing.T) {
	transient := func(ChatRequest) (*AIResponse, error) {
		return nil, &APIError{Provider: ProviderOpenAI, StatusCode: 503, Message: "overloaded"}
	}
	client := &fakeClient{provider: ProviderOpenAI, replies: []func(ChatRequest) (*AIResponse, error){
		transient, transient, reply(AIResponse{Content: "done", Usage: Usage{InputTokens: 3, OutputTokens: 2}}),
	}}
	a, _, runner := newTestAdapter(t, client)
	defer runner.Shutdown(context.Background())

	resp, err := a.InvokeChat(context.Background(), InvokeRequest{Messages: []*schema.Message{schema.UserMessage("hi")}})
	if err != nil {
		t.Fatalf("InvokeChat: %v", err)
	}
	if resp.Content != "done" || len(client.requests) != 3 {
		t.Fatalf("content = %q after %d calls, want done after 3", resp.Content, len(client.requests))
	}
}

func TestInvokeChat_NonTransientFailure(t *testing.T) {
	client := &fakeClient{provider: ProviderOpenAI, replies: []func(ChatRequest) (*AIResponse, error){
		func(ChatRequest) (*AIResponse, error) {
			return nil, &APIError{Provider: ProviderOpenAI, StatusCode: 401, Message: "bad key"}
		},
	}}
	a, store, runner := newTestAdapter(t, client)

	_, err := a.InvokeChat(context.Background(), InvokeRequest{Messages: []*schema.Message{schema.UserMessage("hi")}})
	_ = runner.Shutdown(context.Background())

	var failed *errx.ProviderCallFailedError
	if !errors.As(err, &failed) || failed.Attempts != 1 {
		t.Fatalf("err = %v, want ProviderCallFailedError after 1 attempt", err)
	}
	if !errx.IsProviderFailure(err) {
		t.Error("IsProviderFailure = false")
	}
	if len(store.All()) != 0 {
		t.Error("failed call must not produce a usage record")
	}
}

func TestInvokeChat_EmptyResponseIsNotAnError(t *testing.T) {
	client := &fakeClient{provider: ProviderOpenAI, replies: []func(ChatRequest) (*AIResponse, error){
		reply(AIResponse{Usage: Usage{InputTokens: 10}}),
	}}
	a, _, runner := newTestAdapter(t, client)
	defer runner.Shutdown(context.Background())

	resp, err := a.InvokeChat(context.Background(), InvokeRequest{Messages: []*schema.Message{schema.UserMessage("hi")}})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if resp.Content != "" || len(resp.ToolCalls) != 0 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestAIResponse_Message(t *testing.T) {
	r := &AIResponse{Content: "checking", ToolCalls: []ToolCall{{ID: "call_1", Name: "view_cart", Arguments: "{}"}}}
	m := r.Message()
	if m.Role != schema.Assistant || len(m.ToolCalls) != 1 || m.ToolCalls[0].Function.Name != "view_cart" {
		t.Errorf("message = %+v", m)
	}
	if plain := (&AIResponse{Content: "hi"}).Message(); plain.ToolCalls != nil {
		t.Error("plain response should carry no tool calls")
	}
}
