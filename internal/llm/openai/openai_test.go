package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/procura-agent/server/internal/llm"
	"github.com/procura-agent/server/internal/resilience"
)

func TestConvertMessage_Roles(t *testing.T) {
	sys, err := convertMessage(schema.SystemMessage("You are helpful."))
	if err != nil || sys.OfSystem == nil {
		t.Fatalf("system: %v, OfSystem=%v", err, sys.OfSystem)
	}
	user, err := convertMessage(schema.UserMessage("Hello!"))
	if err != nil || user.OfUser == nil {
		t.Fatalf("user: %v, OfUser=%v", err, user.OfUser)
	}
	tool, err := convertMessage(schema.ToolMessage(`{"items":[]}`, "call_1"))
	if err != nil || tool.OfTool == nil {
		t.Fatalf("tool: %v", err)
	}
	if tool.OfTool.ToolCallID != "call_1" {
		t.Errorf("ToolCallID = %s, want call_1", tool.OfTool.ToolCallID)
	}
}

func TestConvertMessage_AssistantWithToolCalls(t *testing.T) {
	msg := schema.AssistantMessage("", []schema.ToolCall{
		{ID: "call_1", Function: schema.FunctionCall{Name: "search_catalog", Arguments: `{"query":"cable"}`}},
	})
	p, err := convertMessage(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.OfAssistant == nil || len(p.OfAssistant.ToolCalls) != 1 {
		t.Fatalf("expected one assistant tool call, got %+v", p.OfAssistant)
	}
	tc := p.OfAssistant.ToolCalls[0]
	if tc.ID != "call_1" || tc.Function.Name != "search_catalog" || tc.Function.Arguments != `{"query":"cable"}` {
		t.Errorf("tool call = %+v", tc)
	}
}

func TestConvertMessage_Rejects(t *testing.T) {
	if _, err := convertMessage(&schema.Message{Role: "narrator", Content: "x"}); err == nil {
		t.Error("expected error for unknown role")
	}
	if _, err := convertMessage(&schema.Message{Role: schema.Tool, Content: "x"}); err == nil {
		t.Error("expected error for tool message without id")
	}
}

const toolCallResponse = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-4o-mini-2024-07-18",
  "choices": [{
    "index": 0,
    "finish_reason": "tool_calls",
    "logprobs": null,
    "message": {
      "role": "assistant",
      "content": null,
      "refusal": null,
      "tool_calls": [{
        "id": "call_abc",
        "type": "function",
        "function": {"name": "search_catalog", "arguments": "{\"query\":\"USB-C cable\"}"}
      }]
    }
  }],
  "usage": {"prompt_tokens": 50, "completion_tokens": 12, "total_tokens": 62}
}`

func TestChat_NormalizesToolCallResponse(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, toolCallResponse)
	}))
	defer srv.Close()

	c, err := New(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1/"})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := c.Chat(context.Background(), llm.ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []*schema.Message{schema.SystemMessage("sys"), schema.UserMessage("find USB-C cables")},
		Tools: []llm.ToolDefinition{{
			Name:        "search_catalog",
			Description: "Search the catalog",
			Params: map[string]*schema.ParameterInfo{
				"query": {Type: schema.String, Desc: "search text", Required: true},
			},
		}},
		MaxTokens: 256,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if resp.Content != "" {
		t.Errorf("Content = %q, want empty", resp.Content)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(resp.ToolCalls))
	}
	if tc := resp.ToolCalls[0]; tc.ID != "call_abc" || tc.Name != "search_catalog" || tc.Arguments != `{"query":"USB-C cable"}` {
		t.Errorf("tool call = %+v", tc)
	}
	if resp.Usage.InputTokens != 50 || resp.Usage.OutputTokens != 12 || resp.Usage.TotalTokens != 62 {
		t.Errorf("usage = %+v", resp.Usage)
	}

	tools, _ := body["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("request tools = %v", body["tools"])
	}
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	params := fn["parameters"].(map[string]any)
	if fn["name"] != "search_catalog" || params["type"] != "object" {
		t.Errorf("request function = %v", fn)
	}
}

func TestChat_SendsZeroTemperature(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, toolCallResponse)
	}))
	defer srv.Close()

	c, err := New(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1/"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Chat(context.Background(), llm.ChatRequest{
		Model:       "gpt-4o-mini",
		Messages:    []*schema.Message{schema.UserMessage("hi")},
		Temperature: 0,
	}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got, ok := body["temperature"]; !ok || got != float64(0) {
		t.Errorf("temperature = %v (present %v), want 0", got, ok)
	}
}

func TestChat_TranslatesStatusErrors(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tc.status)
			_, _ = io.WriteString(w, `{"error":{"message":"nope","type":"x","param":null,"code":"some_code"}}`)
		}))
		c, _ := New(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1/"})
		_, err := c.Chat(context.Background(), llm.ChatRequest{Model: "gpt-4o", Messages: []*schema.Message{schema.UserMessage("hi")}})
		srv.Close()

		var apiErr *llm.APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("status %d: err = %v, want *llm.APIError", tc.status, err)
		}
		if apiErr.StatusCode != tc.status {
			t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tc.status)
		}
		if got := resilience.IsTransient(err); got != tc.retryable {
			t.Errorf("status %d: IsTransient = %v, want %v", tc.status, got, tc.retryable)
		}
	}
}
