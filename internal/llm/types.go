package llm

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

// ProviderConfig is the resolved backend and sampling parameters for one
// call. Build it with [ProviderConfig.With]; never mutate a shared value.
type ProviderConfig struct {
	Provider    Provider
	Model       string
	Temperature float32
	MaxTokens   int
	Tools       []ToolDefinition
}

// Overrides are per-call changes to the adapter defaults. Nil fields keep the
// default.
type Overrides struct {
	Model       string
	Temperature *float32
	MaxTokens   *int
}

// With returns a copy of c with o applied. Tools replace the defaults when
// tools is non-nil.
func (c ProviderConfig) With(o *Overrides, tools []ToolDefinition) ProviderConfig {
	out := c
	out.Tools = append([]ToolDefinition(nil), c.Tools...)
	if o != nil {
		if o.Model != "" {
			out.Model = o.Model
		}
		if o.Temperature != nil {
			out.Temperature = *o.Temperature
		}
		if o.MaxTokens != nil {
			out.MaxTokens = *o.MaxTokens
		}
	}
	if tools != nil {
		out.Tools = append([]ToolDefinition(nil), tools...)
	}
	return out
}

// ToolCall is a model-issued invocation request with its arguments encoded
// as a JSON string.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Usage is the token count reported for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	// Estimated is set when the provider did not report usage and the counts
	// come from the local tokenizer.
	Estimated bool
}

// IsZero reports whether no tokens were counted.
func (u Usage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0 && u.TotalTokens == 0
}

// AIResponse is the provider-neutral result of a chat call.
type AIResponse struct {
	Content      string
	ToolCalls    []ToolCall
	Usage        Usage
	Provider     Provider
	Model        string
	FinishReason string
	CostUSD      float64
}

// Message converts the response into an assistant history message.
func (r *AIResponse) Message() *schema.Message {
	calls := make([]schema.ToolCall, 0, len(r.ToolCalls))
	for _, tc := range r.ToolCalls {
		calls = append(calls, schema.ToolCall{
			ID:       tc.ID,
			Type:     "function",
			Function: schema.FunctionCall{Name: tc.Name, Arguments: tc.Arguments},
		})
	}
	if len(calls) == 0 {
		calls = nil
	}
	return schema.AssistantMessage(r.Content, calls)
}

// ChatRequest is what a [Client] sends for one attempt.
type ChatRequest struct {
	Model       string
	Messages    []*schema.Message
	Tools       []ToolDefinition
	Temperature float32
	MaxTokens   int
}

// Client is the capability every provider exposes. Implementations translate
// ChatRequest into the provider's wire shape and the reply back into
// AIResponse; they never retry.
type Client interface {
	Provider() Provider
	Chat(ctx context.Context, req ChatRequest) (*AIResponse, error)
}
