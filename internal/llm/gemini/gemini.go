// Package gemini implements llm.Client on Google Gemini through the eino
// gemini chat model.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	einogemini "github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/procura-agent/server/internal/llm"
)

// Config configures the Gemini client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// generator is the slice of the eino chat model the client needs.
type generator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// Client implements llm.Client.
type Client struct {
	model generator
}

// New builds the genai client and the eino chat model on top of it.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: apiKey must not be empty")
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	cm, err := einogemini.NewChatModel(ctx, &einogemini.Config{
		Client: client,
		Model:  cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create chat model: %w", err)
	}
	return &Client{model: cm}, nil
}

func (c *Client) Provider() llm.Provider { return llm.ProviderGemini }

// Chat implements llm.Client.
func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (*llm.AIResponse, error) {
	opts := []model.Option{model.WithTemperature(req.Temperature)}
	if req.Model != "" {
		opts = append(opts, model.WithModel(req.Model))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}
	if infos := llm.ToolInfos(req.Tools); len(infos) > 0 {
		opts = append(opts, model.WithTools(infos))
	}

	out, err := c.model.Generate(ctx, req.Messages, opts...)
	if err != nil {
		return nil, translateError(err)
	}
	resp := normalize(out)
	resp.Model = req.Model
	return resp, nil
}

// normalize maps an eino message onto AIResponse. Structured content is
// reduced to its text segments.
func normalize(msg *schema.Message) *llm.AIResponse {
	resp := &llm.AIResponse{}
	if msg == nil {
		return resp
	}

	resp.Content = msg.Content
	if strings.TrimSpace(resp.Content) == "" && len(msg.MultiContent) > 0 {
		var b strings.Builder
		for _, part := range msg.MultiContent {
			if part.Type == schema.ChatMessagePartTypeText {
				b.WriteString(part.Text)
			}
		}
		resp.Content = b.String()
	}

	for _, tc := range msg.ToolCalls {
		args := tc.Function.Arguments
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	if meta := msg.ResponseMeta; meta != nil {
		resp.FinishReason = meta.FinishReason
		if u := meta.Usage; u != nil {
			resp.Usage = llm.Usage{
				InputTokens:  u.PromptTokens,
				OutputTokens: u.CompletionTokens,
				TotalTokens:  u.TotalTokens,
			}
		}
	}
	return resp
}

func translateError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &llm.APIError{
			Provider:   llm.ProviderGemini,
			StatusCode: apiErr.Code,
			Code:       apiErr.Status,
			Message:    apiErr.Message,
			Err:        err,
		}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &llm.APIError{
			Provider:   llm.ProviderGemini,
			StatusCode: apiErrPtr.Code,
			Code:       apiErrPtr.Status,
			Message:    apiErrPtr.Message,
			Err:        err,
		}
	}
	return fmt.Errorf("gemini: generate: %w", err)
}
