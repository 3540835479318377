// Package clients builds the llm.Client for a resolved provider.
package clients

import (
	"context"
	"fmt"

	"github.com/procura-agent/server/internal/llm"
	"github.com/procura-agent/server/internal/llm/gemini"
	"github.com/procura-agent/server/internal/llm/openai"
)

// Settings carries the credentials and endpoints of every provider.
type Settings struct {
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	GeminiAPIKey  string
	GeminiBaseURL string
	GeminiModel   string
}

// Credentials returns the API keys keyed by provider.
func (s Settings) Credentials() llm.Credentials {
	return llm.Credentials{
		llm.ProviderOpenAI: s.OpenAIAPIKey,
		llm.ProviderGemini: s.GeminiAPIKey,
	}
}

// Model returns the configured default model for p.
func (s Settings) Model(p llm.Provider) string {
	switch p {
	case llm.ProviderGemini:
		return s.GeminiModel
	default:
		return s.OpenAIModel
	}
}

// New returns the client for p.
func New(ctx context.Context, p llm.Provider, s Settings) (llm.Client, error) {
	switch p {
	case llm.ProviderOpenAI:
		return openai.New(openai.Config{APIKey: s.OpenAIAPIKey, BaseURL: s.OpenAIBaseURL})
	case llm.ProviderGemini:
		return gemini.New(ctx, gemini.Config{APIKey: s.GeminiAPIKey, BaseURL: s.GeminiBaseURL, Model: s.GeminiModel})
	default:
		return nil, fmt.Errorf("no client for provider %q", p)
	}
}
