// Package config loads the process configuration from the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/procura-agent/server/internal/agent/model"
	"github.com/procura-agent/server/internal/core"
	errx "github.com/procura-agent/server/internal/core/error"
	"github.com/procura-agent/server/internal/llm"
	"github.com/procura-agent/server/internal/llm/accounting"
	"github.com/procura-agent/server/internal/llm/clients"
	"github.com/procura-agent/server/internal/resilience"
	logx "github.com/procura-agent/server/pkg/logger"
	pkgpostgres "github.com/procura-agent/server/pkg/postgres"
	pkgredis "github.com/procura-agent/server/pkg/redis"
)

// LLMConfig selects the provider and its default sampling parameters.
type LLMConfig struct {
	Provider string `envconfig:"LLM_PROVIDER"`

	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL"`
	OpenAIModel   string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`

	GeminiAPIKey  string `envconfig:"GEMINI_API_KEY"`
	GeminiBaseURL string `envconfig:"GEMINI_BASE_URL"`
	GeminiModel   string `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash"`

	Temperature float32 `envconfig:"LLM_TEMPERATURE" default:"0.2"`
	MaxTokens   int     `envconfig:"LLM_MAX_TOKENS" default:"1024"`
}

// TokensConfig calibrates token accounting per provider family.
type TokensConfig struct {
	DefaultEncoding string `envconfig:"TOKENS_DEFAULT_ENCODING" default:"cl100k_base"`

	OpenAIPerMessage int `envconfig:"TOKENS_OPENAI_PER_MESSAGE" default:"3"`
	OpenAIReply      int `envconfig:"TOKENS_OPENAI_REPLY" default:"3"`
	GeminiPerMessage int `envconfig:"TOKENS_GEMINI_PER_MESSAGE" default:"3"`
	GeminiReply      int `envconfig:"TOKENS_GEMINI_REPLY" default:"3"`
}

// AppConfig is everything the server reads from its environment.
type AppConfig struct {
	Environment    string `envconfig:"ENVIRONMENT" default:"development"`
	ServiceName    string `envconfig:"SERVICE_NAME" default:"procura-agent"`
	ServiceVersion string `envconfig:"SERVICE_VERSION" default:"dev"`
	MetricsAddr    string `envconfig:"METRICS_ADDR"`

	// Infrastructure
	Redis    pkgredis.Config
	Postgres pkgpostgres.Config

	LLM         LLMConfig
	Reliability resilience.Config
	Tokens      TokensConfig

	// Agent configs
	Conversation model.ConversationConfig
	Prompt       model.ResponsePromptConfig
}

// Load reads the optional env files, then the process environment. Values
// already present in the environment win over the files.
func Load(envFiles ...string) (*AppConfig, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil {
			logx.Debug().Err(err).Str("file", f).Msg("env file not loaded")
		}
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process environment config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no component could run with.
func (c *AppConfig) Validate() error {
	if c.Reliability.RetryMaxAttempts < 1 {
		return &errx.ConfigurationError{Missing: []string{"RETRY_MAX_ATTEMPTS"}, Reason: "retry attempts must be at least 1"}
	}
	if c.Reliability.LimiterMaxConcurrency < 1 {
		return &errx.ConfigurationError{Missing: []string{"LIMITER_MAX_CONCURRENCY"}, Reason: "limiter concurrency must be at least 1"}
	}
	if c.Conversation.ToolMaxCalls < 1 {
		return &errx.ConfigurationError{Missing: []string{"CONVERSATION_TOOL_MAX_CALLS"}, Reason: "tool loop limit must be at least 1"}
	}
	return nil
}

// Service identifies the process in logs and telemetry.
func (c *AppConfig) Service() core.ServiceInfo {
	return core.ServiceInfo{
		Name:        c.ServiceName,
		Version:     c.ServiceVersion,
		Environment: core.ParseEnvironment(c.Environment),
	}
}

// ClientSettings returns the per-provider credentials and endpoints.
func (c *AppConfig) ClientSettings() clients.Settings {
	return clients.Settings{
		OpenAIAPIKey:  strings.TrimSpace(c.LLM.OpenAIAPIKey),
		OpenAIBaseURL: c.LLM.OpenAIBaseURL,
		OpenAIModel:   c.LLM.OpenAIModel,
		GeminiAPIKey:  strings.TrimSpace(c.LLM.GeminiAPIKey),
		GeminiBaseURL: c.LLM.GeminiBaseURL,
		GeminiModel:   c.LLM.GeminiModel,
	}
}

// ResolveProvider picks the active provider and its default call settings.
// It fails with *errx.ConfigurationError when no usable credential exists.
func (c *AppConfig) ResolveProvider() (llm.ProviderConfig, error) {
	settings := c.ClientSettings()
	p, err := llm.ResolveProvider(c.LLM.Provider, settings.Credentials())
	if err != nil {
		return llm.ProviderConfig{}, err
	}
	return llm.ProviderConfig{
		Provider:    p,
		Model:       settings.Model(p),
		Temperature: c.LLM.Temperature,
		MaxTokens:   c.LLM.MaxTokens,
	}, nil
}

// Accounting returns the token accountant configuration.
func (c *AppConfig) Accounting() accounting.Config {
	return accounting.Config{
		DefaultEncoding: c.Tokens.DefaultEncoding,
		Framing: map[string]accounting.Framing{
			"openai": {PerMessage: c.Tokens.OpenAIPerMessage, PerName: 1, Reply: c.Tokens.OpenAIReply},
			"gemini": {PerMessage: c.Tokens.GeminiPerMessage, PerName: 1, Reply: c.Tokens.GeminiReply},
		},
	}
}
