package model

import "time"

// ================ Config ================
type ConversationConfig struct {
	TTL time.Duration `envconfig:"CONVERSATION_TTL" default:"24h"`

	HistoryMaxMessages int `envconfig:"CONVERSATION_HISTORY_MAX_MESSAGES" default:"20"`
	HistoryMaxTokens   int `envconfig:"CONVERSATION_HISTORY_MAX_TOKENS" default:"6000"`

	// ToolMaxCalls bounds the model/tool rounds within one user turn.
	ToolMaxCalls int `envconfig:"CONVERSATION_TOOL_MAX_CALLS" default:"10"`
}

type ResponsePromptConfig struct {
	BusinessType string `envconfig:"PROMPT_BUSINESS_TYPE" default:"office and electronics supplier"`
	BusinessName string `envconfig:"PROMPT_BUSINESS_NAME" default:"Procura"`
}
