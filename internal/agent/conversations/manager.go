package conversations

import (
	"context"

	"github.com/cloudwego/eino/schema"

	"github.com/procura-agent/server/internal/agent/model"
	errx "github.com/procura-agent/server/internal/core/error"
	"github.com/procura-agent/server/internal/llm/accounting"
	"github.com/procura-agent/server/internal/observe"
	logx "github.com/procura-agent/server/pkg/logger"
)

const (
	ReasonMessageLimit = "message_limit"
	ReasonTokenBudget  = "token_budget"
)

// Truncation describes how much history was dropped from a window.
type Truncation struct {
	Dropped int
	Reason  string
}

type MessagesManager struct {
	conversationRepo model.ConversationRepository
	accountant       *accounting.Accountant
	metrics          *observe.Metrics
	maxMessages      int
	maxTokens        int
}

func NewMessagesManager(
	conversationRepo model.ConversationRepository,
	config model.ConversationConfig,
	accountant *accounting.Accountant,
	metrics *observe.Metrics,
) *MessagesManager {
	if accountant == nil {
		accountant = accounting.New(accounting.Config{})
	}
	return &MessagesManager{
		conversationRepo: conversationRepo,
		accountant:       accountant,
		metrics:          metrics,
		maxMessages:      config.HistoryMaxMessages,
		maxTokens:        config.HistoryMaxTokens,
	}
}

// SaveUserMessage appends the user's turn to the history.
func (cm *MessagesManager) SaveUserMessage(ctx context.Context, conversationID, content string) (*schema.Message, error) {
	msg := schema.UserMessage(content)
	return msg, cm.conversationRepo.AppendMessage(ctx, conversationID, msg)
}

// SaveMessage appends an assistant or tool message produced during a turn.
func (cm *MessagesManager) SaveMessage(ctx context.Context, conversationID string, msg *schema.Message) error {
	return cm.conversationRepo.AppendMessage(ctx, conversationID, msg)
}

// BuildResponseContext returns the system prompt followed by the newest part
// of history that fits both the message-count and token budgets. Oldest
// messages go first; the last user message is always kept.
func (cm *MessagesManager) BuildResponseContext(ctx context.Context, conversationID, systemPrompt string, history []*schema.Message, modelName string) ([]*schema.Message, Truncation) {
	window, t := cm.Window(history, modelName)
	if t.Dropped > 0 {
		if cm.metrics != nil {
			cm.metrics.RecordTruncation(ctx, t.Reason, t.Dropped)
		}
		logx.Warn().Err(errx.ErrTruncated).
			Str("conversation_id", conversationID).
			Str("reason", t.Reason).
			Int("dropped", t.Dropped).
			Int("kept", len(window)).
			Msg("conversation history truncated")
	}

	messages := make([]*schema.Message, 0, len(window)+1)
	messages = append(messages, schema.SystemMessage(systemPrompt))
	messages = append(messages, window...)
	return messages, t
}

// Window applies the history budgets without side effects.
func (cm *MessagesManager) Window(history []*schema.Message, modelName string) ([]*schema.Message, Truncation) {
	history = compact(history)
	floor := lastUserIndex(history)

	start := 0
	reason := ""
	if cm.maxMessages > 0 && len(history) > cm.maxMessages {
		start = len(history) - cm.maxMessages
		reason = ReasonMessageLimit
	}
	if floor >= 0 && start > floor {
		start = floor
	}

	if cm.maxTokens > 0 {
		costs := make([]int, len(history))
		total := 0
		for i := start; i < len(history); i++ {
			costs[i] = cm.accountant.MessageTokens(history[i], modelName)
			total += costs[i]
		}
		for total > cm.maxTokens && start < len(history)-1 && (floor < 0 || start < floor) {
			total -= costs[start]
			start++
			reason = ReasonTokenBudget
		}
	}

	start = skipOrphans(history, start, floor)
	window := trimTail(history, len(history)-start)
	return window, Truncation{Dropped: start, Reason: reasonIf(start, reason)}
}

func reasonIf(dropped int, reason string) string {
	if dropped == 0 {
		return ""
	}
	if reason == "" {
		return ReasonMessageLimit
	}
	return reason
}

// ====================== Helper function ======================
func trimTail(messages []*schema.Message, maxTurns int) []*schema.Message {
	if maxTurns <= 0 {
		return []*schema.Message{}
	}
	if len(messages) <= maxTurns {
		result := make([]*schema.Message, len(messages))
		copy(result, messages)
		return result
	}
	source := messages[len(messages)-maxTurns:]
	result := make([]*schema.Message, len(source))
	copy(result, source)
	return result
}

func compact(messages []*schema.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

func lastUserIndex(messages []*schema.Message) int {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == schema.User {
			return i
		}
	}
	return -1
}

// skipOrphans moves start past tool results whose calling assistant message
// was cut, since providers reject a tool message without its call.
func skipOrphans(messages []*schema.Message, start, floor int) int {
	for start < len(messages) && messages[start].Role == schema.Tool {
		if floor >= 0 && start >= floor {
			break
		}
		start++
	}
	return start
}
