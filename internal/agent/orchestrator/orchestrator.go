// Package orchestrator runs the procurement agent's turn loop: it sends the
// conversation to the model, executes the tool calls it asks for, holds back
// state-changing calls until the buyer confirms them, and stops after a
// bounded number of rounds.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/procura-agent/server/internal/agent/conversations"
	"github.com/procura-agent/server/internal/agent/model"
	"github.com/procura-agent/server/internal/agent/prompts"
	"github.com/procura-agent/server/internal/agent/tools"
	errx "github.com/procura-agent/server/internal/core/error"
	"github.com/procura-agent/server/internal/llm"
	"github.com/procura-agent/server/internal/observe"
	logx "github.com/procura-agent/server/pkg/logger"
)

const (
	// ApologyText is returned when no provider can answer. It is never
	// persisted to the conversation.
	ApologyText = "Sorry, our assistant is temporarily unavailable. Please try again in a few minutes, or use the catalog and cart pages to continue your order."

	// EmptyReplyText stands in for a model reply with neither text nor tool calls.
	EmptyReplyText = "I'm not sure how to help with that. Could you tell me a bit more about what you need?"

	toolLimitNotice = "Tool call limit reached for this turn. Do not call tools; answer the buyer with the information gathered so far."
)

// Action statuses reported in ChatResult.ToolActionsTaken.
const (
	ActionExecuted             = "executed"
	ActionFailed               = "failed"
	ActionAwaitingConfirmation = "awaiting_confirmation"
	ActionUnknownTool          = "unknown_tool"
)

// Invoker sends one chat request to the active provider.
type Invoker interface {
	InvokeChat(ctx context.Context, req llm.InvokeRequest) (*llm.AIResponse, error)
}

// ChatRequest is one user turn.
type ChatRequest struct {
	UserMessage string
	// ConversationID continues an existing conversation; empty starts one.
	ConversationID string
	UserID         string
}

// ToolAction reports one tool call the model made during the turn.
type ToolAction struct {
	CallID    string `json:"call_id"`
	Tool      string `json:"tool"`
	Arguments string `json:"arguments"`
	Status    string `json:"status"`
	Result    string `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ChatResult is the reply to one user turn.
type ChatResult struct {
	AssistantText    string        `json:"assistant_text"`
	ConversationID   string        `json:"conversation_id"`
	ToolActionsTaken []ToolAction  `json:"tool_actions_taken"`
	Status           model.Status  `json:"status"`
	ProviderCalls    int           `json:"provider_calls"`
	InputTokens      int           `json:"input_tokens"`
	OutputTokens     int           `json:"output_tokens"`
	CostUSD          float64       `json:"cost_usd"`
	Duration         time.Duration `json:"-"`
}

// Config bounds the turn loop.
type Config struct {
	// MaxToolRounds is how many model rounds may request tools in one turn.
	MaxToolRounds int
	Prompt        model.ResponsePromptConfig
}

type Option func(*Orchestrator)

// WithMetrics records tool execution metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator replaces the conversation id generator.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

type Orchestrator struct {
	llm      Invoker
	repo     model.ConversationRepository
	messages *conversations.MessagesManager
	tools    *tools.Registry
	metrics  *observe.Metrics

	modelName    string
	maxRounds    int
	systemPrompt string

	now   func() time.Time
	newID func() string
}

// New renders the system prompt once and returns a ready orchestrator.
// modelName is the default model, used for history token budgeting.
func New(
	ctx context.Context,
	invoker Invoker,
	repo model.ConversationRepository,
	messages *conversations.MessagesManager,
	registry *tools.Registry,
	modelName string,
	cfg Config,
	opts ...Option,
) (*Orchestrator, error) {
	if cfg.MaxToolRounds < 1 {
		return nil, fmt.Errorf("max tool rounds must be at least 1, got %d", cfg.MaxToolRounds)
	}
	summaries := make([]prompts.ToolSummary, 0, len(registry.Tools()))
	for _, t := range registry.Tools() {
		summaries = append(summaries, prompts.ToolSummary{
			Name:        t.Name(),
			Description: t.Definition.Description,
			Mutating:    t.Risk == tools.Mutating,
		})
	}
	system, err := prompts.RenderSystem(ctx, cfg.Prompt, tools.ToolSearchCatalog, summaries)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		llm:          invoker,
		repo:         repo,
		messages:     messages,
		tools:        registry,
		modelName:    modelName,
		maxRounds:    cfg.MaxToolRounds,
		systemPrompt: system,
		now:          time.Now,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// turn is the working state of one Chat call.
type turn struct {
	id      string
	userID  string
	gate    *gate
	result  *ChatResult
	callSeq int

	held      *model.PendingAction
	completed bool
}

// Chat runs one user turn to completion. Provider failures produce the
// apology text rather than an error; errors are returned only when the
// conversation itself cannot be read or written.
func (o *Orchestrator) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	start := o.now()
	id := strings.TrimSpace(req.ConversationID)
	if id == "" {
		id = o.newID()
	}

	ctx, span := observe.StartSpan(ctx, "agent.chat", trace.WithAttributes(attribute.String("conversation_id", id)))
	defer span.End()

	state, err := o.repo.LoadConversation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}
	if state.Status != model.StatusActive {
		logx.Info().Str("conversation_id", id).Str("status", string(state.Status)).Msg("reopening conversation")
		o.bestEffort(id, "set_status", o.repo.SetStatus(ctx, id, model.StatusActive))
	}

	t := &turn{
		id:     id,
		userID: req.UserID,
		gate:   newGate(req.UserMessage, state),
		result: &ChatResult{ConversationID: id, ToolActionsTaken: []ToolAction{}, Status: model.StatusActive},
	}
	if state.Pending != nil {
		if t.gate.declined() {
			logx.Info().Str("conversation_id", id).Str("tool", state.Pending.Tool).Msg("buyer declined pending action")
		}
		o.bestEffort(id, "clear_pending", o.repo.SetPending(ctx, id, nil))
	}

	userMsg, err := o.messages.SaveUserMessage(ctx, id, req.UserMessage)
	if err != nil {
		return nil, fmt.Errorf("save user message: %w", err)
	}
	history := append(state.Messages, userMsg)
	msgs, _ := o.messages.BuildResponseContext(ctx, id, o.systemPrompt, history, o.modelName)

	text, err := o.loop(ctx, t, msgs)
	if err != nil {
		if errx.IsProviderFailure(err) {
			t.result.AssistantText = ApologyText
			t.result.Duration = o.now().Sub(start)
			return t.result, nil
		}
		return nil, err
	}

	if err := o.messages.SaveMessage(ctx, id, schema.AssistantMessage(text, nil)); err != nil {
		return nil, fmt.Errorf("save assistant message: %w", err)
	}
	if t.held != nil {
		o.bestEffort(id, "set_pending", o.repo.SetPending(ctx, id, t.held))
	}
	if t.completed {
		o.bestEffort(id, "set_status", o.repo.SetStatus(ctx, id, model.StatusCompleted))
		t.result.Status = model.StatusCompleted
	}

	t.result.AssistantText = text
	t.result.Duration = o.now().Sub(start)
	logx.Info().
		Str("conversation_id", id).
		Int("provider_calls", t.result.ProviderCalls).
		Int("tool_actions", len(t.result.ToolActionsTaken)).
		Float64("cost_usd", t.result.CostUSD).
		Dur("duration", t.result.Duration).
		Msg("turn completed")
	return t.result, nil
}

// loop alternates model calls and tool execution. Rounds below maxRounds may
// use tools; the round at maxRounds is a final call with tools disabled.
func (o *Orchestrator) loop(ctx context.Context, t *turn, msgs []*schema.Message) (string, error) {
	defs := o.tools.Definitions()

	for round := 0; ; round++ {
		final := round >= o.maxRounds
		offered := defs
		if final {
			logx.Warn().Str("conversation_id", t.id).Int("rounds", round).Msg("tool round limit reached")
			msgs = append(msgs, schema.SystemMessage(toolLimitNotice))
			offered = []llm.ToolDefinition{}
		}

		resp, err := o.llm.InvokeChat(ctx, llm.InvokeRequest{
			Messages:       msgs,
			Tools:          offered,
			ConversationID: t.id,
			UserID:         t.userID,
		})
		if err != nil {
			return "", err
		}
		t.result.ProviderCalls++
		t.result.InputTokens += resp.Usage.InputTokens
		t.result.OutputTokens += resp.Usage.OutputTokens
		t.result.CostUSD += resp.CostUSD

		if final || len(resp.ToolCalls) == 0 {
			if strings.TrimSpace(resp.Content) == "" {
				return EmptyReplyText, nil
			}
			return resp.Content, nil
		}

		t.assignCallIDs(resp.ToolCalls)
		call := resp.Message()
		if err := o.messages.SaveMessage(ctx, t.id, call); err != nil {
			return "", fmt.Errorf("save tool call message: %w", err)
		}
		msgs = append(msgs, call)

		for _, tc := range resp.ToolCalls {
			result := o.handleToolCall(ctx, t, tc)
			toolMsg := &schema.Message{Role: schema.Tool, Content: result, ToolCallID: tc.ID, ToolName: tc.Name}
			if err := o.messages.SaveMessage(ctx, t.id, toolMsg); err != nil {
				return "", fmt.Errorf("save tool result: %w", err)
			}
			msgs = append(msgs, toolMsg)
		}

		if t.held != nil {
			return confirmationQuestion(t.held), nil
		}
	}
}

func (t *turn) assignCallIDs(calls []llm.ToolCall) {
	for i := range calls {
		t.callSeq++
		if strings.TrimSpace(calls[i].ID) == "" {
			calls[i].ID = "call_" + strconv.Itoa(t.callSeq)
		}
	}
}

// handleToolCall runs or holds one call and returns the tool result the
// model will see.
func (o *Orchestrator) handleToolCall(ctx context.Context, t *turn, tc llm.ToolCall) string {
	action := ToolAction{CallID: tc.ID, Tool: tc.Name, Arguments: tc.Arguments}

	tl, ok := o.tools.Lookup(tc.Name)
	if !ok {
		logx.Warn().Str("conversation_id", t.id).Str("tool", tc.Name).Msg("model called an unknown tool")
		action.Status = ActionUnknownTool
		action.Result = tools.UnknownToolResult(tc.Name)
		t.result.ToolActionsTaken = append(t.result.ToolActionsTaken, action)
		return action.Result
	}

	if !t.gate.allow(tl, tc.Arguments) {
		summary := tl.Describe(tc.Arguments)
		if t.held == nil {
			t.held = &model.PendingAction{Tool: tl.Name(), Arguments: tc.Arguments, Summary: summary, ProposedAt: o.now().UTC()}
		}
		logx.Info().Str("conversation_id", t.id).Str("tool", tl.Name()).Msg("mutating tool held for confirmation")
		action.Status = ActionAwaitingConfirmation
		action.Result = heldResult(summary)
		t.result.ToolActionsTaken = append(t.result.ToolActionsTaken, action)
		return action.Result
	}

	out, err := o.execute(ctx, t.id, tl, tc)
	record := model.ActionRecord{CallID: tc.ID, Tool: tl.Name(), At: o.now().UTC()}
	if json.Valid([]byte(tc.Arguments)) {
		record.Arguments = []byte(tc.Arguments)
	}
	if err != nil {
		action.Status = ActionFailed
		action.Error = err.Error()
		action.Result = tools.ErrorResult(err)
		record.Error = err.Error()
	} else {
		action.Status = ActionExecuted
		action.Result = out
		record.Result = out
		if tl.Name() == tools.ToolCheckout {
			t.completed = true
		}
	}
	o.bestEffort(t.id, "append_action", o.repo.AppendAction(ctx, t.id, record))
	t.result.ToolActionsTaken = append(t.result.ToolActionsTaken, action)
	return action.Result
}

func (o *Orchestrator) execute(ctx context.Context, conversationID string, tl *tools.Tool, tc llm.ToolCall) (string, error) {
	ctx, span := observe.StartSpan(ctx, "agent.tool", trace.WithAttributes(
		attribute.String("tool.name", tl.Name()),
		attribute.String("tool.risk", tl.Risk.String()),
	))
	defer span.End()

	ctx = callbacks.InitCallbacks(tools.WithSession(ctx, conversationID),
		&callbacks.RunInfo{Name: tl.Name(), Type: "Procura", Component: components.ComponentOfTool})
	ctx = callbacks.OnStart(ctx, &tool.CallbackInput{ArgumentsInJSON: tc.Arguments})

	start := o.now()
	out, err := tl.Execute(ctx, tc.Arguments)
	elapsed := o.now().Sub(start).Seconds()

	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		callbacks.OnError(ctx, err)
	} else {
		callbacks.OnEnd(ctx, &tool.CallbackOutput{Response: out})
	}
	if o.metrics != nil {
		o.metrics.RecordToolExecution(ctx, tl.Name(), status, elapsed)
	}
	return out, err
}

// EndConversation closes a conversation as completed or aborted.
func (o *Orchestrator) EndConversation(ctx context.Context, conversationID string, status model.Status) error {
	if status != model.StatusCompleted && status != model.StatusAborted {
		return fmt.Errorf("cannot end conversation with status %q", status)
	}
	o.bestEffort(conversationID, "clear_pending", o.repo.SetPending(ctx, conversationID, nil))
	return o.repo.SetStatus(ctx, conversationID, status)
}

// bestEffort logs err from a write the turn does not depend on.
func (o *Orchestrator) bestEffort(conversationID, op string, err error) {
	if err == nil {
		return
	}
	var appErr *errx.AppError
	ev := logx.Warn().Err(err).Str("conversation_id", conversationID).Str("op", op)
	if errors.As(err, &appErr) {
		ev = ev.Int("status", appErr.Status)
	}
	ev.Msg("conversation write failed, continuing")
}

func heldResult(summary string) string {
	b, _ := json.Marshal(map[string]string{
		"status":  ActionAwaitingConfirmation,
		"message": "Not executed. The buyer must confirm first: " + summary,
	})
	return string(b)
}

func confirmationQuestion(p *model.PendingAction) string {
	return fmt.Sprintf("Before I go ahead: I will %s. Shall I proceed? (yes/no)", p.Summary)
}
