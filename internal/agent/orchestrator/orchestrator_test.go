package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/procura-agent/server/internal/agent/conversations"
	"github.com/procura-agent/server/internal/agent/model"
	"github.com/procura-agent/server/internal/agent/repo"
	"github.com/procura-agent/server/internal/agent/tools"
	"github.com/procura-agent/server/internal/catalog"
	errx "github.com/procura-agent/server/internal/core/error"
	"github.com/procura-agent/server/internal/llm"
)

type step func(req llm.InvokeRequest) (*llm.AIResponse, error)

type scriptedLLM struct {
	mu       sync.Mutex
	steps    []step
	requests []llm.InvokeRequest
}

func (s *scriptedLLM) InvokeChat(_ context.Context, req llm.InvokeRequest) (*llm.AIResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req.Messages = append([]*schema.Message(nil), req.Messages...)
	s.requests = append(s.requests, req)
	if len(s.steps) == 0 {
		return &llm.AIResponse{Content: "done"}, nil
	}
	next := s.steps[0]
	s.steps = s.steps[1:]
	return next(req)
}

func text(content string) step {
	return func(llm.InvokeRequest) (*llm.AIResponse, error) {
		return &llm.AIResponse{Content: content, Usage: llm.Usage{InputTokens: 100, OutputTokens: 10}, CostUSD: 0.001}, nil
	}
}

func calls(tc ...llm.ToolCall) step {
	return func(llm.InvokeRequest) (*llm.AIResponse, error) {
		return &llm.AIResponse{ToolCalls: tc, Usage: llm.Usage{InputTokens: 80, OutputTokens: 20}, CostUSD: 0.001}, nil
	}
}

type harness struct {
	orch  *Orchestrator
	llm   *scriptedLLM
	repo  *repo.MemoryConversationRepository
	carts *catalog.Carts
}

func newHarness(t *testing.T, maxRounds int, steps ...step) *harness {
	t.Helper()
	cat := catalog.NewDefault()
	carts := catalog.NewCarts(cat)
	registry, err := tools.NewRegistry(cat, carts)
	if err != nil {
		t.Fatal(err)
	}
	r := repo.NewMemoryConversationRepository()
	mm := conversations.NewMessagesManager(r, model.ConversationConfig{HistoryMaxMessages: 50, HistoryMaxTokens: 0}, nil, nil)
	fake := &scriptedLLM{steps: steps}

	orch, err := New(context.Background(), fake, r, mm, registry, "gpt-4o-mini",
		Config{MaxToolRounds: maxRounds, Prompt: model.ResponsePromptConfig{BusinessName: "Procura", BusinessType: "supplier"}},
		WithIDGenerator(func() string { return "conv-new" }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &harness{orch: orch, llm: fake, repo: r, carts: carts}
}

func (h *harness) seed(t *testing.T, id string, msgs ...*schema.Message) {
	t.Helper()
	for _, m := range msgs {
		if err := h.repo.AppendMessage(context.Background(), id, m); err != nil {
			t.Fatal(err)
		}
	}
}

func (h *harness) state(t *testing.T, id string) *model.ConversationState {
	t.Helper()
	s, err := h.repo.LoadConversation(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestChat_SearchThenAnswer(t *testing.T) {
	h := newHarness(t, 10,
		calls(llm.ToolCall{Name: tools.ToolSearchCatalog, Arguments: `{"query":"USB-C cable"}`}),
		text("I found 3 items"),
	)

	res, err := h.orch.Chat(context.Background(), ChatRequest{UserMessage: "find USB-C cables"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if res.AssistantText != "I found 3 items" || res.ConversationID != "conv-new" {
		t.Errorf("result = %+v", res)
	}
	if res.ProviderCalls != 2 || len(h.llm.requests) != 2 {
		t.Fatalf("provider calls = %d, want 2", len(h.llm.requests))
	}
	if len(res.ToolActionsTaken) != 1 {
		t.Fatalf("actions = %+v", res.ToolActionsTaken)
	}
	act := res.ToolActionsTaken[0]
	if act.Status != ActionExecuted || act.CallID != "call_1" || !strings.Contains(act.Result, `"total":3`) {
		t.Errorf("action = %+v", act)
	}
	if res.CostUSD != 0.002 || res.InputTokens != 180 || res.OutputTokens != 30 {
		t.Errorf("accounting = %v / %d / %d", res.CostUSD, res.InputTokens, res.OutputTokens)
	}

	second := h.llm.requests[1].Messages
	last := second[len(second)-1]
	if last.Role != schema.Tool || last.ToolCallID != "call_1" || !strings.Contains(last.Content, `"total":3`) {
		t.Errorf("second request ends with %+v", last)
	}
	if first := h.llm.requests[0].Messages[0]; first.Role != schema.System || !strings.Contains(first.Content, "Procura") {
		t.Errorf("first message = %+v", first)
	}

	state := h.state(t, "conv-new")
	if len(state.Messages) != 4 {
		t.Errorf("persisted messages = %d, want 4", len(state.Messages))
	}
	if len(state.Actions) != 1 || state.Actions[0].Tool != tools.ToolSearchCatalog {
		t.Errorf("action log = %+v", state.Actions)
	}
}

const proposal = "I can add 2 Anker USB-C cables (acc-101) to your cart. Shall I go ahead?"

func addCall() llm.ToolCall {
	return llm.ToolCall{ID: "tc-1", Name: tools.ToolAddToCart, Arguments: `{"item_id":"acc-101","quantity":2}`}
}

func TestChat_ConfirmationGateNo(t *testing.T) {
	h := newHarness(t, 10, calls(addCall()))
	h.seed(t, "c1", schema.UserMessage("I need cables"), schema.AssistantMessage(proposal, nil))

	res, err := h.orch.Chat(context.Background(), ChatRequest{UserMessage: "no", ConversationID: "c1"})
	if err != nil {
		t.Fatal(err)
	}
	if cart := h.carts.View("c1"); len(cart.Lines) != 0 {
		t.Fatalf("add_to_cart executed after a no: %+v", cart)
	}
	if len(res.ToolActionsTaken) != 1 || res.ToolActionsTaken[0].Status != ActionAwaitingConfirmation {
		t.Errorf("actions = %+v", res.ToolActionsTaken)
	}
	if len(h.state(t, "c1").Actions) != 0 {
		t.Error("held call must not reach the action log")
	}
}

func TestChat_ConfirmationGateYes(t *testing.T) {
	h := newHarness(t, 10, calls(addCall(), addCall()), text("Added 2 cables to your cart."))
	h.seed(t, "c1", schema.UserMessage("I need cables"), schema.AssistantMessage(proposal, nil))

	res, err := h.orch.Chat(context.Background(), ChatRequest{UserMessage: "Yes, please.", ConversationID: "c1"})
	if err != nil {
		t.Fatal(err)
	}
	cart := h.carts.View("c1")
	if len(cart.Lines) != 1 || cart.Lines[0].Quantity != 2 {
		t.Fatalf("cart = %+v, want exactly one execution of 2 units", cart)
	}
	var executed, held int
	for _, a := range res.ToolActionsTaken {
		switch a.Status {
		case ActionExecuted:
			executed++
		case ActionAwaitingConfirmation:
			held++
		}
	}
	if executed != 1 || held != 1 {
		t.Errorf("executed = %d, held = %d, want 1 and 1", executed, held)
	}
	if len(h.state(t, "c1").Actions) != 1 {
		t.Errorf("action log = %+v", h.state(t, "c1").Actions)
	}
}

func TestChat_MutatingCallWithoutProposalIsHeld(t *testing.T) {
	h := newHarness(t, 10, calls(addCall()))

	res, err := h.orch.Chat(context.Background(), ChatRequest{UserMessage: "yes add two anker cables", ConversationID: "c2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(h.carts.View("c2").Lines) != 0 {
		t.Fatal("executed without a prior proposal")
	}
	if !strings.Contains(res.AssistantText, "add 2 x acc-101 to the cart") || !strings.Contains(res.AssistantText, "(yes/no)") {
		t.Errorf("assistant text = %q", res.AssistantText)
	}
	pending := h.state(t, "c2").Pending
	if pending == nil || pending.Tool != tools.ToolAddToCart {
		t.Fatalf("pending = %+v", pending)
	}

	// The stored proposal clears the call on the next affirmative turn.
	h.llm.steps = []step{calls(addCall()), text("Done.")}
	if _, err := h.orch.Chat(context.Background(), ChatRequest{UserMessage: "ok", ConversationID: "c2"}); err != nil {
		t.Fatal(err)
	}
	if cart := h.carts.View("c2"); len(cart.Lines) != 1 {
		t.Fatalf("cart = %+v", cart)
	}
	if h.state(t, "c2").Pending != nil {
		t.Error("pending action not cleared after use")
	}
}

func TestChat_ConfirmationBindsPendingArguments(t *testing.T) {
	h := newHarness(t, 10, calls(addCall()))
	if _, err := h.orch.Chat(context.Background(), ChatRequest{UserMessage: "two anker cables please", ConversationID: "c9"}); err != nil {
		t.Fatal(err)
	}
	if p := h.state(t, "c9").Pending; p == nil || !strings.Contains(p.Arguments, `"quantity":2`) {
		t.Fatalf("pending = %+v", p)
	}

	bigger := llm.ToolCall{ID: "tc-2", Name: tools.ToolAddToCart, Arguments: `{"item_id":"acc-101","quantity":50}`}
	h.llm.steps = []step{calls(bigger)}
	res, err := h.orch.Chat(context.Background(), ChatRequest{UserMessage: "yes", ConversationID: "c9"})
	if err != nil {
		t.Fatal(err)
	}
	if cart := h.carts.View("c9"); len(cart.Lines) != 0 {
		t.Fatalf("confirmed 2 units but cart = %+v", cart)
	}
	if len(res.ToolActionsTaken) != 1 || res.ToolActionsTaken[0].Status != ActionAwaitingConfirmation {
		t.Errorf("actions = %+v", res.ToolActionsTaken)
	}
	if !strings.Contains(res.AssistantText, "add 50 x acc-101 to the cart") {
		t.Errorf("assistant text = %q, want a fresh confirmation question", res.AssistantText)
	}
	if p := h.state(t, "c9").Pending; p == nil || !strings.Contains(p.Arguments, `"quantity":50`) {
		t.Errorf("pending = %+v, want the new call held", p)
	}
}

func TestChat_KeywordWithoutItemIsHeld(t *testing.T) {
	h := newHarness(t, 10, calls(llm.ToolCall{Name: tools.ToolAddToCart, Arguments: `{"item_id":"acc-101","quantity":40}`}))
	h.seed(t, "c10", schema.UserMessage("hi"), schema.AssistantMessage("Your cart is empty right now. Want me to look for something?", nil))

	res, err := h.orch.Chat(context.Background(), ChatRequest{UserMessage: "sure", ConversationID: "c10"})
	if err != nil {
		t.Fatal(err)
	}
	if cart := h.carts.View("c10"); len(cart.Lines) != 0 {
		t.Fatalf("cart = %+v, want nothing added", cart)
	}
	if a := res.ToolActionsTaken[0]; a.Status != ActionAwaitingConfirmation {
		t.Errorf("action = %+v", a)
	}
}

func TestChat_MalformedArgumentsBecomeToolError(t *testing.T) {
	h := newHarness(t, 10,
		calls(llm.ToolCall{Name: tools.ToolGetItemDetails, Arguments: `{"item_id": "acc-1`}),
		text("Sorry, which item did you mean?"),
	)

	res, err := h.orch.Chat(context.Background(), ChatRequest{UserMessage: "details please", ConversationID: "c3"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if res.ProviderCalls != 2 {
		t.Errorf("provider calls = %d, want 2", res.ProviderCalls)
	}
	if a := res.ToolActionsTaken[0]; a.Status != ActionFailed || !strings.Contains(a.Result, "invalid_arguments") {
		t.Errorf("action = %+v", a)
	}
	msgs := h.llm.requests[1].Messages
	if last := msgs[len(msgs)-1]; last.Role != schema.Tool || !strings.Contains(last.Content, "invalid_arguments") {
		t.Errorf("model did not see the tool error: %+v", last)
	}
	if acts := h.state(t, "c3").Actions; len(acts) != 1 || acts[0].Error == "" || acts[0].Arguments != nil {
		t.Errorf("action log = %+v", acts)
	}
}

func TestChat_ToolRoundLimit(t *testing.T) {
	loopForever := func(req llm.InvokeRequest) (*llm.AIResponse, error) {
		if req.Tools != nil && len(req.Tools) == 0 {
			return &llm.AIResponse{Content: "Here is what I found so far."}, nil
		}
		return &llm.AIResponse{ToolCalls: []llm.ToolCall{{Name: tools.ToolViewCart, Arguments: `{}`}}}, nil
	}
	h := newHarness(t, 2, loopForever, loopForever, loopForever, loopForever)

	res, err := h.orch.Chat(context.Background(), ChatRequest{UserMessage: "what is in my cart", ConversationID: "c4"})
	if err != nil {
		t.Fatal(err)
	}
	if res.ProviderCalls != 3 {
		t.Fatalf("provider calls = %d, want 3", res.ProviderCalls)
	}
	if res.AssistantText != "Here is what I found so far." {
		t.Errorf("assistant text = %q", res.AssistantText)
	}
	final := h.llm.requests[2]
	if final.Tools == nil || len(final.Tools) != 0 {
		t.Errorf("final call tools = %v, want disabled", final.Tools)
	}
	if last := final.Messages[len(final.Messages)-1]; last.Role != schema.System {
		t.Errorf("final call should end with the limit notice, got %+v", last)
	}
	ids := map[string]bool{}
	for _, a := range res.ToolActionsTaken {
		ids[a.CallID] = true
	}
	if !ids["call_1"] || !ids["call_2"] {
		t.Errorf("call ids = %v", ids)
	}
}

func TestChat_ProviderFailureApologises(t *testing.T) {
	h := newHarness(t, 10, func(llm.InvokeRequest) (*llm.AIResponse, error) {
		return nil, &errx.ProviderUnavailableError{Provider: "openai"}
	})

	res, err := h.orch.Chat(context.Background(), ChatRequest{UserMessage: "hello", ConversationID: "c5"})
	if err != nil {
		t.Fatalf("Chat returned %v, want apology", err)
	}
	if res.AssistantText != ApologyText {
		t.Errorf("assistant text = %q", res.AssistantText)
	}
	if strings.Contains(res.AssistantText, "circuit") {
		t.Error("apology leaks provider details")
	}
	msgs := h.state(t, "c5").Messages
	if len(msgs) != 1 || msgs[0].Role != schema.User {
		t.Errorf("persisted = %v, apology must not be stored", msgs)
	}
}

func TestChat_UnknownToolAndEmptyReply(t *testing.T) {
	h := newHarness(t, 10,
		calls(llm.ToolCall{ID: "x", Name: "teleport", Arguments: `{}`}),
		text(""),
	)

	res, err := h.orch.Chat(context.Background(), ChatRequest{UserMessage: "beam me", ConversationID: "c6"})
	if err != nil {
		t.Fatal(err)
	}
	if a := res.ToolActionsTaken[0]; a.Status != ActionUnknownTool || !strings.Contains(a.Result, "unknown_tool") {
		t.Errorf("action = %+v", a)
	}
	if res.AssistantText != EmptyReplyText {
		t.Errorf("assistant text = %q", res.AssistantText)
	}
}

func TestChat_CheckoutCompletesConversation(t *testing.T) {
	h := newHarness(t, 10,
		calls(llm.ToolCall{Name: tools.ToolCheckout, Arguments: `{}`}),
		text("Your order is placed."),
	)
	if _, err := h.carts.Add("c7", "acc-102", 1); err != nil {
		t.Fatal(err)
	}
	h.seed(t, "c7", schema.UserMessage("that's all"), schema.AssistantMessage("Your cart total is 450. Shall I place the order?", nil))

	res, err := h.orch.Chat(context.Background(), ChatRequest{UserMessage: "yes go ahead", ConversationID: "c7"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != model.StatusCompleted || h.state(t, "c7").Status != model.StatusCompleted {
		t.Errorf("status = %s / %s", res.Status, h.state(t, "c7").Status)
	}
}

func TestChat_MessageAppendFailureIsFatal(t *testing.T) {
	h := newHarness(t, 10, text("hi"))
	h.orch.messages = conversations.NewMessagesManager(failingRepo{h.repo}, model.ConversationConfig{}, nil, nil)

	if _, err := h.orch.Chat(context.Background(), ChatRequest{UserMessage: "hello", ConversationID: "c8"}); err == nil {
		t.Fatal("expected error when history cannot be written")
	}
}

type failingRepo struct{ *repo.MemoryConversationRepository }

func (failingRepo) AppendMessage(context.Context, string, *schema.Message) error {
	return errors.New("redis down")
}

func TestEndConversation(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()

	if err := h.orch.EndConversation(ctx, "c9", model.StatusAborted); err != nil {
		t.Fatal(err)
	}
	if got := h.state(t, "c9").Status; got != model.StatusAborted {
		t.Errorf("status = %s", got)
	}
	if err := h.orch.EndConversation(ctx, "c9", model.StatusActive); err == nil {
		t.Error("ending with active status should fail")
	}
}

func TestClassifyReply(t *testing.T) {
	cases := map[string]Reply{
		"yes":                     ReplyAffirmative,
		"Yes, please.":            ReplyAffirmative,
		"ok go ahead":             ReplyAffirmative,
		"Sure!":                   ReplyAffirmative,
		"no":                      ReplyNegative,
		"No thanks":               ReplyNegative,
		"ok, but don't check out": ReplyNegative,
		"wait":                    ReplyNegative,
		"find USB-C cables":       ReplyOther,
		"":                        ReplyOther,
		"yesterday's order":       ReplyOther,
		"know any good laptops?":  ReplyOther,
	}
	for in, want := range cases {
		if got := ClassifyReply(in); got != want {
			t.Errorf("ClassifyReply(%q) = %d, want %d", in, got, want)
		}
	}
}
