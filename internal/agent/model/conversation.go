package model

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cloudwego/eino/schema"
)

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

// ActionRecord is one audit entry for a tool the agent executed.
type ActionRecord struct {
	CallID    string          `json:"call_id"`
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    string          `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	At        time.Time       `json:"at"`
}

// Succeeded reports whether the tool returned without error.
func (a ActionRecord) Succeeded() bool { return a.Error == "" }

// PendingAction is a mutating tool call held back until the user confirms it.
type PendingAction struct {
	Tool       string    `json:"tool"`
	Arguments  string    `json:"arguments"`
	Summary    string    `json:"summary"`
	ProposedAt time.Time `json:"proposed_at"`
}

// ConversationState is a loaded conversation: ordered messages, the action
// log and the lifecycle status.
type ConversationState struct {
	ConversationID string
	Messages       []*schema.Message
	Actions        []ActionRecord
	Status         Status
	Pending        *PendingAction
}

// LastAssistantText returns the content of the most recent assistant message
// that carried text, or "".
func (s *ConversationState) LastAssistantText() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		m := s.Messages[i]
		if m != nil && m.Role == schema.Assistant && m.Content != "" {
			return m.Content
		}
	}
	return ""
}

type ConversationRepository interface {
	// LoadConversation returns the stored state, or an empty active state for
	// an id that has no messages yet.
	LoadConversation(ctx context.Context, conversationID string) (*ConversationState, error)

	// AppendMessage adds a message to the end of the history.
	AppendMessage(ctx context.Context, conversationID string, message *schema.Message) error

	// AppendAction adds an entry to the action log.
	AppendAction(ctx context.Context, conversationID string, action ActionRecord) error

	SetStatus(ctx context.Context, conversationID string, status Status) error

	// SetPending stores the action awaiting confirmation; nil clears it.
	SetPending(ctx context.Context, conversationID string, pending *PendingAction) error

	// ClearConversation removes everything stored for the conversation.
	ClearConversation(ctx context.Context, conversationID string) error
}
