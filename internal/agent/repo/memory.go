package repo

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/procura-agent/server/internal/agent/model"
)

// MemoryConversationRepository is a process-local repository for tests and
// runs without Redis.
type MemoryConversationRepository struct {
	mu    sync.Mutex
	convs map[string]*model.ConversationState
}

func NewMemoryConversationRepository() *MemoryConversationRepository {
	return &MemoryConversationRepository{convs: make(map[string]*model.ConversationState)}
}

func (r *MemoryConversationRepository) get(conversationID string) *model.ConversationState {
	s, ok := r.convs[conversationID]
	if !ok {
		s = &model.ConversationState{ConversationID: conversationID, Status: model.StatusActive}
		r.convs[conversationID] = s
	}
	return s
}

func (r *MemoryConversationRepository) LoadConversation(_ context.Context, conversationID string) (*model.ConversationState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := &model.ConversationState{ConversationID: conversationID, Messages: []*schema.Message{}, Status: model.StatusActive}
	s, ok := r.convs[conversationID]
	if !ok {
		return out, nil
	}
	out.Messages = append(out.Messages, s.Messages...)
	out.Actions = append(out.Actions, s.Actions...)
	out.Status = s.Status
	if s.Pending != nil {
		p := *s.Pending
		out.Pending = &p
	}
	return out, nil
}

func (r *MemoryConversationRepository) AppendMessage(_ context.Context, conversationID string, message *schema.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.get(conversationID)
	s.Messages = append(s.Messages, message)
	return nil
}

func (r *MemoryConversationRepository) AppendAction(_ context.Context, conversationID string, action model.ActionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.get(conversationID)
	s.Actions = append(s.Actions, action)
	return nil
}

func (r *MemoryConversationRepository) SetStatus(_ context.Context, conversationID string, status model.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.get(conversationID).Status = status
	return nil
}

func (r *MemoryConversationRepository) SetPending(_ context.Context, conversationID string, pending *model.PendingAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pending != nil {
		p := *pending
		pending = &p
	}
	r.get(conversationID).Pending = pending
	return nil
}

func (r *MemoryConversationRepository) ClearConversation(_ context.Context, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.convs, conversationID)
	return nil
}

var _ model.ConversationRepository = (*MemoryConversationRepository)(nil)
