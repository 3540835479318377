// Package usage persists append-only token usage records.
package usage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is one accounted LLM call. Records are never updated or deleted.
type Record struct {
	ID               uuid.UUID
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CostUSD          float64
	Estimated        bool
	ConversationID   string
	UserID           string
	CreatedAt        time.Time
}

// Store appends usage records.
type Store interface {
	Save(ctx context.Context, rec Record) error
}

// Reporter reads usage back for reporting.
type Reporter interface {
	ListByConversation(ctx context.Context, conversationID string) ([]Record, error)
	TotalCostByConversation(ctx context.Context, conversationID string) (float64, error)
}

// MemoryStore keeps records in process memory. It is used when no database
// is configured and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(_ context.Context, rec Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListByConversation(_ context.Context, conversationID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, r := range s.records {
		if r.ConversationID == conversationID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) TotalCostByConversation(ctx context.Context, conversationID string) (float64, error) {
	recs, _ := s.ListByConversation(ctx, conversationID)
	total := 0.0
	for _, r := range recs {
		total += r.CostUSD
	}
	return total, nil
}

// All returns a copy of every record.
func (s *MemoryStore) All() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Record(nil), s.records...)
}
