package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	errx "github.com/procura-agent/server/internal/core/error"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS token_usage_records (
	id                UUID PRIMARY KEY,
	provider          TEXT NOT NULL,
	model             TEXT NOT NULL,
	prompt_tokens     INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	total_tokens      INTEGER NOT NULL,
	cost_usd          DOUBLE PRECISION NOT NULL,
	estimated         BOOLEAN NOT NULL DEFAULT FALSE,
	conversation_id   TEXT NOT NULL DEFAULT '',
	user_id           TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS token_usage_records_conversation_idx
	ON token_usage_records (conversation_id, created_at);`

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGStore is the Postgres-backed [Store] and [Reporter].
type PGStore struct {
	db DB
}

var (
	_ Store    = (*PGStore)(nil)
	_ Reporter = (*PGStore)(nil)
)

func NewPGStore(db DB) *PGStore {
	return &PGStore{db: db}
}

// CreateSchema creates the records table if it does not exist.
func (s *PGStore) CreateSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create token_usage_records: %w", errx.WrapPostgres(err))
	}
	return nil
}

// Save inserts rec.
func (s *PGStore) Save(ctx context.Context, rec Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO token_usage_records (
			id, provider, model, prompt_tokens, completion_tokens, total_tokens,
			cost_usd, estimated, conversation_id, user_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		rec.ID, rec.Provider, rec.Model, rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens,
		rec.CostUSD, rec.Estimated, rec.ConversationID, rec.UserID, rec.CreatedAt,
	)
	if err != nil {
		return errx.WrapPostgres(err)
	}
	return nil
}

func (s *PGStore) ListByConversation(ctx context.Context, conversationID string) ([]Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, provider, model, prompt_tokens, completion_tokens, total_tokens,
		       cost_usd, estimated, conversation_id, user_id, created_at
		FROM token_usage_records
		WHERE conversation_id = $1
		ORDER BY created_at
	`, conversationID)
	if err != nil {
		return nil, errx.WrapPostgres(err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Provider, &r.Model, &r.PromptTokens, &r.CompletionTokens, &r.TotalTokens,
			&r.CostUSD, &r.Estimated, &r.ConversationID, &r.UserID, &r.CreatedAt); err != nil {
			return nil, errx.WrapPostgres(err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errx.WrapPostgres(err)
	}
	return out, nil
}

func (s *PGStore) TotalCostByConversation(ctx context.Context, conversationID string) (float64, error) {
	var total float64
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(cost_usd), 0) FROM token_usage_records WHERE conversation_id = $1
	`, conversationID).Scan(&total)
	if err != nil {
		return 0, errx.WrapPostgres(err)
	}
	return total, nil
}
