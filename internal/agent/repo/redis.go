package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"

	"github.com/procura-agent/server/internal/agent/model"
	errx "github.com/procura-agent/server/internal/core/error"
	logx "github.com/procura-agent/server/pkg/logger"
)

const (
	fieldStatus  = "status"
	fieldPending = "pending"
)

// RedisConversationRepository keeps each conversation under three keys: a
// list of JSON messages, a list of JSON action records and a meta hash with
// the status and the pending confirmation. Every write refreshes the TTL of
// all three.
type RedisConversationRepository struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisConversationRepository(rdb redis.Cmdable, ttl time.Duration) *RedisConversationRepository {
	return &RedisConversationRepository{rdb: rdb, ttl: ttl}
}

func (r *RedisConversationRepository) messagesKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s:messages", conversationID)
}

func (r *RedisConversationRepository) actionsKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s:actions", conversationID)
}

func (r *RedisConversationRepository) metaKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s:meta", conversationID)
}

func (r *RedisConversationRepository) keys(conversationID string) []string {
	return []string{r.messagesKey(conversationID), r.actionsKey(conversationID), r.metaKey(conversationID)}
}

// touch queues TTL refreshes for every key of the conversation. EXPIRE on a
// missing key is a no-op.
func (r *RedisConversationRepository) touch(ctx context.Context, pipe redis.Pipeliner, conversationID string) {
	if r.ttl <= 0 {
		return
	}
	for _, k := range r.keys(conversationID) {
		pipe.Expire(ctx, k, r.ttl)
	}
}

func (r *RedisConversationRepository) write(ctx context.Context, conversationID string, fn func(pipe redis.Pipeliner)) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		fn(pipe)
		r.touch(ctx, pipe, conversationID)
		return nil
	})
	if err != nil {
		logx.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to write conversation to redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisConversationRepository) AppendMessage(ctx context.Context, conversationID string, message *schema.Message) error {
	b, err := json.Marshal(message)
	if err != nil {
		logx.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to marshal message")
		return fmt.Errorf("marshal message: %w", err)
	}
	return r.write(ctx, conversationID, func(pipe redis.Pipeliner) {
		pipe.RPush(ctx, r.messagesKey(conversationID), b)
		pipe.HSetNX(ctx, r.metaKey(conversationID), fieldStatus, string(model.StatusActive))
	})
}

func (r *RedisConversationRepository) AppendAction(ctx context.Context, conversationID string, action model.ActionRecord) error {
	b, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}
	return r.write(ctx, conversationID, func(pipe redis.Pipeliner) {
		pipe.RPush(ctx, r.actionsKey(conversationID), b)
	})
}

func (r *RedisConversationRepository) SetStatus(ctx context.Context, conversationID string, status model.Status) error {
	return r.write(ctx, conversationID, func(pipe redis.Pipeliner) {
		pipe.HSet(ctx, r.metaKey(conversationID), fieldStatus, string(status))
	})
}

func (r *RedisConversationRepository) SetPending(ctx context.Context, conversationID string, pending *model.PendingAction) error {
	if pending == nil {
		return r.write(ctx, conversationID, func(pipe redis.Pipeliner) {
			pipe.HDel(ctx, r.metaKey(conversationID), fieldPending)
		})
	}
	b, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("marshal pending action: %w", err)
	}
	return r.write(ctx, conversationID, func(pipe redis.Pipeliner) {
		pipe.HSet(ctx, r.metaKey(conversationID), fieldPending, b)
	})
}

func (r *RedisConversationRepository) LoadConversation(ctx context.Context, conversationID string) (*model.ConversationState, error) {
	var (
		msgsCmd    *redis.StringSliceCmd
		actionsCmd *redis.StringSliceCmd
		metaCmd    *redis.MapStringStringCmd
	)
	_, err := r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		msgsCmd = pipe.LRange(ctx, r.messagesKey(conversationID), 0, -1)
		actionsCmd = pipe.LRange(ctx, r.actionsKey(conversationID), 0, -1)
		metaCmd = pipe.HGetAll(ctx, r.metaKey(conversationID))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		logx.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to load conversation from redis")
		return nil, errx.WrapRedis(err)
	}

	state := &model.ConversationState{
		ConversationID: conversationID,
		Messages:       []*schema.Message{},
		Status:         model.StatusActive,
	}

	for i, s := range msgsCmd.Val() {
		var m schema.Message
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			logx.Error().Err(err).Str("conversation_id", conversationID).Int("index", i).Msg("failed to unmarshal message")
			return nil, fmt.Errorf("unmarshal message at index %d: %w", i, err)
		}
		state.Messages = append(state.Messages, &m)
	}

	// A corrupt audit entry must not make the conversation unreadable.
	for i, s := range actionsCmd.Val() {
		var a model.ActionRecord
		if err := json.Unmarshal([]byte(s), &a); err != nil {
			logx.Warn().Err(err).Str("conversation_id", conversationID).Int("index", i).Msg("skipping unreadable action record")
			continue
		}
		state.Actions = append(state.Actions, a)
	}

	meta := metaCmd.Val()
	if s := meta[fieldStatus]; s != "" {
		state.Status = model.Status(s)
	}
	if p := meta[fieldPending]; p != "" {
		var pending model.PendingAction
		if err := json.Unmarshal([]byte(p), &pending); err != nil {
			logx.Warn().Err(err).Str("conversation_id", conversationID).Msg("dropping unreadable pending action")
		} else {
			state.Pending = &pending
		}
	}
	return state, nil
}

func (r *RedisConversationRepository) ClearConversation(ctx context.Context, conversationID string) error {
	if err := r.rdb.Del(ctx, r.keys(conversationID)...).Err(); err != nil {
		logx.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to delete conversation from redis")
		return errx.WrapRedis(err)
	}
	return nil
}

var _ model.ConversationRepository = (*RedisConversationRepository)(nil)
