// internal/store/context_store.go
package store

import (
	"context"
	"encoding/json"
	"time"

	"analytics-agent/internal/common/database"
	apperrors "analytics-agent/internal/common/errors"
	"analytics-agent/internal/common/logger"
	"analytics-agent/internal/models"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "queryctx:"

// ContextStore persists per-session conversation context between
// clarification turns. Records expire on their own; a completed query clears
// its record explicitly.
type ContextStore struct {
	redis *database.RedisClient
	ttl   time.Duration
	log   logger.Logger
}

func NewContextStore(redisClient *database.RedisClient, ttl time.Duration, log logger.Logger) *ContextStore {
	return &ContextStore{
		redis: redisClient,
		ttl:   ttl,
		log:   log,
	}
}

// Get loads the context for a session. The second return value reports
// whether a record existed; a missing record is a normal first turn, not an
// error.
func (s *ContextStore) Get(ctx context.Context, sessionID string) (*models.ConversationContext, bool, error) {
	raw, err := s.redis.Get(ctx, keyPrefix+sessionID)
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.NewContextStoreError("get", err)
	}

	var conversation models.ConversationContext
	if err := json.Unmarshal([]byte(raw), &conversation); err != nil {
		// A corrupt record is unrecoverable; drop it and start fresh.
		s.log.WithError(err).Warn("Discarding corrupt conversation context", map[string]interface{}{
			"sessionId": sessionID,
		})
		_ = s.redis.Del(ctx, keyPrefix+sessionID)
		return nil, false, nil
	}

	return &conversation, true, nil
}

// Put stores the context, resetting its TTL.
func (s *ContextStore) Put(ctx context.Context, conversation *models.ConversationContext) error {
	raw, err := json.Marshal(conversation)
	if err != nil {
		return apperrors.NewContextStoreError("marshal", err)
	}

	if err := s.redis.Set(ctx, keyPrefix+conversation.SessionID, raw, s.ttl); err != nil {
		return apperrors.NewContextStoreError("put", err)
	}
	return nil
}

// Clear removes the context for a session.
func (s *ContextStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.redis.Del(ctx, keyPrefix+sessionID); err != nil {
		return apperrors.NewContextStoreError("clear", err)
	}
	return nil
}
