package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"

	"github.com/falaai/server/internal/agent/model"
	errx "github.com/falaai/server/internal/core/error"
	logx "github.com/falaai/server/pkg/logger"
)

// RedisTranscriptMirror keeps anonymous transcripts as Redis lists, one
// JSON-encoded schema.Message per element. Every append refreshes the TTL.
type RedisTranscriptMirror struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisTranscriptMirror(rdb redis.Cmdable, ttl time.Duration) *RedisTranscriptMirror {
	return &RedisTranscriptMirror{rdb: rdb, ttl: ttl}
}

func (r *RedisTranscriptMirror) transcriptKey(key string) string {
	return fmt.Sprintf("falaai:transcript:%s", key)
}

func (r *RedisTranscriptMirror) AppendExchange(ctx context.Context, conversationKey, userText, aiText string) error {
	userMsg, err := json.Marshal(schema.UserMessage(userText))
	if err != nil {
		return fmt.Errorf("marshal user message: %w", err)
	}
	aiMsg, err := json.Marshal(schema.AssistantMessage(aiText, nil))
	if err != nil {
		return fmt.Errorf("marshal assistant message: %w", err)
	}
	key := r.transcriptKey(conversationKey)

	pipe := r.rdb.TxPipeline()
	pipe.RPush(ctx, key, userMsg, aiMsg)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to append exchange to redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisTranscriptMirror) Load(ctx context.Context, conversationKey string) ([]*schema.Message, error) {
	key := r.transcriptKey(conversationKey)

	rows, err := r.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		logx.Error().Err(err).Str("key", key).Msg("failed to load transcript from redis")
		return nil, errx.WrapRedis(err)
	}

	msgs := make([]*schema.Message, 0, len(rows))
	for i, s := range rows {
		var m schema.Message
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			logx.Warn().Err(err).Str("key", key).Int("index", i).Msg("skipping undecodable message")
			continue
		}
		msgs = append(msgs, &m)
	}
	return msgs, nil
}

func (r *RedisTranscriptMirror) Clear(ctx context.Context, conversationKey string) error {
	key := r.transcriptKey(conversationKey)
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to delete transcript from redis")
		return errx.WrapRedis(err)
	}
	return nil
}

var _ model.TranscriptMirror = (*RedisTranscriptMirror)(nil)
