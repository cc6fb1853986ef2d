package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/skolastik/skolastik-backend/internal/config"
	"github.com/skolastik/skolastik-backend/internal/model"
)

// AnswerCache is the hot-path store for in-flight answers: every
// autosave lands here first and the write-behind worker drains it to
// PostgreSQL. Finalization reads it as the freshest answer snapshot.
type AnswerCache interface {
	SaveAnswer(ctx context.Context, sessionID, questionID string, raw json.RawMessage) error
	SaveAll(ctx context.Context, sessionID string, answers model.AnswerMap) error
	Answers(ctx context.Context, sessionID string) (model.AnswerMap, error)
	Clear(ctx context.Context, sessionID string) error
	EnqueuePersist(ctx context.Context, payload []byte) error
	PublishResult(ctx context.Context, examID string, payload []byte) error

	// TryAttach acquires the single-client stream lock for a session.
	// A second tab attaching while the first holds the lock is rejected.
	TryAttach(ctx context.Context, sessionID string, ttl time.Duration) (bool, error)
	RefreshAttach(ctx context.Context, sessionID string, ttl time.Duration) error
	Detach(ctx context.Context, sessionID string) error
}

// RedisAnswerCache implements AnswerCache on go-redis.
type RedisAnswerCache struct {
	rdb *redis.Client
}

// NewRedisAnswerCache creates a RedisAnswerCache.
func NewRedisAnswerCache(rdb *redis.Client) *RedisAnswerCache {
	return &RedisAnswerCache{rdb: rdb}
}

func (c *RedisAnswerCache) SaveAnswer(ctx context.Context, sessionID, questionID string, raw json.RawMessage) error {
	key := config.CacheKey.SessionAnswersKey(sessionID)
	return c.rdb.HSet(ctx, key, questionID, string(raw)).Err()
}

func (c *RedisAnswerCache) SaveAll(ctx context.Context, sessionID string, answers model.AnswerMap) error {
	if len(answers) == 0 {
		return nil
	}
	fields := make(map[string]interface{}, len(answers))
	for qid, raw := range answers {
		fields[qid] = string(raw)
	}
	key := config.CacheKey.SessionAnswersKey(sessionID)
	return c.rdb.HSet(ctx, key, fields).Err()
}

func (c *RedisAnswerCache) Answers(ctx context.Context, sessionID string) (model.AnswerMap, error) {
	key := config.CacheKey.SessionAnswersKey(sessionID)
	raw, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	answers := make(model.AnswerMap, len(raw))
	for qid, v := range raw {
		answers[qid] = json.RawMessage(v)
	}
	return answers, nil
}

func (c *RedisAnswerCache) Clear(ctx context.Context, sessionID string) error {
	return c.rdb.Del(ctx, config.CacheKey.SessionAnswersKey(sessionID)).Err()
}

func (c *RedisAnswerCache) EnqueuePersist(ctx context.Context, payload []byte) error {
	return c.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, payload).Err()
}

func (c *RedisAnswerCache) PublishResult(ctx context.Context, examID string, payload []byte) error {
	return c.rdb.Publish(ctx, config.CacheKey.ResultChannel(examID), payload).Err()
}

func (c *RedisAnswerCache) TryAttach(ctx context.Context, sessionID string, ttl time.Duration) (bool, error) {
	key := config.CacheKey.SessionAttachKey(sessionID)
	return c.rdb.SetNX(ctx, key, 1, ttl).Result()
}

func (c *RedisAnswerCache) RefreshAttach(ctx context.Context, sessionID string, ttl time.Duration) error {
	key := config.CacheKey.SessionAttachKey(sessionID)
	return c.rdb.Expire(ctx, key, ttl).Err()
}

func (c *RedisAnswerCache) Detach(ctx context.Context, sessionID string) error {
	return c.rdb.Del(ctx, config.CacheKey.SessionAttachKey(sessionID)).Err()
}
