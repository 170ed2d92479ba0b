package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anatech/leadscout/shared"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisSessionStore keeps sessions as expiring keys so every API instance
// shares the same view of who is logged in.
type RedisSessionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisSessionStore(rdb *redis.Client, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisSessionStore{rdb: rdb, ttl: ttl}
}

func sessionKey(token string) string {
	return fmt.Sprintf("session:%s", token)
}

func userSessionsKey(userID string) string {
	return fmt.Sprintf("user_sessions:%s", userID)
}

func (s *RedisSessionStore) Issue(ctx context.Context, userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", shared.NewValidationError("RedisSessionStore", "Issue", "user id is required")
	}
	token, err := newSessionToken()
	if err != nil {
		return "", shared.WrapError(err, shared.ErrorCategoryInternal, "TOKEN_GENERATION", "RedisSessionStore", "Issue")
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(token), userID, s.ttl)
	pipe.SAdd(ctx, userSessionsKey(userID), token)
	pipe.Expire(ctx, userSessionsKey(userID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", shared.WrapError(err, shared.ErrorCategoryDatabase, "SESSION_STORE", "RedisSessionStore", "Issue")
	}
	return token, nil
}

func (s *RedisSessionStore) Validate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", shared.NewUnauthenticatedError("Validate")
	}

	userID, err := s.rdb.Get(ctx, sessionKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", shared.NewUnauthenticatedError("Validate")
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"component": "RedisSessionStore",
			"error":     err.Error(),
		}).Error("Session lookup failed")
		return "", shared.WrapError(err, shared.ErrorCategoryDatabase, "SESSION_STORE", "RedisSessionStore", "Validate")
	}
	return userID, nil
}

func (s *RedisSessionStore) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	userID, err := s.rdb.GetDel(ctx, sessionKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return shared.WrapError(err, shared.ErrorCategoryDatabase, "SESSION_STORE", "RedisSessionStore", "Revoke")
	}
	if err := s.rdb.SRem(ctx, userSessionsKey(userID), token).Err(); err != nil {
		return shared.WrapError(err, shared.ErrorCategoryDatabase, "SESSION_STORE", "RedisSessionStore", "Revoke")
	}
	return nil
}

func (s *RedisSessionStore) RevokeAll(ctx context.Context, userID string) error {
	tokens, err := s.rdb.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil {
		return shared.WrapError(err, shared.ErrorCategoryDatabase, "SESSION_STORE", "RedisSessionStore", "RevokeAll")
	}

	keys := make([]string, 0, len(tokens)+1)
	for _, token := range tokens {
		keys = append(keys, sessionKey(token))
	}
	keys = append(keys, userSessionsKey(userID))
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return shared.WrapError(err, shared.ErrorCategoryDatabase, "SESSION_STORE", "RedisSessionStore", "RevokeAll")
	}

	logrus.WithFields(logrus.Fields{
		"component": "RedisSessionStore",
		"user_id":   userID,
		"revoked":   len(tokens),
	}).Info("Revoked all sessions")
	return nil
}

func (s *RedisSessionStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
