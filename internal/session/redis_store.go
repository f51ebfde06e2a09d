package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix  = "riskwise:session:"
	redisTokenField = "token"
	redisUserField  = "user"
)

// RedisStore keeps each session in a hash with two fixed fields, token and
// user, written together in one MULTI/EXEC.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func redisKey(contextID string) string { return redisKeyPrefix + contextID }

func (s *RedisStore) Load(ctx context.Context, contextID string) (*Session, error) {
	fields, err := s.client.HGetAll(ctx, redisKey(contextID)).Result()
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	token, hasToken := fields[redisTokenField]
	user, hasUser := fields[redisUserField]
	if !hasToken || !hasUser {
		// Half a session is no session.
		_ = s.Delete(ctx, contextID)
		return nil, nil
	}

	sess, err := decode(token, []byte(user))
	if err != nil {
		_ = s.Delete(ctx, contextID)
		return nil, nil
	}
	return sess, nil
}

func (s *RedisStore) Save(ctx context.Context, contextID string, sess *Session) error {
	if sess == nil {
		return ErrMissingUser
	}
	user, err := json.Marshal(sess.User)
	if err != nil {
		return fmt.Errorf("encoding user: %w", err)
	}

	key := redisKey(contextID)
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key, redisTokenField, sess.Token, redisUserField, user)
		if s.ttl > 0 {
			p.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, contextID string) error {
	if err := s.client.Del(ctx, redisKey(contextID)).Err(); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}
