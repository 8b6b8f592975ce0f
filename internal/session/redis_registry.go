package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the part of the go-redis client the registry needs.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisRegistry stores session state as JSON under a TTL so several server
// instances can share sessions.
type RedisRegistry struct {
	client RedisClient
	prefix string
	ttl    time.Duration
}

// NewRedisRegistry creates a registry storing keys under prefix.
func NewRedisRegistry(client RedisClient, prefix string, ttl time.Duration) *RedisRegistry {
	if prefix == "" {
		prefix = "scholarpass:session:"
	}
	return &RedisRegistry{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisRegistry) key(id string) string {
	return r.prefix + id
}

// Load rebuilds the session stored under id.
func (r *RedisRegistry) Load(ctx context.Context, id string) (*Session, bool, error) {
	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load session: %w", err)
	}

	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, false, fmt.Errorf("%w: decode session: %w", ErrCorruptSession, err)
	}
	return FromState(st), true, nil
}

// Save writes the session state and refreshes its TTL.
func (r *RedisRegistry) Save(ctx context.Context, s *Session) error {
	st := s.State()
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.client.Set(ctx, r.key(st.ID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Delete removes the session.
func (r *RedisRegistry) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
