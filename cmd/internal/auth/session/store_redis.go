package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps sessions in Redis.
//
// Each session is a JSON value at <prefix>session:<id> expiring with the
// session. <prefix>user_sessions:<uid> is a set of the user's session ids
// so DeleteAllForUser does not need to scan.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// RedisOption configures RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces every key, e.g. per test or per deployment.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// NewRedisStore wraps a Redis client. The client is owned by the caller.
func NewRedisStore(rdb redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{rdb: rdb}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

type redisRow struct {
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *RedisStore) sessionKey(id string) string { return s.prefix + "session:" + id }
func (s *RedisStore) userKey(uid string) string   { return s.prefix + "user_sessions:" + uid }

// Create stores the row with a TTL matching its expiry.
func (s *RedisStore) Create(ctx context.Context, row Row) error {
	b, err := json.Marshal(redisRow{UserID: row.UserID, CreatedAt: row.CreatedAt, ExpiresAt: row.ExpiresAt})
	if err != nil {
		return err
	}

	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SetArgs(ctx, s.sessionKey(row.ID), b, redis.SetArgs{ExpireAt: row.ExpiresAt})
		p.SAdd(ctx, s.userKey(row.UserID), row.ID)
		// The newest session always expires last, so the index lives as long as any member.
		p.ExpireAt(ctx, s.userKey(row.UserID), row.ExpiresAt)
		return nil
	})
	return err
}

// Get loads a session.
func (s *RedisStore) Get(ctx context.Context, id string) (Row, error) {
	b, err := s.rdb.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, err
	}

	var r redisRow
	if err := json.Unmarshal(b, &r); err != nil {
		return Row{}, err
	}
	return Row{ID: id, UserID: r.UserID, CreatedAt: r.CreatedAt, ExpiresAt: r.ExpiresAt}, nil
}

// Extend rewrites the session with SET XX, which never recreates a deleted key.
func (s *RedisStore) Extend(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	row, err := s.Get(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	b, err := json.Marshal(redisRow{UserID: row.UserID, CreatedAt: row.CreatedAt, ExpiresAt: expiresAt})
	if err != nil {
		return false, err
	}

	err = s.rdb.SetArgs(ctx, s.sessionKey(id), b, redis.SetArgs{Mode: "XX", ExpireAt: expiresAt}).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_ = s.rdb.ExpireAt(ctx, s.userKey(row.UserID), expiresAt).Err()
	return true, nil
}

// Delete removes a session and its index entry.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	row, err := s.Get(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.sessionKey(id))
		p.SRem(ctx, s.userKey(row.UserID), id)
		return nil
	})
	return err
}

// DeleteAllForUser removes every session listed in the user's index.
func (s *RedisStore) DeleteAllForUser(ctx context.Context, userID string) error {
	ids, err := s.rdb.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.sessionKey(id))
	}
	keys = append(keys, s.userKey(userID))
	return s.rdb.Del(ctx, keys...).Err()
}
