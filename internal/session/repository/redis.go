package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"portfolio-cms/backend/internal/security"
	"portfolio-cms/backend/internal/session/domain"
)

const maxTxRetries = 5

var errUnchanged = errors.New("unchanged")

// RedisStore is a Store shared by every API instance. Sessions are JSON values
// with a TTL; each user has an index set of session ids; blacklisted tokens are
// keyed by their SHA-256.
type RedisStore struct {
	client       redis.UniversalClient
	prefix       string
	sessionTTL   time.Duration
	blacklistTTL time.Duration
	revokedTTL   time.Duration
}

// NewRedisStore returns a RedisStore. sessionTTL bounds idle sessions,
// blacklistTTL bounds blacklist keys and revokedTTL is how long a revoked
// session stays readable.
func NewRedisStore(client redis.UniversalClient, prefix string, sessionTTL, blacklistTTL, revokedTTL time.Duration) *RedisStore {
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &RedisStore{
		client:       client,
		prefix:       prefix,
		sessionTTL:   sessionTTL,
		blacklistTTL: blacklistTTL,
		revokedTTL:   revokedTTL,
	}
}

func (r *RedisStore) sessionKey(id string) string { return r.prefix + "session:" + id }
func (r *RedisStore) userKey(userID string) string { return r.prefix + "user_sessions:" + userID }
func (r *RedisStore) blacklistKey(token string) string {
	return r.prefix + "bl:" + security.HashToken(token)
}

func (r *RedisStore) Create(ctx context.Context, s *domain.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.sessionKey(s.ID), data, r.sessionTTL)
		pipe.SAdd(ctx, r.userKey(s.UserID), s.ID)
		pipe.Expire(ctx, r.userKey(s.UserID), r.sessionTTL)
		return nil
	})
	return err
}

func (r *RedisStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	raw, err := r.client.Get(ctx, r.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s domain.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("session: unmarshal %s: %w", id, err)
	}
	return &s, nil
}

func (r *RedisStore) Touch(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, id, func(s *domain.Session) (time.Duration, error) {
		if err := s.Touch(at); err != nil {
			return 0, err
		}
		return r.sessionTTL, nil
	})
}

func (r *RedisStore) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	err := r.update(ctx, id, func(s *domain.Session) (time.Duration, error) {
		if !s.Revoke(at) {
			return 0, errUnchanged
		}
		return r.revokedTTL, nil
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errUnchanged), errors.Is(err, ErrSessionNotFound):
		return false, nil
	default:
		return false, err
	}
}

// update applies fn to the stored session under WATCH and writes it back with the TTL fn returns.
func (r *RedisStore) update(ctx context.Context, id string, fn func(*domain.Session) (time.Duration, error)) error {
	key := r.sessionKey(id)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		var s domain.Session
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("session: unmarshal %s: %w", id, err)
		}
		ttl, err := fn(&s)
		if err != nil {
			return err
		}
		data, err := json.Marshal(&s)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		return err
	}
	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("session: update %s: %w", id, redis.TxFailedErr)
}

func (r *RedisStore) RevokeAllByUser(ctx context.Context, userID string, at time.Time) (int, error) {
	ids, err := r.client.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		ok, err := r.Revoke(ctx, id, at)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (r *RedisStore) ListActiveByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	ids, err := r.client.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.sessionKey(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	var out []*domain.Session
	var gone []interface{}
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			gone = append(gone, ids[i])
			continue
		}
		var s domain.Session
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("session: unmarshal %s: %w", ids[i], err)
		}
		if s.Active() {
			out = append(out, &s)
		}
	}
	if len(gone) > 0 {
		r.client.SRem(ctx, r.userKey(userID), gone...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *RedisStore) Blacklist(ctx context.Context, token string, at time.Time) error {
	return r.client.Set(ctx, r.blacklistKey(token), at.Unix(), r.blacklistTTL).Err()
}

func (r *RedisStore) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	n, err := r.client.Exists(ctx, r.blacklistKey(token)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Cleanup prunes user index sets of sessions Redis has already expired.
// Session and blacklist keys expire on their own TTLs, so p is unused here.
func (r *RedisStore) Cleanup(ctx context.Context, now time.Time, p CleanupPolicy) (CleanupResult, error) {
	var res CleanupResult
	iter := r.client.Scan(ctx, 0, r.prefix+"user_sessions:*", 100).Iterator()
	for iter.Next(ctx) {
		userKey := iter.Val()
		ids, err := r.client.SMembers(ctx, userKey).Result()
		if err != nil {
			return res, err
		}
		for _, id := range ids {
			n, err := r.client.Exists(ctx, r.sessionKey(id)).Result()
			if err != nil {
				return res, err
			}
			if n == 0 {
				r.client.SRem(ctx, userKey, id)
				res.Sessions++
			}
		}
	}
	return res, iter.Err()
}
