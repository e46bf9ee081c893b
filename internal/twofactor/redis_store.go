package twofactor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPendingStore keeps pending enrollments in Redis so any API instance can
// finish a setup another one started. Expiry is left to key TTLs.
type RedisPendingStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisPendingStore returns a RedisPendingStore using keys under prefix.
func NewRedisPendingStore(client redis.UniversalClient, prefix string) *RedisPendingStore {
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &RedisPendingStore{client: client, prefix: prefix}
}

// consumeScript deletes KEYS[1] only while it still holds ARGV[1].
var consumeScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (r *RedisPendingStore) setupKey(token string) string { return r.prefix + "2fa:setup:" + token }
func (r *RedisPendingStore) userKey(userID string) string { return r.prefix + "2fa:setup_user:" + userID }
func (r *RedisPendingStore) codeKey(userID string) string { return r.prefix + "2fa:emergency:" + userID }

func (r *RedisPendingStore) PutSetup(ctx context.Context, token string, setup *PendingSetup, ttl time.Duration) error {
	data, err := json.Marshal(setup)
	if err != nil {
		return fmt.Errorf("twofactor: marshal setup: %w", err)
	}
	prev, err := r.client.Get(ctx, r.userKey(setup.UserID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if prev != "" && prev != token {
			pipe.Del(ctx, r.setupKey(prev))
		}
		pipe.Set(ctx, r.setupKey(token), data, ttl)
		pipe.Set(ctx, r.userKey(setup.UserID), token, ttl)
		return nil
	})
	return err
}

func (r *RedisPendingStore) GetSetup(ctx context.Context, token string) (*PendingSetup, error) {
	raw, err := r.client.Get(ctx, r.setupKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var setup PendingSetup
	if err := json.Unmarshal(raw, &setup); err != nil {
		return nil, fmt.Errorf("twofactor: unmarshal setup: %w", err)
	}
	return &setup, nil
}

func (r *RedisPendingStore) FindSetupByUser(ctx context.Context, userID string) (string, *PendingSetup, error) {
	token, err := r.client.Get(ctx, r.userKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	setup, err := r.GetSetup(ctx, token)
	if err != nil || setup == nil {
		return "", nil, err
	}
	return token, setup, nil
}

func (r *RedisPendingStore) DeleteSetup(ctx context.Context, token string) error {
	setup, err := r.GetSetup(ctx, token)
	if err != nil {
		return err
	}
	keys := []string{r.setupKey(token)}
	if setup != nil {
		keys = append(keys, r.userKey(setup.UserID))
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisPendingStore) MarkSetupVerified(ctx context.Context, token string) (bool, error) {
	key := r.setupKey(token)
	claimed := false
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		var setup PendingSetup
		if err := json.Unmarshal(raw, &setup); err != nil {
			return fmt.Errorf("twofactor: unmarshal setup: %w", err)
		}
		if setup.Verified {
			return nil
		}
		setup.Verified = true
		data, err := json.Marshal(&setup)
		if err != nil {
			return fmt.Errorf("twofactor: marshal setup: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			return nil
		})
		if err == nil {
			claimed = true
		}
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return claimed, nil
}

func (r *RedisPendingStore) PutEmergencyCode(ctx context.Context, userID, codeHash string, ttl time.Duration) error {
	return r.client.Set(ctx, r.codeKey(userID), codeHash, ttl).Err()
}

func (r *RedisPendingStore) GetEmergencyCode(ctx context.Context, userID string) (string, error) {
	hash, err := r.client.Get(ctx, r.codeKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return hash, err
}

func (r *RedisPendingStore) ConsumeEmergencyCode(ctx context.Context, userID, codeHash string) (bool, error) {
	n, err := consumeScript.Run(ctx, r.client, []string{r.codeKey(userID)}, codeHash).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Sweep is a no-op; Redis expires the keys.
func (r *RedisPendingStore) Sweep(ctx context.Context) (int, error) { return 0, nil }
