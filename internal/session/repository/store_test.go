package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-cms/backend/internal/session/domain"
)

var t0 = time.Unix(1700000000, 0).UTC()

func newSession(userID string, at time.Time) *domain.Session {
	return &domain.Session{
		ID:                uuid.NewString(),
		UserID:            userID,
		Role:              "admin",
		Permissions:       []string{"*"},
		CreatedAt:         at,
		LastActivity:      at,
		DeviceFingerprint: "0123456789abcdef",
		IPAddress:         "203.0.113.1",
	}
}

// runStoreContract exercises the behaviour every Store implementation shares.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("create get", func(t *testing.T) {
		st := newStore(t)
		s := newSession("u-"+uuid.NewString(), t0)
		require.NoError(t, st.Create(ctx, s))

		got, err := st.Get(ctx, s.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, s.UserID, got.UserID)
		assert.True(t, got.Active())

		missing, err := st.Get(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("touch", func(t *testing.T) {
		st := newStore(t)
		s := newSession("u-"+uuid.NewString(), t0)
		require.NoError(t, st.Create(ctx, s))
		require.NoError(t, st.Touch(ctx, s.ID, t0.Add(time.Minute)))

		got, err := st.Get(ctx, s.ID)
		require.NoError(t, err)
		assert.True(t, got.LastActivity.Equal(t0.Add(time.Minute)))

		assert.ErrorIs(t, st.Touch(ctx, "nope", t0), ErrSessionNotFound)
	})

	t.Run("revoke is terminal", func(t *testing.T) {
		st := newStore(t)
		s := newSession("u-"+uuid.NewString(), t0)
		require.NoError(t, st.Create(ctx, s))

		ok, err := st.Revoke(ctx, s.ID, t0.Add(time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = st.Revoke(ctx, s.ID, t0.Add(2*time.Minute))
		require.NoError(t, err)
		assert.False(t, ok)

		assert.ErrorIs(t, st.Touch(ctx, s.ID, t0.Add(3*time.Minute)), domain.ErrSessionRevoked)
		got, err := st.Get(ctx, s.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.False(t, got.Active())

		ok, err = st.Revoke(ctx, "nope", t0)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("revoke all by user", func(t *testing.T) {
		st := newStore(t)
		user := "u-" + uuid.NewString()
		other := "u-" + uuid.NewString()
		for i := 0; i < 3; i++ {
			require.NoError(t, st.Create(ctx, newSession(user, t0.Add(time.Duration(i)*time.Second))))
		}
		keep := newSession(other, t0)
		require.NoError(t, st.Create(ctx, keep))

		n, err := st.RevokeAllByUser(ctx, user, t0.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		active, err := st.ListActiveByUser(ctx, user)
		require.NoError(t, err)
		assert.Empty(t, active)

		active, err = st.ListActiveByUser(ctx, other)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, keep.ID, active[0].ID)

		n, err = st.RevokeAllByUser(ctx, user, t0.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("list active sorted by creation", func(t *testing.T) {
		st := newStore(t)
		user := "u-" + uuid.NewString()
		late := newSession(user, t0.Add(time.Hour))
		early := newSession(user, t0)
		require.NoError(t, st.Create(ctx, late))
		require.NoError(t, st.Create(ctx, early))

		active, err := st.ListActiveByUser(ctx, user)
		require.NoError(t, err)
		require.Len(t, active, 2)
		assert.Equal(t, early.ID, active[0].ID)
		assert.Equal(t, late.ID, active[1].ID)
	})

	t.Run("blacklist", func(t *testing.T) {
		st := newStore(t)
		tok := "token-" + uuid.NewString()
		bl, err := st.IsBlacklisted(ctx, tok)
		require.NoError(t, err)
		assert.False(t, bl)

		require.NoError(t, st.Blacklist(ctx, tok, t0))
		bl, err = st.IsBlacklisted(ctx, tok)
		require.NoError(t, err)
		assert.True(t, bl)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStore_Cleanup(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	policy := CleanupPolicy{BlacklistTTL: time.Hour, IdleTTL: 2 * time.Hour, Grace: 30 * time.Minute}

	active := newSession("u1", t0)
	idle := newSession("u1", t0.Add(-3*time.Hour))
	revokedOld := newSession("u1", t0)
	revokedNew := newSession("u1", t0)
	for _, s := range []*domain.Session{active, idle, revokedOld, revokedNew} {
		require.NoError(t, st.Create(ctx, s))
	}
	_, err := st.Revoke(ctx, revokedOld.ID, t0.Add(-time.Hour))
	require.NoError(t, err)
	_, err = st.Revoke(ctx, revokedNew.ID, t0.Add(-10*time.Minute))
	require.NoError(t, err)

	require.NoError(t, st.Blacklist(ctx, "old", t0.Add(-2*time.Hour)))
	require.NoError(t, st.Blacklist(ctx, "fresh", t0.Add(-time.Minute)))

	res, err := st.Cleanup(ctx, t0, policy)
	require.NoError(t, err)
	assert.Equal(t, CleanupResult{Sessions: 2, Blacklist: 1}, res)
	assert.Equal(t, 2, st.Len())

	got, _ := st.Get(ctx, idle.ID)
	assert.Nil(t, got)
	got, _ = st.Get(ctx, revokedOld.ID)
	assert.Nil(t, got)
	got, _ = st.Get(ctx, revokedNew.ID)
	assert.NotNil(t, got)

	bl, _ := st.IsBlacklisted(ctx, "old")
	assert.False(t, bl)
	bl, _ = st.IsBlacklisted(ctx, "fresh")
	assert.True(t, bl)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	s := newSession("u1", t0)
	require.NoError(t, st.Create(ctx, s))

	got, err := st.Get(ctx, s.ID)
	require.NoError(t, err)
	got.Revoke(t0)
	got.Permissions[0] = "changed"

	again, err := st.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, again.Active())
	assert.Equal(t, "*", again.Permissions[0])
}

func TestMemoryStore_ConcurrentTouch(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	s := newSession("u1", t0)
	require.NoError(t, st.Create(ctx, s))

	done := make(chan struct{})
	for i := 0; i < 50; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			_ = st.Touch(ctx, s.ID, t0.Add(time.Duration(i)*time.Second))
			_, _ = st.Get(ctx, s.ID)
		}(i)
	}
	for i := 0; i < 50; i++ {
		<-done
	}
	got, err := st.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.LastActivity.Equal(t0.Add(49*time.Second)))
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())

	runStoreContract(t, func(t *testing.T) Store {
		return NewRedisStore(client, "test:"+uuid.NewString(), time.Hour, time.Hour, time.Hour)
	})
}
