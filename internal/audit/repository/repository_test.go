package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-cms/backend/internal/audit/domain"
	"portfolio-cms/backend/internal/db"
)

func runRepositoryContract(t *testing.T, repo Repository) {
	ctx := context.Background()
	user := uuid.NewString()
	base := time.Now().UTC().Truncate(time.Millisecond)

	for i, typ := range []domain.EventType{domain.EventLoginFailure, domain.EventLoginSuccess, domain.EventLogout} {
		require.NoError(t, repo.Create(ctx, &domain.SecurityEvent{
			ID:        uuid.NewString(),
			Type:      typ,
			UserID:    user,
			IP:        "198.51.100.7",
			UserAgent: "test-agent",
			Metadata:  map[string]any{"attempt": float64(i)},
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, repo.Create(ctx, &domain.SecurityEvent{
		ID: uuid.NewString(), Type: domain.EventSuspiciousActivity, IP: "10.0.0.1", CreatedAt: base,
	}))

	got, err := repo.ListByUser(ctx, user, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.EventLogout, got[0].Type)
	assert.Equal(t, domain.EventLoginSuccess, got[1].Type)
	assert.Equal(t, float64(1), got[1].Metadata["attempt"])
	assert.Equal(t, "test-agent", got[1].UserAgent)

	none, err := repo.ListByUser(ctx, uuid.NewString(), 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryRepository(t *testing.T) {
	runRepositoryContract(t, NewMemoryRepository())
}

func TestMemoryRepository_StoresCopies(t *testing.T) {
	repo := NewMemoryRepository()
	e := &domain.SecurityEvent{ID: "e1", Type: domain.EventLogout, UserID: "u1"}
	require.NoError(t, repo.Create(context.Background(), e))
	e.Type = domain.EventLoginFailure

	all := repo.All()
	require.Len(t, all, 1)
	assert.Equal(t, domain.EventLogout, all[0].Type)
}

func TestPostgresRepository(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	conn, err := db.Open(dsn)
	require.NoError(t, err)
	defer conn.Close()
	runRepositoryContract(t, NewPostgresRepository(conn))
}
