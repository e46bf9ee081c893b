package repository

import (
	"context"
	"errors"
	"time"

	"portfolio-cms/backend/internal/session/domain"
)

// ErrSessionNotFound is returned when an operation targets an unknown session.
var ErrSessionNotFound = errors.New("session not found")

// Store defines persistence for sessions and the token blacklist.
type Store interface {
	// Create publishes a new active session. It is visible to Get once Create returns.
	Create(ctx context.Context, s *domain.Session) error
	// Get returns a copy of the session, or nil if not found.
	// It returns an error only for storage failures, not for missing sessions.
	Get(ctx context.Context, id string) (*domain.Session, error)
	// Touch records activity on an active session. Revoked sessions return domain.ErrSessionRevoked.
	Touch(ctx context.Context, id string, at time.Time) error
	// Revoke marks the session revoked. It returns false if it was missing or already revoked.
	Revoke(ctx context.Context, id string, at time.Time) (bool, error)
	// RevokeAllByUser revokes every active session of userID and returns how many it revoked.
	RevokeAllByUser(ctx context.Context, userID string, at time.Time) (int, error)
	// ListActiveByUser returns the active sessions of userID.
	ListActiveByUser(ctx context.Context, userID string) ([]*domain.Session, error)
	// Blacklist records token as revoked.
	Blacklist(ctx context.Context, token string, at time.Time) error
	IsBlacklisted(ctx context.Context, token string) (bool, error)
	// Cleanup drops expired blacklist entries and stale sessions.
	Cleanup(ctx context.Context, now time.Time, p CleanupPolicy) (CleanupResult, error)
}

// CleanupPolicy bounds how long records are retained.
type CleanupPolicy struct {
	// BlacklistTTL is how long a blacklisted token is kept; tokens older than this have expired anyway.
	BlacklistTTL time.Duration
	// IdleTTL is the inactivity after which a session can no longer be refreshed.
	IdleTTL time.Duration
	// Grace is extra retention after revocation or idle expiry.
	Grace time.Duration
}

// CleanupResult reports what a Cleanup pass removed.
type CleanupResult struct {
	Sessions  int
	Blacklist int
}

func cloneSession(s *domain.Session) *domain.Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Permissions != nil {
		c.Permissions = append([]string(nil), s.Permissions...)
	}
	if s.RevokedAt != nil {
		t := *s.RevokedAt
		c.RevokedAt = &t
	}
	return &c
}
