// Package service issues, validates, refreshes and revokes session-bound token pairs.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"portfolio-cms/backend/internal/security"
	"portfolio-cms/backend/internal/session/domain"
	"portfolio-cms/backend/internal/session/repository"
)

// ErrInvalidPrincipal is returned when a token pair is requested without a user id.
var ErrInvalidPrincipal = errors.New("session: principal id is required")

// Options tune a Service. Zero values take the defaults noted per field.
type Options struct {
	// DeviceVerification decides whether an access token presented from another device is rejected.
	DeviceVerification domain.DeviceVerification
	// CleanupInterval is the tick of Run (default 1h).
	CleanupInterval time.Duration
	// Grace is extra retention for revoked and idle sessions (default 24h).
	Grace time.Duration
	// Now overrides the clock. For tests.
	Now func() time.Time
}

// Service manages sessions and their token pairs. Safe for concurrent use.
type Service struct {
	store           repository.Store
	tokens          *security.TokenProvider
	logger          *zap.Logger
	verification    domain.DeviceVerification
	cleanupInterval time.Duration
	grace           time.Duration
	nowF            func() time.Time
}

// NewService returns a session service backed by store and tokens.
func NewService(store repository.Store, tokens *security.TokenProvider, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = time.Hour
	}
	if opts.Grace <= 0 {
		opts.Grace = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		store:           store,
		tokens:          tokens,
		logger:          logger.With(zap.String("component", "session")),
		verification:    opts.DeviceVerification,
		cleanupInterval: opts.CleanupInterval,
		grace:           opts.Grace,
		nowF:            opts.Now,
	}
}

// GenerateTokenPair creates a session for p on the given device and returns its token pair.
// The session is stored before the pair is returned.
func (s *Service) GenerateTokenPair(ctx context.Context, p domain.Principal, device security.DeviceInfo) (*domain.TokenPair, error) {
	if p.ID == "" {
		return nil, ErrInvalidPrincipal
	}
	now := s.nowF()
	ip := device.IP
	if ip == "" {
		ip = "unknown"
	}
	sess := &domain.Session{
		ID:                uuid.NewString(),
		UserID:            p.ID,
		Role:              p.Role,
		Permissions:       p.Permissions,
		CreatedAt:         now,
		LastActivity:      now,
		DeviceFingerprint: security.DeviceFingerprintAt(device, now),
		IPAddress:         ip,
	}

	access, expiresAt, err := s.tokens.IssueAccess(security.AccessClaims{
		UserID:            sess.UserID,
		Role:              sess.Role,
		SessionID:         sess.ID,
		Permissions:       sess.Permissions,
		DeviceFingerprint: sess.DeviceFingerprint,
		IPAddress:         sess.IPAddress,
		CreatedAt:         now.Unix(),
		LastActivity:      now.Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("session: issue access token: %w", err)
	}
	refresh, _, err := s.tokens.IssueRefresh(sess.UserID, sess.ID, sess.DeviceFingerprint)
	if err != nil {
		return nil, fmt.Errorf("session: issue refresh token: %w", err)
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}
	s.logger.Info("session created", zap.String("user_id", sess.UserID), zap.String("session_id", sess.ID), zap.String("ip", sess.IPAddress))
	return &domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt.UnixMilli(),
		SessionID:    sess.ID,
	}, nil
}

// ValidateAccessToken returns the claims of a valid access token or nil. It
// never returns an error; the reason for a rejection is logged. When device is
// non-nil its fingerprint is compared with the one the token was issued to.
func (s *Service) ValidateAccessToken(ctx context.Context, token string, device *security.DeviceInfo) *security.AccessClaims {
	if token == "" {
		return nil
	}
	blacklisted, err := s.store.IsBlacklisted(ctx, token)
	if err != nil {
		s.logger.Error("blacklist lookup failed", zap.Error(err))
		return nil
	}
	if blacklisted {
		s.logger.Debug("access token rejected: blacklisted")
		return nil
	}
	claims, err := s.tokens.ValidateAccess(token)
	if err != nil {
		s.logger.Debug("access token rejected", zap.Error(err))
		return nil
	}
	if claims.UserID == "" || claims.SessionID == "" {
		s.logger.Warn("access token rejected: missing required claims", zap.String("jti", claims.ID))
		return nil
	}
	sess, err := s.store.Get(ctx, claims.SessionID)
	if err != nil {
		s.logger.Error("session lookup failed", zap.String("session_id", claims.SessionID), zap.Error(err))
		return nil
	}
	if !sess.Active() || sess.UserID != claims.UserID {
		s.logger.Debug("access token rejected: session inactive", zap.String("session_id", claims.SessionID))
		return nil
	}
	if device != nil && !s.sameDevice(*device, claims.DeviceFingerprint, time.Unix(claims.CreatedAt, 0)) {
		s.logger.Warn("device fingerprint mismatch",
			zap.String("user_id", claims.UserID),
			zap.String("session_id", claims.SessionID),
			zap.String("ip", device.IP),
			zap.Stringer("policy", s.verification))
		if s.verification == domain.DeviceVerificationStrict {
			return nil
		}
	}

	now := s.nowF()
	if err := s.store.Touch(ctx, claims.SessionID, now); err != nil {
		if errors.Is(err, domain.ErrSessionRevoked) || errors.Is(err, repository.ErrSessionNotFound) {
			return nil
		}
		s.logger.Warn("session touch failed", zap.String("session_id", claims.SessionID), zap.Error(err))
	}
	claims.LastActivity = now.Unix()
	return claims
}

// sameDevice recomputes the fingerprint for the hour the token was issued in.
func (s *Service) sameDevice(device security.DeviceInfo, fingerprint string, issuedAt time.Time) bool {
	return fingerprint != "" && security.DeviceFingerprintAt(device, issuedAt) == fingerprint
}

// RefreshAccessToken exchanges a valid refresh token from the same device for
// a new pair on a new session. The old session is revoked and the old refresh
// token blacklisted. It returns nil on any failure.
func (s *Service) RefreshAccessToken(ctx context.Context, refreshToken string, device security.DeviceInfo) *domain.TokenPair {
	if refreshToken == "" {
		return nil
	}
	blacklisted, err := s.store.IsBlacklisted(ctx, refreshToken)
	if err != nil {
		s.logger.Error("blacklist lookup failed", zap.Error(err))
		return nil
	}
	if blacklisted {
		s.logger.Warn("refresh token reuse rejected")
		return nil
	}
	claims, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		s.logger.Debug("refresh token rejected", zap.Error(err))
		return nil
	}
	sess, err := s.store.Get(ctx, claims.SessionID)
	if err != nil {
		s.logger.Error("session lookup failed", zap.String("session_id", claims.SessionID), zap.Error(err))
		return nil
	}
	if !sess.Active() || sess.UserID != claims.UserID {
		s.logger.Debug("refresh rejected: session inactive", zap.String("session_id", claims.SessionID))
		return nil
	}
	if !s.sameDevice(device, claims.DeviceFingerprint, claims.IssuedAt.Time) {
		s.logger.Warn("refresh rejected: device fingerprint mismatch",
			zap.String("user_id", claims.UserID),
			zap.String("session_id", claims.SessionID),
			zap.String("ip", device.IP))
		return nil
	}

	now := s.nowF()
	// Only the caller that flips the session to revoked may mint the new pair.
	revoked, err := s.store.Revoke(ctx, sess.ID, now)
	if err != nil {
		s.logger.Error("revoke rotated session failed", zap.String("session_id", sess.ID), zap.Error(err))
		return nil
	}
	if !revoked {
		s.logger.Warn("refresh rejected: session already rotated",
			zap.String("user_id", claims.UserID),
			zap.String("session_id", sess.ID))
		return nil
	}
	if err := s.store.Blacklist(ctx, refreshToken, now); err != nil {
		s.logger.Error("blacklist refresh token failed", zap.Error(err))
		return nil
	}
	pair, err := s.GenerateTokenPair(ctx, domain.Principal{ID: sess.UserID, Role: sess.Role, Permissions: sess.Permissions}, device)
	if err != nil {
		s.logger.Error("refresh: generate token pair failed", zap.Error(err))
		return nil
	}
	return pair
}

// RevokeToken blacklists token and, when sessionID is set, revokes that
// session. Revoking twice is harmless. It returns false only when storage fails.
func (s *Service) RevokeToken(ctx context.Context, token, sessionID string) bool {
	now := s.nowF()
	if token != "" {
		if err := s.store.Blacklist(ctx, token, now); err != nil {
			s.logger.Error("blacklist token failed", zap.Error(err))
			return false
		}
	}
	if sessionID != "" {
		if _, err := s.store.Revoke(ctx, sessionID, now); err != nil {
			s.logger.Error("revoke session failed", zap.String("session_id", sessionID), zap.Error(err))
			return false
		}
		s.logger.Info("session revoked", zap.String("session_id", sessionID))
	}
	return true
}

// RevokeAllUserSessions revokes every active session of userID and returns the count.
func (s *Service) RevokeAllUserSessions(ctx context.Context, userID string) int {
	n, err := s.store.RevokeAllByUser(ctx, userID, s.nowF())
	if err != nil {
		s.logger.Error("revoke all sessions failed", zap.String("user_id", userID), zap.Error(err))
	}
	if n > 0 {
		s.logger.Info("sessions revoked", zap.String("user_id", userID), zap.Int("count", n))
	}
	return n
}

// GetActiveSessions lists the active sessions of userID.
func (s *Service) GetActiveSessions(ctx context.Context, userID string) []domain.Summary {
	sessions, err := s.store.ListActiveByUser(ctx, userID)
	if err != nil {
		s.logger.Error("list sessions failed", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	out := make([]domain.Summary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, domain.Summary{
			ID:                sess.ID,
			CreatedAt:         sess.CreatedAt,
			LastActivity:      sess.LastActivity,
			IPAddress:         sess.IPAddress,
			DeviceFingerprint: sess.DeviceFingerprint,
		})
	}
	return out
}

// ExtractPayload decodes an access token without verifying it. The result
// must not be used for authorization.
func (s *Service) ExtractPayload(token string) *security.AccessClaims {
	claims, err := security.Decode(token)
	if err != nil {
		return nil
	}
	return claims
}

// VerifiedPayload returns the claims of an access token whose signature is
// valid, even if it has expired, or nil.
func (s *Service) VerifiedPayload(token string) *security.AccessClaims {
	claims, err := s.tokens.VerifyAccessIgnoringExpiry(token)
	if err != nil {
		return nil
	}
	return claims
}

// Cleanup runs one retention pass over the store.
func (s *Service) Cleanup(ctx context.Context) (repository.CleanupResult, error) {
	res, err := s.store.Cleanup(ctx, s.nowF(), repository.CleanupPolicy{
		BlacklistTTL: s.tokens.RefreshTTL(),
		IdleTTL:      s.tokens.RefreshTTL(),
		Grace:        s.grace,
	})
	if err != nil {
		return res, err
	}
	if res.Sessions > 0 || res.Blacklist > 0 {
		s.logger.Info("session cleanup", zap.Int("sessions", res.Sessions), zap.Int("blacklist", res.Blacklist))
	}
	return res, nil
}

// Run calls Cleanup every CleanupInterval until ctx is done.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Cleanup(ctx); err != nil {
				s.logger.Error("session cleanup failed", zap.Error(err))
			}
		}
	}
}
