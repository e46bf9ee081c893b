package domain

import (
	"errors"
	"time"
)

// ErrSessionRevoked is returned when a revoked session would be modified or reactivated.
var ErrSessionRevoked = errors.New("session revoked")

// Session is the server-side record behind a token pair. It is either active
// (RevokedAt nil) or revoked; revocation is permanent.
type Session struct {
	ID                string     `json:"id"`
	UserID            string     `json:"userId"`
	Role              string     `json:"role"`
	Permissions       []string   `json:"permissions"`
	CreatedAt         time.Time  `json:"createdAt"`
	LastActivity      time.Time  `json:"lastActivity"`
	DeviceFingerprint string     `json:"deviceFingerprint"`
	IPAddress         string     `json:"ipAddress"`
	RevokedAt         *time.Time `json:"revokedAt,omitempty"` // nil when not revoked
}

// Active reports whether the session has not been revoked.
func (s *Session) Active() bool {
	return s != nil && s.RevokedAt == nil
}

// Revoke marks the session revoked at at. It returns false if it already was.
func (s *Session) Revoke(at time.Time) bool {
	if s.RevokedAt != nil {
		return false
	}
	t := at
	s.RevokedAt = &t
	return true
}

// Touch moves LastActivity forward. Revoked sessions are left unchanged.
func (s *Session) Touch(at time.Time) error {
	if s.RevokedAt != nil {
		return ErrSessionRevoked
	}
	if at.After(s.LastActivity) {
		s.LastActivity = at
	}
	return nil
}

// Principal is the subject a token pair is minted for.
type Principal struct {
	ID          string
	Role        string
	Permissions []string
}

// TokenPair is returned on login and refresh. ExpiresAt is the access token
// expiry in Unix milliseconds.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt"`
	SessionID    string `json:"sessionId"`
}

// Summary is the client-facing view of an active session.
type Summary struct {
	ID                string    `json:"id"`
	CreatedAt         time.Time `json:"createdAt"`
	LastActivity      time.Time `json:"lastActivity"`
	IPAddress         string    `json:"ipAddress"`
	DeviceFingerprint string    `json:"deviceFingerprint"`
}

// DeviceVerification selects what happens when a token is presented from a
// device whose fingerprint differs from the one it was issued to.
type DeviceVerification int

const (
	// DeviceVerificationLogOnly logs the mismatch and accepts the token.
	DeviceVerificationLogOnly DeviceVerification = iota
	// DeviceVerificationStrict rejects the token.
	DeviceVerificationStrict
)

// ParseDeviceVerification maps "strict" to DeviceVerificationStrict and anything else to log-only.
func ParseDeviceVerification(s string) DeviceVerification {
	if s == "strict" {
		return DeviceVerificationStrict
	}
	return DeviceVerificationLogOnly
}

func (v DeviceVerification) String() string {
	if v == DeviceVerificationStrict {
		return "strict"
	}
	return "log_only"
}
