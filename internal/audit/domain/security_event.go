package domain

import "time"

// EventType classifies a security event.
type EventType string

const (
	EventSuspiciousActivity     EventType = "SUSPICIOUS_ACTIVITY"
	EventTokenInvalid           EventType = "TOKEN_INVALID"
	EventLoginSuccess           EventType = "LOGIN_SUCCESS"
	EventLoginFailure           EventType = "LOGIN_FAILURE"
	EventLogout                 EventType = "LOGOUT"
	EventTokenRefreshed         EventType = "TOKEN_REFRESHED"
	EventSessionsRevoked        EventType = "SESSIONS_REVOKED"
	EventRateLimited            EventType = "RATE_LIMITED"
	EventTwoFactorEnabled       EventType = "TWO_FACTOR_ENABLED"
	EventTwoFactorDisabled      EventType = "TWO_FACTOR_DISABLED"
	EventTwoFactorFailed        EventType = "TWO_FACTOR_FAILED"
	EventBackupCodeUsed         EventType = "BACKUP_CODE_USED"
	EventBackupCodesRegenerated EventType = "BACKUP_CODES_REGENERATED"
)

// SecurityEvent is one structured security record.
type SecurityEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	UserID    string         `json:"userId,omitempty"`
	IP        string         `json:"ip"`
	UserAgent string         `json:"userAgent,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"timestamp"`
}
