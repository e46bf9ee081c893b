package domain

import (
	"errors"
	"strings"
	"time"
)

// User is a CMS account. TOTPSecret and BackupCodes hold ciphertext only.
type User struct {
	ID           string
	Email        string
	Name         string
	Role         string
	Permissions  []string
	PasswordHash string
	PasswordSalt string
	Status       UserStatus
	// TOTPSecret is encrypted with the totp:<id> context; empty until 2FA is enabled.
	TOTPSecret string
	// BackupCodes are encrypted with the backup:<id> context; a used slot is "".
	BackupCodes      []string
	TwoFactorEnabled bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
)

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	if u.Role == "" {
		u.Role = RoleEditor
	}
	return nil
}

// Active reports whether the account may sign in.
func (u *User) Active() bool {
	return u != nil && u.Status == UserStatusActive
}
