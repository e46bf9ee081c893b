package repository

import (
	"context"
	"errors"

	"portfolio-cms/backend/internal/user/domain"
)

// ErrUserNotFound is returned by updates that match no row.
var ErrUserNotFound = errors.New("user not found")

// Repository defines persistence for users.
type Repository interface {
	// GetByID and GetByEmail return nil, nil when no user matches.
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	// EnableTwoFactor stores the encrypted secret and backup codes and sets the enabled flag.
	EnableTwoFactor(ctx context.Context, userID, encSecret string, encCodes []string) error
	UpdateBackupCodes(ctx context.Context, userID string, encCodes []string) error
	// ConsumeBackupCode clears backup code slot index only if it still holds
	// expected. It reports false when the slot was already cleared or changed.
	ConsumeBackupCode(ctx context.Context, userID string, index int, expected string) (bool, error)
	// DisableTwoFactor clears the secret and codes and unsets the enabled flag.
	DisableTwoFactor(ctx context.Context, userID string) error
}
