package repository

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"portfolio-cms/backend/internal/user/domain"
)

// MemoryRepository keeps users in process. Used in dev and tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]*domain.User
	byEmail map[string]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[string]*domain.User),
		byEmail: make(map[string]string),
	}
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneUser(r.byID[id]), nil
}

func (r *MemoryRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, nil
	}
	return cloneUser(r.byID[id]), nil
}

func (r *MemoryRepository) Create(_ context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[u.ID]; ok {
		return fmt.Errorf("user %s already exists", u.ID)
	}
	if _, ok := r.byEmail[u.Email]; ok {
		return fmt.Errorf("email %s already in use", u.Email)
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
		u.UpdatedAt = u.CreatedAt
	}
	r.byID[u.ID] = cloneUser(u)
	r.byEmail[u.Email] = u.ID
	return nil
}

func (r *MemoryRepository) EnableTwoFactor(_ context.Context, userID, encSecret string, encCodes []string) error {
	return r.update(userID, func(u *domain.User) {
		u.TOTPSecret = encSecret
		u.BackupCodes = slices.Clone(encCodes)
		u.TwoFactorEnabled = true
	})
}

func (r *MemoryRepository) UpdateBackupCodes(_ context.Context, userID string, encCodes []string) error {
	return r.update(userID, func(u *domain.User) {
		u.BackupCodes = slices.Clone(encCodes)
	})
}

func (r *MemoryRepository) ConsumeBackupCode(_ context.Context, userID string, index int, expected string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[userID]
	if !ok {
		return false, ErrUserNotFound
	}
	if expected == "" || index < 0 || index >= len(u.BackupCodes) || u.BackupCodes[index] != expected {
		return false, nil
	}
	u.BackupCodes[index] = ""
	u.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *MemoryRepository) DisableTwoFactor(_ context.Context, userID string) error {
	return r.update(userID, func(u *domain.User) {
		u.TOTPSecret = ""
		u.BackupCodes = nil
		u.TwoFactorEnabled = false
	})
}

func (r *MemoryRepository) update(userID string, fn func(*domain.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	fn(u)
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func cloneUser(u *domain.User) *domain.User {
	if u == nil {
		return nil
	}
	cp := *u
	cp.Permissions = slices.Clone(u.Permissions)
	cp.BackupCodes = slices.Clone(u.BackupCodes)
	return &cp
}
