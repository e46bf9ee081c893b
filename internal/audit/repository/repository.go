package repository

import (
	"context"

	"portfolio-cms/backend/internal/audit/domain"
)

// Repository defines persistence for security events.
type Repository interface {
	Create(ctx context.Context, e *domain.SecurityEvent) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*domain.SecurityEvent, error)
}
