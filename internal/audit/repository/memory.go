package repository

import (
	"context"
	"sort"
	"sync"

	"portfolio-cms/backend/internal/audit/domain"
)

// MemoryRepository keeps events in process. Used in dev and tests.
type MemoryRepository struct {
	mu     sync.RWMutex
	events []*domain.SecurityEvent
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Create(_ context.Context, e *domain.SecurityEvent) error {
	cp := *e
	r.mu.Lock()
	r.events = append(r.events, &cp)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) ListByUser(_ context.Context, userID string, limit int) ([]*domain.SecurityEvent, error) {
	r.mu.RLock()
	var out []*domain.SecurityEvent
	for _, e := range r.events {
		if e.UserID == userID {
			cp := *e
			out = append(out, &cp)
		}
	}
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// All returns a snapshot of every stored event in insertion order.
func (r *MemoryRepository) All() []*domain.SecurityEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.SecurityEvent, len(r.events))
	for i, e := range r.events {
		cp := *e
		out[i] = &cp
	}
	return out
}
