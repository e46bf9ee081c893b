package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"portfolio-cms/backend/internal/security"
	"portfolio-cms/backend/internal/session/domain"
)

// MemoryStore is an in-process Store. Sessions and the blacklist share one lock.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]*domain.Session
	blacklist map[string]time.Time // token hash -> blacklisted at
}

// NewMemoryStore returns an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[string]*domain.Session),
		blacklist: make(map[string]time.Time),
	}
}

func (m *MemoryStore) Create(ctx context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = cloneSession(s)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneSession(m.sessions[id]), nil
}

func (m *MemoryStore) Touch(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	return s.Touch(at)
}

func (m *MemoryStore) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false, nil
	}
	return s.Revoke(at), nil
}

func (m *MemoryStore) RevokeAllByUser(ctx context.Context, userID string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.UserID == userID && s.Revoke(at) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListActiveByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Session
	for _, s := range m.sessions {
		if s.UserID == userID && s.Active() {
			out = append(out, cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) Blacklist(ctx context.Context, token string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blacklist[security.HashToken(token)] = at
	return nil
}

func (m *MemoryStore) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blacklist[security.HashToken(token)]
	return ok, nil
}

func (m *MemoryStore) Cleanup(ctx context.Context, now time.Time, p CleanupPolicy) (CleanupResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res CleanupResult
	for h, at := range m.blacklist {
		if !now.Before(at.Add(p.BlacklistTTL)) {
			delete(m.blacklist, h)
			res.Blacklist++
		}
	}
	for id, s := range m.sessions {
		var stale bool
		if s.RevokedAt != nil {
			stale = !now.Before(s.RevokedAt.Add(p.Grace))
		} else {
			stale = !now.Before(s.LastActivity.Add(p.IdleTTL + p.Grace))
		}
		if stale {
			delete(m.sessions, id)
			res.Sessions++
		}
	}
	return res, nil
}

// Len returns the number of stored sessions, active or revoked.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
