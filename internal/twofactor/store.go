package twofactor

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"
)

// PendingStore holds pending enrollments and emergency disable codes until they expire.
type PendingStore interface {
	// PutSetup stores setup under token for ttl, replacing any earlier setup of the same user.
	PutSetup(ctx context.Context, token string, setup *PendingSetup, ttl time.Duration) error
	// GetSetup returns the setup for token, or nil if missing or expired.
	GetSetup(ctx context.Context, token string) (*PendingSetup, error)
	// FindSetupByUser returns the current setup of userID and its token, or nil if none.
	FindSetupByUser(ctx context.Context, userID string) (string, *PendingSetup, error)
	DeleteSetup(ctx context.Context, token string) error
	// MarkSetupVerified flags the setup under token as verified. It reports
	// false when the setup is gone or was already verified.
	MarkSetupVerified(ctx context.Context, token string) (bool, error)
	// PutEmergencyCode stores the hash of a user's emergency disable code for ttl.
	PutEmergencyCode(ctx context.Context, userID, codeHash string, ttl time.Duration) error
	// GetEmergencyCode returns the stored hash, or "" if missing or expired.
	GetEmergencyCode(ctx context.Context, userID string) (string, error)
	// ConsumeEmergencyCode deletes the code of userID if its hash equals
	// codeHash. Only one caller can consume a given code.
	ConsumeEmergencyCode(ctx context.Context, userID, codeHash string) (bool, error)
	// Sweep removes expired entries and returns how many it removed.
	Sweep(ctx context.Context) (int, error)
}

type setupEntry struct {
	setup     PendingSetup
	expiresAt time.Time
}

type codeEntry struct {
	hash      string
	expiresAt time.Time
}

// MemoryPendingStore is an in-memory PendingStore.
type MemoryPendingStore struct {
	mu        sync.RWMutex
	setups    map[string]setupEntry
	byUser    map[string]string // userID -> setup token
	emergency map[string]codeEntry
	nowF      func() time.Time
}

// NewMemoryPendingStore returns an empty in-memory store.
func NewMemoryPendingStore() *MemoryPendingStore {
	return &MemoryPendingStore{
		setups:    make(map[string]setupEntry),
		byUser:    make(map[string]string),
		emergency: make(map[string]codeEntry),
		nowF:      time.Now().UTC,
	}
}

// SetClock overrides the expiry clock. For tests.
func (s *MemoryPendingStore) SetClock(now func() time.Time) { s.nowF = now }

func (s *MemoryPendingStore) PutSetup(ctx context.Context, token string, setup *PendingSetup, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.byUser[setup.UserID]; ok && prev != token {
		delete(s.setups, prev)
	}
	e := setupEntry{setup: *setup, expiresAt: s.nowF().Add(ttl)}
	e.setup.BackupCodes = append([]string(nil), setup.BackupCodes...)
	s.setups[token] = e
	s.byUser[setup.UserID] = token
	return nil
}

func (s *MemoryPendingStore) GetSetup(ctx context.Context, token string) (*PendingSetup, error) {
	s.mu.RLock()
	e, ok := s.setups[token]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if !e.expiresAt.After(s.nowF()) {
		s.mu.Lock()
		s.deleteSetupLocked(token)
		s.mu.Unlock()
		return nil, nil
	}
	out := e.setup
	out.BackupCodes = append([]string(nil), e.setup.BackupCodes...)
	return &out, nil
}

func (s *MemoryPendingStore) FindSetupByUser(ctx context.Context, userID string) (string, *PendingSetup, error) {
	s.mu.RLock()
	token, ok := s.byUser[userID]
	s.mu.RUnlock()
	if !ok {
		return "", nil, nil
	}
	setup, err := s.GetSetup(ctx, token)
	if err != nil || setup == nil {
		return "", nil, err
	}
	return token, setup, nil
}

func (s *MemoryPendingStore) DeleteSetup(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteSetupLocked(token)
	return nil
}

func (s *MemoryPendingStore) deleteSetupLocked(token string) {
	e, ok := s.setups[token]
	if !ok {
		return
	}
	delete(s.setups, token)
	if s.byUser[e.setup.UserID] == token {
		delete(s.byUser, e.setup.UserID)
	}
}

func (s *MemoryPendingStore) MarkSetupVerified(ctx context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.setups[token]
	if !ok || !e.expiresAt.After(s.nowF()) || e.setup.Verified {
		return false, nil
	}
	e.setup.Verified = true
	s.setups[token] = e
	return true, nil
}

// Len returns the number of stored setups, expired ones included.
func (s *MemoryPendingStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.setups)
}

func (s *MemoryPendingStore) PutEmergencyCode(ctx context.Context, userID, codeHash string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emergency[userID] = codeEntry{hash: codeHash, expiresAt: s.nowF().Add(ttl)}
	return nil
}

func (s *MemoryPendingStore) GetEmergencyCode(ctx context.Context, userID string) (string, error) {
	s.mu.RLock()
	e, ok := s.emergency[userID]
	s.mu.RUnlock()
	if !ok {
		return "", nil
	}
	if !e.expiresAt.After(s.nowF()) {
		s.mu.Lock()
		delete(s.emergency, userID)
		s.mu.Unlock()
		return "", nil
	}
	return e.hash, nil
}

func (s *MemoryPendingStore) ConsumeEmergencyCode(ctx context.Context, userID, codeHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.emergency[userID]
	if !ok || !e.expiresAt.After(s.nowF()) {
		return false, nil
	}
	if subtle.ConstantTimeCompare([]byte(e.hash), []byte(codeHash)) != 1 {
		return false, nil
	}
	delete(s.emergency, userID)
	return true, nil
}

func (s *MemoryPendingStore) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowF()
	n := 0
	for token, e := range s.setups {
		if !e.expiresAt.After(now) {
			s.deleteSetupLocked(token)
			n++
		}
	}
	for userID, e := range s.emergency {
		if !e.expiresAt.After(now) {
			delete(s.emergency, userID)
			n++
		}
	}
	return n, nil
}
