package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"studysync/internal/domain/session"
)

var errSessionNotFound = errors.New("session not found or expired")

type sessionEntry struct {
	userID    string
	expiresAt time.Time
}

type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]sessionEntry
	now      func() time.Time
}

var _ session.Repository = (*SessionRepository)(nil)

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		sessions: make(map[string]sessionEntry),
		now:      time.Now,
	}
}

func (r *SessionRepository) Create(_ context.Context, userID string, tokenHash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[tokenHash] = sessionEntry{userID: userID, expiresAt: expiresAt}
	return nil
}

func (r *SessionRepository) Validate(_ context.Context, tokenHash string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[tokenHash]
	if !ok || !s.expiresAt.After(r.now()) {
		return "", errSessionNotFound
	}
	return s.userID, nil
}
