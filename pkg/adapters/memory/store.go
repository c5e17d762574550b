package memory

import (
	"context"
	"sync"

	"github.com/aretw0/chatflow/pkg/domain"
)

// Store implements ports.SessionStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string]*domain.Session
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]*domain.Session),
	}
}

// Save persists the session in memory. Writes older than the stored
// copy are rejected with domain.ErrStaleSession.
func (s *Store) Save(ctx context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.data[session.ID]; ok {
		if session.UpdatedAt.Before(existing.UpdatedAt) {
			return domain.ErrStaleSession
		}
	}

	// Deep copy to ensure isolation, same as serialization would.
	s.data[session.ID] = session.Clone()
	return nil
}

// Load retrieves the session from memory.
func (s *Store) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.data[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	// Copy on read so callers can't mutate store state through the pointer.
	return session.Clone(), nil
}

// Delete removes the session.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, sessionID)
	return nil
}

// ListByUser returns all sessions for a (user, tenant) pair.
func (s *Store) ListByUser(ctx context.Context, userID, tenantID string) ([]*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sessions []*domain.Session
	for _, session := range s.data {
		if session.UserID == userID && session.TenantID == tenantID {
			sessions = append(sessions, session.Clone())
		}
	}
	return sessions, nil
}

// List returns all stored session IDs.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	return ids, nil
}
