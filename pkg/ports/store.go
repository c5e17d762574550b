package ports

import (
	"context"

	"github.com/aretw0/chatflow/pkg/domain"
)

// SessionStore defines the durable persistence layer for sessions.
// It backs the in-memory session manager, enabling recovery after a
// process restart.
type SessionStore interface {
	// Save persists the session. Implementations must reject a write
	// whose UpdatedAt is older than the stored copy's with
	// domain.ErrStaleSession; this is the consistency backstop behind
	// the per-session locks.
	Save(ctx context.Context, session *domain.Session) error

	// Load retrieves a session by ID, in whatever status it is in.
	// Returns domain.ErrSessionNotFound if the session does not exist.
	Load(ctx context.Context, sessionID string) (*domain.Session, error)

	// Delete physically removes the session. Callers soft-expire first;
	// Delete is reserved for archival cleanup.
	Delete(ctx context.Context, sessionID string) error

	// ListByUser returns every stored session for a (user, tenant) pair,
	// active or not.
	ListByUser(ctx context.Context, userID, tenantID string) ([]*domain.Session, error)

	// List returns all stored session IDs.
	List(ctx context.Context) ([]string, error)
}
