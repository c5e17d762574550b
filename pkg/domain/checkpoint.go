package domain

import (
	"time"

	"go.jetify.com/typeid"
)

// Checkpoint is an immutable snapshot of a session taken before a risky
// step executes. Only the recovery subsystem reads checkpoints; they are
// garbage-collected with the owning session.
type Checkpoint struct {
	ID        string    `json:"checkpoint_id"`
	SessionID string    `json:"session_id"`
	TakenAt   time.Time `json:"taken_at"`
	Session   *Session  `json:"session"`
}

// NewCheckpoint snapshots the session as it stands now.
func NewCheckpoint(s *Session) *Checkpoint {
	id, err := typeid.WithPrefix("ckpt")
	if err != nil {
		panic(err)
	}
	return &Checkpoint{
		ID:        id.String(),
		SessionID: s.ID,
		TakenAt:   time.Now(),
		Session:   s.Clone(),
	}
}
