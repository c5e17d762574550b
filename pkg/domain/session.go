package domain

import (
	"time"

	"go.jetify.com/typeid"
)

// SessionStatus tracks the lifecycle of a conversation session.
type SessionStatus string

const (
	SessionActive     SessionStatus = "active"
	SessionTerminated SessionStatus = "terminated"
	SessionExpired    SessionStatus = "expired"
	SessionArchived   SessionStatus = "archived"
)

// EndReason records why a session left the active state.
type EndReason string

const (
	EndReasonExpired       EndReason = "expired"
	EndReasonEvicted       EndReason = "evicted"
	EndReasonLimitExceeded EndReason = "limit_exceeded"
	EndReasonManual        EndReason = "manual"
	EndReasonCompleted     EndReason = "completed"
)

// Lead is the critical-data bag: the contact identity and funnel stage
// that must survive any failure. The recovery subsystem guarantees it is
// never lost, whatever else a rollback drops.
type Lead struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
	Stage string `json:"stage,omitempty"`
}

// IsEmpty reports whether the lead carries no data at all.
func (l *Lead) IsEmpty() bool {
	return l == nil || (l.Name == "" && l.Phone == "" && l.Email == "" && l.Stage == "")
}

// Clone returns an independent copy, nil-safe.
func (l *Lead) Clone() *Lead {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}

// HistoryEntry records one visited node. Entries are append-only and
// monotonically timestamped within a session.
type HistoryEntry struct {
	NodeID    string    `json:"node_id"`
	Timestamp time.Time `json:"timestamp"`
}

// NewSessionID mints a typed, sortable session identifier.
func NewSessionID() string {
	id, err := typeid.WithPrefix("sess")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// Session is the unit of conversation state for one (user, tenant) pair.
// The JSON layout is the persisted wire format and must stay stable for
// restart recovery.
type Session struct {
	ID         string `json:"session_id"`
	UserID     string `json:"user_id"`
	TenantID   string `json:"tenant_id"`
	TemplateID string `json:"template_id,omitempty"`

	CurrentNodeID string `json:"current_node_id"`

	// CollectedData holds answers keyed by variable name.
	CollectedData map[string]any `json:"collected_data"`

	// OfferedOptions snapshots the choice set currently awaiting a
	// reply. Empty when no choice is pending.
	OfferedOptions []Option `json:"offered_options,omitempty"`

	// Lead is the critical-data bag. See Lead.
	Lead *Lead `json:"lead_ref,omitempty"`

	// History is the bounded trail of visited nodes, oldest trimmed.
	History []HistoryEntry `json:"history"`

	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`

	Status    SessionStatus `json:"status"`
	EndReason EndReason     `json:"end_reason,omitempty"`
}

// NewSession creates an active session positioned at the plan entry.
// The caller supplies its clock so creation timestamps line up with the
// rest of its bookkeeping.
func NewSession(userID, tenantID, templateID, entryNodeID string, now time.Time, ttl time.Duration) *Session {
	return &Session{
		ID:             NewSessionID(),
		UserID:         userID,
		TenantID:       tenantID,
		TemplateID:     templateID,
		CurrentNodeID:  entryNodeID,
		CollectedData:  make(map[string]any),
		History:        []HistoryEntry{{NodeID: entryNodeID, Timestamp: now}},
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(ttl),
		Status:         SessionActive,
	}
}

// IsActive reports whether the session can accept reply-driven turns.
func (s *Session) IsActive() bool {
	return s.Status == SessionActive
}

// IsExpiredAt reports whether the session's TTL has elapsed at the given time.
func (s *Session) IsExpiredAt(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Touch slides the expiry window forward from now.
// The invariant ExpiresAt > LastActivityAt holds for any positive TTL.
func (s *Session) Touch(now time.Time, ttl time.Duration) {
	s.LastActivityAt = now
	s.UpdatedAt = now
	s.ExpiresAt = now.Add(ttl)
}

// Visit appends a history entry and moves the step pointer, trimming the
// oldest entries beyond maxHistory.
func (s *Session) Visit(nodeID string, now time.Time, maxHistory int) {
	s.CurrentNodeID = nodeID
	s.History = append(s.History, HistoryEntry{NodeID: nodeID, Timestamp: now})
	if maxHistory > 0 && len(s.History) > maxHistory {
		s.History = s.History[len(s.History)-maxHistory:]
	}
}

// End marks the session unable to accept further reply-driven turns.
// Sessions are soft-deleted, never removed in-line.
func (s *Session) End(status SessionStatus, reason EndReason, now time.Time) {
	s.Status = status
	s.EndReason = reason
	s.UpdatedAt = now
}

// Clone returns a deep copy safe for independent mutation.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.CollectedData = make(map[string]any, len(s.CollectedData))
	for k, v := range s.CollectedData {
		c.CollectedData[k] = v
	}
	c.OfferedOptions = append([]Option(nil), s.OfferedOptions...)
	c.History = append([]HistoryEntry(nil), s.History...)
	c.Lead = s.Lead.Clone()
	return &c
}
