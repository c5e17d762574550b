package domain

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when a session ID cannot be found in the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionExpired is returned when a session exists but its TTL has elapsed.
var ErrSessionExpired = errors.New("session expired")

// ErrStaleSession is returned by Save when the stored session is newer
// than the one being written. Per-session locking makes this rare; the
// store rejects it anyway as a consistency backstop.
var ErrStaleSession = errors.New("stale session write rejected")

// ErrPlanNotFound is returned when no compiled plan exists for a template.
var ErrPlanNotFound = errors.New("compiled plan not found")

// ErrNodeNotInPlan is returned when a session points at a node the
// current plan does not contain. It marks a corrupted session context.
var ErrNodeNotInPlan = errors.New("session references node outside the plan")

// GraphError is a compile-time template fault. It is fatal to template
// activation and surfaced to the caller immediately.
type GraphError struct {
	TemplateID string
	NodeID     string
	Handle     string
	Reason     string
}

func (e *GraphError) Error() string {
	msg := fmt.Sprintf("graph error: %s", e.Reason)
	if e.NodeID != "" {
		msg += fmt.Sprintf(" (node %q", e.NodeID)
		if e.Handle != "" {
			msg += fmt.Sprintf(", handle %q", e.Handle)
		}
		msg += ")"
	}
	return msg
}

// HookFault wraps a stage-transition hook failure. It is non-fatal to
// the turn; the executor reports it for classification and moves on.
type HookFault struct {
	StageID string
	Err     error
}

func (e *HookFault) Error() string {
	return fmt.Sprintf("stage hook failed for stage %q: %v", e.StageID, e.Err)
}

func (e *HookFault) Unwrap() error {
	return e.Err
}
