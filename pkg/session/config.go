package session

import "time"

// Config tunes session lifecycle and caching. Zero values fall back to
// the defaults below.
type Config struct {
	// TTL is the sliding expiry window. Every successful turn extends
	// ExpiresAt by this much from now.
	TTL time.Duration

	// InactivityTimeout marks a TTL-valid session as inactive for the
	// background cleanup once no turn arrived for this long.
	InactivityTimeout time.Duration

	// MaxSessionsPerUser caps active sessions per (user, tenant).
	// Creating beyond the cap evicts the least-recently-active one.
	MaxSessionsPerUser int

	// MaxCacheEntries bounds the in-memory hot cache.
	MaxCacheEntries int

	// MaxHistory bounds the per-session visited-node trail.
	MaxHistory int

	// CleanupInterval and CleanupBatchSize drive the background sweep.
	CleanupInterval  time.Duration
	CleanupBatchSize int

	// PurgeAfter is how long an ended session stays archived before the
	// sweep may physically delete it.
	PurgeAfter time.Duration

	// DisableLeadPreservation turns off the hard policy that cleanup
	// and cap eviction never remove a session carrying lead data.
	// Leave it false unless you know exactly why you need it.
	DisableLeadPreservation bool
}

// DefaultConfig returns the stock lifecycle tuning.
func DefaultConfig() Config {
	return Config{
		TTL:                24 * time.Hour,
		InactivityTimeout:  6 * time.Hour,
		MaxSessionsPerUser: 3,
		MaxCacheEntries:    10000,
		MaxHistory:         50,
		CleanupInterval:    5 * time.Minute,
		CleanupBatchSize:   100,
		PurgeAfter:         7 * 24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.TTL <= 0 {
		c.TTL = def.TTL
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = def.InactivityTimeout
	}
	if c.MaxSessionsPerUser <= 0 {
		c.MaxSessionsPerUser = def.MaxSessionsPerUser
	}
	if c.MaxCacheEntries <= 0 {
		c.MaxCacheEntries = def.MaxCacheEntries
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = def.MaxHistory
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = def.CleanupInterval
	}
	if c.CleanupBatchSize <= 0 {
		c.CleanupBatchSize = def.CleanupBatchSize
	}
	if c.PurgeAfter <= 0 {
		c.PurgeAfter = def.PurgeAfter
	}
	return c
}
