// Package session manages conversation state across asynchronous turns:
// a bounded in-memory cache over a durable store, per-session locks that
// serialize turns, sliding TTL expiry, per-user session caps, and the
// background cleanup that soft-expires, archives, and eventually purges
// old sessions.
package session
