package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/chatflow/internal/logging"
	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/aretw0/chatflow/pkg/observability"
	"github.com/aretw0/chatflow/pkg/ports"
)

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager is the two-tier session store: a bounded in-memory cache over
// a durable backing store, with per-session locks so one turn at a time
// mutates a session. It uses reference counting to garbage collect
// unused locks.
type Manager struct {
	store ports.SessionStore
	cfg   Config

	mu    sync.Mutex
	locks map[string]*lockEntry
	cache *lruCache

	locker  ports.DistributedLocker
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking across engine replicas.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics wires the Prometheus collector set.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithClock overrides the time source. Tests use it to control expiry.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a session manager over the given backing store.
func NewManager(store ports.SessionStore, cfg Config, opts ...Option) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		store:  store,
		cfg:    cfg,
		locks:  make(map[string]*lockEntry),
		cache:  newLRUCache(cfg.MaxCacheEntries),
		logger: logging.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the effective lifecycle tuning.
func (m *Manager) Config() Config {
	return m.cfg
}

// Store returns the underlying backing store.
func (m *Manager) Store() ports.SessionStore {
	return m.store
}

// CreateOptions steer GetOrCreate.
type CreateOptions struct {
	TemplateID  string
	EntryNodeID string

	// ForceNew skips reuse of an existing active session.
	ForceNew bool
}

// GetOrCreate reuses the caller's active, unexpired session for the
// (user, tenant) pair or creates one. Creation beyond the per-user cap
// evicts the least-recently-active session first.
func (m *Manager) GetOrCreate(ctx context.Context, userID, tenantID string, opts CreateOptions) (*domain.Session, error) {
	var session *domain.Session
	err := m.WithLock(ctx, userLockKey(userID, tenantID), func(ctx context.Context) error {
		now := m.now()

		sessions, err := m.store.ListByUser(ctx, userID, tenantID)
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}

		var active []*domain.Session
		for _, s := range sessions {
			if !s.IsActive() {
				continue
			}
			if s.IsExpiredAt(now) {
				// Lazy soft expiry on the way past.
				if err := m.softExpire(ctx, s, domain.EndReasonExpired); err != nil {
					return err
				}
				continue
			}
			active = append(active, s)
		}

		if !opts.ForceNew {
			if latest := mostRecentlyActive(active); latest != nil {
				session = latest
				m.cachePut(latest)
				return nil
			}
		}

		if len(active) >= m.cfg.MaxSessionsPerUser {
			if err := m.evictForCap(ctx, active); err != nil {
				return err
			}
		}

		session = domain.NewSession(userID, tenantID, opts.TemplateID, opts.EntryNodeID, now, m.cfg.TTL)
		if err := m.store.Save(ctx, session); err != nil {
			return fmt.Errorf("failed to initialize session: %w", err)
		}
		m.cachePut(session)
		m.metrics.ObserveSessionCreated()
		return nil
	})
	return session, err
}

// Get returns the session by ID. A TTL-elapsed session is soft-expired
// on the spot and reported as domain.ErrSessionExpired; it is never
// handed back as active.
func (m *Manager) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	var session *domain.Session
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		s, err := m.load(ctx, sessionID)
		if err != nil {
			return err
		}
		if s.IsActive() && s.IsExpiredAt(m.now()) {
			if err := m.softExpire(ctx, s, domain.EndReasonExpired); err != nil {
				return err
			}
			return domain.ErrSessionExpired
		}
		session = s
		return nil
	})
	return session, err
}

// Save persists the session and refreshes the hot cache.
func (m *Manager) Save(ctx context.Context, session *domain.Session) error {
	session.UpdatedAt = m.now()
	if err := m.store.Save(ctx, session); err != nil {
		return err
	}
	m.cachePut(session)
	return nil
}

// Touch slides the session's expiry window forward from now.
func (m *Manager) Touch(ctx context.Context, sessionID string) error {
	return m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		s, err := m.load(ctx, sessionID)
		if err != nil {
			return err
		}
		s.Touch(m.now(), m.cfg.TTL)
		return m.Save(ctx, s)
	})
}

// Expire soft-expires the session with the given reason. The record is
// kept for forensic recovery; physical deletion is the sweep's job.
func (m *Manager) Expire(ctx context.Context, sessionID string, reason domain.EndReason) error {
	return m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		s, err := m.load(ctx, sessionID)
		if err != nil {
			return err
		}
		return m.softExpire(ctx, s, reason)
	})
}

// ListByUser returns every stored session for the (user, tenant) pair.
func (m *Manager) ListByUser(ctx context.Context, userID, tenantID string) ([]*domain.Session, error) {
	return m.store.ListByUser(ctx, userID, tenantID)
}

// WithLock executes fn while holding the lock for the given key.
// Turn execution, touch, and expiry all funnel through here, which is
// what serializes turns per session.
func (m *Manager) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	entry := m.acquire(key)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(key)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, key, 30*time.Second)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"key", key,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}

// Busy reports whether a turn currently holds the session's lock.
// The cleanup sweep uses it to skip in-flight sessions.
func (m *Manager) Busy(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.locks[sessionID]
	return ok
}

func userLockKey(userID, tenantID string) string {
	return "user/" + tenantID + "/" + userID
}

// acquire gets or creates a lock entry and increments its reference count.
func (m *Manager) acquire(key string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[key]
	if !exists {
		entry = &lockEntry{}
		m.locks[key] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry at zero.
func (m *Manager) release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[key]
	if !exists {
		return // Should not happen if paired correctly
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, key)
	}
}

// load reads through the hot cache, falling back to the backing store.
func (m *Manager) load(ctx context.Context, sessionID string) (*domain.Session, error) {
	m.mu.Lock()
	cached, ok := m.cache.get(sessionID)
	m.mu.Unlock()
	if ok {
		return cached.Clone(), nil
	}

	session, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	m.cachePut(session)
	return session, nil
}

func (m *Manager) cachePut(session *domain.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.put(session.Clone())
}

func (m *Manager) cacheDrop(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.drop(sessionID)
}

// softExpire flips the session out of the active state and persists it.
// Always a flag flip plus timestamp, never a physical removal.
func (m *Manager) softExpire(ctx context.Context, session *domain.Session, reason domain.EndReason) error {
	status := domain.SessionExpired
	if reason == domain.EndReasonManual || reason == domain.EndReasonCompleted {
		status = domain.SessionTerminated
	}
	session.End(status, reason, m.now())
	session.UpdatedAt = m.now()
	if err := m.store.Save(ctx, session); err != nil {
		return fmt.Errorf("failed to expire session %s: %w", session.ID, err)
	}
	m.cacheDrop(session.ID)
	m.metrics.ObserveEviction(string(reason))
	m.logger.Info("session ended",
		"session_id", session.ID,
		"reason", reason,
		"status", status,
	)
	return nil
}

// evictForCap removes the least-recently-active session to make room
// under the per-user cap. Sessions carrying lead data are exempt unless
// preservation is explicitly disabled.
func (m *Manager) evictForCap(ctx context.Context, active []*domain.Session) error {
	var victim *domain.Session
	for _, s := range active {
		if !m.cfg.DisableLeadPreservation && !s.Lead.IsEmpty() {
			continue
		}
		if victim == nil || s.LastActivityAt.Before(victim.LastActivityAt) {
			victim = s
		}
	}
	if victim == nil {
		// Every candidate carries lead data. The preservation policy
		// outranks the cap: allow the overflow and say so.
		m.logger.Warn("session cap exceeded, all candidates carry lead data",
			"cap", m.cfg.MaxSessionsPerUser,
		)
		return nil
	}
	return m.softExpire(ctx, victim, domain.EndReasonLimitExceeded)
}

func mostRecentlyActive(sessions []*domain.Session) *domain.Session {
	var latest *domain.Session
	for _, s := range sessions {
		if latest == nil || s.LastActivityAt.After(latest.LastActivityAt) {
			latest = s
		}
	}
	return latest
}

// IsNotFound reports whether the error means the session is absent or
// no longer usable.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrSessionNotFound) || errors.Is(err, domain.ErrSessionExpired)
}
