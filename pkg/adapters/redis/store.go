package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/chatflow/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// Store implements ports.SessionStore using Redis.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithTTL sets the physical expiration for session keys. This sits above
// the engine's own soft expiry as a storage-level safety net.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for sessions.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "chatflow:session:",
		ttl:    0, // No physical expiration by default
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

func (s *Store) key(sessionID string) string {
	return s.prefix + sessionID
}

func (s *Store) indexKey() string {
	return s.prefix + "index"
}

func (s *Store) userKey(userID, tenantID string) string {
	return s.prefix + "user:" + tenantID + ":" + userID
}

// Save persists the session to Redis.
func (s *Store) Save(ctx context.Context, session *domain.Session) error {
	// Stale-write backstop. Per-session locks in the manager make this
	// read-then-write race-free in practice.
	existing, err := s.Load(ctx, session.ID)
	if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		return err
	}
	if existing != nil && session.UpdatedAt.Before(existing.UpdatedAt) {
		return domain.ErrStaleSession
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	pipe := s.client.Pipeline()

	pipe.Set(ctx, s.key(session.ID), data, s.ttl)

	// Index (ZSET): score = soft expiry, so cleanup can range-scan.
	score := float64(session.ExpiresAt.Unix())
	if session.ExpiresAt.IsZero() {
		score = 4102444800 // 2100-01-01
	}
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{
		Score:  score,
		Member: session.ID,
	})

	pipe.SAdd(ctx, s.userKey(session.UserID, session.TenantID), session.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// Load retrieves the session from Redis.
func (s *Store) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	val, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if err != nil {
		if err == backend.Nil {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal([]byte(val), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// Delete removes the session and its index entries.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	session, err := s.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil
		}
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.key(sessionID))
	pipe.ZRem(ctx, s.indexKey(), sessionID)
	pipe.SRem(ctx, s.userKey(session.UserID, session.TenantID), sessionID)

	_, err = pipe.Exec(ctx)
	return err
}

// ListByUser returns all sessions for a (user, tenant) pair.
func (s *Store) ListByUser(ctx context.Context, userID, tenantID string) ([]*domain.Session, error) {
	ids, err := s.client.SMembers(ctx, s.userKey(userID, tenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read user index: %w", err)
	}

	var sessions []*domain.Session
	for _, id := range ids {
		session, err := s.Load(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrSessionNotFound) {
				// Key expired physically but index entry survived.
				continue
			}
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// List returns all indexed session IDs.
func (s *Store) List(ctx context.Context) ([]string, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	return ids, nil
}
