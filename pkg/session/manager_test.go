package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/chatflow/pkg/adapters/memory"
	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/aretw0/chatflow/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests move time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newManager(t *testing.T, cfg session.Config) (*session.Manager, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	m := session.NewManager(memory.NewStore(), cfg, session.WithClock(clock.Now))
	return m, clock
}

func createOpts() session.CreateOptions {
	return session.CreateOptions{TemplateID: "tpl-1", EntryNodeID: "start"}
}

func TestGetOrCreate_ReusesActiveSession(t *testing.T) {
	m, _ := newManager(t, session.Config{})
	ctx := context.Background()

	first, err := m.GetOrCreate(ctx, "user-1", "tenant-1", createOpts())
	require.NoError(t, err)

	second, err := m.GetOrCreate(ctx, "user-1", "tenant-1", createOpts())
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// Different tenant gets its own session.
	other, err := m.GetOrCreate(ctx, "user-1", "tenant-2", createOpts())
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestGetOrCreate_ForceNew(t *testing.T) {
	m, _ := newManager(t, session.Config{})
	ctx := context.Background()

	first, err := m.GetOrCreate(ctx, "user-1", "tenant-1", createOpts())
	require.NoError(t, err)

	opts := createOpts()
	opts.ForceNew = true
	second, err := m.GetOrCreate(ctx, "user-1", "tenant-1", opts)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestTouch_SlidesExpiry(t *testing.T) {
	m, clock := newManager(t, session.Config{TTL: time.Hour})
	ctx := context.Background()

	s, err := m.GetOrCreate(ctx, "user-1", "tenant-1", createOpts())
	require.NoError(t, err)
	before := s.ExpiresAt

	clock.Advance(10 * time.Minute)
	require.NoError(t, m.Touch(ctx, s.ID))

	touched, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, touched.ExpiresAt.After(before), "ExpiresAt must strictly increase after Touch")
	assert.True(t, touched.ExpiresAt.After(touched.LastActivityAt))
}

func TestGet_ExpiredSessionNeverReturnedActive(t *testing.T) {
	m, clock := newManager(t, session.Config{TTL: time.Hour})
	ctx := context.Background()

	s, err := m.GetOrCreate(ctx, "user-1", "tenant-1", createOpts())
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)

	_, err = m.Get(ctx, s.ID)
	assert.ErrorIs(t, err, domain.ErrSessionExpired)

	// Soft expiry: the record survives in the backing store.
	stored, err := m.Store().Load(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionExpired, stored.Status)
	assert.Equal(t, domain.EndReasonExpired, stored.EndReason)

	// GetOrCreate starts over instead of resurrecting the expired one.
	fresh, err := m.GetOrCreate(ctx, "user-1", "tenant-1", createOpts())
	require.NoError(t, err)
	assert.NotEqual(t, s.ID, fresh.ID)
}

func TestGetOrCreate_PerUserCapEvictsLRA(t *testing.T) {
	m, clock := newManager(t, session.Config{MaxSessionsPerUser: 2})
	ctx := context.Background()

	opts := createOpts()
	opts.ForceNew = true

	oldest, err := m.GetOrCreate(ctx, "user-1", "tenant-1", opts)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	second, err := m.GetOrCreate(ctx, "user-1", "tenant-1", opts)
	require.NoError(t, err)
	clock.Advance(time.Minute)

	// Third creation crosses the cap: exactly the least-recently-active
	// session goes.
	third, err := m.GetOrCreate(ctx, "user-1", "tenant-1", opts)
	require.NoError(t, err)

	evicted, err := m.Store().Load(ctx, oldest.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EndReasonLimitExceeded, evicted.EndReason)

	kept, err := m.Store().Load(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, kept.IsActive())

	alive, err := m.Store().Load(ctx, third.ID)
	require.NoError(t, err)
	assert.True(t, alive.IsActive())
}

func TestGetOrCreate_CapNeverEvictsLeadSessions(t *testing.T) {
	m, clock := newManager(t, session.Config{MaxSessionsPerUser: 1})
	ctx := context.Background()

	opts := createOpts()
	opts.ForceNew = true

	withLead, err := m.GetOrCreate(ctx, "user-1", "tenant-1", opts)
	require.NoError(t, err)
	withLead.Lead = &domain.Lead{Phone: "555"}
	require.NoError(t, m.Save(ctx, withLead))
	clock.Advance(time.Minute)

	_, err = m.GetOrCreate(ctx, "user-1", "tenant-1", opts)
	require.NoError(t, err)

	preserved, err := m.Store().Load(ctx, withLead.ID)
	require.NoError(t, err)
	assert.True(t, preserved.IsActive(), "lead-carrying session must survive cap eviction")
}

func TestGetOrCreate_CapEvictsLeadWhenPreservationDisabled(t *testing.T) {
	m, clock := newManager(t, session.Config{
		MaxSessionsPerUser:      1,
		DisableLeadPreservation: true,
	})
	ctx := context.Background()

	opts := createOpts()
	opts.ForceNew = true

	withLead, err := m.GetOrCreate(ctx, "user-1", "tenant-1", opts)
	require.NoError(t, err)
	withLead.Lead = &domain.Lead{Phone: "555"}
	require.NoError(t, m.Save(ctx, withLead))
	clock.Advance(time.Minute)

	_, err = m.GetOrCreate(ctx, "user-1", "tenant-1", opts)
	require.NoError(t, err)

	evicted, err := m.Store().Load(ctx, withLead.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EndReasonLimitExceeded, evicted.EndReason)
}

func TestExpire_RecordsReason(t *testing.T) {
	m, _ := newManager(t, session.Config{})
	ctx := context.Background()

	s, err := m.GetOrCreate(ctx, "user-1", "tenant-1", createOpts())
	require.NoError(t, err)

	require.NoError(t, m.Expire(ctx, s.ID, domain.EndReasonManual))

	stored, err := m.Store().Load(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionTerminated, stored.Status)
	assert.Equal(t, domain.EndReasonManual, stored.EndReason)
}

func TestWithLock_SerializesAccess(t *testing.T) {
	m, _ := newManager(t, session.Config{})
	ctx := context.Background()

	var counter int
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.WithLock(ctx, "sess_contended", func(ctx context.Context) error {
				counter++
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}
