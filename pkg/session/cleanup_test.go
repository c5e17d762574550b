package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/aretw0/chatflow/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweep_SoftExpiresElapsedSessions(t *testing.T) {
	m, clock := newManager(t, session.Config{TTL: time.Hour})
	ctx := context.Background()

	s, err := m.GetOrCreate(ctx, "user-1", "tenant-1", createOpts())
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)

	stats, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Expired)

	stored, err := m.Store().Load(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionExpired, stored.Status)
}

func TestSweep_ArchivesInactiveSessions(t *testing.T) {
	m, clock := newManager(t, session.Config{
		TTL:               24 * time.Hour,
		InactivityTimeout: time.Hour,
	})
	ctx := context.Background()

	s, err := m.GetOrCreate(ctx, "user-1", "tenant-1", createOpts())
	require.NoError(t, err)

	// TTL-valid but past the inactivity timeout.
	clock.Advance(2 * time.Hour)

	stats, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Archived)

	stored, err := m.Store().Load(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionArchived, stored.Status)
}

func TestSweep_PurgesEndedSessionsPastRetention(t *testing.T) {
	m, clock := newManager(t, session.Config{PurgeAfter: 24 * time.Hour})
	ctx := context.Background()

	s, err := m.GetOrCreate(ctx, "user-1", "tenant-1", createOpts())
	require.NoError(t, err)
	require.NoError(t, m.Expire(ctx, s.ID, domain.EndReasonManual))

	clock.Advance(48 * time.Hour)

	stats, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Purged)

	_, err = m.Store().Load(ctx, s.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSweep_NeverPurgesLeadSessions(t *testing.T) {
	m, clock := newManager(t, session.Config{PurgeAfter: 24 * time.Hour})
	ctx := context.Background()

	s, err := m.GetOrCreate(ctx, "user-1", "tenant-1", createOpts())
	require.NoError(t, err)
	s.Lead = &domain.Lead{Phone: "555", Email: "lead@example.com"}
	require.NoError(t, m.Save(ctx, s))
	require.NoError(t, m.Expire(ctx, s.ID, domain.EndReasonManual))

	clock.Advance(30 * 24 * time.Hour)

	stats, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Purged)

	stored, err := m.Store().Load(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Lead)
	assert.Equal(t, "555", stored.Lead.Phone)
}

func TestSweep_PurgesLeadSessionsWhenPolicyDisabled(t *testing.T) {
	m, clock := newManager(t, session.Config{
		PurgeAfter:              24 * time.Hour,
		DisableLeadPreservation: true,
	})
	ctx := context.Background()

	s, err := m.GetOrCreate(ctx, "user-1", "tenant-1", createOpts())
	require.NoError(t, err)
	s.Lead = &domain.Lead{Phone: "555"}
	require.NoError(t, m.Save(ctx, s))
	require.NoError(t, m.Expire(ctx, s.ID, domain.EndReasonManual))

	clock.Advance(48 * time.Hour)

	stats, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Purged)
}

func TestSweep_RespectsBatchSize(t *testing.T) {
	m, clock := newManager(t, session.Config{
		TTL:              time.Hour,
		CleanupBatchSize: 2,
	})
	ctx := context.Background()

	opts := createOpts()
	opts.ForceNew = true
	for i := 0; i < 4; i++ {
		_, err := m.GetOrCreate(ctx, "user-batch", "tenant-1", opts)
		require.NoError(t, err)
	}

	clock.Advance(2 * time.Hour)

	stats, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Examined)
}
