package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSessionStoreContract runs a suite of tests to verify that a
// SessionStore implementation adheres to the interface contract.
func RunSessionStoreContract(t *testing.T, store SessionStore) {
	ctx := context.Background()

	t.Run("Save and Load", func(t *testing.T) {
		session := domain.NewSession("user-1", "tenant-1", "tpl-1", "start", time.Now(), time.Hour)
		session.CollectedData["city"] = "Lisboa"
		session.Lead = &domain.Lead{Phone: "555-0101"}

		require.NoError(t, store.Save(ctx, session))

		loaded, err := store.Load(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, session.ID, loaded.ID)
		assert.Equal(t, "start", loaded.CurrentNodeID)
		assert.Equal(t, "Lisboa", loaded.CollectedData["city"])
		require.NotNil(t, loaded.Lead)
		assert.Equal(t, "555-0101", loaded.Lead.Phone)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "sess_nonexistent")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Stale Write Rejected", func(t *testing.T) {
		session := domain.NewSession("user-2", "tenant-1", "tpl-1", "start", time.Now(), time.Hour)
		session.UpdatedAt = time.Now()
		require.NoError(t, store.Save(ctx, session))

		stale := session.Clone()
		stale.UpdatedAt = session.UpdatedAt.Add(-time.Minute)
		assert.ErrorIs(t, store.Save(ctx, stale), domain.ErrStaleSession)
	})

	t.Run("Delete", func(t *testing.T) {
		session := domain.NewSession("user-3", "tenant-1", "tpl-1", "start", time.Now(), time.Hour)
		require.NoError(t, store.Save(ctx, session))

		require.NoError(t, store.Delete(ctx, session.ID))

		_, err := store.Load(ctx, session.ID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("ListByUser", func(t *testing.T) {
		a := domain.NewSession("user-list", "tenant-1", "tpl-1", "start", time.Now(), time.Hour)
		b := domain.NewSession("user-list", "tenant-1", "tpl-1", "start", time.Now(), time.Hour)
		other := domain.NewSession("user-list", "tenant-2", "tpl-1", "start", time.Now(), time.Hour)
		require.NoError(t, store.Save(ctx, a))
		require.NoError(t, store.Save(ctx, b))
		require.NoError(t, store.Save(ctx, other))

		defer func() {
			_ = store.Delete(ctx, a.ID)
			_ = store.Delete(ctx, b.ID)
			_ = store.Delete(ctx, other.ID)
		}()

		sessions, err := store.ListByUser(ctx, "user-list", "tenant-1")
		require.NoError(t, err)
		ids := make([]string, 0, len(sessions))
		for _, s := range sessions {
			ids = append(ids, s.ID)
		}
		assert.Contains(t, ids, a.ID)
		assert.Contains(t, ids, b.ID)
		assert.NotContains(t, ids, other.ID)
	})

	t.Run("List", func(t *testing.T) {
		session := domain.NewSession("user-4", "tenant-1", "tpl-1", "start", time.Now(), time.Hour)
		require.NoError(t, store.Save(ctx, session))
		defer func() { _ = store.Delete(ctx, session.ID) }()

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, session.ID)
	})
}
