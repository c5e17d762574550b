package redis_test

import (
	"context"
	"testing"
	"time"

	redisadapter "github.com/aretw0/chatflow/pkg/adapters/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocker_MutualExclusion(t *testing.T) {
	client := newTestClient(t)
	locker := redisadapter.NewLocker(client, "chatflow:")
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "sess_abc", 5*time.Second)
	require.NoError(t, err)

	// Second acquisition must not succeed while the lock is held.
	shortCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(shortCtx, "sess_abc", 5*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, unlock(ctx))

	// Released: can be acquired again.
	unlock2, err := locker.Lock(ctx, "sess_abc", 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, unlock2(ctx))
}
