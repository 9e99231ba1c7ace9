package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herald-one/herald/internal/domain"
)

func testClient(t *testing.T) (*miniredis.Miniredis, *Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestProcessingLock_Acquire(t *testing.T) {
	ctx := context.Background()
	mr, client := testClient(t)
	lock := NewProcessingLock(client, time.Minute, 24*time.Hour)

	id := uuid.New()

	t.Run("first attempt acquires", func(t *testing.T) {
		outcome, err := lock.Acquire(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.LockAcquired, outcome)

		status, err := lock.Status(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.IdemProcessing, status)
		assert.Greater(t, mr.TTL(idemKey(id)), time.Duration(0))
	})

	t.Run("concurrent attempt refused while processing", func(t *testing.T) {
		outcome, err := lock.Acquire(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.LockBusy, outcome)
	})

	t.Run("refused after delivered", func(t *testing.T) {
		require.NoError(t, lock.MarkDelivered(ctx, id))

		outcome, err := lock.Acquire(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.LockDelivered, outcome)

		// The delivered record survives the refused acquire.
		status, err := lock.Status(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.IdemDelivered, status)
	})

	t.Run("acquired as retry after failed", func(t *testing.T) {
		retryID := uuid.New()
		_, err := lock.Acquire(ctx, retryID)
		require.NoError(t, err)
		require.NoError(t, lock.MarkFailed(ctx, retryID))

		outcome, err := lock.Acquire(ctx, retryID)
		require.NoError(t, err)
		assert.Equal(t, domain.LockRetry, outcome)

		status, err := lock.Status(ctx, retryID)
		require.NoError(t, err)
		assert.Equal(t, domain.IdemProcessing, status)
	})

	t.Run("expired processing record self-heals", func(t *testing.T) {
		expireID := uuid.New()
		_, err := lock.Acquire(ctx, expireID)
		require.NoError(t, err)

		mr.FastForward(2 * time.Minute)

		outcome, err := lock.Acquire(ctx, expireID)
		require.NoError(t, err)
		assert.Equal(t, domain.LockAcquired, outcome)
	})
}

func TestProcessingLock_Status(t *testing.T) {
	ctx := context.Background()
	_, client := testClient(t)
	lock := NewProcessingLock(client, time.Minute, 24*time.Hour)

	t.Run("absent record reads empty", func(t *testing.T) {
		status, err := lock.Status(ctx, uuid.New())
		require.NoError(t, err)
		assert.Equal(t, "", status)
	})

	t.Run("failed record reads failed", func(t *testing.T) {
		id := uuid.New()
		require.NoError(t, lock.MarkFailed(ctx, id))

		status, err := lock.Status(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.IdemFailed, status)
	})
}

func TestProcessingLock_TerminalTTLOutlivesProcessing(t *testing.T) {
	ctx := context.Background()
	mr, client := testClient(t)
	lock := NewProcessingLock(client, time.Minute, 24*time.Hour)

	id := uuid.New()
	_, err := lock.Acquire(ctx, id)
	require.NoError(t, err)
	processingTTL := mr.TTL(idemKey(id))

	require.NoError(t, lock.MarkDelivered(ctx, id))
	terminalTTL := mr.TTL(idemKey(id))

	assert.Greater(t, terminalTTL, processingTTL)
}
