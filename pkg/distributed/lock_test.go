package distributed

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Requires a reachable Redis; set QUICKDOWNTIME_TEST_REDIS to its address.
func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("QUICKDOWNTIME_TEST_REDIS")
	if addr == "" {
		t.Skip("QUICKDOWNTIME_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestMutex_ExclusiveAndReusable(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	key := "qdtest-lock-" + uuid.NewString()
	t.Cleanup(func() { client.Del(ctx, key) })

	first := NewMutex(client, key, time.Second)
	second := NewMutex(client, key, time.Second)

	ok, err := first.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = first.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "already held by this mutex")

	require.NoError(t, first.Unlock(ctx))
	assert.ErrorIs(t, first.Unlock(ctx), ErrNotHeld)

	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, second.Unlock(ctx))
}

func TestMutex_RenewsWhileHeld(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	key := "qdtest-lock-" + uuid.NewString()
	t.Cleanup(func() { client.Del(ctx, key) })

	m := NewMutex(client, key, 400*time.Millisecond)
	ok, err := m.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(time.Second)
	exists, err := client.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)

	require.NoError(t, m.Unlock(ctx))
}

func TestMutex_LostKey(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	key := "qdtest-lock-" + uuid.NewString()

	m := NewMutex(client, key, time.Minute)
	ok, err := m.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, client.Del(ctx, key).Err())
	assert.ErrorIs(t, m.Unlock(ctx), ErrNotHeld)
}
