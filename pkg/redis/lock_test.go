package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient connects to TEST_REDIS_HOST; the tests are skipped without it
func newTestClient(t *testing.T) *Client {
	t.Helper()
	host := os.Getenv("TEST_REDIS_HOST")
	if host == "" {
		t.Skip("Redis not configured")
	}
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	client, err := NewClient(context.Background(), Config{Host: host, Port: 6379}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestLocker_AcquireRelease(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	locker := NewLocker(client, "rowan:test:", time.Second, 100*time.Millisecond)
	key := uuid.New().String()

	lock, err := locker.Acquire(ctx, key, time.Second)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, key, time.Second)
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	require.NoError(t, lock.Release(ctx))
	assert.ErrorIs(t, lock.Release(ctx), ErrLockNotHeld)
}

func TestLocker_Lock(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	locker := NewLocker(client, "rowan:test:", time.Second, 50*time.Millisecond)
	key := uuid.New().String()

	unlock, err := locker.Lock(ctx, key)
	require.NoError(t, err)

	_, err = locker.Lock(ctx, key)
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	unlock()
	unlock()

	unlock, err = locker.Lock(ctx, key)
	require.NoError(t, err)
	unlock()
}

func TestNewLocker_Defaults(t *testing.T) {
	l := NewLocker(nil, "", 0, 0)
	assert.Equal(t, "rowan:resolve:", l.keyPrefix)
	assert.Equal(t, DefaultLockTTL, l.ttl)
	assert.Equal(t, DefaultLockTimeout, l.timeout)
}
