package lease

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocalLockerSingleWriter(t *testing.T) {
	ctx := context.Background()
	locker := NewLocalLocker()

	first, err := locker.Acquire(ctx, "products", time.Minute)
	require.NoError(t, err)
	require.NoError(t, first.Valid(ctx))

	_, err = locker.Acquire(ctx, "products", time.Minute)
	require.ErrorIs(t, err, ErrLeaseHeld)

	other, err := locker.Acquire(ctx, "other-table", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, first.Release(ctx))
	require.ErrorIs(t, first.Valid(ctx), ErrLeaseLost)

	second, err := locker.Acquire(ctx, "products", time.Minute)
	require.NoError(t, err)
	require.NotEqual(t, first.Owner(), second.Owner())
}

func TestLocalLockerExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	locker := NewLocalLocker()
	locker.now = func() time.Time { return now }

	stale, err := locker.Acquire(ctx, "products", 10*time.Second)
	require.NoError(t, err)

	now = now.Add(11 * time.Second)
	require.ErrorIs(t, stale.Valid(ctx), ErrLeaseLost)

	fresh, err := locker.Acquire(ctx, "products", 10*time.Second)
	require.NoError(t, err)
	require.NoError(t, fresh.Valid(ctx))

	// releasing the expired lease must not drop the new owner
	require.NoError(t, stale.Release(ctx))
	require.NoError(t, fresh.Valid(ctx))
}

func TestLocalLeaseRenew(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	locker := NewLocalLocker()
	locker.now = func() time.Time { return now }

	held, err := locker.Acquire(ctx, "products", 10*time.Second)
	require.NoError(t, err)
	require.Equal(t, now.Add(10*time.Second), held.Deadline())

	now = now.Add(8 * time.Second)
	require.NoError(t, held.Renew(ctx))
	require.Equal(t, now.Add(10*time.Second), held.Deadline())

	now = now.Add(8 * time.Second)
	require.NoError(t, held.Valid(ctx))
	_, err = locker.Acquire(ctx, "products", 10*time.Second)
	require.ErrorIs(t, err, ErrLeaseHeld)

	now = now.Add(3 * time.Second)
	require.ErrorIs(t, held.Renew(ctx), ErrLeaseLost)
}

func TestKeepAliveRenewsUntilStopped(t *testing.T) {
	ctx := context.Background()
	locker := NewLocalLocker()
	held, err := locker.Acquire(ctx, "products", 90*time.Millisecond)
	require.NoError(t, err)

	kctx, stop := KeepAlive(ctx, held)
	time.Sleep(250 * time.Millisecond)
	require.NoError(t, kctx.Err())
	require.NoError(t, held.Valid(ctx))

	_, err = locker.Acquire(ctx, "products", time.Minute)
	require.ErrorIs(t, err, ErrLeaseHeld)

	stop()
	require.Error(t, kctx.Err())
	require.False(t, Lost(kctx))
}

func TestKeepAliveCancelsWhenLeaseTaken(t *testing.T) {
	ctx := context.Background()
	locker := NewLocalLocker()
	held, err := locker.Acquire(ctx, "products", 90*time.Millisecond)
	require.NoError(t, err)

	kctx, stop := KeepAlive(ctx, held)
	defer stop()
	require.NoError(t, held.Release(ctx))

	select {
	case <-kctx.Done():
	case <-time.After(time.Second):
		t.Fatal("keepalive context not cancelled after the lease was released")
	}
	require.True(t, Lost(kctx))
}

func TestRedisLocker(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	locker, err := NewRedisLocker(url)
	require.NoError(t, err)
	defer locker.Close()

	name := "test-" + time.Now().Format("150405.000000")
	first, err := locker.Acquire(ctx, name, 5*time.Second)
	require.NoError(t, err)
	_, err = locker.Acquire(ctx, name, 5*time.Second)
	require.ErrorIs(t, err, ErrLeaseHeld)
	require.NoError(t, first.Valid(ctx))

	before := first.Deadline()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, first.Renew(ctx))
	require.True(t, first.Deadline().After(before))

	require.NoError(t, first.Release(ctx))
	require.ErrorIs(t, first.Valid(ctx), ErrLeaseLost)
	require.ErrorIs(t, first.Renew(ctx), ErrLeaseLost)
}
