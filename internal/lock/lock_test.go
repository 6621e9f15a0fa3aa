package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryLocker_AcquireAndRelease(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	acquired, err := locker.Acquire(ctx, "reaper", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	acquired, err = locker.Acquire(ctx, "reaper", time.Minute)
	require.NoError(t, err)
	require.False(t, acquired, "held lock must not be reacquired")

	acquired, err = locker.Acquire(ctx, "other-key", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired, "different keys are independent")

	require.NoError(t, locker.Release(ctx, "reaper"))

	acquired, err = locker.Acquire(ctx, "reaper", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired, "released lock is free")
}

func TestMemoryLocker_ExpiredLockIsFree(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	acquired, err := locker.Acquire(ctx, "reaper", time.Millisecond)
	require.NoError(t, err)
	require.True(t, acquired)

	time.Sleep(5 * time.Millisecond)

	acquired, err = locker.Acquire(ctx, "reaper", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired, "expired lock is reacquirable")
}

func TestMemoryLocker_CanceledContext(t *testing.T) {
	locker := NewMemoryLocker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := locker.Acquire(ctx, "reaper", time.Minute)
	require.Error(t, err)
	require.Error(t, locker.Release(ctx, "reaper"))
}
