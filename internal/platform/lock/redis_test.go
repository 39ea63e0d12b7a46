package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, time.Minute, nil), mr
}

func TestAcquireIsExclusive(t *testing.T) {
	locker, mr := newLocker(t)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "ledger:run:lock")
	require.NoError(t, err)
	require.True(t, mr.Exists("ledger:run:lock"))

	_, err = locker.Acquire(ctx, "ledger:run:lock")
	require.ErrorIs(t, err, ErrBusy)

	require.NoError(t, release(ctx))
	require.False(t, mr.Exists("ledger:run:lock"))

	again, err := locker.Acquire(ctx, "ledger:run:lock")
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestReleaseAfterExpiryIsQuiet(t *testing.T) {
	locker, mr := newLocker(t)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "ledger:report:2018-01-01")
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	require.NoError(t, release(ctx))
}

func TestDistinctKeysDoNotBlock(t *testing.T) {
	locker, _ := newLocker(t)
	ctx := context.Background()

	a, err := locker.Acquire(ctx, "ledger:report:2018-01-01")
	require.NoError(t, err)
	b, err := locker.Acquire(ctx, "ledger:report:2018-02-01")
	require.NoError(t, err)
	require.NoError(t, a(ctx))
	require.NoError(t, b(ctx))
}
