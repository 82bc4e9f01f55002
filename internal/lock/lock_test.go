package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tse-report-engine/internal/domain"
)

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLocker()

	release, err := l.Acquire(ctx, 1)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, 1)
	assert.True(t, errors.Is(err, ErrLocked))

	other, err := l.Acquire(ctx, 2)
	require.NoError(t, err)
	other()

	release()
	release()
	again, err := l.Acquire(ctx, 1)
	require.NoError(t, err)
	again()
}

func setupRedisLocker(t *testing.T, wait time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	locker := NewRedisLocker(client, domain.LockConfig{
		TTL:   time.Minute,
		Retry: 10 * time.Millisecond,
		Wait:  wait,
	}, logger)
	t.Cleanup(func() { locker.Close() })
	return locker, mr
}

func TestRedisLocker_RejectsConcurrentHolders(t *testing.T) {
	ctx := context.Background()
	locker, mr := setupRedisLocker(t, 0)

	release, err := locker.Acquire(ctx, 7)
	require.NoError(t, err)
	assert.True(t, mr.Exists(Key(7)))

	_, err = locker.Acquire(ctx, 7)
	assert.True(t, errors.Is(err, ErrLocked))

	release()
	assert.False(t, mr.Exists(Key(7)))

	release, err = locker.Acquire(ctx, 7)
	require.NoError(t, err)
	release()
}

func TestRedisLocker_ExpiredLockIsNotReleasedByOldHolder(t *testing.T) {
	ctx := context.Background()
	locker, mr := setupRedisLocker(t, 0)

	stale, err := locker.Acquire(ctx, 3)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	fresh, err := locker.Acquire(ctx, 3)
	require.NoError(t, err)

	stale()
	assert.True(t, mr.Exists(Key(3)), "the new holder keeps its lock")
	fresh()
	assert.False(t, mr.Exists(Key(3)))
}

func TestRedisLocker_WaitsForRelease(t *testing.T) {
	ctx := context.Background()
	locker, _ := setupRedisLocker(t, time.Second)

	release, err := locker.Acquire(ctx, 9)
	require.NoError(t, err)
	go func() {
		time.Sleep(50 * time.Millisecond)
		release()
	}()

	second, err := locker.Acquire(ctx, 9)
	require.NoError(t, err)
	second()
}

func TestNewLocker_DefaultsToLocal(t *testing.T) {
	l, err := NewLocker(domain.LockConfig{}, logrus.New())
	require.NoError(t, err)
	assert.IsType(t, &LocalLocker{}, l)
}
