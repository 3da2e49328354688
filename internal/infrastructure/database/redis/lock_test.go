package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/discovery-engine/internal/application/docking"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

var _ docking.Locker = (*LockFactory)(nil)

func TestLockFactory_AcquireAndRelease(t *testing.T) {
	client, mr := newMiniClient(t)
	locks := NewLockFactory(client, time.Minute, nil)
	ctx := context.Background()

	release, ok, err := locks.TryAcquire(ctx, "docking:s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("test:lock:docking:s1"))
	assert.Equal(t, time.Minute, mr.TTL("test:lock:docking:s1"))

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists("test:lock:docking:s1"))
}

func TestLockFactory_Contention(t *testing.T) {
	client, _ := newMiniClient(t)
	first := NewLockFactory(client, time.Minute, nil)
	second := NewLockFactory(client, time.Minute, nil)
	ctx := context.Background()

	release, ok, err := first.TryAcquire(ctx, "docking:s1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = second.TryAcquire(ctx, "docking:s1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = second.TryAcquire(ctx, "docking:s2")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, release(ctx))
	_, ok, err = second.TryAcquire(ctx, "docking:s1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockFactory_ExpiredLeaseIsNotReleasedByOldHolder(t *testing.T) {
	client, mr := newMiniClient(t)
	locks := NewLockFactory(client, time.Second, nil)
	ctx := context.Background()

	staleRelease, ok, err := locks.TryAcquire(ctx, "docking:s1")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	_, ok, err = locks.TryAcquire(ctx, "docking:s1")
	require.NoError(t, err)
	require.True(t, ok)

	err = staleRelease(ctx)
	assert.ErrorIs(t, err, ErrLockNotHeld)
	assert.True(t, mr.Exists("test:lock:docking:s1"))
}

func TestLockFactory_DefaultTTL(t *testing.T) {
	client, mr := newMiniClient(t)
	locks := NewLockFactory(client, 0, nil)

	_, ok, err := locks.TryAcquire(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, DefaultLockTTL, mr.TTL("test:lock:k"))
}

func TestLockFactory_BackendError(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	client, err := NewClient(Config{Addr: mr.Addr()}, nil)
	require.NoError(t, err)
	defer client.Close()
	mr.Close()

	locks := NewLockFactory(client, time.Minute, nil)
	_, ok, err := locks.TryAcquire(context.Background(), "k")
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, errors.IsCode(err, errors.CodeCacheError))
}
