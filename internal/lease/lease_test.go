package lease

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisManager_Exclusive(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	m := NewRedisManager(client, time.Minute, nil)
	id := uuid.New()

	l, err := m.Acquire(ctx, id, "worker-1")
	require.NoError(t, err)
	assert.True(t, mr.Exists(m.Key(id)))

	_, err = m.Acquire(ctx, id, "worker-2")
	assert.ErrorIs(t, err, ErrHeld)

	require.NoError(t, l.Release(ctx))
	require.NoError(t, l.Release(ctx), "second release is a no-op")
	assert.False(t, mr.Exists(m.Key(id)))

	l2, err := m.Acquire(ctx, id, "worker-2")
	require.NoError(t, err)
	require.NoError(t, l2.Release(ctx))
}

func TestRedisManager_ReleaseKeepsForeignKey(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	m := NewRedisManager(client, time.Minute, nil)
	id := uuid.New()

	l, err := m.Acquire(ctx, id, "worker-1")
	require.NoError(t, err)

	// Аренда истекла и досталась другому воркеру.
	require.NoError(t, mr.Set(m.Key(id), "worker-2/token"))

	require.NoError(t, l.Release(ctx))
	got, err := mr.Get(m.Key(id))
	require.NoError(t, err)
	assert.Equal(t, "worker-2/token", got)
}

func TestRedisManager_RenewsAndDetectsLoss(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	ttl := 300 * time.Millisecond
	m := NewRedisManager(client, ttl, nil)
	id := uuid.New()

	l, err := m.Acquire(ctx, id, "worker-1")
	require.NoError(t, err)
	defer l.Release(ctx)

	// После продления TTL снова полный.
	mr.SetTTL(m.Key(id), 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return mr.TTL(m.Key(id)) > 100*time.Millisecond
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case <-l.Lost():
		t.Fatal("lease lost while owned")
	default:
	}

	require.NoError(t, mr.Set(m.Key(id), "intruder"))
	select {
	case <-l.Lost():
	case <-time.After(2 * time.Second):
		t.Fatal("lease loss not detected")
	}
}

func TestLocalManager(t *testing.T) {
	ctx := context.Background()
	m := NewLocalManager()
	id := uuid.New()

	l, err := m.Acquire(ctx, id, "w1")
	require.NoError(t, err)
	assert.True(t, m.IsHeld(id))

	_, err = m.Acquire(ctx, id, "w2")
	assert.ErrorIs(t, err, ErrHeld)

	m.Revoke(id)
	select {
	case <-l.Lost():
	default:
		t.Fatal("revoked lease must report loss")
	}

	l2, err := m.Acquire(ctx, id, "w2")
	require.NoError(t, err)

	// Release старой аренды не трогает новую.
	require.NoError(t, l.Release(ctx))
	assert.True(t, m.IsHeld(id))

	require.NoError(t, l2.Release(ctx))
	assert.False(t, m.IsHeld(id))
}
