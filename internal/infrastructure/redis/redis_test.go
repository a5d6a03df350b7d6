package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewFromClient(client, zap.NewNop()), mr
}

func TestKey(t *testing.T) {
	assert.Equal(t, "flujos:folder:abc:Flujos", Key("folder", "abc", "Flujos"))
}

func TestSetNX_OnlyFirstWins(t *testing.T) {
	rc, mr := newTestClient(t)
	ctx := context.Background()

	ok, err := rc.SetNX(ctx, "k", "1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rc.SetNX(ctx, "k", "2", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(2 * time.Hour)

	ok, err = rc.SetNX(ctx, "k", "3", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLookup(t *testing.T) {
	rc, _ := newTestClient(t)
	ctx := context.Background()

	_, found, err := rc.Lookup(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, rc.Set(ctx, "present", "node-1", 0))
	value, found, err := rc.Lookup(ctx, "present")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "node-1", value)

	require.NoError(t, rc.Del(ctx, "present"))
	exists, err := rc.Exists(ctx, "present")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDelMatching(t *testing.T) {
	rc, mr := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, Key("activity", "req", "1", "ana", "todo"), "1", time.Hour))
	require.NoError(t, rc.Set(ctx, Key("activity", "req", "1", "luis", "todo"), "1", time.Hour))
	require.NoError(t, rc.Set(ctx, Key("activity", "req", "2", "ana", "todo"), "1", time.Hour))

	n, err := rc.DelMatching(ctx, Key("activity", "req", "1", "*"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, mr.Keys(), 1)

	n, err = rc.DelMatching(ctx, Key("nothing", "*"))
	require.NoError(t, err)
	assert.Zero(t, n)
}
