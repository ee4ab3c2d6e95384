package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/52poke/nxcache/internal/cache"
	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*cache.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := cache.NewRedisStore(context.Background(), cache.RedisOptions{Addr: mr.Addr(), PoolSize: 1}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestNewRedisStore_FailsFastWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := cache.NewRedisStore(context.Background(), cache.RedisOptions{Addr: addr, PoolSize: 1}, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}

func TestRedisStore_SetGetExists(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)

	assert.False(t, store.Exists(ctx, "abc"))
	_, err := store.Get(ctx, "abc")
	assert.ErrorIs(t, err, cache.ErrNotFound)

	payload := []byte{0x00, 0xff, 'h', 'i', 0x00}
	require.NoError(t, store.Set(ctx, "abc", payload, 0))

	assert.True(t, store.Exists(ctx, "abc"))
	got, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, time.Duration(0), mr.TTL("blob:abc"), "no ttl should be armed")
}

func TestRedisStore_EmptyValueIsPresent(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t)

	require.NoError(t, store.Set(ctx, "empty", []byte{}, 0))
	assert.True(t, store.Exists(ctx, "empty"))
	got, err := store.Get(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisStore_TTLExpires(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)

	require.NoError(t, store.Set(ctx, "short", []byte("v"), 10*time.Second))
	assert.Equal(t, 10*time.Second, mr.TTL("blob:short"))

	mr.FastForward(11 * time.Second)

	assert.False(t, store.Exists(ctx, "short"))
	_, err := store.Get(ctx, "short")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestRedisStore_SetIfAbsent(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)

	ok, err := store.SetIfAbsent(ctx, "k", []byte("first"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, mr.TTL("blob:k"))

	ok, err = store.SetIfAbsent(ctx, "k", []byte("second"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got)
}

func TestRedisStore_BackendErrors(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)
	mr.SetError("ERR backend unavailable")

	assert.False(t, store.Exists(ctx, "k"), "exists degrades to false")

	_, err := store.Get(ctx, "k")
	require.Error(t, err)
	assert.False(t, errors.Is(err, cache.ErrNotFound))
	var be *cache.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "get", be.Op)
	assert.Equal(t, "k", be.Key)

	err = store.Set(ctx, "k", []byte("v"), 0)
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "set", be.Op)

	_, err = store.SetIfAbsent(ctx, "k", []byte("v"), 0)
	require.ErrorAs(t, err, &be)
}

func TestRedisStore_KeysAreNamespaced(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)

	require.NoError(t, mr.Set("run:build", "lease-token"))
	assert.False(t, store.Exists(ctx, "run:build"))
	_, err := store.Get(ctx, "run:build")
	assert.ErrorIs(t, err, cache.ErrNotFound)

	require.NoError(t, store.Set(ctx, "run:other", []byte("blob"), 0))
	assert.False(t, mr.Exists("run:other"), "blob must not occupy the raw key")
	assert.True(t, mr.Exists("blob:run:other"))
}
