package run_test

import (
	"context"
	"testing"
	"time"

	"github.com/52poke/nxcache/internal/run"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisTracker(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tracker := run.NewRedisTracker(client, 10*time.Minute, zerolog.Nop())

	lease, err := tracker.Start(ctx, "app:test")
	require.NoError(t, err)
	assert.Equal(t, "app:test", lease.Task)
	assert.True(t, mr.Exists("run:app:test"))

	_, err = tracker.Start(ctx, "app:test")
	assert.ErrorIs(t, err, run.ErrActive)

	other, err := tracker.Start(ctx, "app:lint")
	require.NoError(t, err)
	assert.NotEqual(t, lease.Token, other.Token)

	assert.ErrorIs(t, tracker.Stop(ctx, "app:test", other.Token), run.ErrNotFound)
	require.NoError(t, tracker.Stop(ctx, "app:test", lease.Token))
	assert.ErrorIs(t, tracker.Stop(ctx, "app:test", lease.Token), run.ErrNotFound)

	_, err = tracker.Start(ctx, "app:test")
	assert.NoError(t, err, "task can run again once stopped")
}

func TestRedisTracker_LeaseExpires(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tracker := run.NewRedisTracker(client, time.Minute, zerolog.Nop())
	lease, err := tracker.Start(ctx, "build")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	assert.ErrorIs(t, tracker.Stop(ctx, "build", lease.Token), run.ErrNotFound)
	_, err = tracker.Start(ctx, "build")
	assert.NoError(t, err)
}
