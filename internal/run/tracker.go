// Package run tracks task runs requested by build clients. A run is a
// time-bounded lease on a task name; while it is held, a second request for
// the same task is refused.
package run

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/52poke/nxcache/internal/lock"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	ErrActive   = errors.New("run already active")
	ErrNotFound = errors.New("run not found")
)

type Lease struct {
	Task      string    `json:"task"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Tracker interface {
	Start(ctx context.Context, task string) (Lease, error)
	Stop(ctx context.Context, task, token string) error
}

type RedisTracker struct {
	client redis.Cmdable
	ttl    time.Duration
	logger zerolog.Logger
}

func NewRedisTracker(client redis.Cmdable, ttl time.Duration, logger zerolog.Logger) *RedisTracker {
	return &RedisTracker{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "RedisTracker").Logger(),
	}
}

func runKey(task string) string {
	return "run:" + task
}

func (t *RedisTracker) Start(ctx context.Context, task string) (Lease, error) {
	l, ok, err := lock.TryLock(ctx, t.client, runKey(task), t.ttl)
	if err != nil {
		return Lease{}, fmt.Errorf("start run %q: %w", task, err)
	}
	if !ok {
		return Lease{}, ErrActive
	}
	t.logger.Debug().Str("task", task).Time("expires_at", l.ExpiresAt).Msg("run started")
	return Lease{Task: task, Token: l.Token, ExpiresAt: l.ExpiresAt}, nil
}

func (t *RedisTracker) Stop(ctx context.Context, task, token string) error {
	released, err := lock.Release(ctx, t.client, runKey(task), token)
	if err != nil {
		return fmt.Errorf("stop run %q: %w", task, err)
	}
	if !released {
		return ErrNotFound
	}
	t.logger.Debug().Str("task", task).Msg("run stopped")
	return nil
}
