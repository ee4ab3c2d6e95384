package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// PoolSize bounds the number of concurrent backend commands. 1 serializes
	// every command over a single connection.
	PoolSize int
}

// blobKeyPrefix namespaces cache entries so that other users of the same
// database, such as run leases, never collide with a caller-supplied key.
const blobKeyPrefix = "blob:"

type RedisStore struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisStore connects to Redis and pings it once. There is no retry; a
// failed ping is returned to the caller.
func NewRedisStore(ctx context.Context, opts RedisOptions, logger zerolog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	logger.Info().Str("redis_address", opts.Addr).Int("pool_size", opts.PoolSize).Msg("connected to redis")
	return NewRedisStoreFromClient(client, logger), nil
}

func NewRedisStoreFromClient(client *redis.Client, logger zerolog.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger.With().Str("component", "RedisStore").Logger(),
	}
}

// Client exposes the underlying client for components sharing the connection
// pool.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) Exists(ctx context.Context, key string) bool {
	n, err := s.client.Exists(ctx, blobKey(key)).Result()
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("exists check failed, treating key as absent")
		return false
	}
	return n > 0
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	body, err := s.client.Get(ctx, blobKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, backendErr("get", key, err)
	}
	s.logger.Debug().Str("key", key).Int("size", len(body)).Msg("redis hit")
	return body, nil
}

// Set writes the value and its expiration with a single SET command.
func (s *RedisStore) Set(ctx context.Context, key string, body []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, blobKey(key), body, expiration(ttl)).Err(); err != nil {
		return backendErr("set", key, err)
	}
	return nil
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, key string, body []byte, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, blobKey(key), body, expiration(ttl)).Result()
	if err != nil {
		return false, backendErr("setnx", key, err)
	}
	return ok, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func blobKey(key string) string {
	return blobKeyPrefix + key
}

func expiration(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	return ttl
}
