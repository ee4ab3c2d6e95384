package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease is a token-guarded key in Redis. Only the holder of the token can
// release it.
type Lease struct {
	Key       string
	Token     string
	ExpiresAt time.Time
}

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// TryLock acquires key for ttl. ok is false when another holder has it.
func TryLock(ctx context.Context, client redis.Cmdable, key string, ttl time.Duration) (Lease, bool, error) {
	token := uuid.NewString()
	ok, err := client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return Lease{}, false, err
	}
	if !ok {
		return Lease{}, false, nil
	}
	return Lease{Key: key, Token: token, ExpiresAt: time.Now().Add(ttl).UTC()}, true, nil
}

// Release deletes key if it still holds token. released is false when the
// lease expired or belongs to someone else.
func Release(ctx context.Context, client redis.Cmdable, key, token string) (bool, error) {
	n, err := client.Eval(ctx, releaseScript, []string{key}, token).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
