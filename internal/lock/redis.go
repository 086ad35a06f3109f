package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// Redis implements Provider with SET NX PX on a shared Redis.
// The TTL is the lease: an abandoned lock disappears once it elapses.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedis returns a Redis-backed provider. A non-positive ttl uses DefaultTTL.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

// TryAcquire attempts to obtain the lock without waiting.
func (r *Redis) TryAcquire(ctx context.Context, key string) (Token, bool, error) {
	token := Token(uuid.NewString())
	ok, err := r.client.SetNX(ctx, key, string(token), r.ttl).Result()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", false, fmt.Errorf("setnx %s: %w", key, ctxErr)
		}
		return "", false, fmt.Errorf("%w: setnx %s: %w", ErrUnavailable, key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release deletes key only if it still stores token.
func (r *Redis) Release(ctx context.Context, key string, token Token) error {
	if token == "" {
		return nil
	}
	err := releaseScript.Run(ctx, r.client, []string{key}, string(token)).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: release %s: %w", ErrUnavailable, key, err)
	}
	return nil
}
