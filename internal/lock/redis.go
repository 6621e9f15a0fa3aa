package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if this locker still owns it, so an
// expired lock reacquired by another instance is never released from here.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker on Redis with SET NX and owner tokens.
type RedisLocker struct {
	client *redis.Client
	token  string
}

// NewRedisLocker creates a locker on an existing Redis connection.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{
		client: client,
		token:  uuid.New().String(),
	}
}

// Acquire takes the lock with SET NX. Returns false when another instance
// holds the key.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, key, l.token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring lock %q: %w", key, err)
	}
	return ok, nil
}

// Release frees the lock if this instance still owns it.
func (l *RedisLocker) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, l.client, []string{key}, l.token).Err(); err != nil {
		return fmt.Errorf("releasing lock %q: %w", key, err)
	}
	return nil
}
