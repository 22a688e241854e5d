package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/iho/settlement/internal/usecase"
)

// releaseIfOwner deletes the lock only while it still holds our token.
var releaseIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker implements usecase.Locker using Redis SETNX + TTL.
type Locker struct {
	client *redis.Client
	prefix string
}

// NewLocker creates a new Locker.
func NewLocker(client *redis.Client) *Locker {
	return &Locker{
		client: client,
		prefix: "lock:",
	}
}

// Acquire tries to own name for ttl.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (usecase.Lock, bool, error) {
	key := l.prefix + name
	owner := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("setnx %s: %w", key, err)
	}

	if !ok {
		return nil, false, nil
	}

	return &redisLock{client: l.client, key: key, owner: owner}, true, nil
}

type redisLock struct {
	client *redis.Client
	key    string
	owner  string
}

// Release frees the lock if it was not taken over after expiring.
func (l *redisLock) Release(ctx context.Context) error {
	if err := releaseIfOwner.Run(ctx, l.client, []string{l.key}, l.owner).Err(); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}

	return nil
}
