package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"subscription-reconciler/internal/domain"
)

// unlockScript deletes the key only when the stored token matches, so a lock
// that expired and was re-acquired elsewhere is never released by the old
// holder.
const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end`

// RunLocker guards a reconciliation run across replicas with a single
// SETNX-style lease.
type RunLocker struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRunLocker(client *redis.Client, key string, ttl time.Duration) *RunLocker {
	return &RunLocker{client: client, key: key, ttl: ttl}
}

// Acquire takes the lease and returns an opaque token for Release. It returns
// domain.ErrLockNotAcquired when another replica holds the lease.
func (l *RunLocker) Acquire(ctx context.Context) (string, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.ErrLockNotAcquired
	}
	return token, nil
}

// Release frees the lease if the token still owns it.
func (l *RunLocker) Release(ctx context.Context, token string) error {
	return l.client.Eval(ctx, unlockScript, []string{l.key}, token).Err()
}
