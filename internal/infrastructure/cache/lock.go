package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the lock only if it still carries our token, so an
// expired lease taken over by another instance is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out short exclusive leases backed by SET NX PX
type Locker struct {
	client *redis.Client
	logger *zap.Logger
}

func NewLocker(client *redis.Client, logger *zap.Logger) *Locker {
	return &Locker{client: client, logger: logger.Named("locker")}
}

// TryLock attempts to take the lease for key. When acquired, the returned
// unlock function releases it.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	lockKey := LockPrefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		l.logger.Error("redis setnx failed",
			zap.String("key", lockKey),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return nil, false, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	unlock := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{lockKey}, token).Err(); err != nil {
			return fmt.Errorf("releasing lock %s: %w", lockKey, err)
		}
		return nil
	}
	return unlock, true, nil
}
