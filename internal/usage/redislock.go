// AngelaMos | 2026
// redislock.go

package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL   = 90 * time.Second
	lockPollInterval = 50 * time.Millisecond
	lockKeyPrefix    = "usage:lock:"
)

// releaseScript deletes the lock only while it is still held by the
// caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared across instances. The TTL bounds how long
// a crashed holder can block the user and must exceed the completion
// timeout.
type RedisLocker struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisLocker(client redis.Cmdable, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLocker{client: client, ttl: ttl}
}

func (l *RedisLocker) Lock(ctx context.Context, userID string) (Unlock, error) {
	key := lockKeyPrefix + userID
	token := uuid.New().String()

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Join(ErrLockBusy, ctx.Err())
			}
			return nil, fmt.Errorf("acquire usage lock: %w", err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrLockBusy, ctx.Err())
		case <-ticker.C:
		}
	}

	return l.unlocker(key, token), nil
}

func (l *RedisLocker) TryLock(ctx context.Context, userID string) (Unlock, error) {
	key := lockKeyPrefix + userID
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire usage lock: %w", err)
	}
	if !ok {
		return nil, ErrLockBusy
	}
	return l.unlocker(key, token), nil
}

func (l *RedisLocker) unlocker(key, token string) Unlock {
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("release usage lock: %w", err)
		}
		return nil
	}
}

var _ Locker = (*RedisLocker)(nil)
