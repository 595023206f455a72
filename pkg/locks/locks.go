// pkg/locks/locks.go
package locks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld means another provisioning attempt holds the lock for this tenant.
var ErrHeld = errors.New("lock already held")

// Locker serializes provisioning per resolved tenant identifier.
type Locker interface {
	// Acquire takes the lock or returns ErrHeld. The returned release func is
	// safe to call exactly once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

type redisLocker struct {
	cli    *redis.Client
	prefix string
}

func NewRedisLocker(cli *redis.Client) Locker {
	return &redisLocker{cli: cli, prefix: "entrascope:lock:"}
}

// Release only deletes the key when the stored token still matches,
// so an expired-and-reacquired lock is never released by the old holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *redisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	full := l.prefix + key
	ok, err := l.cli.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrHeld
	}
	return func() {
		_, _ = releaseScript.Run(context.Background(), l.cli, []string{full}, token).Result()
	}, nil
}

// memLocker is the single-process fallback used when REDIS_URL is unset.
type memLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryLocker() Locker {
	return &memLocker{held: map[string]struct{}{}}
}

func (l *memLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, ErrHeld
	}
	l.held[key] = struct{}{}
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}
