// Package lock provides short-lived distributed locks so that only one
// worker instance runs a given batch at a time.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Unlock when the lock expired or belongs to
// another holder.
var ErrNotHeld = errors.New("lock not held")

// Locker acquires and releases named locks. TryLock never blocks: ok is
// false when someone else holds the lock.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) error
}

// WithLock runs fn while holding key. It reports false without calling fn
// when the lock is taken.
func WithLock(ctx context.Context, l Locker, key string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error) {
	token, ok, err := l.TryLock(ctx, key, ttl)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	ferr := fn(ctx)
	if uerr := l.Unlock(context.WithoutCancel(ctx), key, token); uerr != nil && !errors.Is(uerr, ErrNotHeld) {
		return true, errors.Join(ferr, uerr)
	}
	return true, ferr
}

// ---------------------------------------------------------------------------
// Redis
// ---------------------------------------------------------------------------

const keyPrefix = "ehr:lock:"

// Deletes the key only if it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX.
type RedisLocker struct {
	client redis.UniversalClient
}

func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, keyPrefix+key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	n, err := unlockScript.Run(ctx, l.client, []string{keyPrefix + key}, token).Int()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Ping is used as a readiness check.
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// ---------------------------------------------------------------------------
// In-process
// ---------------------------------------------------------------------------

type memEntry struct {
	token   string
	expires time.Time
}

// MemoryLocker is a Locker for a single process, used when REDIS_URL is
// unset and in tests.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]memEntry
	now   func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]memEntry), now: time.Now}
}

func (l *MemoryLocker) TryLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if e, ok := l.locks[key]; ok && now.Before(e.expires) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.locks[key] = memEntry{token: token, expires: now.Add(ttl)}
	return token, true, nil
}

func (l *MemoryLocker) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[key]
	if !ok || e.token != token || !l.now().Before(e.expires) {
		return ErrNotHeld
	}
	delete(l.locks, key)
	return nil
}
