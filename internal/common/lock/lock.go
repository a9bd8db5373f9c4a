// Package lock serializes stage transitions per application.
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

// ErrLockBusy is returned when the lock is still held after the wait timeout.
var ErrLockBusy = errors.New("lock is held by another transition")

// Locker hands out exclusive per-key locks. The returned func releases the lock.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a SET NX lock with a TTL so a crashed holder cannot block
// an application forever.
type RedisLocker struct {
	client       redis.UniversalClient
	prefix       string
	ttl          time.Duration
	wait         time.Duration
	pollInterval time.Duration
	onReleaseErr func(key string, err error)
	newToken     func() string
}

type RedisOption func(*RedisLocker)

func WithPollInterval(d time.Duration) RedisOption {
	return func(l *RedisLocker) { l.pollInterval = d }
}

// WithReleaseErrorHandler reports failed releases; the TTL still frees the key.
func WithReleaseErrorHandler(fn func(key string, err error)) RedisOption {
	return func(l *RedisLocker) { l.onReleaseErr = fn }
}

func NewRedisLocker(client redis.UniversalClient, prefix string, ttl, wait time.Duration, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{
		client:       client,
		prefix:       prefix,
		ttl:          ttl,
		wait:         wait,
		pollInterval: 50 * time.Millisecond,
		newToken:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLocker) key(key string) string {
	return fmt.Sprintf("%s:lock:%s", l.prefix, key)
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := l.key(key)
	token := l.newToken()
	deadline := time.Now().Add(l.wait)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", redisKey, err)
		}
		if ok {
			return func() { l.release(redisKey, token) }, nil
		}
		if !time.Now().Before(deadline) {
			return nil, ErrLockBusy
		}

		timer := time.NewTimer(l.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *RedisLocker) release(redisKey, token string) {
	// The caller's context may already be done; release on a fresh one.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil && l.onReleaseErr != nil {
		l.onReleaseErr(redisKey, err)
	}
}

// MemoryLocker is a process-local Locker for single-instance deployments and tests.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
	wait time.Duration
}

func NewMemoryLocker(wait time.Duration) *MemoryLocker {
	return &MemoryLocker{held: map[string]chan struct{}{}, wait: wait}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string) (func(), error) {
	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	for {
		l.mu.Lock()
		ch, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, key)
					l.mu.Unlock()
					close(done)
				})
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-ch:
		case <-timer.C:
			return nil, ErrLockBusy
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
