package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gpuindex/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	defaultTTL      = 30 * time.Second
	acquireTimeout  = 5 * time.Second
	renewInterval   = 10 * time.Second
	maxHoldDuration = 10 * time.Minute
	releaseScript   = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`
	renewScript     = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("expire", KEYS[1], ARGV[2]) else return 0 end`
)

// Locker guards periodic work so only one replica runs it at a time
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
	IsHeld() bool
}

// RedisLock is a SET NX lock renewed in the background while held
type RedisLock struct {
	client     *redis.Client
	key        string
	value      string // owner token, only the owner may release or renew
	ttl        time.Duration
	held       bool
	acquiredAt time.Time
	stopRenew  chan struct{}
	stopped    bool
	mu         sync.Mutex
}

// NewRedisLock creates a lock on key. A nil client degrades to a local no-op lock.
func NewRedisLock(client *redis.Client, key string) *RedisLock {
	return &RedisLock{
		client: client,
		key:    key,
		value:  fmt.Sprintf("%s-%s", key, uuid.NewString()),
		ttl:    defaultTTL,
	}
}

// TryLock acquires the lock without waiting for the current holder
func (l *RedisLock) TryLock(ctx context.Context) (bool, error) {
	if l.client == nil {
		logger.Warn("redis client is nil, running lock in single-instance mode")
		l.mu.Lock()
		l.held = true
		l.mu.Unlock()
		return true, nil
	}

	acquireCtx, cancel := context.WithTimeout(ctx, acquireTimeout)
	defer cancel()

	ok, err := l.client.SetNX(acquireCtx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	if !ok {
		logger.DebugCtx(ctx, "lock %s held by another instance", l.key)
		return false, nil
	}

	l.mu.Lock()
	l.held = true
	l.acquiredAt = time.Now()
	// fresh channel per acquisition so TryLock/Unlock can cycle
	l.stopRenew = make(chan struct{})
	l.stopped = false
	stop := l.stopRenew
	l.mu.Unlock()

	go l.renew(ctx, stop)

	logger.DebugCtx(ctx, "lock %s acquired", l.key)
	return true, nil
}

// Unlock releases the lock if this instance still owns it
func (l *RedisLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	if l.stopRenew != nil && !l.stopped {
		l.stopped = true
		close(l.stopRenew)
	}
	if !l.held {
		l.mu.Unlock()
		return nil
	}
	if l.client == nil {
		l.held = false
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	result, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.value).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}

	l.mu.Lock()
	l.held = false
	l.mu.Unlock()

	if result == 0 {
		logger.WarnCtx(ctx, "lock %s was already released or taken over", l.key)
	}
	return nil
}

// IsHeld reports whether this instance believes it holds the lock
func (l *RedisLock) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

func (l *RedisLock) renew(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			held := time.Since(l.acquiredAt)
			l.mu.Unlock()

			if held > maxHoldDuration {
				logger.WarnCtx(ctx, "lock %s held for %.0fs, giving up renewal", l.key, held.Seconds())
				l.markLost()
				return
			}

			result, err := l.client.Eval(ctx, renewScript, []string{l.key}, l.value, int(l.ttl.Seconds())).Int64()
			if err != nil || result == 0 {
				logger.WarnCtx(ctx, "lock %s renewal failed, lock lost: %v", l.key, err)
				l.markLost()
				return
			}
		}
	}
}

// markLost clears the held flag; Unlock still runs from the caller's defer
func (l *RedisLock) markLost() {
	l.mu.Lock()
	l.held = false
	l.mu.Unlock()
}
