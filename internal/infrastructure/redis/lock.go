package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/orderrecon/internal/domain/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// Lua script for safe lock release (only owner can release)
	releaseLockScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)

	// Lua script for lock extension
	extendLockScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// DistributedLock is a SET NX lock owned by a random token.
type DistributedLock struct {
	client   redis.Cmdable
	key      string
	value    string
	ttl      time.Duration
	acquired bool
}

// NewDistributedLock creates a lock on key. Nothing is sent to Redis until Acquire.
func NewDistributedLock(client redis.Cmdable, key string, ttl time.Duration) *DistributedLock {
	return &DistributedLock{
		client: client,
		key:    fmt.Sprintf("lock:%s", key),
		value:  uuid.New().String(),
		ttl:    ttl,
	}
}

// Acquire attempts to acquire the lock once.
func (l *DistributedLock) Acquire(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", domainErrors.ErrLockAcquisitionFailed, err)
	}

	l.acquired = success
	return success, nil
}

// Extend pushes the lock expiry out by ttl if this instance still owns it.
func (l *DistributedLock) Extend(ctx context.Context, ttl time.Duration) error {
	if !l.acquired {
		return domainErrors.ErrLockNotHeld
	}

	result, err := extendLockScript.Run(ctx, l.client, []string{l.key}, l.value, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to extend lock: %w", err)
	}
	if result == 0 {
		return domainErrors.ErrLockNotHeld
	}
	return nil
}

// Release releases the lock if this instance still owns it.
func (l *DistributedLock) Release(ctx context.Context) error {
	if !l.acquired {
		return nil
	}
	l.acquired = false

	result, err := releaseLockScript.Run(ctx, l.client, []string{l.key}, l.value).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if result == 0 {
		return domainErrors.ErrLockNotHeld
	}
	return nil
}

// Locker hands out per-job locks so only one worker instance runs a periodic
// job per tick.
type Locker struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewLocker(client redis.Cmdable, ttl time.Duration) *Locker {
	return &Locker{client: client, ttl: ttl}
}

// Run executes fn while holding the lock for name. ran is false when another
// instance holds the lock.
func (lk *Locker) Run(ctx context.Context, name string, fn func(ctx context.Context) error) (ran bool, err error) {
	lock := NewDistributedLock(lk.client, name, lk.ttl)
	acquired, err := lock.Acquire(ctx)
	if err != nil || !acquired {
		return false, err
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		lk.heartbeat(ctx, lock, done)
	}()
	defer func() {
		close(done)
		wg.Wait()
		// losing ownership at release is not an error for the job
		_ = lock.Release(context.WithoutCancel(ctx))
	}()
	return true, fn(ctx)
}

// heartbeat extends the lock every ttl/2 until done is closed or the lock is lost.
func (lk *Locker) heartbeat(ctx context.Context, lock *DistributedLock, done <-chan struct{}) {
	if lk.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(lk.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lock.Extend(ctx, lk.ttl); err != nil {
				return
			}
		}
	}
}
