package worker

import (
	"context"
	"time"

	"p402-router/internal/util"

	"go.uber.org/zap"
)

// Locker elects a single replica for periodic jobs
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// runEvery calls fn immediately and then on every tick until ctx is done
func runEvery(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// withLock runs fn only if the lock is free. A nil locker always runs fn.
func withLock(ctx context.Context, locker Locker, key string, ttl time.Duration, fn func(ctx context.Context)) {
	if locker == nil {
		fn(ctx)
		return
	}

	ok, err := locker.AcquireLock(ctx, key, ttl)
	if err != nil {
		util.GetLogger().Warn("Failed to acquire lock", zap.String("lock", key), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	defer func() {
		if err := locker.ReleaseLock(context.Background(), key); err != nil {
			util.GetLogger().Warn("Failed to release lock", zap.String("lock", key), zap.Error(err))
		}
	}()
	fn(ctx)
}
