package maturation

import (
	"context"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/supergidii/Loans/logger"
)

const SweepLockKey = "lock:maturation-sweep"

// Locker guards a sweep. TryLock never waits: a sweep that cannot take the
// lock is skipped.
type Locker interface {
	TryLock(ctx context.Context) (unlock func(), ok bool)
}

// LocalLock serializes sweeps inside one process.
type LocalLock struct {
	mu sync.Mutex
}

func (l *LocalLock) TryLock(context.Context) (func(), bool) {
	if !l.mu.TryLock() {
		return nil, false
	}
	return l.mu.Unlock, true
}

// RedisLock serializes sweeps across instances with a redsync mutex. The
// expiry bounds how long a crashed holder blocks the others.
type RedisLock struct {
	rs     *redsync.Redsync
	key    string
	expiry time.Duration
	log    *zap.Logger
}

func NewRedisLock(client redis.UniversalClient, expiry time.Duration, log *zap.Logger) *RedisLock {
	log = logger.OrNop(log)
	return &RedisLock{
		rs:     redsync.New(goredis.NewPool(client)),
		key:    SweepLockKey,
		expiry: expiry,
		log:    log,
	}
}

func (l *RedisLock) TryLock(ctx context.Context) (func(), bool) {
	mutex := l.rs.NewMutex(l.key,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(1),
	)
	if err := mutex.LockContext(ctx); err != nil {
		// Contention and an unreachable Redis both mean no sweep this tick.
		l.log.Debug("sweep lock not acquired", zap.String("key", l.key), zap.Error(err))
		return nil, false
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if ok, err := mutex.UnlockContext(ctx); !ok || err != nil {
			l.log.Warn("sweep lock release failed", zap.String("key", l.key), zap.Error(err))
		}
	}, true
}
