package lock

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// Leaser grants short exclusive leases. ok is false when another holder has it.
type Leaser interface {
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

// LocalLeaser always grants the lease. Used when a single instance runs.
type LocalLeaser struct{}

func (LocalLeaser) TryAcquire(context.Context, string, time.Duration) (func(), bool, error) {
	return func() {}, true, nil
}

// RedisLeaser coordinates leases across instances through redsync.
type RedisLeaser struct {
	rs     *redsync.Redsync
	prefix string
}

func NewRedisLeaser(client *redis.Client, prefix string) *RedisLeaser {
	return &RedisLeaser{
		rs:     redsync.New(goredis.NewPool(client)),
		prefix: prefix,
	}
}

func (l *RedisLeaser) TryAcquire(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	mutex := l.rs.NewMutex(l.prefix+name,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
		redsync.WithDriftFactor(0.01),
	)
	if err := mutex.TryLockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return func() {
		if _, err := mutex.UnlockContext(context.Background()); err != nil {
			log.Printf("lease release failed name=%s error=%v", name, err)
		}
	}, true, nil
}
