// Package lock serialises ledger runs across processes with a Redis lease.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrBusy is returned when another process holds the lock.
var ErrBusy = errors.New("lock: already held")

// DefaultTTL bounds how long a crashed holder blocks others.
const DefaultTTL = 2 * time.Minute

// Locker hands out leases that are refreshed until released.
type Locker struct {
	client *redislock.Client
	ttl    time.Duration
	logger *slog.Logger
}

// New builds a Locker on top of a Redis client.
func New(rdb redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *Locker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Locker{client: redislock.New(rdb), ttl: ttl, logger: logger}
}

// Acquire obtains key without waiting. The returned release stops the
// refresher and frees the key.
func (l *Locker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	lease, err := l.client.Obtain(ctx, key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrBusy, key)
	}
	if err != nil {
		return nil, fmt.Errorf("lock: obtain %s: %w", key, err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(l.ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := lease.Refresh(context.Background(), l.ttl, nil); err != nil {
					l.logger.Warn("lock refresh failed", slog.String("key", key), slog.Any("error", err))
					return
				}
			}
		}
	}()

	return func(ctx context.Context) error {
		close(stop)
		<-done
		if err := lease.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return fmt.Errorf("lock: release %s: %w", key, err)
		}
		return nil
	}, nil
}
