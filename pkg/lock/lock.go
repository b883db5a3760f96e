// Package lock provides a Redis-backed lease lock for work that must run
// on at most one host at a time, such as the zombie sweep and the cache
// eviction pass.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dealmatch/matchengine/pkg/apperrors"
)

// releaseScript deletes the key only when the caller still owns it, so a
// lease that expired and was re-acquired elsewhere is never clobbered.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Lease is a held lock. Release it when the work completes; an expired
// lease releases itself.
type Lease struct {
	client *redis.Client
	key    string
	token  string
}

// Locker hands out TTL leases keyed by name. A nil Redis client makes
// every acquisition succeed, which is the right behavior for a
// single-host deployment with no Redis configured.
type Locker struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

func NewLocker(client *redis.Client, logger *zap.Logger) *Locker {
	return &Locker{
		client: client,
		prefix: "matchengine:lock:",
		logger: logger.Named("lock"),
	}
}

// TryAcquire attempts to take the named lease without waiting. It returns
// apperrors.ErrLockHeld when another holder owns it.
func (l *Locker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	if l.client == nil {
		return &Lease{}, nil
	}

	key := l.prefix + name
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, apperrors.ErrLockHeld
	}

	l.logger.Debug("acquired lease", zap.String("name", name), zap.Duration("ttl", ttl))
	return &Lease{client: l.client, key: key, token: token}, nil
}

// Release gives up the lease. Releasing a lease that already expired is
// not an error; someone else may hold the key by now and keeps it.
func (le *Lease) Release(ctx context.Context) error {
	if le.client == nil {
		return nil
	}

	if err := releaseScript.Run(ctx, le.client, []string{le.key}, le.token).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", le.key, err)
	}
	return nil
}
