// Package jobs schedules the periodic maintenance passes: zombie recovery
// on the enrichment queue, expired-entry eviction on the response cache,
// and refresh work for deals with stale enrichment.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/dealmatch/matchengine/pkg/cache"
	"github.com/dealmatch/matchengine/pkg/lock"
	"github.com/dealmatch/matchengine/pkg/queue"
)

const (
	zombieSweepLease  = "zombie-sweep"
	cacheSweepLease   = "cache-sweep"
	staleRefreshLease = "stale-refresh"
)

// CronManager owns the scheduled jobs. Each pass takes a Redis lease first
// so only one host runs it; with no Redis configured the leases are no-ops
// and the queue sweep still serializes on its advisory lock.
type CronManager struct {
	cron      *cron.Cron
	locker    *lock.Locker
	sweeper   *queue.Sweeper
	cache     cache.Service
	refresher *Refresher
	logger    *zap.Logger
}

func NewCronManager(locker *lock.Locker, sweeper *queue.Sweeper, cacheSvc cache.Service, refresher *Refresher, logger *zap.Logger) *CronManager {
	return &CronManager{
		cron:      cron.New(),
		locker:    locker,
		sweeper:   sweeper,
		cache:     cacheSvc,
		refresher: refresher,
		logger:    logger.Named("jobs"),
	}
}

// SetupJobs registers the maintenance schedules. A non-positive
// refreshEvery disables the stale-refresh pass.
func (cm *CronManager) SetupJobs(queueSweepEvery, cacheSweepEvery, refreshEvery time.Duration) error {
	_, err := cm.cron.AddFunc(everySpec(queueSweepEvery), func() {
		cm.runLeased(zombieSweepLease, queueSweepEvery, func(ctx context.Context) error {
			recovered, err := cm.sweeper.Sweep(ctx)
			if err != nil {
				return err
			}
			if recovered > 0 {
				cm.logger.Info("recovered zombie items", zap.Int("count", recovered))
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("failed to schedule zombie sweep: %w", err)
	}

	_, err = cm.cron.AddFunc(everySpec(cacheSweepEvery), func() {
		cm.runLeased(cacheSweepLease, cacheSweepEvery, func(ctx context.Context) error {
			evicted, err := cm.cache.Sweep(ctx)
			if err != nil {
				return err
			}
			if evicted > 0 {
				cm.logger.Info("evicted expired cache entries", zap.Int64("count", evicted))
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("failed to schedule cache sweep: %w", err)
	}

	if cm.refresher != nil && refreshEvery > 0 {
		_, err = cm.cron.AddFunc(everySpec(refreshEvery), func() {
			cm.runLeased(staleRefreshLease, refreshEvery, func(ctx context.Context) error {
				queued, err := cm.refresher.Run(ctx)
				if err != nil {
					return err
				}
				if queued > 0 {
					cm.logger.Info("queued stale deals for refresh", zap.Int("count", queued))
				}
				return nil
			})
		})
		if err != nil {
			return fmt.Errorf("failed to schedule stale refresh: %w", err)
		}
	}

	return nil
}

// Start begins running scheduled jobs.
func (cm *CronManager) Start() {
	cm.cron.Start()
}

// Stop stops the scheduler and waits for running jobs to finish.
func (cm *CronManager) Stop() {
	<-cm.cron.Stop().Done()
}

// runLeased executes job under the named lease. The lease TTL matches the
// schedule interval so a crashed holder frees the slot by the next tick.
func (cm *CronManager) runLeased(name string, interval time.Duration, job func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), interval)
	defer cancel()

	lease, err := cm.locker.TryAcquire(ctx, name, interval)
	if err != nil {
		cm.logger.Debug("skipping pass, lease unavailable", zap.String("job", name), zap.Error(err))
		return
	}
	defer func() {
		if err := lease.Release(context.Background()); err != nil {
			cm.logger.Warn("failed to release lease", zap.String("job", name), zap.Error(err))
		}
	}()

	if err := job(ctx); err != nil {
		cm.logger.Error("scheduled pass failed", zap.String("job", name), zap.Error(err))
	}
}

func everySpec(d time.Duration) string {
	return "@every " + d.String()
}
