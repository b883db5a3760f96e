package queue

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/dealmatch/matchengine/pkg/apperrors"
	"github.com/dealmatch/matchengine/pkg/repositories"
)

// sweepLockName keys the advisory lock that keeps sweep invocations from
// overlapping across processes sharing the database.
const sweepLockName = "enrichment_queue_sweep"

// Sweeper runs the periodic zombie-recovery pass. Only one sweeper may run
// at a time for a given queue; the advisory lock fails fast rather than
// queueing a second invocation behind the first.
type Sweeper struct {
	service Service
	repo    repositories.QueueRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewSweeper creates a zombie-recovery sweeper. A non-positive timeout falls
// back to DefaultZombieTimeout.
func NewSweeper(service Service, repo repositories.QueueRepository, timeout time.Duration, logger *zap.Logger) *Sweeper {
	if timeout <= 0 {
		timeout = DefaultZombieTimeout
	}
	return &Sweeper{
		service: service,
		repo:    repo,
		timeout: timeout,
		logger:  logger.Named("queue-sweeper"),
	}
}

// Sweep runs one zombie-recovery pass under the sweep lock. Returns the
// number of recovered items; returns 0 without error when another sweeper
// holds the lock.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	release, err := s.repo.TrySweepLock(ctx, sweepLockName)
	if err != nil {
		if errors.Is(err, apperrors.ErrLockHeld) {
			s.logger.Debug("sweep already running elsewhere, skipping")
			return 0, nil
		}
		return 0, err
	}
	defer release()

	return s.service.ReapZombies(ctx, s.timeout)
}
