// Package queue implements the durable enrichment work queue: atomic batch
// claiming, completion, retry with a ceiling, cooperative release, and
// zombie recovery.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dealmatch/matchengine/pkg/metrics"
	"github.com/dealmatch/matchengine/pkg/models"
	"github.com/dealmatch/matchengine/pkg/repositories"
)

// DefaultZombieTimeout is how long an item may sit in processing before
// zombie recovery presumes its worker dead.
const DefaultZombieTimeout = 10 * time.Minute

// Service exposes the queue operations to producers and workers.
type Service interface {
	// Enqueue inserts pending work for an entity. Returns (id, true) on
	// insert, (uuid.Nil, false) when an active item already covers the
	// entity (idempotent no-op).
	Enqueue(ctx context.Context, entityType models.QueueEntityType, entityID uuid.UUID, workType models.WorkType, priority int) (uuid.UUID, bool, error)

	// ClaimNext claims the single highest-priority oldest pending item, or
	// returns nil when the queue is empty.
	ClaimNext(ctx context.Context, workType *models.WorkType) (*models.QueueItem, error)

	// ClaimBatch claims up to n items; concurrent callers receive disjoint
	// batches.
	ClaimBatch(ctx context.Context, n int, workType *models.WorkType) ([]*models.QueueItem, error)

	Complete(ctx context.Context, id uuid.UUID, result []byte) error
	Fail(ctx context.Context, id uuid.UUID, cause error, retry bool) error
	Release(ctx context.Context, id uuid.UUID) error

	// ReapZombies resets stuck processing items older than timeout and
	// returns how many it touched. Safe to run repeatedly.
	ReapZombies(ctx context.Context, timeout time.Duration) (int, error)

	// Depth reports item counts by status for observability.
	Depth(ctx context.Context) (map[models.QueueStatus]int, error)
}

type service struct {
	repo    repositories.QueueRepository
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewService creates a new queue service. metrics may be nil in tests.
func NewService(repo repositories.QueueRepository, m *metrics.Metrics, logger *zap.Logger) Service {
	return &service{
		repo:    repo,
		metrics: m,
		logger:  logger.Named("queue"),
	}
}

var _ Service = (*service)(nil)

func (s *service) Enqueue(ctx context.Context, entityType models.QueueEntityType, entityID uuid.UUID, workType models.WorkType, priority int) (uuid.UUID, bool, error) {
	item := &models.QueueItem{
		EntityType: entityType,
		EntityID:   entityID,
		WorkType:   workType,
		Priority:   priority,
	}

	id, inserted, err := s.repo.Enqueue(ctx, item)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("enqueue %s %s: %w", entityType, entityID, err)
	}
	if !inserted {
		s.logger.Debug("enqueue no-op, active item exists",
			zap.String("entity_type", string(entityType)),
			zap.String("entity_id", entityID.String()))
		return uuid.Nil, false, nil
	}

	if s.metrics != nil {
		s.metrics.ItemsEnqueued.Inc()
	}
	s.logger.Info("enqueued item",
		zap.String("id", id.String()),
		zap.String("work_type", string(workType)),
		zap.Int("priority", priority))
	return id, true, nil
}

func (s *service) ClaimNext(ctx context.Context, workType *models.WorkType) (*models.QueueItem, error) {
	items, err := s.ClaimBatch(ctx, 1, workType)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

func (s *service) ClaimBatch(ctx context.Context, n int, workType *models.WorkType) ([]*models.QueueItem, error) {
	items, err := s.repo.ClaimBatch(ctx, n, workType)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	if len(items) > 0 {
		if s.metrics != nil {
			s.metrics.ItemsClaimed.Add(float64(len(items)))
		}
		s.logger.Debug("claimed batch", zap.Int("count", len(items)))
	}
	return items, nil
}

func (s *service) Complete(ctx context.Context, id uuid.UUID, result []byte) error {
	if err := s.repo.Complete(ctx, id, result); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.ItemsCompleted.Inc()
	}
	s.logger.Info("completed item", zap.String("id", id.String()))
	return nil
}

func (s *service) Fail(ctx context.Context, id uuid.UUID, cause error, retry bool) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}

	if err := s.repo.Fail(ctx, id, msg, retry); err != nil {
		return err
	}

	disposition := "terminal"
	if retry {
		// The repository applies the attempt ceiling; below it the item was
		// requeued, at it the item went terminal. Reported per request
		// disposition, which is what the caller controls.
		disposition = "requeued"
	}
	if s.metrics != nil {
		s.metrics.ItemsFailed.WithLabelValues(disposition).Inc()
	}
	s.logger.Warn("failed item",
		zap.String("id", id.String()),
		zap.Bool("retry", retry),
		zap.String("error", msg))
	return nil
}

func (s *service) Release(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Release(ctx, id); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.ItemsReleased.Inc()
	}
	s.logger.Info("released item", zap.String("id", id.String()))
	return nil
}

func (s *service) ReapZombies(ctx context.Context, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		timeout = DefaultZombieTimeout
	}

	ids, err := s.repo.ReapZombies(ctx, timeout)
	if err != nil {
		return 0, fmt.Errorf("reap zombies: %w", err)
	}
	if len(ids) > 0 {
		if s.metrics != nil {
			s.metrics.ZombiesRecovered.Add(float64(len(ids)))
		}
		s.logger.Warn("recovered zombie items",
			zap.Int("count", len(ids)),
			zap.Duration("timeout", timeout))
	}
	return len(ids), nil
}

func (s *service) Depth(ctx context.Context) (map[models.QueueStatus]int, error) {
	depth, err := s.repo.DepthByStatus(ctx)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		for _, status := range []models.QueueStatus{
			models.QueueStatusPending, models.QueueStatusProcessing,
			models.QueueStatusCompleted, models.QueueStatusFailed,
		} {
			s.metrics.QueueDepth.WithLabelValues(string(status)).Set(float64(depth[status]))
		}
	}
	return depth, nil
}
