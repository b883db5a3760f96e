package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dealmatch/matchengine/pkg/models"
)

// staleLister is the slice of the deal repository the refresher needs.
type staleLister interface {
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.Deal, error)
}

// enqueuer is the slice of the queue service the refresher needs.
type enqueuer interface {
	Enqueue(ctx context.Context, entityType models.QueueEntityType, entityID uuid.UUID, workType models.WorkType, priority int) (uuid.UUID, bool, error)
}

// Refresher queues enrichment work for deals whose data has gone stale.
// The queue's one-active-item-per-entity rule makes re-runs idempotent: a
// deal already queued or in flight is skipped, not duplicated.
type Refresher struct {
	deals      staleLister
	queue      enqueuer
	staleAfter time.Duration
	batchSize  int
	logger     *zap.Logger
}

func NewRefresher(deals staleLister, queue enqueuer, staleAfter time.Duration, batchSize int, logger *zap.Logger) *Refresher {
	if batchSize < 1 {
		batchSize = 100
	}
	return &Refresher{
		deals:      deals,
		queue:      queue,
		staleAfter: staleAfter,
		batchSize:  batchSize,
		logger:     logger.Named("refresh"),
	}
}

// Run performs one refresh pass and returns how many items it queued.
func (r *Refresher) Run(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-r.staleAfter)
	stale, err := r.deals.ListStale(ctx, cutoff, r.batchSize)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, deal := range stale {
		_, inserted, err := r.queue.Enqueue(ctx, models.QueueEntityTypeDeal, deal.ID, models.WorkTypeDealEnrichment, 0)
		if err != nil {
			return queued, err
		}
		if inserted {
			queued++
		}
	}
	return queued, nil
}
