package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dealmatch/matchengine/pkg/apperrors"
	"github.com/dealmatch/matchengine/pkg/dedup"
	"github.com/dealmatch/matchengine/pkg/models"
	"github.com/dealmatch/matchengine/pkg/queue"
	"github.com/dealmatch/matchengine/pkg/repositories"
	"github.com/dealmatch/matchengine/pkg/retry"
	"github.com/dealmatch/matchengine/pkg/scoring"
)

// DedupEnforcer resolves domain collisions after enrichment assigns a
// normalized domain.
type DedupEnforcer interface {
	EnforceDeals(ctx context.Context, normalizedDomain string) (*dedup.Outcome, error)
	EnforceBuyers(ctx context.Context, universeID *uuid.UUID, normalizedDomain string) (*dedup.Outcome, error)
}

// WorkerConfig tunes the claim/process loop.
type WorkerConfig struct {
	// Concurrency bounds simultaneous item processing within one batch.
	Concurrency int
	// BatchSize is how many items one claim pulls.
	BatchSize int
	// PollInterval is the sleep between polls when the queue is empty.
	PollInterval time.Duration
	// LookupRetry wraps each provider call; the queue's own retry ceiling
	// still governs cross-attempt behavior.
	LookupRetry *retry.Config
}

// DefaultWorkerConfig returns the stock worker tuning.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Concurrency:  4,
		BatchSize:    8,
		PollInterval: 5 * time.Second,
		LookupRetry:  retry.DefaultConfig(),
	}
}

// Worker drains the enrichment queue: claim a batch, research each entity,
// merge the findings, run dedup when a domain lands, rescore, and report
// the outcome back to the queue. On shutdown, claimed-but-unprocessed items
// are released so another worker can pick them up without waiting for
// zombie recovery.
type Worker struct {
	cfg      WorkerConfig
	queue    queue.Service
	deals    repositories.DealRepository
	buyers   repositories.BuyerRepository
	lookup   Lookup
	enforcer DedupEnforcer
	scoring  scoring.Service
	audits   repositories.AuditRepository
	logger   *zap.Logger
}

// NewWorker wires a worker from its collaborators.
func NewWorker(
	cfg WorkerConfig,
	q queue.Service,
	deals repositories.DealRepository,
	buyers repositories.BuyerRepository,
	lookup Lookup,
	enforcer DedupEnforcer,
	scores scoring.Service,
	audits repositories.AuditRepository,
	logger *zap.Logger,
) *Worker {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Worker{
		cfg:      cfg,
		queue:    q,
		deals:    deals,
		buyers:   buyers,
		lookup:   lookup,
		enforcer: enforcer,
		scoring:  scores,
		audits:   audits,
		logger:   logger.Named("enrichment-worker"),
	}
}

// Run polls until ctx is cancelled. It returns nil on clean shutdown.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker starting",
		zap.Int("concurrency", w.cfg.Concurrency),
		zap.Int("batch_size", w.cfg.BatchSize))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return nil
		default:
		}

		items, err := w.queue.ClaimBatch(ctx, w.cfg.BatchSize, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("claim failed", zap.Error(err))
			if !w.sleep(ctx, w.cfg.PollInterval) {
				return nil
			}
			continue
		}

		if len(items) == 0 {
			if !w.sleep(ctx, w.cfg.PollInterval) {
				return nil
			}
			continue
		}

		w.processBatch(ctx, items)
	}
}

// processBatch runs items with bounded parallelism. Items the context
// cancels out of before they start are released back to pending.
func (w *Worker) processBatch(ctx context.Context, items []*models.QueueItem) {
	sem := make(chan struct{}, w.cfg.Concurrency)
	var wg sync.WaitGroup

	for _, item := range items {
		wg.Add(1)
		go func(item *models.QueueItem) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				w.release(item)
				return
			}
			if ctx.Err() != nil {
				w.release(item)
				return
			}

			w.processItem(ctx, item)
		}(item)
	}
	wg.Wait()
}

// release hands a claimed item back without burning an attempt. Shutdown
// has already cancelled ctx, so this uses its own deadline.
func (w *Worker) release(item *models.QueueItem) {
	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := w.queue.Release(releaseCtx, item.ID); err != nil {
		w.logger.Warn("release failed, zombie recovery will reclaim it",
			zap.String("item_id", item.ID.String()),
			zap.Error(err))
	}
}

func (w *Worker) processItem(ctx context.Context, item *models.QueueItem) {
	logger := w.logger.With(
		zap.String("item_id", item.ID.String()),
		zap.String("entity_type", string(item.EntityType)),
		zap.String("entity_id", item.EntityID.String()),
		zap.String("work_type", string(item.WorkType)))

	result, err := w.handle(ctx, item)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown interrupted the attempt; hand the claim back instead
			// of burning an attempt on a cancellation error.
			logger.Info("shutdown interrupted item, releasing")
			w.release(item)
			return
		}
		retryable := apperrors.IsTransient(err)
		logger.Warn("item failed", zap.Bool("retryable", retryable), zap.Error(err))
		if failErr := w.queue.Fail(ctx, item.ID, err, retryable); failErr != nil {
			logger.Error("could not record failure", zap.Error(failErr))
		}
		return
	}

	if err := w.queue.Complete(ctx, item.ID, result); err != nil {
		// Usually a zombie reap won the race; the attempt's writes are
		// idempotent, so losing the completion is harmless.
		logger.Warn("could not complete item", zap.Error(err))
		return
	}
	logger.Info("item completed")
}

func (w *Worker) handle(ctx context.Context, item *models.QueueItem) ([]byte, error) {
	switch item.EntityType {
	case models.QueueEntityTypeDeal:
		return w.handleDeal(ctx, item)
	case models.QueueEntityTypeBuyer:
		return w.handleBuyer(ctx, item)
	default:
		return nil, apperrors.AsPermanent(fmt.Errorf("unknown entity type %q", item.EntityType))
	}
}

func (w *Worker) handleDeal(ctx context.Context, item *models.QueueItem) ([]byte, error) {
	deal, err := w.deals.GetByID(ctx, item.EntityID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.AsPermanent(err)
		}
		return nil, apperrors.AsTransient(err)
	}
	if deal.Deleted() {
		return nil, apperrors.AsPermanent(fmt.Errorf("deal %s is deleted", deal.ID))
	}

	if item.WorkType == models.WorkTypeScoringRecompute {
		if _, err := w.scoring.RecomputeDeal(ctx, deal.ID); err != nil {
			return nil, apperrors.AsTransient(err)
		}
		return nil, nil
	}

	result, err := w.doLookup(ctx, LookupRequest{
		EntityType: item.EntityType,
		Name:       deal.Name,
		Website:    deref(deal.Website),
		WorkType:   item.WorkType,
	})
	if err != nil {
		w.recordFailedLookup(ctx, item, err)
		return nil, err
	}

	report := ApplyToDeal(deal, result)
	if report.Changed() {
		if err := w.deals.ApplyEnrichment(ctx, deal); err != nil {
			return nil, apperrors.AsTransient(err)
		}
	}
	w.recordApply(ctx, item, report)

	survived := true
	if report.DomainChanged && deal.NormalizedDomain != nil {
		outcome, err := w.enforcer.EnforceDeals(ctx, *deal.NormalizedDomain)
		if err != nil {
			return nil, apperrors.AsTransient(err)
		}
		survived = outcome == nil || outcome.WinnerID == deal.ID
	}

	if survived && report.Changed() {
		if _, err := w.scoring.RecomputeDeal(ctx, deal.ID); err != nil {
			return nil, apperrors.AsTransient(err)
		}
	}
	return marshalReport(report)
}

func (w *Worker) handleBuyer(ctx context.Context, item *models.QueueItem) ([]byte, error) {
	buyer, err := w.buyers.GetByID(ctx, item.EntityID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.AsPermanent(err)
		}
		return nil, apperrors.AsTransient(err)
	}
	if buyer.Archived() {
		return nil, apperrors.AsPermanent(fmt.Errorf("buyer %s is archived", buyer.ID))
	}

	if item.WorkType == models.WorkTypeScoringRecompute {
		if _, err := w.scoring.RecomputeBuyer(ctx, buyer.ID); err != nil {
			return nil, apperrors.AsTransient(err)
		}
		return nil, nil
	}

	result, err := w.doLookup(ctx, LookupRequest{
		EntityType: item.EntityType,
		Name:       buyer.Name,
		Website:    deref(buyer.CompanyWebsite),
		WorkType:   item.WorkType,
	})
	if err != nil {
		w.recordFailedLookup(ctx, item, err)
		return nil, err
	}

	report := ApplyToBuyer(buyer, result)
	if report.Changed() {
		if err := w.buyers.Update(ctx, buyer); err != nil {
			return nil, apperrors.AsTransient(err)
		}
	}
	w.recordApply(ctx, item, report)

	survived := true
	if report.DomainChanged && buyer.NormalizedDomain != nil {
		outcome, err := w.enforcer.EnforceBuyers(ctx, buyer.UniverseID, *buyer.NormalizedDomain)
		if err != nil {
			return nil, apperrors.AsTransient(err)
		}
		survived = outcome == nil || outcome.WinnerID == buyer.ID
	}

	if survived && report.Changed() {
		if _, err := w.scoring.RecomputeBuyer(ctx, buyer.ID); err != nil {
			return nil, apperrors.AsTransient(err)
		}
	}
	return marshalReport(report)
}

func (w *Worker) doLookup(ctx context.Context, req LookupRequest) (*LookupResult, error) {
	// Permanent provider errors (bad credentials, malformed request) return
	// immediately; only transient failures earn in-attempt retries.
	return retry.DoWithResultIfRetryable(ctx, w.cfg.LookupRetry, func() (*LookupResult, error) {
		return w.lookup.Enrich(ctx, req)
	})
}

func (w *Worker) recordApply(ctx context.Context, item *models.QueueItem, report *ApplyReport) {
	entry := &models.AuditEntry{
		Action:          models.AuditActionEnrichment,
		EntityType:      item.EntityType,
		EntityID:        item.EntityID,
		FieldsAttempted: report.Attempted,
		FieldsUpdated:   report.Updated,
		FieldsBlocked:   report.Blocked,
		Outcome:         "applied",
	}
	if !report.Changed() {
		entry.Outcome = "no_change"
	}
	if err := w.audits.Record(ctx, entry); err != nil {
		w.logger.Warn("audit write failed", zap.Error(err))
	}
}

func (w *Worker) recordFailedLookup(ctx context.Context, item *models.QueueItem, cause error) {
	msg := cause.Error()
	entry := &models.AuditEntry{
		Action:     models.AuditActionEnrichment,
		EntityType: item.EntityType,
		EntityID:   item.EntityID,
		Outcome:    "lookup_failed",
		Error:      &msg,
	}
	if err := w.audits.Record(ctx, entry); err != nil {
		w.logger.Warn("audit write failed", zap.Error(err))
	}
}

// sleep waits for d or until ctx is done. Returns false on cancellation.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func marshalReport(report *ApplyReport) ([]byte, error) {
	payload, err := json.Marshal(map[string]any{
		"fields_attempted": report.Attempted,
		"fields_updated":   report.Updated,
		"fields_blocked":   report.Blocked,
	})
	if err != nil {
		return nil, apperrors.AsPermanent(err)
	}
	return payload, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
