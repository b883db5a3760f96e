package scoring

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dealmatch/matchengine/pkg/apperrors"
	"github.com/dealmatch/matchengine/pkg/metrics"
	"github.com/dealmatch/matchengine/pkg/models"
	"github.com/dealmatch/matchengine/pkg/repositories"
)

// Service persists engine results. Recomputation runs whenever enrichment
// changes a deal or buyer, not on a timer; writes are idempotent upserts so
// concurrent recomputes are safe.
type Service interface {
	// ComputeScore scores one (deal, buyer) pair and upserts the result.
	ComputeScore(ctx context.Context, dealID, buyerID uuid.UUID, universeID *uuid.UUID) (*models.Score, error)

	// RecomputeDeal rescores a deal against every live buyer in scope and
	// refreshes the deal's denormalized best score. Returns the number of
	// pairs written.
	RecomputeDeal(ctx context.Context, dealID uuid.UUID) (int, error)

	// RecomputeBuyer rescores every live deal paired with the buyer after
	// the buyer's criteria change.
	RecomputeBuyer(ctx context.Context, buyerID uuid.UUID) (int, error)
}

type service struct {
	engine  *Engine
	deals   repositories.DealRepository
	buyers  repositories.BuyerRepository
	scores  repositories.ScoreRepository
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewService creates a scoring service. metrics may be nil in tests.
func NewService(
	engine *Engine,
	deals repositories.DealRepository,
	buyers repositories.BuyerRepository,
	scores repositories.ScoreRepository,
	m *metrics.Metrics,
	logger *zap.Logger,
) Service {
	return &service{
		engine:  engine,
		deals:   deals,
		buyers:  buyers,
		scores:  scores,
		metrics: m,
		logger:  logger.Named("scoring-service"),
	}
}

var _ Service = (*service)(nil)

func (s *service) ComputeScore(ctx context.Context, dealID, buyerID uuid.UUID, universeID *uuid.UUID) (*models.Score, error) {
	deal, err := s.deals.GetByID(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if deal.Deleted() {
		return nil, fmt.Errorf("deal %s is deleted: %w", dealID, apperrors.ErrInvalidInput)
	}

	buyer, err := s.buyers.GetByID(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	if buyer.Archived() {
		return nil, fmt.Errorf("buyer %s is archived: %w", buyerID, apperrors.ErrInvalidInput)
	}

	score, err := s.scorePair(ctx, deal, buyer, universeID)
	if err != nil {
		return nil, err
	}

	if err := s.refreshDealBest(ctx, dealID); err != nil {
		return nil, err
	}
	return score, nil
}

func (s *service) RecomputeDeal(ctx context.Context, dealID uuid.UUID) (int, error) {
	deal, err := s.deals.GetByID(ctx, dealID)
	if err != nil {
		return 0, err
	}
	if deal.Deleted() {
		return 0, fmt.Errorf("deal %s is deleted: %w", dealID, apperrors.ErrInvalidInput)
	}

	buyers, err := s.buyers.ListActiveForMatching(ctx, nil)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, buyer := range buyers {
		if _, err := s.scorePair(ctx, deal, buyer, buyer.UniverseID); err != nil {
			return written, err
		}
		written++
	}

	if written > 0 {
		if err := s.refreshDealBest(ctx, dealID); err != nil {
			return written, err
		}
	}

	s.logger.Info("recomputed deal scores",
		zap.String("deal_id", dealID.String()),
		zap.Int("pairs", written))
	return written, nil
}

func (s *service) RecomputeBuyer(ctx context.Context, buyerID uuid.UUID) (int, error) {
	buyer, err := s.buyers.GetByID(ctx, buyerID)
	if err != nil {
		return 0, err
	}
	if buyer.Archived() {
		return 0, fmt.Errorf("buyer %s is archived: %w", buyerID, apperrors.ErrInvalidInput)
	}

	existing, err := s.scores.ListByBuyer(ctx, buyerID)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, prior := range existing {
		deal, err := s.deals.GetByID(ctx, prior.DealID)
		if err != nil {
			return written, err
		}
		if deal.Deleted() {
			continue
		}
		if _, err := s.scorePair(ctx, deal, buyer, prior.UniverseID); err != nil {
			return written, err
		}
		if err := s.refreshDealBest(ctx, deal.ID); err != nil {
			return written, err
		}
		written++
	}

	s.logger.Info("recomputed buyer scores",
		zap.String("buyer_id", buyerID.String()),
		zap.Int("pairs", written))
	return written, nil
}

func (s *service) scorePair(ctx context.Context, deal *models.Deal, buyer *models.Buyer, universeID *uuid.UUID) (*models.Score, error) {
	result, err := s.engine.Score(ctx, deal, buyer)
	if err != nil {
		return nil, fmt.Errorf("score deal %s buyer %s: %w", deal.ID, buyer.ID, err)
	}

	score := &models.Score{
		DealID:          deal.ID,
		BuyerID:         buyer.ID,
		UniverseID:      universeID,
		GeographyScore:  result.Geography,
		SizeScore:       result.Size,
		ServiceScore:    result.Service,
		OwnerGoalsScore: result.OwnerGoals,
		CompositeScore:  result.Composite,
		Tier:            result.Tier,
		Clamped:         result.Clamped,
	}
	if err := s.scores.Upsert(ctx, score); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ScoresComputed.Inc()
		if result.Clamped {
			s.metrics.ScoresClamped.Inc()
		}
	}
	return score, nil
}

func (s *service) refreshDealBest(ctx context.Context, dealID uuid.UUID) error {
	best, ok, err := s.scores.BestComposite(ctx, dealID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return s.deals.UpdateBestScore(ctx, dealID, best, models.TierForComposite(best))
}
