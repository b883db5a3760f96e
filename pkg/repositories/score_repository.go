package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dealmatch/matchengine/pkg/apperrors"
	"github.com/dealmatch/matchengine/pkg/database"
	"github.com/dealmatch/matchengine/pkg/models"
)

// ScoreRepository provides data access for deal/buyer fit scores.
type ScoreRepository interface {
	// Upsert writes a score keyed by (deal, buyer, universe). Idempotent:
	// the last writer for a pair overwrites computed fields while operator
	// fields (status, override) are preserved on conflict.
	Upsert(ctx context.Context, score *models.Score) error

	GetByPair(ctx context.Context, dealID, buyerID uuid.UUID, universeID *uuid.UUID) (*models.Score, error)
	ListByDeal(ctx context.Context, dealID uuid.UUID) ([]*models.Score, error)
	ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]*models.Score, error)

	// SetOverride records an operator override without touching the computed
	// composite, so recomputation stays non-destructive.
	SetOverride(ctx context.Context, id uuid.UUID, value *float64, reason *string) error

	SetStatus(ctx context.Context, id uuid.UUID, status models.ScoreStatus) error

	// BestComposite returns the highest live composite for a deal, or ok
	// false when the deal has no live scores.
	BestComposite(ctx context.Context, dealID uuid.UUID) (float64, bool, error)

	// HardDelete removes a score row permanently, writing a deletion audit
	// entry in the same transaction.
	HardDelete(ctx context.Context, id uuid.UUID) error

	// Dedup support: operate on loser scores inside the enforcer's
	// transaction.
	ListByBuyerTx(ctx context.Context, tx pgx.Tx, buyerID uuid.UUID) ([]*models.Score, error)

	// ListPairSlotsTx returns every score row the buyer holds including
	// soft-deleted ones. The pair unique index is not partial, so a dead
	// row still occupies its (deal, universe) slot.
	ListPairSlotsTx(ctx context.Context, tx pgx.Tx, buyerID uuid.UUID) ([]*models.Score, error)
	ReassignBuyerTx(ctx context.Context, tx pgx.Tx, scoreID, winnerID uuid.UUID) error
	SoftDeleteTx(ctx context.Context, tx pgx.Tx, scoreID uuid.UUID) error
}

type scoreRepository struct {
	db *database.DB
}

// NewScoreRepository creates a new ScoreRepository.
func NewScoreRepository(db *database.DB) ScoreRepository {
	return &scoreRepository{db: db}
}

var _ ScoreRepository = (*scoreRepository)(nil)

const scoreColumns = `
	id, deal_id, buyer_id, universe_id,
	geography_score, size_score, service_score, owner_goals_score,
	composite_score, tier, clamped, status, override_score, override_reason,
	deleted_at, created_at, updated_at`

func (r *scoreRepository) Upsert(ctx context.Context, score *models.Score) error {
	now := time.Now()
	if score.ID == uuid.Nil {
		score.ID = uuid.New()
	}
	if score.Status == "" {
		score.Status = models.ScoreStatusPending
	}
	score.CreatedAt = now
	score.UpdatedAt = now

	// Computed columns are overwritten on conflict; operator disposition
	// (status, override) and identity are left alone. A previously
	// soft-deleted row is revived by the recompute.
	query := `
		INSERT INTO scores (
			id, deal_id, buyer_id, universe_id,
			geography_score, size_score, service_score, owner_goals_score,
			composite_score, tier, clamped, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		ON CONFLICT (deal_id, buyer_id, COALESCE(universe_id, '00000000-0000-0000-0000-000000000000'::uuid))
		DO UPDATE SET
			geography_score = EXCLUDED.geography_score,
			size_score = EXCLUDED.size_score,
			service_score = EXCLUDED.service_score,
			owner_goals_score = EXCLUDED.owner_goals_score,
			composite_score = EXCLUDED.composite_score,
			tier = EXCLUDED.tier,
			clamped = EXCLUDED.clamped,
			deleted_at = NULL,
			updated_at = EXCLUDED.updated_at
		RETURNING id, status, created_at`

	err := r.db.QueryRow(ctx, query,
		score.ID, score.DealID, score.BuyerID, score.UniverseID,
		score.GeographyScore, score.SizeScore, score.ServiceScore, score.OwnerGoalsScore,
		score.CompositeScore, string(score.Tier), score.Clamped, string(score.Status), now,
	).Scan(&score.ID, &score.Status, &score.CreatedAt)
	if err != nil {
		return mapConstraintError(err, "failed to upsert score")
	}
	return nil
}

func (r *scoreRepository) GetByPair(ctx context.Context, dealID, buyerID uuid.UUID, universeID *uuid.UUID) (*models.Score, error) {
	query := `SELECT ` + scoreColumns + `
		FROM scores
		WHERE deal_id = $1 AND buyer_id = $2
		  AND COALESCE(universe_id, '00000000-0000-0000-0000-000000000000'::uuid) =
		      COALESCE($3, '00000000-0000-0000-0000-000000000000'::uuid)`

	score, err := scanScore(r.db.QueryRow(ctx, query, dealID, buyerID, universeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("score for deal %s buyer %s: %w", dealID, buyerID, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get score: %w", err)
	}
	return score, nil
}

func (r *scoreRepository) ListByDeal(ctx context.Context, dealID uuid.UUID) ([]*models.Score, error) {
	query := `SELECT ` + scoreColumns + `
		FROM scores
		WHERE deal_id = $1 AND deleted_at IS NULL
		ORDER BY composite_score DESC`

	rows, err := r.db.Query(ctx, query, dealID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scores by deal: %w", err)
	}
	defer rows.Close()

	return collectScores(rows)
}

func (r *scoreRepository) ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]*models.Score, error) {
	query := `SELECT ` + scoreColumns + `
		FROM scores
		WHERE buyer_id = $1 AND deleted_at IS NULL
		ORDER BY composite_score DESC`

	rows, err := r.db.Query(ctx, query, buyerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scores by buyer: %w", err)
	}
	defer rows.Close()

	return collectScores(rows)
}

func (r *scoreRepository) SetOverride(ctx context.Context, id uuid.UUID, value *float64, reason *string) error {
	if value != nil && (*value < 0 || *value > 100) {
		return fmt.Errorf("override %.2f outside [0,100]: %w", *value, apperrors.ErrIntegrity)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE scores SET override_score = $2, override_reason = $3, updated_at = now()
		 WHERE id = $1 AND deleted_at IS NULL`, id, value, reason)
	if err != nil {
		return fmt.Errorf("failed to set score override: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("score %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (r *scoreRepository) SetStatus(ctx context.Context, id uuid.UUID, status models.ScoreStatus) error {
	if !models.IsValidScoreStatus(status) {
		return fmt.Errorf("status %q: %w", status, apperrors.ErrInvalidInput)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE scores SET status = $2, updated_at = now() WHERE id = $1 AND deleted_at IS NULL`,
		id, string(status))
	if err != nil {
		return fmt.Errorf("failed to set score status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("score %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (r *scoreRepository) BestComposite(ctx context.Context, dealID uuid.UUID) (float64, bool, error) {
	var best *float64
	err := r.db.QueryRow(ctx,
		`SELECT MAX(composite_score) FROM scores
		 WHERE deal_id = $1 AND deleted_at IS NULL AND status <> 'hidden'`, dealID).Scan(&best)
	if err != nil {
		return 0, false, fmt.Errorf("failed to get best composite: %w", err)
	}
	if best == nil {
		return 0, false, nil
	}
	return *best, true, nil
}

func (r *scoreRepository) HardDelete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		var (
			dealID  uuid.UUID
			buyerID uuid.UUID
		)
		err := tx.QueryRow(ctx, `SELECT deal_id, buyer_id FROM scores WHERE id = $1`, id).
			Scan(&dealID, &buyerID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("score %s: %w", id, apperrors.ErrNotFound)
			}
			return fmt.Errorf("failed to load score for deletion: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM scores WHERE id = $1`, id); err != nil {
			return fmt.Errorf("failed to hard-delete score: %w", err)
		}

		// Deletion leaves an audit trail in the same transaction.
		outcome := "deleted"
		_, err = tx.Exec(ctx, `
			INSERT INTO enrichment_audit (id, action, entity_type, entity_id, outcome, related_id)
			VALUES ($1, $2, 'deal', $3, $4, $5)`,
			uuid.New(), models.AuditActionScoreDeletion, dealID, outcome, buyerID)
		if err != nil {
			return fmt.Errorf("failed to audit score deletion: %w", err)
		}
		return nil
	})
}

func (r *scoreRepository) ListByBuyerTx(ctx context.Context, tx pgx.Tx, buyerID uuid.UUID) ([]*models.Score, error) {
	query := `SELECT ` + scoreColumns + ` FROM scores WHERE buyer_id = $1 AND deleted_at IS NULL`

	rows, err := tx.Query(ctx, query, buyerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scores by buyer: %w", err)
	}
	defer rows.Close()

	return collectScores(rows)
}

func (r *scoreRepository) ListPairSlotsTx(ctx context.Context, tx pgx.Tx, buyerID uuid.UUID) ([]*models.Score, error) {
	query := `SELECT ` + scoreColumns + ` FROM scores WHERE buyer_id = $1`

	rows, err := tx.Query(ctx, query, buyerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list score slots by buyer: %w", err)
	}
	defer rows.Close()

	return collectScores(rows)
}

func (r *scoreRepository) ReassignBuyerTx(ctx context.Context, tx pgx.Tx, scoreID, winnerID uuid.UUID) error {
	_, err := tx.Exec(ctx,
		`UPDATE scores SET buyer_id = $2, updated_at = now() WHERE id = $1`, scoreID, winnerID)
	return mapConstraintError(err, "failed to reassign score")
}

func (r *scoreRepository) SoftDeleteTx(ctx context.Context, tx pgx.Tx, scoreID uuid.UUID) error {
	_, err := tx.Exec(ctx,
		`UPDATE scores SET deleted_at = now(), updated_at = now() WHERE id = $1`, scoreID)
	if err != nil {
		return fmt.Errorf("failed to soft-delete score: %w", err)
	}
	return nil
}

func collectScores(rows pgx.Rows) ([]*models.Score, error) {
	var scores []*models.Score
	for rows.Next() {
		score, err := scanScore(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}
		scores = append(scores, score)
	}
	return scores, rows.Err()
}

func scanScore(row pgx.Row) (*models.Score, error) {
	var (
		score  models.Score
		tier   string
		status string
	)

	err := row.Scan(
		&score.ID, &score.DealID, &score.BuyerID, &score.UniverseID,
		&score.GeographyScore, &score.SizeScore, &score.ServiceScore, &score.OwnerGoalsScore,
		&score.CompositeScore, &tier, &score.Clamped, &status,
		&score.OverrideScore, &score.OverrideReason,
		&score.DeletedAt, &score.CreatedAt, &score.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	score.Tier = models.ScoreTier(tier)
	score.Status = models.ScoreStatus(status)
	return &score, nil
}
