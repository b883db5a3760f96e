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

// DealRepository provides data access for deals.
type DealRepository interface {
	Create(ctx context.Context, deal *models.Deal) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Deal, error)
	Update(ctx context.Context, deal *models.Deal) error

	// ApplyEnrichment persists enriched fields and stamps enriched_at.
	ApplyEnrichment(ctx context.Context, deal *models.Deal) error

	// UpdateBestScore sets the denormalized composite/tier on the deal row.
	UpdateBestScore(ctx context.Context, id uuid.UUID, composite float64, tier models.ScoreTier) error

	// ListLiveByDomain returns non-deleted deals sharing a normalized domain,
	// in the documented dedup quality order (winner first).
	ListLiveByDomain(ctx context.Context, normalizedDomain string) ([]*models.Deal, error)

	// SoftDelete marks the deal deleted and cascades soft-deletion to its
	// score rows in the same transaction.
	SoftDelete(ctx context.Context, id uuid.UUID) error

	// ListStale returns non-deleted deals never enriched or enriched before
	// the cutoff, used by producers to queue refresh work.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.Deal, error)
}

type dealRepository struct {
	db *database.DB
}

// NewDealRepository creates a new DealRepository.
func NewDealRepository(db *database.DB) DealRepository {
	return &dealRepository{db: db}
}

var _ DealRepository = (*dealRepository)(nil)

const dealColumns = `
	id, name, website, normalized_domain,
	revenue, revenue_confidence, revenue_inferred,
	ebitda, ebitda_confidence, ebitda_inferred,
	industry, locations, employee_count,
	owner_goals, summary, composite_score, tier,
	enriched_at, deleted_at, created_at, updated_at`

func (r *dealRepository) Create(ctx context.Context, deal *models.Deal) error {
	now := time.Now()
	deal.CreatedAt = now
	deal.UpdatedAt = now
	if deal.ID == uuid.Nil {
		deal.ID = uuid.New()
	}

	locationsJSON, err := marshalStringSlice(deal.Locations)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO deals (
			id, name, website, normalized_domain,
			revenue, revenue_confidence, revenue_inferred,
			ebitda, ebitda_confidence, ebitda_inferred,
			industry, locations, employee_count,
			owner_goals, summary,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err = r.db.Exec(ctx, query,
		deal.ID, deal.Name, deal.Website, deal.NormalizedDomain,
		deal.Revenue.Value, nullableConfidence(deal.Revenue.Confidence), deal.Revenue.Inferred,
		deal.EBITDA.Value, nullableConfidence(deal.EBITDA.Confidence), deal.EBITDA.Inferred,
		deal.Industry, locationsJSON, deal.EmployeeCount,
		deal.OwnerGoals, deal.Summary,
		deal.CreatedAt, deal.UpdatedAt,
	)
	return mapConstraintError(err, "failed to create deal")
}

func (r *dealRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals WHERE id = $1`
	deal, err := scanDeal(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("deal %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get deal: %w", err)
	}
	return deal, nil
}

func (r *dealRepository) Update(ctx context.Context, deal *models.Deal) error {
	deal.UpdatedAt = time.Now()

	locationsJSON, err := marshalStringSlice(deal.Locations)
	if err != nil {
		return err
	}

	query := `
		UPDATE deals SET
			name = $2, website = $3, normalized_domain = $4,
			industry = $5, locations = $6, employee_count = $7,
			owner_goals = $8, summary = $9, updated_at = $10
		WHERE id = $1 AND deleted_at IS NULL`

	tag, err := r.db.Exec(ctx, query,
		deal.ID, deal.Name, deal.Website, deal.NormalizedDomain,
		deal.Industry, locationsJSON, deal.EmployeeCount,
		deal.OwnerGoals, deal.Summary, deal.UpdatedAt,
	)
	if err != nil {
		return mapConstraintError(err, "failed to update deal")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deal %s: %w", deal.ID, apperrors.ErrNotFound)
	}
	return nil
}

func (r *dealRepository) ApplyEnrichment(ctx context.Context, deal *models.Deal) error {
	now := time.Now()
	deal.EnrichedAt = &now
	deal.UpdatedAt = now

	query := `
		UPDATE deals SET
			revenue = $2, revenue_confidence = $3, revenue_inferred = $4,
			ebitda = $5, ebitda_confidence = $6, ebitda_inferred = $7,
			industry = $8, employee_count = $9,
			enriched_at = $10, updated_at = $10
		WHERE id = $1 AND deleted_at IS NULL`

	tag, err := r.db.Exec(ctx, query,
		deal.ID,
		deal.Revenue.Value, nullableConfidence(deal.Revenue.Confidence), deal.Revenue.Inferred,
		deal.EBITDA.Value, nullableConfidence(deal.EBITDA.Confidence), deal.EBITDA.Inferred,
		deal.Industry, deal.EmployeeCount, now,
	)
	if err != nil {
		return fmt.Errorf("failed to apply deal enrichment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deal %s: %w", deal.ID, apperrors.ErrNotFound)
	}
	return nil
}

func (r *dealRepository) UpdateBestScore(ctx context.Context, id uuid.UUID, composite float64, tier models.ScoreTier) error {
	query := `
		UPDATE deals SET composite_score = $2, tier = $3, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`

	if _, err := r.db.Exec(ctx, query, id, composite, string(tier)); err != nil {
		return fmt.Errorf("failed to update deal best score: %w", err)
	}
	return nil
}

func (r *dealRepository) ListLiveByDomain(ctx context.Context, normalizedDomain string) ([]*models.Deal, error) {
	// Quality ordering for dedup: summary present first, then earliest
	// creation, then smallest id for a stable total order.
	query := `SELECT ` + dealColumns + `
		FROM deals
		WHERE normalized_domain = $1 AND deleted_at IS NULL
		ORDER BY (summary IS NOT NULL AND summary <> '') DESC, created_at ASC, id ASC`

	rows, err := r.db.Query(ctx, query, normalizedDomain)
	if err != nil {
		return nil, fmt.Errorf("failed to list deals by domain: %w", err)
	}
	defer rows.Close()

	var deals []*models.Deal
	for rows.Next() {
		deal, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deal: %w", err)
		}
		deals = append(deals, deal)
	}
	return deals, rows.Err()
}

func (r *dealRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE deals SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
		if err != nil {
			return fmt.Errorf("failed to soft-delete deal: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("deal %s: %w", id, apperrors.ErrNotFound)
		}

		// Cascade soft-deletion to dependent score rows.
		_, err = tx.Exec(ctx,
			`UPDATE scores SET deleted_at = now(), updated_at = now() WHERE deal_id = $1 AND deleted_at IS NULL`, id)
		if err != nil {
			return fmt.Errorf("failed to soft-delete deal scores: %w", err)
		}
		return nil
	})
}

func (r *dealRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.Deal, error) {
	query := `SELECT ` + dealColumns + `
		FROM deals
		WHERE deleted_at IS NULL AND (enriched_at IS NULL OR enriched_at < $1)
		ORDER BY enriched_at ASC NULLS FIRST
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale deals: %w", err)
	}
	defer rows.Close()

	var deals []*models.Deal
	for rows.Next() {
		deal, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deal: %w", err)
		}
		deals = append(deals, deal)
	}
	return deals, rows.Err()
}

// nullableConfidence maps the zero value to SQL NULL.
func nullableConfidence(c models.Confidence) *string {
	if c == "" {
		return nil
	}
	s := string(c)
	return &s
}

func scanDeal(row pgx.Row) (*models.Deal, error) {
	var (
		deal          models.Deal
		revConf       *string
		ebitdaConf    *string
		locationsJSON []byte
		tier          *string
	)

	err := row.Scan(
		&deal.ID, &deal.Name, &deal.Website, &deal.NormalizedDomain,
		&deal.Revenue.Value, &revConf, &deal.Revenue.Inferred,
		&deal.EBITDA.Value, &ebitdaConf, &deal.EBITDA.Inferred,
		&deal.Industry, &locationsJSON, &deal.EmployeeCount,
		&deal.OwnerGoals, &deal.Summary, &deal.CompositeScore, &tier,
		&deal.EnrichedAt, &deal.DeletedAt, &deal.CreatedAt, &deal.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if revConf != nil {
		deal.Revenue.Confidence = models.Confidence(*revConf)
	}
	if ebitdaConf != nil {
		deal.EBITDA.Confidence = models.Confidence(*ebitdaConf)
	}
	deal.Tier = tier

	locations, err := unmarshalStringSlice(locationsJSON)
	if err != nil {
		return nil, err
	}
	deal.Locations = locations

	return &deal, nil
}
