package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dealmatch/matchengine/pkg/apperrors"
	"github.com/dealmatch/matchengine/pkg/database"
	"github.com/dealmatch/matchengine/pkg/models"
)

// BuyerRepository provides data access for buyers.
type BuyerRepository interface {
	Create(ctx context.Context, buyer *models.Buyer) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Buyer, error)
	Update(ctx context.Context, buyer *models.Buyer) error

	// ListLiveByDomain returns non-archived buyers sharing a normalized
	// domain within a universe scope, in the documented dedup quality order
	// (winner first). A nil universeID selects the global scope.
	ListLiveByDomain(ctx context.Context, universeID *uuid.UUID, normalizedDomain string) ([]*models.Buyer, error)

	// ListActiveForMatching returns the non-archived buyers a deal should be
	// scored against: those in the given universe plus global-scope buyers.
	// A nil universeID selects every scope.
	ListActiveForMatching(ctx context.Context, universeID *uuid.UUID) ([]*models.Buyer, error)

	// ArchiveTx archives a buyer inside a dedup transaction.
	ArchiveTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
}

type buyerRepository struct {
	db *database.DB
}

// NewBuyerRepository creates a new BuyerRepository.
func NewBuyerRepository(db *database.DB) BuyerRepository {
	return &buyerRepository{db: db}
}

var _ BuyerRepository = (*buyerRepository)(nil)

const buyerColumns = `
	id, name, company_website, contact_email, normalized_domain,
	universe_id, thesis, criteria, data_tier,
	archived_at, created_at, updated_at`

func (r *buyerRepository) Create(ctx context.Context, buyer *models.Buyer) error {
	if err := buyer.Criteria.Validate(); err != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidInput, err)
	}

	now := time.Now()
	buyer.CreatedAt = now
	buyer.UpdatedAt = now
	if buyer.ID == uuid.Nil {
		buyer.ID = uuid.New()
	}
	if buyer.DataTier == "" {
		buyer.DataTier = models.DataTierLow
	}

	criteriaJSON, err := json.Marshal(buyer.Criteria)
	if err != nil {
		return fmt.Errorf("failed to marshal buyer criteria: %w", err)
	}

	query := `
		INSERT INTO buyers (
			id, name, company_website, contact_email, normalized_domain,
			universe_id, thesis, criteria, data_tier, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = r.db.Exec(ctx, query,
		buyer.ID, buyer.Name, buyer.CompanyWebsite, buyer.ContactEmail, buyer.NormalizedDomain,
		buyer.UniverseID, buyer.Thesis, criteriaJSON, string(buyer.DataTier),
		buyer.CreatedAt, buyer.UpdatedAt,
	)
	return mapConstraintError(err, "failed to create buyer")
}

func (r *buyerRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Buyer, error) {
	query := `SELECT ` + buyerColumns + ` FROM buyers WHERE id = $1`
	buyer, err := scanBuyer(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("buyer %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get buyer: %w", err)
	}
	return buyer, nil
}

func (r *buyerRepository) Update(ctx context.Context, buyer *models.Buyer) error {
	if err := buyer.Criteria.Validate(); err != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidInput, err)
	}

	buyer.UpdatedAt = time.Now()

	criteriaJSON, err := json.Marshal(buyer.Criteria)
	if err != nil {
		return fmt.Errorf("failed to marshal buyer criteria: %w", err)
	}

	query := `
		UPDATE buyers SET
			name = $2, company_website = $3, contact_email = $4,
			normalized_domain = $5, universe_id = $6, thesis = $7,
			criteria = $8, data_tier = $9, updated_at = $10
		WHERE id = $1 AND archived_at IS NULL`

	tag, err := r.db.Exec(ctx, query,
		buyer.ID, buyer.Name, buyer.CompanyWebsite, buyer.ContactEmail,
		buyer.NormalizedDomain, buyer.UniverseID, buyer.Thesis,
		criteriaJSON, string(buyer.DataTier), buyer.UpdatedAt,
	)
	if err != nil {
		return mapConstraintError(err, "failed to update buyer")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("buyer %s: %w", buyer.ID, apperrors.ErrNotFound)
	}
	return nil
}

func (r *buyerRepository) ListLiveByDomain(ctx context.Context, universeID *uuid.UUID, normalizedDomain string) ([]*models.Buyer, error) {
	// Quality ordering for dedup: thesis present, then data tier, then
	// earliest creation, then smallest id for a stable total order.
	query := `SELECT ` + buyerColumns + `
		FROM buyers
		WHERE normalized_domain = $1
		  AND archived_at IS NULL
		  AND COALESCE(universe_id, '00000000-0000-0000-0000-000000000000'::uuid) =
		      COALESCE($2, '00000000-0000-0000-0000-000000000000'::uuid)
		ORDER BY
			(thesis IS NOT NULL AND thesis <> '') DESC,
			CASE data_tier WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END DESC,
			created_at ASC,
			id ASC`

	rows, err := r.db.Query(ctx, query, normalizedDomain, universeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list buyers by domain: %w", err)
	}
	defer rows.Close()

	return collectBuyers(rows)
}

func (r *buyerRepository) ListActiveForMatching(ctx context.Context, universeID *uuid.UUID) ([]*models.Buyer, error) {
	query := `SELECT ` + buyerColumns + `
		FROM buyers
		WHERE archived_at IS NULL
		  AND ($1::uuid IS NULL OR universe_id IS NULL OR universe_id = $1)
		ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, query, universeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list buyers for matching: %w", err)
	}
	defer rows.Close()

	return collectBuyers(rows)
}

func (r *buyerRepository) ArchiveTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	tag, err := tx.Exec(ctx,
		`UPDATE buyers SET archived_at = now(), updated_at = now() WHERE id = $1 AND archived_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to archive buyer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("buyer %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func collectBuyers(rows pgx.Rows) ([]*models.Buyer, error) {
	var buyers []*models.Buyer
	for rows.Next() {
		buyer, err := scanBuyer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan buyer: %w", err)
		}
		buyers = append(buyers, buyer)
	}
	return buyers, rows.Err()
}

func scanBuyer(row pgx.Row) (*models.Buyer, error) {
	var (
		buyer        models.Buyer
		criteriaJSON []byte
		dataTier     string
	)

	err := row.Scan(
		&buyer.ID, &buyer.Name, &buyer.CompanyWebsite, &buyer.ContactEmail, &buyer.NormalizedDomain,
		&buyer.UniverseID, &buyer.Thesis, &criteriaJSON, &dataTier,
		&buyer.ArchivedAt, &buyer.CreatedAt, &buyer.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	buyer.DataTier = models.DataTier(dataTier)
	if len(criteriaJSON) > 0 {
		if err := json.Unmarshal(criteriaJSON, &buyer.Criteria); err != nil {
			return nil, fmt.Errorf("failed to unmarshal buyer criteria: %w", err)
		}
	}
	return &buyer, nil
}
