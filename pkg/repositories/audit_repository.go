package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dealmatch/matchengine/pkg/database"
	"github.com/dealmatch/matchengine/pkg/models"
)

// AuditRepository provides append-only access to the enrichment audit trail.
// The engine only writes; reads belong to external reporting.
type AuditRepository interface {
	Record(ctx context.Context, entry *models.AuditEntry) error

	// RecordTx writes an entry inside an existing transaction, used by the
	// dedup enforcer so archive and trail commit together.
	RecordTx(ctx context.Context, tx pgx.Tx, entry *models.AuditEntry) error
}

type auditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *database.DB) AuditRepository {
	return &auditRepository{db: db}
}

var _ AuditRepository = (*auditRepository)(nil)

const auditInsert = `
	INSERT INTO enrichment_audit (
		id, action, entity_type, entity_id,
		fields_attempted, fields_updated, fields_blocked,
		outcome, error, related_id, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

func (r *auditRepository) Record(ctx context.Context, entry *models.AuditEntry) error {
	args, err := auditArgs(entry)
	if err != nil {
		return err
	}
	if _, err := r.db.Exec(ctx, auditInsert, args...); err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

func (r *auditRepository) RecordTx(ctx context.Context, tx pgx.Tx, entry *models.AuditEntry) error {
	args, err := auditArgs(entry)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, auditInsert, args...); err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

func auditArgs(entry *models.AuditEntry) ([]any, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = time.Now()

	attempted, err := marshalStringSlice(entry.FieldsAttempted)
	if err != nil {
		return nil, err
	}
	updated, err := marshalStringSlice(entry.FieldsUpdated)
	if err != nil {
		return nil, err
	}
	blocked, err := marshalStringSlice(entry.FieldsBlocked)
	if err != nil {
		return nil, err
	}

	return []any{
		entry.ID, entry.Action, string(entry.EntityType), entry.EntityID,
		attempted, updated, blocked,
		entry.Outcome, entry.Error, entry.RelatedID, entry.CreatedAt,
	}, nil
}
