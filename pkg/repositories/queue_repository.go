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

// QueueRepository provides data access for the enrichment work queue.
// Claim semantics follow a select-for-update-skip-locked discipline:
// contending workers receive disjoint batches or empty results, never a
// lock wait.
type QueueRepository interface {
	// Enqueue inserts a pending item unless an active item already exists
	// for the entity, in which case it returns (uuid.Nil, false, nil).
	Enqueue(ctx context.Context, item *models.QueueItem) (uuid.UUID, bool, error)

	// ClaimBatch atomically transitions up to n of the oldest-by-priority
	// pending items to processing and returns them to exactly one caller.
	// A nil workType claims across all work types.
	ClaimBatch(ctx context.Context, n int, workType *models.WorkType) ([]*models.QueueItem, error)

	// Complete transitions processing -> completed, guarding against stale
	// clients whose claim was already reclaimed by zombie recovery.
	Complete(ctx context.Context, id uuid.UUID, result []byte) error

	// Fail either requeues the item (retry, below the attempt ceiling) or
	// marks it terminally failed. The attempt counter is an atomic
	// single-statement increment.
	Fail(ctx context.Context, id uuid.UUID, errMsg string, retry bool) error

	// Release resets processing -> pending for cooperative cancellation.
	// Does not count as an attempt.
	Release(ctx context.Context, id uuid.UUID) error

	// ReapZombies resets items stuck in processing longer than timeout,
	// recording a synthetic timeout error. Items at the attempt ceiling go
	// terminally failed instead of back to pending. Returns the ids of
	// affected items. Idempotent.
	ReapZombies(ctx context.Context, timeout time.Duration) ([]uuid.UUID, error)

	GetByID(ctx context.Context, id uuid.UUID) (*models.QueueItem, error)

	// DepthByStatus returns item counts per status for observability.
	DepthByStatus(ctx context.Context) (map[models.QueueStatus]int, error)

	// TrySweepLock acquires the session-scoped advisory lock for the named
	// logical sweeper role without blocking. The returned release function
	// must be called when the sweep finishes; the lock also dies with the
	// session. Returns apperrors.ErrLockHeld when another holder exists.
	TrySweepLock(ctx context.Context, name string) (func(), error)
}

type queueRepository struct {
	db          *database.DB
	maxAttempts int
}

// NewQueueRepository creates a new QueueRepository. maxAttempts is the
// retry ceiling; values below 1 fall back to models.MaxQueueAttempts.
func NewQueueRepository(db *database.DB, maxAttempts int) QueueRepository {
	if maxAttempts < 1 {
		maxAttempts = models.MaxQueueAttempts
	}
	return &queueRepository{db: db, maxAttempts: maxAttempts}
}

var _ QueueRepository = (*queueRepository)(nil)

const queueColumns = `
	id, entity_type, entity_id, work_type, status, priority,
	attempt_count, last_error, result, queued_at, started_at, completed_at`

func (r *queueRepository) Enqueue(ctx context.Context, item *models.QueueItem) (uuid.UUID, bool, error) {
	if !models.IsValidWorkType(item.WorkType) {
		return uuid.Nil, false, fmt.Errorf("work type %q: %w", item.WorkType, apperrors.ErrInvalidInput)
	}

	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	item.Status = models.QueueStatusPending
	item.QueuedAt = time.Now()

	// The partial unique index over active items makes the insert a no-op
	// when an active item already holds the entity's slot.
	query := `
		INSERT INTO enrichment_queue (id, entity_type, entity_id, work_type, status, priority, queued_at)
		VALUES ($1, $2, $3, $4, 'pending', $5, $6)
		ON CONFLICT (entity_type, entity_id) WHERE status IN ('pending', 'processing')
		DO NOTHING
		RETURNING id`

	var id uuid.UUID
	err := r.db.QueryRow(ctx, query,
		item.ID, string(item.EntityType), item.EntityID, string(item.WorkType),
		item.Priority, item.QueuedAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to enqueue item: %w", err)
	}
	return id, true, nil
}

func (r *queueRepository) ClaimBatch(ctx context.Context, n int, workType *models.WorkType) ([]*models.QueueItem, error) {
	if n <= 0 {
		return nil, nil
	}

	var wt *string
	if workType != nil {
		s := string(*workType)
		wt = &s
	}

	// SKIP LOCKED keeps contending workers from blocking on each other's
	// in-flight claims; each receives disjoint rows or nothing.
	query := `
		WITH next AS (
			SELECT id FROM enrichment_queue
			WHERE status = 'pending' AND ($2::text IS NULL OR work_type = $2)
			ORDER BY priority DESC, queued_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE enrichment_queue q
		SET status = 'processing', started_at = now()
		FROM next
		WHERE q.id = next.id
		RETURNING ` + qualifiedQueueColumns("q")

	rows, err := r.db.Query(ctx, query, n, wt)
	if err != nil {
		return nil, fmt.Errorf("failed to claim batch: %w", err)
	}
	defer rows.Close()

	return collectQueueItems(rows)
}

func (r *queueRepository) Complete(ctx context.Context, id uuid.UUID, result []byte) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE enrichment_queue
		SET status = 'completed', result = $2, completed_at = now()
		WHERE id = $1 AND status = 'processing'`, id, result)
	if err != nil {
		return fmt.Errorf("failed to complete item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already reclaimed, released, or never claimed: a stale client must
		// not overwrite the item's current state.
		return fmt.Errorf("item %s is not processing: %w", id, apperrors.ErrConflict)
	}
	return nil
}

func (r *queueRepository) Fail(ctx context.Context, id uuid.UUID, errMsg string, retry bool) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE enrichment_queue
		SET attempt_count = attempt_count + 1,
		    last_error = $2,
		    status = CASE WHEN $3 AND attempt_count + 1 < $4 THEN 'pending' ELSE 'failed' END,
		    started_at = CASE WHEN $3 AND attempt_count + 1 < $4 THEN NULL ELSE started_at END,
		    completed_at = CASE WHEN $3 AND attempt_count + 1 < $4 THEN NULL ELSE now() END
		WHERE id = $1 AND status = 'processing'`,
		id, errMsg, retry, r.maxAttempts)
	if err != nil {
		return fmt.Errorf("failed to fail item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s is not processing: %w", id, apperrors.ErrConflict)
	}
	return nil
}

func (r *queueRepository) Release(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE enrichment_queue
		SET status = 'pending', started_at = NULL
		WHERE id = $1 AND status = 'processing'`, id)
	if err != nil {
		return fmt.Errorf("failed to release item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s is not processing: %w", id, apperrors.ErrConflict)
	}
	return nil
}

func (r *queueRepository) ReapZombies(ctx context.Context, timeout time.Duration) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE enrichment_queue
		SET attempt_count = attempt_count + 1,
		    last_error = 'processing timeout: reclaimed by zombie recovery',
		    status = CASE WHEN attempt_count + 1 < $2 THEN 'pending' ELSE 'failed' END,
		    started_at = CASE WHEN attempt_count + 1 < $2 THEN NULL ELSE started_at END,
		    completed_at = CASE WHEN attempt_count + 1 < $2 THEN NULL ELSE now() END
		WHERE status = 'processing' AND started_at < now() - make_interval(secs => $1)
		RETURNING id`,
		timeout.Seconds(), r.maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to reap zombies: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan zombie id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *queueRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.QueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM enrichment_queue WHERE id = $1`
	item, err := scanQueueItem(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("queue item %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get queue item: %w", err)
	}
	return item, nil
}

func (r *queueRepository) DepthByStatus(ctx context.Context) (map[models.QueueStatus]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT status, COUNT(*) FROM enrichment_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue depth: %w", err)
	}
	defer rows.Close()

	depth := make(map[models.QueueStatus]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan queue depth: %w", err)
		}
		depth[models.QueueStatus(status)] = count
	}
	return depth, rows.Err()
}

func (r *queueRepository) TrySweepLock(ctx context.Context, name string) (func(), error) {
	// The lock must outlive a single statement, so it is taken on a
	// dedicated connection held until release. pg_try_advisory_lock never
	// blocks; a second holder fails fast.
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection for sweep lock: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, name).Scan(&acquired); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to try sweep lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, fmt.Errorf("sweep lock %q: %w", name, apperrors.ErrLockHeld)
	}

	release := func() {
		// Best effort; the session dying releases the lock regardless.
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock(hashtext($1))`, name)
		conn.Release()
	}
	return release, nil
}

func qualifiedQueueColumns(alias string) string {
	return alias + `.id, ` + alias + `.entity_type, ` + alias + `.entity_id, ` +
		alias + `.work_type, ` + alias + `.status, ` + alias + `.priority, ` +
		alias + `.attempt_count, ` + alias + `.last_error, ` + alias + `.result, ` +
		alias + `.queued_at, ` + alias + `.started_at, ` + alias + `.completed_at`
}

func collectQueueItems(rows pgx.Rows) ([]*models.QueueItem, error) {
	var items []*models.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanQueueItem(row pgx.Row) (*models.QueueItem, error) {
	var (
		item       models.QueueItem
		entityType string
		workType   string
		status     string
	)

	err := row.Scan(
		&item.ID, &entityType, &item.EntityID, &workType, &status, &item.Priority,
		&item.AttemptCount, &item.LastError, &item.Result,
		&item.QueuedAt, &item.StartedAt, &item.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	item.EntityType = models.QueueEntityType(entityType)
	item.WorkType = models.WorkType(workType)
	item.Status = models.QueueStatus(status)
	return &item, nil
}
