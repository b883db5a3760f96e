//go:build integration

package repositories

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealmatch/matchengine/pkg/models"
	"github.com/dealmatch/matchengine/pkg/testhelpers"
)

func setupQueueTest(t *testing.T) (QueueRepository, context.Context) {
	t.Helper()
	db := testhelpers.GetTestDB(t)
	ctx := context.Background()
	// Each test starts from an empty queue.
	_, err := db.DB.Exec(ctx, `DELETE FROM enrichment_queue`)
	require.NoError(t, err)
	return NewQueueRepository(db.DB, models.MaxQueueAttempts), ctx
}

func enqueueN(t *testing.T, repo QueueRepository, ctx context.Context, n int) []uuid.UUID {
	t.Helper()
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		id, inserted, err := repo.Enqueue(ctx, &models.QueueItem{
			EntityType: models.QueueEntityTypeDeal,
			EntityID:   uuid.New(),
			WorkType:   models.WorkTypeDealEnrichment,
		})
		require.NoError(t, err)
		require.True(t, inserted)
		ids = append(ids, id)
	}
	return ids
}

func TestQueueRepository_ConcurrentClaimsAreDisjoint(t *testing.T) {
	repo, ctx := setupQueueTest(t)
	enqueueN(t, repo, ctx, 8)

	var wg sync.WaitGroup
	batches := make([][]*models.QueueItem, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			items, err := repo.ClaimBatch(ctx, 5, nil)
			assert.NoError(t, err)
			batches[i] = items
		}(i)
	}
	wg.Wait()

	seen := map[uuid.UUID]bool{}
	total := 0
	for _, batch := range batches {
		for _, item := range batch {
			assert.False(t, seen[item.ID], "item %s claimed twice", item.ID)
			seen[item.ID] = true
			assert.Equal(t, models.QueueStatusProcessing, item.Status)
			total++
		}
	}
	assert.Equal(t, 8, total)
}

func TestQueueRepository_OneActiveItemPerEntity(t *testing.T) {
	repo, ctx := setupQueueTest(t)
	entityID := uuid.New()

	item := &models.QueueItem{
		EntityType: models.QueueEntityTypeDeal,
		EntityID:   entityID,
		WorkType:   models.WorkTypeDealEnrichment,
	}
	id, inserted, err := repo.Enqueue(ctx, item)
	require.NoError(t, err)
	require.True(t, inserted)

	// Second enqueue while the first is pending is a no-op.
	_, inserted, err = repo.Enqueue(ctx, item)
	require.NoError(t, err)
	assert.False(t, inserted)

	// Still blocked while processing.
	claimed, err := repo.ClaimBatch(ctx, 1, nil)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	_, inserted, err = repo.Enqueue(ctx, item)
	require.NoError(t, err)
	assert.False(t, inserted)

	// Completion frees the slot.
	require.NoError(t, repo.Complete(ctx, id, nil))

	_, inserted, err = repo.Enqueue(ctx, item)
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestQueueRepository_RetryCeiling(t *testing.T) {
	repo, ctx := setupQueueTest(t)
	ids := enqueueN(t, repo, ctx, 1)
	id := ids[0]

	for attempt := 1; attempt <= 3; attempt++ {
		claimed, err := repo.ClaimBatch(ctx, 1, nil)
		require.NoError(t, err)
		require.Len(t, claimed, 1, "attempt %d should find the item pending", attempt)

		require.NoError(t, repo.Fail(ctx, id, fmt.Sprintf("boom %d", attempt), true))

		item, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, attempt, item.AttemptCount)
		if attempt < 3 {
			assert.Equal(t, models.QueueStatusPending, item.Status)
		} else {
			assert.Equal(t, models.QueueStatusFailed, item.Status)
		}
	}

	claimed, err := repo.ClaimBatch(ctx, 1, nil)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestQueueRepository_ConfiguredRetryCeiling(t *testing.T) {
	db := testhelpers.GetTestDB(t)
	_, ctx := setupQueueTest(t)

	// An operator-tuned ceiling of 1 parks the item on its first failure.
	repo := NewQueueRepository(db.DB, 1)
	ids := enqueueN(t, repo, ctx, 1)

	claimed, err := repo.ClaimBatch(ctx, 1, nil)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, repo.Fail(ctx, ids[0], "boom", true))

	item, err := repo.GetByID(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusFailed, item.Status)
	assert.Equal(t, 1, item.AttemptCount)

	claimed, err = repo.ClaimBatch(ctx, 1, nil)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestQueueRepository_ReleaseDoesNotBurnAnAttempt(t *testing.T) {
	repo, ctx := setupQueueTest(t)
	ids := enqueueN(t, repo, ctx, 1)

	claimed, err := repo.ClaimBatch(ctx, 1, nil)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, repo.Release(ctx, ids[0]))

	item, err := repo.GetByID(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusPending, item.Status)
	assert.Equal(t, 0, item.AttemptCount)
}

func TestQueueRepository_ReapZombies(t *testing.T) {
	db := testhelpers.GetTestDB(t)
	repo, ctx := setupQueueTest(t)
	ids := enqueueN(t, repo, ctx, 2)

	claimed, err := repo.ClaimBatch(ctx, 2, nil)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	// Age one claim past the timeout.
	_, err = db.DB.Exec(ctx,
		`UPDATE enrichment_queue SET started_at = now() - interval '20 minutes' WHERE id = $1`,
		ids[0])
	require.NoError(t, err)

	reaped, err := repo.ReapZombies(ctx, 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, reaped, 1)
	assert.Equal(t, ids[0], reaped[0])

	zombie, err := repo.GetByID(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusPending, zombie.Status)
	require.NotNil(t, zombie.LastError)

	fresh, err := repo.GetByID(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusProcessing, fresh.Status)

	// The reclaimed item's old claim can no longer complete.
	err = repo.Complete(ctx, ids[0], nil)
	assert.Error(t, err)
}

func TestQueueRepository_TrySweepLock(t *testing.T) {
	repo, ctx := setupQueueTest(t)

	release, err := repo.TrySweepLock(ctx, "integration-sweep")
	require.NoError(t, err)

	// The holder pins its connection, so the second attempt lands on a
	// different session and is refused.
	_, err = repo.TrySweepLock(ctx, "integration-sweep")
	require.Error(t, err)

	release()

	release2, err := repo.TrySweepLock(ctx, "integration-sweep")
	require.NoError(t, err)
	release2()
}
