//go:build integration

package repositories

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealmatch/matchengine/pkg/apperrors"
	"github.com/dealmatch/matchengine/pkg/testhelpers"
)

func setupCacheTest(t *testing.T) (CacheRepository, context.Context) {
	t.Helper()
	db := testhelpers.GetTestDB(t)
	return NewCacheRepository(db.DB), context.Background()
}

func cacheKey(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("test:%s", uuid.New())
}

func TestCacheRepository_GetAndTouchCountsHits(t *testing.T) {
	repo, ctx := setupCacheTest(t)
	key := cacheKey(t)

	require.NoError(t, repo.Put(ctx, key, []byte(`{"cached":true}`), time.Hour))

	first, err := repo.GetAndTouch(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"cached":true}`), first.Payload)
	assert.Equal(t, 1, first.HitCount)
	require.NotNil(t, first.LastHitAt)

	second, err := repo.GetAndTouch(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 2, second.HitCount)

	// Reads never extend the entry's life.
	assert.Equal(t, first.ExpiresAt, second.ExpiresAt)
}

func TestCacheRepository_PutResetsHitCount(t *testing.T) {
	repo, ctx := setupCacheTest(t)
	key := cacheKey(t)

	require.NoError(t, repo.Put(ctx, key, []byte(`v1`), time.Hour))
	_, err := repo.GetAndTouch(ctx, key)
	require.NoError(t, err)

	require.NoError(t, repo.Put(ctx, key, []byte(`v2`), time.Hour))

	entry, err := repo.GetAndTouch(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte(`v2`), entry.Payload)
	assert.Equal(t, 1, entry.HitCount)
}

func TestCacheRepository_ExpiredEntriesMissAndSweep(t *testing.T) {
	repo, ctx := setupCacheTest(t)
	key := cacheKey(t)

	require.NoError(t, repo.Put(ctx, key, []byte(`stale`), -time.Minute))

	_, err := repo.GetAndTouch(ctx, key)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	swept, err := repo.Sweep(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, swept, int64(1))

	_, err = repo.GetAndTouch(ctx, key)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
