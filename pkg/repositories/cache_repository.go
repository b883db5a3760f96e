package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dealmatch/matchengine/pkg/apperrors"
	"github.com/dealmatch/matchengine/pkg/database"
	"github.com/dealmatch/matchengine/pkg/models"
)

// CacheRepository provides data access for the external-response cache.
type CacheRepository interface {
	// GetAndTouch returns a non-expired entry, incrementing its hit counter
	// and last_hit_at in the same statement. Expiry is never extended.
	GetAndTouch(ctx context.Context, key string) (*models.CacheEntry, error)

	// Put upserts an entry with a fresh expiry, resetting hit_count to 0 on
	// overwrite.
	Put(ctx context.Context, key string, payload []byte, ttl time.Duration) error

	// Sweep deletes expired entries and returns how many were removed.
	Sweep(ctx context.Context) (int64, error)
}

type cacheRepository struct {
	db *database.DB
}

// NewCacheRepository creates a new CacheRepository.
func NewCacheRepository(db *database.DB) CacheRepository {
	return &cacheRepository{db: db}
}

var _ CacheRepository = (*cacheRepository)(nil)

func (r *cacheRepository) GetAndTouch(ctx context.Context, key string) (*models.CacheEntry, error) {
	// Hit bookkeeping is a single atomic statement so concurrent readers
	// never lose counter updates.
	query := `
		UPDATE response_cache
		SET hit_count = hit_count + 1, last_hit_at = now()
		WHERE key = $1 AND expires_at >= now()
		RETURNING key, payload, hit_count, last_hit_at, created_at, expires_at`

	var entry models.CacheEntry
	err := r.db.QueryRow(ctx, query, key).Scan(
		&entry.Key, &entry.Payload, &entry.HitCount, &entry.LastHitAt,
		&entry.CreatedAt, &entry.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("cache key %s: %w", key, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return &entry, nil
}

func (r *cacheRepository) Put(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	now := time.Now()
	query := `
		INSERT INTO response_cache (key, payload, hit_count, created_at, expires_at)
		VALUES ($1, $2, 0, $3, $4)
		ON CONFLICT (key) DO UPDATE SET
			payload = EXCLUDED.payload,
			hit_count = 0,
			last_hit_at = NULL,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at`

	if _, err := r.db.Exec(ctx, query, key, payload, now, now.Add(ttl)); err != nil {
		return fmt.Errorf("failed to put cache entry: %w", err)
	}
	return nil
}

func (r *cacheRepository) Sweep(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM response_cache WHERE expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep cache: %w", err)
	}
	return tag.RowsAffected(), nil
}
