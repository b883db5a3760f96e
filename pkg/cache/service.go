// Package cache fronts expensive external enrichment calls with a keyed,
// TTL-based response cache.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dealmatch/matchengine/pkg/apperrors"
	"github.com/dealmatch/matchengine/pkg/metrics"
	"github.com/dealmatch/matchengine/pkg/repositories"
)

// DefaultTTL is applied when Put is called with a non-positive TTL.
const DefaultTTL = time.Hour

// Key derives the cache key from every input that affects the cached
// output. Leaving any of them out is a coherence bug, not a performance
// issue: a provider or model change must never serve the old payload.
func Key(provider, model, prompt string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(prompt)), " ")
	sum := sha256.Sum256([]byte(provider + "\x00" + model + "\x00" + normalized))
	return hex.EncodeToString(sum[:])
}

// Service is the response cache consumed by the enrichment lookup.
type Service interface {
	// Get returns the cached payload for key, or (nil, false) on miss or
	// expiry. A hit increments the entry's hit counter without extending
	// its expiry.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put stores payload under key for ttl (DefaultTTL when non-positive).
	Put(ctx context.Context, key string, payload []byte, ttl time.Duration) error

	// Sweep removes expired entries. Returns how many were deleted.
	Sweep(ctx context.Context) (int64, error)
}

type service struct {
	repo    repositories.CacheRepository
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewService creates a new cache service. metrics may be nil in tests.
func NewService(repo repositories.CacheRepository, m *metrics.Metrics, logger *zap.Logger) Service {
	return &service{
		repo:    repo,
		metrics: m,
		logger:  logger.Named("response-cache"),
	}
}

var _ Service = (*service)(nil)

func (s *service) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := s.repo.GetAndTouch(ctx, key)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			if s.metrics != nil {
				s.metrics.CacheMisses.Inc()
			}
			return nil, false, nil
		}
		return nil, false, err
	}

	if s.metrics != nil {
		s.metrics.CacheHits.Inc()
	}
	s.logger.Debug("cache hit", zap.String("key", key), zap.Int("hit_count", entry.HitCount))
	return entry.Payload, true, nil
}

func (s *service) Put(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return s.repo.Put(ctx, key, payload, ttl)
}

func (s *service) Sweep(ctx context.Context) (int64, error) {
	n, err := s.repo.Sweep(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		if s.metrics != nil {
			s.metrics.CacheSwept.Add(float64(n))
		}
		s.logger.Info("swept expired cache entries", zap.Int64("count", n))
	}
	return n, nil
}
