package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dealmatch/matchengine/pkg/models"
)

type fakeStaleLister struct {
	deals  []*models.Deal
	cutoff time.Time
	limit  int
}

func (f *fakeStaleLister) ListStale(_ context.Context, cutoff time.Time, limit int) ([]*models.Deal, error) {
	f.cutoff = cutoff
	f.limit = limit
	return f.deals, nil
}

type fakeEnqueuer struct {
	queued []uuid.UUID
	active map[uuid.UUID]bool
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, _ models.QueueEntityType, entityID uuid.UUID, workType models.WorkType, _ int) (uuid.UUID, bool, error) {
	if workType != models.WorkTypeDealEnrichment {
		panic("refresh must queue deal enrichment work")
	}
	if f.active[entityID] {
		return uuid.Nil, false, nil
	}
	f.queued = append(f.queued, entityID)
	return uuid.New(), true, nil
}

func TestRefresher_QueuesStaleDeals(t *testing.T) {
	stale := []*models.Deal{
		{ID: uuid.New(), Name: "Never enriched"},
		{ID: uuid.New(), Name: "Enriched long ago"},
	}
	lister := &fakeStaleLister{deals: stale}
	q := &fakeEnqueuer{}

	r := NewRefresher(lister, q, 7*24*time.Hour, 50, zap.NewNop())
	queued, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, queued)
	assert.Equal(t, []uuid.UUID{stale[0].ID, stale[1].ID}, q.queued)
	assert.Equal(t, 50, lister.limit)
	assert.WithinDuration(t, time.Now().Add(-7*24*time.Hour), lister.cutoff, time.Minute)
}

func TestRefresher_SkipsDealsAlreadyQueued(t *testing.T) {
	inFlight := &models.Deal{ID: uuid.New(), Name: "Already queued"}
	fresh := &models.Deal{ID: uuid.New(), Name: "Needs refresh"}
	lister := &fakeStaleLister{deals: []*models.Deal{inFlight, fresh}}
	q := &fakeEnqueuer{active: map[uuid.UUID]bool{inFlight.ID: true}}

	r := NewRefresher(lister, q, time.Hour, 50, zap.NewNop())
	queued, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, queued, "an active queue item keeps its deal from double-queuing")
	assert.Equal(t, []uuid.UUID{fresh.ID}, q.queued)
}
