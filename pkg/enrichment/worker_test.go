package enrichment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dealmatch/matchengine/pkg/apperrors"
	"github.com/dealmatch/matchengine/pkg/dedup"
	"github.com/dealmatch/matchengine/pkg/models"
	"github.com/dealmatch/matchengine/pkg/retry"
	"github.com/dealmatch/matchengine/pkg/scoring"
)

type stubQueue struct {
	mu        sync.Mutex
	completed map[uuid.UUID][]byte
	failed    map[uuid.UUID]bool // item -> retry flag
	released  []uuid.UUID
}

func newStubQueue() *stubQueue {
	return &stubQueue{
		completed: make(map[uuid.UUID][]byte),
		failed:    make(map[uuid.UUID]bool),
	}
}

func (q *stubQueue) Complete(_ context.Context, id uuid.UUID, result []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed[id] = result
	return nil
}

func (q *stubQueue) Fail(_ context.Context, id uuid.UUID, _ error, retryFlag bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed[id] = retryFlag
	return nil
}

func (q *stubQueue) Release(_ context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.released = append(q.released, id)
	return nil
}

func (q *stubQueue) Enqueue(context.Context, models.QueueEntityType, uuid.UUID, models.WorkType, int) (uuid.UUID, bool, error) {
	panic("not implemented")
}

func (q *stubQueue) ClaimNext(context.Context, *models.WorkType) (*models.QueueItem, error) {
	panic("not implemented")
}

func (q *stubQueue) ClaimBatch(context.Context, int, *models.WorkType) ([]*models.QueueItem, error) {
	panic("not implemented")
}

func (q *stubQueue) ReapZombies(context.Context, time.Duration) (int, error) {
	panic("not implemented")
}

func (q *stubQueue) Depth(context.Context) (map[models.QueueStatus]int, error) {
	panic("not implemented")
}

type stubLookup struct {
	mu       sync.Mutex
	result   *LookupResult
	err      error
	fn       func(ctx context.Context, req LookupRequest) (*LookupResult, error)
	requests []LookupRequest
}

func (l *stubLookup) Enrich(ctx context.Context, req LookupRequest) (*LookupResult, error) {
	l.mu.Lock()
	l.requests = append(l.requests, req)
	fn, result, err := l.fn, l.result, l.err
	l.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (l *stubLookup) calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requests)
}

type workerDealRepo struct {
	mu      sync.Mutex
	deals   map[uuid.UUID]*models.Deal
	applied int
}

func newWorkerDealRepo() *workerDealRepo {
	return &workerDealRepo{deals: make(map[uuid.UUID]*models.Deal)}
}

func (r *workerDealRepo) add(deal *models.Deal) *models.Deal {
	if deal.ID == uuid.Nil {
		deal.ID = uuid.New()
	}
	r.deals[deal.ID] = deal
	return deal
}

func (r *workerDealRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Deal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deal, ok := r.deals[id]
	if !ok {
		return nil, fmt.Errorf("deal %s: %w", id, apperrors.ErrNotFound)
	}
	copied := *deal
	return &copied, nil
}

func (r *workerDealRepo) ApplyEnrichment(_ context.Context, deal *models.Deal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied++
	r.deals[deal.ID] = deal
	return nil
}

func (r *workerDealRepo) Create(context.Context, *models.Deal) error { panic("not implemented") }
func (r *workerDealRepo) Update(context.Context, *models.Deal) error { panic("not implemented") }

func (r *workerDealRepo) UpdateBestScore(context.Context, uuid.UUID, float64, models.ScoreTier) error {
	panic("not implemented")
}

func (r *workerDealRepo) ListLiveByDomain(context.Context, string) ([]*models.Deal, error) {
	panic("not implemented")
}

func (r *workerDealRepo) SoftDelete(context.Context, uuid.UUID) error { panic("not implemented") }

func (r *workerDealRepo) ListStale(context.Context, time.Time, int) ([]*models.Deal, error) {
	panic("not implemented")
}

type workerBuyerRepo struct {
	mu      sync.Mutex
	buyers  map[uuid.UUID]*models.Buyer
	updated int
}

func newWorkerBuyerRepo() *workerBuyerRepo {
	return &workerBuyerRepo{buyers: make(map[uuid.UUID]*models.Buyer)}
}

func (r *workerBuyerRepo) add(buyer *models.Buyer) *models.Buyer {
	if buyer.ID == uuid.Nil {
		buyer.ID = uuid.New()
	}
	r.buyers[buyer.ID] = buyer
	return buyer
}

func (r *workerBuyerRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Buyer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buyer, ok := r.buyers[id]
	if !ok {
		return nil, fmt.Errorf("buyer %s: %w", id, apperrors.ErrNotFound)
	}
	copied := *buyer
	return &copied, nil
}

func (r *workerBuyerRepo) Update(_ context.Context, buyer *models.Buyer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updated++
	r.buyers[buyer.ID] = buyer
	return nil
}

func (r *workerBuyerRepo) Create(context.Context, *models.Buyer) error { panic("not implemented") }

func (r *workerBuyerRepo) ListLiveByDomain(context.Context, *uuid.UUID, string) ([]*models.Buyer, error) {
	panic("not implemented")
}

func (r *workerBuyerRepo) ListActiveForMatching(context.Context, *uuid.UUID) ([]*models.Buyer, error) {
	panic("not implemented")
}

func (r *workerBuyerRepo) ArchiveTx(context.Context, pgx.Tx, uuid.UUID) error {
	panic("not implemented")
}

type stubEnforcer struct {
	mu           sync.Mutex
	dealOutcome  *dedup.Outcome
	buyerOutcome *dedup.Outcome
	dealCalls    []string
	buyerCalls   []string
}

func (e *stubEnforcer) EnforceDeals(_ context.Context, domain string) (*dedup.Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dealCalls = append(e.dealCalls, domain)
	return e.dealOutcome, nil
}

func (e *stubEnforcer) EnforceBuyers(_ context.Context, _ *uuid.UUID, domain string) (*dedup.Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buyerCalls = append(e.buyerCalls, domain)
	return e.buyerOutcome, nil
}

type stubScoring struct {
	mu         sync.Mutex
	dealRuns   []uuid.UUID
	buyerRuns  []uuid.UUID
}

func (s *stubScoring) ComputeScore(context.Context, uuid.UUID, uuid.UUID, *uuid.UUID) (*models.Score, error) {
	panic("not implemented")
}

func (s *stubScoring) RecomputeDeal(_ context.Context, dealID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dealRuns = append(s.dealRuns, dealID)
	return 1, nil
}

func (s *stubScoring) RecomputeBuyer(_ context.Context, buyerID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buyerRuns = append(s.buyerRuns, buyerID)
	return 1, nil
}

type workerAuditRepo struct {
	mu      sync.Mutex
	entries []*models.AuditEntry
}

func (r *workerAuditRepo) Record(_ context.Context, entry *models.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *workerAuditRepo) RecordTx(ctx context.Context, _ pgx.Tx, entry *models.AuditEntry) error {
	return r.Record(ctx, entry)
}

type workerFixture struct {
	worker   *Worker
	queue    *stubQueue
	deals    *workerDealRepo
	buyers   *workerBuyerRepo
	lookup   *stubLookup
	enforcer *stubEnforcer
	scoring  *stubScoring
	audits   *workerAuditRepo
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	f := &workerFixture{
		queue:    newStubQueue(),
		deals:    newWorkerDealRepo(),
		buyers:   newWorkerBuyerRepo(),
		lookup:   &stubLookup{},
		enforcer: &stubEnforcer{},
		scoring:  &stubScoring{},
		audits:   &workerAuditRepo{},
	}
	cfg := DefaultWorkerConfig()
	cfg.LookupRetry = &retry.Config{MaxRetries: 0, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	f.worker = NewWorker(cfg, f.queue, f.deals, f.buyers, f.lookup, f.enforcer, f.scoring, f.audits, zap.NewNop())
	return f
}

var _ scoring.Service = (*stubScoring)(nil)

func dealItem(dealID uuid.UUID) *models.QueueItem {
	return &models.QueueItem{
		ID:         uuid.New(),
		EntityType: models.QueueEntityTypeDeal,
		EntityID:   dealID,
		WorkType:   models.WorkTypeDealEnrichment,
		Status:     models.QueueStatusProcessing,
	}
}

func TestWorker_DealEnrichmentSuccess(t *testing.T) {
	f := newWorkerFixture(t)

	deal := f.deals.add(&models.Deal{Name: "Acme HVAC"})
	f.lookup.result = &LookupResult{
		Revenue:  FoundMetric{Value: fptr(2_000_000), Confidence: models.ConfidenceMedium},
		Industry: sptr("hvac"),
		Website:  sptr("https://www.acme.com/"),
	}

	item := dealItem(deal.ID)
	f.worker.processItem(context.Background(), item)

	assert.Contains(t, f.queue.completed, item.ID)
	assert.Empty(t, f.queue.failed)
	assert.Equal(t, 1, f.deals.applied)

	stored, err := f.deals.GetByID(context.Background(), deal.ID)
	require.NoError(t, err)
	assert.Equal(t, "acme.com", *stored.NormalizedDomain)

	assert.Equal(t, []string{"acme.com"}, f.enforcer.dealCalls, "new domain triggers dedup")
	assert.Equal(t, []uuid.UUID{deal.ID}, f.scoring.dealRuns, "changed deal is rescored")

	require.Len(t, f.audits.entries, 1)
	assert.Equal(t, "applied", f.audits.entries[0].Outcome)
	assert.Contains(t, f.audits.entries[0].FieldsUpdated, "revenue")
}

func TestWorker_TransientLookupFailureRequeues(t *testing.T) {
	f := newWorkerFixture(t)

	deal := f.deals.add(&models.Deal{Name: "Acme"})
	f.lookup.err = apperrors.AsTransient(errors.New("upstream 503"))

	item := dealItem(deal.ID)
	f.worker.processItem(context.Background(), item)

	retryFlag, failed := f.queue.failed[item.ID]
	require.True(t, failed)
	assert.True(t, retryFlag)
	assert.Empty(t, f.queue.completed)

	require.Len(t, f.audits.entries, 1)
	assert.Equal(t, "lookup_failed", f.audits.entries[0].Outcome)
}

func TestWorker_PermanentFailureIsTerminal(t *testing.T) {
	f := newWorkerFixture(t)

	t.Run("deleted deal", func(t *testing.T) {
		deal := f.deals.add(&models.Deal{Name: "Gone"})
		now := time.Now()
		deal.DeletedAt = &now

		item := dealItem(deal.ID)
		f.worker.processItem(context.Background(), item)

		retryFlag, failed := f.queue.failed[item.ID]
		require.True(t, failed)
		assert.False(t, retryFlag)
	})

	t.Run("missing entity", func(t *testing.T) {
		item := dealItem(uuid.New())
		f.worker.processItem(context.Background(), item)

		retryFlag, failed := f.queue.failed[item.ID]
		require.True(t, failed)
		assert.False(t, retryFlag)
	})
}

func TestWorker_DedupLoserSkipsRescore(t *testing.T) {
	f := newWorkerFixture(t)

	deal := f.deals.add(&models.Deal{Name: "Acme duplicate"})
	f.lookup.result = &LookupResult{Website: sptr("acme.com")}
	f.enforcer.dealOutcome = &dedup.Outcome{
		WinnerID:    uuid.New(), // someone else survived
		ArchivedIDs: []uuid.UUID{deal.ID},
	}

	item := dealItem(deal.ID)
	f.worker.processItem(context.Background(), item)

	assert.Contains(t, f.queue.completed, item.ID, "losing dedup is still successful work")
	assert.Empty(t, f.scoring.dealRuns, "archived records are not rescored")
}

func TestWorker_BuyerEnrichment(t *testing.T) {
	f := newWorkerFixture(t)

	buyer := f.buyers.add(&models.Buyer{Name: "Granite Peak"})
	f.lookup.result = &LookupResult{
		Thesis:  sptr("roll up regional operators"),
		Website: sptr("granitepeak.com"),
	}

	item := &models.QueueItem{
		ID:         uuid.New(),
		EntityType: models.QueueEntityTypeBuyer,
		EntityID:   buyer.ID,
		WorkType:   models.WorkTypeBuyerEnrichment,
		Status:     models.QueueStatusProcessing,
	}
	f.worker.processItem(context.Background(), item)

	assert.Contains(t, f.queue.completed, item.ID)
	assert.Equal(t, 1, f.buyers.updated)
	assert.Equal(t, []string{"granitepeak.com"}, f.enforcer.buyerCalls)
	assert.Equal(t, []uuid.UUID{buyer.ID}, f.scoring.buyerRuns)

	require.Len(t, f.lookup.requests, 1)
	assert.Equal(t, models.QueueEntityTypeBuyer, f.lookup.requests[0].EntityType)
}

func TestWorker_ScoringRecomputeSkipsLookup(t *testing.T) {
	f := newWorkerFixture(t)

	deal := f.deals.add(&models.Deal{Name: "Acme"})
	item := dealItem(deal.ID)
	item.WorkType = models.WorkTypeScoringRecompute

	f.worker.processItem(context.Background(), item)

	assert.Contains(t, f.queue.completed, item.ID)
	assert.Empty(t, f.lookup.requests, "recompute work never calls the provider")
	assert.Equal(t, []uuid.UUID{deal.ID}, f.scoring.dealRuns)
}

func TestWorker_LookupRetryHonorsErrorClass(t *testing.T) {
	t.Run("permanent provider error is not re-invoked", func(t *testing.T) {
		f := newWorkerFixture(t)
		f.worker.cfg.LookupRetry = &retry.Config{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

		deal := f.deals.add(&models.Deal{Name: "Acme"})
		f.lookup.err = apperrors.AsPermanent(errors.New("provider rejected request: 401"))

		item := dealItem(deal.ID)
		f.worker.processItem(context.Background(), item)

		assert.Equal(t, 1, f.lookup.calls(), "permanent errors fail without retry")
		retryFlag, failed := f.queue.failed[item.ID]
		require.True(t, failed)
		assert.False(t, retryFlag)
	})

	t.Run("transient provider error retries within the attempt", func(t *testing.T) {
		f := newWorkerFixture(t)
		f.worker.cfg.LookupRetry = &retry.Config{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

		deal := f.deals.add(&models.Deal{Name: "Acme"})
		f.lookup.err = apperrors.AsTransient(errors.New("upstream 503"))

		item := dealItem(deal.ID)
		f.worker.processItem(context.Background(), item)

		assert.Equal(t, 3, f.lookup.calls(), "initial call plus MaxRetries")
		retryFlag, failed := f.queue.failed[item.ID]
		require.True(t, failed)
		assert.True(t, retryFlag)
	})
}

func TestWorker_ShutdownMidLookupReleasesItem(t *testing.T) {
	f := newWorkerFixture(t)

	deal := f.deals.add(&models.Deal{Name: "Acme"})
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	f.lookup.fn = func(ctx context.Context, _ LookupRequest) (*LookupResult, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}

	item := dealItem(deal.ID)
	done := make(chan struct{})
	go func() {
		f.worker.processItem(ctx, item)
		close(done)
	}()

	<-started
	cancel()
	<-done

	assert.Equal(t, []uuid.UUID{item.ID}, f.queue.released, "interrupted items go back to pending")
	assert.Empty(t, f.queue.failed, "cancellation must not burn an attempt")
	assert.Empty(t, f.queue.completed)
}

func TestWorker_ShutdownReleasesUnprocessedItems(t *testing.T) {
	f := newWorkerFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items := []*models.QueueItem{
		dealItem(uuid.New()),
		dealItem(uuid.New()),
		dealItem(uuid.New()),
	}
	f.worker.processBatch(ctx, items)

	assert.Len(t, f.queue.released, 3, "every claimed item goes back to pending")
	assert.Empty(t, f.queue.completed)
	assert.Empty(t, f.queue.failed)
}
