// Package dedup collapses records that normalize to the same domain into a
// single survivor, migrating relationships off the losers before archiving
// them.
package dedup

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/dealmatch/matchengine/pkg/metrics"
	"github.com/dealmatch/matchengine/pkg/models"
	"github.com/dealmatch/matchengine/pkg/repositories"
)

// txRunner runs a function inside a database transaction.
type txRunner interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
}

// Outcome summarizes one enforcement pass over a domain.
type Outcome struct {
	WinnerID       uuid.UUID
	ArchivedIDs    []uuid.UUID
	ScoresMigrated int
	ScoresDropped  int
}

// Enforcer resolves duplicate buyers and deals after enrichment assigns a
// normalized domain. Quality ordering comes from the repository listings,
// which return the survivor first.
type Enforcer struct {
	db      txRunner
	deals   repositories.DealRepository
	buyers  repositories.BuyerRepository
	scores  repositories.ScoreRepository
	audits  repositories.AuditRepository
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewEnforcer creates a dedup enforcer. m may be nil in tests.
func NewEnforcer(
	db txRunner,
	deals repositories.DealRepository,
	buyers repositories.BuyerRepository,
	scores repositories.ScoreRepository,
	audits repositories.AuditRepository,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Enforcer {
	return &Enforcer{
		db:      db,
		deals:   deals,
		buyers:  buyers,
		scores:  scores,
		audits:  audits,
		metrics: m,
		logger:  logger.Named("dedup"),
	}
}

// EnforceBuyers collapses duplicate buyers sharing a normalized domain
// within one universe scope. The winner keeps its record; each loser's
// scores move to the winner unless the winner already covers the pair, in
// which case the loser's score is dropped. Archive, migration, and audit
// trail commit in one transaction per domain.
func (e *Enforcer) EnforceBuyers(ctx context.Context, universeID *uuid.UUID, normalizedDomain string) (*Outcome, error) {
	if normalizedDomain == "" {
		return nil, nil
	}

	candidates, err := e.buyers.ListLiveByDomain(ctx, universeID, normalizedDomain)
	if err != nil {
		return nil, err
	}
	if len(candidates) < 2 {
		return nil, nil
	}

	winner, losers := candidates[0], candidates[1:]
	outcome := &Outcome{WinnerID: winner.ID}

	err = e.db.WithTx(ctx, func(tx pgx.Tx) error {
		// Pairs the winner already holds; extended as migrations land so two
		// losers scored against the same deal cannot collide. Soft-deleted
		// winner rows count too: the pair index is not partial, so a dead
		// row still blocks a reassignment, and the next recompute revives
		// it through the upsert anyway.
		winnerScores, err := e.scores.ListPairSlotsTx(ctx, tx, winner.ID)
		if err != nil {
			return err
		}
		held := make(map[string]struct{}, len(winnerScores))
		for _, s := range winnerScores {
			held[scopeKey(s.DealID, s.UniverseID)] = struct{}{}
		}

		for _, loser := range losers {
			migrated, dropped, err := e.migrateScores(ctx, tx, loser.ID, winner.ID, held)
			if err != nil {
				return err
			}
			outcome.ScoresMigrated += migrated
			outcome.ScoresDropped += dropped

			if err := e.buyers.ArchiveTx(ctx, tx, loser.ID); err != nil {
				return err
			}
			outcome.ArchivedIDs = append(outcome.ArchivedIDs, loser.ID)

			if err := e.audits.RecordTx(ctx, tx, &models.AuditEntry{
				Action:     models.AuditActionDedupArchive,
				EntityType: models.QueueEntityTypeBuyer,
				EntityID:   loser.ID,
				Outcome:    fmt.Sprintf("archived; %d scores migrated, %d dropped", migrated, dropped),
				RelatedID:  &winner.ID,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dedup buyers for %s: %w", normalizedDomain, err)
	}

	if e.metrics != nil {
		e.metrics.DedupArchived.Add(float64(len(outcome.ArchivedIDs)))
	}
	e.logger.Info("deduplicated buyers",
		zap.String("domain", normalizedDomain),
		zap.String("winner_id", winner.ID.String()),
		zap.Int("archived", len(outcome.ArchivedIDs)),
		zap.Int("scores_migrated", outcome.ScoresMigrated),
		zap.Int("scores_dropped", outcome.ScoresDropped))
	return outcome, nil
}

// EnforceDeals collapses duplicate deals sharing a normalized domain. Loser
// deals are soft-deleted, which cascades to their scores; nothing migrates
// because the winner's own scores already cover its buyers.
func (e *Enforcer) EnforceDeals(ctx context.Context, normalizedDomain string) (*Outcome, error) {
	if normalizedDomain == "" {
		return nil, nil
	}

	candidates, err := e.deals.ListLiveByDomain(ctx, normalizedDomain)
	if err != nil {
		return nil, err
	}
	if len(candidates) < 2 {
		return nil, nil
	}

	winner, losers := candidates[0], candidates[1:]
	outcome := &Outcome{WinnerID: winner.ID}

	for _, loser := range losers {
		if err := e.deals.SoftDelete(ctx, loser.ID); err != nil {
			return outcome, fmt.Errorf("dedup deals for %s: %w", normalizedDomain, err)
		}
		outcome.ArchivedIDs = append(outcome.ArchivedIDs, loser.ID)

		if err := e.audits.Record(ctx, &models.AuditEntry{
			Action:     models.AuditActionDedupArchive,
			EntityType: models.QueueEntityTypeDeal,
			EntityID:   loser.ID,
			Outcome:    "soft-deleted duplicate",
			RelatedID:  &winner.ID,
		}); err != nil {
			return outcome, err
		}
	}

	if e.metrics != nil {
		e.metrics.DedupArchived.Add(float64(len(outcome.ArchivedIDs)))
	}
	e.logger.Info("deduplicated deals",
		zap.String("domain", normalizedDomain),
		zap.String("winner_id", winner.ID.String()),
		zap.Int("archived", len(outcome.ArchivedIDs)))
	return outcome, nil
}

func (e *Enforcer) migrateScores(ctx context.Context, tx pgx.Tx, loserID, winnerID uuid.UUID, held map[string]struct{}) (migrated, dropped int, err error) {
	loserScores, err := e.scores.ListByBuyerTx(ctx, tx, loserID)
	if err != nil {
		return 0, 0, err
	}

	for _, score := range loserScores {
		key := scopeKey(score.DealID, score.UniverseID)
		if _, taken := held[key]; taken {
			if err := e.scores.SoftDeleteTx(ctx, tx, score.ID); err != nil {
				return migrated, dropped, err
			}
			dropped++
			continue
		}

		if err := e.scores.ReassignBuyerTx(ctx, tx, score.ID, winnerID); err != nil {
			return migrated, dropped, err
		}
		held[key] = struct{}{}
		migrated++

		if err := e.audits.RecordTx(ctx, tx, &models.AuditEntry{
			Action:     models.AuditActionDedupMigrate,
			EntityType: models.QueueEntityTypeDeal,
			EntityID:   score.DealID,
			Outcome:    "score reassigned to surviving buyer",
			RelatedID:  &winnerID,
		}); err != nil {
			return migrated, dropped, err
		}
	}
	return migrated, dropped, nil
}

func scopeKey(dealID uuid.UUID, universeID *uuid.UUID) string {
	scope := uuid.Nil
	if universeID != nil {
		scope = *universeID
	}
	return dealID.String() + "|" + scope.String()
}
