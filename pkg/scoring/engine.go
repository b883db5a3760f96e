// Package scoring computes the weighted fit between deals and buyers:
// four sub-scores, a composite with industry-tier and proxy-signal
// adjustments, and a discrete A-D tier.
package scoring

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/dealmatch/matchengine/pkg/models"
)

// OwnerGoalsAssessor is an optional AI-assisted judge of how well a deal's
// stated seller motivation matches a buyer's preference. Implementations
// must return a score in [0,100].
type OwnerGoalsAssessor interface {
	AssessOwnerGoals(ctx context.Context, dealGoals, buyerPreference string) (float64, error)
}

// Result is one computed (deal, buyer) fit.
type Result struct {
	Geography  float64
	Size       float64
	Service    float64
	OwnerGoals float64

	Composite float64
	Tier      models.ScoreTier

	// Clamped records that the tier adjustment or proxy boost pushed the
	// composite outside [0,100] before it was pulled back in.
	Clamped bool

	// Breakdown explains the adjustments for operators.
	Breakdown map[string]float64
}

// Engine computes scores under a fixed policy. Pure and deterministic apart
// from the optional owner-goals assessor; the same inputs always produce
// the same Result.
type Engine struct {
	policy   Policy
	assessor OwnerGoalsAssessor
	logger   *zap.Logger
}

// NewEngine creates a scoring engine. assessor may be nil, in which case a
// deterministic keyword heuristic scores owner goals.
func NewEngine(policy Policy, assessor OwnerGoalsAssessor, logger *zap.Logger) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scoring policy: %w", err)
	}
	return &Engine{
		policy:   policy,
		assessor: assessor,
		logger:   logger.Named("scoring"),
	}, nil
}

// Score computes the fit between one deal and one buyer.
func (e *Engine) Score(ctx context.Context, deal *models.Deal, buyer *models.Buyer) (*Result, error) {
	geography := e.geographyScore(deal, buyer)
	size := e.sizeScore(deal, buyer)
	service := e.serviceScore(deal, buyer)

	ownerGoals, err := e.ownerGoalsScore(ctx, deal, buyer)
	if err != nil {
		return nil, err
	}

	w := e.policy.Weights
	weighted := (geography*w.Geography + size*w.Size + service*w.Service + ownerGoals*w.OwnerGoals) / 100

	tierAdj := e.industryAdjustment(deal)
	proxyBoost := e.proxyBoost(deal)

	composite := weighted + tierAdj + proxyBoost
	clamped := false
	if composite > 100 {
		composite = 100
		clamped = true
	} else if composite < 0 {
		composite = 0
		clamped = true
	}

	result := &Result{
		Geography:  geography,
		Size:       size,
		Service:    service,
		OwnerGoals: ownerGoals,
		Composite:  composite,
		Tier:       e.tierFor(composite),
		Clamped:    clamped,
		Breakdown: map[string]float64{
			"weighted_base":       weighted,
			"industry_adjustment": tierAdj,
			"proxy_boost":         proxyBoost,
		},
	}

	e.logger.Debug("scored pair",
		zap.String("deal_id", deal.ID.String()),
		zap.String("buyer_id", buyer.ID.String()),
		zap.Float64("composite", composite),
		zap.String("tier", string(result.Tier)))
	return result, nil
}

// geographyScore rates the overlap between deal locations and buyer target
// geographies. Exact match wins, same coarse region earns partial credit,
// and a total mismatch bottoms out at the configured floor rather than
// zero.
func (e *Engine) geographyScore(deal *models.Deal, buyer *models.Buyer) float64 {
	dealLocs := normalizeTags(deal.Locations)
	targets := normalizeTags(buyer.Criteria.Geographies)
	if len(dealLocs) == 0 || len(targets) == 0 {
		return e.policy.NeutralScore
	}

	best := e.policy.GeographyFloor
	for _, loc := range dealLocs {
		for _, target := range targets {
			switch {
			case loc == target || target == "national" || target == "any":
				return 100
			case e.sameRegion(loc, target):
				if e.policy.RegionalCredit > best {
					best = e.policy.RegionalCredit
				}
			}
		}
	}
	return best
}

func (e *Engine) sameRegion(a, b string) bool {
	ra, aok := e.policy.Regions[a]
	rb, bok := e.policy.Regions[b]
	if aok && bok {
		return ra == rb
	}
	// A target that names a region directly ("west") matches any location
	// inside it.
	if aok && ra == b {
		return true
	}
	if bok && rb == a {
		return true
	}
	return false
}

// sizeScore rates where the deal's financials fall within the buyer's
// target ranges. Inside the range scores full; outside decays with the
// relative distance from the nearest bound, so "just outside" still ranks
// well above "wildly outside".
func (e *Engine) sizeScore(deal *models.Deal, buyer *models.Buyer) float64 {
	var total, n float64

	if deal.Revenue.Present() {
		if s, ok := e.rangeScore(*deal.Revenue.Value, buyer.Criteria.RevenueMin, buyer.Criteria.RevenueMax); ok {
			total += s
			n++
		}
	}
	if deal.EBITDA.Present() {
		if s, ok := e.rangeScore(*deal.EBITDA.Value, buyer.Criteria.EBITDAMin, buyer.Criteria.EBITDAMax); ok {
			total += s
			n++
		}
	}

	if n == 0 {
		// No comparable figures on either side. The proxy boost compensates
		// for data-sparse deals; an unconstrained buyer is neutral.
		if deal.HasFinancials() {
			return e.policy.NeutralScore
		}
		return 0
	}
	return total / n
}

// rangeScore rates value against [min,max]. ok is false when the buyer has
// no bound on this metric.
func (e *Engine) rangeScore(value float64, min, max *float64) (float64, bool) {
	if min == nil && max == nil {
		return 0, false
	}

	var distance, bound float64
	switch {
	case min != nil && value < *min:
		distance, bound = *min-value, *min
	case max != nil && value > *max:
		distance, bound = value-*max, *max
	default:
		return 100, true
	}

	if bound <= 0 {
		return 0, true
	}
	relative := distance / (bound * e.policy.SizeDecay)
	return math.Max(0, 100*(1-relative)), true
}

// serviceScore rates the synonym-aware overlap between the deal's industry
// tag and the buyer's target services.
func (e *Engine) serviceScore(deal *models.Deal, buyer *models.Buyer) float64 {
	targets := e.policy.canonicalTags(buyer.Criteria.Services)

	var dealTags []string
	if deal.Industry != nil {
		dealTags = e.policy.canonicalTags([]string{*deal.Industry})
	}
	if len(dealTags) == 0 || len(targets) == 0 {
		return e.policy.NeutralScore
	}

	var best float64
	for _, tag := range dealTags {
		for _, target := range targets {
			if s := tagsOverlap(tag, target); s > best {
				best = s
			}
		}
	}
	return best
}

// ownerGoalsScore is the qualitative sub-score, most tolerant of missing
// data: absent text on either side is neutral, never a penalty.
func (e *Engine) ownerGoalsScore(ctx context.Context, deal *models.Deal, buyer *models.Buyer) (float64, error) {
	if deal.OwnerGoals == nil || *deal.OwnerGoals == "" ||
		buyer.Criteria.OwnerGoalPreference == nil || *buyer.Criteria.OwnerGoalPreference == "" {
		return e.policy.NeutralScore, nil
	}

	if e.assessor != nil {
		score, err := e.assessor.AssessOwnerGoals(ctx, *deal.OwnerGoals, *buyer.Criteria.OwnerGoalPreference)
		if err != nil {
			return 0, fmt.Errorf("owner goals assessment: %w", err)
		}
		return clamp(score), nil
	}

	return keywordAffinity(*deal.OwnerGoals, *buyer.Criteria.OwnerGoalPreference), nil
}

// keywordAffinity is the deterministic fallback: fraction of the buyer's
// preference words found in the deal's stated goals, scaled around
// neutral.
func keywordAffinity(goals, preference string) float64 {
	goalWords := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(goals)) {
		goalWords[strings.Trim(w, ".,;:!?")] = struct{}{}
	}

	var total, matched float64
	for _, w := range strings.Fields(strings.ToLower(preference)) {
		w = strings.Trim(w, ".,;:!?")
		if len(w) < 4 {
			continue // skip stopword-length tokens
		}
		total++
		if _, ok := goalWords[w]; ok {
			matched++
		}
	}
	if total == 0 {
		return 50
	}
	return clamp(30 + 70*(matched/total))
}

// industryAdjustment returns the market-heat point adjustment for the
// deal's industry. Unmapped industries get tier 2: unknown categories are
// never penalized or rewarded.
func (e *Engine) industryAdjustment(deal *models.Deal) float64 {
	tier := 2
	if deal.Industry != nil {
		if t, ok := e.policy.IndustryTiers[e.policy.canonicalTag(*deal.Industry)]; ok {
			tier = t
		}
	}
	return e.policy.TierAdjustments[tier]
}

// proxyBoost contributes the bounded employee-count boost for data-sparse
// deals. Suppressed entirely when both financials are present, halved when
// one is.
func (e *Engine) proxyBoost(deal *models.Deal) float64 {
	if deal.EmployeeCount == nil || *deal.EmployeeCount <= 0 {
		return 0
	}

	suppression := 1.0
	switch {
	case deal.Revenue.Present() && deal.EBITDA.Present():
		return 0
	case deal.Revenue.Present() || deal.EBITDA.Present():
		suppression = 0.5
	}

	employees := *deal.EmployeeCount
	var points float64
	for _, bucket := range e.policy.ProxyBoosts {
		points = bucket.Points
		if bucket.MaxEmployees > 0 && employees <= bucket.MaxEmployees {
			break
		}
	}
	return math.Min(points, MaxProxyBoost) * suppression
}

func (e *Engine) tierFor(composite float64) models.ScoreTier {
	switch {
	case composite >= e.policy.TierAThreshold:
		return models.ScoreTierA
	case composite >= e.policy.TierBThreshold:
		return models.ScoreTierB
	case composite >= e.policy.TierCThreshold:
		return models.ScoreTierC
	default:
		return models.ScoreTierD
	}
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
