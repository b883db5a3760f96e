package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Score Status
// ============================================================================

// ScoreStatus tracks operator disposition of a match.
type ScoreStatus string

const (
	ScoreStatusPending  ScoreStatus = "pending"
	ScoreStatusApproved ScoreStatus = "approved"
	ScoreStatusPassed   ScoreStatus = "passed"
	ScoreStatusHidden   ScoreStatus = "hidden"
)

// ValidScoreStatuses contains all valid score status values.
var ValidScoreStatuses = []ScoreStatus{
	ScoreStatusPending,
	ScoreStatusApproved,
	ScoreStatusPassed,
	ScoreStatusHidden,
}

// IsValidScoreStatus checks if the given status is valid.
func IsValidScoreStatus(s ScoreStatus) bool {
	for _, v := range ValidScoreStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// ============================================================================
// Score Tier
// ============================================================================

// ScoreTier is the discrete bucket derived from the composite score.
type ScoreTier string

const (
	ScoreTierA ScoreTier = "A"
	ScoreTierB ScoreTier = "B"
	ScoreTierC ScoreTier = "C"
	ScoreTierD ScoreTier = "D"
)

// ============================================================================
// Score
// ============================================================================

// Score is the computed fit between one deal and one buyer, optionally scoped
// to a universe. (DealID, BuyerID, UniverseID) is unique; recomputation
// upserts in place.
type Score struct {
	ID         uuid.UUID  `json:"id"`
	DealID     uuid.UUID  `json:"deal_id"`
	BuyerID    uuid.UUID  `json:"buyer_id"`
	UniverseID *uuid.UUID `json:"universe_id,omitempty"`

	// Sub-scores, each clamped to [0,100].
	GeographyScore  float64 `json:"geography_score"`
	SizeScore       float64 `json:"size_score"`
	ServiceScore    float64 `json:"service_score"`
	OwnerGoalsScore float64 `json:"owner_goals_score"`

	// Weighted composite after tier adjustment and proxy boost, in [0,100].
	CompositeScore float64   `json:"composite_score"`
	Tier           ScoreTier `json:"tier"`

	// Clamped records that an adjustment pushed the composite outside [0,100]
	// before it was pulled back in. Required for integrity auditing.
	Clamped bool `json:"clamped"`

	Status ScoreStatus `json:"status"`

	// Operator override. Takes precedence for downstream consumers but never
	// replaces the stored computed composite, so recomputation stays
	// non-destructive.
	OverrideScore  *float64 `json:"override_score,omitempty"`
	OverrideReason *string  `json:"override_reason,omitempty"`

	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// EffectiveScore returns the override when present, else the computed value.
func (s *Score) EffectiveScore() float64 {
	if s.OverrideScore != nil {
		return *s.OverrideScore
	}
	return s.CompositeScore
}

// TierForComposite maps a composite score to its discrete tier.
// Pure and deterministic: >=80 A, >=60 B, >=40 C, else D.
func TierForComposite(composite float64) ScoreTier {
	switch {
	case composite >= 80:
		return ScoreTierA
	case composite >= 60:
		return ScoreTierB
	case composite >= 40:
		return ScoreTierC
	default:
		return ScoreTierD
	}
}
