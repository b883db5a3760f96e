package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Data Completeness Tier
// ============================================================================

// DataTier classifies how complete a buyer's profile data is.
// Used both for match weighting context and as a dedup ranking criterion.
type DataTier string

const (
	DataTierHigh   DataTier = "high"
	DataTierMedium DataTier = "medium"
	DataTierLow    DataTier = "low"
)

// rank orders tiers for dedup comparison; higher is better.
func (t DataTier) rank() int {
	switch t {
	case DataTierHigh:
		return 3
	case DataTierMedium:
		return 2
	case DataTierLow:
		return 1
	default:
		return 0
	}
}

// Better reports whether t outranks other.
func (t DataTier) Better(other DataTier) bool {
	return t.rank() > other.rank()
}

// ============================================================================
// Buyer
// ============================================================================

// BuyerCriteria holds a buyer's stated acquisition targets.
// Persisted as a jsonb column with an explicit schema rather than a free-form
// map, so range invariants can be validated at the boundary.
type BuyerCriteria struct {
	RevenueMin *float64 `json:"revenue_min,omitempty" validate:"omitempty,gte=0"`
	RevenueMax *float64 `json:"revenue_max,omitempty" validate:"omitempty,gte=0"`
	EBITDAMin  *float64 `json:"ebitda_min,omitempty"`
	EBITDAMax  *float64 `json:"ebitda_max,omitempty"`

	Geographies []string `json:"geographies,omitempty"`
	Services    []string `json:"services,omitempty"`

	// Free-text preference on seller motivation/timeline, matched by the
	// owner-goals sub-score.
	OwnerGoalPreference *string `json:"owner_goal_preference,omitempty"`
}

// Validate enforces min <= max on both financial ranges.
func (c *BuyerCriteria) Validate() error {
	if c.RevenueMin != nil && c.RevenueMax != nil && *c.RevenueMin > *c.RevenueMax {
		return fmt.Errorf("revenue_min %.0f exceeds revenue_max %.0f", *c.RevenueMin, *c.RevenueMax)
	}
	if c.EBITDAMin != nil && c.EBITDAMax != nil && *c.EBITDAMin > *c.EBITDAMax {
		return fmt.Errorf("ebitda_min %.0f exceeds ebitda_max %.0f", *c.EBITDAMin, *c.EBITDAMax)
	}
	return nil
}

// Buyer represents a prospective acquirer.
// Within a universe, NormalizedDomain is unique among non-archived buyers.
// A nil UniverseID places the buyer in the global scope.
type Buyer struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`

	// Identity
	CompanyWebsite   *string `json:"company_website,omitempty"`
	ContactEmail     *string `json:"contact_email,omitempty"`
	NormalizedDomain *string `json:"normalized_domain,omitempty"`

	// Scope
	UniverseID *uuid.UUID `json:"universe_id,omitempty"`

	Thesis   *string       `json:"thesis,omitempty"`
	Criteria BuyerCriteria `json:"criteria"`
	DataTier DataTier      `json:"data_tier"`

	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Archived reports whether the buyer lost a dedup pass or was retired.
func (b *Buyer) Archived() bool {
	return b.ArchivedAt != nil
}

// HasThesis reports whether the buyer carries a non-empty thesis.
// Thesis presence is the first criterion in the dedup quality ordering.
func (b *Buyer) HasThesis() bool {
	return b.Thesis != nil && *b.Thesis != ""
}
