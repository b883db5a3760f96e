package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Confidence Levels
// ============================================================================

// Confidence represents how reliable an enriched financial figure is.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ValidConfidences contains all valid confidence values.
var ValidConfidences = []Confidence{
	ConfidenceHigh,
	ConfidenceMedium,
	ConfidenceLow,
}

// IsValidConfidence checks if the given confidence is valid.
func IsValidConfidence(c Confidence) bool {
	for _, v := range ValidConfidences {
		if v == c {
			return true
		}
	}
	return false
}

// ============================================================================
// Deal
// ============================================================================

// FinancialMetric is an enriched dollar figure together with its provenance.
// Value is nil when the figure is unknown; Inferred marks values derived from
// secondary signals rather than stated in source material.
type FinancialMetric struct {
	Value      *float64   `json:"value,omitempty"`
	Confidence Confidence `json:"confidence,omitempty"`
	Inferred   bool       `json:"inferred"`
}

// Present reports whether the metric carries an actual value.
func (m FinancialMetric) Present() bool {
	return m.Value != nil
}

// Deal represents a business-for-sale record.
// Stored in the deals table. Identity for deduplication is NormalizedDomain,
// which is unique among non-deleted deals.
type Deal struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`

	// Identity
	Website          *string `json:"website,omitempty"`
	NormalizedDomain *string `json:"normalized_domain,omitempty"`

	// Enriched financials
	Revenue FinancialMetric `json:"revenue"`
	EBITDA  FinancialMetric `json:"ebitda"`

	// Classification
	Industry      *string  `json:"industry,omitempty"`
	Locations     []string `json:"locations,omitempty"`
	EmployeeCount *int     `json:"employee_count,omitempty"`

	// Qualitative attributes used by owner-goals scoring.
	OwnerGoals *string `json:"owner_goals,omitempty"`
	Summary    *string `json:"summary,omitempty"`

	// Denormalized best-fit score across all buyers, maintained by the
	// scoring engine after each recompute.
	CompositeScore *float64 `json:"composite_score,omitempty"`
	Tier           *string  `json:"tier,omitempty"`

	EnrichedAt *time.Time `json:"enriched_at,omitempty"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Deleted reports whether the deal has been soft-deleted.
func (d *Deal) Deleted() bool {
	return d.DeletedAt != nil
}

// HasFinancials reports whether any primary financial figure is present.
// The proxy-signal boost is suppressed proportionally to what is here.
func (d *Deal) HasFinancials() bool {
	return d.Revenue.Present() || d.EBITDA.Present()
}
