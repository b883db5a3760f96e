// Package enrichment fills missing deal and buyer fields from external
// research, feeding the queue workers that keep records fresh.
package enrichment

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/dealmatch/matchengine/pkg/jsonutil"
	"github.com/dealmatch/matchengine/pkg/models"
)

// LookupRequest identifies the entity a provider should research.
type LookupRequest struct {
	EntityType models.QueueEntityType
	Name       string
	Website    string
	WorkType   models.WorkType
}

// FoundMetric is a researched dollar figure with the provider's stated
// confidence.
type FoundMetric struct {
	Value      *float64          `json:"value"`
	Confidence models.Confidence `json:"confidence"`
	Inferred   bool              `json:"inferred"`
}

// UnmarshalJSON tolerates the model quoting or decorating the figure
// ("$2,500,000") and writing confidence in any case.
func (m *FoundMetric) UnmarshalJSON(data []byte) error {
	var raw struct {
		Value      json.RawMessage `json:"value"`
		Confidence json.RawMessage `json:"confidence"`
		Inferred   bool            `json:"inferred"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	value, err := jsonutil.FlexibleFloatValue(raw.Value)
	if err != nil {
		return err
	}
	m.Value = value
	m.Confidence = models.Confidence(strings.ToLower(jsonutil.FlexibleStringValue(raw.Confidence)))
	m.Inferred = raw.Inferred
	return nil
}

// LookupResult carries whatever fields the provider could establish. Nil
// and empty fields are "not found", never "erase".
type LookupResult struct {
	Revenue FoundMetric `json:"revenue"`
	EBITDA  FoundMetric `json:"ebitda"`

	Industry      *string  `json:"industry,omitempty"`
	Locations     []string `json:"locations,omitempty"`
	EmployeeCount *int     `json:"employee_count,omitempty"`
	OwnerGoals    *string  `json:"owner_goals,omitempty"`
	Summary       *string  `json:"summary,omitempty"`
	Website       *string  `json:"website,omitempty"`

	// Buyer-side fields.
	Thesis *string `json:"thesis,omitempty"`
}

// Lookup is the research provider port. Implementations classify their
// failures through apperrors.Transient / apperrors.Permanent so the queue
// knows whether to retry.
type Lookup interface {
	Enrich(ctx context.Context, req LookupRequest) (*LookupResult, error)
}
