package enrichment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealmatch/matchengine/pkg/models"
)

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }
func sptr(v string) *string   { return &v }

func TestApplyToDeal_FinancialConfidenceGate(t *testing.T) {
	tests := []struct {
		name        string
		existing    models.FinancialMetric
		found       FoundMetric
		wantValue   float64
		wantBlocked bool
	}{
		{
			name:      "fills empty metric",
			existing:  models.FinancialMetric{},
			found:     FoundMetric{Value: fptr(1_500_000), Confidence: models.ConfidenceLow},
			wantValue: 1_500_000,
		},
		{
			name:      "higher confidence overwrites",
			existing:  models.FinancialMetric{Value: fptr(1_000_000), Confidence: models.ConfidenceLow},
			found:     FoundMetric{Value: fptr(2_000_000), Confidence: models.ConfidenceHigh},
			wantValue: 2_000_000,
		},
		{
			name:      "equal confidence overwrites",
			existing:  models.FinancialMetric{Value: fptr(1_000_000), Confidence: models.ConfidenceMedium},
			found:     FoundMetric{Value: fptr(1_200_000), Confidence: models.ConfidenceMedium},
			wantValue: 1_200_000,
		},
		{
			name:        "lower confidence blocked",
			existing:    models.FinancialMetric{Value: fptr(1_000_000), Confidence: models.ConfidenceHigh},
			found:       FoundMetric{Value: fptr(9_000_000), Confidence: models.ConfidenceLow},
			wantValue:   1_000_000,
			wantBlocked: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deal := &models.Deal{Name: "Acme", Revenue: tt.existing}
			report := ApplyToDeal(deal, &LookupResult{Revenue: tt.found})

			require.NotNil(t, deal.Revenue.Value)
			assert.Equal(t, tt.wantValue, *deal.Revenue.Value)
			assert.Contains(t, report.Attempted, "revenue")
			if tt.wantBlocked {
				assert.Contains(t, report.Blocked, "revenue")
				assert.NotContains(t, report.Updated, "revenue")
			} else {
				assert.Contains(t, report.Updated, "revenue")
			}
		})
	}
}

func TestApplyToDeal_AbsentFieldsAreIgnored(t *testing.T) {
	deal := &models.Deal{
		Name:     "Acme",
		Revenue:  models.FinancialMetric{Value: fptr(5_000_000), Confidence: models.ConfidenceHigh},
		Industry: sptr("hvac"),
	}

	report := ApplyToDeal(deal, &LookupResult{})
	assert.False(t, report.Changed())
	assert.Empty(t, report.Attempted)
	assert.Equal(t, 5_000_000.0, *deal.Revenue.Value, "missing result fields never erase")
	assert.Equal(t, "hvac", *deal.Industry)
}

func TestApplyToDeal_DescriptiveFieldsFillGapsOnly(t *testing.T) {
	deal := &models.Deal{
		Name:    "Acme",
		Summary: sptr("curated summary"),
	}
	result := &LookupResult{
		Industry:      sptr("plumbing"),
		Summary:       sptr("machine summary"),
		Locations:     []string{"Texas"},
		EmployeeCount: iptr(22),
	}

	report := ApplyToDeal(deal, result)

	assert.Equal(t, "plumbing", *deal.Industry)
	assert.Equal(t, "curated summary", *deal.Summary, "existing text is never clobbered")
	assert.Equal(t, []string{"Texas"}, deal.Locations)
	assert.Equal(t, 22, *deal.EmployeeCount)
	assert.ElementsMatch(t, []string{"industry", "locations", "employee_count"}, report.Updated)
	assert.Equal(t, []string{"summary"}, report.Blocked)
}

func TestApplyToDeal_DomainAssignment(t *testing.T) {
	t.Run("website discovery assigns the domain", func(t *testing.T) {
		deal := &models.Deal{Name: "Acme"}
		report := ApplyToDeal(deal, &LookupResult{Website: sptr("https://www.ACME.com/about")})

		require.NotNil(t, deal.NormalizedDomain)
		assert.Equal(t, "acme.com", *deal.NormalizedDomain)
		assert.True(t, report.DomainChanged)
	})

	t.Run("unchanged domain is not re-flagged", func(t *testing.T) {
		deal := &models.Deal{
			Name:             "Acme",
			Website:          sptr("acme.com"),
			NormalizedDomain: sptr("acme.com"),
		}
		report := ApplyToDeal(deal, &LookupResult{})
		assert.False(t, report.DomainChanged)
	})

	t.Run("placeholder website assigns nothing", func(t *testing.T) {
		deal := &models.Deal{Name: "Acme"}
		report := ApplyToDeal(deal, &LookupResult{Website: sptr("TBD")})
		assert.Nil(t, deal.NormalizedDomain)
		assert.False(t, report.DomainChanged)
	})
}

func TestApplyToBuyer(t *testing.T) {
	buyer := &models.Buyer{Name: "Granite Peak"}
	result := &LookupResult{
		Thesis:  sptr("roll up regional HVAC operators"),
		Website: sptr("granitepeak.com"),
	}

	report := ApplyToBuyer(buyer, result)

	assert.Equal(t, "roll up regional HVAC operators", *buyer.Thesis)
	require.NotNil(t, buyer.NormalizedDomain)
	assert.Equal(t, "granitepeak.com", *buyer.NormalizedDomain)
	assert.True(t, report.DomainChanged)

	// Second application changes nothing.
	again := ApplyToBuyer(buyer, result)
	assert.False(t, again.DomainChanged)
	assert.Empty(t, again.Updated)
	assert.ElementsMatch(t, []string{"thesis", "company_website"}, again.Blocked)
}
