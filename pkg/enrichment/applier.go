package enrichment

import (
	"github.com/dealmatch/matchengine/pkg/domain"
	"github.com/dealmatch/matchengine/pkg/models"
)

// ApplyReport lists what a lookup result did to a record, in the shape the
// audit trail stores.
type ApplyReport struct {
	Attempted []string
	Updated   []string
	Blocked   []string

	// DomainChanged means the normalized domain was assigned or changed and
	// the dedup enforcer must run.
	DomainChanged bool
}

// Changed reports whether any field was written.
func (r *ApplyReport) Changed() bool {
	return len(r.Updated) > 0
}

func confidenceRank(c models.Confidence) int {
	switch c {
	case models.ConfidenceHigh:
		return 3
	case models.ConfidenceMedium:
		return 2
	case models.ConfidenceLow:
		return 1
	default:
		return 0
	}
}

// ApplyToDeal merges a lookup result into a deal. Financial figures only
// overwrite when the new confidence is at least the stored one; descriptive
// fields fill gaps and never clobber existing values. Absent result fields
// are ignored entirely.
func ApplyToDeal(deal *models.Deal, result *LookupResult) *ApplyReport {
	report := &ApplyReport{}

	applyMetric(&deal.Revenue, result.Revenue, "revenue", report)
	applyMetric(&deal.EBITDA, result.EBITDA, "ebitda", report)

	fillString(&deal.Industry, result.Industry, "industry", report)
	fillString(&deal.OwnerGoals, result.OwnerGoals, "owner_goals", report)
	fillString(&deal.Summary, result.Summary, "summary", report)

	if len(result.Locations) > 0 {
		report.Attempted = append(report.Attempted, "locations")
		if len(deal.Locations) == 0 {
			deal.Locations = result.Locations
			report.Updated = append(report.Updated, "locations")
		} else {
			report.Blocked = append(report.Blocked, "locations")
		}
	}

	if result.EmployeeCount != nil {
		report.Attempted = append(report.Attempted, "employee_count")
		if deal.EmployeeCount == nil {
			deal.EmployeeCount = result.EmployeeCount
			report.Updated = append(report.Updated, "employee_count")
		} else {
			report.Blocked = append(report.Blocked, "employee_count")
		}
	}

	if result.Website != nil && *result.Website != "" {
		report.Attempted = append(report.Attempted, "website")
		if deal.Website == nil || *deal.Website == "" {
			deal.Website = result.Website
			report.Updated = append(report.Updated, "website")
		} else {
			report.Blocked = append(report.Blocked, "website")
		}
	}

	// Domain assignment follows from whatever website survived the merge.
	if deal.Website != nil {
		if normalized, ok := domain.Normalize(*deal.Website); ok {
			if deal.NormalizedDomain == nil || *deal.NormalizedDomain != normalized {
				deal.NormalizedDomain = &normalized
				report.Updated = append(report.Updated, "normalized_domain")
				report.DomainChanged = true
			}
		}
	}
	return report
}

// ApplyToBuyer merges the buyer-relevant slice of a lookup result.
func ApplyToBuyer(buyer *models.Buyer, result *LookupResult) *ApplyReport {
	report := &ApplyReport{}

	fillString(&buyer.Thesis, result.Thesis, "thesis", report)

	if result.Website != nil && *result.Website != "" {
		report.Attempted = append(report.Attempted, "company_website")
		if buyer.CompanyWebsite == nil || *buyer.CompanyWebsite == "" {
			buyer.CompanyWebsite = result.Website
			report.Updated = append(report.Updated, "company_website")
		} else {
			report.Blocked = append(report.Blocked, "company_website")
		}
	}

	if buyer.CompanyWebsite != nil {
		if normalized, ok := domain.Normalize(*buyer.CompanyWebsite); ok {
			if buyer.NormalizedDomain == nil || *buyer.NormalizedDomain != normalized {
				buyer.NormalizedDomain = &normalized
				report.Updated = append(report.Updated, "normalized_domain")
				report.DomainChanged = true
			}
		}
	}
	return report
}

func applyMetric(existing *models.FinancialMetric, found FoundMetric, field string, report *ApplyReport) {
	if found.Value == nil {
		return
	}
	report.Attempted = append(report.Attempted, field)

	if existing.Present() && confidenceRank(found.Confidence) < confidenceRank(existing.Confidence) {
		report.Blocked = append(report.Blocked, field)
		return
	}

	existing.Value = found.Value
	existing.Confidence = found.Confidence
	existing.Inferred = found.Inferred
	report.Updated = append(report.Updated, field)
}

func fillString(existing **string, found *string, field string, report *ApplyReport) {
	if found == nil || *found == "" {
		return
	}
	report.Attempted = append(report.Attempted, field)

	if *existing != nil && **existing != "" {
		report.Blocked = append(report.Blocked, field)
		return
	}
	*existing = found
	report.Updated = append(report.Updated, field)
}
