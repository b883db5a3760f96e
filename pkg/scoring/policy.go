package scoring

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Weights are the sub-score weights combined into the composite. They must
// sum to 100.
type Weights struct {
	Geography  float64 `yaml:"geography"`
	Size       float64 `yaml:"size"`
	Service    float64 `yaml:"service"`
	OwnerGoals float64 `yaml:"owner_goals"`
}

// Sum returns the weight total.
func (w Weights) Sum() float64 {
	return w.Geography + w.Size + w.Service + w.OwnerGoals
}

// ProxyBoostBucket maps an employee-count ceiling to a boost value.
// Buckets are evaluated in order; the first bucket whose MaxEmployees is
// >= the deal's employee count applies. A zero MaxEmployees bucket is the
// catch-all for larger companies.
type ProxyBoostBucket struct {
	MaxEmployees int     `yaml:"max_employees"`
	Points       float64 `yaml:"points"`
}

// Policy holds the tunable scoring knobs. The numbers are policy, not
// design invariants: they ship as defaults and load from configuration.
type Policy struct {
	Weights Weights `yaml:"weights"`

	// GeographyFloor keeps one mismatched dimension from zeroing a match.
	GeographyFloor float64 `yaml:"geography_floor"`
	// RegionalCredit is the partial credit for an adjacent-region match.
	RegionalCredit float64 `yaml:"regional_credit"`

	// NeutralScore is used when a sub-score has no data on either side.
	NeutralScore float64 `yaml:"neutral_score"`

	// SizeDecay controls how fast the size score falls off outside the
	// target range: score reaches zero when the distance from the nearest
	// bound equals SizeDecay times that bound.
	SizeDecay float64 `yaml:"size_decay"`

	// IndustryTiers maps canonical industries to market-heat tiers
	// (1 hot, 2 neutral, 3 soft). Unmapped industries default to tier 2.
	IndustryTiers map[string]int `yaml:"industry_tiers"`
	// TierAdjustments are the composite point adjustments per tier.
	TierAdjustments map[int]float64 `yaml:"tier_adjustments"`

	// ProxyBoosts is the bounded additive boost from the employee-count
	// signal when primary financials are missing. Values must stay within
	// [0, MaxProxyBoost].
	ProxyBoosts []ProxyBoostBucket `yaml:"proxy_boosts"`

	// Synonyms maps service/industry tag variants to canonical forms.
	Synonyms map[string]string `yaml:"synonyms"`

	// Regions maps location tags to coarse regions for partial geography
	// credit.
	Regions map[string]string `yaml:"regions"`

	// TierThresholds for A/B/C grades (D is everything below C).
	TierAThreshold float64 `yaml:"tier_a_threshold"`
	TierBThreshold float64 `yaml:"tier_b_threshold"`
	TierCThreshold float64 `yaml:"tier_c_threshold"`
}

// MaxProxyBoost bounds the employee-count boost.
const MaxProxyBoost = 25.0

// DefaultPolicy returns the stock scoring policy.
func DefaultPolicy() Policy {
	return Policy{
		Weights: Weights{
			Geography:  35,
			Size:       25,
			Service:    25,
			OwnerGoals: 15,
		},
		GeographyFloor: 10,
		RegionalCredit: 65,
		NeutralScore:   50,
		SizeDecay:      0.5,
		IndustryTiers: map[string]int{
			"technology":         1,
			"software":           1,
			"healthcare":         1,
			"home service":       2,
			"manufacturing":      2,
			"logistics":          2,
			"restaurant":         3,
			"retail":             3,
			"print media":        3,
		},
		TierAdjustments: map[int]float64{
			1: 12,
			2: 0,
			3: -5,
		},
		ProxyBoosts: []ProxyBoostBucket{
			{MaxEmployees: 9, Points: 8},
			{MaxEmployees: 49, Points: 14},
			{MaxEmployees: 199, Points: 20},
			{MaxEmployees: 0, Points: 25},
		},
		Synonyms: map[string]string{
			"tech":            "technology",
			"it":              "technology",
			"saas":            "software",
			"medical":         "healthcare",
			"health care":     "healthcare",
			"hvac":            "home service",
			"plumbing":        "home service",
			"landscaping":     "home service",
			"trucking":        "logistics",
			"transportation":  "logistics",
			"ecommerce":       "retail",
			"e-commerce":      "retail",
			"food service":    "restaurant",
		},
		Regions: map[string]string{
			"california": "west",
			"oregon":     "west",
			"washington": "west",
			"nevada":     "west",
			"arizona":    "southwest",
			"new mexico": "southwest",
			"texas":      "southwest",
			"florida":    "southeast",
			"georgia":    "southeast",
			"tennessee":  "southeast",
			"new york":   "northeast",
			"new jersey": "northeast",
			"massachusetts": "northeast",
			"illinois":   "midwest",
			"ohio":       "midwest",
			"michigan":   "midwest",
		},
		TierAThreshold: 80,
		TierBThreshold: 60,
		TierCThreshold: 40,
	}
}

// LoadPolicy reads a policy overlay from a YAML file on top of the
// defaults. An empty path returns the defaults unchanged.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read scoring policy: %w", err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, fmt.Errorf("failed to parse scoring policy: %w", err)
	}

	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

// Validate rejects policies that would violate score integrity.
func (p Policy) Validate() error {
	if p.Weights.Sum() != 100 {
		return fmt.Errorf("scoring weights sum to %.1f, want 100", p.Weights.Sum())
	}
	if p.GeographyFloor < 0 || p.GeographyFloor > 100 {
		return fmt.Errorf("geography floor %.1f outside [0,100]", p.GeographyFloor)
	}
	for _, bucket := range p.ProxyBoosts {
		if bucket.Points < 0 || bucket.Points > MaxProxyBoost {
			return fmt.Errorf("proxy boost %.1f outside [0,%.0f]", bucket.Points, MaxProxyBoost)
		}
	}
	return nil
}
