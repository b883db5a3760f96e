package scoring

import (
	"strings"

	"github.com/jinzhu/inflection"
)

// canonicalTag reduces a service/industry tag to its comparable form:
// lower-cased, trimmed, singularized, then folded through the synonym
// table ("tech" and "technologies" both land on "technology").
func (p Policy) canonicalTag(tag string) string {
	s := strings.ToLower(strings.TrimSpace(tag))
	if s == "" {
		return ""
	}
	// Synonym lookup runs before singularization too: acronyms like "saas"
	// end in s without being plural.
	if canonical, ok := p.Synonyms[s]; ok {
		return canonical
	}
	s = inflection.Singular(s)
	if canonical, ok := p.Synonyms[s]; ok {
		return canonical
	}
	return s
}

// canonicalTags maps canonicalTag over a list, dropping empties.
func (p Policy) canonicalTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if c := p.canonicalTag(tag); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// normalizeTag lower-cases and trims without singularizing. Place names
// keep their spelling ("texas" is not a plural).
func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// normalizeTags maps normalizeTag over a list, dropping empties.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if n := normalizeTag(tag); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// tagsOverlap scores two canonical tags: exact match full credit, shared
// word partial credit, nothing otherwise.
func tagsOverlap(a, b string) float64 {
	if a == b {
		return 100
	}

	aWords := strings.Fields(a)
	bWords := strings.Fields(b)
	for _, aw := range aWords {
		for _, bw := range bWords {
			if aw == bw {
				return 70
			}
		}
	}
	return 0
}
