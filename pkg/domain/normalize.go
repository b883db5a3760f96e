// Package domain canonicalizes free-text URLs and email addresses into
// comparable domain keys. The result is used both as the dedup identity key
// and by the matching engine, so Normalize must stay pure and deterministic.
package domain

import "strings"

// placeholders are values that look like input but carry no identity.
var placeholders = map[string]struct{}{
	"unknown": {},
	"n/a":     {},
	"na":      {},
	"tbd":     {},
	"pending": {},
	"none":    {},
	"null":    {},
	"-":       {},
}

// Normalize canonicalizes raw into a bare lower-case domain.
// It strips protocol, leading "www.", path, query, port, and trailing dot.
// Returns ok=false for empty input and for placeholder values. Malformed
// input degrades to best-effort stripping rather than an error.
func Normalize(raw string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", false
	}
	if _, ok := placeholders[s]; ok {
		return "", false
	}

	// Email address: keep only the domain part.
	if at := strings.LastIndex(s, "@"); at >= 0 {
		s = s[at+1:]
	}

	// Protocol.
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}

	// Path, query, fragment.
	for _, sep := range []string{"/", "?", "#"} {
		if i := strings.Index(s, sep); i >= 0 {
			s = s[:i]
		}
	}

	// Port.
	if i := strings.Index(s, ":"); i >= 0 {
		s = s[:i]
	}

	s = strings.TrimPrefix(s, "www.")
	s = strings.TrimSuffix(s, ".")
	s = strings.TrimSpace(s)

	if s == "" {
		return "", false
	}
	if _, ok := placeholders[s]; ok {
		return "", false
	}
	return s, true
}

// NormalizePtr is Normalize for nullable columns: it maps absent or
// placeholder input to nil so the value can be stored directly.
func NormalizePtr(raw *string) *string {
	if raw == nil {
		return nil
	}
	d, ok := Normalize(*raw)
	if !ok {
		return nil
	}
	return &d
}
