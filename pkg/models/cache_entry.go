package models

import "time"

// CacheEntry is one cached external enrichment response keyed by a hash of
// (provider, model, normalized prompt). TTL is fixed at write time; hits
// bump the counter and LastHitAt but never extend ExpiresAt.
type CacheEntry struct {
	Key     string `json:"key"`
	Payload []byte `json:"payload"`

	HitCount  int        `json:"hit_count"`
	LastHitAt *time.Time `json:"last_hit_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry is past its expiry at the given instant.
func (e *CacheEntry) Expired(now time.Time) bool {
	return e.ExpiresAt.Before(now)
}
