package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction identifies what kind of event an audit entry records.
const (
	AuditActionEnrichment    = "enrichment"
	AuditActionScoreDeletion = "score_deletion"
	AuditActionDedupArchive  = "dedup_archive"
	AuditActionDedupMigrate  = "dedup_migrate"
)

// AuditEntry is one append-only record of an enrichment attempt or an
// integrity-relevant mutation (score hard delete, dedup archive/migration).
// Written by the core, read only by external reporting.
type AuditEntry struct {
	ID         uuid.UUID       `json:"id"`
	Action     string          `json:"action"`
	EntityType QueueEntityType `json:"entity_type"`
	EntityID   uuid.UUID       `json:"entity_id"`

	// Enrichment attempts record which fields were attempted, which were
	// actually written, and which were blocked (e.g. lower confidence than
	// the stored value).
	FieldsAttempted []string `json:"fields_attempted,omitempty"`
	FieldsUpdated   []string `json:"fields_updated,omitempty"`
	FieldsBlocked   []string `json:"fields_blocked,omitempty"`

	Outcome string  `json:"outcome"`
	Error   *string `json:"error,omitempty"`

	// Dedup migrations record the winner an FK was moved to.
	RelatedID *uuid.UUID `json:"related_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
