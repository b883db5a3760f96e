package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Queue Entity Types
// ============================================================================

// QueueEntityType identifies which table a queue item's entity lives in.
type QueueEntityType string

const (
	QueueEntityTypeDeal  QueueEntityType = "deal"
	QueueEntityTypeBuyer QueueEntityType = "buyer"
)

// ============================================================================
// Work Types
// ============================================================================

// WorkType is the kind of enrichment work a queue item requests.
type WorkType string

const (
	WorkTypeDealEnrichment   WorkType = "deal_enrichment"
	WorkTypeBuyerEnrichment  WorkType = "buyer_enrichment"
	WorkTypeScoringRecompute WorkType = "scoring_recompute"
)

// ValidWorkTypes contains all valid work type values.
var ValidWorkTypes = []WorkType{
	WorkTypeDealEnrichment,
	WorkTypeBuyerEnrichment,
	WorkTypeScoringRecompute,
}

// IsValidWorkType checks if the given work type is valid.
func IsValidWorkType(w WorkType) bool {
	for _, v := range ValidWorkTypes {
		if v == w {
			return true
		}
	}
	return false
}

// ============================================================================
// Queue Status
// ============================================================================

// QueueStatus is a queue item's lifecycle state.
// State machine:
//
//	pending → processing → completed
//	               ↓
//	            failed (terminal after MaxAttempts)
//	               ↓
//	            pending (retry, release, or zombie recovery)
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed"
)

// ActiveQueueStatuses are the statuses counted by the one-active-item-per-
// entity constraint.
var ActiveQueueStatuses = []QueueStatus{QueueStatusPending, QueueStatusProcessing}

// ============================================================================
// QueueItem
// ============================================================================

// MaxQueueAttempts is the retry ceiling. An item that fails with retry
// requested this many times becomes terminally failed.
const MaxQueueAttempts = 3

// QueueItem is one unit of enrichment work referencing exactly one deal or
// buyer. At most one active (pending or processing) item exists per entity,
// enforced by a partial unique index.
type QueueItem struct {
	ID         uuid.UUID       `json:"id"`
	EntityType QueueEntityType `json:"entity_type"`
	EntityID   uuid.UUID       `json:"entity_id"`
	WorkType   WorkType        `json:"work_type"`

	Status   QueueStatus `json:"status"`
	Priority int         `json:"priority"`

	AttemptCount int     `json:"attempt_count"`
	LastError    *string `json:"last_error,omitempty"`

	// Result payload stored on completion, if the worker produced one.
	Result []byte `json:"result,omitempty"`

	QueuedAt    time.Time  `json:"queued_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Active reports whether the item still occupies the per-entity slot.
func (q *QueueItem) Active() bool {
	return q.Status == QueueStatusPending || q.Status == QueueStatusProcessing
}

// Terminal reports whether the item reached a final state.
func (q *QueueItem) Terminal() bool {
	return q.Status == QueueStatusCompleted || q.Status == QueueStatusFailed
}
