package models

import (
	"time"

	"github.com/google/uuid"
)

// PublishAction represents the registry operation being logged
type PublishAction string

const (
	PublishActionPublish  PublishAction = "publish"
	PublishActionRollback PublishAction = "rollback"
)

// PublishResult represents the outcome of a registry operation
type PublishResult string

const (
	PublishResultOK    PublishResult = "ok"
	PublishResultNoop  PublishResult = "noop"
	PublishResultError PublishResult = "error"
)

// PublishLogEntry is an append-only record of a registry publish or rollback.
// It audits the registry itself and is separate from the decision ledger.
type PublishLogEntry struct {
	ID         uuid.UUID     `json:"id" db:"id"`
	RevisionID string        `json:"revision_id" db:"revision_id"`
	Action     PublishAction `json:"action" db:"action"`
	Actor      string        `json:"actor" db:"actor"`
	Result     PublishResult `json:"result" db:"result"`
	Details    string        `json:"details,omitempty" db:"details"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the PublishLogEntry model
func (PublishLogEntry) TableName() string {
	return "publish_log"
}

// NewPublishLogEntry creates a new PublishLogEntry
func NewPublishLogEntry(revisionID string, action PublishAction, actor string, result PublishResult, details string) *PublishLogEntry {
	return &PublishLogEntry{
		ID:         uuid.New(),
		RevisionID: revisionID,
		Action:     action,
		Actor:      actor,
		Result:     result,
		Details:    details,
		CreatedAt:  time.Now().UTC(),
	}
}
