package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RevisionStatus represents the lifecycle state of a policy revision
type RevisionStatus string

const (
	RevisionStatusDraft     RevisionStatus = "draft"
	RevisionStatusPublished RevisionStatus = "published"
	RevisionStatusArchived  RevisionStatus = "archived"
)

// PolicyRevision is an immutable snapshot of all rules at a publish point.
// At most one revision is active at any time; publishing a new revision
// deactivates the previous one in the same transaction. History is never
// rewritten; a rollback is a fresh revision carrying an old payload.
type PolicyRevision struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	RevisionID  string          `json:"revision_id" db:"revision_id"`
	Status      RevisionStatus  `json:"status" db:"status"`
	Payload     json.RawMessage `json:"payload" db:"payload"`
	Author      string          `json:"author" db:"author"`
	Notes       string          `json:"notes" db:"notes"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	PublishedAt time.Time       `json:"published_at" db:"published_at"`
	IsActive    bool            `json:"is_active" db:"is_active"`
}

// TableName returns the table name for the PolicyRevision model
func (PolicyRevision) TableName() string {
	return "policy_revisions"
}

// NewPublishedRevision freezes the given rules into a new active revision
func NewPublishedRevision(revisionID, author, notes string, rules []*PolicyRule) (*PolicyRevision, error) {
	if rules == nil {
		rules = []*PolicyRule{}
	}
	payload, err := json.Marshal(rules)
	if err != nil {
		return nil, fmt.Errorf("failed to freeze rules into revision payload: %w", err)
	}

	now := time.Now().UTC()
	return &PolicyRevision{
		ID:          uuid.New(),
		RevisionID:  revisionID,
		Status:      RevisionStatusPublished,
		Payload:     payload,
		Author:      author,
		Notes:       notes,
		CreatedAt:   now,
		PublishedAt: now,
		IsActive:    true,
	}, nil
}

// Rules decodes the frozen payload back into rules
func (r *PolicyRevision) Rules() ([]*PolicyRule, error) {
	if len(r.Payload) == 0 {
		return []*PolicyRule{}, nil
	}
	var rules []*PolicyRule
	if err := json.Unmarshal(r.Payload, &rules); err != nil {
		return nil, fmt.Errorf("failed to decode revision payload: %w", err)
	}
	return rules, nil
}

// RuleCount returns the number of rules frozen into the revision
func (r *PolicyRevision) RuleCount() int {
	rules, err := r.Rules()
	if err != nil {
		return 0
	}
	return len(rules)
}
