package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Wildcard matches any workflow, tenant, or scope in a rule field.
const Wildcard = "*"

// RuleKey identifies a policy rule. Upserts with the same key update the
// existing row instead of inserting a new one.
type RuleKey struct {
	WorkflowID   string `json:"workflow_id"`
	TaskType     string `json:"task_type"`
	TenantID     string `json:"tenant_id"`
	ScopePattern string `json:"scope_pattern"`
}

// PolicyRule is one allow-list entry scoping a task type to a
// workflow/tenant/scope pattern. Deletes soft-disable the rule by default so
// the registry history stays auditable.
type PolicyRule struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	WorkflowID   string          `json:"workflow_id" db:"workflow_id"`
	TaskType     string          `json:"task_type" db:"task_type"`
	TenantID     string          `json:"tenant_id" db:"tenant_id"`
	ScopePattern string          `json:"scope_pattern" db:"scope_pattern"`
	Constraints  json.RawMessage `json:"constraints,omitempty" db:"constraints"`
	Enabled      bool            `json:"enabled" db:"enabled"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the PolicyRule model
func (PolicyRule) TableName() string {
	return "policy_rules"
}

// NewPolicyRule creates a new enabled PolicyRule for the given key
func NewPolicyRule(key RuleKey) *PolicyRule {
	now := time.Now().UTC()
	return &PolicyRule{
		ID:           uuid.New(),
		WorkflowID:   key.WorkflowID,
		TaskType:     key.TaskType,
		TenantID:     key.TenantID,
		ScopePattern: key.ScopePattern,
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Key returns the uniqueness key of the rule
func (r *PolicyRule) Key() RuleKey {
	return RuleKey{
		WorkflowID:   r.WorkflowID,
		TaskType:     r.TaskType,
		TenantID:     r.TenantID,
		ScopePattern: r.ScopePattern,
	}
}

// MatchesWorkflow reports whether the rule applies to the given workflow.
// A rule with a wildcard or empty workflow_id applies to every workflow.
func (r *PolicyRule) MatchesWorkflow(workflowID string) bool {
	return r.WorkflowID == Wildcard || r.WorkflowID == "" || r.WorkflowID == workflowID
}

// MatchesTenant reports whether the rule applies to the given tenant
func (r *PolicyRule) MatchesTenant(tenantID string) bool {
	return r.TenantID == Wildcard || r.TenantID == "" || r.TenantID == tenantID
}
