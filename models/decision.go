package models

// Decision is the verdict of the decision engine. Exactly one of the three
// values is produced per request; deny conditions win regardless of risk.
type Decision string

const (
	DecisionAllow            Decision = "allow"
	DecisionRequiresApproval Decision = "requires_approval"
	DecisionDeny             Decision = "deny"
)

// Reason codes attached to a DecisionResult. Sorted and de-duplicated;
// empty for an allow verdict.
const (
	ReasonTaskTypeNotAllowed       = "task_type_not_allowed"
	ReasonScopeMismatch            = "scope_mismatch"
	ReasonNetworkNotAllowed        = "network_not_allowed"
	ReasonHighRiskRequiresApproval = "high_risk_requires_approval"
	ReasonPolicyUnavailable        = "policy_unavailable"
)

// Subject describes who is asking for a task to run
type Subject struct {
	TenantID     string `json:"tenant_id"`
	Scope        string `json:"scope"`
	Role         string `json:"role"`
	NetworkAdmin bool   `json:"network_admin"`
}

// Resource describes what the request wants to run. WorkflowID is optional;
// when empty, only wildcard rules can match the request.
type Resource struct {
	TenantID   string `json:"tenant_id"`
	Scope      string `json:"scope"`
	TaskType   string `json:"task_type"`
	WorkflowID string `json:"workflow_id,omitempty"`
}

// RequestContext carries the execution context of a decision request
type RequestContext struct {
	NetworkEnabled bool   `json:"network_enabled"`
	PayloadSize    int64  `json:"payload_size"`
	RequestID      string `json:"request_id"`
}

// DecisionRequest is the transient input of one engine evaluation.
// It is never persisted; only the resulting audit event is.
type DecisionRequest struct {
	Subject  Subject        `json:"subject"`
	Resource Resource       `json:"resource"`
	Action   string         `json:"action"`
	Context  RequestContext `json:"context"`
}

// DecisionResult is the transient output of one engine evaluation.
// Allow and RequiresApproval are redundant projections of Decision kept for
// caller convenience.
type DecisionResult struct {
	PolicyID         string   `json:"policy_id"`
	PolicyVersion    string   `json:"policy_version"`
	Decision         Decision `json:"decision"`
	Allow            bool     `json:"allow"`
	RequiresApproval bool     `json:"requires_approval"`
	RiskScore        int      `json:"risk_score"`
	Reasons          []string `json:"reasons"`
}
