// Package engine implements the decision engine: a pure function turning a
// request, the active rule snapshot and a risk score into an
// allow/requires-approval/deny verdict. Deny conditions are checked before
// risk and win regardless of score.
package engine

import (
	"sort"

	"github.com/taskops/policy-core/models"
	"github.com/taskops/policy-core/services/risk"
)

// PolicyID identifies the task-execution policy in decision results and
// audit events.
const PolicyID = "task-execution"

// BaselineVersion is reported as the policy version when no registry
// revision has been published yet.
const BaselineVersion = "baseline"

// Config holds the engine's static inputs
type Config struct {
	// BaselineTaskTypes is the static allow-list. A task type present here
	// is allowed even without a registry rule (union semantics).
	BaselineTaskTypes []string

	// ApprovalThreshold and DenyThreshold split the risk score into
	// allow / requires-approval / deny bands.
	ApprovalThreshold int
	DenyThreshold     int
}

// Engine evaluates decision requests against a rule snapshot. Decide is
// stateless and safe to call from any number of goroutines; the engine never
// blocks and never fails to reach a verdict.
type Engine struct {
	baseline          map[string]struct{}
	approvalThreshold int
	denyThreshold     int
	scorer            *risk.Scorer
}

// New creates a new Engine
func New(cfg Config) *Engine {
	baseline := make(map[string]struct{}, len(cfg.BaselineTaskTypes))
	for _, taskType := range cfg.BaselineTaskTypes {
		if taskType != "" {
			baseline[taskType] = struct{}{}
		}
	}
	return &Engine{
		baseline:          baseline,
		approvalThreshold: cfg.ApprovalThreshold,
		denyThreshold:     cfg.DenyThreshold,
		scorer:            risk.NewScorer(),
	}
}

// allowlist is the union of the static baseline and the snapshot rules
type allowlist struct {
	baseline map[string]struct{}
	snap     *Snapshot
}

func (a allowlist) TaskTypeAllowed(workflowID, taskType string) bool {
	if _, ok := a.baseline[taskType]; ok {
		return true
	}
	return a.snap != nil && a.snap.TaskTypeAllowed(workflowID, taskType)
}

// Decide evaluates one request against the snapshot. Deny conditions are
// checked in order and accumulate reasons; only when none trigger does the
// risk score pick the verdict.
func (e *Engine) Decide(req models.DecisionRequest, snap *Snapshot) models.DecisionResult {
	if snap == nil {
		snap = EmptySnapshot()
	}
	allowed := allowlist{baseline: e.baseline, snap: snap}

	reasons := make(map[string]struct{})

	taskType := req.Resource.TaskType
	if taskType == "" || !allowed.TaskTypeAllowed(req.Resource.WorkflowID, taskType) {
		reasons[models.ReasonTaskTypeNotAllowed] = struct{}{}
	}

	if req.Subject.Scope != "" && req.Resource.Scope != "" && req.Subject.Scope != req.Resource.Scope {
		reasons[models.ReasonScopeMismatch] = struct{}{}
	}

	if req.Context.NetworkEnabled && !req.Subject.NetworkAdmin {
		reasons[models.ReasonNetworkNotAllowed] = struct{}{}
	}

	score := e.scorer.Score(req, allowed)

	decision := models.DecisionAllow
	if len(reasons) > 0 {
		decision = models.DecisionDeny
	} else if score >= e.denyThreshold {
		decision = models.DecisionDeny
		reasons[models.ReasonHighRiskRequiresApproval] = struct{}{}
	} else if score >= e.approvalThreshold {
		decision = models.DecisionRequiresApproval
		reasons[models.ReasonHighRiskRequiresApproval] = struct{}{}
	}

	return models.DecisionResult{
		PolicyID:         PolicyID,
		PolicyVersion:    e.policyVersion(snap),
		Decision:         decision,
		Allow:            decision == models.DecisionAllow,
		RequiresApproval: decision == models.DecisionRequiresApproval,
		RiskScore:        score,
		Reasons:          sortedReasons(reasons),
	}
}

func (e *Engine) policyVersion(snap *Snapshot) string {
	if snap.RevisionID() == "" {
		return BaselineVersion
	}
	return snap.RevisionID()
}

func sortedReasons(set map[string]struct{}) []string {
	reasons := make([]string, 0, len(set))
	for reason := range set {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	return reasons
}
