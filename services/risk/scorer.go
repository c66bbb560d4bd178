package risk

import (
	"strings"

	"github.com/taskops/policy-core/models"
)

// Factor weights. A request's score is the sum of every triggered factor,
// so the maximum is the sum of all weights.
const (
	WeightNetwork      = 40
	WeightUnknownTask  = 35
	WeightAdminScope   = 10
	WeightLargePayload = 20

	// MaxScore is the score when every factor triggers at once.
	MaxScore = WeightNetwork + WeightUnknownTask + WeightAdminScope + WeightLargePayload

	// LargePayloadBytes is the payload size above which the large-payload
	// factor triggers.
	LargePayloadBytes = 100000

	adminScopePrefix = "admin:"
)

// Allowlist reports whether a task type may run under a workflow.
// The engine passes the union of its static baseline and the currently
// active registry snapshot.
type Allowlist interface {
	TaskTypeAllowed(workflowID, taskType string) bool
}

// Scorer turns a decision request into an integer risk score. It is a pure
// function of its inputs: no state, no side effects, same score for the
// same request every time.
type Scorer struct{}

// NewScorer creates a new Scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score sums the weighted risk factors triggered by the request. Missing
// fields contribute nothing; the result is always in [0, MaxScore].
func (s *Scorer) Score(req models.DecisionRequest, allowed Allowlist) int {
	score := 0

	if req.Context.NetworkEnabled {
		score += WeightNetwork
	}

	taskType := req.Resource.TaskType
	if taskType != "" && (allowed == nil || !allowed.TaskTypeAllowed(req.Resource.WorkflowID, taskType)) {
		score += WeightUnknownTask
	}

	if strings.HasPrefix(req.Resource.Scope, adminScopePrefix) {
		score += WeightAdminScope
	}

	if req.Context.PayloadSize > LargePayloadBytes {
		score += WeightLargePayload
	}

	return score
}
