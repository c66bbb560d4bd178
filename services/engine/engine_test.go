package engine

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskops/policy-core/models"
)

func testEngine() *Engine {
	return New(Config{
		BaselineTaskTypes: []string{"echo"},
		ApprovalThreshold: 40,
		DenyThreshold:     80,
	})
}

func snapshotWith(rules ...*models.PolicyRule) *Snapshot {
	return NewSnapshot("rev-1", rules)
}

func allowRule(workflowID, taskType string) *models.PolicyRule {
	rule := models.NewPolicyRule(models.RuleKey{
		WorkflowID:   workflowID,
		TaskType:     taskType,
		TenantID:     models.Wildcard,
		ScopePattern: models.Wildcard,
	})
	return rule
}

func TestDecide_EmptyTaskTypeDenied(t *testing.T) {
	eng := testEngine()

	result := eng.Decide(models.DecisionRequest{}, snapshotWith())

	assert.Equal(t, models.DecisionDeny, result.Decision)
	assert.False(t, result.Allow)
	assert.False(t, result.RequiresApproval)
	assert.Contains(t, result.Reasons, models.ReasonTaskTypeNotAllowed)
}

func TestDecide_UnknownTaskTypeDenied(t *testing.T) {
	eng := testEngine()
	snap := snapshotWith(allowRule("wf1", "security_digest_mail"))

	result := eng.Decide(models.DecisionRequest{
		Resource: models.Resource{TaskType: "unknown_task"},
	}, snap)

	assert.Equal(t, models.DecisionDeny, result.Decision)
	assert.Equal(t, []string{models.ReasonTaskTypeNotAllowed}, result.Reasons)
}

func TestDecide_RegistryRuleAllows(t *testing.T) {
	eng := testEngine()
	snap := snapshotWith(allowRule(models.Wildcard, "security_digest_mail"))

	result := eng.Decide(models.DecisionRequest{
		Resource: models.Resource{TaskType: "security_digest_mail"},
	}, snap)

	assert.Equal(t, models.DecisionAllow, result.Decision)
	assert.True(t, result.Allow)
	assert.Empty(t, result.Reasons)
	assert.Equal(t, "rev-1", result.PolicyVersion)
	assert.Equal(t, PolicyID, result.PolicyID)
}

func TestDecide_BaselineAllows(t *testing.T) {
	eng := testEngine()

	result := eng.Decide(models.DecisionRequest{
		Resource: models.Resource{TaskType: "echo"},
	}, EmptySnapshot())

	assert.Equal(t, models.DecisionAllow, result.Decision)
	assert.Equal(t, BaselineVersion, result.PolicyVersion)
}

func TestDecide_WorkflowScopedRule(t *testing.T) {
	eng := testEngine()
	snap := snapshotWith(allowRule("wf1", "report_export"))

	t.Run("matching workflow allowed", func(t *testing.T) {
		result := eng.Decide(models.DecisionRequest{
			Resource: models.Resource{TaskType: "report_export", WorkflowID: "wf1"},
		}, snap)
		assert.Equal(t, models.DecisionAllow, result.Decision)
	})

	t.Run("other workflow denied", func(t *testing.T) {
		result := eng.Decide(models.DecisionRequest{
			Resource: models.Resource{TaskType: "report_export", WorkflowID: "wf2"},
		}, snap)
		assert.Equal(t, models.DecisionDeny, result.Decision)
		assert.Contains(t, result.Reasons, models.ReasonTaskTypeNotAllowed)
	})
}

func TestDecide_DisabledRuleDoesNotAllow(t *testing.T) {
	eng := testEngine()
	rule := allowRule(models.Wildcard, "report_export")
	rule.Enabled = false

	result := eng.Decide(models.DecisionRequest{
		Resource: models.Resource{TaskType: "report_export"},
	}, snapshotWith(rule))

	assert.Equal(t, models.DecisionDeny, result.Decision)
}

func TestDecide_ScopeMismatchDenied(t *testing.T) {
	eng := testEngine()

	result := eng.Decide(models.DecisionRequest{
		Subject:  models.Subject{Scope: "team-a"},
		Resource: models.Resource{TaskType: "echo", Scope: "team-b"},
	}, EmptySnapshot())

	assert.Equal(t, models.DecisionDeny, result.Decision)
	assert.Contains(t, result.Reasons, models.ReasonScopeMismatch)
}

func TestDecide_ScopeEmptyOnEitherSideIsNotAMismatch(t *testing.T) {
	eng := testEngine()

	for _, req := range []models.DecisionRequest{
		{Subject: models.Subject{Scope: ""}, Resource: models.Resource{TaskType: "echo", Scope: "team-b"}},
		{Subject: models.Subject{Scope: "team-a"}, Resource: models.Resource{TaskType: "echo", Scope: ""}},
	} {
		result := eng.Decide(req, EmptySnapshot())
		assert.NotContains(t, result.Reasons, models.ReasonScopeMismatch)
	}
}

func TestDecide_NetworkWithoutAdminDenied(t *testing.T) {
	eng := testEngine()

	result := eng.Decide(models.DecisionRequest{
		Resource: models.Resource{TaskType: "echo"},
		Context:  models.RequestContext{NetworkEnabled: true},
	}, EmptySnapshot())

	assert.Equal(t, models.DecisionDeny, result.Decision)
	assert.Contains(t, result.Reasons, models.ReasonNetworkNotAllowed)
}

func TestDecide_NetworkAdminMayUseNetwork(t *testing.T) {
	eng := testEngine()

	result := eng.Decide(models.DecisionRequest{
		Subject:  models.Subject{NetworkAdmin: true},
		Resource: models.Resource{TaskType: "echo"},
		Context:  models.RequestContext{NetworkEnabled: true},
	}, EmptySnapshot())

	// Network alone scores 40, which lands in the approval band.
	assert.Equal(t, models.DecisionRequiresApproval, result.Decision)
	assert.True(t, result.RequiresApproval)
	assert.Equal(t, 40, result.RiskScore)
	assert.Equal(t, []string{models.ReasonHighRiskRequiresApproval}, result.Reasons)
}

func TestDecide_RiskBands(t *testing.T) {
	// Thresholds wide enough that single factors stay below approval.
	eng := New(Config{
		BaselineTaskTypes: []string{"echo"},
		ApprovalThreshold: 40,
		DenyThreshold:     80,
	})

	t.Run("below approval threshold allows", func(t *testing.T) {
		result := eng.Decide(models.DecisionRequest{
			Resource: models.Resource{TaskType: "echo", Scope: "admin:ops"},
		}, EmptySnapshot())
		assert.Equal(t, 10, result.RiskScore)
		assert.Equal(t, models.DecisionAllow, result.Decision)
	})

	t.Run("network plus admin scope requires approval", func(t *testing.T) {
		result := eng.Decide(models.DecisionRequest{
			Subject:  models.Subject{NetworkAdmin: true},
			Resource: models.Resource{TaskType: "echo", Scope: "admin:ops"},
			Context:  models.RequestContext{NetworkEnabled: true},
		}, EmptySnapshot())
		assert.Equal(t, 50, result.RiskScore)
		assert.Equal(t, models.DecisionRequiresApproval, result.Decision)
	})

	t.Run("at deny threshold denies", func(t *testing.T) {
		// network 40 + admin 10 + large payload 20 + ... need >= 80 without
		// tripping a hard deny: lower the deny threshold instead.
		strict := New(Config{
			BaselineTaskTypes: []string{"echo"},
			ApprovalThreshold: 10,
			DenyThreshold:     50,
		})
		result := strict.Decide(models.DecisionRequest{
			Subject:  models.Subject{NetworkAdmin: true},
			Resource: models.Resource{TaskType: "echo", Scope: "admin:ops"},
			Context:  models.RequestContext{NetworkEnabled: true},
		}, EmptySnapshot())
		assert.Equal(t, 50, result.RiskScore)
		assert.Equal(t, models.DecisionDeny, result.Decision)
		assert.Equal(t, []string{models.ReasonHighRiskRequiresApproval}, result.Reasons)
	})
}

func TestDecide_DenyBeatsRiskScore(t *testing.T) {
	// A scope mismatch denies even when the risk score alone would allow.
	eng := testEngine()

	result := eng.Decide(models.DecisionRequest{
		Subject:  models.Subject{Scope: "team-a"},
		Resource: models.Resource{TaskType: "echo", Scope: "team-b"},
	}, EmptySnapshot())

	assert.Equal(t, models.DecisionDeny, result.Decision)
	assert.Less(t, result.RiskScore, 40)
}

func TestDecide_ReasonsSortedAndDeduplicated(t *testing.T) {
	eng := testEngine()

	result := eng.Decide(models.DecisionRequest{
		Subject:  models.Subject{Scope: "team-a"},
		Resource: models.Resource{TaskType: "unknown", Scope: "team-b"},
		Context:  models.RequestContext{NetworkEnabled: true},
	}, EmptySnapshot())

	require.Equal(t, models.DecisionDeny, result.Decision)
	assert.True(t, sort.StringsAreSorted(result.Reasons))

	seen := make(map[string]int)
	for _, reason := range result.Reasons {
		seen[reason]++
	}
	for reason, count := range seen {
		assert.Equal(t, 1, count, "duplicate reason %s", reason)
	}
	assert.ElementsMatch(t, []string{
		models.ReasonTaskTypeNotAllowed,
		models.ReasonScopeMismatch,
		models.ReasonNetworkNotAllowed,
	}, result.Reasons)
}

func TestDecide_NilSnapshot(t *testing.T) {
	eng := testEngine()

	result := eng.Decide(models.DecisionRequest{
		Resource: models.Resource{TaskType: "echo"},
	}, nil)

	assert.Equal(t, models.DecisionAllow, result.Decision)
	assert.Equal(t, BaselineVersion, result.PolicyVersion)
}

// Scenario: upsert wf1/security_digest_mail, publish rev-1, then decide.
func TestDecide_PublishedRuleScenario(t *testing.T) {
	eng := testEngine()
	snap := NewSnapshot("rev-1", []*models.PolicyRule{
		allowRule("wf1", "security_digest_mail"),
	})

	allowResult := eng.Decide(models.DecisionRequest{
		Resource: models.Resource{TaskType: "security_digest_mail", WorkflowID: "wf1"},
	}, snap)
	assert.Equal(t, models.DecisionAllow, allowResult.Decision)
	assert.Equal(t, "rev-1", allowResult.PolicyVersion)

	denyResult := eng.Decide(models.DecisionRequest{
		Resource: models.Resource{TaskType: "unknown_task", WorkflowID: "wf1"},
	}, snap)
	assert.Equal(t, models.DecisionDeny, denyResult.Decision)
	assert.Equal(t, []string{models.ReasonTaskTypeNotAllowed}, denyResult.Reasons)
}

func TestSnapshot_TaskTypeAllowed(t *testing.T) {
	snap := NewSnapshot("rev-x", []*models.PolicyRule{
		allowRule("wf1", "alpha"),
		allowRule(models.Wildcard, "beta"),
	})

	assert.True(t, snap.TaskTypeAllowed("wf1", "alpha"))
	assert.False(t, snap.TaskTypeAllowed("wf2", "alpha"))
	assert.True(t, snap.TaskTypeAllowed("wf2", "beta"))
	assert.False(t, snap.TaskTypeAllowed("wf1", ""))
	assert.False(t, snap.TaskTypeAllowed("wf1", "gamma"))
}

func TestSnapshot_CopiesRuleSlice(t *testing.T) {
	rules := []*models.PolicyRule{allowRule(models.Wildcard, "alpha")}
	snap := NewSnapshot("rev-x", rules)

	rules[0] = nil
	assert.Equal(t, 1, snap.RuleCount())
	assert.True(t, snap.TaskTypeAllowed("wf1", "alpha"))
}
