package engine

import (
	"github.com/taskops/policy-core/models"
)

// Snapshot is the immutable rule set one engine evaluation runs against.
// The distributor installs a new Snapshot by swapping a single atomic
// reference; nothing ever mutates a Snapshot after construction, so readers
// holding one are never exposed to a partial update.
type Snapshot struct {
	revisionID string
	rules      []*models.PolicyRule

	// byTaskType indexes enabled rules for the hot path.
	byTaskType map[string][]*models.PolicyRule
}

// EmptySnapshot is what the engine sees before the first successful poll:
// no revision, no dynamic rules.
func EmptySnapshot() *Snapshot {
	return NewSnapshot("", nil)
}

// NewSnapshot builds an immutable snapshot from a revision's rules.
// The rule slice is copied; callers may keep mutating their own copy.
func NewSnapshot(revisionID string, rules []*models.PolicyRule) *Snapshot {
	s := &Snapshot{
		revisionID: revisionID,
		rules:      make([]*models.PolicyRule, 0, len(rules)),
		byTaskType: make(map[string][]*models.PolicyRule),
	}
	for _, rule := range rules {
		if rule == nil {
			continue
		}
		s.rules = append(s.rules, rule)
		if rule.Enabled {
			s.byTaskType[rule.TaskType] = append(s.byTaskType[rule.TaskType], rule)
		}
	}
	return s
}

// RevisionID returns the registry revision the snapshot was built from,
// or an empty string before the first publish.
func (s *Snapshot) RevisionID() string {
	return s.revisionID
}

// Rules returns the frozen rule list, enabled or not
func (s *Snapshot) Rules() []*models.PolicyRule {
	return s.rules
}

// RuleCount returns the total number of rules in the snapshot
func (s *Snapshot) RuleCount() int {
	return len(s.rules)
}

// TaskTypeAllowed reports whether an enabled rule allows the task type for
// the given workflow. A rule matches on an exact workflow_id or a wildcard.
func (s *Snapshot) TaskTypeAllowed(workflowID, taskType string) bool {
	if taskType == "" {
		return false
	}
	for _, rule := range s.byTaskType[taskType] {
		if rule.MatchesWorkflow(workflowID) {
			return true
		}
	}
	return false
}
