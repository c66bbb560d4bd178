// Package registry manages the dynamic policy rule set: rule upserts and
// deletes, immutable published revisions, rollback, and the candidates
// discovery aid. Mutations that span tables run inside one transaction so the
// single-active-revision invariant holds under concurrent publishes.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/taskops/policy-core/models"
	"github.com/taskops/policy-core/repositories"
	"github.com/taskops/policy-core/services"
	"go.uber.org/zap"
)

// Ledger records registry actions into the audit chain. Satisfied by the
// ledger service; append failures are logged but never roll back the registry
// mutation, since the ledger may live on a separate database.
type Ledger interface {
	Append(ctx context.Context, event *models.AuditEvent) (*models.AuditEvent, error)
}

// UpsertOutcome reports whether an upsert created or updated a rule
type UpsertOutcome struct {
	Rule    *models.PolicyRule `json:"rule"`
	Created bool               `json:"created"`
}

// PublishOutcome is the result of a publish or rollback. Noop is set when the
// revision id had already been published; the original publish stands.
type PublishOutcome struct {
	RevisionID     string `json:"revision_id"`
	PublishedCount int    `json:"published_count"`
	Noop           bool   `json:"noop"`
}

// CurrentSnapshot is the active revision's frozen rule set. RevisionID is
// empty when nothing has been published yet.
type CurrentSnapshot struct {
	RevisionID  string               `json:"revision_id"`
	Rules       []*models.PolicyRule `json:"rules"`
	PublishedAt time.Time            `json:"published_at,omitempty"`
}

// Candidates lists task types and workflows seen by the system, as an aid
// for operators drafting new rules.
type Candidates struct {
	ObservedTaskTypes []string `json:"observed_task_types"`
	RuleTaskTypes     []string `json:"rule_task_types"`
	WorkflowIDs       []string `json:"workflow_ids"`
}

// Service implements the policy registry
type Service struct {
	rules        repositories.RuleRepository
	revisions    repositories.RevisionRepository
	publishLog   repositories.PublishLogRepository
	observations repositories.ObservationRepository
	txManager    repositories.TransactionManager
	ledger       Ledger
	logger       *zap.Logger
}

// NewService creates a new registry Service. ledger may be nil in tests.
func NewService(
	repos *repositories.Repositories,
	txManager repositories.TransactionManager,
	ledger Ledger,
	logger *zap.Logger,
) *Service {
	return &Service{
		rules:        repos.Rules,
		revisions:    repos.Revisions,
		publishLog:   repos.PublishLog,
		observations: repos.Observations,
		txManager:    txManager,
		ledger:       ledger,
		logger:       logger,
	}
}

// Upsert inserts or updates a rule on its uniqueness key. Re-upserting an
// existing key refreshes constraints, enabled and updated_at in place.
func (s *Service) Upsert(ctx context.Context, rule *models.PolicyRule, actor string) (*UpsertOutcome, error) {
	if err := validateKey(rule.Key()); err != nil {
		return nil, err
	}
	if actor == "" {
		return nil, services.ErrMissingActor
	}
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}

	created, err := s.rules.Upsert(ctx, rule)
	if err != nil {
		return nil, services.WrapInternal("failed to upsert policy rule", err)
	}

	s.recordAction(ctx, actor, models.AuditActionRegistryUpsert, ruleTarget(rule.Key()))
	s.logger.Info("policy rule upserted",
		zap.String("task_type", rule.TaskType),
		zap.String("workflow_id", rule.WorkflowID),
		zap.String("actor", actor),
		zap.Bool("created", created))

	return &UpsertOutcome{Rule: rule, Created: created}, nil
}

// Delete removes a rule. The default is a soft disable so history stays
// auditable; hard deletes remove the row entirely.
func (s *Service) Delete(ctx context.Context, key models.RuleKey, actor string, hard bool) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if actor == "" {
		return services.ErrMissingActor
	}

	var err error
	if hard {
		err = s.rules.HardDelete(ctx, key)
	} else {
		err = s.rules.Disable(ctx, key)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return services.ErrRuleNotFound.WithDetail("task_type", key.TaskType)
		}
		return services.WrapInternal("failed to delete policy rule", err)
	}

	s.recordAction(ctx, actor, models.AuditActionRegistryDelete, ruleTarget(key))
	s.logger.Info("policy rule deleted",
		zap.String("task_type", key.TaskType),
		zap.String("workflow_id", key.WorkflowID),
		zap.String("actor", actor),
		zap.Bool("hard", hard))
	return nil
}

// Get retrieves a rule by its uniqueness key
func (s *Service) Get(ctx context.Context, key models.RuleKey) (*models.PolicyRule, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	rule, err := s.rules.GetByKey(ctx, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, services.ErrRuleNotFound.WithDetail("task_type", key.TaskType)
		}
		return nil, services.WrapInternal("failed to get policy rule", err)
	}
	return rule, nil
}

// List retrieves all rules, disabled ones included
func (s *Service) List(ctx context.Context) ([]*models.PolicyRule, error) {
	rules, err := s.rules.List(ctx)
	if err != nil {
		return nil, services.WrapInternal("failed to list policy rules", err)
	}
	if rules == nil {
		rules = []*models.PolicyRule{}
	}
	return rules, nil
}

// Publish freezes the enabled rules into a new active revision. The
// deactivation of the prior active revision, the revision insert and the
// publish log entry commit in one transaction. Publishing an id that already
// exists is an idempotent no-op: the original revision stands and no second
// success entry is logged.
func (s *Service) Publish(ctx context.Context, revisionID, actor, notes string) (*PublishOutcome, error) {
	if actor == "" {
		return nil, services.ErrMissingActor
	}
	if revisionID == "" {
		revisionID = "rev-" + uuid.New().String()
	}

	if existing, err := s.revisions.GetByRevisionID(ctx, revisionID); err == nil && existing != nil {
		s.logger.Info("publish no-op, revision already exists",
			zap.String("revision_id", revisionID),
			zap.String("actor", actor))
		return &PublishOutcome{
			RevisionID:     revisionID,
			PublishedCount: existing.RuleCount(),
			Noop:           true,
		}, nil
	} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, services.WrapInternal("failed to check existing revision", err)
	}

	enabled, err := s.rules.ListEnabled(ctx)
	if err != nil {
		return nil, services.WrapInternal("failed to list rules for publish", err)
	}

	revision, err := models.NewPublishedRevision(revisionID, actor, notes, enabled)
	if err != nil {
		return nil, services.WrapInternal("failed to build revision", err)
	}

	err = s.txManager.InTransaction(ctx, func(txCtx context.Context, tx repositories.Transaction) error {
		// The single-active unique index is checked at insert time, so the
		// prior active revision must be cleared before the new one goes in.
		if err := s.revisions.DeactivateAll(txCtx, revisionID); err != nil {
			return fmt.Errorf("failed to deactivate previous revisions: %w", err)
		}
		if err := s.revisions.Create(txCtx, revision); err != nil {
			return fmt.Errorf("failed to create revision: %w", err)
		}
		entry := models.NewPublishLogEntry(revisionID, models.PublishActionPublish, actor, models.PublishResultOK, notes)
		if err := s.publishLog.Append(txCtx, entry); err != nil {
			return fmt.Errorf("failed to append publish log entry: %w", err)
		}
		return nil
	})
	if err != nil {
		// A concurrent publish of the same id can win the race after our
		// existence check. Re-read; if the revision is there now, this
		// publish is the idempotent loser.
		if existing, readErr := s.revisions.GetByRevisionID(ctx, revisionID); readErr == nil && existing != nil {
			return &PublishOutcome{
				RevisionID:     revisionID,
				PublishedCount: existing.RuleCount(),
				Noop:           true,
			}, nil
		}
		return nil, services.WrapInternal("failed to publish revision", err)
	}

	s.recordAction(ctx, actor, models.AuditActionRegistryPublish, "revision:"+revisionID)
	s.logger.Info("revision published",
		zap.String("revision_id", revisionID),
		zap.String("actor", actor),
		zap.Int("rule_count", len(enabled)))

	return &PublishOutcome{RevisionID: revisionID, PublishedCount: len(enabled)}, nil
}

// Rollback publishes a new revision carrying the payload of an older one.
// History is never rewritten; the rollback is itself an ordinary publish with
// its own revision id and a rollback log entry. Retrying with the same new
// revision id is an idempotent no-op, the same as a duplicate publish.
func (s *Service) Rollback(ctx context.Context, targetRevisionID, newRevisionID, actor string) (*PublishOutcome, error) {
	if actor == "" {
		return nil, services.ErrMissingActor
	}
	if targetRevisionID == "" {
		return nil, services.ErrInvalidRevisionID.WithDetail("field", "target_revision_id")
	}

	if newRevisionID != "" {
		if existing, err := s.revisions.GetByRevisionID(ctx, newRevisionID); err == nil && existing != nil {
			s.logger.Info("rollback no-op, revision already exists",
				zap.String("revision_id", newRevisionID),
				zap.String("actor", actor))
			return &PublishOutcome{
				RevisionID:     newRevisionID,
				PublishedCount: existing.RuleCount(),
				Noop:           true,
			}, nil
		} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, services.WrapInternal("failed to check existing revision", err)
		}
	}

	target, err := s.revisions.GetByRevisionID(ctx, targetRevisionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, services.ErrRevisionNotFound.WithDetail("revision_id", targetRevisionID)
		}
		return nil, services.WrapInternal("failed to load rollback target", err)
	}

	if newRevisionID == "" {
		newRevisionID = "rev-" + uuid.New().String()
	}

	now := time.Now().UTC()
	revision := &models.PolicyRevision{
		ID:          uuid.New(),
		RevisionID:  newRevisionID,
		Status:      models.RevisionStatusPublished,
		Payload:     target.Payload,
		Author:      actor,
		Notes:       "rollback to " + targetRevisionID,
		CreatedAt:   now,
		PublishedAt: now,
		IsActive:    true,
	}

	err = s.txManager.InTransaction(ctx, func(txCtx context.Context, tx repositories.Transaction) error {
		if err := s.revisions.DeactivateAll(txCtx, newRevisionID); err != nil {
			return fmt.Errorf("failed to deactivate previous revisions: %w", err)
		}
		if err := s.revisions.Create(txCtx, revision); err != nil {
			return fmt.Errorf("failed to create rollback revision: %w", err)
		}
		entry := models.NewPublishLogEntry(newRevisionID, models.PublishActionRollback, actor, models.PublishResultOK, "rollback to "+targetRevisionID)
		if err := s.publishLog.Append(txCtx, entry); err != nil {
			return fmt.Errorf("failed to append rollback log entry: %w", err)
		}
		return nil
	})
	if err != nil {
		if existing, readErr := s.revisions.GetByRevisionID(ctx, newRevisionID); readErr == nil && existing != nil {
			return &PublishOutcome{
				RevisionID:     newRevisionID,
				PublishedCount: existing.RuleCount(),
				Noop:           true,
			}, nil
		}
		return nil, services.WrapInternal("failed to roll back revision", err)
	}

	s.recordAction(ctx, actor, models.AuditActionRegistryRollback, "revision:"+newRevisionID)
	s.logger.Info("revision rolled back",
		zap.String("target_revision_id", targetRevisionID),
		zap.String("new_revision_id", newRevisionID),
		zap.String("actor", actor))

	return &PublishOutcome{RevisionID: newRevisionID, PublishedCount: revision.RuleCount()}, nil
}

// Current returns the active revision's frozen rule set, or an empty snapshot
// when nothing has been published yet.
func (s *Service) Current(ctx context.Context) (*CurrentSnapshot, error) {
	active, err := s.revisions.GetActive(ctx)
	if err != nil {
		return nil, services.WrapInternal("failed to load active revision", err)
	}
	if active == nil {
		return &CurrentSnapshot{RevisionID: "", Rules: []*models.PolicyRule{}}, nil
	}

	rules, err := active.Rules()
	if err != nil {
		return nil, services.WrapInternal("failed to decode active revision", err)
	}
	return &CurrentSnapshot{
		RevisionID:  active.RevisionID,
		Rules:       rules,
		PublishedAt: active.PublishedAt,
	}, nil
}

// Candidates returns observed and configured task types plus known workflow
// ids, for operators drafting rules.
func (s *Service) Candidates(ctx context.Context) (*Candidates, error) {
	observed, err := s.observations.DistinctTaskTypes(ctx)
	if err != nil {
		return nil, services.WrapInternal("failed to list observed task types", err)
	}
	ruleTypes, err := s.rules.DistinctTaskTypes(ctx)
	if err != nil {
		return nil, services.WrapInternal("failed to list rule task types", err)
	}
	workflows, err := s.rules.DistinctWorkflowIDs(ctx)
	if err != nil {
		return nil, services.WrapInternal("failed to list workflow ids", err)
	}

	c := &Candidates{
		ObservedTaskTypes: observed,
		RuleTaskTypes:     ruleTypes,
		WorkflowIDs:       workflows,
	}
	if c.ObservedTaskTypes == nil {
		c.ObservedTaskTypes = []string{}
	}
	if c.RuleTaskTypes == nil {
		c.RuleTaskTypes = []string{}
	}
	if c.WorkflowIDs == nil {
		c.WorkflowIDs = []string{}
	}
	return c, nil
}

// ListRevisions retrieves revision history, newest first
func (s *Service) ListRevisions(ctx context.Context, limit, offset int) ([]*models.PolicyRevision, error) {
	revisions, err := s.revisions.List(ctx, limit, offset)
	if err != nil {
		return nil, services.WrapInternal("failed to list revisions", err)
	}
	if revisions == nil {
		revisions = []*models.PolicyRevision{}
	}
	return revisions, nil
}

// recordAction appends a registry action to the audit chain. Failures are
// logged, never propagated: the registry mutation has already committed.
func (s *Service) recordAction(ctx context.Context, actor string, action models.AuditAction, target string) {
	if s.ledger == nil {
		return
	}
	event := models.NewAuditEvent(actor, action, target)
	if _, err := s.ledger.Append(ctx, event); err != nil {
		s.logger.Error("failed to record registry action in audit ledger",
			zap.String("action", string(action)),
			zap.String("target", target),
			zap.Error(err))
	}
}

func validateKey(key models.RuleKey) error {
	if key.WorkflowID == "" || key.TaskType == "" || key.TenantID == "" || key.ScopePattern == "" {
		return services.ErrInvalidRuleKey
	}
	return nil
}

func ruleTarget(key models.RuleKey) string {
	return "rule:" + key.WorkflowID + "/" + key.TaskType + "/" + key.TenantID + "/" + key.ScopePattern
}
