package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/taskops/policy-core/models"
	"github.com/taskops/policy-core/repositories"
	"go.uber.org/zap"
)

// RuleRepository implements repositories.RuleRepository
type RuleRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewRuleRepository creates a new rule repository
func NewRuleRepository(db *DB, logger *zap.Logger) repositories.RuleRepository {
	return &RuleRepository{
		db:     db,
		logger: logger,
	}
}

const ruleColumns = `id, workflow_id, task_type, tenant_id, scope_pattern, constraints, enabled, created_at, updated_at`

// Upsert inserts or updates a rule on its uniqueness key. The ON CONFLICT
// clause serializes concurrent upserts per key inside the store, so no
// application-level lock is needed. The update path keeps the stored row's
// id and created_at; RETURNING reads them back into the rule so callers
// report the row actually in the table.
func (r *RuleRepository) Upsert(ctx context.Context, rule *models.PolicyRule) (bool, error) {
	query := `
		INSERT INTO policy_rules (` + ruleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (workflow_id, task_type, tenant_id, scope_pattern)
		DO UPDATE SET
			constraints = EXCLUDED.constraints,
			enabled = EXCLUDED.enabled,
			updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0) AS inserted, id, created_at, updated_at
	`

	rule.UpdatedAt = time.Now().UTC()

	executor := GetExecutor(ctx, r.db)
	var inserted bool
	err := executor.QueryRowContext(ctx, query,
		rule.ID,
		rule.WorkflowID,
		rule.TaskType,
		rule.TenantID,
		rule.ScopePattern,
		rule.Constraints,
		rule.Enabled,
		rule.CreatedAt,
		rule.UpdatedAt,
	).Scan(&inserted, &rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to upsert policy rule: %w", err)
	}

	r.logger.Debug("policy rule upserted",
		zap.String("task_type", rule.TaskType),
		zap.String("workflow_id", rule.WorkflowID),
		zap.Bool("created", inserted))
	return inserted, nil
}

// GetByKey retrieves a rule by its uniqueness key
func (r *RuleRepository) GetByKey(ctx context.Context, key models.RuleKey) (*models.PolicyRule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM policy_rules
		WHERE workflow_id = $1 AND task_type = $2 AND tenant_id = $3 AND scope_pattern = $4
	`

	executor := GetExecutor(ctx, r.db)
	rule := &models.PolicyRule{}
	err := executor.QueryRowContext(ctx, query, key.WorkflowID, key.TaskType, key.TenantID, key.ScopePattern).Scan(
		&rule.ID,
		&rule.WorkflowID,
		&rule.TaskType,
		&rule.TenantID,
		&rule.ScopePattern,
		&rule.Constraints,
		&rule.Enabled,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("policy rule not found: %w", err)
		}
		return nil, fmt.Errorf("failed to get policy rule: %w", err)
	}

	return rule, nil
}

// List retrieves all rules, disabled ones included
func (r *RuleRepository) List(ctx context.Context) ([]*models.PolicyRule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM policy_rules
		ORDER BY task_type, workflow_id
	`
	return r.queryRules(ctx, query)
}

// ListEnabled retrieves all enabled rules
func (r *RuleRepository) ListEnabled(ctx context.Context) ([]*models.PolicyRule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM policy_rules
		WHERE enabled = true
		ORDER BY task_type, workflow_id
	`
	return r.queryRules(ctx, query)
}

// Disable soft-disables a rule, keeping the row for auditability
func (r *RuleRepository) Disable(ctx context.Context, key models.RuleKey) error {
	query := `
		UPDATE policy_rules
		SET enabled = false, updated_at = $5
		WHERE workflow_id = $1 AND task_type = $2 AND tenant_id = $3 AND scope_pattern = $4
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		key.WorkflowID, key.TaskType, key.TenantID, key.ScopePattern, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to disable policy rule: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}

	r.logger.Debug("policy rule disabled", zap.String("task_type", key.TaskType))
	return nil
}

// HardDelete permanently removes a rule row
func (r *RuleRepository) HardDelete(ctx context.Context, key models.RuleKey) error {
	query := `
		DELETE FROM policy_rules
		WHERE workflow_id = $1 AND task_type = $2 AND tenant_id = $3 AND scope_pattern = $4
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		key.WorkflowID, key.TaskType, key.TenantID, key.ScopePattern)
	if err != nil {
		return fmt.Errorf("failed to delete policy rule: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}

	r.logger.Debug("policy rule deleted", zap.String("task_type", key.TaskType))
	return nil
}

// DistinctTaskTypes returns the distinct task types across all rules
func (r *RuleRepository) DistinctTaskTypes(ctx context.Context) ([]string, error) {
	return r.queryStrings(ctx, `SELECT DISTINCT task_type FROM policy_rules ORDER BY task_type`)
}

// DistinctWorkflowIDs returns the distinct workflow ids across all rules
func (r *RuleRepository) DistinctWorkflowIDs(ctx context.Context) ([]string, error) {
	return r.queryStrings(ctx, `SELECT DISTINCT workflow_id FROM policy_rules ORDER BY workflow_id`)
}

func (r *RuleRepository) queryRules(ctx context.Context, query string, args ...interface{}) ([]*models.PolicyRule, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query policy rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.PolicyRule
	for rows.Next() {
		rule := &models.PolicyRule{}
		err := rows.Scan(
			&rule.ID,
			&rule.WorkflowID,
			&rule.TaskType,
			&rule.TenantID,
			&rule.ScopePattern,
			&rule.Constraints,
			&rule.Enabled,
			&rule.CreatedAt,
			&rule.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy rule: %w", err)
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating policy rule rows: %w", err)
	}

	return rules, nil
}

func (r *RuleRepository) queryStrings(ctx context.Context, query string) ([]string, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query distinct values: %w", err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("failed to scan value: %w", err)
		}
		values = append(values, value)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return values, nil
}
