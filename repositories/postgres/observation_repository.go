package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/taskops/policy-core/models"
	"github.com/taskops/policy-core/repositories"
	"go.uber.org/zap"
)

// ObservationRepository implements repositories.ObservationRepository
type ObservationRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewObservationRepository creates a new observation repository
func NewObservationRepository(db *DB, logger *zap.Logger) repositories.ObservationRepository {
	return &ObservationRepository{
		db:     db,
		logger: logger,
	}
}

// Record upserts an observation, bumping its count and last_seen
func (r *ObservationRepository) Record(ctx context.Context, taskType, workflowID string, seenAt time.Time) error {
	executor := GetExecutor(ctx, r.db)

	query := `
		INSERT INTO task_observations (task_type, workflow_id, count, last_seen)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (task_type, workflow_id) DO UPDATE SET
			count = task_observations.count + 1,
			last_seen = GREATEST(task_observations.last_seen, EXCLUDED.last_seen)
	`

	if _, err := executor.ExecContext(ctx, query, taskType, workflowID, seenAt.UTC()); err != nil {
		return fmt.Errorf("failed to record observation: %w", err)
	}

	r.logger.Debug("observation recorded",
		zap.String("task_type", taskType),
		zap.String("workflow_id", workflowID))
	return nil
}

// DistinctTaskTypes returns the distinct observed task types
func (r *ObservationRepository) DistinctTaskTypes(ctx context.Context) ([]string, error) {
	executor := GetExecutor(ctx, r.db)

	query := `SELECT DISTINCT task_type FROM task_observations ORDER BY task_type`
	rows, err := executor.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query observed task types: %w", err)
	}
	defer rows.Close()

	var taskTypes []string
	for rows.Next() {
		var taskType string
		if err := rows.Scan(&taskType); err != nil {
			return nil, fmt.Errorf("failed to scan observed task type: %w", err)
		}
		taskTypes = append(taskTypes, taskType)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating observed task type rows: %w", err)
	}

	return taskTypes, nil
}

// List retrieves observations ordered by most recently seen
func (r *ObservationRepository) List(ctx context.Context, limit int) ([]*models.TaskObservation, error) {
	executor := GetExecutor(ctx, r.db)

	query := `
		SELECT task_type, workflow_id, count, last_seen
		FROM task_observations
		ORDER BY last_seen DESC
		LIMIT $1
	`
	rows, err := executor.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	var observations []*models.TaskObservation
	for rows.Next() {
		obs := &models.TaskObservation{}
		if err := rows.Scan(&obs.TaskType, &obs.WorkflowID, &obs.Count, &obs.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		observations = append(observations, obs)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating observation rows: %w", err)
	}

	return observations, nil
}
