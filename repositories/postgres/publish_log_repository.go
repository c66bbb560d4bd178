package postgres

import (
	"context"
	"fmt"

	"github.com/taskops/policy-core/models"
	"github.com/taskops/policy-core/repositories"
	"go.uber.org/zap"
)

// PublishLogRepository implements repositories.PublishLogRepository
type PublishLogRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPublishLogRepository creates a new publish log repository
func NewPublishLogRepository(db *DB, logger *zap.Logger) repositories.PublishLogRepository {
	return &PublishLogRepository{
		db:     db,
		logger: logger,
	}
}

// Append inserts a new publish log entry
func (r *PublishLogRepository) Append(ctx context.Context, entry *models.PublishLogEntry) error {
	query := `
		INSERT INTO publish_log (id, revision_id, action, actor, result, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		entry.ID,
		entry.RevisionID,
		entry.Action,
		entry.Actor,
		entry.Result,
		entry.Details,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append publish log entry: %w", err)
	}

	r.logger.Debug("publish log entry appended",
		zap.String("revision_id", entry.RevisionID),
		zap.String("action", string(entry.Action)),
		zap.String("result", string(entry.Result)))
	return nil
}

// ListByRevisionID retrieves entries for a revision, oldest first
func (r *PublishLogRepository) ListByRevisionID(ctx context.Context, revisionID string) ([]*models.PublishLogEntry, error) {
	query := `
		SELECT id, revision_id, action, actor, result, details, created_at
		FROM publish_log
		WHERE revision_id = $1
		ORDER BY created_at ASC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, revisionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query publish log: %w", err)
	}
	defer rows.Close()

	var entries []*models.PublishLogEntry
	for rows.Next() {
		entry := &models.PublishLogEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.RevisionID,
			&entry.Action,
			&entry.Actor,
			&entry.Result,
			&entry.Details,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan publish log entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating publish log rows: %w", err)
	}

	return entries, nil
}
