package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/taskops/policy-core/models"
	"github.com/taskops/policy-core/repositories"
	"go.uber.org/zap"
)

// RevisionRepository implements repositories.RevisionRepository
type RevisionRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewRevisionRepository creates a new revision repository
func NewRevisionRepository(db *DB, logger *zap.Logger) repositories.RevisionRepository {
	return &RevisionRepository{
		db:     db,
		logger: logger,
	}
}

const revisionColumns = `id, revision_id, status, payload, author, notes, created_at, published_at, is_active`

// Create inserts a new revision
func (r *RevisionRepository) Create(ctx context.Context, revision *models.PolicyRevision) error {
	query := `
		INSERT INTO policy_revisions (` + revisionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		revision.ID,
		revision.RevisionID,
		revision.Status,
		revision.Payload,
		revision.Author,
		revision.Notes,
		revision.CreatedAt,
		revision.PublishedAt,
		revision.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to insert policy revision: %w", err)
	}

	r.logger.Debug("policy revision inserted",
		zap.String("revision_id", revision.RevisionID),
		zap.Bool("is_active", revision.IsActive))
	return nil
}

// GetByRevisionID retrieves a revision by its caller-supplied id
func (r *RevisionRepository) GetByRevisionID(ctx context.Context, revisionID string) (*models.PolicyRevision, error) {
	query := `
		SELECT ` + revisionColumns + `
		FROM policy_revisions
		WHERE revision_id = $1
	`
	return r.queryRevision(ctx, query, revisionID)
}

// GetActive retrieves the single active revision, or nil when none exists
func (r *RevisionRepository) GetActive(ctx context.Context) (*models.PolicyRevision, error) {
	query := `
		SELECT ` + revisionColumns + `
		FROM policy_revisions
		WHERE is_active = true
	`

	revision, err := r.queryRevision(ctx, query)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return revision, nil
}

// DeactivateAll clears is_active on every revision except the given one
func (r *RevisionRepository) DeactivateAll(ctx context.Context, exceptRevisionID string) error {
	query := `
		UPDATE policy_revisions
		SET is_active = false, status = $1
		WHERE is_active = true AND revision_id <> $2
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query, models.RevisionStatusArchived, exceptRevisionID)
	if err != nil {
		return fmt.Errorf("failed to deactivate policy revisions: %w", err)
	}

	return nil
}

// List retrieves revisions newest first with pagination
func (r *RevisionRepository) List(ctx context.Context, limit, offset int) ([]*models.PolicyRevision, error) {
	query := `
		SELECT ` + revisionColumns + `
		FROM policy_revisions
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query policy revisions: %w", err)
	}
	defer rows.Close()

	var revisions []*models.PolicyRevision
	for rows.Next() {
		revision := &models.PolicyRevision{}
		if err := scanRevision(rows.Scan, revision); err != nil {
			return nil, err
		}
		revisions = append(revisions, revision)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating policy revision rows: %w", err)
	}

	return revisions, nil
}

func (r *RevisionRepository) queryRevision(ctx context.Context, query string, args ...interface{}) (*models.PolicyRevision, error) {
	executor := GetExecutor(ctx, r.db)
	revision := &models.PolicyRevision{}
	if err := scanRevision(executor.QueryRowContext(ctx, query, args...).Scan, revision); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get policy revision: %w", err)
	}
	return revision, nil
}

func scanRevision(scan func(...interface{}) error, revision *models.PolicyRevision) error {
	return scan(
		&revision.ID,
		&revision.RevisionID,
		&revision.Status,
		&revision.Payload,
		&revision.Author,
		&revision.Notes,
		&revision.CreatedAt,
		&revision.PublishedAt,
		&revision.IsActive,
	)
}
