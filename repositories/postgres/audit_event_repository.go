package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/taskops/policy-core/models"
	"github.com/taskops/policy-core/repositories"
	"github.com/taskops/policy-core/services"
	"go.uber.org/zap"
)

// AuditEventRepository implements repositories.AuditEventRepository.
// Chain integrity under concurrent writers rests on the unique index over
// prev_hash: at most one record can chain from any given tail, and at most
// one genesis record can exist. A writer that loses that race re-reads the
// tail and retries. There is no update or delete path at all.
type AuditEventRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditEventRepository creates a new audit event repository
func NewAuditEventRepository(db *DB, logger *zap.Logger) repositories.AuditEventRepository {
	return &AuditEventRepository{
		db:     db,
		logger: logger,
	}
}

const auditColumns = `id, actor, action, target, decision, policy_id, policy_version, risk_score, request_id, prev_hash, event_hash, created_at`

// appendAttempts bounds retries after a lost tail race
const appendAttempts = 3

// Append computes the event's hashes from the current chain tail and inserts
// it. When a concurrent writer commits the same tail first, the unique index
// on prev_hash rejects this insert; the append is then retried against the
// new tail.
func (r *AuditEventRepository) Append(ctx context.Context, event *models.AuditEvent) (*models.AuditEvent, error) {
	var lastErr error
	for attempt := 1; attempt <= appendAttempts; attempt++ {
		stored, err := r.appendOnce(ctx, event)
		if err == nil {
			return stored, nil
		}
		if !isPrevHashConflict(err) {
			return nil, err
		}
		lastErr = err
		r.logger.Debug("lost audit chain tail race, retrying append",
			zap.String("id", event.ID.String()),
			zap.Int("attempt", attempt))
	}
	return nil, fmt.Errorf("failed to append audit event after %d attempts: %w", appendAttempts, lastErr)
}

func (r *AuditEventRepository) appendOnce(ctx context.Context, event *models.AuditEvent) (*models.AuditEvent, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin append transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	tailQuery := `
		SELECT event_hash
		FROM audit_events
		ORDER BY created_at DESC, id DESC
		LIMIT 1
		FOR UPDATE
	`

	var prevHash string
	err = tx.QueryRowContext(ctx, tailQuery).Scan(&prevHash)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read chain tail: %w", err)
	}
	// sql.ErrNoRows means the genesis record: prev_hash stays empty.

	event.PrevHash = prevHash
	event.EventHash = event.ComputeHash(prevHash)

	insert := `
		INSERT INTO audit_events (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = tx.ExecContext(ctx, insert,
		event.ID,
		event.Actor,
		event.Action,
		event.Target,
		event.Decision,
		event.PolicyID,
		event.PolicyVersion,
		event.RiskScore,
		event.RequestID,
		event.PrevHash,
		event.EventHash,
		event.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert audit event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit audit append: %w", err)
	}

	r.logger.Debug("audit event appended",
		zap.String("id", event.ID.String()),
		zap.String("action", string(event.Action)),
		zap.String("event_hash", event.EventHash))
	return event, nil
}

func isPrevHashConflict(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) &&
		pqErr.Code == "23505" &&
		pqErr.Constraint == "idx_audit_events_prev_hash"
}

// List retrieves events in chain order (created_at ascending)
func (r *AuditEventRepository) List(ctx context.Context, limit, offset int) ([]*models.AuditEvent, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_events
		ORDER BY created_at ASC, id ASC
		LIMIT $1 OFFSET $2
	`
	return r.queryEvents(ctx, query, limit, offset)
}

// ListAll retrieves every event in chain order, for verification
func (r *AuditEventRepository) ListAll(ctx context.Context) ([]*models.AuditEvent, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_events
		ORDER BY created_at ASC, id ASC
	`
	return r.queryEvents(ctx, query)
}

// GetByRequestID retrieves events for a request id in chain order
func (r *AuditEventRepository) GetByRequestID(ctx context.Context, requestID string) ([]*models.AuditEvent, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_events
		WHERE request_id = $1
		ORDER BY created_at ASC, id ASC
	`
	return r.queryEvents(ctx, query, requestID)
}

// Update always fails: stored audit events are immutable. The attempt is
// logged as a security event before being rejected.
func (r *AuditEventRepository) Update(ctx context.Context, event *models.AuditEvent) error {
	r.logger.Warn("attempted mutation of stored audit event rejected",
		zap.String("security_event", "immutable_ledger_violation"),
		zap.String("id", event.ID.String()))
	return services.ErrImmutableLedger
}

// Delete always fails: stored audit events are immutable
func (r *AuditEventRepository) Delete(ctx context.Context, event *models.AuditEvent) error {
	r.logger.Warn("attempted removal of stored audit event rejected",
		zap.String("security_event", "immutable_ledger_violation"),
		zap.String("id", event.ID.String()))
	return services.ErrImmutableLedger
}

func (r *AuditEventRepository) queryEvents(ctx context.Context, query string, args ...interface{}) ([]*models.AuditEvent, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		event := &models.AuditEvent{}
		err := rows.Scan(
			&event.ID,
			&event.Actor,
			&event.Action,
			&event.Target,
			&event.Decision,
			&event.PolicyID,
			&event.PolicyVersion,
			&event.RiskScore,
			&event.RequestID,
			&event.PrevHash,
			&event.EventHash,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit event rows: %w", err)
	}

	return events, nil
}
