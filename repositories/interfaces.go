package repositories

import (
	"context"
	"time"

	"github.com/taskops/policy-core/models"
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// RuleRepository handles policy rule storage. Upsert and Delete are
// serialized per rule key by the store's transactional guarantees.
type RuleRepository interface {
	// Upsert inserts or updates a rule on its uniqueness key.
	// Returns true when a new row was created.
	Upsert(ctx context.Context, rule *models.PolicyRule) (created bool, err error)

	// GetByKey retrieves a rule by its uniqueness key
	GetByKey(ctx context.Context, key models.RuleKey) (*models.PolicyRule, error)

	// List retrieves all rules, disabled ones included
	List(ctx context.Context) ([]*models.PolicyRule, error)

	// ListEnabled retrieves all enabled rules
	ListEnabled(ctx context.Context) ([]*models.PolicyRule, error)

	// Disable soft-disables a rule (enabled=false), the default delete
	Disable(ctx context.Context, key models.RuleKey) error

	// HardDelete permanently removes a rule row
	HardDelete(ctx context.Context, key models.RuleKey) error

	// DistinctTaskTypes returns the distinct task types across all rules
	DistinctTaskTypes(ctx context.Context) ([]string, error)

	// DistinctWorkflowIDs returns the distinct workflow ids across all rules
	DistinctWorkflowIDs(ctx context.Context) ([]string, error)
}

// RevisionRepository handles policy revision storage. Revisions are
// immutable once written; only the is_active flag moves, and only inside
// the publish transaction.
type RevisionRepository interface {
	// Create inserts a new revision
	Create(ctx context.Context, revision *models.PolicyRevision) error

	// GetByRevisionID retrieves a revision by its caller-supplied id
	GetByRevisionID(ctx context.Context, revisionID string) (*models.PolicyRevision, error)

	// GetActive retrieves the single active revision, or nil when none exists
	GetActive(ctx context.Context) (*models.PolicyRevision, error)

	// DeactivateAll clears is_active on every revision except the given one.
	// Runs inside the publish transaction to keep the single-active invariant.
	DeactivateAll(ctx context.Context, exceptRevisionID string) error

	// List retrieves revisions newest first with pagination
	List(ctx context.Context, limit, offset int) ([]*models.PolicyRevision, error)
}

// PublishLogRepository handles the append-only publish log
type PublishLogRepository interface {
	// Append inserts a new publish log entry
	Append(ctx context.Context, entry *models.PublishLogEntry) error

	// ListByRevisionID retrieves entries for a revision, oldest first
	ListByRevisionID(ctx context.Context, revisionID string) ([]*models.PublishLogEntry, error)
}

// AuditEventRepository handles hash-chained audit event storage.
// Append must read the chain tail and insert the new event in one atomic
// unit; there is no update or delete path.
type AuditEventRepository interface {
	// Append computes the event's hashes from the current chain tail and
	// inserts it, all inside one transaction with the tail row locked.
	Append(ctx context.Context, event *models.AuditEvent) (*models.AuditEvent, error)

	// List retrieves events in chain order (created_at ascending)
	List(ctx context.Context, limit, offset int) ([]*models.AuditEvent, error)

	// ListAll retrieves every event in chain order, for verification
	ListAll(ctx context.Context) ([]*models.AuditEvent, error)

	// GetByRequestID retrieves events for a request id in chain order
	GetByRequestID(ctx context.Context, requestID string) ([]*models.AuditEvent, error)

	// Update always fails with an immutable-ledger violation
	Update(ctx context.Context, event *models.AuditEvent) error

	// Delete always fails with an immutable-ledger violation
	Delete(ctx context.Context, event *models.AuditEvent) error
}

// ObservationRepository handles the execution telemetry feed backing the
// registry's candidates() discovery aid.
type ObservationRepository interface {
	// Record upserts an observation, bumping its count and last_seen
	Record(ctx context.Context, taskType, workflowID string, seenAt time.Time) error

	// DistinctTaskTypes returns the distinct observed task types
	DistinctTaskTypes(ctx context.Context) ([]string, error)

	// List retrieves observations ordered by most recently seen
	List(ctx context.Context, limit int) ([]*models.TaskObservation, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Rules        RuleRepository
	Revisions    RevisionRepository
	PublishLog   PublishLogRepository
	AuditEvents  AuditEventRepository
	Observations ObservationRepository
}
