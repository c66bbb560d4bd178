// Package ledger implements the tamper-evident audit chain. Every record's
// event_hash covers the previous record's hash, so any edit, removal or
// reorder of stored history breaks verification from that point on. Appends
// are serialized through a single writer in this process; across instances
// the store's unique index on prev_hash rejects forked tails.
package ledger

import (
	"context"
	"sync"

	"github.com/taskops/policy-core/models"
	"github.com/taskops/policy-core/repositories"
	"github.com/taskops/policy-core/services"
	"go.uber.org/zap"
)

// VerificationResult reports a full replay of the chain. FirstMismatch is the
// zero-based index of the first record whose stored hash does not match the
// recomputed one, or -1 when the chain is intact.
type VerificationResult struct {
	Intact        bool   `json:"intact"`
	CheckedCount  int    `json:"checked_count"`
	FirstMismatch int    `json:"first_mismatch"`
	Detail        string `json:"detail,omitempty"`
}

// Service implements the audit ledger
type Service struct {
	events repositories.AuditEventRepository
	logger *zap.Logger

	// appendMu keeps appends single-file in this process. Concurrent
	// instances fall to the store's unique prev_hash index and retry there.
	appendMu sync.Mutex
}

// NewService creates a new ledger Service
func NewService(events repositories.AuditEventRepository, logger *zap.Logger) *Service {
	return &Service{
		events: events,
		logger: logger,
	}
}

// Append adds one event to the chain. The event's PrevHash and EventHash are
// computed inside the store transaction from the current tail; the caller
// only fills the business fields.
func (s *Service) Append(ctx context.Context, event *models.AuditEvent) (*models.AuditEvent, error) {
	if event.Actor == "" || event.Action == "" {
		return nil, services.ErrInvalidInput.WithDetail("reason", "audit event requires actor and action")
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	stored, err := s.events.Append(ctx, event)
	if err != nil {
		return nil, services.WrapInternal("failed to append audit event", err)
	}
	return stored, nil
}

// RecordDecision appends a decision event built from an engine result
func (s *Service) RecordDecision(ctx context.Context, actor string, req models.DecisionRequest, result models.DecisionResult) (*models.AuditEvent, error) {
	event := models.NewAuditEvent(actor, models.AuditActionDecision, "task:"+req.Resource.TaskType)
	event.Decision = string(result.Decision)
	event.PolicyID = result.PolicyID
	event.PolicyVersion = result.PolicyVersion
	event.RiskScore = result.RiskScore
	event.RequestID = req.Context.RequestID
	return s.Append(ctx, event)
}

// RecordExecution appends an execution outcome reported by the sandbox
func (s *Service) RecordExecution(ctx context.Context, actor, taskType, outcome, requestID string) (*models.AuditEvent, error) {
	event := models.NewAuditEvent(actor, models.AuditActionExecutionResult, "task:"+taskType)
	event.Decision = outcome
	event.RequestID = requestID
	return s.Append(ctx, event)
}

// List retrieves events in chain order with pagination
func (s *Service) List(ctx context.Context, limit, offset int) ([]*models.AuditEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	events, err := s.events.List(ctx, limit, offset)
	if err != nil {
		return nil, services.WrapInternal("failed to list audit events", err)
	}
	if events == nil {
		events = []*models.AuditEvent{}
	}
	return events, nil
}

// GetByRequestID retrieves the events recorded for one request
func (s *Service) GetByRequestID(ctx context.Context, requestID string) ([]*models.AuditEvent, error) {
	if requestID == "" {
		return nil, services.ErrInvalidInput.WithDetail("field", "request_id")
	}
	events, err := s.events.GetByRequestID(ctx, requestID)
	if err != nil {
		return nil, services.WrapInternal("failed to load audit events by request id", err)
	}
	return events, nil
}

// Verify replays the whole chain in order, recomputing each record's hash
// from its stored fields and the previous record's stored hash. The first
// record must carry an empty prev_hash.
func (s *Service) Verify(ctx context.Context) (*VerificationResult, error) {
	events, err := s.events.ListAll(ctx)
	if err != nil {
		return nil, services.WrapInternal("failed to load audit chain", err)
	}

	prevHash := ""
	for i, event := range events {
		if event.PrevHash != prevHash {
			return s.mismatch(i, len(events), "prev_hash does not match previous record's hash"), nil
		}
		if event.ComputeHash(prevHash) != event.EventHash {
			return s.mismatch(i, len(events), "stored event_hash does not match recomputed hash"), nil
		}
		prevHash = event.EventHash
	}

	return &VerificationResult{
		Intact:        true,
		CheckedCount:  len(events),
		FirstMismatch: -1,
	}, nil
}

func (s *Service) mismatch(index, total int, detail string) *VerificationResult {
	s.logger.Warn("audit chain verification failed",
		zap.String("security_event", "audit_chain_mismatch"),
		zap.Int("first_mismatch", index),
		zap.Int("checked_count", total))
	return &VerificationResult{
		Intact:        false,
		CheckedCount:  total,
		FirstMismatch: index,
		Detail:        detail,
	}
}
