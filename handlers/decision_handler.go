package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/taskops/policy-core/middleware"
	"github.com/taskops/policy-core/models"
	"github.com/taskops/policy-core/services/engine"
	"github.com/taskops/policy-core/utils"
	"go.uber.org/zap"
)

// SnapshotProvider serves the currently installed rule snapshot. Satisfied by
// the distributor.
type SnapshotProvider interface {
	Snapshot() *engine.Snapshot
}

// DecisionRecorder appends decision events to the audit ledger. Satisfied by
// the ledger service.
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, actor string, req models.DecisionRequest, result models.DecisionResult) (*models.AuditEvent, error)
}

// DecisionHandler serves the decision endpoint. Every evaluation is recorded
// in the audit ledger; a ledger failure is logged but never blocks the
// verdict, since the caller still needs an answer.
type DecisionHandler struct {
	engine    *engine.Engine
	snapshots SnapshotProvider
	ledger    DecisionRecorder
	logger    *zap.Logger
}

// NewDecisionHandler creates a new DecisionHandler
func NewDecisionHandler(eng *engine.Engine, snapshots SnapshotProvider, ledger DecisionRecorder, logger *zap.Logger) *DecisionHandler {
	return &DecisionHandler{
		engine:    eng,
		snapshots: snapshots,
		ledger:    ledger,
		logger:    logger,
	}
}

// HandleDecide handles POST /api/v1/decision
func (h *DecisionHandler) HandleDecide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req models.DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid decision request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if req.Subject.TenantID == "" {
		_ = utils.WriteBadRequest(w, "subject.tenant_id is required", nil)
		return
	}
	// An empty task type is not a transport error. The engine turns it into
	// a deny verdict so the caller sees the same shape either way.
	if req.Context.RequestID == "" {
		req.Context.RequestID = requestID
	}

	result := h.engine.Decide(req, h.snapshots.Snapshot())

	actor := req.Subject.TenantID
	if req.Subject.Role != "" {
		actor = req.Subject.TenantID + ":" + req.Subject.Role
	}
	if _, err := h.ledger.RecordDecision(ctx, actor, req, result); err != nil {
		// The verdict still goes back; the gap is visible in this log line.
		h.logger.Error("failed to record decision in audit ledger",
			zap.String("request_id", req.Context.RequestID),
			zap.String("decision", string(result.Decision)),
			zap.Error(err))
	}

	h.logger.Info("decision evaluated",
		zap.String("request_id", req.Context.RequestID),
		zap.String("tenant_id", req.Subject.TenantID),
		zap.String("task_type", req.Resource.TaskType),
		zap.String("decision", string(result.Decision)),
		zap.Int("risk_score", result.RiskScore))

	_ = utils.WriteOK(w, result)
}
