package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/taskops/policy-core/middleware"
	"github.com/taskops/policy-core/models"
	"github.com/taskops/policy-core/repositories"
	"github.com/taskops/policy-core/utils"
	"go.uber.org/zap"
)

// ExecutionRecorder appends execution outcome events to the audit ledger.
// Satisfied by the ledger service.
type ExecutionRecorder interface {
	RecordExecution(ctx context.Context, actor, taskType, outcome, requestID string) (*models.AuditEvent, error)
}

// TelemetryHandler ingests execution reports from task runners. Each report
// feeds the observation table used by candidates() and lands in the audit
// ledger as an execution event.
type TelemetryHandler struct {
	observations repositories.ObservationRepository
	ledger       ExecutionRecorder
	logger       *zap.Logger
}

// NewTelemetryHandler creates a new TelemetryHandler
func NewTelemetryHandler(observations repositories.ObservationRepository, ledger ExecutionRecorder, logger *zap.Logger) *TelemetryHandler {
	return &TelemetryHandler{
		observations: observations,
		ledger:       ledger,
		logger:       logger,
	}
}

// ExecutionReport is the request body for an execution telemetry report
type ExecutionReport struct {
	TaskType   string `json:"task_type" validate:"required"`
	WorkflowID string `json:"workflow_id,omitempty"`
	Actor      string `json:"actor" validate:"required"`
	Outcome    string `json:"outcome" validate:"required,oneof=succeeded failed cancelled"`
	RequestID  string `json:"request_id,omitempty"`
}

// HandleExecutionReport handles POST /api/v1/telemetry/executions
func (h *TelemetryHandler) HandleExecutionReport(w http.ResponseWriter, r *http.Request) {
	var report ExecutionReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(report); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if report.RequestID == "" {
		report.RequestID = middleware.GetRequestIDFromContext(r.Context())
	}

	if err := h.observations.Record(r.Context(), report.TaskType, report.WorkflowID, time.Now().UTC()); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	event, err := h.ledger.RecordExecution(r.Context(), report.Actor, report.TaskType, report.Outcome, report.RequestID)
	if err != nil {
		// The observation is already stored; the ledger gap shows up here
		// and in chain verification.
		h.logger.Error("failed to record execution in audit ledger",
			zap.String("task_type", report.TaskType),
			zap.String("request_id", report.RequestID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteCreated(w, event)
}
