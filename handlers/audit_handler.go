package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/taskops/policy-core/models"
	"github.com/taskops/policy-core/services/ledger"
	"github.com/taskops/policy-core/utils"
	"go.uber.org/zap"
)

// AuditReader defines the read side of the audit ledger
type AuditReader interface {
	// List retrieves events in chain order
	List(ctx context.Context, limit, offset int) ([]*models.AuditEvent, error)

	// GetByRequestID retrieves the events of one request
	GetByRequestID(ctx context.Context, requestID string) ([]*models.AuditEvent, error)

	// Verify replays the hash chain
	Verify(ctx context.Context) (*ledger.VerificationResult, error)
}

// AuditHandler serves read access to the audit ledger
type AuditHandler struct {
	ledger AuditReader
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(svc AuditReader, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		ledger: svc,
		logger: logger,
	}
}

// HandleListEvents handles GET /api/v1/audit/events. Supports limit and
// offset query parameters, plus request_id to fetch the events of a single
// decision or execution.
func (h *AuditHandler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	if requestID := r.URL.Query().Get("request_id"); requestID != "" {
		events, err := h.ledger.GetByRequestID(r.Context(), requestID)
		if err != nil {
			HandleServiceError(w, err, h.logger)
			return
		}
		_ = utils.WriteOK(w, events)
		return
	}

	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		_ = utils.WriteBadRequest(w, "limit must be an integer", nil)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		_ = utils.WriteBadRequest(w, "offset must be an integer", nil)
		return
	}

	events, err := h.ledger.List(r.Context(), limit, offset)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, events)
}

// HandleVerify handles GET /api/v1/audit/verify. Replays the full chain and
// reports the first mismatch, if any.
func (h *AuditHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	result, err := h.ledger.Verify(r.Context())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, result)
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
