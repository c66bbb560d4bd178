package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/taskops/policy-core/models"
	"github.com/taskops/policy-core/services/distributor"
	"github.com/taskops/policy-core/services/registry"
	"github.com/taskops/policy-core/utils"
	"go.uber.org/zap"
)

// Reflector confirms that a published revision has been picked up by the
// in-process distributor. Satisfied by the distributor.
type Reflector interface {
	WaitForReflection(ctx context.Context, revisionID string, attempts int, interval time.Duration) distributor.Reflection
}

// RegistryService defines the interface for registry operations
type RegistryService interface {
	// Upsert creates or updates a rule
	Upsert(ctx context.Context, rule *models.PolicyRule, actor string) (*registry.UpsertOutcome, error)

	// Delete disables a rule, or removes it when hard is set
	Delete(ctx context.Context, key models.RuleKey, actor string, hard bool) error

	// Get retrieves a single rule by key
	Get(ctx context.Context, key models.RuleKey) (*models.PolicyRule, error)

	// List retrieves all rules
	List(ctx context.Context) ([]*models.PolicyRule, error)

	// Publish freezes the enabled rule set into a new active revision
	Publish(ctx context.Context, revisionID, actor, notes string) (*registry.PublishOutcome, error)

	// Rollback republishes a prior revision's payload as a new revision
	Rollback(ctx context.Context, targetRevisionID, newRevisionID, actor string) (*registry.PublishOutcome, error)

	// Current returns the active revision's frozen rule set
	Current(ctx context.Context) (*registry.CurrentSnapshot, error)

	// ListRevisions retrieves revision history, newest first
	ListRevisions(ctx context.Context, limit, offset int) ([]*models.PolicyRevision, error)

	// Candidates lists observed and configured task types and workflows
	Candidates(ctx context.Context) (*registry.Candidates, error)
}

// RegistryHandler serves rule management, publish and rollback endpoints
type RegistryHandler struct {
	registry           RegistryService
	reflector          Reflector
	reflectionAttempts int
	reflectionInterval time.Duration
	logger             *zap.Logger
}

// NewRegistryHandler creates a new RegistryHandler. reflector may be nil when
// no distributor runs in-process; publish responses then report reflected=false.
func NewRegistryHandler(svc RegistryService, reflector Reflector, attempts int, interval time.Duration, logger *zap.Logger) *RegistryHandler {
	return &RegistryHandler{
		registry:           svc,
		reflector:          reflector,
		reflectionAttempts: attempts,
		reflectionInterval: interval,
		logger:             logger,
	}
}

// UpsertRuleRequest is the request body for creating or updating a rule
type UpsertRuleRequest struct {
	WorkflowID   string          `json:"workflow_id" validate:"required"`
	TaskType     string          `json:"task_type" validate:"required"`
	TenantID     string          `json:"tenant_id" validate:"required"`
	ScopePattern string          `json:"scope_pattern" validate:"required"`
	Constraints  json.RawMessage `json:"constraints,omitempty"`
	Enabled      *bool           `json:"enabled,omitempty"`
	Actor        string          `json:"actor" validate:"required"`
}

// DeleteRuleRequest is the request body for disabling or removing a rule
type DeleteRuleRequest struct {
	WorkflowID   string `json:"workflow_id" validate:"required"`
	TaskType     string `json:"task_type" validate:"required"`
	TenantID     string `json:"tenant_id" validate:"required"`
	ScopePattern string `json:"scope_pattern" validate:"required"`
	Hard         bool   `json:"hard,omitempty"`
	Actor        string `json:"actor" validate:"required"`
}

// PublishRequest is the request body for publishing the enabled rule set
type PublishRequest struct {
	RevisionID string `json:"revision_id,omitempty"`
	Notes      string `json:"notes,omitempty"`
	Actor      string `json:"actor" validate:"required"`
}

// RollbackRequest is the request body for rolling back to a prior revision
type RollbackRequest struct {
	TargetRevisionID string `json:"target_revision_id" validate:"required"`
	NewRevisionID    string `json:"new_revision_id,omitempty"`
	Actor            string `json:"actor" validate:"required"`
}

// RuleResponse reports an upsert or delete outcome in the registry's
// {status, action, ...} contract
type RuleResponse struct {
	Status string             `json:"status"`
	Action string             `json:"action"`
	Item   *models.PolicyRule `json:"item,omitempty"`
}

// PublishResponse reports a publish or rollback outcome together with
// whether the distributor observed the new revision
type PublishResponse struct {
	Status           string     `json:"status"`
	Action           string     `json:"action"`
	RevisionID       string     `json:"revision_id"`
	PublishedCount   int        `json:"published_count"`
	Noop             bool       `json:"noop"`
	Reflected        bool       `json:"reflected"`
	ReflectedAt      *time.Time `json:"reflected_at,omitempty"`
	ObservedRevision string     `json:"observed_revision,omitempty"`
}

// HandleUpsertRule handles POST /api/v1/registry/rules
func (h *RegistryHandler) HandleUpsertRule(w http.ResponseWriter, r *http.Request) {
	var req UpsertRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	rule := models.NewPolicyRule(models.RuleKey{
		WorkflowID:   req.WorkflowID,
		TaskType:     req.TaskType,
		TenantID:     req.TenantID,
		ScopePattern: req.ScopePattern,
	})
	rule.Constraints = req.Constraints
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}

	outcome, err := h.registry.Upsert(r.Context(), rule, req.Actor)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	response := RuleResponse{Status: "ok", Action: "updated", Item: outcome.Rule}
	if outcome.Created {
		response.Action = "created"
		_ = utils.WriteCreated(w, response)
		return
	}
	_ = utils.WriteOK(w, response)
}

// HandleDeleteRule handles POST /api/v1/registry/rules/delete
func (h *RegistryHandler) HandleDeleteRule(w http.ResponseWriter, r *http.Request) {
	var req DeleteRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	key := models.RuleKey{
		WorkflowID:   req.WorkflowID,
		TaskType:     req.TaskType,
		TenantID:     req.TenantID,
		ScopePattern: req.ScopePattern,
	}
	if err := h.registry.Delete(r.Context(), key, req.Actor, req.Hard); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	action := "disabled"
	if req.Hard {
		action = "deleted"
	}
	_ = utils.WriteOK(w, RuleResponse{Status: "ok", Action: action})
}

// HandleGetRule handles GET /api/v1/registry/rules/get. The rule key is
// passed in query parameters.
func (h *RegistryHandler) HandleGetRule(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	key := models.RuleKey{
		WorkflowID:   query.Get("workflow_id"),
		TaskType:     query.Get("task_type"),
		TenantID:     query.Get("tenant_id"),
		ScopePattern: query.Get("scope_pattern"),
	}
	if key.WorkflowID == "" || key.TaskType == "" || key.TenantID == "" || key.ScopePattern == "" {
		_ = utils.WriteBadRequest(w, "workflow_id, task_type, tenant_id and scope_pattern are required", nil)
		return
	}

	rule, err := h.registry.Get(r.Context(), key)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, rule)
}

// HandleListRules handles GET /api/v1/registry/rules
func (h *RegistryHandler) HandleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.registry.List(r.Context())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, rules)
}

// HandlePublish handles POST /api/v1/registry/publish
func (h *RegistryHandler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if req.RevisionID != "" {
		if err := utils.ValidateRevisionID(req.RevisionID); err != nil {
			_ = utils.WriteBadRequest(w, err.Error(), nil)
			return
		}
	}

	outcome, err := h.registry.Publish(r.Context(), req.RevisionID, req.Actor, req.Notes)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, h.withReflection(r.Context(), "publish", outcome))
}

// HandleRollback handles POST /api/v1/registry/rollback
func (h *RegistryHandler) HandleRollback(w http.ResponseWriter, r *http.Request) {
	var req RollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateRevisionID(req.TargetRevisionID); err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}
	if req.NewRevisionID != "" {
		if err := utils.ValidateRevisionID(req.NewRevisionID); err != nil {
			_ = utils.WriteBadRequest(w, err.Error(), nil)
			return
		}
	}

	outcome, err := h.registry.Rollback(r.Context(), req.TargetRevisionID, req.NewRevisionID, req.Actor)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, h.withReflection(r.Context(), "rollback", outcome))
}

// HandleCurrent handles GET /api/v1/registry/current
func (h *RegistryHandler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.registry.Current(r.Context())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, snapshot)
}

// HandleListRevisions handles GET /api/v1/registry/revisions. Rollback
// targets come from this history; the listing is newest first.
func (h *RegistryHandler) HandleListRevisions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		_ = utils.WriteBadRequest(w, "limit must be an integer", nil)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		_ = utils.WriteBadRequest(w, "offset must be an integer", nil)
		return
	}

	revisions, err := h.registry.ListRevisions(r.Context(), limit, offset)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, revisions)
}

// HandleCandidates handles GET /api/v1/registry/candidates
func (h *RegistryHandler) HandleCandidates(w http.ResponseWriter, r *http.Request) {
	candidates, err := h.registry.Candidates(r.Context())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, candidates)
}

func (h *RegistryHandler) withReflection(ctx context.Context, action string, outcome *registry.PublishOutcome) PublishResponse {
	if outcome.Noop {
		action = "noop"
	}
	resp := PublishResponse{
		Status:         "ok",
		Action:         action,
		RevisionID:     outcome.RevisionID,
		PublishedCount: outcome.PublishedCount,
		Noop:           outcome.Noop,
	}
	if h.reflector == nil {
		return resp
	}
	reflection := h.reflector.WaitForReflection(ctx, outcome.RevisionID, h.reflectionAttempts, h.reflectionInterval)
	resp.Reflected = reflection.Reflected
	resp.ObservedRevision = reflection.ObservedRevision
	if !reflection.ReflectedAt.IsZero() {
		at := reflection.ReflectedAt
		resp.ReflectedAt = &at
	}
	if !reflection.Reflected {
		h.logger.Warn("published revision not yet reflected by distributor",
			zap.String("revision_id", outcome.RevisionID),
			zap.String("observed_revision", reflection.ObservedRevision))
	}
	return resp
}
