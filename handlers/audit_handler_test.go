package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/taskops/policy-core/models"
	"github.com/taskops/policy-core/services"
	"github.com/taskops/policy-core/services/ledger"
	"go.uber.org/zap"
)

// MockAuditReader is a mock implementation of AuditReader
type MockAuditReader struct {
	mock.Mock
}

func (m *MockAuditReader) List(ctx context.Context, limit, offset int) ([]*models.AuditEvent, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AuditEvent), args.Error(1)
}

func (m *MockAuditReader) GetByRequestID(ctx context.Context, requestID string) ([]*models.AuditEvent, error) {
	args := m.Called(ctx, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AuditEvent), args.Error(1)
}

func (m *MockAuditReader) Verify(ctx context.Context) (*ledger.VerificationResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.VerificationResult), args.Error(1)
}

func TestAuditHandler_HandleListEvents_Defaults(t *testing.T) {
	reader := new(MockAuditReader)
	reader.On("List", mock.Anything, 100, 0).
		Return([]*models.AuditEvent{{Actor: "acme"}, {Actor: "acme"}}, nil)

	handler := NewAuditHandler(reader, zap.NewNop())

	w := httptest.NewRecorder()
	handler.HandleListEvents(w, httptest.NewRequest(http.MethodGet, "/api/v1/audit/events", nil))

	require.Equal(t, http.StatusOK, w.Code)
	reader.AssertExpectations(t)

	var envelope struct {
		Data []*models.AuditEvent `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&envelope))
	assert.Len(t, envelope.Data, 2)
}

func TestAuditHandler_HandleListEvents_Pagination(t *testing.T) {
	reader := new(MockAuditReader)
	reader.On("List", mock.Anything, 10, 20).Return([]*models.AuditEvent{}, nil)

	handler := NewAuditHandler(reader, zap.NewNop())

	w := httptest.NewRecorder()
	handler.HandleListEvents(w, httptest.NewRequest(http.MethodGet, "/api/v1/audit/events?limit=10&offset=20", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	reader.AssertExpectations(t)
}

func TestAuditHandler_HandleListEvents_BadLimit(t *testing.T) {
	reader := new(MockAuditReader)
	handler := NewAuditHandler(reader, zap.NewNop())

	w := httptest.NewRecorder()
	handler.HandleListEvents(w, httptest.NewRequest(http.MethodGet, "/api/v1/audit/events?limit=ten", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	reader.AssertNotCalled(t, "List", mock.Anything, mock.Anything, mock.Anything)
}

func TestAuditHandler_HandleListEvents_ByRequestID(t *testing.T) {
	reader := new(MockAuditReader)
	reader.On("GetByRequestID", mock.Anything, "req-1").
		Return([]*models.AuditEvent{{RequestID: "req-1"}}, nil)

	handler := NewAuditHandler(reader, zap.NewNop())

	w := httptest.NewRecorder()
	handler.HandleListEvents(w, httptest.NewRequest(http.MethodGet, "/api/v1/audit/events?request_id=req-1", nil))

	require.Equal(t, http.StatusOK, w.Code)
	reader.AssertExpectations(t)
	reader.AssertNotCalled(t, "List", mock.Anything, mock.Anything, mock.Anything)
}

func TestAuditHandler_HandleListEvents_ServiceError(t *testing.T) {
	reader := new(MockAuditReader)
	reader.On("List", mock.Anything, 100, 0).
		Return(nil, services.WrapInternal("failed to list audit events", assert.AnError))

	handler := NewAuditHandler(reader, zap.NewNop())

	w := httptest.NewRecorder()
	handler.HandleListEvents(w, httptest.NewRequest(http.MethodGet, "/api/v1/audit/events", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAuditHandler_HandleVerify_Intact(t *testing.T) {
	reader := new(MockAuditReader)
	reader.On("Verify", mock.Anything).Return(&ledger.VerificationResult{
		Intact:        true,
		CheckedCount:  42,
		FirstMismatch: -1,
	}, nil)

	handler := NewAuditHandler(reader, zap.NewNop())

	w := httptest.NewRecorder()
	handler.HandleVerify(w, httptest.NewRequest(http.MethodGet, "/api/v1/audit/verify", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Data ledger.VerificationResult `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&envelope))
	assert.True(t, envelope.Data.Intact)
	assert.Equal(t, 42, envelope.Data.CheckedCount)
}

func TestAuditHandler_HandleVerify_Mismatch(t *testing.T) {
	reader := new(MockAuditReader)
	reader.On("Verify", mock.Anything).Return(&ledger.VerificationResult{
		Intact:        false,
		CheckedCount:  10,
		FirstMismatch: 4,
		Detail:        "event hash does not match recomputed hash",
	}, nil)

	handler := NewAuditHandler(reader, zap.NewNop())

	w := httptest.NewRecorder()
	handler.HandleVerify(w, httptest.NewRequest(http.MethodGet, "/api/v1/audit/verify", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Data ledger.VerificationResult `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&envelope))
	assert.False(t, envelope.Data.Intact)
	assert.Equal(t, 4, envelope.Data.FirstMismatch)
}
