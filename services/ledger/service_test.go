package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskops/policy-core/models"
	"github.com/taskops/policy-core/services"
	"go.uber.org/zap"
)

// memoryEventRepository chains events in memory the way the postgres
// repository does, so append/verify round trips run without a database.
type memoryEventRepository struct {
	mu        sync.Mutex
	events    []*models.AuditEvent
	appendErr error
}

func (r *memoryEventRepository) Append(ctx context.Context, event *models.AuditEvent) (*models.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.appendErr != nil {
		return nil, r.appendErr
	}

	prevHash := ""
	if len(r.events) > 0 {
		prevHash = r.events[len(r.events)-1].EventHash
	}
	event.PrevHash = prevHash
	event.EventHash = event.ComputeHash(prevHash)
	r.events = append(r.events, event)
	return event, nil
}

func (r *memoryEventRepository) List(ctx context.Context, limit, offset int) ([]*models.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if offset >= len(r.events) {
		return []*models.AuditEvent{}, nil
	}
	end := offset + limit
	if end > len(r.events) {
		end = len(r.events)
	}
	return append([]*models.AuditEvent{}, r.events[offset:end]...), nil
}

func (r *memoryEventRepository) ListAll(ctx context.Context) ([]*models.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.AuditEvent{}, r.events...), nil
}

func (r *memoryEventRepository) GetByRequestID(ctx context.Context, requestID string) ([]*models.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*models.AuditEvent
	for _, e := range r.events {
		if e.RequestID == requestID {
			matched = append(matched, e)
		}
	}
	return matched, nil
}

func (r *memoryEventRepository) Update(ctx context.Context, event *models.AuditEvent) error {
	return services.ErrImmutableLedger
}

func (r *memoryEventRepository) Delete(ctx context.Context, event *models.AuditEvent) error {
	return services.ErrImmutableLedger
}

func newTestLedger() (*Service, *memoryEventRepository) {
	repo := &memoryEventRepository{}
	return NewService(repo, zap.NewNop()), repo
}

func decisionResult(decision models.Decision, score int) models.DecisionResult {
	return models.DecisionResult{
		PolicyID:      "task-execution",
		PolicyVersion: "rev-1",
		Decision:      decision,
		Allow:         decision == models.DecisionAllow,
		RiskScore:     score,
	}
}

func TestService_Append_ChainsHashes(t *testing.T) {
	svc, repo := newTestLedger()
	ctx := context.Background()

	first, err := svc.Append(ctx, models.NewAuditEvent("tenant-a:svc", models.AuditActionDecision, "task:report"))
	require.NoError(t, err)
	second, err := svc.Append(ctx, models.NewAuditEvent("tenant-a:svc", models.AuditActionDecision, "task:echo"))
	require.NoError(t, err)

	assert.Equal(t, "", first.PrevHash)
	assert.Equal(t, first.EventHash, second.PrevHash)
	assert.Len(t, repo.events, 2)
}

func TestService_Append_RequiresActorAndAction(t *testing.T) {
	svc, _ := newTestLedger()

	event := models.NewAuditEvent("", models.AuditActionDecision, "task:report")
	_, err := svc.Append(context.Background(), event)
	assert.True(t, services.IsValidationError(err))
}

func TestService_Append_WrapsRepositoryError(t *testing.T) {
	svc, repo := newTestLedger()
	repo.appendErr = errors.New("connection reset")

	_, err := svc.Append(context.Background(), models.NewAuditEvent("a", models.AuditActionDecision, "t"))
	assert.True(t, services.IsInternalError(err))
}

func TestService_RecordDecision(t *testing.T) {
	svc, repo := newTestLedger()
	ctx := context.Background()

	req := models.DecisionRequest{
		Resource: models.Resource{TaskType: "data_sync"},
		Context:  models.RequestContext{RequestID: "req-7"},
	}
	result := decisionResult(models.DecisionDeny, 95)

	event, err := svc.RecordDecision(ctx, "tenant-a:svc", req, result)
	require.NoError(t, err)

	assert.Equal(t, models.AuditActionDecision, event.Action)
	assert.Equal(t, "task:data_sync", event.Target)
	assert.Equal(t, "deny", event.Decision)
	assert.Equal(t, "task-execution", event.PolicyID)
	assert.Equal(t, "rev-1", event.PolicyVersion)
	assert.Equal(t, 95, event.RiskScore)
	assert.Equal(t, "req-7", event.RequestID)
	assert.Len(t, repo.events, 1)
}

func TestService_RecordExecution(t *testing.T) {
	svc, _ := newTestLedger()

	event, err := svc.RecordExecution(context.Background(), "sandbox:wf-1", "data_sync", "succeeded", "req-9")
	require.NoError(t, err)
	assert.Equal(t, models.AuditActionExecutionResult, event.Action)
	assert.Equal(t, "succeeded", event.Decision)
}

func TestService_Verify_IntactChain(t *testing.T) {
	svc, _ := newTestLedger()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Append(ctx, models.NewAuditEvent("tenant-a:svc", models.AuditActionDecision, "task:report"))
		require.NoError(t, err)
	}

	result, err := svc.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, result.Intact)
	assert.Equal(t, 5, result.CheckedCount)
	assert.Equal(t, -1, result.FirstMismatch)
}

func TestService_Verify_EmptyChain(t *testing.T) {
	svc, _ := newTestLedger()

	result, err := svc.Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Intact)
	assert.Equal(t, 0, result.CheckedCount)
	assert.Equal(t, -1, result.FirstMismatch)
}

func TestService_Verify_DetectsFieldTamper(t *testing.T) {
	svc, repo := newTestLedger()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Append(ctx, models.NewAuditEvent("tenant-a:svc", models.AuditActionDecision, "task:report"))
		require.NoError(t, err)
	}

	// Flip a stored decision after the fact.
	repo.events[1].Decision = "allow"

	result, err := svc.Verify(ctx)
	require.NoError(t, err)
	assert.False(t, result.Intact)
	assert.Equal(t, 1, result.FirstMismatch)
}

func TestService_Verify_DetectsBrokenLink(t *testing.T) {
	svc, repo := newTestLedger()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Append(ctx, models.NewAuditEvent("tenant-a:svc", models.AuditActionDecision, "task:report"))
		require.NoError(t, err)
	}

	// Drop the middle record; the link from index 1 to its predecessor breaks.
	repo.events = append(repo.events[:1], repo.events[2:]...)

	result, err := svc.Verify(ctx)
	require.NoError(t, err)
	assert.False(t, result.Intact)
	assert.Equal(t, 1, result.FirstMismatch)
}

func TestService_Verify_DetectsNonEmptyGenesis(t *testing.T) {
	svc, repo := newTestLedger()
	ctx := context.Background()

	_, err := svc.Append(ctx, models.NewAuditEvent("tenant-a:svc", models.AuditActionDecision, "task:report"))
	require.NoError(t, err)

	repo.events[0].PrevHash = "deadbeef"

	result, err := svc.Verify(ctx)
	require.NoError(t, err)
	assert.False(t, result.Intact)
	assert.Equal(t, 0, result.FirstMismatch)
}

func TestService_ConcurrentAppendsKeepChainIntact(t *testing.T) {
	svc, _ := newTestLedger()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Append(ctx, models.NewAuditEvent("tenant-a:svc", models.AuditActionDecision, "task:report"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	result, err := svc.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, result.Intact)
	assert.Equal(t, 20, result.CheckedCount)
}

func TestService_List_BoundsPagination(t *testing.T) {
	svc, _ := newTestLedger()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Append(ctx, models.NewAuditEvent("tenant-a:svc", models.AuditActionDecision, "task:report"))
		require.NoError(t, err)
	}

	events, err := svc.List(ctx, 0, -5)
	require.NoError(t, err)
	assert.Len(t, events, 3)

	events, err = svc.List(ctx, 2, 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}
