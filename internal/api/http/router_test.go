package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/api/dto"
	"github.com/spec-kit/helpdesk/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/clock"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/observability"
	"github.com/spec-kit/helpdesk/internal/repository"
	"github.com/spec-kit/helpdesk/internal/service"
	"github.com/spec-kit/helpdesk/internal/workflow"
)

var (
	requestor = domain.Actor{ID: "req-1", Role: domain.RoleRequestor}
	receiver  = domain.Actor{ID: "rcv-1", Role: domain.RoleReceiver}
	handler   = domain.Actor{ID: "hnd-1", Role: domain.RoleIssueHandler}
	approver  = domain.Actor{ID: "apr-1", Role: domain.RoleApprover, ApproverLevel: 1}
	admin     = domain.Actor{ID: "adm-1", Role: domain.RoleAdmin}
)

type passthroughTx struct{}

func (passthroughTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type memConcerns struct {
	mu   sync.Mutex
	aggs map[string]*workflow.Aggregate
}

func (m *memConcerns) LoadAggregate(_ context.Context, id string, _ bool) (*workflow.Aggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agg, ok := m.aggs[id]
	if !ok {
		return nil, domain.ErrConcernNotFound
	}
	cp := *agg
	return &cp, nil
}

func (m *memConcerns) SaveChange(_ context.Context, c *workflow.Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	agg, ok := m.aggs[c.Concern.ID]
	if !ok {
		agg = &workflow.Aggregate{}
	}
	next := agg.Apply(c)
	next.Channel = domain.DefaultChannel(next.Concern.ChannelID)
	m.aggs[c.Concern.ID] = next
	return nil
}

func (m *memConcerns) List(_ context.Context, f repository.ConcernFilter) ([]repository.ConcernListItem, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.ConcernListItem
	for _, agg := range m.aggs {
		if f.RequestorID != nil && agg.Concern.RequestorID != *f.RequestorID {
			continue
		}
		item := repository.ConcernListItem{Concern: agg.Concern}
		if agg.Assignment != nil {
			item.HandlerID = agg.Assignment.HandlerID
		}
		out = append(out, item)
	}
	return out, len(out), nil
}

type memRequests struct{}

func (memRequests) ListHolds(context.Context, repository.RequestFilter) ([]domain.HoldRequest, int, error) {
	return nil, 0, nil
}

func (memRequests) ListTransfers(context.Context, repository.RequestFilter) ([]domain.TransferRequest, int, error) {
	return nil, 0, nil
}

func (memRequests) ListClosings(context.Context, repository.RequestFilter) ([]domain.ClosingRequest, int, error) {
	return []domain.ClosingRequest{{ID: "cl-1", ConcernID: "c-1", Decision: domain.DecisionPending}}, 1, nil
}

type memHistory struct{}

func (memHistory) ListByConcern(context.Context, string) ([]domain.ConcernHistory, error) {
	return []domain.ConcernHistory{{ID: "h-1", Transition: "create", ToPhase: domain.PhasePending}}, nil
}

type memCounts struct{}

func (memCounts) Counts(_ context.Context, actor domain.Actor) (domain.Counts, error) {
	return domain.Counts{domain.BucketForConfirmation: 2}, nil
}

type memChannels struct{}

func (memChannels) List(context.Context) ([]domain.Channel, error) {
	return []domain.Channel{domain.DefaultChannel("general")}, nil
}

type testServer struct {
	app    *fiber.App
	tokens *auth.TokenManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	n := 0
	concerns := &memConcerns{aggs: map[string]*workflow.Aggregate{}}
	wf := service.NewWorkflowService(service.WorkflowDependencies{
		Tx:          passthroughTx{},
		ConcernRepo: concerns,
		Dispatcher:  events.NewInMemoryDispatcher(),
		Clock:       clock.NewFixed(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)),
		NewID: func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		},
	})
	queries := service.NewQueryService(service.QueryDependencies{
		ConcernRepo: concerns,
		RequestRepo: memRequests{},
		HistoryRepo: memHistory{},
		CountRepo:   memCounts{},
		ChannelRepo: memChannels{},
	})

	tokens := auth.NewTokenManager("test-secret", time.Hour)
	metrics := observability.NewMetrics()
	app := fiber.New()
	RegisterMiddlewares(app, zap.NewNop(), metrics, time.Second)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("helpdesk", "test", nil, metrics),
		Concerns:       handlers.NewConcernsHandler(wf, queries),
		Requests:       handlers.NewRequestsHandler(wf, queries),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})
	return &testServer{app: app, tokens: tokens}
}

// call sends a request as actor (nil for anonymous) and decodes the envelope.
func (s *testServer) call(t *testing.T, actor *domain.Actor, method, path string, body any) dto.Envelope {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != nil {
		token, _, err := s.tokens.GenerateToken(*actor)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env dto.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.Equal(t, resp.StatusCode, env.Status)
	return env
}

func decode[T any](t *testing.T, env dto.Envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func TestConcernLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	env := s.call(t, &requestor, fiber.MethodPost, "/api/v1/concerns", dto.CreateConcernRequest{
		ChannelID:   "general",
		Description: "Printer on floor 3 jams",
		Categories:  []string{"hardware"},
	})
	require.Equal(t, fiber.StatusCreated, env.Status)
	created := decode[dto.ConcernDetailResponse](t, env)
	assert.Equal(t, domain.PhasePending, created.Phase)
	assert.Equal(t, requestor.ID, created.RequestorID)

	target := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	env = s.call(t, &receiver, fiber.MethodPost, "/api/v1/concerns/"+created.ID+"/assign", dto.AssignRequest{
		ChannelID:     "general",
		HandlerID:     handler.ID,
		Categories:    []string{"hardware"},
		SubCategories: []domain.SubCategory{{Name: "printer", Category: "hardware"}},
		TargetDate:    &target,
	})
	require.Equal(t, fiber.StatusOK, env.Status)
	assigned := decode[dto.ConcernDetailResponse](t, env)
	assert.Equal(t, domain.PhaseActive, assigned.Phase)
	require.NotNil(t, assigned.Assignment)
	assert.Equal(t, handler.ID, assigned.Assignment.HandlerID)

	env = s.call(t, &handler, fiber.MethodPost, "/api/v1/concerns/"+created.ID+"/holds", dto.HoldRequest{Reason: "Waiting on toner"})
	require.Equal(t, fiber.StatusOK, env.Status)

	env = s.call(t, &handler, fiber.MethodPost, "/api/v1/concerns/"+created.ID+"/holds", dto.HoldRequest{Reason: "Again"})
	assert.Equal(t, fiber.StatusConflict, env.Status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "PRECONDITION_FAILED", env.Error.Code)

	env = s.call(t, &handler, fiber.MethodPost, "/api/v1/concerns/"+created.ID+"/closings", dto.CloseRequest{Resolution: "Fixed"})
	assert.Equal(t, fiber.StatusConflict, env.Status)
	assert.Equal(t, "PRECONDITION_FAILED", env.Error.Code)

	env = s.call(t, &approver, fiber.MethodPost, "/api/v1/concerns/"+created.ID+"/holds/approve", nil)
	require.Equal(t, fiber.StatusOK, env.Status)
	assert.Equal(t, domain.PhaseOnHold, decode[dto.ConcernDetailResponse](t, env).Phase)

	env = s.call(t, &requestor, fiber.MethodGet, "/api/v1/concerns?PageNumber=1&PageSize=5", nil)
	require.Equal(t, fiber.StatusOK, env.Status)
	list := decode[dto.ListResponse[dto.ConcernSummary]](t, env)
	require.Len(t, list.Items, 1)
	assert.Equal(t, handler.ID, list.Items[0].HandlerID)
	assert.Equal(t, dto.Page{Number: 1, Size: 5, Total: 1}, list.Page)

	env = s.call(t, &requestor, fiber.MethodGet, "/api/v1/concerns/"+created.ID+"/history", nil)
	require.Equal(t, fiber.StatusOK, env.Status)
	assert.Len(t, decode[[]dto.HistoryResponse](t, env), 1)
}

func TestAccessControl(t *testing.T) {
	s := newTestServer(t)
	create := dto.CreateConcernRequest{ChannelID: "general", Description: "VPN drops"}

	tests := []struct {
		name   string
		actor  *domain.Actor
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"anonymous", nil, fiber.MethodGet, "/api/v1/concerns", nil, fiber.StatusUnauthorized, "UNAUTHORIZED"},
		{"admin writes", &admin, fiber.MethodPost, "/api/v1/concerns", create, fiber.StatusForbidden, "FORBIDDEN"},
		{"handler creates", &handler, fiber.MethodPost, "/api/v1/concerns", create, fiber.StatusForbidden, "FORBIDDEN"},
		{"requestor verifies", &requestor, fiber.MethodPost, "/api/v1/concerns/c-1/verify", nil, fiber.StatusForbidden, "FORBIDDEN"},
		{"unknown concern", &receiver, fiber.MethodGet, "/api/v1/concerns/missing", nil, fiber.StatusNotFound, "NOT_FOUND"},
		{"requestor lists holds", &requestor, fiber.MethodGet, "/api/v1/holds", nil, fiber.StatusForbidden, "FORBIDDEN"},
		{"bad status filter", &receiver, fiber.MethodGet, "/api/v1/concerns?Status=OPENISH", nil, fiber.StatusBadRequest, "VALIDATION_FAILED"},
		{"bad page number", &receiver, fiber.MethodGet, "/api/v1/concerns?PageNumber=x", nil, fiber.StatusBadRequest, "VALIDATION_FAILED"},
		{"unknown route", nil, fiber.MethodGet, "/nowhere", nil, fiber.StatusNotFound, "NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := s.call(t, tt.actor, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, env.Status)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestBatchApproveClose(t *testing.T) {
	s := newTestServer(t)

	env := s.call(t, &approver, fiber.MethodPost, "/api/v1/closings/approve", dto.BatchCloseRequest{})
	assert.Equal(t, fiber.StatusBadRequest, env.Status)

	env = s.call(t, &approver, fiber.MethodPost, "/api/v1/closings/approve", dto.BatchCloseRequest{
		ConcernIDs: []string{"missing", "missing"},
	})
	require.Equal(t, fiber.StatusOK, env.Status)
	results := decode[[]dto.BatchItemResult](t, env)
	require.Len(t, results, 1)
	assert.False(t, results[0].OK)
	require.NotNil(t, results[0].Error)
	assert.Equal(t, "NOT_FOUND", results[0].Error.Code)
}

func TestReadEndpoints(t *testing.T) {
	s := newTestServer(t)

	env := s.call(t, &requestor, fiber.MethodGet, "/api/v1/notifications/count", nil)
	require.Equal(t, fiber.StatusOK, env.Status)
	counts := decode[dto.CountsResponse](t, env)
	assert.Equal(t, 2, counts.Counts[domain.BucketForConfirmation])

	env = s.call(t, &receiver, fiber.MethodGet, "/api/v1/channels", nil)
	require.Equal(t, fiber.StatusOK, env.Status)
	channels := decode[[]dto.ChannelResponse](t, env)
	require.Len(t, channels, 1)
	assert.Equal(t, domain.RoleApprover, channels[0].ClosingApprover)

	env = s.call(t, &approver, fiber.MethodGet, "/api/v1/closings?Scope=approvals&PageSize=500", nil)
	require.Equal(t, fiber.StatusOK, env.Status)
	closings := decode[dto.ListResponse[dto.ClosingResponse]](t, env)
	assert.Len(t, closings.Items, 1)
	assert.Equal(t, service.MaxPageSize, closings.Page.Size)

	env = s.call(t, nil, fiber.MethodGet, "/health/live", nil)
	assert.Equal(t, fiber.StatusOK, env.Status)
}
