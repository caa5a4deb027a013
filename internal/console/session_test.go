package console

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/api/dto"
	"github.com/spec-kit/helpdesk/internal/cache"
	"github.com/spec-kit/helpdesk/internal/config"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/storeclient"
	"github.com/spec-kit/helpdesk/internal/workflow"
)

type fakeStore struct {
	concernCalls atomic.Int32
	countCalls   atomic.Int32
	detailCalls  atomic.Int32

	mu         sync.Mutex
	pending    int
	transition func(t workflow.Transition, id string, body any) (dto.ConcernDetailResponse, error)
}

func (f *fakeStore) ListConcerns(context.Context, storeclient.ListParams) (dto.ListResponse[dto.ConcernSummary], error) {
	n := f.concernCalls.Add(1)
	return dto.ListResponse[dto.ConcernSummary]{
		Items: []dto.ConcernSummary{{ID: fmt.Sprintf("c-%d", n)}},
		Page:  dto.Page{Number: 1, Size: 10, Total: 1},
	}, nil
}

func (f *fakeStore) GetConcern(_ context.Context, id string) (dto.ConcernDetailResponse, error) {
	f.detailCalls.Add(1)
	return dto.ConcernDetailResponse{ID: id, Phase: domain.PhaseForClosingApproval}, nil
}

func (f *fakeStore) History(context.Context, string) ([]dto.HistoryResponse, error) {
	return nil, nil
}

func (f *fakeStore) ListHolds(context.Context, storeclient.ListParams) (dto.ListResponse[dto.HoldResponse], error) {
	return dto.ListResponse[dto.HoldResponse]{}, nil
}

func (f *fakeStore) ListTransfers(context.Context, storeclient.ListParams) (dto.ListResponse[dto.TransferResponse], error) {
	return dto.ListResponse[dto.TransferResponse]{}, nil
}

func (f *fakeStore) ListClosings(context.Context, storeclient.ListParams) (dto.ListResponse[dto.ClosingResponse], error) {
	return dto.ListResponse[dto.ClosingResponse]{}, nil
}

func (f *fakeStore) Counts(context.Context) (domain.Counts, error) {
	f.countCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.Counts{domain.BucketClosingApprovals: f.pending}, nil
}

func (f *fakeStore) Transition(_ context.Context, t workflow.Transition, id string, body any) (dto.ConcernDetailResponse, error) {
	return f.transition(t, id, body)
}

func (f *fakeStore) BatchApproveClose(_ context.Context, req dto.BatchCloseRequest) ([]dto.BatchItemResult, error) {
	out := make([]dto.BatchItemResult, 0, len(req.ConcernIDs))
	for _, id := range req.ConcernIDs {
		out = append(out, dto.BatchItemResult{ConcernID: id, OK: true})
	}
	return out, nil
}

func testConfig(pushURL string) config.ConsoleConfig {
	return config.ConsoleConfig{
		PushURL:      pushURL,
		CacheGC:      time.Minute,
		FetchTimeout: time.Second,
		ReconnectMin: 10 * time.Millisecond,
		ReconnectMax: 50 * time.Millisecond,
	}
}

// pushServer accepts websocket sessions; frames sent on publish reach the
// current session and closing drop ends it.
type pushServer struct {
	srv   *httptest.Server
	conns atomic.Int32
	mu    sync.Mutex
	cur   *websocket.Conn
}

func newPushServer(t *testing.T) *pushServer {
	t.Helper()
	ps := &pushServer{}
	upgrader := websocket.Upgrader{}
	ps.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ps.mu.Lock()
		ps.cur = conn
		ps.mu.Unlock()
		ps.conns.Add(1)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	return ps
}

func (ps *pushServer) url() string {
	return "ws" + strings.TrimPrefix(ps.srv.URL, "http")
}

func (ps *pushServer) publish(t *testing.T, frame string) {
	t.Helper()
	ps.mu.Lock()
	defer ps.mu.Unlock()
	require.NotNil(t, ps.cur)
	require.NoError(t, ps.cur.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func (ps *pushServer) drop() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.cur != nil {
		_ = ps.cur.Close()
		ps.cur = nil
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestUseQuery(t *testing.T) {
	store := &fakeStore{}
	s := NewSession(store, testConfig("ws://unused"), zap.NewNop())

	h, err := s.UseQuery(ViewConcerns, Params{List: storeclient.ListParams{PageNumber: 1, PageSize: 10}})
	require.NoError(t, err)
	defer h.Close()

	waitFor(t, func() bool { return !h.State().IsLoading && h.State().Data != nil })
	page := h.State().Data.(dto.ListResponse[dto.ConcernSummary])
	assert.Equal(t, "c-1", page.Items[0].ID)
	assert.False(t, h.State().IsError)

	h2, err := s.UseQuery(ViewConcerns, Params{List: storeclient.ListParams{PageNumber: 1, PageSize: 10}})
	require.NoError(t, err)
	defer h2.Close()
	assert.Equal(t, int32(1), store.concernCalls.Load(), "same fingerprint shares one entry")

	_, err = s.UseQuery(ViewConcern, Params{})
	assert.Error(t, err)
	_, err = s.UseQuery("dashboard", Params{})
	assert.Error(t, err)
}

func TestPushEventRefetchesObservedViews(t *testing.T) {
	ps := newPushServer(t)
	defer ps.srv.Close()

	store := &fakeStore{}
	s := NewSession(store, testConfig(ps.url()), zap.NewNop())
	h, err := s.UseQuery(ViewConcerns, Params{})
	require.NoError(t, err)
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	waitFor(t, func() bool { return ps.conns.Load() == 1 && store.countCalls.Load() == 1 })
	waitFor(t, func() bool { return store.concernCalls.Load() == 1 })

	ps.publish(t, `{"eventType":"notification_message","payload":{}}`)
	waitFor(t, func() bool { return store.countCalls.Load() == 2 })
	assert.Equal(t, int32(1), store.concernCalls.Load(), "notification messages do not touch the concern list")

	ps.publish(t, `{"eventType":"concern_assigned","payload":{}}`)
	waitFor(t, func() bool { return store.concernCalls.Load() == 2 })
}

func TestReconnectResyncsObservedEntriesOnce(t *testing.T) {
	ps := newPushServer(t)
	defer ps.srv.Close()

	store := &fakeStore{}
	s := NewSession(store, testConfig(ps.url()), zap.NewNop())
	h, err := s.UseQuery(ViewConcerns, Params{})
	require.NoError(t, err)
	defer h.Close()
	waitFor(t, func() bool { return store.concernCalls.Load() == 1 })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()
	waitFor(t, func() bool { return ps.conns.Load() == 1 && store.countCalls.Load() == 1 })

	// A change happens while the client is disconnected; its event is never delivered.
	ps.drop()
	waitFor(t, func() bool { return ps.conns.Load() == 2 })

	waitFor(t, func() bool { return store.concernCalls.Load() == 2 })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), store.concernCalls.Load())
	assert.Equal(t, int32(2), store.countCalls.Load())

	page := h.State().Data.(dto.ListResponse[dto.ConcernSummary])
	assert.Equal(t, "c-2", page.Items[0].ID)
	assert.False(t, h.State().IsStale)
}

func TestSubscribeBadge(t *testing.T) {
	ps := newPushServer(t)
	defer ps.srv.Close()

	store := &fakeStore{pending: 1}
	s := NewSession(store, testConfig(ps.url()), zap.NewNop())
	counts, stop := s.SubscribeBadge(domain.BucketClosingApprovals)
	defer stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	awaitCount(t, counts, 1)

	store.mu.Lock()
	store.pending = 4
	store.mu.Unlock()
	waitFor(t, func() bool { return ps.conns.Load() == 1 })
	ps.publish(t, `{"eventType":"closing_requested","payload":{}}`)

	awaitCount(t, counts, 4)
}

// awaitCount reads the latest-value channel until it reports want.
func awaitCount(t *testing.T, ch <-chan int, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case v := <-ch:
			if v == want {
				return
			}
		case <-deadline:
			t.Fatalf("badge never reached %d", want)
		}
	}
}

func TestMutation(t *testing.T) {
	store := &fakeStore{}
	release := make(chan struct{})
	store.transition = func(tr workflow.Transition, id string, body any) (dto.ConcernDetailResponse, error) {
		<-release
		if tr == workflow.TransitionDisapproveClose && body.(dto.DecisionRequest).Remarks == "" {
			return dto.ConcernDetailResponse{}, &storeclient.APIError{Status: 400, Code: "VALIDATION_FAILED", Message: "remarks required"}
		}
		return dto.ConcernDetailResponse{ID: id, Phase: domain.PhaseActive}, nil
	}
	s := NewSession(store, testConfig("ws://unused"), zap.NewNop())

	h, err := s.UseQuery(ViewConcern, Params{ConcernID: "c-1"})
	require.NoError(t, err)
	defer h.Close()
	waitFor(t, func() bool { return h.State().Data != nil })

	m := s.UseMutation(workflow.TransitionDisapproveClose)
	errc := make(chan error, 1)
	go func() {
		_, err := m.Invoke(context.Background(), "c-1", dto.DecisionRequest{Remarks: ""})
		errc <- err
	}()
	waitFor(t, m.IsPending)
	close(release)

	err = <-errc
	var apiErr *storeclient.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "remarks required", apiErr.Message)
	assert.False(t, m.IsPending())
	assert.Equal(t, domain.PhaseForClosingApproval, h.State().Data.(dto.ConcernDetailResponse).Phase,
		"a rejected transition leaves local state untouched")

	out, err := m.Invoke(context.Background(), "c-1", dto.DecisionRequest{Remarks: "Insufficient detail"})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseActive, out.Phase)
	waitFor(t, func() bool {
		d, ok := h.State().Data.(dto.ConcernDetailResponse)
		return ok && d.Phase == domain.PhaseActive
	})
	assert.Equal(t, int32(1), store.detailCalls.Load())
}

func TestApproveClosings(t *testing.T) {
	s := NewSession(&fakeStore{}, testConfig("ws://unused"), zap.NewNop())

	results, err := s.ApproveClosings(context.Background(), []string{"c-1", "c-2"}, "")
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, 0, s.Invalidate(cache.TagDepartment))
}

func TestMutationResultYieldsToLaterRefetch(t *testing.T) {
	store := &fakeStore{}
	entered := make(chan struct{})
	release := make(chan struct{})
	store.transition = func(_ workflow.Transition, id string, _ any) (dto.ConcernDetailResponse, error) {
		close(entered)
		<-release
		return dto.ConcernDetailResponse{ID: id, Phase: domain.PhaseActive}, nil
	}
	s := NewSession(store, testConfig("ws://unused"), zap.NewNop())

	h, err := s.UseQuery(ViewConcern, Params{ConcernID: "c-1"})
	require.NoError(t, err)
	defer h.Close()
	waitFor(t, func() bool { return h.State().Data != nil })

	m := s.UseMutation(workflow.TransitionDisapproveClose)
	done := make(chan error, 1)
	go func() {
		_, err := m.Invoke(context.Background(), "c-1", dto.DecisionRequest{Remarks: "Insufficient detail"})
		done <- err
	}()
	<-entered

	// The store moved on while the response was in transit; this refetch sees it.
	s.Invalidate(cache.TagClosingTicket)
	waitFor(t, func() bool { return store.detailCalls.Load() == 2 && !h.State().IsLoading })

	close(release)
	require.NoError(t, <-done)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, domain.PhaseForClosingApproval, h.State().Data.(dto.ConcernDetailResponse).Phase)
}
