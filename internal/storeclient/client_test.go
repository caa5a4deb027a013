package storeclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk/internal/api/dto"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/workflow"
)

func writeEnvelope(w http.ResponseWriter, status int, data any, errBody *dto.ErrorBody) {
	env := map[string]any{"status": status}
	if data != nil {
		env["data"] = data
	}
	if errBody != nil {
		env["error"] = errBody
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func TestListParamsValues(t *testing.T) {
	p := ListParams{PageNumber: 2, PageSize: 25, Search: "laptop", Statuses: []string{"ACTIVE", "ON_HOLD"}}

	assert.Equal(t, "PageNumber=2&PageSize=25&Search=laptop&Status=ACTIVE&Status=ON_HOLD", p.Values().Encode())
	assert.Empty(t, ListParams{}.Values())
}

func TestListConcerns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/concerns", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "3", r.URL.Query().Get("PageNumber"))
		writeEnvelope(w, http.StatusOK, dto.ListResponse[dto.ConcernSummary]{
			Items: []dto.ConcernSummary{{ID: "c-1", Phase: domain.PhaseActive}},
			Page:  dto.Page{Number: 3, Size: 10, Total: 21},
		}, nil)
	}))
	defer srv.Close()

	c := New(srv.URL+"/api/v1/", "tok")
	page, err := c.ListConcerns(context.Background(), ListParams{PageNumber: 3, PageSize: 10})

	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "c-1", page.Items[0].ID)
	assert.Equal(t, 21, page.Page.Total)
}

func TestTransitionPostsToConcernPath(t *testing.T) {
	var gotPath string
	var gotBody dto.DecisionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, http.MethodPost, r.Method)
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		writeEnvelope(w, http.StatusOK, dto.ConcernDetailResponse{ID: "c-1", Phase: domain.PhaseActive}, nil)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	out, err := c.Transition(context.Background(), workflow.TransitionDisapproveClose, "c-1",
		dto.DecisionRequest{Remarks: "Insufficient detail"})

	require.NoError(t, err)
	assert.Equal(t, "/concerns/c-1/closings/disapprove", gotPath)
	assert.Equal(t, "Insufficient detail", gotBody.Remarks)
	assert.Equal(t, domain.PhaseActive, out.Phase)
}

func TestEveryTransitionHasAPath(t *testing.T) {
	all := []workflow.Transition{
		workflow.TransitionVerify, workflow.TransitionAssign,
		workflow.TransitionRequestHold, workflow.TransitionApproveHold, workflow.TransitionRejectHold, workflow.TransitionResumeHold,
		workflow.TransitionRequestTransfer, workflow.TransitionApproveTransfer, workflow.TransitionRejectTransfer,
		workflow.TransitionRequestClose, workflow.TransitionApproveClose, workflow.TransitionDisapproveClose,
		workflow.TransitionCancelConcern, workflow.TransitionConfirmResolution,
	}
	for _, tr := range all {
		assert.NotEmpty(t, transitionPaths[tr], "missing path for %s", tr)
	}

	_, err := New("http://unused", "").Transition(context.Background(), "TELEPORT", "c-1", nil)
	assert.Error(t, err)
}

func TestStructuredRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusConflict, nil, &dto.ErrorBody{
			Code:    "PRECONDITION_FAILED",
			Message: "concern already has an active hold request",
		})
	}))
	defer srv.Close()

	_, err := New(srv.URL, "tok").Transition(context.Background(), workflow.TransitionRequestHold, "c-1",
		dto.HoldRequest{Reason: "waiting on parts"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "concern already has an active hold request", apiErr.Message)
	assert.True(t, IsPrecondition(err))
	assert.False(t, IsTransport(err))
}

func TestNonJSONFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").Counts(context.Background())

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(url, "").Counts(context.Background())

	assert.True(t, IsTransport(err))
	assert.False(t, IsPrecondition(err))
}

func TestCountsAndBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/notifications/count":
			writeEnvelope(w, http.StatusOK, dto.CountsResponse{Counts: domain.Counts{domain.BucketClosingApprovals: 4}}, nil)
		case "/closings/approve":
			var req dto.BatchCloseRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, []string{"c-1", "c-2"}, req.ConcernIDs)
			writeEnvelope(w, http.StatusOK, []dto.BatchItemResult{
				{ConcernID: "c-1", OK: true},
				{ConcernID: "c-2", Error: &dto.ErrorBody{Code: "PRECONDITION_FAILED", Message: "no pending closing request"}},
			}, nil)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	c := New(srv.URL, "tok")

	counts, err := c.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, counts[domain.BucketClosingApprovals])

	results, err := c.BatchApproveClose(context.Background(), dto.BatchCloseRequest{ConcernIDs: []string{"c-1", "c-2"}})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].OK)
	assert.False(t, results[1].OK)
	assert.Equal(t, "no pending closing request", results[1].Error.Message)
}
