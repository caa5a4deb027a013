package storeclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/spec-kit/helpdesk/internal/api/dto"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/workflow"
)

// Endpoint names used as cache fingerprints.
const (
	EndpointConcerns      = "concerns"
	EndpointConcern       = "concern"
	EndpointHistory       = "concern/history"
	EndpointHolds         = "holds"
	EndpointTransfers     = "transfers"
	EndpointClosings      = "closings"
	EndpointNotifications = "notifications/count"
)

var transitionPaths = map[workflow.Transition]string{
	workflow.TransitionVerify:            "verify",
	workflow.TransitionAssign:            "assign",
	workflow.TransitionRequestHold:       "holds",
	workflow.TransitionApproveHold:       "holds/approve",
	workflow.TransitionRejectHold:        "holds/reject",
	workflow.TransitionResumeHold:        "holds/resume",
	workflow.TransitionRequestTransfer:   "transfers",
	workflow.TransitionApproveTransfer:   "transfers/approve",
	workflow.TransitionRejectTransfer:    "transfers/reject",
	workflow.TransitionRequestClose:      "closings",
	workflow.TransitionApproveClose:      "closings/approve",
	workflow.TransitionDisapproveClose:   "closings/disapprove",
	workflow.TransitionCancelConcern:     "cancel",
	workflow.TransitionConfirmResolution: "confirm",
}

// ListConcerns returns a page of concerns.
func (c *Client) ListConcerns(ctx context.Context, p ListParams) (dto.ListResponse[dto.ConcernSummary], error) {
	var out dto.ListResponse[dto.ConcernSummary]
	err := c.do(ctx, http.MethodGet, "/concerns", p.Values(), nil, &out)
	return out, err
}

// GetConcern returns one concern with its open sub-requests.
func (c *Client) GetConcern(ctx context.Context, id string) (dto.ConcernDetailResponse, error) {
	var out dto.ConcernDetailResponse
	err := c.do(ctx, http.MethodGet, "/concerns/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

// History returns the audit trail of a concern.
func (c *Client) History(ctx context.Context, id string) ([]dto.HistoryResponse, error) {
	var out []dto.HistoryResponse
	err := c.do(ctx, http.MethodGet, "/concerns/"+url.PathEscape(id)+"/history", nil, nil, &out)
	return out, err
}

// ListHolds returns a page of hold requests.
func (c *Client) ListHolds(ctx context.Context, p ListParams) (dto.ListResponse[dto.HoldResponse], error) {
	var out dto.ListResponse[dto.HoldResponse]
	err := c.do(ctx, http.MethodGet, "/holds", p.Values(), nil, &out)
	return out, err
}

// ListTransfers returns a page of transfer requests.
func (c *Client) ListTransfers(ctx context.Context, p ListParams) (dto.ListResponse[dto.TransferResponse], error) {
	var out dto.ListResponse[dto.TransferResponse]
	err := c.do(ctx, http.MethodGet, "/transfers", p.Values(), nil, &out)
	return out, err
}

// ListClosings returns a page of closing requests.
func (c *Client) ListClosings(ctx context.Context, p ListParams) (dto.ListResponse[dto.ClosingResponse], error) {
	var out dto.ListResponse[dto.ClosingResponse]
	err := c.do(ctx, http.MethodGet, "/closings", p.Values(), nil, &out)
	return out, err
}

// Counts returns the caller's badge counts.
func (c *Client) Counts(ctx context.Context) (domain.Counts, error) {
	var out dto.CountsResponse
	if err := c.do(ctx, http.MethodGet, "/notifications/count", nil, nil, &out); err != nil {
		return nil, err
	}
	if out.Counts == nil {
		out.Counts = domain.Counts{}
	}
	return out.Counts, nil
}

// CreateConcern raises a new concern.
func (c *Client) CreateConcern(ctx context.Context, req dto.CreateConcernRequest) (dto.ConcernDetailResponse, error) {
	var out dto.ConcernDetailResponse
	err := c.do(ctx, http.MethodPost, "/concerns", nil, req, &out)
	return out, err
}

// Transition invokes t on a concern and returns the concern as the store left it.
// body is the transition's request payload, for example dto.HoldRequest.
func (c *Client) Transition(ctx context.Context, t workflow.Transition, concernID string, body any) (dto.ConcernDetailResponse, error) {
	var out dto.ConcernDetailResponse
	if t == workflow.TransitionCreate {
		req, ok := body.(dto.CreateConcernRequest)
		if !ok {
			return out, fmt.Errorf("create expects dto.CreateConcernRequest, got %T", body)
		}
		return c.CreateConcern(ctx, req)
	}
	suffix, ok := transitionPaths[t]
	if !ok {
		return out, fmt.Errorf("unknown transition %q", t)
	}
	if body == nil {
		body = dto.DecisionRequest{}
	}
	err := c.do(ctx, http.MethodPost, "/concerns/"+url.PathEscape(concernID)+"/"+suffix, nil, body, &out)
	return out, err
}

// BatchApproveClose approves the pending closing request of every listed concern.
// Each concern succeeds or fails on its own.
func (c *Client) BatchApproveClose(ctx context.Context, req dto.BatchCloseRequest) ([]dto.BatchItemResult, error) {
	var out []dto.BatchItemResult
	err := c.do(ctx, http.MethodPost, "/closings/approve", nil, req, &out)
	return out, err
}
