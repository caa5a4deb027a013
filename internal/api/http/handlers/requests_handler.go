package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk/internal/api/dto"
	"github.com/spec-kit/helpdesk/internal/service"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

// RequestsHandler serves the sub-request queues, badge counts and channels.
type RequestsHandler struct {
	workflow *service.WorkflowService
	queries  *service.QueryService
}

// NewRequestsHandler constructs handler.
func NewRequestsHandler(workflow *service.WorkflowService, queries *service.QueryService) *RequestsHandler {
	return &RequestsHandler{workflow: workflow, queries: queries}
}

func (h *RequestsHandler) ListHolds(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	q, err := parseListQuery(c)
	if err != nil {
		return err
	}
	holds, total, err := h.queries.ListHolds(c.UserContext(), actor, q)
	if err != nil {
		return err
	}
	out := make([]dto.HoldResponse, 0, len(holds))
	for _, hold := range holds {
		out = append(out, dto.NewHold(hold))
	}
	return respond(c, fiber.StatusOK, page(out, q, total))
}

func (h *RequestsHandler) ListTransfers(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	q, err := parseListQuery(c)
	if err != nil {
		return err
	}
	transfers, total, err := h.queries.ListTransfers(c.UserContext(), actor, q)
	if err != nil {
		return err
	}
	out := make([]dto.TransferResponse, 0, len(transfers))
	for _, t := range transfers {
		out = append(out, dto.NewTransfer(t))
	}
	return respond(c, fiber.StatusOK, page(out, q, total))
}

func (h *RequestsHandler) ListClosings(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	q, err := parseListQuery(c)
	if err != nil {
		return err
	}
	closings, total, err := h.queries.ListClosings(c.UserContext(), actor, q)
	if err != nil {
		return err
	}
	out := make([]dto.ClosingResponse, 0, len(closings))
	for _, cl := range closings {
		out = append(out, dto.NewClosing(cl))
	}
	return respond(c, fiber.StatusOK, page(out, q, total))
}

// ApproveClosings approves the closing request of each listed concern. Items
// fail independently; the call itself only fails on a malformed batch.
func (h *RequestsHandler) ApproveClosings(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.BatchCloseRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	results, err := h.workflow.BatchApproveClose(c.UserContext(), actor, req.ConcernIDs, req.Remarks)
	if err != nil {
		return err
	}
	out := make([]dto.BatchItemResult, 0, len(results))
	for _, r := range results {
		item := dto.BatchItemResult{ConcernID: r.ConcernID, OK: r.Err == nil}
		if r.Err != nil {
			de := apperrors.ToDomainError(r.Err)
			item.Error = &dto.ErrorBody{Code: de.Code, Message: de.Message, Details: de.Details}
		}
		out = append(out, item)
	}
	return respond(c, fiber.StatusOK, out)
}

// Counts returns the caller's badge counts.
func (h *RequestsHandler) Counts(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	counts, err := h.queries.Counts(c.UserContext(), actor)
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, dto.CountsResponse{Counts: counts})
}

func (h *RequestsHandler) Channels(c *fiber.Ctx) error {
	channels, err := h.queries.Channels(c.UserContext())
	if err != nil {
		return err
	}
	out := make([]dto.ChannelResponse, 0, len(channels))
	for _, ch := range channels {
		out = append(out, dto.NewChannel(ch))
	}
	return respond(c, fiber.StatusOK, out)
}
