package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk/internal/api/dto"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/service"
	"github.com/spec-kit/helpdesk/internal/workflow"
)

// ConcernsHandler serves concern reads and every workflow transition.
type ConcernsHandler struct {
	workflow *service.WorkflowService
	queries  *service.QueryService
}

// NewConcernsHandler constructs handler.
func NewConcernsHandler(workflow *service.WorkflowService, queries *service.QueryService) *ConcernsHandler {
	return &ConcernsHandler{workflow: workflow, queries: queries}
}

// Create raises a new concern for the calling requestor.
func (h *ConcernsHandler) Create(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.CreateConcernRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	agg, err := h.workflow.Create(c.UserContext(), actor, workflow.CreateInput{
		ChannelID:     req.ChannelID,
		Description:   req.Description,
		Categories:    req.Categories,
		SubCategories: req.SubCategories,
	})
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusCreated, dto.NewConcernDetail(agg))
}

// Get returns one concern with its open sub-requests.
func (h *ConcernsHandler) Get(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	agg, err := h.queries.GetConcern(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, dto.NewConcernDetail(agg))
}

// History returns the audit trail of a concern, oldest first.
func (h *ConcernsHandler) History(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	entries, err := h.queries.History(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	out := make([]dto.HistoryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, dto.NewHistory(e))
	}
	return respond(c, fiber.StatusOK, out)
}

// List returns the caller's page of concerns.
func (h *ConcernsHandler) List(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	q, err := parseListQuery(c)
	if err != nil {
		return err
	}
	items, total, err := h.queries.ListConcerns(c.UserContext(), actor, q)
	if err != nil {
		return err
	}
	out := make([]dto.ConcernSummary, 0, len(items))
	for _, it := range items {
		out = append(out, dto.NewConcernSummary(it.Concern, it.HandlerID))
	}
	return respond(c, fiber.StatusOK, page(out, q, total))
}

func (h *ConcernsHandler) Verify(c *fiber.Ctx) error {
	return h.transition(c, func(actor domain.Actor, id string) (*workflow.Aggregate, error) {
		return h.workflow.Verify(c.UserContext(), actor, id)
	})
}

func (h *ConcernsHandler) Assign(c *fiber.Ctx) error {
	var req dto.AssignRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	in := workflow.AssignInput{
		ChannelID:     req.ChannelID,
		HandlerID:     req.HandlerID,
		Categories:    req.Categories,
		SubCategories: req.SubCategories,
	}
	if req.TargetDate != nil {
		in.TargetDate = *req.TargetDate
	}
	return h.transition(c, func(actor domain.Actor, id string) (*workflow.Aggregate, error) {
		return h.workflow.Assign(c.UserContext(), actor, id, in)
	})
}

func (h *ConcernsHandler) RequestHold(c *fiber.Ctx) error {
	var req dto.HoldRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	return h.transition(c, func(actor domain.Actor, id string) (*workflow.Aggregate, error) {
		return h.workflow.RequestHold(c.UserContext(), actor, id, workflow.HoldInput{
			Reason:      req.Reason,
			Attachments: req.Attachments,
		})
	})
}

func (h *ConcernsHandler) ApproveHold(c *fiber.Ctx) error {
	return h.decision(c, h.workflow.ApproveHold)
}

func (h *ConcernsHandler) RejectHold(c *fiber.Ctx) error {
	return h.decision(c, h.workflow.RejectHold)
}

func (h *ConcernsHandler) ResumeHold(c *fiber.Ctx) error {
	return h.transition(c, func(actor domain.Actor, id string) (*workflow.Aggregate, error) {
		return h.workflow.ResumeHold(c.UserContext(), actor, id)
	})
}

func (h *ConcernsHandler) RequestTransfer(c *fiber.Ctx) error {
	var req dto.TransferRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	return h.transition(c, func(actor domain.Actor, id string) (*workflow.Aggregate, error) {
		return h.workflow.RequestTransfer(c.UserContext(), actor, id, workflow.TransferInput{
			ToHandlerID: req.ToHandlerID,
			ToChannelID: req.ToChannelID,
			Remarks:     req.Remarks,
			Attachments: req.Attachments,
		})
	})
}

func (h *ConcernsHandler) ApproveTransfer(c *fiber.Ctx) error {
	var req dto.DecisionRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	return h.transition(c, func(actor domain.Actor, id string) (*workflow.Aggregate, error) {
		return h.workflow.ApproveTransfer(c.UserContext(), actor, id, workflow.TransferDecision{
			Level:      req.Level,
			TargetDate: req.TargetDate,
			Remarks:    req.Remarks,
		})
	})
}

func (h *ConcernsHandler) RejectTransfer(c *fiber.Ctx) error {
	return h.decision(c, h.workflow.RejectTransfer)
}

func (h *ConcernsHandler) RequestClose(c *fiber.Ctx) error {
	var req dto.CloseRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	return h.transition(c, func(actor domain.Actor, id string) (*workflow.Aggregate, error) {
		return h.workflow.RequestClose(c.UserContext(), actor, id, workflow.CloseInput{
			Resolution:  req.Resolution,
			Attachments: req.Attachments,
		})
	})
}

func (h *ConcernsHandler) ApproveClose(c *fiber.Ctx) error {
	return h.decision(c, h.workflow.ApproveClose)
}

func (h *ConcernsHandler) DisapproveClose(c *fiber.Ctx) error {
	return h.decision(c, h.workflow.DisapproveClose)
}

// Cancel withdraws a concern; the remarks carry the reason.
func (h *ConcernsHandler) Cancel(c *fiber.Ctx) error {
	return h.decision(c, h.workflow.CancelConcern)
}

func (h *ConcernsHandler) Confirm(c *fiber.Ctx) error {
	return h.transition(c, func(actor domain.Actor, id string) (*workflow.Aggregate, error) {
		return h.workflow.ConfirmResolution(c.UserContext(), actor, id)
	})
}

type decisionFunc func(ctx context.Context, actor domain.Actor, concernID, remarks string) (*workflow.Aggregate, error)

// decision runs a transition whose only input is the remarks of a DecisionRequest.
func (h *ConcernsHandler) decision(c *fiber.Ctx, fn decisionFunc) error {
	var req dto.DecisionRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	return h.transition(c, func(actor domain.Actor, id string) (*workflow.Aggregate, error) {
		return fn(c.UserContext(), actor, id, req.Remarks)
	})
}

func (h *ConcernsHandler) transition(c *fiber.Ctx, run func(actor domain.Actor, id string) (*workflow.Aggregate, error)) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	agg, err := run(actor, c.Params("id"))
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, dto.NewConcernDetail(agg))
}

func page[T any](items []T, q service.ListQuery, total int) dto.ListResponse[T] {
	number, size := q.Page()
	return dto.ListResponse[T]{Items: items, Page: dto.Page{Number: number, Size: size, Total: total}}
}
