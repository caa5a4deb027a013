package dto

import (
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/workflow"
)

// NewConcernDetail maps an aggregate to its response.
func NewConcernDetail(agg *workflow.Aggregate) ConcernDetailResponse {
	c := agg.Concern
	resp := ConcernDetailResponse{
		ID:            c.ID,
		RequestorID:   c.RequestorID,
		ChannelID:     c.ChannelID,
		Description:   c.Description,
		Categories:    nonNil(c.Categories),
		SubCategories: c.SubCategories,
		Phase:         c.Phase,
		Verified:      c.Verified,
		VerifiedBy:    c.VerifiedBy,
		Confirmed:     c.Confirmed,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
		ClosedAt:      c.ClosedAt,
	}
	if resp.SubCategories == nil {
		resp.SubCategories = []domain.SubCategory{}
	}
	if a := agg.Assignment; a != nil {
		resp.Assignment = &AssignmentResponse{
			ID:         a.ID,
			HandlerID:  a.HandlerID,
			ChannelID:  a.ChannelID,
			TargetDate: a.TargetDate,
			AssignedBy: a.AssignedBy,
			CreatedAt:  a.CreatedAt,
		}
	}
	if agg.Hold != nil {
		h := NewHold(*agg.Hold)
		resp.Hold = &h
	}
	if agg.Transfer != nil {
		t := NewTransfer(*agg.Transfer)
		resp.Transfer = &t
	}
	if agg.Closing != nil {
		cl := NewClosing(*agg.Closing)
		resp.Closing = &cl
	}
	return resp
}

// NewConcernSummary maps a concern row with its active handler.
func NewConcernSummary(c domain.Concern, handlerID string) ConcernSummary {
	return ConcernSummary{
		ID:          c.ID,
		RequestorID: c.RequestorID,
		ChannelID:   c.ChannelID,
		Description: c.Description,
		Categories:  nonNil(c.Categories),
		Phase:       c.Phase,
		Verified:    c.Verified,
		Confirmed:   c.Confirmed,
		HandlerID:   handlerID,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func NewHold(h domain.HoldRequest) HoldResponse {
	return HoldResponse{
		ID:              h.ID,
		ConcernID:       h.ConcernID,
		RequestedBy:     h.RequestedBy,
		Reason:          h.Reason,
		Attachments:     nonNil(h.Attachments),
		Decision:        h.Decision,
		DecidedBy:       h.DecidedBy,
		DecisionRemarks: h.DecisionRemarks,
		Resumed:         h.Resumed,
		CreatedAt:       h.CreatedAt,
		UpdatedAt:       h.UpdatedAt,
	}
}

func NewTransfer(t domain.TransferRequest) TransferResponse {
	return TransferResponse{
		ID:             t.ID,
		ConcernID:      t.ConcernID,
		RequestedBy:    t.RequestedBy,
		FromHandlerID:  t.FromHandlerID,
		ToHandlerID:    t.ToHandlerID,
		ToChannelID:    t.ToChannelID,
		Remarks:        t.Remarks,
		Attachments:    nonNil(t.Attachments),
		RequiredLevels: t.RequiredLevels,
		CurrentLevel:   t.CurrentLevel,
		TargetDate:     t.TargetDate,
		Decision:       t.Decision,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

func NewClosing(c domain.ClosingRequest) ClosingResponse {
	return ClosingResponse{
		ID:          c.ID,
		ConcernID:   c.ConcernID,
		RequestedBy: c.RequestedBy,
		Resolution:  c.Resolution,
		Attachments: nonNil(c.Attachments),
		Decision:    c.Decision,
		DecidedBy:   c.DecidedBy,
		Remarks:     c.Remarks,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func NewHistory(h domain.ConcernHistory) HistoryResponse {
	return HistoryResponse{
		ID:         h.ID,
		Transition: h.Transition,
		ActorID:    h.ActorID,
		ActorRole:  h.ActorRole,
		FromPhase:  h.FromPhase,
		ToPhase:    h.ToPhase,
		Remarks:    h.Remarks,
		CreatedAt:  h.CreatedAt,
	}
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func NewChannel(ch domain.Channel) ChannelResponse {
	return ChannelResponse{
		ID:              ch.ID,
		Name:            ch.Name,
		ClosingApprover: ch.ClosingApprover,
		TransferLevels:  ch.TransferLevels,
	}
}
