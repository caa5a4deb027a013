package workflow

import (
	"strings"
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// CreateInput describes a new concern raised by a requestor.
type CreateInput struct {
	ChannelID     string
	Description   string
	Categories    []string
	SubCategories []domain.SubCategory
}

// Create opens a concern in the Pending phase.
func (m *Machine) Create(actor domain.Actor, in CreateInput) (*Change, error) {
	if err := requireRole(actor, domain.RoleRequestor); err != nil {
		return nil, err
	}
	if blank(in.Description) {
		return nil, domain.ErrDescriptionRequired
	}
	if err := domain.ValidateTags(in.Categories, in.SubCategories); err != nil {
		return nil, err
	}
	now := m.clock.Now()
	agg := &Aggregate{Concern: domain.Concern{
		ID:            m.newID(),
		RequestorID:   actor.ID,
		ChannelID:     in.ChannelID,
		Description:   strings.TrimSpace(in.Description),
		Categories:    cloneStrings(in.Categories),
		SubCategories: append([]domain.SubCategory(nil), in.SubCategories...),
		CreatedAt:     now,
	}}
	return m.change(agg, TransitionCreate, actor, domain.PhasePending, ""), nil
}

// Verify marks a pending concern as checked by a receiver. The phase stays Pending.
func (m *Machine) Verify(agg *Aggregate, actor domain.Actor) (*Change, error) {
	if err := requireRole(actor, domain.RoleReceiver); err != nil {
		return nil, err
	}
	if err := requirePhase(agg, domain.PhasePending); err != nil {
		return nil, err
	}
	c := m.change(agg, TransitionVerify, actor, domain.PhasePending, "")
	c.Concern.Verified = true
	verifier := actor.ID
	c.Concern.VerifiedBy = &verifier
	return c, nil
}

// AssignInput carries everything a receiver must set to hand a concern to a handler.
type AssignInput struct {
	ChannelID     string
	HandlerID     string
	Categories    []string
	SubCategories []domain.SubCategory
	TargetDate    time.Time
}

// Assign creates the active assignment and moves the concern to Active.
func (m *Machine) Assign(agg *Aggregate, actor domain.Actor, in AssignInput) (*Change, error) {
	if err := requireRole(actor, domain.RoleReceiver); err != nil {
		return nil, err
	}
	if err := requirePhase(agg, domain.PhasePending); err != nil {
		return nil, err
	}
	if blank(in.ChannelID) || blank(in.HandlerID) || len(in.Categories) == 0 ||
		len(in.SubCategories) == 0 || in.TargetDate.IsZero() {
		return nil, domain.ErrAssignmentIncomplete
	}
	if err := domain.ValidateTags(in.Categories, in.SubCategories); err != nil {
		return nil, err
	}

	c := m.change(agg, TransitionAssign, actor, domain.PhaseActive, "")
	c.Concern.ChannelID = in.ChannelID
	c.Concern.Categories = cloneStrings(in.Categories)
	c.Concern.SubCategories = append([]domain.SubCategory(nil), in.SubCategories...)
	if !c.Concern.Verified {
		c.Concern.Verified = true
		verifier := actor.ID
		c.Concern.VerifiedBy = &verifier
	}
	c.Assignment = &domain.Assignment{
		ID:         m.newID(),
		ConcernID:  agg.Concern.ID,
		HandlerID:  in.HandlerID,
		ChannelID:  in.ChannelID,
		TargetDate: in.TargetDate,
		AssignedBy: actor.ID,
		Active:     true,
		CreatedAt:  c.History.CreatedAt,
	}
	c.Superseded = supersede(agg.Assignment, c.History.CreatedAt)
	return c, nil
}

// HoldInput is the issue handler's reason for pausing work.
type HoldInput struct {
	Reason      string
	Attachments []string
}

// RequestHold files a pending hold request. The concern stays Active until approved.
func (m *Machine) RequestHold(agg *Aggregate, actor domain.Actor, in HoldInput) (*Change, error) {
	if err := requireRole(actor, domain.RoleIssueHandler); err != nil {
		return nil, err
	}
	if err := requireAssignee(agg, actor); err != nil {
		return nil, err
	}
	if agg.Hold.Active() {
		return nil, domain.ErrHoldAlreadyActive
	}
	if err := requirePhase(agg, domain.PhaseActive); err != nil {
		return nil, err
	}
	if blank(in.Reason) {
		return nil, domain.ErrHoldReasonRequired
	}
	c := m.change(agg, TransitionRequestHold, actor, domain.PhaseActive, in.Reason)
	c.Hold = &domain.HoldRequest{
		ID:          m.newID(),
		ConcernID:   agg.Concern.ID,
		RequestedBy: actor.ID,
		Reason:      strings.TrimSpace(in.Reason),
		Attachments: cloneStrings(in.Attachments),
		Decision:    domain.DecisionPending,
		CreatedAt:   c.History.CreatedAt,
		UpdatedAt:   c.History.CreatedAt,
	}
	return c, nil
}

// ApproveHold pauses the concern.
func (m *Machine) ApproveHold(agg *Aggregate, actor domain.Actor, remarks string) (*Change, error) {
	return m.decideHold(agg, actor, remarks, true)
}

// RejectHold discards the hold; the concern stays Active.
func (m *Machine) RejectHold(agg *Aggregate, actor domain.Actor, remarks string) (*Change, error) {
	return m.decideHold(agg, actor, remarks, false)
}

func (m *Machine) decideHold(agg *Aggregate, actor domain.Actor, remarks string, approve bool) (*Change, error) {
	if err := requireRole(actor, domain.RoleApprover); err != nil {
		return nil, err
	}
	if !agg.ForHoldApproval() {
		return nil, domain.ErrNoPendingHold
	}
	t, next, decision := TransitionRejectHold, agg.Concern.Phase, domain.DecisionRejected
	if approve {
		t, next, decision = TransitionApproveHold, domain.PhaseOnHold, domain.DecisionApproved
	}
	c := m.change(agg, t, actor, next, remarks)
	hold := *agg.Hold
	hold.Decision = decision
	decider := actor.ID
	hold.DecidedBy = &decider
	hold.DecisionRemarks = strings.TrimSpace(remarks)
	hold.UpdatedAt = c.History.CreatedAt
	c.Hold = &hold
	return c, nil
}

// ResumeHold returns an approved hold back to Active.
func (m *Machine) ResumeHold(agg *Aggregate, actor domain.Actor) (*Change, error) {
	if err := requireRole(actor, domain.RoleIssueHandler); err != nil {
		return nil, err
	}
	if err := requireAssignee(agg, actor); err != nil {
		return nil, err
	}
	if err := requirePhase(agg, domain.PhaseOnHold); err != nil {
		return nil, err
	}
	c := m.change(agg, TransitionResumeHold, actor, domain.PhaseActive, "")
	if agg.Hold != nil {
		hold := *agg.Hold
		hold.Resumed = true
		resumedAt := c.History.CreatedAt
		hold.ResumedAt = &resumedAt
		hold.UpdatedAt = resumedAt
		c.Hold = &hold
	}
	return c, nil
}

// TransferInput names the handler a concern should move to.
type TransferInput struct {
	ToHandlerID string
	ToChannelID string
	Remarks     string
	Attachments []string
}

// RequestTransfer files a pending transfer that needs the channel's approval levels.
func (m *Machine) RequestTransfer(agg *Aggregate, actor domain.Actor, in TransferInput) (*Change, error) {
	if err := requireRole(actor, domain.RoleIssueHandler); err != nil {
		return nil, err
	}
	if err := requireAssignee(agg, actor); err != nil {
		return nil, err
	}
	if agg.Transfer.Pending() {
		return nil, domain.ErrTransferAlreadyPending
	}
	if err := requirePhase(agg, domain.PhaseActive); err != nil {
		return nil, err
	}
	if blank(in.ToHandlerID) {
		return nil, domain.ErrTransferTargetRequired
	}
	if in.ToHandlerID == agg.Assignment.HandlerID {
		return nil, domain.ErrTransferToSelf
	}
	levels := agg.Channel.TransferLevels
	if levels < 1 {
		levels = 1
	}
	toChannel := in.ToChannelID
	if blank(toChannel) {
		toChannel = agg.Assignment.ChannelID
	}
	c := m.change(agg, TransitionRequestTransfer, actor, domain.PhaseActive, in.Remarks)
	c.Transfer = &domain.TransferRequest{
		ID:             m.newID(),
		ConcernID:      agg.Concern.ID,
		RequestedBy:    actor.ID,
		FromHandlerID:  agg.Assignment.HandlerID,
		ToHandlerID:    in.ToHandlerID,
		ToChannelID:    toChannel,
		Remarks:        strings.TrimSpace(in.Remarks),
		Attachments:    cloneStrings(in.Attachments),
		RequiredLevels: levels,
		CurrentLevel:   1,
		Decision:       domain.DecisionPending,
		CreatedAt:      c.History.CreatedAt,
		UpdatedAt:      c.History.CreatedAt,
	}
	return c, nil
}

// TransferDecision is an approver's verdict at one approval level.
type TransferDecision struct {
	// Level, when set, must equal the approver's own level.
	Level      int
	TargetDate *time.Time
	Remarks    string
}

// ApproveTransfer advances a pending transfer one level. Only the final level
// rewrites the assignment to the target handler.
func (m *Machine) ApproveTransfer(agg *Aggregate, actor domain.Actor, d TransferDecision) (*Change, error) {
	if err := requireRole(actor, domain.RoleApprover); err != nil {
		return nil, err
	}
	if !agg.Transfer.Pending() {
		return nil, domain.ErrNoPendingTransfer
	}
	if err := requirePhase(agg, domain.PhaseActive); err != nil {
		return nil, err
	}
	level, err := decisionLevel(d, actor)
	if err != nil {
		return nil, err
	}
	if level != agg.Transfer.CurrentLevel {
		return nil, domain.ErrTransferLevelMismatch
	}
	target, err := transferTargetDate(level, d.TargetDate)
	if err != nil {
		return nil, err
	}

	c := m.change(agg, TransitionApproveTransfer, actor, agg.Concern.Phase, d.Remarks)
	transfer := *agg.Transfer
	transfer.UpdatedAt = c.History.CreatedAt
	if target != nil {
		transfer.TargetDate = target
	}
	if !transfer.FinalLevel() {
		transfer.CurrentLevel++
		c.Transfer = &transfer
		return c, nil
	}

	transfer.Decision = domain.DecisionApproved
	decider := actor.ID
	transfer.DecidedBy = &decider
	transfer.DecisionRemarks = strings.TrimSpace(d.Remarks)
	c.Transfer = &transfer

	next := domain.Assignment{
		ID:         m.newID(),
		ConcernID:  agg.Concern.ID,
		HandlerID:  transfer.ToHandlerID,
		ChannelID:  transfer.ToChannelID,
		AssignedBy: actor.ID,
		Active:     true,
		CreatedAt:  c.History.CreatedAt,
	}
	if agg.Assignment != nil {
		next.TargetDate = agg.Assignment.TargetDate
		if next.ChannelID == "" {
			next.ChannelID = agg.Assignment.ChannelID
		}
	}
	if transfer.TargetDate != nil {
		next.TargetDate = *transfer.TargetDate
	}
	c.Assignment = &next
	c.Superseded = supersede(agg.Assignment, c.History.CreatedAt)
	c.Concern.ChannelID = next.ChannelID
	return c, nil
}

// RejectTransfer discards a pending transfer and leaves the concern unchanged.
func (m *Machine) RejectTransfer(agg *Aggregate, actor domain.Actor, remarks string) (*Change, error) {
	if err := requireRole(actor, domain.RoleApprover); err != nil {
		return nil, err
	}
	if !agg.Transfer.Pending() {
		return nil, domain.ErrNoPendingTransfer
	}
	c := m.change(agg, TransitionRejectTransfer, actor, agg.Concern.Phase, remarks)
	transfer := *agg.Transfer
	transfer.Decision = domain.DecisionRejected
	decider := actor.ID
	transfer.DecidedBy = &decider
	transfer.DecisionRemarks = strings.TrimSpace(remarks)
	transfer.UpdatedAt = c.History.CreatedAt
	c.Transfer = &transfer
	return c, nil
}

// CloseInput is the handler's resolution.
type CloseInput struct {
	Resolution  string
	Attachments []string
}

// RequestClose files a closing request and moves the concern to ForClosingApproval.
func (m *Machine) RequestClose(agg *Aggregate, actor domain.Actor, in CloseInput) (*Change, error) {
	if err := requireRole(actor, domain.RoleIssueHandler); err != nil {
		return nil, err
	}
	if err := requireAssignee(agg, actor); err != nil {
		return nil, err
	}
	if err := requirePhase(agg, domain.PhaseActive); err != nil {
		return nil, err
	}
	if blank(in.Resolution) {
		return nil, domain.ErrResolutionRequired
	}
	if agg.ForHoldApproval() || agg.ForTransferApproval() {
		return nil, domain.ErrOpenRequestBlocksClose
	}
	c := m.change(agg, TransitionRequestClose, actor, domain.PhaseForClosingApproval, "")
	c.Closing = &domain.ClosingRequest{
		ID:          m.newID(),
		ConcernID:   agg.Concern.ID,
		RequestedBy: actor.ID,
		Resolution:  strings.TrimSpace(in.Resolution),
		Attachments: cloneStrings(in.Attachments),
		Decision:    domain.DecisionPending,
		CreatedAt:   c.History.CreatedAt,
		UpdatedAt:   c.History.CreatedAt,
	}
	return c, nil
}

// ApproveClose closes the concern for good.
func (m *Machine) ApproveClose(agg *Aggregate, actor domain.Actor, remarks string) (*Change, error) {
	if err := m.requireClosingApprover(agg, actor); err != nil {
		return nil, err
	}
	c := m.change(agg, TransitionApproveClose, actor, domain.PhaseClosed, remarks)
	closedAt := c.History.CreatedAt
	c.Concern.ClosedAt = &closedAt
	c.Closing = decideClosing(agg.Closing, actor, domain.DecisionApproved, remarks, closedAt)
	return c, nil
}

// DisapproveClose reopens the concern to its handler. Remarks are mandatory.
func (m *Machine) DisapproveClose(agg *Aggregate, actor domain.Actor, remarks string) (*Change, error) {
	if err := m.requireClosingApprover(agg, actor); err != nil {
		return nil, err
	}
	if blank(remarks) {
		return nil, domain.ErrRemarksRequired
	}
	c := m.change(agg, TransitionDisapproveClose, actor, domain.PhaseActive, remarks)
	c.Closing = decideClosing(agg.Closing, actor, domain.DecisionDisapproved, remarks, c.History.CreatedAt)
	return c, nil
}

func (m *Machine) requireClosingApprover(agg *Aggregate, actor domain.Actor) error {
	approver := agg.Channel.ClosingApprover
	if approver == "" {
		approver = domain.RoleApprover
	}
	if err := requireRole(actor, approver); err != nil {
		return err
	}
	if !agg.Closing.Pending() || agg.Concern.Phase != domain.PhaseForClosingApproval {
		return domain.ErrNoPendingClosing
	}
	return nil
}

// CancelConcern withdraws a concern that nobody has picked up yet.
func (m *Machine) CancelConcern(agg *Aggregate, actor domain.Actor, reason string) (*Change, error) {
	if err := requireRole(actor, domain.RoleRequestor); err != nil {
		return nil, err
	}
	if err := requireOwner(agg, actor); err != nil {
		return nil, err
	}
	if err := requirePhase(agg, domain.PhasePending); err != nil {
		return nil, err
	}
	return m.change(agg, TransitionCancelConcern, actor, domain.PhaseCancelled, reason), nil
}

// ConfirmResolution records the requestor's acknowledgement of a closed concern.
func (m *Machine) ConfirmResolution(agg *Aggregate, actor domain.Actor) (*Change, error) {
	if err := requireRole(actor, domain.RoleRequestor); err != nil {
		return nil, err
	}
	if err := requireOwner(agg, actor); err != nil {
		return nil, err
	}
	if err := requirePhase(agg, domain.PhaseClosed); err != nil {
		return nil, err
	}
	if agg.Concern.Confirmed {
		return nil, domain.ErrAlreadyConfirmed
	}
	c := m.change(agg, TransitionConfirmResolution, actor, domain.PhaseClosed, "")
	c.Concern.Confirmed = true
	return c, nil
}

func decideClosing(pending *domain.ClosingRequest, actor domain.Actor, decision domain.Decision, remarks string, at time.Time) *domain.ClosingRequest {
	closing := *pending
	closing.Decision = decision
	decider := actor.ID
	closing.DecidedBy = &decider
	closing.Remarks = strings.TrimSpace(remarks)
	closing.UpdatedAt = at
	return &closing
}

func supersede(current *domain.Assignment, at time.Time) *domain.Assignment {
	if current == nil {
		return nil
	}
	old := *current
	old.Active = false
	old.SupersededAt = &at
	return &old
}

// decisionLevel is the level the actor's token grants. A level named in the
// decision only confirms it and must match.
func decisionLevel(d TransferDecision, actor domain.Actor) (int, error) {
	level := actor.ApproverLevel
	if level < 1 {
		level = 1
	}
	if d.Level > 0 && d.Level != level {
		return 0, domain.ErrApproverLevelNotHeld
	}
	return level, nil
}

// transferTargetDate applies the per-level target date policy: level one keeps
// whatever the approver sent (possibly nothing), higher levels must send a date
// and it is normalized to the calendar day.
func transferTargetDate(level int, in *time.Time) (*time.Time, error) {
	if level <= 1 {
		return in, nil
	}
	if in == nil || in.IsZero() {
		return nil, domain.ErrTargetDateRequired
	}
	day := time.Date(in.Year(), in.Month(), in.Day(), 0, 0, 0, 0, time.UTC)
	return &day, nil
}
