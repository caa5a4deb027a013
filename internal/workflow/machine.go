package workflow

import (
	"slices"
	"strings"

	"github.com/spec-kit/helpdesk/internal/clock"
	"github.com/spec-kit/helpdesk/internal/domain"
)

// Transition names an operation that moves a concern or one of its sub-requests.
type Transition string

const (
	TransitionCreate            Transition = "CREATE"
	TransitionVerify            Transition = "VERIFY"
	TransitionAssign            Transition = "ASSIGN"
	TransitionRequestHold       Transition = "REQUEST_HOLD"
	TransitionApproveHold       Transition = "APPROVE_HOLD"
	TransitionRejectHold        Transition = "REJECT_HOLD"
	TransitionResumeHold        Transition = "RESUME_HOLD"
	TransitionRequestTransfer   Transition = "REQUEST_TRANSFER"
	TransitionApproveTransfer   Transition = "APPROVE_TRANSFER"
	TransitionRejectTransfer    Transition = "REJECT_TRANSFER"
	TransitionRequestClose      Transition = "REQUEST_CLOSE"
	TransitionApproveClose      Transition = "APPROVE_CLOSE"
	TransitionDisapproveClose   Transition = "DISAPPROVE_CLOSE"
	TransitionCancelConcern     Transition = "CANCEL_CONCERN"
	TransitionConfirmResolution Transition = "CONFIRM_RESOLUTION"
)

// Aggregate is the concern together with the sub-entities that gate its transitions.
type Aggregate struct {
	Concern    domain.Concern
	Channel    domain.Channel
	Assignment *domain.Assignment
	// Hold is the latest hold request that is still active, if any.
	Hold *domain.HoldRequest
	// Transfer is the pending transfer request, if any.
	Transfer *domain.TransferRequest
	// Closing is the pending closing request, if any.
	Closing *domain.ClosingRequest
}

// ForTransferApproval reports the parallel sub-state branching off Active.
func (a *Aggregate) ForTransferApproval() bool {
	return a.Transfer.Pending()
}

// ForHoldApproval reports whether a hold request awaits an approver.
func (a *Aggregate) ForHoldApproval() bool {
	return a.Hold != nil && a.Hold.Decision == domain.DecisionPending
}

// Change is everything a successful transition asks the store to persist.
// Nil fields are left untouched.
type Change struct {
	Transition Transition
	Concern    domain.Concern
	// Assignment is a new active assignment; Superseded is the one it replaces.
	Assignment *domain.Assignment
	Superseded *domain.Assignment
	Hold       *domain.HoldRequest
	Transfer   *domain.TransferRequest
	Closing    *domain.ClosingRequest
	History    domain.ConcernHistory
}

// Machine validates transitions against an aggregate and computes their effects.
// It never mutates the aggregate it is given.
type Machine struct {
	clock clock.Clock
	newID func() string
}

// NewMachine builds a machine using clk for timestamps and newID for fresh row ids.
func NewMachine(clk clock.Clock, newID func() string) *Machine {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Machine{clock: clk, newID: newID}
}

func (m *Machine) change(agg *Aggregate, t Transition, actor domain.Actor, next domain.Phase, remarks string) *Change {
	now := m.clock.Now()
	concern := agg.Concern
	from := concern.Phase
	concern.Phase = next
	concern.UpdatedAt = now
	return &Change{
		Transition: t,
		Concern:    concern,
		History: domain.ConcernHistory{
			ID:         m.newID(),
			ConcernID:  concern.ID,
			Transition: string(t),
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			FromPhase:  from,
			ToPhase:    next,
			Remarks:    remarks,
			CreatedAt:  now,
		},
	}
}

func requireRole(actor domain.Actor, allowed ...domain.Role) error {
	if !slices.Contains(allowed, actor.Role) {
		return domain.ErrRoleNotAllowed
	}
	return nil
}

func requirePhase(agg *Aggregate, allowed ...domain.Phase) error {
	if !slices.Contains(allowed, agg.Concern.Phase) {
		return domain.ErrInvalidPhase
	}
	return nil
}

func requireAssignee(agg *Aggregate, actor domain.Actor) error {
	if agg.Assignment == nil || agg.Assignment.HandlerID != actor.ID {
		return domain.ErrNotAssignee
	}
	return nil
}

func requireOwner(agg *Aggregate, actor domain.Actor) error {
	if agg.Concern.RequestorID != actor.ID {
		return domain.ErrNotOwner
	}
	return nil
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	return append([]string(nil), in...)
}

// Apply returns the aggregate as it stands once c is persisted. Sub-requests
// that c settled drop out; a is left untouched.
func (a *Aggregate) Apply(c *Change) *Aggregate {
	next := *a
	next.Concern = c.Concern
	if c.Assignment != nil {
		next.Assignment = c.Assignment
	} else if c.Superseded != nil {
		next.Assignment = nil
	}
	if c.Hold != nil {
		next.Hold = nil
		if c.Hold.Active() {
			next.Hold = c.Hold
		}
	}
	if c.Transfer != nil {
		next.Transfer = nil
		if c.Transfer.Pending() {
			next.Transfer = c.Transfer
		}
	}
	if c.Closing != nil {
		next.Closing = nil
		if c.Closing.Pending() {
			next.Closing = c.Closing
		}
	}
	return &next
}

// BatchResult is the outcome of one concern in a batch operation.
type BatchResult struct {
	ConcernID string
	Aggregate *Aggregate
	Err       error
}
