package domain

import "time"

// Decision is the approver outcome of a sub-workflow request.
type Decision string

const (
	DecisionPending     Decision = "PENDING"
	DecisionApproved    Decision = "APPROVED"
	DecisionRejected    Decision = "REJECTED"
	DecisionDisapproved Decision = "DISAPPROVED"
)

// HoldRequest asks an approver to pause work on a concern.
type HoldRequest struct {
	ID              string
	ConcernID       string
	RequestedBy     string
	Reason          string
	Attachments     []string
	Decision        Decision
	DecidedBy       *string
	DecisionRemarks string
	Resumed         bool
	ResumedAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Active reports whether the hold still blocks a new hold request.
func (h *HoldRequest) Active() bool {
	if h == nil {
		return false
	}
	return h.Decision == DecisionPending || (h.Decision == DecisionApproved && !h.Resumed)
}

// TransferRequest asks to move a concern to another handler.
// Approval walks CurrentLevel from 1 up to RequiredLevels.
type TransferRequest struct {
	ID              string
	ConcernID       string
	RequestedBy     string
	FromHandlerID   string
	ToHandlerID     string
	ToChannelID     string
	Remarks         string
	Attachments     []string
	RequiredLevels  int
	CurrentLevel    int
	TargetDate      *time.Time
	Decision        Decision
	DecidedBy       *string
	DecisionRemarks string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Pending reports whether the transfer still awaits a decision.
func (t *TransferRequest) Pending() bool {
	return t != nil && t.Decision == DecisionPending
}

// FinalLevel reports whether the current level is the last one.
func (t *TransferRequest) FinalLevel() bool {
	return t.CurrentLevel >= t.RequiredLevels
}

// ClosingRequest asks for a concern to be closed with a resolution.
type ClosingRequest struct {
	ID          string
	ConcernID   string
	RequestedBy string
	Resolution  string
	Attachments []string
	Decision    Decision
	DecidedBy   *string
	Remarks     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Pending reports whether the closing request awaits a decision.
func (c *ClosingRequest) Pending() bool {
	return c != nil && c.Decision == DecisionPending
}
