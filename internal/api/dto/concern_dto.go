package dto

import (
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// CreateConcernRequest payload.
type CreateConcernRequest struct {
	ChannelID     string               `json:"channel_id"`
	Description   string               `json:"description"`
	Categories    []string             `json:"categories"`
	SubCategories []domain.SubCategory `json:"sub_categories"`
}

// AssignRequest payload.
type AssignRequest struct {
	ChannelID     string               `json:"channel_id"`
	HandlerID     string               `json:"handler_id"`
	Categories    []string             `json:"categories"`
	SubCategories []domain.SubCategory `json:"sub_categories"`
	TargetDate    *time.Time           `json:"target_date"`
}

// HoldRequest payload.
type HoldRequest struct {
	Reason      string   `json:"reason"`
	Attachments []string `json:"attachments"`
}

// TransferRequest payload.
type TransferRequest struct {
	ToHandlerID string   `json:"to_handler_id"`
	ToChannelID string   `json:"to_channel_id"`
	Remarks     string   `json:"remarks"`
	Attachments []string `json:"attachments"`
}

// CloseRequest payload.
type CloseRequest struct {
	Resolution  string   `json:"resolution"`
	Attachments []string `json:"attachments"`
}

// DecisionRequest is the body of every approve, reject, cancel and confirm call.
// Level and TargetDate only apply to transfer approvals.
type DecisionRequest struct {
	Remarks    string     `json:"remarks"`
	Level      int        `json:"level,omitempty"`
	TargetDate *time.Time `json:"target_date,omitempty"`
}

// BatchCloseRequest payload.
type BatchCloseRequest struct {
	ConcernIDs []string `json:"concern_ids"`
	Remarks    string   `json:"remarks"`
}

// BatchItemResult reports the outcome for one concern of a batch.
type BatchItemResult struct {
	ConcernID string     `json:"concern_id"`
	OK        bool       `json:"ok"`
	Error     *ErrorBody `json:"error,omitempty"`
}

// ListQuery captures paging and filters shared by every list endpoint.
type ListQuery struct {
	PageNumber int
	PageSize   int
	Search     string
	Statuses   []string
	// Scope narrows a list to the caller: "mine", "pending" or "approvals".
	Scope string
}

// Page describes the slice of a list that was returned.
type Page struct {
	Number int `json:"number"`
	Size   int `json:"size"`
	Total  int `json:"total"`
}

// ListResponse is a paged list.
type ListResponse[T any] struct {
	Items []T  `json:"items"`
	Page  Page `json:"page"`
}

// ConcernSummary response.
type ConcernSummary struct {
	ID          string       `json:"id"`
	RequestorID string       `json:"requestor_id"`
	ChannelID   string       `json:"channel_id"`
	Description string       `json:"description"`
	Categories  []string     `json:"categories"`
	Phase       domain.Phase `json:"phase"`
	Verified    bool         `json:"verified"`
	Confirmed   bool         `json:"confirmed"`
	HandlerID   string       `json:"handler_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// ConcernDetailResponse provides full concern info with its open sub-requests.
type ConcernDetailResponse struct {
	ID            string               `json:"id"`
	RequestorID   string               `json:"requestor_id"`
	ChannelID     string               `json:"channel_id"`
	Description   string               `json:"description"`
	Categories    []string             `json:"categories"`
	SubCategories []domain.SubCategory `json:"sub_categories"`
	Phase         domain.Phase         `json:"phase"`
	Verified      bool                 `json:"verified"`
	VerifiedBy    *string              `json:"verified_by"`
	Confirmed     bool                 `json:"confirmed"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
	ClosedAt      *time.Time           `json:"closed_at"`
	Assignment    *AssignmentResponse  `json:"assignment,omitempty"`
	Hold          *HoldResponse        `json:"hold,omitempty"`
	Transfer      *TransferResponse    `json:"transfer,omitempty"`
	Closing       *ClosingResponse     `json:"closing,omitempty"`
}

// AssignmentResponse response.
type AssignmentResponse struct {
	ID         string    `json:"id"`
	HandlerID  string    `json:"handler_id"`
	ChannelID  string    `json:"channel_id"`
	TargetDate time.Time `json:"target_date"`
	AssignedBy string    `json:"assigned_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// HoldResponse response.
type HoldResponse struct {
	ID              string          `json:"id"`
	ConcernID       string          `json:"concern_id"`
	RequestedBy     string          `json:"requested_by"`
	Reason          string          `json:"reason"`
	Attachments     []string        `json:"attachments"`
	Decision        domain.Decision `json:"decision"`
	DecidedBy       *string         `json:"decided_by"`
	DecisionRemarks string          `json:"decision_remarks,omitempty"`
	Resumed         bool            `json:"resumed"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// TransferResponse response.
type TransferResponse struct {
	ID             string          `json:"id"`
	ConcernID      string          `json:"concern_id"`
	RequestedBy    string          `json:"requested_by"`
	FromHandlerID  string          `json:"from_handler_id"`
	ToHandlerID    string          `json:"to_handler_id"`
	ToChannelID    string          `json:"to_channel_id"`
	Remarks        string          `json:"remarks"`
	Attachments    []string        `json:"attachments"`
	RequiredLevels int             `json:"required_levels"`
	CurrentLevel   int             `json:"current_level"`
	TargetDate     *time.Time      `json:"target_date"`
	Decision       domain.Decision `json:"decision"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ClosingResponse response.
type ClosingResponse struct {
	ID          string          `json:"id"`
	ConcernID   string          `json:"concern_id"`
	RequestedBy string          `json:"requested_by"`
	Resolution  string          `json:"resolution"`
	Attachments []string        `json:"attachments"`
	Decision    domain.Decision `json:"decision"`
	DecidedBy   *string         `json:"decided_by"`
	Remarks     string          `json:"remarks,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// HistoryResponse is one audit entry.
type HistoryResponse struct {
	ID         string       `json:"id"`
	Transition string       `json:"transition"`
	ActorID    string       `json:"actor_id"`
	ActorRole  domain.Role  `json:"actor_role"`
	FromPhase  domain.Phase `json:"from_phase"`
	ToPhase    domain.Phase `json:"to_phase"`
	Remarks    string       `json:"remarks,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// CountsResponse carries badge counts for the caller.
type CountsResponse struct {
	Counts domain.Counts `json:"counts"`
}

// ChannelResponse describes an intake channel and its approval policy.
type ChannelResponse struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	ClosingApprover domain.Role `json:"closing_approver"`
	TransferLevels  int         `json:"transfer_levels"`
}
