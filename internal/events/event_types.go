package events

import (
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventConcernCreated      EventType = "concern_created"
	EventConcernVerified     EventType = "concern_verified"
	EventConcernAssigned     EventType = "concern_assigned"
	EventConcernCancelled    EventType = "concern_cancelled"
	EventHoldRequested       EventType = "hold_requested"
	EventHoldApproved        EventType = "hold_approved"
	EventHoldRejected        EventType = "hold_rejected"
	EventHoldResumed         EventType = "hold_resumed"
	EventTransferRequested   EventType = "transfer_requested"
	EventTransferApproved    EventType = "transfer_approved"
	EventTransferRejected    EventType = "transfer_rejected"
	EventClosingRequested    EventType = "closing_requested"
	EventClosingApproved     EventType = "closing_approved"
	EventClosingDisapproved  EventType = "closing_disapproved"
	EventResolutionConfirmed EventType = "resolution_confirmed"
	EventNotificationMessage EventType = "notification_message"
)

// AllTypes lists every event type in a stable order.
func AllTypes() []EventType {
	return []EventType{
		EventConcernCreated,
		EventConcernVerified,
		EventConcernAssigned,
		EventConcernCancelled,
		EventHoldRequested,
		EventHoldApproved,
		EventHoldRejected,
		EventHoldResumed,
		EventTransferRequested,
		EventTransferApproved,
		EventTransferRejected,
		EventClosingRequested,
		EventClosingApproved,
		EventClosingDisapproved,
		EventResolutionConfirmed,
		EventNotificationMessage,
	}
}

// Actor encapsulates actor metadata for an event.
type Actor struct {
	ID   string      `json:"id"`
	Role domain.Role `json:"role"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	ConcernID   string    `json:"concern_id,omitempty"`
	// RecipientID limits delivery to one subject's sessions; empty means everyone.
	RecipientID string    `json:"recipient_id,omitempty"`
	Actor       Actor     `json:"actor"`
	Timestamp   time.Time `json:"timestamp"`
	Payload     any       `json:"payload,omitempty"`
}

// TransitionPayload describes a workflow transition.
type TransitionPayload struct {
	Transition  string       `json:"transition"`
	FromPhase   domain.Phase `json:"from_phase"`
	ToPhase     domain.Phase `json:"to_phase"`
	ChannelID   string       `json:"channel_id,omitempty"`
	RequestorID string       `json:"requestor_id,omitempty"`
	HandlerID   string       `json:"handler_id,omitempty"`
	RequestID   string       `json:"request_id,omitempty"`
	Remarks     string       `json:"remarks,omitempty"`
}

// MessagePayload payload.
type MessagePayload struct {
	RecipientID string `json:"recipient_id,omitempty"`
	Text        string `json:"text"`
}
