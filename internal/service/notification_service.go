package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/events"
)

// Publisher carries events to push subscribers, possibly on other replicas.
type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event events.Event) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, event events.Event) error {
	return f(ctx, event)
}

// NotificationService relays domain events to the push publisher and derives
// a personal notice for whoever a transition lands on.
type NotificationService struct {
	dispatcher events.Dispatcher
	publisher  Publisher
	logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, publisher Publisher, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		publisher:  publisher,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to every transition event.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	for _, t := range events.AllTypes() {
		if t == events.EventNotificationMessage {
			continue
		}
		n.dispatcher.Subscribe(t, n.handleTransition)
	}
}

func (n *NotificationService) handleTransition(ctx context.Context, event events.Event) error {
	n.logger.Info(string(event.Type),
		zap.String("concern_id", event.ConcernID),
		zap.String("actor_id", event.Actor.ID))
	if err := n.publisher.Publish(ctx, event); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}

	msg, ok := notice(event)
	if !ok {
		return nil
	}
	note := events.Event{
		ID:          uuid.NewString(),
		Type:        events.EventNotificationMessage,
		ConcernID:   event.ConcernID,
		RecipientID: msg.RecipientID,
		Actor:       event.Actor,
		Timestamp:   event.Timestamp,
		Payload:     msg,
	}
	if err := n.publisher.Publish(ctx, note); err != nil {
		return fmt.Errorf("publish notice: %w", err)
	}
	return nil
}

// notice picks the recipient and text for event, if it has one.
func notice(event events.Event) (events.MessagePayload, bool) {
	p, ok := event.Payload.(events.TransitionPayload)
	if !ok {
		return events.MessagePayload{}, false
	}
	switch event.Type {
	case events.EventConcernAssigned:
		return events.MessagePayload{RecipientID: p.HandlerID, Text: "A concern was assigned to you"}, p.HandlerID != ""
	case events.EventTransferApproved:
		return events.MessagePayload{RecipientID: p.HandlerID, Text: "A transfer involving you was approved"}, p.HandlerID != ""
	case events.EventHoldApproved, events.EventHoldRejected, events.EventTransferRejected, events.EventClosingDisapproved:
		text := fmt.Sprintf("Your request was %s", decisionWord(event.Type))
		if p.Remarks != "" {
			text += ": " + p.Remarks
		}
		return events.MessagePayload{RecipientID: p.HandlerID, Text: text}, p.HandlerID != ""
	case events.EventClosingApproved:
		return events.MessagePayload{RecipientID: p.RequestorID, Text: "Your concern was resolved, please confirm"}, p.RequestorID != ""
	}
	return events.MessagePayload{}, false
}

func decisionWord(t events.EventType) string {
	switch t {
	case events.EventHoldApproved:
		return "approved"
	case events.EventClosingDisapproved:
		return "disapproved"
	}
	return "rejected"
}
