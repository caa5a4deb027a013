// Package worker runs the background loops that carry store events to
// connected consoles.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/observability"
	"github.com/spec-kit/helpdesk/internal/push"
	"github.com/spec-kit/helpdesk/internal/service"
)

const resubscribeDelay = time.Second

// Broadcaster is the part of the push hub the relay feeds.
type Broadcaster interface {
	Broadcast(msg push.Message) (int, error)
}

// EventSource delivers events from a shared channel until ctx ends.
type EventSource interface {
	Run(ctx context.Context, handle func(context.Context, events.Event)) error
}

// Relay turns events into push frames for every connected session.
type Relay struct {
	hub     Broadcaster
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewRelay creates a relay in front of hub.
func NewRelay(hub Broadcaster, metrics *observability.Metrics, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{hub: hub, metrics: metrics, logger: logger}
}

// Publish broadcasts one event. It satisfies service.Publisher so the
// notification service can feed the hub directly when no event channel is configured.
func (r *Relay) Publish(_ context.Context, e events.Event) error {
	msg, err := push.FromEvent(e)
	if err != nil {
		r.metrics.RecordEvent(string(e.Type), false)
		return err
	}
	n, err := r.hub.Broadcast(msg)
	r.metrics.RecordEvent(string(e.Type), err == nil)
	if err != nil {
		return err
	}
	r.logger.Debug("event broadcast", zap.String("event_type", string(e.Type)), zap.Int("sessions", n))
	return nil
}

func (r *Relay) deliver(ctx context.Context, e events.Event) {
	if err := r.Publish(ctx, e); err != nil {
		r.logger.Warn("broadcast failed", zap.String("event_type", string(e.Type)), zap.Error(err))
	}
}

// Run relays events from source until ctx is cancelled, subscribing again
// whenever the source drops.
func (r *Relay) Run(ctx context.Context, source EventSource) error {
	for {
		err := source.Run(ctx, r.deliver)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			r.logger.Warn("event source stopped", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(resubscribeDelay):
		}
	}
}

// StartNotificationWorker registers notification handlers.
func StartNotificationWorker(notificationService *service.NotificationService) {
	if notificationService == nil {
		return
	}
	notificationService.RegisterHandlers()
}
