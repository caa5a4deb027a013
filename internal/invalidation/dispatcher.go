package invalidation

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/cache"
	"github.com/spec-kit/helpdesk/internal/push"
)

// Invalidator is the part of the cache registry the dispatcher drives.
type Invalidator interface {
	Invalidate(tags ...cache.Tag) int
	InvalidateAll() int
}

// Dispatcher fans push events out as tag invalidations. It implements push.Handler.
type Dispatcher struct {
	target Invalidator
	logger *zap.Logger
}

var _ push.Handler = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher driving target.
func NewDispatcher(target Invalidator, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{target: target, logger: logger}
}

// Invalidate marks every entry sharing one of tags stale.
func (d *Dispatcher) Invalidate(tags ...cache.Tag) int {
	return d.target.Invalidate(tags...)
}

// HandleMessage invalidates the tags mapped to the message's event type.
func (d *Dispatcher) HandleMessage(_ context.Context, msg push.Message) {
	tags := TagsFor(msg.EventType)
	n := d.target.Invalidate(tags...)
	d.logger.Debug("push event invalidated cache",
		zap.String("event_type", string(msg.EventType)),
		zap.Int("entries", n))
}

// Resync covers events missed while disconnected by invalidating everything once.
func (d *Dispatcher) Resync(context.Context) {
	n := d.target.InvalidateAll()
	d.logger.Info("resynced cache after reconnect", zap.Int("entries", n))
}
