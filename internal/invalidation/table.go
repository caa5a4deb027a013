// Package invalidation maps push events to the cache tags they make stale.
package invalidation

import (
	"github.com/spec-kit/helpdesk/internal/cache"
	"github.com/spec-kit/helpdesk/internal/events"
)

var (
	receiverQueue = []cache.Tag{cache.TagConcern, cache.TagReceiver, cache.TagNotification}
	holdQueue     = []cache.Tag{cache.TagConcernIssueHandler, cache.TagTicketApproval, cache.TagHoldTicket, cache.TagNotification}
	transferQueue = []cache.Tag{cache.TagConcernIssueHandler, cache.TagTicketApproval, cache.TagTransferTicket, cache.TagNotification}
	closingQueue  = []cache.Tag{cache.TagConcern, cache.TagConcernIssueHandler, cache.TagClosingTicket, cache.TagNotification}
)

// EventTags is the only coupling between push event types and cache tags.
var EventTags = map[events.EventType][]cache.Tag{
	events.EventConcernCreated:   receiverQueue,
	events.EventConcernVerified:  receiverQueue,
	events.EventConcernCancelled: receiverQueue,
	events.EventConcernAssigned: {
		cache.TagConcern, cache.TagReceiver, cache.TagConcernIssueHandler, cache.TagNotification,
	},

	events.EventHoldRequested: holdQueue,
	events.EventHoldApproved:  append([]cache.Tag{cache.TagConcern}, holdQueue...),
	events.EventHoldRejected:  append([]cache.Tag{cache.TagConcern}, holdQueue...),
	events.EventHoldResumed: {
		cache.TagConcern, cache.TagConcernIssueHandler, cache.TagHoldTicket, cache.TagNotification,
	},

	events.EventTransferRequested: transferQueue,
	events.EventTransferApproved:  append([]cache.Tag{cache.TagConcern}, transferQueue...),
	events.EventTransferRejected:  append([]cache.Tag{cache.TagConcern}, transferQueue...),

	events.EventClosingRequested:    closingQueue,
	events.EventClosingApproved:     closingQueue,
	events.EventClosingDisapproved:  closingQueue,
	events.EventResolutionConfirmed: {cache.TagConcern, cache.TagNotification},

	events.EventNotificationMessage: {cache.TagNotificationMessage, cache.TagNotification},
}

// TagsFor returns the tags an event type invalidates. Unknown types fall back to
// the notification tag so badges still refresh.
func TagsFor(t events.EventType) []cache.Tag {
	if tags, ok := EventTags[t]; ok {
		return tags
	}
	return []cache.Tag{cache.TagNotification}
}
