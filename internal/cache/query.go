package cache

import (
	"context"
	"net/url"
	"time"
)

// Tag is a coarse invalidation category shared by every entry of one kind of view.
type Tag string

const (
	TagConcern             Tag = "Concern"
	TagReceiver            Tag = "Receiver"
	TagConcernIssueHandler Tag = "Concern Issue Handler"
	TagTicketApproval      Tag = "Ticket Approval"
	TagHoldTicket          Tag = "Hold Ticket"
	TagTransferTicket      Tag = "Transfer Ticket"
	TagClosingTicket       Tag = "Closing Ticket"
	TagNotification        Tag = "Notification"
	TagNotificationMessage Tag = "Notification Message"
	TagDepartment          Tag = "Department"
)

// Fingerprint identifies a cacheable request: the endpoint plus its serialized parameters.
type Fingerprint struct {
	Endpoint string
	Params   string
}

// NewFingerprint builds a fingerprint; params are encoded in sorted key order so
// equal parameter sets always produce the same key.
func NewFingerprint(endpoint string, params url.Values) Fingerprint {
	return Fingerprint{Endpoint: endpoint, Params: params.Encode()}
}

func (f Fingerprint) String() string {
	if f.Params == "" {
		return f.Endpoint
	}
	return f.Endpoint + "?" + f.Params
}

// FetchFunc loads the authoritative value for a fingerprint.
type FetchFunc func(ctx context.Context) (any, error)

// Query binds a fingerprint to its tags and the function that fetches it.
type Query struct {
	Fingerprint Fingerprint
	Tags        []Tag
	Fetch       FetchFunc
}

// Snapshot is the observable state of one cache entry.
type Snapshot struct {
	Fingerprint Fingerprint
	Data        any
	HasData     bool
	// Err is the error of the latest fetch; Data keeps the last good value.
	Err       error
	IsLoading bool
	IsStale   bool
	UpdatedAt time.Time
	// Version increases with every change to the entry.
	Version uint64
}

// IsError reports whether the latest fetch failed.
func (s Snapshot) IsError() bool {
	return s.Err != nil
}
