package console

import (
	"context"
	"fmt"
	"net/url"

	"github.com/spec-kit/helpdesk/internal/api/dto"
	"github.com/spec-kit/helpdesk/internal/cache"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/storeclient"
	"github.com/spec-kit/helpdesk/internal/workflow"
)

// Store is the record store surface a session reads and mutates.
type Store interface {
	ListConcerns(ctx context.Context, p storeclient.ListParams) (dto.ListResponse[dto.ConcernSummary], error)
	GetConcern(ctx context.Context, id string) (dto.ConcernDetailResponse, error)
	History(ctx context.Context, id string) ([]dto.HistoryResponse, error)
	ListHolds(ctx context.Context, p storeclient.ListParams) (dto.ListResponse[dto.HoldResponse], error)
	ListTransfers(ctx context.Context, p storeclient.ListParams) (dto.ListResponse[dto.TransferResponse], error)
	ListClosings(ctx context.Context, p storeclient.ListParams) (dto.ListResponse[dto.ClosingResponse], error)
	Counts(ctx context.Context) (domain.Counts, error)
	Transition(ctx context.Context, t workflow.Transition, concernID string, body any) (dto.ConcernDetailResponse, error)
	BatchApproveClose(ctx context.Context, req dto.BatchCloseRequest) ([]dto.BatchItemResult, error)
}

// View is one kind of screen backed by a cache entry.
type View string

const (
	ViewConcerns      View = "concerns"
	ViewConcern       View = "concern"
	ViewHistory       View = "history"
	ViewHolds         View = "holds"
	ViewTransfers     View = "transfers"
	ViewClosings      View = "closings"
	ViewNotifications View = "notifications"
)

var viewTags = map[View][]cache.Tag{
	ViewConcerns:      {cache.TagConcern, cache.TagReceiver, cache.TagConcernIssueHandler},
	ViewConcern:       {cache.TagConcern, cache.TagConcernIssueHandler, cache.TagHoldTicket, cache.TagTransferTicket, cache.TagClosingTicket},
	ViewHistory:       {cache.TagConcern, cache.TagConcernIssueHandler},
	ViewHolds:         {cache.TagHoldTicket, cache.TagTicketApproval},
	ViewTransfers:     {cache.TagTransferTicket, cache.TagTicketApproval},
	ViewClosings:      {cache.TagClosingTicket},
	ViewNotifications: {cache.TagNotification},
}

// Params select the data a view shows.
type Params struct {
	List      storeclient.ListParams
	ConcernID string
}

func concernFingerprint(id string) cache.Fingerprint {
	return cache.NewFingerprint(storeclient.EndpointConcern, url.Values{"id": {id}})
}

func (s *Session) query(view View, p Params) (cache.Query, error) {
	tags, ok := viewTags[view]
	if !ok {
		return cache.Query{}, fmt.Errorf("unknown view %q", view)
	}
	if (view == ViewConcern || view == ViewHistory) && p.ConcernID == "" {
		return cache.Query{}, fmt.Errorf("view %q needs a concern id", view)
	}

	q := cache.Query{Tags: tags}
	list := p.List
	switch view {
	case ViewConcerns:
		q.Fingerprint = cache.NewFingerprint(storeclient.EndpointConcerns, list.Values())
		q.Fetch = func(ctx context.Context) (any, error) { return s.store.ListConcerns(ctx, list) }
	case ViewConcern:
		id := p.ConcernID
		q.Fingerprint = concernFingerprint(id)
		q.Fetch = func(ctx context.Context) (any, error) { return s.store.GetConcern(ctx, id) }
	case ViewHistory:
		id := p.ConcernID
		q.Fingerprint = cache.NewFingerprint(storeclient.EndpointHistory, url.Values{"id": {id}})
		q.Fetch = func(ctx context.Context) (any, error) { return s.store.History(ctx, id) }
	case ViewHolds:
		q.Fingerprint = cache.NewFingerprint(storeclient.EndpointHolds, list.Values())
		q.Fetch = func(ctx context.Context) (any, error) { return s.store.ListHolds(ctx, list) }
	case ViewTransfers:
		q.Fingerprint = cache.NewFingerprint(storeclient.EndpointTransfers, list.Values())
		q.Fetch = func(ctx context.Context) (any, error) { return s.store.ListTransfers(ctx, list) }
	case ViewClosings:
		q.Fingerprint = cache.NewFingerprint(storeclient.EndpointClosings, list.Values())
		q.Fetch = func(ctx context.Context) (any, error) { return s.store.ListClosings(ctx, list) }
	case ViewNotifications:
		return s.badges.Query(), nil
	}
	return q, nil
}
