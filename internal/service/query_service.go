package service

import (
	"context"
	"strings"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/repository"
	"github.com/spec-kit/helpdesk/internal/workflow"
)

// Scopes narrow a list to what concerns the caller directly.
const (
	ScopeMine      = "mine"
	ScopeApprovals = "approvals"
	ScopePending   = "pending"
)

// ListQuery describes paging and filters for any list.
type ListQuery struct {
	PageNumber int
	PageSize   int
	Search     string
	Statuses   []string
	Scope      string
}

// Page list sizes.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page returns the page number and size the query resolves to.
func (q ListQuery) Page() (number, size int) {
	number, size = q.PageNumber, q.PageSize
	if number < 1 {
		number = 1
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return number, size
}

func (q ListQuery) bounds() (limit, offset int) {
	number, size := q.Page()
	return size, (number - 1) * size
}

func (q ListQuery) search() *string {
	if strings.TrimSpace(q.Search) == "" {
		return nil
	}
	s := q.Search
	return &s
}

// QueryService answers the read side of the store, scoped by role.
type QueryService struct {
	concerns repository.ConcernRepository
	requests repository.RequestRepository
	history  repository.HistoryRepository
	counts   repository.CountRepository
	channels repository.ChannelRepository
}

// QueryDependencies bundles repositories for the query service.
type QueryDependencies struct {
	ConcernRepo repository.ConcernRepository
	RequestRepo repository.RequestRepository
	HistoryRepo repository.HistoryRepository
	CountRepo   repository.CountRepository
	ChannelRepo repository.ChannelRepository
}

// NewQueryService constructs the service.
func NewQueryService(deps QueryDependencies) *QueryService {
	return &QueryService{
		concerns: deps.ConcernRepo,
		requests: deps.RequestRepo,
		history:  deps.HistoryRepo,
		counts:   deps.CountRepo,
		channels: deps.ChannelRepo,
	}
}

// GetConcern returns a concern with its open sub-requests. Requestors only see their own.
func (s *QueryService) GetConcern(ctx context.Context, actor domain.Actor, id string) (*workflow.Aggregate, error) {
	agg, err := s.concerns.LoadAggregate(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if actor.Role == domain.RoleRequestor && agg.Concern.RequestorID != actor.ID {
		return nil, domain.ErrNotOwner
	}
	return agg, nil
}

// History lists the audit trail of a concern the actor may see.
func (s *QueryService) History(ctx context.Context, actor domain.Actor, id string) ([]domain.ConcernHistory, error) {
	if _, err := s.GetConcern(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.history.ListByConcern(ctx, id)
}

// ListConcerns pages concerns. Requestors are always limited to their own and
// issue handlers to those assigned to them.
func (s *QueryService) ListConcerns(ctx context.Context, actor domain.Actor, q ListQuery) ([]repository.ConcernListItem, int, error) {
	phases, err := parsePhases(q.Statuses)
	if err != nil {
		return nil, 0, err
	}
	limit, offset := q.bounds()
	filter := repository.ConcernFilter{
		Phases:     phases,
		SearchTerm: q.search(),
		Limit:      limit,
		Offset:     offset,
	}
	id := actor.ID
	switch actor.Role {
	case domain.RoleRequestor:
		filter.RequestorID = &id
	case domain.RoleIssueHandler:
		filter.HandlerID = &id
	case domain.RoleReceiver:
		if q.Scope == ScopePending {
			filter.Phases = []domain.Phase{domain.PhasePending}
			filter.Unverified = true
		}
	}
	return s.concerns.List(ctx, filter)
}

// ListHolds pages hold requests. Issue handlers see the ones they filed.
func (s *QueryService) ListHolds(ctx context.Context, actor domain.Actor, q ListQuery) ([]domain.HoldRequest, int, error) {
	filter, err := s.requestFilter(actor, q)
	if err != nil {
		return nil, 0, err
	}
	return s.requests.ListHolds(ctx, filter)
}

// ListTransfers pages transfer requests. The approvals scope only returns
// requests waiting on the approver's own level.
func (s *QueryService) ListTransfers(ctx context.Context, actor domain.Actor, q ListQuery) ([]domain.TransferRequest, int, error) {
	filter, err := s.requestFilter(actor, q)
	if err != nil {
		return nil, 0, err
	}
	if q.Scope == ScopeApprovals && actor.ApproverLevel > 0 {
		level := actor.ApproverLevel
		filter.Level = &level
	}
	return s.requests.ListTransfers(ctx, filter)
}

// ListClosings pages closing requests. The approvals scope only returns
// closings on channels the actor's role decides.
func (s *QueryService) ListClosings(ctx context.Context, actor domain.Actor, q ListQuery) ([]domain.ClosingRequest, int, error) {
	filter, err := s.requestFilter(actor, q)
	if err != nil {
		return nil, 0, err
	}
	if q.Scope == ScopeApprovals {
		role := actor.Role
		filter.ClosingApprover = &role
	}
	return s.requests.ListClosings(ctx, filter)
}

// Counts returns the actor's badge counts.
func (s *QueryService) Counts(ctx context.Context, actor domain.Actor) (domain.Counts, error) {
	return s.counts.Counts(ctx, actor)
}

// Channels lists the configured intake channels.
func (s *QueryService) Channels(ctx context.Context) ([]domain.Channel, error) {
	return s.channels.List(ctx)
}

func (s *QueryService) requestFilter(actor domain.Actor, q ListQuery) (repository.RequestFilter, error) {
	if actor.Role == domain.RoleRequestor {
		return repository.RequestFilter{}, domain.ErrRoleNotAllowed
	}
	decisions, err := parseDecisions(q.Statuses)
	if err != nil {
		return repository.RequestFilter{}, err
	}
	limit, offset := q.bounds()
	filter := repository.RequestFilter{
		Decisions:  decisions,
		SearchTerm: q.search(),
		Limit:      limit,
		Offset:     offset,
	}
	if actor.Role == domain.RoleIssueHandler || q.Scope == ScopeMine {
		id := actor.ID
		filter.RequestedBy = &id
	}
	if q.Scope == ScopeApprovals {
		filter.Decisions = []domain.Decision{domain.DecisionPending}
	}
	return filter, nil
}

func parsePhases(values []string) ([]domain.Phase, error) {
	var out []domain.Phase
	for _, v := range values {
		p := domain.Phase(strings.ToUpper(strings.TrimSpace(v)))
		switch p {
		case domain.PhasePending, domain.PhaseActive, domain.PhaseOnHold,
			domain.PhaseForClosingApproval, domain.PhaseClosed, domain.PhaseCancelled:
			out = append(out, p)
		case "":
		default:
			return nil, domain.ErrUnknownStatus
		}
	}
	return out, nil
}

func parseDecisions(values []string) ([]domain.Decision, error) {
	var out []domain.Decision
	for _, v := range values {
		d := domain.Decision(strings.ToUpper(strings.TrimSpace(v)))
		switch d {
		case domain.DecisionPending, domain.DecisionApproved, domain.DecisionRejected, domain.DecisionDisapproved:
			out = append(out, d)
		case "":
		default:
			return nil, domain.ErrUnknownStatus
		}
	}
	return out, nil
}
