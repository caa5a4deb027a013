package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spec-kit/helpdesk/internal/clock"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/repository"
	"github.com/spec-kit/helpdesk/internal/workflow"
)

var (
	now       = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	requestor = domain.Actor{ID: "req-1", Role: domain.RoleRequestor}
	receiver  = domain.Actor{ID: "rcv-1", Role: domain.RoleReceiver}
	handler   = domain.Actor{ID: "hnd-1", Role: domain.RoleIssueHandler}
	approver  = domain.Actor{ID: "apr-1", Role: domain.RoleApprover, ApproverLevel: 1}
	approver2 = domain.Actor{ID: "apr-2", Role: domain.RoleApprover, ApproverLevel: 2}
)

type passthroughTx struct{ calls int }

func (p *passthroughTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	p.calls++
	return fn(ctx)
}

// concernStore keeps aggregates in memory and folds saved changes into them.
type concernStore struct {
	mu         sync.Mutex
	aggs       map[string]*workflow.Aggregate
	channels   map[string]domain.Channel
	saved      []*workflow.Change
	lastFilter repository.ConcernFilter
}

func newConcernStore(channels ...domain.Channel) *concernStore {
	s := &concernStore{aggs: map[string]*workflow.Aggregate{}, channels: map[string]domain.Channel{}}
	for _, ch := range channels {
		s.channels[ch.ID] = ch
	}
	return s
}

func (s *concernStore) channel(id string) domain.Channel {
	if ch, ok := s.channels[id]; ok {
		return ch
	}
	return domain.DefaultChannel(id)
}

func (s *concernStore) LoadAggregate(_ context.Context, id string, _ bool) (*workflow.Aggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg, ok := s.aggs[id]
	if !ok {
		return nil, domain.ErrConcernNotFound
	}
	cp := *agg
	return &cp, nil
}

func (s *concernStore) SaveChange(_ context.Context, c *workflow.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, c)
	agg, ok := s.aggs[c.Concern.ID]
	if !ok {
		agg = &workflow.Aggregate{}
	}
	next := agg.Apply(c)
	next.Channel = s.channel(next.Concern.ChannelID)
	s.aggs[c.Concern.ID] = next
	return nil
}

func (s *concernStore) List(_ context.Context, filter repository.ConcernFilter) ([]repository.ConcernListItem, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFilter = filter
	var out []repository.ConcernListItem
	for _, agg := range s.aggs {
		out = append(out, repository.ConcernListItem{Concern: agg.Concern})
	}
	return out, len(out), nil
}

func (s *concernStore) savedOf(t workflow.Transition) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.saved {
		if c.Transition == t {
			n++
		}
	}
	return n
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) record(_ context.Context, e events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) types() []events.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]events.EventType, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

type workflowFixture struct {
	svc   *WorkflowService
	store *concernStore
	log   *eventLog
}

func newWorkflowFixture(channels ...domain.Channel) workflowFixture {
	store := newConcernStore(channels...)
	log := &eventLog{}
	dispatcher := events.NewInMemoryDispatcher()
	events.SubscribeAll(dispatcher, log.record)

	n := 0
	svc := NewWorkflowService(WorkflowDependencies{
		Tx:          &passthroughTx{},
		ConcernRepo: store,
		Dispatcher:  dispatcher,
		Clock:       clock.NewFixed(now),
		NewID: func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		},
	})
	return workflowFixture{svc: svc, store: store, log: log}
}
