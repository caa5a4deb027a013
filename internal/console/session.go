// Package console is the client core of the helpdesk console: the cache a
// session reads from, the push channel that keeps it coherent, and the hooks
// the presentation layer binds to.
package console

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/api/dto"
	"github.com/spec-kit/helpdesk/internal/badge"
	"github.com/spec-kit/helpdesk/internal/cache"
	"github.com/spec-kit/helpdesk/internal/config"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/invalidation"
	"github.com/spec-kit/helpdesk/internal/push"
	"github.com/spec-kit/helpdesk/internal/workflow"
)

// Session is one signed-in console. Everything it holds is a disposable
// projection of the store and dies with it.
type Session struct {
	store      Store
	registry   *cache.Registry
	dispatcher *invalidation.Dispatcher
	channel    *push.Channel
	badges     *badge.Aggregator
	logger     *zap.Logger
}

// NewSession wires a session against store using cfg for the push endpoint,
// cache lifetimes and reconnect policy.
func NewSession(store Store, cfg config.ConsoleConfig, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := cache.NewRegistry(logger.Named("cache"),
		cache.WithGCTime(cfg.CacheGC),
		cache.WithFetchTimeout(cfg.FetchTimeout))
	dispatcher := invalidation.NewDispatcher(registry, logger.Named("invalidation"))
	channel := push.NewChannel(cfg.PushURL, dispatcher, logger.Named("push"),
		push.WithToken(cfg.Token),
		push.WithBackoff(cfg.ReconnectMin, cfg.ReconnectMax))

	return &Session{
		store:      store,
		registry:   registry,
		dispatcher: dispatcher,
		channel:    channel,
		badges:     badge.NewAggregator(registry, store.Counts, logger.Named("badge")),
		logger:     logger,
	}
}

// Run keeps the push channel connected and the badges current until ctx is
// cancelled, then drops every cached entry.
func (s *Session) Run(ctx context.Context) error {
	s.badges.Start()
	defer func() {
		s.badges.Stop()
		s.registry.Clear()
	}()
	return s.channel.Run(ctx)
}

// PushState reports the push channel state.
func (s *Session) PushState() push.State {
	return s.channel.State()
}

// OnPushStateChange registers fn for push channel transitions.
func (s *Session) OnPushStateChange(fn func(from, to push.State)) {
	s.channel.OnStateChange(fn)
}

// Invalidate marks every entry sharing one of tags stale, as a push event would.
func (s *Session) Invalidate(tags ...cache.Tag) int {
	return s.dispatcher.Invalidate(tags...)
}

// SubscribeBadge returns a channel holding the latest count for bucket.
func (s *Session) SubscribeBadge(bucket domain.Bucket) (<-chan int, func()) {
	return s.badges.Subscribe(bucket)
}

// QueryState is what a view renders.
type QueryState struct {
	Data      any
	IsLoading bool
	IsError   bool
	Err       error
	IsStale   bool
	Version   uint64
}

// QueryHandle is a view's subscription to one cache entry.
type QueryHandle struct {
	mu      sync.Mutex
	state   QueryState
	updates chan QueryState
	closed  bool
	unsub   func()
}

// UseQuery subscribes to view with p. The handle must be closed when the view
// goes away; in-flight fetches keep running and simply land in the cache.
func (s *Session) UseQuery(view View, p Params) (*QueryHandle, error) {
	q, err := s.query(view, p)
	if err != nil {
		return nil, err
	}
	h := &QueryHandle{updates: make(chan QueryState, 1)}
	h.unsub = s.registry.Observe(q, h.apply)
	return h, nil
}

func (h *QueryHandle) apply(snap cache.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || (h.state.Version != 0 && snap.Version <= h.state.Version) {
		return
	}
	h.state = QueryState{
		Data:      snap.Data,
		IsLoading: snap.IsLoading,
		IsError:   snap.IsError(),
		Err:       snap.Err,
		IsStale:   snap.IsStale,
		Version:   snap.Version,
	}
	select {
	case <-h.updates:
	default:
	}
	h.updates <- h.state
}

// State returns the latest state.
func (h *QueryHandle) State() QueryState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Updates delivers the latest state whenever it changes. Slow readers only
// ever see the newest state.
func (h *QueryHandle) Updates() <-chan QueryState {
	return h.updates
}

// Close unsubscribes the view.
func (h *QueryHandle) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.updates)
	h.mu.Unlock()
	h.unsub()
}

// Mutation invokes one transition. Its pending flag only blocks the action
// that started it.
type Mutation struct {
	session    *Session
	transition workflow.Transition
	pending    atomic.Int32
}

// UseMutation returns the invoker for t.
func (s *Session) UseMutation(t workflow.Transition) *Mutation {
	return &Mutation{session: s, transition: t}
}

// IsPending reports whether an invocation is in progress.
func (m *Mutation) IsPending() bool {
	return m.pending.Load() > 0
}

// Invoke sends the transition. Store rejections are returned as is and never
// retried. On success the concern entry takes the row the store returned,
// unless a fetch that started after the call already landed; lists refresh
// when the resulting push event arrives.
func (m *Mutation) Invoke(ctx context.Context, concernID string, body any) (dto.ConcernDetailResponse, error) {
	m.pending.Add(1)
	defer m.pending.Add(-1)

	// A refetch that starts after this point reflects newer store state than
	// our response may, so the response is ordered by when the call began.
	seq := m.session.registry.Begin()
	out, err := m.session.store.Transition(ctx, m.transition, concernID, body)
	if err != nil {
		m.session.logger.Debug("mutation rejected",
			zap.String("transition", string(m.transition)),
			zap.String("concern_id", concernID),
			zap.Error(err))
		return out, err
	}
	if out.ID != "" && !m.session.registry.SetResultAt(concernFingerprint(out.ID), seq, out) {
		m.session.logger.Debug("mutation result superseded by a newer fetch",
			zap.String("transition", string(m.transition)),
			zap.String("concern_id", concernID))
	}
	return out, nil
}

// ApproveClosings approves the closing request of every listed concern. Each
// concern succeeds or fails on its own.
func (s *Session) ApproveClosings(ctx context.Context, concernIDs []string, remarks string) ([]dto.BatchItemResult, error) {
	return s.store.BatchApproveClose(ctx, dto.BatchCloseRequest{ConcernIDs: concernIDs, Remarks: remarks})
}
