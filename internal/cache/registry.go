package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultGCTime       = 30 * time.Second
	defaultFetchTimeout = 15 * time.Second
)

// ErrNoFetcher is returned when an entry only ever received SetResult values and
// nobody registered a fetch function for it.
var ErrNoFetcher = errors.New("cache entry has no fetch function")

type fetchState int

const (
	stateIdle fetchState = iota
	stateQueued
	stateInflight
)

type entry struct {
	fp        Fingerprint
	tags      map[Tag]struct{}
	fetch     FetchFunc
	data      any
	hasData   bool
	err       error
	stale     bool
	updatedAt time.Time
	version   uint64

	state fetchState
	// refetch is set when an invalidation lands while a fetch is in flight.
	refetch bool
	// applied is the start sequence of the result currently held.
	applied uint64

	observers map[uint64]func(Snapshot)
	evict     *time.Timer
}

func (e *entry) snapshot() Snapshot {
	return Snapshot{
		Fingerprint: e.fp,
		Data:        e.data,
		HasData:     e.hasData,
		Err:         e.err,
		IsLoading:   e.state != stateIdle,
		IsStale:     e.stale,
		UpdatedAt:   e.updatedAt,
		Version:     e.version,
	}
}

func (e *entry) observerList() []func(Snapshot) {
	out := make([]func(Snapshot), 0, len(e.observers))
	for _, fn := range e.observers {
		out = append(out, fn)
	}
	return out
}

func (e *entry) matches(tags map[Tag]struct{}) bool {
	for t := range e.tags {
		if _, ok := tags[t]; ok {
			return true
		}
	}
	return false
}

type notification struct {
	snap      Snapshot
	observers []func(Snapshot)
}

func (n notification) deliver() {
	for _, fn := range n.observers {
		fn(n.snap)
	}
}

// Registry is a session-scoped set of tag-addressed query caches.
//
// Every fingerprint has at most one fetch in flight. Results are ordered by the
// sequence in which their fetch started, so a slow older fetch never replaces a
// newer result. Entries without observers are dropped after the grace period;
// observed entries are only ever marked stale and refetched in place.
type Registry struct {
	mu           sync.Mutex
	entries      map[string]*entry
	flights      singleflight.Group
	seq          uint64
	nextObserver uint64

	gcTime       time.Duration
	fetchTimeout time.Duration
	logger       *zap.Logger
}

// Option customizes a Registry.
type Option func(*Registry)

// WithGCTime sets how long an unobserved entry survives.
func WithGCTime(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.gcTime = d
		}
	}
}

// WithFetchTimeout bounds every fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.fetchTimeout = d
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		entries:      make(map[string]*entry),
		gcTime:       defaultGCTime,
		fetchTimeout: defaultFetchTimeout,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Observe registers fn as a consumer of q and returns the function that removes it.
// fn receives the current snapshot immediately and again after every change.
// A missing or stale entry is fetched.
func (r *Registry) Observe(q Query, fn func(Snapshot)) (unsubscribe func()) {
	r.mu.Lock()
	e := r.entryLocked(q)
	r.nextObserver++
	id := r.nextObserver
	e.observers[id] = fn
	if !e.hasData || e.stale {
		r.scheduleLocked(e)
	}
	snap := e.snapshot()
	r.mu.Unlock()

	fn(snap)

	var once sync.Once
	return func() {
		once.Do(func() { r.unobserve(e, id) })
	}
}

// Fetch resolves q, serving a fresh cached value when there is one. Concurrent
// callers for the same fingerprint share one underlying fetch.
func (r *Registry) Fetch(ctx context.Context, q Query) (any, error) {
	r.mu.Lock()
	e := r.entryLocked(q)
	if e.hasData && !e.stale && e.state == stateIdle {
		data := e.data
		r.armEvictLocked(e)
		r.mu.Unlock()
		return data, nil
	}
	if e.state == stateIdle {
		e.state = stateQueued
	}
	ch := r.launchLocked(e.fp.String())
	r.mu.Unlock()

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Begin reserves a start sequence for a write whose result will arrive later
// through SetResultAt. It orders against fetches the same way a fetch start does.
func (r *Registry) Begin() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return r.seq
}

// SetResult stores value as the newest result for fp. Fetches that started
// earlier and complete later are discarded.
func (r *Registry) SetResult(fp Fingerprint, value any) {
	r.SetResultAt(fp, r.Begin(), value)
}

// SetResultAt stores value for fp as the result of work that started at seq.
// It reports false and changes nothing when a result that started later is
// already held.
func (r *Registry) SetResultAt(fp Fingerprint, seq uint64, value any) bool {
	r.mu.Lock()
	key := fp.String()
	e, ok := r.entries[key]
	if !ok {
		e = r.newEntryLocked(Query{Fingerprint: fp})
	}
	if seq <= e.applied {
		r.logger.Debug("discarding out-of-order write",
			zap.String("fingerprint", key),
			zap.Uint64("seq", seq),
			zap.Uint64("applied", e.applied))
		r.mu.Unlock()
		return false
	}
	e.applied = seq
	e.data, e.hasData, e.err = value, true, nil
	e.stale = false
	e.updatedAt = time.Now()
	e.version++
	if len(e.observers) == 0 && e.state == stateIdle {
		r.armEvictLocked(e)
	}
	n := notification{snap: e.snapshot(), observers: e.observerList()}
	r.mu.Unlock()

	n.deliver()
	return true
}

// Invalidate marks every entry carrying one of tags stale. Observed entries are
// refetched; unobserved ones wait for their next subscriber. It returns the
// number of entries marked.
func (r *Registry) Invalidate(tags ...Tag) int {
	if len(tags) == 0 {
		return 0
	}
	set := make(map[Tag]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	return r.invalidate(func(e *entry) bool { return e.matches(set) })
}

// InvalidateAll marks every entry stale and refetches the observed ones once.
func (r *Registry) InvalidateAll() int {
	return r.invalidate(func(*entry) bool { return true })
}

func (r *Registry) invalidate(match func(*entry) bool) int {
	r.mu.Lock()
	var pending []notification
	marked := 0
	for _, e := range r.entries {
		if !match(e) {
			continue
		}
		marked++
		e.stale = true
		e.version++
		switch e.state {
		case stateInflight:
			e.refetch = true
		case stateIdle:
			if len(e.observers) > 0 {
				r.scheduleLocked(e)
			}
		}
		if len(e.observers) > 0 {
			pending = append(pending, notification{snap: e.snapshot(), observers: e.observerList()})
		}
	}
	r.mu.Unlock()

	for _, n := range pending {
		n.deliver()
	}
	return marked
}

// Snapshot returns the current state of fp, if cached.
func (r *Registry) Snapshot(fp Fingerprint) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[fp.String()]
	if !ok {
		return Snapshot{}, false
	}
	return e.snapshot(), true
}

// Len returns the number of cached entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Clear drops every entry; used when the session ends.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, e := range r.entries {
		if e.evict != nil {
			e.evict.Stop()
		}
		delete(r.entries, key)
	}
}

func (r *Registry) newEntryLocked(q Query) *entry {
	e := &entry{
		fp:        q.Fingerprint,
		tags:      make(map[Tag]struct{}, len(q.Tags)),
		fetch:     q.Fetch,
		observers: make(map[uint64]func(Snapshot)),
	}
	for _, t := range q.Tags {
		e.tags[t] = struct{}{}
	}
	r.entries[q.Fingerprint.String()] = e
	return e
}

func (r *Registry) entryLocked(q Query) *entry {
	e, ok := r.entries[q.Fingerprint.String()]
	if !ok {
		return r.newEntryLocked(q)
	}
	if q.Fetch != nil {
		e.fetch = q.Fetch
	}
	for _, t := range q.Tags {
		e.tags[t] = struct{}{}
	}
	if e.evict != nil {
		e.evict.Stop()
		e.evict = nil
	}
	return e
}

// scheduleLocked makes sure a fetch covering the current state will run.
func (r *Registry) scheduleLocked(e *entry) {
	switch e.state {
	case stateIdle:
		e.state = stateQueued
		r.launchLocked(e.fp.String())
	case stateInflight:
		e.refetch = true
	}
}

// launchLocked starts or joins the flight for key. A registered flight exists
// exactly while the entry is queued or in flight.
func (r *Registry) launchLocked(key string) <-chan singleflight.Result {
	return r.flights.DoChan(key, func() (any, error) {
		return r.run(key)
	})
}

func (r *Registry) run(key string) (any, error) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok || e.fetch == nil {
		if ok {
			e.state = stateIdle
		}
		r.flights.Forget(key)
		r.mu.Unlock()
		return nil, ErrNoFetcher
	}
	r.seq++
	seq := r.seq
	e.state = stateInflight
	e.refetch = false
	fetch := e.fetch
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.fetchTimeout)
	val, err := fetch(ctx)
	cancel()

	r.mu.Lock()
	r.flights.Forget(key)
	e.state = stateIdle
	e.version++
	switch {
	case seq <= e.applied:
		r.logger.Debug("discarding out-of-order result",
			zap.String("fingerprint", key),
			zap.Uint64("seq", seq),
			zap.Uint64("applied", e.applied))
		val, err = e.data, nil
	case err != nil:
		e.err = err
		r.logger.Debug("fetch failed; keeping last good value",
			zap.String("fingerprint", key),
			zap.Error(err))
	default:
		e.data, e.hasData, e.err = val, true, nil
		e.applied = seq
		e.stale = false
		e.updatedAt = time.Now()
	}
	if e.refetch {
		e.refetch = false
		e.stale = true
		if len(e.observers) > 0 {
			e.state = stateQueued
			r.launchLocked(key)
		}
	}
	if len(e.observers) == 0 && e.state == stateIdle {
		r.armEvictLocked(e)
	}
	n := notification{snap: e.snapshot(), observers: e.observerList()}
	r.mu.Unlock()

	n.deliver()
	return val, err
}

func (r *Registry) unobserve(e *entry, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(e.observers, id)
	if len(e.observers) == 0 && e.state == stateIdle {
		r.armEvictLocked(e)
	}
}

func (r *Registry) armEvictLocked(e *entry) {
	if e.evict != nil {
		e.evict.Stop()
	}
	key := e.fp.String()
	e.evict = time.AfterFunc(r.gcTime, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur, ok := r.entries[key]; !ok || cur != e {
			return
		}
		if len(e.observers) > 0 || e.state != stateIdle {
			return
		}
		delete(r.entries, key)
		r.logger.Debug("evicted unobserved entry", zap.String("fingerprint", key))
	})
}
