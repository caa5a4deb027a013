// Package badge keeps per-bucket notification counts for a console session.
package badge

import (
	"context"
	"maps"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/cache"
	"github.com/spec-kit/helpdesk/internal/domain"
)

// Fingerprint addresses the store's count endpoint in the cache registry.
var Fingerprint = cache.NewFingerprint("notifications/count", nil)

// CountSource loads the caller's counts from the store.
type CountSource func(ctx context.Context) (domain.Counts, error)

// Observer is the part of the cache registry the aggregator needs.
type Observer interface {
	Observe(q cache.Query, fn func(cache.Snapshot)) (unsubscribe func())
}

// Aggregator mirrors the store's badge counts. Counts are only ever replaced
// wholesale by a fresh store answer, never incremented from local events, so an
// event delivered twice cannot inflate a badge.
type Aggregator struct {
	registry Observer
	source   CountSource
	logger   *zap.Logger

	mu        sync.Mutex
	counts    domain.Counts
	version   uint64
	subs      map[domain.Bucket]map[uint64]chan int
	nextSub   uint64
	unobserve func()
}

// NewAggregator creates a stopped aggregator.
func NewAggregator(registry Observer, source CountSource, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		registry: registry,
		source:   source,
		logger:   logger,
		counts:   domain.Counts{},
		subs:     make(map[domain.Bucket]map[uint64]chan int),
	}
}

// Query is the cache query the aggregator observes. It carries the
// Notification tag so every notification-bearing event refreshes the counts.
func (a *Aggregator) Query() cache.Query {
	return cache.Query{
		Fingerprint: Fingerprint,
		Tags:        []cache.Tag{cache.TagNotification},
		Fetch: func(ctx context.Context) (any, error) {
			return a.source(ctx)
		},
	}
}

// Start begins observing the count query. Calling it twice is a no-op.
func (a *Aggregator) Start() {
	a.mu.Lock()
	if a.unobserve != nil {
		a.mu.Unlock()
		return
	}
	a.unobserve = func() {}
	a.mu.Unlock()

	unobserve := a.registry.Observe(a.Query(), a.apply)

	a.mu.Lock()
	a.unobserve = unobserve
	a.mu.Unlock()
}

// Stop stops observing and closes every subscription.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	unobserve := a.unobserve
	a.unobserve = nil
	a.version = 0
	for bucket, subs := range a.subs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(a.subs, bucket)
	}
	a.mu.Unlock()

	if unobserve != nil {
		unobserve()
	}
}

// Count returns the latest count for bucket.
func (a *Aggregator) Count(bucket domain.Bucket) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[bucket]
}

// Counts returns a copy of every count.
func (a *Aggregator) Counts() domain.Counts {
	a.mu.Lock()
	defer a.mu.Unlock()
	return maps.Clone(a.counts)
}

// Subscribe returns a channel that always holds the latest count for bucket.
// The current value is delivered immediately. cancel closes the channel.
func (a *Aggregator) Subscribe(bucket domain.Bucket) (<-chan int, func()) {
	ch := make(chan int, 1)

	a.mu.Lock()
	a.nextSub++
	id := a.nextSub
	if a.subs[bucket] == nil {
		a.subs[bucket] = make(map[uint64]chan int)
	}
	a.subs[bucket][id] = ch
	ch <- a.counts[bucket]
	a.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			if subs, ok := a.subs[bucket]; ok {
				if _, ok := subs[id]; ok {
					delete(subs, id)
					close(ch)
				}
			}
		})
	}
}

func (a *Aggregator) apply(snap cache.Snapshot) {
	if !snap.HasData {
		return
	}
	counts, ok := snap.Data.(domain.Counts)
	if !ok {
		a.logger.Warn("unexpected badge payload")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if snap.Version <= a.version {
		return
	}
	a.version = snap.Version

	next := maps.Clone(counts)
	if next == nil {
		next = domain.Counts{}
	}
	prev := a.counts
	a.counts = next

	for bucket, subs := range a.subs {
		if prev[bucket] == next[bucket] {
			continue
		}
		for _, ch := range subs {
			offer(ch, next[bucket])
		}
	}
}

// offer replaces whatever value ch holds with v. Callers hold a.mu.
func offer(ch chan int, v int) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
