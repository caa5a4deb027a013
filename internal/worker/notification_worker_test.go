package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/observability"
	"github.com/spec-kit/helpdesk/internal/push"
	"github.com/spec-kit/helpdesk/internal/service"
)

type recordingHub struct {
	mu   sync.Mutex
	msgs []push.Message
	err  error
}

func (h *recordingHub) Broadcast(msg push.Message) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return 0, h.err
	}
	h.msgs = append(h.msgs, msg)
	return 1, nil
}

func (h *recordingHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}

// flakySource fails its first run, then delivers its events and blocks.
type flakySource struct {
	runs   atomic.Int32
	events []events.Event
}

func (s *flakySource) Run(ctx context.Context, handle func(context.Context, events.Event)) error {
	if s.runs.Add(1) == 1 {
		return errors.New("connection refused")
	}
	for _, e := range s.events {
		handle(ctx, e)
	}
	<-ctx.Done()
	return nil
}

func TestRelayPublish(t *testing.T) {
	hub := &recordingHub{}
	metrics := observability.NewMetrics()
	relay := NewRelay(hub, metrics, nil)

	require.NoError(t, relay.Publish(context.Background(), events.Event{
		ID:        "e-1",
		Type:      events.EventClosingRequested,
		ConcernID: "c-1",
	}))
	require.Equal(t, 1, hub.count())
	assert.Equal(t, events.EventClosingRequested, hub.msgs[0].EventType)

	var body map[string]any
	require.NoError(t, json.Unmarshal(hub.msgs[0].Payload, &body))
	assert.Equal(t, "c-1", body["concernId"])

	hub.err = push.ErrHubClosed
	assert.ErrorIs(t, relay.Publish(context.Background(), events.Event{Type: events.EventClosingRequested}), push.ErrHubClosed)

	snap := metrics.Snapshot()
	assert.Equal(t, int64(1), snap.Events[string(events.EventClosingRequested)+"|true"])
	assert.Equal(t, int64(1), snap.Events[string(events.EventClosingRequested)+"|false"])
}

func TestRelayRunResubscribes(t *testing.T) {
	hub := &recordingHub{}
	source := &flakySource{events: []events.Event{
		{ID: "e-1", Type: events.EventConcernAssigned},
		{ID: "e-2", Type: events.EventHoldRequested},
	}}
	relay := NewRelay(hub, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx, source) }()

	require.Eventually(t, func() bool { return hub.count() == 2 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), source.runs.Load())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestRelayFeedsNotificationService(t *testing.T) {
	hub := &recordingHub{}
	dispatcher := events.NewInMemoryDispatcher()
	StartNotificationWorker(service.NewNotificationService(dispatcher, NewRelay(hub, nil, nil), nil))
	StartNotificationWorker(nil)

	require.NoError(t, dispatcher.Publish(context.Background(), events.Event{
		ID:      "e-1",
		Type:    events.EventHoldRequested,
		Payload: events.TransitionPayload{},
	}))
	assert.GreaterOrEqual(t, hub.count(), 1)
}
