package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/events"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testAuth(token string) (string, error) {
	switch token {
	case "good":
		return "user-1", nil
	case "other":
		return "user-2", nil
	}
	return "", errors.New("invalid token")
}

type recorder struct {
	mu    sync.Mutex
	seen  []string
	resyn int
}

func (r *recorder) HandleMessage(_ context.Context, msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, "msg:"+string(msg.Payload))
}

func (r *recorder) Resync(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resyn++
	r.seen = append(r.seen, "resync")
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func TestHubAuthenticates(t *testing.T) {
	hub := NewHub(testAuth, time.Second, zap.NewNop())
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	t.Run("missing token", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("bad token", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv)+"?token=bad", nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("bearer header", func(t *testing.T) {
		header := http.Header{"Authorization": {"Bearer good"}}
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
		require.NoError(t, err)
		conn.Close()
	})
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(testAuth, time.Second, zap.NewNop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv)+"?token=good", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Sessions() == 1 }, time.Second, 5*time.Millisecond)

	msg, err := FromEvent(events.Event{ID: "evt-1", Type: events.EventHoldRequested, ConcernID: "c-1"})
	require.NoError(t, err)
	n, err := hub.Broadcast(msg)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got Message
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, events.EventHoldRequested, got.EventType)
	assert.JSONEq(t, `{"id":"evt-1","concernId":"c-1"}`, string(got.Payload))

	hub.Close()
	assert.Equal(t, 0, hub.Sessions())
	_, err = hub.Broadcast(msg)
	assert.ErrorIs(t, err, ErrHubClosed)
}

func TestHubRoutesPersonalMessages(t *testing.T) {
	hub := NewHub(testAuth, time.Second, zap.NewNop())
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	dial := func(token string) *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv)+"?token="+token, nil)
		require.NoError(t, err)
		return conn
	}
	mine, theirs := dial("good"), dial("other")
	defer mine.Close()
	defer theirs.Close()
	require.Eventually(t, func() bool { return hub.Sessions() == 2 }, time.Second, 5*time.Millisecond)

	note, err := FromEvent(events.Event{
		ID:          "evt-2",
		Type:        events.EventNotificationMessage,
		RecipientID: "user-1",
		Payload:     events.MessagePayload{RecipientID: "user-1", Text: "Your request was rejected: duplicate"},
	})
	require.NoError(t, err)
	n, err := hub.Broadcast(note)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	coarse, err := FromEvent(events.Event{ID: "evt-3", Type: events.EventHoldRejected, ConcernID: "c-1"})
	require.NoError(t, err)
	n, err = hub.Broadcast(coarse)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	read := func(conn *websocket.Conn) Message {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var m Message
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	}
	assert.Equal(t, events.EventNotificationMessage, read(mine).EventType)
	assert.Equal(t, events.EventHoldRejected, read(mine).EventType)
	// The other subject's first frame is the coarse event; the notice never reached it.
	assert.Equal(t, events.EventHoldRejected, read(theirs).EventType)
}

func TestBackoff(t *testing.T) {
	c := NewChannel("ws://unused", &recorder{}, nil, WithBackoff(100*time.Millisecond, time.Second))

	assert.Equal(t, 100*time.Millisecond, c.Backoff(0))
	assert.Equal(t, 200*time.Millisecond, c.Backoff(1))
	assert.Equal(t, 400*time.Millisecond, c.Backoff(2))
	assert.Equal(t, 800*time.Millisecond, c.Backoff(3))
	assert.Equal(t, time.Second, c.Backoff(4))
	assert.Equal(t, time.Second, c.Backoff(20))
}

// flakyServer drops the first connection right after one frame and keeps the
// following ones open.
func flakyServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := conns.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		frame := fmt.Sprintf(`{"eventType":"hold_requested","payload":{"n":%d}}`, n)
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			return
		}
		if n == 1 {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	return srv, &conns
}

func TestChannelReconnectsAndResyncsOnce(t *testing.T) {
	srv, conns := flakyServer(t)
	defer srv.Close()

	rec := &recorder{}
	c := NewChannel(wsURL(srv), rec, zap.NewNop(), WithBackoff(10*time.Millisecond, 50*time.Millisecond))

	var mu sync.Mutex
	var transitions []string
	c.OnStateChange(func(from, to State) {
		mu.Lock()
		transitions = append(transitions, from.String()+">"+to.String())
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{`msg:{"n":1}`, "resync", `msg:{"n":2}`}, rec.snapshot())
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, int32(2), conns.Load())

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, StateDisconnected, c.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"disconnected>connecting",
		"connecting>connected",
		"connected>reconnecting",
		"reconnecting>connected",
		"connected>disconnected",
	}, transitions)
	assert.Equal(t, 1, rec.resyn)
}

func TestChannelRetriesFailedDial(t *testing.T) {
	hub := NewHub(testAuth, time.Second, zap.NewNop())
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	c := NewChannel(wsURL(srv), &recorder{}, zap.NewNop(),
		WithToken("bad"),
		WithBackoff(10*time.Millisecond, 20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return c.State() == StateReconnecting }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, hub.Sessions())

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestChannelFirstConnectAfterFailedDialSkipsResync(t *testing.T) {
	hub := NewHub(testAuth, time.Second, zap.NewNop())
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if dials.Add(1) == 1 {
			http.Error(w, "starting up", http.StatusServiceUnavailable)
			return
		}
		hub.ServeHTTP(w, r)
	}))
	defer srv.Close()
	defer hub.Close()

	rec := &recorder{}
	c := NewChannel(wsURL(srv), rec, zap.NewNop(),
		WithToken("good"),
		WithBackoff(10*time.Millisecond, 20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	require.Eventually(t, func() bool {
		return hub.Sessions() == 1 && c.State() == StateConnected
	}, time.Second, 5*time.Millisecond)
	_, err := hub.Broadcast(Message{EventType: events.EventHoldRequested, Payload: json.RawMessage(`{"id":"evt-4"}`)})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{`msg:{"id":"evt-4"}`}, rec.snapshot())
	assert.Equal(t, int32(2), dials.Load())
}

func TestChannelWithHub(t *testing.T) {
	hub := NewHub(testAuth, time.Second, zap.NewNop())
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	rec := &recorder{}
	c := NewChannel(wsURL(srv), rec, zap.NewNop(), WithToken("good"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	require.Eventually(t, func() bool { return hub.Sessions() == 1 }, time.Second, 5*time.Millisecond)
	_, err := hub.Broadcast(Message{EventType: events.EventClosingApproved, Payload: json.RawMessage(`{"id":"evt-9"}`)})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, `msg:{"id":"evt-9"}`, rec.snapshot()[0])
}
