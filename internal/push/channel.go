package push

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// State is the lifecycle phase of a push channel.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// Handler consumes the inbound stream. Calls are serialized in arrival order.
type Handler interface {
	HandleMessage(ctx context.Context, msg Message)
	// Resync runs once each time the channel reconnects after having been
	// connected, before any frame received on the new connection.
	Resync(ctx context.Context)
}

type inbound struct {
	msg    Message
	resync bool
}

// Channel is the auto-reconnecting client end of the push stream.
type Channel struct {
	url     string
	header  http.Header
	dialer  *websocket.Dialer
	handler Handler
	logger  *zap.Logger

	minBackoff  time.Duration
	maxBackoff  time.Duration
	readTimeout time.Duration
	queueSize   int

	mu        sync.Mutex
	state     State
	listeners []func(from, to State)
}

// ChannelOption customizes a Channel.
type ChannelOption func(*Channel)

// WithBackoff sets the reconnect delay bounds. The delay doubles per failed
// attempt starting at lo and never exceeds hi.
func WithBackoff(lo, hi time.Duration) ChannelOption {
	return func(c *Channel) {
		if lo > 0 {
			c.minBackoff = lo
		}
		if hi >= c.minBackoff {
			c.maxBackoff = hi
		}
	}
}

// WithToken authenticates the stream with a bearer token.
func WithToken(token string) ChannelOption {
	return func(c *Channel) {
		if token != "" {
			c.header.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithReadTimeout drops the connection when nothing, pings included, arrives
// for d.
func WithReadTimeout(d time.Duration) ChannelOption {
	return func(c *Channel) {
		if d > 0 {
			c.readTimeout = d
		}
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) ChannelOption {
	return func(c *Channel) {
		if d != nil {
			c.dialer = d
		}
	}
}

// NewChannel creates a disconnected channel for url.
func NewChannel(url string, handler Handler, logger *zap.Logger, opts ...ChannelOption) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Channel{
		url:         url,
		header:      http.Header{},
		dialer:      websocket.DefaultDialer,
		handler:     handler,
		logger:      logger,
		minBackoff:  500 * time.Millisecond,
		maxBackoff:  30 * time.Second,
		readTimeout: 90 * time.Second,
		queueSize:   64,
		state:       StateDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChange registers fn to be called after every state transition.
func (c *Channel) OnStateChange(fn func(from, to State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Channel) setState(next State, attempt int) State {
	c.mu.Lock()
	prev := c.state
	if prev == next {
		c.mu.Unlock()
		return prev
	}
	c.state = next
	listeners := append([]func(from, to State){}, c.listeners...)
	c.mu.Unlock()

	c.logger.Info("push state changed",
		zap.Stringer("from", prev),
		zap.Stringer("to", next),
		zap.Int("attempt", attempt))
	for _, fn := range listeners {
		fn(prev, next)
	}
	return prev
}

// Backoff returns the delay before reconnect attempt n, counting from zero.
func (c *Channel) Backoff(n int) time.Duration {
	d := c.minBackoff
	for i := 0; i < n; i++ {
		d *= 2
		if d >= c.maxBackoff {
			return c.maxBackoff
		}
	}
	return d
}

// Run connects and keeps the channel connected until ctx is cancelled.
func (c *Channel) Run(ctx context.Context) error {
	queue := make(chan inbound, c.queueSize)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.consume(ctx, queue)
	}()
	defer wg.Wait()

	c.setState(StateConnecting, 0)
	attempt := 0
	// Nothing can have been missed before the first connection.
	connectedOnce := false
	for {
		conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
		if err != nil {
			if ctx.Err() != nil {
				c.setState(StateDisconnected, attempt)
				return nil
			}
			c.logger.Warn("push dial failed", zap.Error(err), zap.Int("attempt", attempt))
			c.setState(StateReconnecting, attempt)
			if !c.wait(ctx, c.Backoff(attempt)) {
				c.setState(StateDisconnected, attempt)
				return nil
			}
			attempt++
			continue
		}

		prev := c.setState(StateConnected, attempt)
		attempt = 0
		resync := prev == StateReconnecting && connectedOnce
		connectedOnce = true
		if resync {
			select {
			case queue <- inbound{resync: true}:
			case <-ctx.Done():
			}
		}

		c.read(ctx, conn, queue)
		if ctx.Err() != nil {
			c.setState(StateDisconnected, attempt)
			return nil
		}
		c.setState(StateReconnecting, attempt)
		if !c.wait(ctx, c.Backoff(attempt)) {
			c.setState(StateDisconnected, attempt)
			return nil
		}
		attempt++
	}
}

func (c *Channel) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// read pumps frames from conn into queue until the connection fails.
func (c *Channel) read(ctx context.Context, conn *websocket.Conn, queue chan<- inbound) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("push connection lost", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		msg, err := decodeMessage(data)
		if err != nil {
			c.logger.Warn("dropping malformed push frame", zap.Error(err))
			continue
		}
		select {
		case queue <- inbound{msg: msg}:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Channel) consume(ctx context.Context, queue <-chan inbound) {
	for {
		select {
		case <-ctx.Done():
			return
		case in := <-queue:
			if in.resync {
				c.handler.Resync(ctx)
				continue
			}
			c.handler.HandleMessage(ctx, in.msg)
		}
	}
}
