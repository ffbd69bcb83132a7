package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/jitae1214/TDC-sub000/chat/internal"

	"github.com/coder/websocket"
)

// Client owns the lifecycle of one broker connection. It is shared across
// room sessions: switching rooms replaces subscriptions and history, never
// the connection. Status transitions are published on a fan-out feed that
// sessions subscribe to via States.
type Client struct {
	cfg      Config
	registry *Registry
	feed     *statusFeed
	writeCh  chan frame

	runCtx context.Context
	stop   context.CancelFunc

	mu         sync.Mutex
	logger     Logger
	tokens     TokenProvider
	onError    func(error)
	state      ConnectionState
	conn       *internal.Conn
	connCancel context.CancelFunc
	gen        int
	closed     bool
}

var _ Connection = (*Client)(nil)

// NewClient constructs a client with the provided config. Use DefaultConfig
// as a starting point and modify as needed. Set a timeout to 0 to disable it.
func NewClient(cfg Config) *Client {
	runCtx, stop := context.WithCancel(context.Background())
	c := &Client{
		cfg:     cfg,
		logger:  noopLogger{},
		writeCh: make(chan frame, 16),
		feed:    newStatusFeed(),
		runCtx:  runCtx,
		stop:    stop,
	}
	c.registry = newRegistry(c, c.logger)
	return c
}

// SetLogger overrides the logger (optional).
func (c *Client) SetLogger(l Logger) {
	if l == nil {
		return
	}
	c.mu.Lock()
	c.logger = l
	c.mu.Unlock()
	c.registry.setLogger(l)
}

// SetTokenProvider sets the source of the bearer credential. The provider is
// read once per connect; token refresh mid-session is not handled.
func (c *Client) SetTokenProvider(tp TokenProvider) {
	c.mu.Lock()
	c.tokens = tp
	c.mu.Unlock()
}

// OnError registers a callback for asynchronous errors (protocol error
// frames, malformed events, write failures). Optional.
func (c *Client) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// Registry exposes the topic subscription registry.
func (c *Client) Registry() *Registry { return c.registry }

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// States subscribes to the connection status stream. The returned cancel
// function must be called to release the stream.
func (c *Client) States() (<-chan StateEvent, func()) {
	return c.feed.subscribe()
}

// Connect dials the broker and starts the internal loops. Idempotent: when
// already connected it re-reports the connected status on the feed and
// performs no new handshake.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return NewError(ErrorDisconnected, "client closed")
	}
	switch c.state {
	case StateConnected:
		c.mu.Unlock()
		c.feed.publish(StateEvent{Old: StateConnected, New: StateConnected})
		return nil
	case StateConnecting, StateReconnecting:
		c.mu.Unlock()
		return nil
	}
	if c.cfg.URL == "" {
		c.mu.Unlock()
		return NewError(ErrorInvalidConfig, "empty broker URL")
	}
	old := c.state
	c.state = StateConnecting
	c.mu.Unlock()
	c.feed.publish(StateEvent{Old: old, New: StateConnecting})

	if err := c.establish(ctx); err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.feed.publish(StateEvent{Old: StateConnecting, New: StateDisconnected, Error: err})
		return err
	}
	return nil
}

// Close tears down all active subscriptions, then the transport. Safe to call
// when already disconnected.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	old := c.state
	conn := c.conn
	c.mu.Unlock()

	// Subscriptions go first; frames are best effort and bounded.
	if conn != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
		c.registry.UnsubscribeAll(ctx)
		cancel()
	} else {
		c.registry.invalidateAll()
	}

	c.stop()
	c.mu.Lock()
	c.state = StateClosed
	c.conn = nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "client close")
	}
	c.feed.publish(StateEvent{Old: old, New: StateClosed})
	return err
}

// Subscribe registers a live subscription for topic on the shared registry.
func (c *Client) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	return c.registry.Subscribe(ctx, topic)
}

// Unsubscribe releases the subscription for topic if present.
func (c *Client) Unsubscribe(ctx context.Context, topic string) error {
	return c.registry.Unsubscribe(ctx, topic)
}

// Publish sends an event to an application destination.
func (c *Client) Publish(ctx context.Context, destination string, ev Event) error {
	body, err := marshalBody(ev)
	if err != nil {
		return err
	}
	return c.sendFrame(ctx, frame{Type: frameSend, Destination: destination, Body: body})
}

// UpdateStatus publishes a presence update for the local user.
func (c *Client) UpdateStatus(ctx context.Context, status string) error {
	body, err := marshalBody(StatusUpdate{
		SenderID:   c.cfg.UserID,
		SenderName: c.cfg.User,
		Status:     status,
	})
	if err != nil {
		return err
	}
	return c.sendFrame(ctx, frame{Type: frameSend, Destination: DestUpdateStatus, Body: body})
}

// establish dials, performs the protocol handshake, and starts the loops for
// a new connection generation. Shared by Connect and the reconnect loop.
func (c *Client) establish(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	connCtx, cancel := context.WithCancel(c.runCtx)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "client close")
		return NewError(ErrorDisconnected, "client closed")
	}
	c.gen++
	gen := c.gen
	c.conn = conn
	c.connCancel = cancel
	old := c.state
	c.state = StateConnected
	c.mu.Unlock()

	go c.readLoop(connCtx, conn, gen)
	go c.writeLoop(connCtx, conn, gen)
	go c.heartbeatLoop(connCtx, conn, gen)

	c.feed.publish(StateEvent{Old: old, New: StateConnected})
	return nil
}

func (c *Client) dial(ctx context.Context) (*internal.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, WrapError(ErrorInvalidConfig, "parse broker URL", err)
	}

	c.mu.Lock()
	tokens := c.tokens
	log := c.logger
	c.mu.Unlock()

	token := ""
	if tokens != nil {
		token = tokens.AuthToken()
	}
	if token != "" {
		if exp, ok := TokenExpiry(token); ok && time.Now().After(exp) {
			log.Warn("bearer token already expired, handshake will likely fail", map[string]any{
				"expired_at": exp,
			})
		}
	}

	dialCtx := ctx
	if c.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
		defer cancel()
	}

	opts := &websocket.DialOptions{}
	if token != "" {
		h := http.Header{}
		h.Set("Authorization", "Bearer "+token)
		opts.HTTPHeader = h
	}
	ws, _, err := websocket.Dial(dialCtx, u.String(), opts)
	if err != nil {
		return nil, WrapError(ErrorTransport, "dial broker", err)
	}

	conn := internal.NewConn(ws, c.cfg.ReadTimeout, c.cfg.WriteTimeout)
	hello := frame{Type: frameConnect, Protocol: ProtocolVersion, Token: token}
	if err := conn.Write(ctx, hello); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "handshake error")
		return nil, WrapError(ErrorTransport, "protocol handshake", err)
	}
	return conn, nil
}

func (c *Client) sendFrame(ctx context.Context, f frame) error {
	c.mu.Lock()
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	select {
	case c.writeCh <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) readLoop(ctx context.Context, conn *internal.Conn, gen int) {
	for {
		var f frame
		if err := conn.Read(ctx, &f); err != nil {
			if isExpectedDisconnect(ctx, err) {
				return
			}
			c.handleDisconnect(gen, WrapError(ErrorTransport, "read failed", err))
			return
		}
		c.handleFrame(f)
	}
}

func (c *Client) handleFrame(f frame) {
	switch f.Type {
	case frameMessage:
		var ev Event
		if err := json.Unmarshal(f.Body, &ev); err != nil {
			// One bad payload never interrupts the subscription.
			c.log().Warn("dropping malformed event", map[string]any{"error": err.Error()})
			c.fireError(WrapError(ErrorMalformedEvent, "decode event body", err))
			return
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now()
		}
		c.registry.dispatch(f.ID, f.Destination, ev)
	case frameError:
		err := FromProtocolError(f.Error)
		c.log().Warn("broker error frame", map[string]any{"error": err.Error()})
		c.fireError(err)
	case frameConnected:
		c.log().Debug("protocol session confirmed", nil)
	case frameReceipt:
		c.log().Debug("receipt", map[string]any{"id": f.ID})
	default:
		c.log().Debug("ignoring unknown frame", map[string]any{"type": f.Type})
	}
}

func (c *Client) writeLoop(ctx context.Context, conn *internal.Conn, gen int) {
	for {
		select {
		case f := <-c.writeCh:
			if err := conn.Write(ctx, f); err != nil {
				if isExpectedDisconnect(ctx, err) {
					return
				}
				c.fireError(WrapError(ErrorTransport, "write failed", err))
				c.handleDisconnect(gen, err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) heartbeatLoop(ctx context.Context, conn *internal.Conn, gen int) {
	if c.cfg.HeartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.Ping(ctx, c.cfg.HeartbeatInterval); err != nil {
				if ctx.Err() != nil {
					return
				}
				c.handleDisconnect(gen, WrapError(ErrorTimeout, "heartbeat failed", err))
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// handleDisconnect reacts to a transport failure detected by one of the
// loops. Idempotent per connection generation: whichever loop notices first
// wins, the rest fall through the gen check.
func (c *Client) handleDisconnect(gen int, cause error) {
	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return
	}
	c.gen++
	conn := c.conn
	cancel := c.connCancel
	c.conn = nil
	c.connCancel = nil
	old := c.state
	next := StateDisconnected
	if c.cfg.AutoReconnect {
		next = StateReconnecting
	}
	c.state = next
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusGoingAway, "transport failure")
	}

	// Subscription ids do not survive a reconnect; sessions re-subscribe once
	// the connection is back.
	c.registry.invalidateAll()
	c.feed.publish(StateEvent{Old: old, New: next, Error: cause})
	c.log().Warn("transport disconnected", map[string]any{
		"error":     cause.Error(),
		"reconnect": next == StateReconnecting,
	})

	if next == StateReconnecting {
		go c.reconnectLoop()
	}
}

// reconnectLoop retries the handshake at a fixed interval until it succeeds
// or the client is closed. No backoff, no retry cap.
func (c *Client) reconnectLoop() {
	ticker := time.NewTicker(c.cfg.ReconnectInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.runCtx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if closed {
				return
			}
			if err := c.establish(c.runCtx); err != nil {
				c.log().Warn("reconnect attempt failed", map[string]any{"error": err.Error()})
				continue
			}
			return
		}
	}
}

func (c *Client) log() Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logger
}

func (c *Client) fireError(err error) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if fn != nil && err != nil {
		fn(err)
	}
}

func isExpectedDisconnect(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx != nil && ctx.Err() != nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	default:
		return false
	}
}
