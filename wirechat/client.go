package wirechat

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Client owns the single transport connection to the backend. It
// authenticates, replays room subscriptions on every (re)connection,
// reconnects after unsolicited loss and routes inbound frames to its
// Registry.
type Client struct {
	cfg       Config
	logger    Logger
	dialer    Dialer
	listeners *Registry
	rooms     *Rooms
	out       *outbox

	typingMu sync.Mutex
	typing   map[string]*rate.Limiter

	mu         sync.Mutex
	state      ConnectionState
	conn       Conn
	cancel     context.CancelFunc // stops the loops of conn
	attempt    *attempt           // in-flight connect or reconnect cycle
	credential string
}

// attempt is one connect call or one reconnect cycle. Every caller that
// asks to connect while it runs waits on the same outcome.
type attempt struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func newAttempt() *attempt {
	ctx, cancel := context.WithCancel(context.Background())
	return &attempt{ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

// finish must be called exactly once.
func (a *attempt) finish(err error) {
	a.err = err
	a.cancel()
	close(a.done)
}

func (a *attempt) wait(ctx context.Context) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return WrapError(ErrorCancelled, "stopped waiting for connection", ctx.Err())
	}
}

// NewClient constructs a client with provided config.
// Use DefaultConfig() as a starting point and modify as needed.
func NewClient(cfg Config) *Client {
	c := &Client{
		cfg:       cfg,
		logger:    NewLogrusLogger(nil),
		dialer:    cfg.Dialer,
		listeners: NewRegistry(),
		out:       newOutbox(),
		typing:    make(map[string]*rate.Limiter),
	}
	if c.dialer == nil {
		c.dialer = WebsocketDialer{}
	}
	c.rooms = newRooms(c.out.push)
	c.listeners.SetPanicHandler(func(kind EventKind, err error) {
		c.logger.Warn("listener failed", map[string]any{"kind": string(kind), "error": err.Error()})
	})
	return c
}

// SetLogger overrides logger (optional). Call it before Connect.
func (c *Client) SetLogger(l Logger) {
	if l == nil {
		return
	}
	c.logger = l
}

// Listeners returns the registry inbound events are dispatched through.
func (c *Client) Listeners() *Registry { return c.listeners }

// Rooms returns the room membership tracker.
func (c *Client) Rooms() *Rooms { return c.rooms }

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnMessage registers callback for message events.
func (c *Client) OnMessage(fn func(MessageReceived)) *Listener { return On(c.listeners, fn) }

// OnStateChanged registers callback for connection state changes.
func (c *Client) OnStateChanged(fn func(StateChanged)) *Listener { return On(c.listeners, fn) }

// OnConnectionLost registers callback for retry exhaustion.
func (c *Client) OnConnectionLost(fn func(ConnectionLost)) *Listener { return On(c.listeners, fn) }

// OnError registers callback for errors.
func (c *Client) OnError(fn func(error)) *Listener {
	return On(c.listeners, func(ev ErrorOccurred) { fn(ev.Err) })
}

// Connect opens the transport with credential attached and blocks until
// the server confirms the session, the handshake timeout elapses,
// Disconnect is called or ctx is done. Concurrent calls share one attempt;
// calling it while connected returns nil at once.
func (c *Client) Connect(ctx context.Context, credential string) error {
	if credential == "" {
		return ErrUnauthenticated
	}
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	if a := c.attempt; a != nil {
		c.mu.Unlock()
		return a.wait(ctx)
	}
	a := newAttempt()
	c.attempt = a
	c.credential = credential
	old := c.state
	c.state = StateConnecting
	c.mu.Unlock()
	c.emitState(old, StateConnecting, nil)

	go c.connectOnce(a, credential)
	return a.wait(ctx)
}

func (c *Client) connectOnce(a *attempt, credential string) {
	conn, err := c.establish(a, credential)
	if err == nil {
		if err = c.finalize(a, conn); err == nil {
			a.finish(nil)
			return
		}
	}

	var dropped []Inbound
	c.mu.Lock()
	stale := c.attempt != a
	if !stale {
		c.attempt = nil
		c.state = StateDisconnected
		dropped = c.out.reset()
	}
	c.mu.Unlock()

	if stale {
		if !errors.Is(err, ErrCancelled) {
			err = WrapError(ErrorCancelled, "connect cancelled", err)
		}
	} else {
		c.logger.Warn("connect failed", map[string]any{"error": err.Error()})
		c.emitState(StateConnecting, StateDisconnected, err)
		c.failQueued(dropped, err)
	}
	a.finish(err)
}

// establish dials, sends hello and waits for the connected frame.
func (c *Client) establish(a *attempt, credential string) (Conn, error) {
	ctx := a.ctx
	if c.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
		defer cancel()
	}

	conn, err := c.dialer.Dial(ctx, &c.cfg)
	if err != nil {
		return nil, classify(a, ctx, err)
	}

	hello := Inbound{
		Type: inboundHello,
		Data: HelloPayload{
			Protocol: ProtocolVersion,
			Token:    credential,
			User:     c.cfg.User,
		},
	}
	if err := conn.Write(ctx, hello); err != nil {
		_ = conn.Close("handshake error")
		return nil, classify(a, ctx, err)
	}

	for {
		out, err := conn.Read(ctx)
		if err != nil {
			_ = conn.Close("handshake error")
			return nil, classify(a, ctx, err)
		}
		switch out.Type {
		case outboundConnected:
			var p ConnectedPayload
			if len(out.Data) > 0 {
				_ = conn.Decode(out.Data, &p)
			}
			c.logger.Debug("session confirmed", map[string]any{"session_id": p.SessionID, "user_id": p.UserID})
			return conn, nil
		case outboundError:
			_ = conn.Close("handshake rejected")
			werr := FromProtocolError(out.Error)
			if werr == nil {
				werr = NewError(ErrorUnknown, "empty error frame")
			}
			if werr.Code == ErrorUnauthorized {
				return nil, WrapError(ErrorUnauthorized, "handshake rejected", werr)
			}
			return nil, WrapError(ErrorConnection, "handshake rejected", werr)
		default:
			c.logger.Debug("ignoring frame before confirmation", map[string]any{"type": out.Type})
		}
	}
}

// finalize replays room subscriptions on conn and only then publishes it
// as the live connection.
func (c *Client) finalize(a *attempt, conn Conn) error {
	c.mu.Lock()
	if c.attempt != a {
		c.mu.Unlock()
		_ = conn.Close("connect cancelled")
		return ErrCancelled
	}
	// Sends queued while the attempt ran go out after the replay. Anything
	// else was meant for the previous connection.
	c.out.retain(isSend)
	frames := c.rooms.markConnected()
	c.mu.Unlock()

	for _, f := range frames {
		if err := conn.Write(a.ctx, f); err != nil {
			c.mu.Lock()
			if c.attempt == a {
				c.rooms.markDisconnected()
			}
			c.mu.Unlock()
			_ = conn.Close("replay failed")
			return classify(a, a.ctx, err)
		}
	}

	c.mu.Lock()
	if c.attempt != a {
		c.mu.Unlock()
		_ = conn.Close("connect cancelled")
		return ErrCancelled
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c.conn = conn
	c.cancel = cancel
	c.attempt = nil
	old := c.state
	c.state = StateConnected
	c.mu.Unlock()

	go c.readLoop(runCtx, conn)
	go c.writeLoop(runCtx, conn)
	if c.cfg.PingInterval > 0 {
		go c.pingLoop(runCtx, conn)
	}
	c.logger.Info("connected", map[string]any{"rooms": len(frames)})
	c.emitState(old, StateConnected, nil)
	return nil
}

func classify(a *attempt, ctx context.Context, err error) error {
	switch {
	case a.ctx.Err() != nil:
		return WrapError(ErrorCancelled, "connect cancelled", err)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return WrapError(ErrorTimeout, "no connection confirmation", err)
	}
	var we *WirechatError
	if errors.As(err, &we) {
		return err
	}
	return WrapError(ErrorConnection, "transport", err)
}

// Disconnect tears down the transport, cancels any connect in flight and
// stops reconnecting. Active rooms are kept for the next Connect.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if a := c.attempt; a != nil {
		a.cancel()
		c.attempt = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	c.rooms.markDisconnected()
	dropped := c.out.reset()
	old := c.state
	c.state = StateDisconnected
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close("client close")
	}
	c.emitState(old, StateDisconnected, nil)
	c.failQueued(dropped, ErrNotConnected)
	return err
}

// handleLoss reacts to an unsolicited failure of the live connection.
func (c *Client) handleLoss(conn Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.cancel()
	c.cancel = nil
	c.conn = nil
	c.rooms.markDisconnected()

	fields := map[string]any{"error": cause.Error(), "remote_close": isRemoteClose(cause)}
	if !c.cfg.AutoReconnect {
		c.state = StateDisconnected
		dropped := c.out.reset()
		c.mu.Unlock()
		_ = conn.Close("connection lost")
		c.logger.Error("connection lost", fields)
		c.emitState(StateConnected, StateDisconnected, cause)
		c.failQueued(dropped, cause)
		c.listeners.Dispatch(ConnectionLost{Err: cause})
		return
	}

	a := newAttempt()
	c.attempt = a
	c.state = StateReconnecting
	credential := c.credential
	c.mu.Unlock()

	_ = conn.Close("connection lost")
	c.logger.Warn("connection lost, reconnecting", fields)
	c.emitState(StateConnected, StateReconnecting, cause)
	go c.reconnect(a, credential, cause)
}

// reconnect retries with capped exponential backoff until it succeeds, the
// attempt budget runs out or Disconnect cancels it.
func (c *Client) reconnect(a *attempt, credential string, cause error) {
	lastErr := cause
	attempts := 0
	for n := 1; n <= c.cfg.MaxReconnectTries; n++ {
		timer := time.NewTimer(c.cfg.backoff(n))
		select {
		case <-a.ctx.Done():
			timer.Stop()
			a.finish(WrapError(ErrorCancelled, "reconnect cancelled", lastErr))
			return
		case <-timer.C:
		}

		attempts = n
		conn, err := c.establish(a, credential)
		if err == nil {
			if err = c.finalize(a, conn); err == nil {
				c.logger.Info("reconnected", map[string]any{"attempt": n})
				a.finish(nil)
				return
			}
		}
		if errors.Is(err, ErrCancelled) {
			a.finish(err)
			return
		}
		lastErr = err
		c.logger.Warn("reconnect attempt failed", map[string]any{
			"attempt": n,
			"max":     c.cfg.MaxReconnectTries,
			"error":   err.Error(),
		})
		if errors.Is(err, ErrUnauthenticated) {
			break
		}
	}

	var dropped []Inbound
	c.mu.Lock()
	stale := c.attempt != a
	if !stale {
		c.attempt = nil
		c.state = StateDisconnected
		dropped = c.out.reset()
	}
	c.mu.Unlock()
	if stale {
		a.finish(WrapError(ErrorCancelled, "reconnect cancelled", lastErr))
		return
	}

	c.logger.Error("connection lost", map[string]any{"attempts": attempts, "error": lastErr.Error()})
	c.emitState(StateReconnecting, StateDisconnected, lastErr)
	c.failQueued(dropped, lastErr)
	c.listeners.Dispatch(ConnectionLost{Attempts: attempts, Err: lastErr})
	a.finish(WrapError(ErrorConnection, "reconnect attempts exhausted", lastErr))
}

func (c *Client) readLoop(ctx context.Context, conn Conn) {
	for {
		out, err := conn.Read(ctx)
		if err != nil {
			if isExpectedDisconnect(ctx, err) {
				return
			}
			c.handleLoss(conn, err)
			return
		}
		c.route(conn, out)
	}
}

func (c *Client) writeLoop(ctx context.Context, conn Conn) {
	for {
		select {
		case <-c.out.wake:
			if ctx.Err() != nil {
				// The token belongs to whichever connection replaced this one.
				c.out.signal()
				return
			}
			for _, in := range c.out.drain() {
				if err := conn.Write(ctx, in); err != nil {
					if isExpectedDisconnect(ctx, err) {
						return
					}
					c.logger.Warn("write loop exit", map[string]any{"type": in.Type, "error": err.Error()})
					c.handleLoss(conn, err)
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) pingLoop(ctx context.Context, conn Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				if isExpectedDisconnect(ctx, err) {
					return
				}
				c.handleLoss(conn, err)
				return
			}
		}
	}
}

func (c *Client) emitState(old, next ConnectionState, err error) {
	if old == next {
		return
	}
	fields := map[string]any{"from": old.String(), "to": next.String()}
	if err != nil {
		fields["error"] = err.Error()
	}
	c.logger.Debug("state changed", fields)
	c.listeners.Dispatch(StateChanged{OldState: old, NewState: next, Error: err})
}

// Join subscribes to a conversation. It never blocks and never fails for
// lack of a connection: joins made while disconnected are replayed on the
// next successful connect.
func (c *Client) Join(conversationID string) error {
	if conversationID == "" {
		return NewError(ErrorBadRequest, "empty conversation id")
	}
	c.rooms.Join(conversationID)
	return nil
}

// Leave unsubscribes from a conversation.
func (c *Client) Leave(conversationID string) error {
	if conversationID == "" {
		return NewError(ErrorBadRequest, "empty conversation id")
	}
	c.rooms.Leave(conversationID)
	return nil
}

// OutgoingMessage is a message handed to the transport.
type OutgoingMessage struct {
	ConversationID string
	LocalID        string
	Content        string
	Type           string
	ReplyTo        string
}

// SendMessage queues a message.send frame. While a connect or reconnect
// is in flight the frame waits for the new connection; if that attempt
// gives up the message is reported through SendRejected. It returns
// ErrNotConnected only when no connection is live or being made.
func (c *Client) SendMessage(msg OutgoingMessage) error {
	if msg.ConversationID == "" || msg.LocalID == "" {
		return NewError(ErrorBadRequest, "conversation id and local id are required")
	}
	return c.enqueue(Inbound{Type: inboundSend, Data: SendPayload{
		ConversationID: msg.ConversationID,
		LocalID:        msg.LocalID,
		Content:        msg.Content,
		Type:           msg.Type,
		ReplyTo:        msg.ReplyTo,
	}}, true)
}

// StartTyping tells the conversation the user is typing. Repeated calls
// within TypingThrottle are dropped.
func (c *Client) StartTyping(conversationID string) error {
	if conversationID == "" {
		return NewError(ErrorBadRequest, "empty conversation id")
	}
	c.typingMu.Lock()
	lim, ok := c.typing[conversationID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(c.cfg.TypingThrottle), 1)
		c.typing[conversationID] = lim
	}
	allowed := lim.Allow()
	c.typingMu.Unlock()
	if !allowed {
		return nil
	}

	err := c.enqueue(Inbound{Type: inboundTypingStart, Data: ConversationPayload{ConversationID: conversationID}}, false)
	if err != nil {
		c.typingMu.Lock()
		delete(c.typing, conversationID)
		c.typingMu.Unlock()
	}
	return err
}

// StopTyping tells the conversation the user stopped typing.
func (c *Client) StopTyping(conversationID string) error {
	if conversationID == "" {
		return NewError(ErrorBadRequest, "empty conversation id")
	}
	c.typingMu.Lock()
	delete(c.typing, conversationID)
	c.typingMu.Unlock()
	return c.enqueue(Inbound{Type: inboundTypingStop, Data: ConversationPayload{ConversationID: conversationID}}, false)
}

// MarkRead acknowledges having read a message.
func (c *Client) MarkRead(conversationID, serverID string) error {
	if conversationID == "" || serverID == "" {
		return NewError(ErrorBadRequest, "conversation id and server id are required")
	}
	return c.enqueue(Inbound{Type: inboundRead, Data: ReadPayload{ConversationID: conversationID, ServerID: serverID}}, false)
}

// enqueue hands a frame to the write loop. Frames that may wait are also
// accepted while a connect or reconnect attempt is running.
func (c *Client) enqueue(in Inbound, mayWait bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.state == StateConnected:
	case mayWait && c.attempt != nil:
	default:
		return ErrNotConnected
	}
	c.out.push(in)
	return nil
}

func isSend(in Inbound) bool { return in.Type == inboundSend }

// failQueued reports sends that never reached a connection.
func (c *Client) failQueued(dropped []Inbound, cause error) {
	for _, in := range dropped {
		p, ok := in.Data.(SendPayload)
		if !ok {
			continue
		}
		c.listeners.Dispatch(SendRejected{
			LocalID: p.LocalID,
			Err:     WrapError(ErrorNotConnected, "message not sent", cause),
		})
	}
}
