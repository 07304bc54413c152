package wirechat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

var errFakeClosed = errors.New("fake conn closed")

// fakeDialer scripts the server side of every connection it opens.
type fakeDialer struct {
	mu      sync.Mutex
	dials   int
	conns   []*fakeConn
	fail    error
	block   chan struct{} // Dial waits for this to close when set
	dialing chan struct{} // receives a token per Dial when set
	silent  bool          // never confirm the session
	reject  *Error        // answer hello with this error
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{}
}

func (d *fakeDialer) Dial(ctx context.Context, _ *Config) (Conn, error) {
	d.mu.Lock()
	d.dials++
	fail, block, dialing := d.fail, d.block, d.dialing
	d.mu.Unlock()

	if dialing != nil {
		select {
		case dialing <- struct{}{}:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		return nil, fail
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	conn := &fakeConn{
		in:      make(chan Outbound, 64),
		readErr: make(chan error, 1),
		closed:  make(chan struct{}),
		confirm: !d.silent,
		reject:  d.reject,
	}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) setFail(err error) {
	d.mu.Lock()
	d.fail = err
	d.mu.Unlock()
}

// setBlock makes every later Dial wait until ch is closed.
func (d *fakeDialer) setBlock(ch chan struct{}) {
	d.mu.Lock()
	d.block = ch
	d.mu.Unlock()
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

type fakeConn struct {
	mu        sync.Mutex
	written   []Inbound
	in        chan Outbound
	readErr   chan error
	closed    chan struct{}
	closeOnce sync.Once
	confirm   bool
	reject    *Error
}

func (c *fakeConn) Read(ctx context.Context) (Outbound, error) {
	select {
	case out := <-c.in:
		return out, nil
	case err := <-c.readErr:
		return Outbound{}, err
	case <-c.closed:
		return Outbound{}, errFakeClosed
	case <-ctx.Done():
		return Outbound{}, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, in Inbound) error {
	select {
	case <-c.closed:
		return errFakeClosed
	default:
	}
	c.mu.Lock()
	c.written = append(c.written, in)
	c.mu.Unlock()

	if in.Type == inboundHello {
		switch {
		case c.reject != nil:
			c.in <- Outbound{Type: outboundError, Error: c.reject}
		case c.confirm:
			c.in <- Outbound{Type: outboundConnected}
		}
	}
	return nil
}

func (c *fakeConn) Decode(data RawData, v any) error { return json.Unmarshal(data, v) }

func (c *fakeConn) Ping(context.Context) error { return nil }

func (c *fakeConn) Close(string) error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// drop simulates the transport failing underneath the client.
func (c *fakeConn) drop(err error) { c.readErr <- err }

func (c *fakeConn) push(out Outbound) { c.in <- out }

func (c *fakeConn) frames(typ string) []Inbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Inbound
	for _, in := range c.written {
		if in.Type == typ {
			out = append(out, in)
		}
	}
	return out
}

// joins returns the conversation ids of every subscribe frame written.
func (c *fakeConn) joins() []string {
	var ids []string
	for _, in := range c.frames(inboundJoin) {
		ids = append(ids, in.Data.(ConversationPayload).ConversationID)
	}
	return ids
}

func eventFrame(t *testing.T, ev Event) Outbound {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	return Outbound{Type: outboundEvent, Event: ev.Kind(), Data: data}
}

func quietLogger() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return NewLogrusLogger(l)
}

func testConfig(d Dialer) Config {
	cfg := DefaultConfig()
	cfg.Dialer = d
	cfg.User = "alice"
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.PingInterval = 0
	cfg.ReconnectInterval = time.Millisecond
	cfg.MaxReconnectDelay = 5 * time.Millisecond
	cfg.MaxReconnectTries = 3
	cfg.AckTimeout = 0
	return cfg
}

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	c := NewClient(cfg)
	c.SetLogger(quietLogger())
	t.Cleanup(func() { _ = c.Disconnect() })
	return c
}
