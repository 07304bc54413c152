package wirechat

import (
	"context"
	"errors"
	"io"
	"net/url"

	"github.com/coder/websocket"

	"github.com/vovakirdan/wirechat-sync/wirechat/internal"
)

// Dialer opens transport connections.
type Dialer interface {
	Dial(ctx context.Context, cfg *Config) (Conn, error)
}

// Conn is one framed duplex transport connection.
type Conn interface {
	Read(ctx context.Context) (Outbound, error)
	Write(ctx context.Context, in Inbound) error
	// Decode unmarshals a payload read from this connection.
	Decode(data RawData, v any) error
	Ping(ctx context.Context) error
	Close(reason string) error
}

// WebsocketDialer dials cfg.URL with coder/websocket.
type WebsocketDialer struct {
	Options *websocket.DialOptions
}

func (d WebsocketDialer) Dial(ctx context.Context, cfg *Config) (Conn, error) {
	if cfg.URL == "" {
		return nil, NewError(ErrorInvalidConfig, "empty URL")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, WrapError(ErrorInvalidConfig, "parse URL", err)
	}
	codec, err := internal.CodecByName(cfg.Codec)
	if err != nil {
		return nil, WrapError(ErrorInvalidConfig, "codec", err)
	}

	ws, _, err := websocket.Dial(ctx, u.String(), d.Options)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: internal.NewConn(ws, codec, cfg.ReadTimeout, cfg.WriteTimeout)}, nil
}

type wsConn struct {
	conn *internal.Conn
}

func (c *wsConn) Read(ctx context.Context) (Outbound, error) {
	var out Outbound
	err := c.conn.Read(ctx, &out)
	return out, err
}

func (c *wsConn) Write(ctx context.Context, in Inbound) error {
	return c.conn.Write(ctx, in)
}

func (c *wsConn) Decode(data RawData, v any) error {
	return c.conn.Codec().Unmarshal(data, v)
}

func (c *wsConn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *wsConn) Close(reason string) error {
	return c.conn.Close(websocket.StatusNormalClosure, reason)
}

func isExpectedDisconnect(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx != nil && ctx.Err() != nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	return false
}

// isRemoteClose reports whether the peer ended the connection cleanly.
func isRemoteClose(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	default:
		return false
	}
}
