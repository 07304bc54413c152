package internal

import (
	"context"
	"time"

	"github.com/coder/websocket"
)

// Conn wraps websocket.Conn with timeouts and a frame codec.
type Conn struct {
	ws           *websocket.Conn
	codec        Codec
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func NewConn(ws *websocket.Conn, codec Codec, readTimeout, writeTimeout time.Duration) *Conn {
	if codec == nil {
		codec = JSON
	}
	return &Conn{ws: ws, codec: codec, readTimeout: readTimeout, writeTimeout: writeTimeout}
}

// Codec returns the codec frames are encoded with.
func (c *Conn) Codec() Codec { return c.codec }

func (c *Conn) Read(ctx context.Context, v any) error {
	if c.readTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.readTimeout)
		defer cancel()
	}
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return err
	}
	return c.codec.Unmarshal(data, v)
}

func (c *Conn) Write(ctx context.Context, v any) error {
	data, err := c.codec.Marshal(v)
	if err != nil {
		return err
	}
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	return c.ws.Write(ctx, c.codec.MessageType(), data)
}

// Ping blocks until the peer answers or ctx expires. A reader must be
// running for the pong to be observed.
func (c *Conn) Ping(ctx context.Context) error {
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	return c.ws.Ping(ctx)
}

func (c *Conn) Close(code websocket.StatusCode, reason string) error {
	return c.ws.Close(code, reason)
}
