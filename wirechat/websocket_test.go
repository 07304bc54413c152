package wirechat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-sync/wirechat/internal"
)

// chatServer confirms any session with a token, acks every send as srv-1
// and immediately reports it delivered.
func chatServer(t *testing.T, codec internal.Codec, joined chan<- string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer ws.CloseNow()
		ctx := r.Context()

		read := func() map[string]any {
			_, data, err := ws.Read(ctx)
			if err != nil {
				return nil
			}
			var m map[string]any
			if err := codec.Unmarshal(data, &m); err != nil {
				return nil
			}
			return m
		}
		write := func(v any) {
			data, err := codec.Marshal(v)
			if err != nil {
				return
			}
			_ = ws.Write(ctx, codec.MessageType(), data)
		}

		hello := read()
		if hello == nil || hello["type"] != inboundHello {
			return
		}
		data, _ := hello["data"].(map[string]any)
		if data["token"] == "" || data["token"] == nil {
			write(map[string]any{"type": "error", "error": map[string]any{"code": "unauthorized", "msg": "no token"}})
			return
		}
		write(map[string]any{"type": "connected", "data": map[string]any{"session_id": "sess-1", "user_id": "alice"}})

		for {
			in := read()
			if in == nil {
				return
			}
			data, _ := in["data"].(map[string]any)
			switch in["type"] {
			case inboundJoin:
				id, _ := data["conversation_id"].(string)
				joined <- id
			case inboundSend:
				write(map[string]any{"type": "ack", "data": map[string]any{"local_id": data["local_id"], "server_id": "srv-1", "ts": 1700000000000}})
				write(map[string]any{"type": "event", "event": "message.delivered", "data": map[string]any{"server_id": "srv-1"}})
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWebsocketRoundTrip(t *testing.T) {
	for _, codec := range []internal.Codec{internal.JSON, internal.CBOR} {
		t.Run(codec.Name(), func(t *testing.T) {
			joined := make(chan string, 4)
			srv := chatServer(t, codec, joined)

			cfg := DefaultConfig()
			cfg.URL = "ws" + strings.TrimPrefix(srv.URL, "http")
			cfg.User = "alice"
			cfg.Codec = codec.Name()
			cfg.HandshakeTimeout = 2 * time.Second
			c := newTestClient(t, cfg)
			r := c.NewReconciler()
			t.Cleanup(r.Close)

			require.NoError(t, c.Join("conv-1"))
			require.NoError(t, c.Connect(context.Background(), "token"))

			select {
			case id := <-joined:
				assert.Equal(t, "conv-1", id)
			case <-time.After(2 * time.Second):
				t.Fatal("server never saw the join")
			}

			l := r.BeginSend("conv-1", "hello over the wire", "")
			require.Eventually(t, func() bool {
				m, _ := r.Message(l)
				return m.State == DeliveryDelivered
			}, 2*time.Second, 10*time.Millisecond)

			m, _ := r.Message(l)
			assert.Equal(t, "srv-1", m.ServerID)
			assert.Equal(t, int64(1700000000000), m.Timestamp.UnixMilli())
		})
	}
}

func TestWebsocketEmptyURL(t *testing.T) {
	c := newTestClient(t, DefaultConfig())
	err := c.Connect(context.Background(), "token")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
