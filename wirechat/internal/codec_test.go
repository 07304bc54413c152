package internal

import (
	"testing"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Type string  `json:"type"`
	Data RawData `json:"data,omitempty"`
}

type payload struct {
	ConversationID string `json:"conversation_id"`
	TS             int64  `json:"ts"`
}

func TestCodecKeepsPayloadRaw(t *testing.T) {
	for _, codec := range []Codec{JSON, CBOR} {
		t.Run(codec.Name(), func(t *testing.T) {
			inner, err := codec.Marshal(payload{ConversationID: "conv-1", TS: 42})
			require.NoError(t, err)

			frame, err := codec.Marshal(envelope{Type: "event", Data: inner})
			require.NoError(t, err)

			var got envelope
			require.NoError(t, codec.Unmarshal(frame, &got))
			assert.Equal(t, "event", got.Type)

			var p payload
			require.NoError(t, codec.Unmarshal(got.Data, &p))
			assert.Equal(t, payload{ConversationID: "conv-1", TS: 42}, p)
		})
	}
}

func TestCodecByName(t *testing.T) {
	c, err := CodecByName("")
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, c.MessageType())

	c, err = CodecByName("cbor")
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageBinary, c.MessageType())

	_, err = CodecByName("xml")
	assert.Error(t, err)
}
