package wirechat

import "github.com/vovakirdan/wirechat-sync/wirechat/internal"

const (
	ProtocolVersion = 1

	inboundHello       = "hello"
	inboundJoin        = "join:conversation"
	inboundLeave       = "leave:conversation"
	inboundSend        = "message.send"
	inboundTypingStart = "typing.start"
	inboundTypingStop  = "typing.stop"
	inboundRead        = "message.read"

	outboundConnected = "connected"
	outboundEvent     = "event"
	outboundAck       = "ack"
	outboundError     = "error"
)

// RawData is an undecoded payload in the connection's codec.
type RawData = internal.RawData

// Inbound represents the envelope from client to server.
type Inbound struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Outbound is the envelope server -> client.
type Outbound struct {
	Type  string    `json:"type"`
	Event EventKind `json:"event,omitempty"`
	Data  RawData   `json:"data,omitempty"`
	Error *Error    `json:"error,omitempty"`
}

// HelloPayload initiates the session.
type HelloPayload struct {
	Protocol int    `json:"protocol,omitempty"`
	Token    string `json:"token,omitempty"`
	User     string `json:"user,omitempty"`
}

// ConnectedPayload confirms the session.
type ConnectedPayload struct {
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

// ConversationPayload subscribes to or unsubscribes from a conversation.
type ConversationPayload struct {
	ConversationID string `json:"conversation_id"`
}

// SendPayload publishes a message. LocalID is echoed back in the ack.
type SendPayload struct {
	ConversationID string `json:"conversation_id"`
	LocalID        string `json:"local_id"`
	Content        string `json:"content"`
	Type           string `json:"type,omitempty"`
	ReplyTo        string `json:"reply_to,omitempty"`
}

// ReadPayload acknowledges having read a message.
type ReadPayload struct {
	ConversationID string `json:"conversation_id"`
	ServerID       string `json:"server_id"`
}

// Error describes a protocol error. Ref names the local id of a rejected
// send, when there is one.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Ref  string `json:"ref,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Msg
}
