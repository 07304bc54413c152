package wirechat

import "time"

// EventKind names an event delivered through the Registry.
type EventKind string

const (
	KindMessageReceived  EventKind = "message.received"
	KindMessageDelivered EventKind = "message.delivered"
	KindMessageRead      EventKind = "message.read"
	KindTypingStarted    EventKind = "typing.start"
	KindTypingStopped    EventKind = "typing.stop"
	KindUserOnline       EventKind = "user.online"
	KindUserOffline      EventKind = "user.offline"
	KindConnectionLost   EventKind = "connection.lost"

	KindSendAcked    EventKind = "message.ack"
	KindSendRejected EventKind = "message.rejected"
	KindStateChanged EventKind = "connection.state"
	KindError        EventKind = "error"
)

// Event is implemented by every payload the Registry dispatches. Each
// concrete type maps to exactly one kind.
type Event interface {
	Kind() EventKind
}

// MessageReceived carries a full message record. LocalID is set only on
// the author's own connections, echoing the id it was sent with.
type MessageReceived struct {
	ConversationID string `json:"conversation_id"`
	ServerID       string `json:"server_id"`
	AuthorID       string `json:"author_id"`
	Content        string `json:"content"`
	Type           string `json:"type,omitempty"`
	TS             int64  `json:"ts"`
	LocalID        string `json:"local_id,omitempty"`
	ReplyTo        string `json:"reply_to,omitempty"`
}

func (MessageReceived) Kind() EventKind { return KindMessageReceived }

// Time returns the server timestamp.
func (e MessageReceived) Time() time.Time { return time.UnixMilli(e.TS) }

// MessageDelivered reports that a message reached a recipient's device.
type MessageDelivered struct {
	ServerID string `json:"server_id"`
}

func (MessageDelivered) Kind() EventKind { return KindMessageDelivered }

// MessageRead reports that a recipient viewed a message.
type MessageRead struct {
	ServerID string `json:"server_id"`
	ReaderID string `json:"reader_id"`
}

func (MessageRead) Kind() EventKind { return KindMessageRead }

// TypingStarted is emitted when a user starts typing in a conversation.
type TypingStarted struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
}

func (TypingStarted) Kind() EventKind { return KindTypingStarted }

// TypingStopped is emitted when a user stops typing in a conversation.
type TypingStopped struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
}

func (TypingStopped) Kind() EventKind { return KindTypingStopped }

// UserOnline is emitted when a user comes online.
type UserOnline struct {
	UserID string `json:"user_id"`
}

func (UserOnline) Kind() EventKind { return KindUserOnline }

// UserOffline is emitted when a user goes offline.
type UserOffline struct {
	UserID string `json:"user_id"`
}

func (UserOffline) Kind() EventKind { return KindUserOffline }

// ConnectionLost is emitted by the client itself once automatic
// reconnection gives up.
type ConnectionLost struct {
	Attempts int
	Err      error
}

func (ConnectionLost) Kind() EventKind { return KindConnectionLost }

// SendAcked is the server's creation acknowledgment for a sent message.
type SendAcked struct {
	LocalID  string `json:"local_id"`
	ServerID string `json:"server_id"`
	TS       int64  `json:"ts"`
}

func (SendAcked) Kind() EventKind { return KindSendAcked }

// Time returns the authoritative server timestamp.
func (e SendAcked) Time() time.Time { return time.UnixMilli(e.TS) }

// SendRejected reports that the server refused a sent message.
type SendRejected struct {
	LocalID string
	Err     *WirechatError
}

func (SendRejected) Kind() EventKind { return KindSendRejected }

// StateChanged represents a connection state change.
type StateChanged struct {
	OldState ConnectionState
	NewState ConnectionState
	Error    error // Optional error that caused the state change
}

func (StateChanged) Kind() EventKind { return KindStateChanged }

// ErrorOccurred carries server errors not tied to a message and frames
// that could not be decoded.
type ErrorOccurred struct {
	Err error
}

func (ErrorOccurred) Kind() EventKind { return KindError }
