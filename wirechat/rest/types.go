package rest

import (
	"time"

	"github.com/vovakirdan/wirechat-sync/wirechat"
)

// RegisterRequest is the request body for user registration.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginRequest is the request body for user login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse carries the credential handed to wirechat.Client.Connect.
type TokenResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id,omitempty"`
}

// ConversationKind distinguishes group conversations from direct ones.
type ConversationKind string

const (
	ConversationGroup  ConversationKind = "group"
	ConversationDirect ConversationKind = "direct"
)

// ConversationInfo is a conversation the user can join.
type ConversationInfo struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Kind      ConversationKind `json:"kind"`
	Members   []string         `json:"members,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// MessageInfo is one stored message from history.
type MessageInfo struct {
	ServerID       string    `json:"server_id"`
	ConversationID string    `json:"conversation_id"`
	AuthorID       string    `json:"author_id"`
	Body           string    `json:"body"`
	Type           string    `json:"type,omitempty"`
	ReplyTo        string    `json:"reply_to,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Event converts a history row into the event a live frame would carry,
// so history and live traffic go through the same reconciler path.
func (m MessageInfo) Event() wirechat.MessageReceived {
	return wirechat.MessageReceived{
		ConversationID: m.ConversationID,
		ServerID:       m.ServerID,
		AuthorID:       m.AuthorID,
		Content:        m.Body,
		Type:           m.Type,
		TS:             m.CreatedAt.UnixMilli(),
		ReplyTo:        m.ReplyTo,
	}
}

// MessagesResponse contains a page of messages, oldest first.
type MessagesResponse struct {
	Messages []MessageInfo `json:"messages"`
	HasMore  bool          `json:"has_more"`
}

// Events converts the page for wirechat.Reconciler.Seed.
func (r *MessagesResponse) Events() []wirechat.MessageReceived {
	out := make([]wirechat.MessageReceived, 0, len(r.Messages))
	for _, m := range r.Messages {
		out = append(out, m.Event())
	}
	return out
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
