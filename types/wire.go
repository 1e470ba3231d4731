package types

import (
	"encoding/json"
	"time"
)

// JSON-serialized WebsocketMessage is what is actually sent over the wire in
// both directions: an event name plus a raw payload.
type WebsocketMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Client -> server event names.
const (
	EventJoinChat          = "join_chat"
	EventLeaveChat         = "leave_chat"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventMarkAsRead        = "mark_as_read"
	EventJoinSession       = "join_session"
	EventLeaveSession      = "leave_session"
	EventCodeChange        = "code_change"
	EventCursorMove        = "cursor_move"
	EventUserTypingSession = "user_typing_session"
)

// Server -> client event names.
const (
	EventConnected         = "connected"
	EventError             = "error"
	EventUserOnline        = "user_online"
	EventUserOffline       = "user_offline"
	EventUserTyping        = "user_typing"
	EventMessageRead       = "message_read"
	EventNewMessage        = "new_message"
	EventMessageUpdated    = "message_updated"
	EventMessageDeleted    = "message_deleted"
	EventChatUpdated       = "chat_updated"
	EventNewNotification   = "new_notification"
	EventUserJoinedSession = "user_joined_session"
	EventUserLeftSession   = "user_left_session"
	EventCodeUpdated       = "code_updated"
	EventCursorUpdated     = "cursor_updated"
	EventSessionTyping     = "user_typing_session"
	EventSessionEnded      = "session_ended"
)

// Incoming payloads. Clients are untrusted, so these are decoded from a
// generic map via mapstructure and validated before any coordinator call.

type ChatRef struct {
	ChatId string `mapstructure:"chatId" json:"chatId"`
}

type MarkAsReadPayload struct {
	ChatId    string `mapstructure:"chatId" json:"chatId"`
	MessageId string `mapstructure:"messageId" json:"messageId"`
}

type SessionRef struct {
	SessionId string `mapstructure:"sessionId" json:"sessionId"`
}

type CodeChangePayload struct {
	SessionId      string `mapstructure:"sessionId" json:"sessionId"`
	Code           string `mapstructure:"code" json:"code"`
	CursorPosition *int   `mapstructure:"cursorPosition" json:"cursorPosition"`
}

type CursorMovePayload struct {
	SessionId      string `mapstructure:"sessionId" json:"sessionId"`
	CursorPosition int    `mapstructure:"cursorPosition" json:"cursorPosition"`
}

type SessionTypingPayload struct {
	SessionId string `mapstructure:"sessionId" json:"sessionId"`
	IsTyping  bool   `mapstructure:"isTyping" json:"isTyping"`
}

// Outgoing payloads.

type ConnectedPayload struct {
	User       *User     `json:"user"`
	ServerTime time.Time `json:"serverTime"`
}

type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}

type PresencePayload struct {
	UserId   string     `json:"userId"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

type TypingPayload struct {
	ChatId   string `json:"chatId"`
	UserId   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type MessageReadPayload struct {
	ChatId    string    `json:"chatId"`
	MessageId string    `json:"messageId"`
	UserId    string    `json:"userId"`
	ReadAt    time.Time `json:"readAt"`
}

type SessionPresencePayload struct {
	SessionId        string `json:"sessionId"`
	UserId           string `json:"userId"`
	ParticipantCount int    `json:"participantCount"`
}

type CodeUpdatedPayload struct {
	SessionId      string `json:"sessionId"`
	Code           string `json:"code"`
	Version        int64  `json:"version"`
	UserId         string `json:"userId"`
	CursorPosition int    `json:"cursorPosition"`
}

type CursorUpdatedPayload struct {
	SessionId      string `json:"sessionId"`
	UserId         string `json:"userId"`
	CursorPosition int    `json:"cursorPosition"`
}

type SessionEndedPayload struct {
	SessionId string    `json:"sessionId"`
	EndedAt   time.Time `json:"endedAt"`
}
