package realtime

import (
	"encoding/json"

	"github.com/npezzotti/go-forumsync/internal/types"
)

type EventName string

// Envelope is the frame exchanged with the backend in both directions.
type Envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event binds an inbound event name to its payload type.
type Event[T any] struct {
	Name EventName
}

// Command binds an outbound event name to its payload type.
type Command[T any] struct {
	Name EventName
}

var (
	UserJoined         = Event[UserJoinedPayload]{Name: "user_joined"}
	UserLeft           = Event[UserLeftPayload]{Name: "user_left"}
	OnlineUsers        = Event[OnlineUsersPayload]{Name: "online_users"}
	UserStatusChanged  = Event[StatusChangedPayload]{Name: "user_status_changed"}
	UserTyping         = Event[TypingPayload]{Name: "user_typing"}
	ChatMessage        = Event[types.Message]{Name: "chat_message"}
	MessageDeleted     = Event[MessageDeletedPayload]{Name: "message_deleted"}
	PrivateMessage     = Event[PrivateMessagePayload]{Name: "private_message"}
	PrivateMessageSent = Event[PrivateMessagePayload]{Name: "private_message_sent"}
	MessageRead        = Event[MessageReadPayload]{Name: "message_read"}
	ConversationRead   = Event[ConversationReadPayload]{Name: "conversation_read"}
	NewNotification    = Event[types.Notification]{Name: "notification"}
	ServerError        = Event[ErrorPayload]{Name: "error"}
)

var (
	SendMessage          = Command[SendMessageCmd]{Name: "send_message"}
	DeleteMessage        = Command[DeleteMessageCmd]{Name: "delete_message"}
	SendPrivateMessage   = Command[SendPrivateMessageCmd]{Name: "send_private_message"}
	MarkMessageRead      = Command[MarkMessageReadCmd]{Name: "mark_message_read"}
	MarkConversationRead = Command[MarkConversationReadCmd]{Name: "mark_conversation_read"}
	GetOnlineUsers       = Command[struct{}]{Name: "get_online_users"}
	TypingStart          = Command[TypingCmd]{Name: "typing_start"}
	TypingStop           = Command[TypingCmd]{Name: "typing_stop"}
	UpdateStatus         = Command[UpdateStatusCmd]{Name: "update_status"}
	Ping                 = Command[PingCmd]{Name: "ping"}
)

type UserJoinedPayload struct {
	User      types.Participant `json:"user"`
	Timestamp types.Timestamp   `json:"timestamp"`
}

type UserLeftPayload struct {
	UserId      int             `json:"user_id"`
	DisplayName string          `json:"display_name,omitempty"`
	Timestamp   types.Timestamp `json:"timestamp"`
}

type OnlineUsersPayload struct {
	Users []types.Participant `json:"users"`
}

type StatusChangedPayload struct {
	UserId int          `json:"user_id"`
	Status types.Status `json:"status"`
}

// TypingPayload reports typing activity. PeerId is zero for the public room.
type TypingPayload struct {
	UserId      int    `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	PeerId      int    `json:"peer_id,omitempty"`
	Typing      bool   `json:"typing"`
}

type MessageDeletedPayload struct {
	MessageId types.FlexId `json:"message_id"`
}

type PrivateMessagePayload struct {
	Message     types.Message `json:"message"`
	SenderId    int           `json:"sender_id"`
	RecipientId int           `json:"recipient_id"`
	ClientId    string        `json:"client_id,omitempty"`
}

// EchoClientId returns the client id the sender attached, wherever the
// backend put it.
func (p PrivateMessagePayload) EchoClientId() string {
	if p.ClientId != "" {
		return p.ClientId
	}
	return p.Message.ClientId
}

type MessageReadPayload struct {
	MessageId types.FlexId `json:"message_id"`
	ReaderId  int          `json:"reader_id"`
}

type ConversationReadPayload struct {
	UserId int `json:"user_id"`
	Count  int `json:"count"`
}

type ErrorPayload struct {
	Code     string    `json:"code,omitempty"`
	Message  string    `json:"message"`
	Event    EventName `json:"event,omitempty"`
	ClientId string    `json:"client_id,omitempty"`
}

type SendMessageCmd struct {
	Content   string `json:"content"`
	ReplyToId string `json:"reply_to_id,omitempty"`
	ClientId  string `json:"client_id"`
}

type DeleteMessageCmd struct {
	MessageId string `json:"message_id"`
}

type SendPrivateMessageCmd struct {
	RecipientId int    `json:"recipient_id"`
	Content     string `json:"content"`
	ClientId    string `json:"client_id"`
}

type MarkMessageReadCmd struct {
	MessageId string `json:"message_id"`
}

type MarkConversationReadCmd struct {
	UserId int `json:"user_id"`
}

type TypingCmd struct {
	PeerId int `json:"peer_id,omitempty"`
}

type UpdateStatusCmd struct {
	Status types.Status `json:"status"`
}

type PingCmd struct {
	Timestamp int64 `json:"timestamp"`
}

// Emitter sends outbound events. Implemented by Transport.
type Emitter interface {
	Emit(name EventName, payload any) bool
}

// Send emits a typed command.
func Send[T any](e Emitter, cmd Command[T], payload T) bool {
	return e.Emit(cmd.Name, payload)
}
