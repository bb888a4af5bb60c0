package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-forumsync/internal/conversation"
	"github.com/npezzotti/go-forumsync/internal/realtime"
	"github.com/npezzotti/go-forumsync/internal/types"
	"github.com/npezzotti/go-forumsync/internal/unread"
	"go.uber.org/zap"
)

// ServerError is an application error pushed by the backend.
type ServerError struct {
	Code    string
	Message string
	Event   realtime.EventName
}

func (e *ServerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
	}
	return "server error: " + e.Message
}

func (s *Session) subscribeCore() *realtime.Subscription {
	sub := s.router.Subscribe("session")

	realtime.On(sub, realtime.OnlineUsers, s.handleOnlineUsers)
	realtime.On(sub, realtime.UserJoined, s.handleUserJoined)
	realtime.On(sub, realtime.UserLeft, s.handleUserLeft)
	realtime.On(sub, realtime.UserStatusChanged, s.handleStatusChanged)
	realtime.On(sub, realtime.UserTyping, s.handleTyping)
	realtime.On(sub, realtime.ChatMessage, s.handleChatMessage)
	realtime.On(sub, realtime.MessageDeleted, s.handleMessageDeleted)
	realtime.On(sub, realtime.PrivateMessage, s.handlePrivateMessage)
	realtime.On(sub, realtime.PrivateMessageSent, s.handlePrivateMessageSent)
	realtime.On(sub, realtime.MessageRead, s.handleMessageRead)
	realtime.On(sub, realtime.ConversationRead, s.handleConversationRead)
	realtime.On(sub, realtime.NewNotification, s.handleNotification)
	realtime.On(sub, realtime.ServerError, s.handleServerError)

	return sub
}

func (s *Session) handleOnlineUsers(p realtime.OnlineUsersPayload) {
	s.roster.ApplySnapshot(p.Users)
	s.log.Debug("presence snapshot", zap.Int("online", len(p.Users)))
}

func (s *Session) handleUserJoined(p realtime.UserJoinedPayload) {
	s.roster.Join(p.User)
	if p.User.Id == s.UserId() {
		return
	}
	s.appendPresenceEntry(types.KindJoin, p.User.Id, p.User.DisplayName, p.Timestamp.Time)
}

func (s *Session) handleUserLeft(p realtime.UserLeftPayload) {
	name := p.DisplayName
	if u, ok := s.roster.Get(p.UserId); ok && name == "" {
		name = u.DisplayName
	}
	s.roster.Leave(p.UserId)
	s.typing.Stop(conversation.PublicRoom.PeerId(), p.UserId)
	if p.UserId == s.UserId() {
		return
	}
	s.appendPresenceEntry(types.KindLeave, p.UserId, name, p.Timestamp.Time)
}

func (s *Session) appendPresenceEntry(kind types.MessageKind, userId int, name string, at time.Time) {
	if at.IsZero() {
		at = types.Now()
	}
	verb := "joined"
	if kind == types.KindLeave {
		verb = "left"
	}

	s.store.Get(conversation.PublicRoom).Insert(types.Message{
		Id:                string(kind) + "-" + uuid.NewString(),
		Content:           name + " " + verb + " the chat",
		AuthorId:          userId,
		AuthorDisplayName: name,
		CreatedAt:         at,
		Kind:              kind,
		State:             types.Confirmed,
	})
}

func (s *Session) handleStatusChanged(p realtime.StatusChangedPayload) {
	if !s.roster.SetStatus(p.UserId, p.Status) {
		s.log.Debug("status change for unknown participant", zap.Int("participant", p.UserId))
	}
}

func (s *Session) handleTyping(p realtime.TypingPayload) {
	if p.UserId == s.UserId() {
		return
	}

	// a private typing event is keyed by the typist, our peer
	conv := conversation.PublicRoom.PeerId()
	if p.PeerId != 0 {
		conv = p.UserId
	}

	if p.Typing {
		s.typing.Start(conv, p.UserId, p.DisplayName)
	} else {
		s.typing.Stop(conv, p.UserId)
	}
}

func (s *Session) handleChatMessage(m types.Message) {
	s.store.Get(conversation.PublicRoom).Reconcile(m)
	s.typing.Stop(conversation.PublicRoom.PeerId(), m.AuthorId)
}

func (s *Session) handleMessageDeleted(p realtime.MessageDeletedPayload) {
	if !s.store.Get(conversation.PublicRoom).Remove(string(p.MessageId)) {
		s.log.Debug("delete for unknown message", zap.String("message_id", string(p.MessageId)))
	}
}

func (s *Session) handlePrivateMessage(p realtime.PrivateMessagePayload) {
	me := s.UserId()
	peer := p.SenderId
	if peer == me {
		peer = p.RecipientId
	}

	m := p.Message
	m.ClientId = p.EchoClientId()
	if m.AuthorId == 0 {
		m.AuthorId = p.SenderId
	}

	inserted := s.store.Get(conversation.Peer(peer)).Reconcile(m)
	s.typing.Stop(peer, p.SenderId)

	if inserted && p.SenderId != me {
		s.unread.Increment(unread.Messages)
	}
}

func (s *Session) handlePrivateMessageSent(p realtime.PrivateMessagePayload) {
	m := p.Message
	m.ClientId = p.EchoClientId()
	if m.AuthorId == 0 {
		m.AuthorId = s.UserId()
	}
	s.store.Get(conversation.Peer(p.RecipientId)).Reconcile(m)
}

func (s *Session) handleMessageRead(p realtime.MessageReadPayload) {
	s.log.Debug("message read", zap.String("message_id", string(p.MessageId)), zap.Int("reader_id", p.ReaderId))
}

func (s *Session) handleConversationRead(p realtime.ConversationReadPayload) {
	s.log.Debug("conversation read", zap.Int("peer", p.UserId), zap.Int("count", p.Count))
}

func (s *Session) handleNotification(n types.Notification) {
	if n.ActorId != 0 && n.ActorId == s.UserId() {
		return
	}
	s.unread.Increment(unread.Notifications)
}

func (s *Session) handleServerError(p realtime.ErrorPayload) {
	s.log.Warn("server error",
		zap.String("code", p.Code),
		zap.String("message", p.Message),
		zap.String("event", string(p.Event)),
		zap.String("client_id", p.ClientId))

	if p.ClientId != "" {
		s.store.Fail(p.ClientId, &ServerError{Code: p.Code, Message: p.Message, Event: p.Event})
	}

	s.notices.emit(Notice{
		Code:     p.Code,
		Message:  p.Message,
		Event:    p.Event,
		ClientId: p.ClientId,
		At:       types.Now(),
	})
}
