package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/npezzotti/go-forumsync/internal/conversation"
	"github.com/npezzotti/go-forumsync/internal/realtime"
	"github.com/npezzotti/go-forumsync/internal/types"
	"github.com/npezzotti/go-forumsync/internal/unread"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var validate = validator.New()

type outboundContent struct {
	Content string `validate:"required,max=2000"`
}

func validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if err := validate.Struct(outboundContent{Content: content}); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return "", fmt.Errorf("%w: failed on %q", ErrInvalidContent, verrs[0].Tag())
		}
		return "", fmt.Errorf("%w: %w", ErrInvalidContent, err)
	}
	return content, nil
}

// SendChat posts content to the public room. The message is shown at once
// as pending and resolves when the server echoes it back.
func (s *Session) SendChat(content, replyToId string) (*conversation.Pending, error) {
	content, err := validateContent(content)
	if err != nil {
		return nil, err
	}

	l := s.store.Get(conversation.PublicRoom)
	p, msg := l.AddPending(s.localMessage(content, replyToId))

	ok := realtime.Send(s.transport, realtime.SendMessage, realtime.SendMessageCmd{
		Content:   content,
		ReplyToId: replyToId,
		ClientId:  msg.ClientId,
	})
	if !ok {
		l.Fail(msg.Id, realtime.ErrNotConnected)
	}

	return p, nil
}

// SendPrivate sends content to peer.
func (s *Session) SendPrivate(peer int, content string) (*conversation.Pending, error) {
	if peer <= 0 || peer == s.UserId() {
		return nil, fmt.Errorf("invalid recipient %d", peer)
	}
	content, err := validateContent(content)
	if err != nil {
		return nil, err
	}

	l := s.store.Get(conversation.Peer(peer))
	p, msg := l.AddPending(s.localMessage(content, ""))

	ok := realtime.Send(s.transport, realtime.SendPrivateMessage, realtime.SendPrivateMessageCmd{
		RecipientId: peer,
		Content:     content,
		ClientId:    msg.ClientId,
	})
	if !ok {
		l.Fail(msg.Id, realtime.ErrNotConnected)
	}

	return p, nil
}

func (s *Session) localMessage(content, replyToId string) types.Message {
	return types.Message{
		Content:           content,
		AuthorId:          s.UserId(),
		AuthorDisplayName: s.cred.Username(),
		CreatedAt:         types.Now(),
		Kind:              types.KindText,
		ReplyToId:         replyToId,
	}
}

// DeleteChat asks the server to delete a public message. The entry is
// removed when message_deleted arrives.
func (s *Session) DeleteChat(id string) error {
	if conversation.IsTempId(id) {
		if s.store.Get(conversation.PublicRoom).Remove(id) {
			return nil
		}
	}
	if !realtime.Send(s.transport, realtime.DeleteMessage, realtime.DeleteMessageCmd{MessageId: id}) {
		return realtime.ErrNotConnected
	}
	return nil
}

// MarkMessageRead reports a private message as read and decrements the
// unread message count. The REST API is used while the socket is down.
func (s *Session) MarkMessageRead(ctx context.Context, id string) error {
	if !realtime.Send(s.transport, realtime.MarkMessageRead, realtime.MarkMessageReadCmd{MessageId: id}) {
		if err := s.api.MarkMessageRead(ctx, id); err != nil {
			return err
		}
	}
	s.unread.Decrement(unread.Messages, 1)
	return nil
}

// MarkConversationRead marks every message from peer read through the REST
// API and decrements the unread count by the number marked.
func (s *Session) MarkConversationRead(ctx context.Context, peer int) (int, error) {
	n, err := s.api.MarkConversationRead(ctx, peer)
	if err != nil {
		return 0, err
	}
	s.unread.Decrement(unread.Messages, n)
	return n, nil
}

// LoadConversation merges the recent history with peer into its log.
func (s *Session) LoadConversation(ctx context.Context, peer int) (int, error) {
	msgs, err := s.api.ConversationHistory(ctx, peer, s.cfg.HistoryLimit)
	if err != nil {
		return 0, err
	}
	added := s.store.Get(conversation.Peer(peer)).Merge(msgs)
	s.log.Debug("loaded conversation", zap.Int("peer", peer), zap.Int("added", added))
	return added, nil
}

// LoadChatHistory merges the recent public room history.
func (s *Session) LoadChatHistory(ctx context.Context) (int, error) {
	msgs, err := s.api.ChatHistory(ctx, s.cfg.HistoryLimit)
	if err != nil {
		return 0, err
	}
	return s.store.Get(conversation.PublicRoom).Merge(msgs), nil
}

// RequestPresence asks the server for a fresh roster snapshot.
func (s *Session) RequestPresence() error {
	if !realtime.Send(s.transport, realtime.GetOnlineUsers, struct{}{}) {
		return realtime.ErrNotConnected
	}
	return nil
}

func (s *Session) SetStatus(status types.Status) error {
	if types.ParseStatus(string(status)) != status {
		return fmt.Errorf("unknown status %q", status)
	}
	if !realtime.Send(s.transport, realtime.UpdateStatus, realtime.UpdateStatusCmd{Status: status}) {
		return realtime.ErrNotConnected
	}
	if _, ok := s.roster.Get(s.UserId()); ok {
		s.roster.SetStatus(s.UserId(), status)
	}
	return nil
}

// SetTyping reports typing activity in a conversation. Starts are throttled
// per conversation; a stop is always sent. Returns whether an event was
// emitted.
func (s *Session) SetTyping(key conversation.Key, typing bool) bool {
	cmd := realtime.TypingCmd{PeerId: key.PeerId()}

	if !typing {
		s.mu.Lock()
		delete(s.typingLimiters, key)
		s.mu.Unlock()
		return realtime.Send(s.transport, realtime.TypingStop, cmd)
	}

	if !s.typingLimiter(key).Allow() {
		return false
	}
	return realtime.Send(s.transport, realtime.TypingStart, cmd)
}

func (s *Session) typingLimiter(key conversation.Key) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.typingLimiters[key]
	if !ok {
		limit := rate.Inf
		if s.cfg.TypingThrottle > 0 {
			limit = rate.Every(s.cfg.TypingThrottle)
		}
		l = rate.NewLimiter(limit, 1)
		s.typingLimiters[key] = l
	}
	return l
}
