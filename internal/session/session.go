package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/npezzotti/go-forumsync/internal/api"
	"github.com/npezzotti/go-forumsync/internal/auth"
	"github.com/npezzotti/go-forumsync/internal/config"
	"github.com/npezzotti/go-forumsync/internal/conversation"
	"github.com/npezzotti/go-forumsync/internal/presence"
	"github.com/npezzotti/go-forumsync/internal/realtime"
	"github.com/npezzotti/go-forumsync/internal/stats"
	"github.com/npezzotti/go-forumsync/internal/types"
	"github.com/npezzotti/go-forumsync/internal/unread"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	ErrLoggedOut      = errors.New("session logged out")
	ErrInvalidContent = errors.New("invalid message content")
	ErrTransportDown  = errors.New("transport failed")
)

// Notice is a transient message for the user, raised by server errors and
// by a connection that could not be recovered.
type Notice struct {
	Code     string
	Message  string
	Event    realtime.EventName
	ClientId string
	At       time.Time
}

// Session is the real-time state of one authenticated user. It is created
// once the credential is known and torn down by Logout.
type Session struct {
	log   *zap.Logger
	cfg   *config.Config
	cred  *auth.Credential
	stats stats.StatsProvider

	api       *api.Client
	router    *realtime.Router
	transport *realtime.Transport
	roster    *presence.Roster
	typing    *presence.Typing
	store     *conversation.Store
	unread    *unread.Counter
	core      *realtime.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	keepalive sync.Once
	loggedOut atomic.Bool

	mu             sync.Mutex
	views          []*realtime.Subscription
	typingLimiters map[conversation.Key]*rate.Limiter

	notices listeners[Notice]
	states  listeners[realtime.State]
}

func New(cfg *config.Config, cred *auth.Credential, l *zap.Logger, s stats.StatsProvider) (*Session, error) {
	if cred == nil {
		return nil, auth.ErrNoCredential
	}

	l = l.With(zap.Int("user_id", cred.UserId()))

	client, err := api.NewClient(l.Named("api"), cfg.ServerURL, cred)
	if err != nil {
		return nil, fmt.Errorf("api client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		log:            l,
		cfg:            cfg,
		cred:           cred,
		stats:          s,
		api:            client,
		router:         realtime.NewRouter(l.Named("router"), s),
		roster:         presence.NewRoster(),
		typing:         presence.NewTyping(presence.DefaultTypingTTL),
		store:          conversation.NewStore(l.Named("conversation"), s),
		ctx:            ctx,
		cancel:         cancel,
		typingLimiters: make(map[conversation.Key]*rate.Limiter),
	}
	sess.unread = unread.NewCounter(l.Named("unread"), client)

	// registered before any view so views observe updated state
	sess.core = sess.subscribeCore()

	sess.transport = realtime.NewTransport(l.Named("transport"), s, sess.router, realtime.Options{
		URL:            cfg.WebsocketURL(),
		ConnectTimeout: cfg.ConnectTimeout,
		MaxAttempts:    cfg.MaxReconnectAttempts,
		RetryDelay:     cfg.ReconnectDelay,
		OnConnected:    sess.onConnected,
		OnStateChange:  sess.onStateChange,
		OnError:        sess.onTransportError,
	})

	return sess, nil
}

// Start connects the transport. Calling it again after a failure retries
// the connection.
func (s *Session) Start(ctx context.Context) error {
	if s.loggedOut.Load() {
		return ErrLoggedOut
	}

	s.keepalive.Do(func() {
		if s.cfg.KeepaliveInterval <= 0 {
			return
		}
		s.wg.Add(1)
		go s.keepaliveLoop(s.cfg.KeepaliveInterval)
	})

	if err := s.transport.Connect(ctx, s.cred); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// Logout disconnects, removes every subscription and destroys the
// credential. It is idempotent.
func (s *Session) Logout() {
	if s.loggedOut.Swap(true) {
		return
	}

	s.log.Info("logging out")
	s.cancel()
	s.transport.Disconnect()

	s.mu.Lock()
	views := s.views
	s.views = nil
	s.mu.Unlock()
	for _, v := range views {
		v.Close()
	}
	s.core.Close()

	s.wg.Wait()
	s.store.FailAll(ErrLoggedOut)
	s.cred.Destroy()
}

// Subscribe registers a view. Its handlers run after the session's own
// state updates, and it is closed on Logout if the view has not closed it.
func (s *Session) Subscribe(feature string) *realtime.Subscription {
	sub := s.router.Subscribe(feature)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loggedOut.Load() {
		sub.Close()
		return sub
	}
	s.views = append(slices.DeleteFunc(s.views, (*realtime.Subscription).Closed), sub)
	return sub
}

func (s *Session) OnNotice(fn func(Notice)) func() {
	return s.notices.add(fn)
}

func (s *Session) OnStateChange(fn func(realtime.State)) func() {
	return s.states.add(fn)
}

func (s *Session) UserId() int {
	return s.cred.UserId()
}

func (s *Session) State() realtime.State {
	return s.transport.State()
}

func (s *Session) Router() *realtime.Router {
	return s.router
}

func (s *Session) Roster() *presence.Roster {
	return s.roster
}

func (s *Session) Typing() *presence.Typing {
	return s.typing
}

func (s *Session) Conversations() *conversation.Store {
	return s.store
}

func (s *Session) Unread() *unread.Counter {
	return s.unread
}

func (s *Session) onConnected() {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.ConnectTimeout)
	defer cancel()

	if err := s.unread.Resync(ctx); err != nil {
		s.log.Warn("unread resync failed", zap.Error(err))
		if api.StatusCode(err) == http.StatusUnauthorized {
			s.notices.emit(Notice{
				Code:    "unauthorized",
				Message: "the session token was rejected, log in again",
				At:      types.Now(),
			})
		}
	}
	if !realtime.Send(s.transport, realtime.GetOnlineUsers, struct{}{}) {
		s.log.Warn("failed to request presence snapshot")
	}
}

func (s *Session) onStateChange(state realtime.State, err error) {
	if state == realtime.StateFailed {
		n := s.store.FailAll(fmt.Errorf("%w: %w", ErrTransportDown, err))
		s.log.Error("connection failed", zap.Int("failed_pending", n), zap.Error(err))
		s.notices.emit(Notice{
			Code:    "connection_failed",
			Message: "connection to the server was lost",
			At:      types.Now(),
		})
	}
	s.states.emit(state)
}

func (s *Session) onTransportError(err error) {
	s.log.Warn("transport error", zap.Error(err))
}

func (s *Session) keepaliveLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.transport.State() != realtime.StateConnected {
				continue
			}
			realtime.Send(s.transport, realtime.Ping, realtime.PingCmd{Timestamp: time.Now().UnixMilli()})
		case <-s.ctx.Done():
			return
		}
	}
}

// Status is a point in time summary of the session.
type Status struct {
	State         string       `json:"state"`
	UserId        int          `json:"user_id"`
	Username      string       `json:"username,omitempty"`
	Members       int          `json:"members"`
	Online        int          `json:"online"`
	RosterReady   bool         `json:"roster_ready"`
	Unread        types.Counts `json:"unread"`
	Conversations []string     `json:"conversations"`
	Pending       int          `json:"pending"`
	TokenExpires  *time.Time   `json:"token_expires_at,omitempty"`
}

func (s *Session) Status() any {
	return s.Snapshot()
}

func (s *Session) Snapshot() Status {
	st := Status{
		State:         s.transport.State().String(),
		UserId:        s.cred.UserId(),
		Username:      s.cred.Username(),
		Members:       s.roster.Len(),
		Online:        len(s.roster.Online()),
		RosterReady:   s.roster.Ready(),
		Unread:        s.unread.Snapshot(),
		Conversations: []string{},
	}
	if exp := s.cred.ExpiresAt(); !exp.IsZero() {
		st.TokenExpires = &exp
	}
	for _, k := range s.store.Keys() {
		st.Conversations = append(st.Conversations, k.String())
		st.Pending += s.store.Get(k).PendingCount()
	}
	return st
}

// Healthy reports an error once the transport gave up or the session
// ended.
func (s *Session) Healthy() error {
	if s.loggedOut.Load() {
		return ErrLoggedOut
	}
	if s.transport.State() == realtime.StateFailed {
		return ErrTransportDown
	}
	return nil
}
