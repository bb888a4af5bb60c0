package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-forumsync/internal/stats"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

var (
	ErrNotConnected  = errors.New("not connected")
	ErrClosed        = errors.New("transport closed")
	ErrConnectFailed = errors.New("connect failed")
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Dispatcher receives inbound events in arrival order.
type Dispatcher interface {
	Dispatch(name EventName, data json.RawMessage)
}

// Authorizer provides the Authorization header for the handshake.
type Authorizer interface {
	Bearer() (string, error)
}

type Options struct {
	URL            string
	ConnectTimeout time.Duration
	// MaxAttempts bounds the dial attempts of one connect or reconnect.
	MaxAttempts int
	RetryDelay  time.Duration

	// OnConnected runs after every successful connect and reconnect, before
	// inbound events of the new connection are dispatched.
	OnConnected func()
	// OnStateChange reports every state transition.
	OnStateChange func(State, error)
	// OnError reports transport level errors. Application errors pushed by
	// the server arrive as the "error" event instead.
	OnError func(error)
}

// Transport owns the single websocket connection of a session.
type Transport struct {
	log        *zap.Logger
	stats      stats.StatsProvider
	dispatcher Dispatcher
	dialer     *websocket.Dialer
	opts       Options

	mu     sync.Mutex
	state  State
	auth   Authorizer
	conn   *websocket.Conn
	connId string
	send   chan []byte
	cancel context.CancelFunc
	done   chan struct{}
}

func NewTransport(l *zap.Logger, s stats.StatsProvider, d Dispatcher, opts Options) *Transport {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}

	for _, m := range []string{
		stats.Connects, stats.Reconnects, stats.ConnectFailures, stats.ActiveConns,
		stats.EventsReceived, stats.EventsSent, stats.EventsDropped,
	} {
		s.RegisterMetric(m)
	}

	return &Transport{
		log:        l,
		stats:      s,
		dispatcher: d,
		opts:       opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.ConnectTimeout,
		},
	}
}

func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connect opens the connection. It is a no-op when a connection is already
// open or being established, so at most one connection is live at a time.
func (t *Transport) Connect(ctx context.Context, auth Authorizer) error {
	t.mu.Lock()
	switch t.state {
	case StateConnecting, StateConnected, StateReconnecting:
		t.mu.Unlock()
		return nil
	}

	if t.cancel != nil {
		t.cancel()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.auth = auth
	t.cancel = cancel
	t.done = done
	t.state = StateConnecting
	t.mu.Unlock()
	t.notify(StateConnecting, nil)

	dialCtx, dialCancel := context.WithCancel(ctx)
	stop := context.AfterFunc(runCtx, dialCancel)
	conn, err := t.dialWithRetry(dialCtx)
	stop()
	dialCancel()

	if err != nil {
		close(done)
		if runCtx.Err() != nil {
			return ErrClosed
		}
		t.transition(StateFailed, err)
		t.reportError(err)
		return err
	}

	if !t.attach(runCtx, conn) {
		conn.Close()
		close(done)
		return ErrClosed
	}
	t.stats.Incr(stats.Connects)
	t.connected()

	go t.run(runCtx, conn, done)
	return nil
}

// Disconnect closes the connection and waits for the pumps to exit. It is
// idempotent. It must not be called from an event handler.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	if t.state == StateDisconnected && t.cancel == nil {
		t.mu.Unlock()
		return
	}

	// cancel under the lock so a concurrent attach observes it
	if t.cancel != nil {
		t.cancel()
	}
	done, conn := t.done, t.conn
	t.cancel, t.done = nil, nil
	wasActive := t.conn != nil
	t.clearLocked()
	t.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "logout"),
			time.Now().Add(writeWait))
		conn.Close()
	}
	if done != nil {
		<-done
	}
	if wasActive {
		t.stats.Decr(stats.ActiveConns)
	}

	t.transition(StateDisconnected, nil)
}

// Emit queues an outbound event. The event is dropped, and false returned,
// when no connection is open or the send queue is full.
func (t *Transport) Emit(name EventName, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		t.log.Error("failed to serialize payload", zap.String("event", string(name)), zap.Error(err))
		t.stats.Incr(stats.EventsDropped)
		return false
	}

	frame, err := json.Marshal(Envelope{Event: name, Data: data})
	if err != nil {
		t.log.Error("failed to serialize envelope", zap.String("event", string(name)), zap.Error(err))
		t.stats.Incr(stats.EventsDropped)
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateConnected || t.send == nil {
		t.log.Warn("dropping event, not connected",
			zap.String("event", string(name)),
			zap.Stringer("state", t.state))
		t.stats.Incr(stats.EventsDropped)
		return false
	}

	select {
	case t.send <- frame:
	default:
		t.log.Warn("dropping event, send queue is full", zap.String("event", string(name)))
		t.stats.Incr(stats.EventsDropped)
		return false
	}

	return true
}

func (t *Transport) attach(ctx context.Context, conn *websocket.Conn) bool {
	t.mu.Lock()
	if ctx.Err() != nil {
		t.mu.Unlock()
		return false
	}
	t.conn = conn
	t.connId = uuid.NewString()
	t.send = make(chan []byte, sendBufferSize)
	t.state = StateConnected
	connId := t.connId
	t.mu.Unlock()

	t.stats.Incr(stats.ActiveConns)
	t.log.Info("connected", zap.String("conn_id", connId), zap.String("url", t.opts.URL))
	t.notify(StateConnected, nil)
	return true
}

func (t *Transport) connected() {
	if t.opts.OnConnected != nil {
		t.opts.OnConnected()
	}
}

// detach forgets conn after it broke. Returns false if the transport was
// disconnected meanwhile.
func (t *Transport) detach(ctx context.Context, conn *websocket.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ctx.Err() != nil || t.conn != conn {
		return false
	}
	t.conn = nil
	t.send = nil
	t.stats.Decr(stats.ActiveConns)
	return true
}

func (t *Transport) clearLocked() {
	t.conn = nil
	t.send = nil
	t.connId = ""
	t.auth = nil
}

func (t *Transport) transition(s State, err error) {
	t.mu.Lock()
	if t.state == s {
		t.mu.Unlock()
		return
	}
	t.state = s
	t.mu.Unlock()

	t.notify(s, err)
}

func (t *Transport) notify(s State, err error) {
	t.log.Debug("state change", zap.Stringer("state", s), zap.Error(err))
	if t.opts.OnStateChange != nil {
		t.opts.OnStateChange(s, err)
	}
}

func (t *Transport) reportError(err error) {
	if t.opts.OnError != nil {
		t.opts.OnError(err)
	}
}

func (t *Transport) run(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	released := false
	defer func() {
		if !released {
			close(done)
		}
	}()

	for {
		err := t.serve(conn)
		if !t.detach(ctx, conn) {
			return
		}

		t.log.Warn("connection lost", zap.Error(err))
		t.reportError(err)
		t.transition(StateReconnecting, err)

		conn, err = t.dialWithRetry(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.log.Error("giving up reconnecting", zap.Error(err))
			released = t.fail(ctx, done, err)
			return
		}

		if !t.attach(ctx, conn) {
			conn.Close()
			return
		}
		t.stats.Incr(stats.Reconnects)
		t.connected()
	}
}

// fail moves to StateFailed and closes done before listeners run, so a
// listener may call Disconnect or Connect. Returns false if the transport
// was disconnected meanwhile.
func (t *Transport) fail(ctx context.Context, done chan struct{}, err error) bool {
	t.mu.Lock()
	if ctx.Err() != nil {
		t.mu.Unlock()
		return false
	}
	t.state = StateFailed
	if t.done == done {
		t.cancel()
		t.cancel, t.done = nil, nil
	}
	t.auth = nil
	t.mu.Unlock()
	close(done)

	t.notify(StateFailed, err)
	t.reportError(err)
	return true
}

// serve pumps conn until it breaks and returns the cause.
func (t *Transport) serve(conn *websocket.Conn) error {
	t.mu.Lock()
	send := t.send
	t.mu.Unlock()

	stop := make(chan struct{})
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		t.write(conn, send, stop)
	}()

	err := t.read(conn)
	close(stop)
	conn.Close()
	<-writeDone

	return err
}

func (t *Transport) read(conn *websocket.Conn) error {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.log.Debug("ws: read", zap.Error(err))
			}
			return err
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			t.log.Warn("error parsing event", zap.ByteString("raw", raw), zap.Error(err))
			continue
		}

		t.stats.Incr(stats.EventsReceived)
		t.dispatcher.Dispatch(env.Event, env.Data)
	}
}

func (t *Transport) write(conn *websocket.Conn, send <-chan []byte, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-send:
			if !t.sendMessage(conn, websocket.TextMessage, frame) {
				return
			}
			t.stats.Incr(stats.EventsSent)
		case <-ticker.C:
			if !t.sendMessage(conn, websocket.PingMessage, nil) {
				return
			}
		case <-stop:
			return
		}
	}
}

func (t *Transport) sendMessage(conn *websocket.Conn, msgType int, msg []byte) bool {
	conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := conn.WriteMessage(msgType, msg); err != nil {
		t.log.Debug("write message", zap.Error(err))
		// unblock the reader so the connection is torn down
		conn.Close()
		return false
	}

	return true
}

func (t *Transport) dialWithRetry(ctx context.Context) (*websocket.Conn, error) {
	var lastErr error
	for attempt := 1; attempt <= t.opts.MaxAttempts; attempt++ {
		conn, err := t.dial(ctx)
		if err == nil {
			return conn, nil
		}

		lastErr = err
		t.stats.Incr(stats.ConnectFailures)
		t.log.Warn("dial failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", t.opts.MaxAttempts),
			zap.Error(err))

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == t.opts.MaxAttempts {
			break
		}

		timer := time.NewTimer(t.opts.RetryDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrConnectFailed, t.opts.MaxAttempts, lastErr)
}

func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	t.mu.Lock()
	auth := t.auth
	t.mu.Unlock()
	if auth == nil {
		return nil, ErrClosed
	}

	bearer, err := auth.Bearer()
	if err != nil {
		return nil, fmt.Errorf("credential: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.opts.ConnectTimeout)
	defer cancel()

	conn, resp, err := t.dialer.DialContext(dialCtx, t.opts.URL, http.Header{"Authorization": {bearer}})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}

	return conn, nil
}
