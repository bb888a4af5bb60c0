package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const waitTimeout = 2 * time.Second

// WsServer is a fake backend socket endpoint.
type WsServer struct {
	*httptest.Server
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn
	headers  chan http.Header
	// Reject makes the handshake fail with 401.
	Reject atomic.Bool
	// Handshakes counts upgrade attempts, rejected ones included.
	Handshakes atomic.Int32
}

func NewWsServer(t *testing.T) *WsServer {
	s := &WsServer{
		conns:   make(chan *websocket.Conn, 16),
		headers: make(chan http.Header, 16),
	}

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Handshakes.Add(1)
		if s.Reject.Load() {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade: %v", err)
			return
		}
		s.headers <- r.Header.Clone()
		s.conns <- conn
	}))
	t.Cleanup(s.Close)

	return s
}

func (s *WsServer) URL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http")
}

// Accept waits for the next client connection.
func (s *WsServer) Accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for client connection")
		return nil
	}
}

// Header returns the handshake headers of the next accepted connection.
func (s *WsServer) Header(t *testing.T) http.Header {
	t.Helper()
	select {
	case h := <-s.headers:
		return h
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for handshake")
		return nil
	}
}

// SendEvent writes an event frame to conn.
func SendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()

	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	frame, err := json.Marshal(map[string]json.RawMessage{
		"event": json.RawMessage(`"` + event + `"`),
		"data":  raw,
	})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

// Frame is an event frame read from a client.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ReadEvent reads the next event frame sent by the client.
func ReadEvent(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(waitTimeout))
	defer conn.SetReadDeadline(time.Time{})

	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

// Eventually waits for cond to hold.
func Eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}
