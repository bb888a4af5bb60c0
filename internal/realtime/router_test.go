package realtime

import (
	"encoding/json"
	"testing"

	"github.com/npezzotti/go-forumsync/internal/stats"
	"github.com/npezzotti/go-forumsync/internal/testutil"
	"github.com/npezzotti/go-forumsync/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*Router, *stats.MockStatsUpdater) {
	s := stats.NewMockStatsUpdater()
	return NewRouter(testutil.TestLogger(t), s), s
}

func handlerCount(r *Router, name EventName) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[name])
}

func TestRouter_Dispatch(t *testing.T) {
	r, _ := newTestRouter(t)

	var got []string
	On(r.Subscribe("chat"), ChatMessage, func(m types.Message) {
		got = append(got, "chat:"+m.Content)
	})
	On(r.Subscribe("badge"), ChatMessage, func(m types.Message) {
		got = append(got, "badge:"+m.Content)
	})

	r.Dispatch(ChatMessage.Name, json.RawMessage(`{"id":1,"content":"hi","created_at":"2024-01-01T10:00:00Z"}`))

	assert.Equal(t, []string{"chat:hi", "badge:hi"}, got, "expected every subscription in registration order")
	assert.Equal(t, 2, handlerCount(r, ChatMessage.Name))
}

func TestRouter_Dispatch_noHandlers(t *testing.T) {
	r, _ := newTestRouter(t)

	assert.NotPanics(t, func() {
		r.Dispatch("unknown_event", json.RawMessage(`{}`))
	}, "expected unknown events to be ignored")
}

func TestRouter_Dispatch_emptyPayload(t *testing.T) {
	r, _ := newTestRouter(t)

	called := false
	On(r.Subscribe("presence"), OnlineUsers, func(p OnlineUsersPayload) {
		called = true
		assert.Empty(t, p.Users)
	})

	r.Dispatch(OnlineUsers.Name, nil)
	assert.True(t, called, "expected handler to run with zero payload")
}

func TestRouter_Dispatch_decodeError(t *testing.T) {
	r, s := newTestRouter(t)

	var statuses []StatusChangedPayload
	On(r.Subscribe("first"), UserStatusChanged, func(p StatusChangedPayload) {
		statuses = append(statuses, p)
	})

	r.Dispatch(UserStatusChanged.Name, json.RawMessage(`{"user_id":"not-a-number"}`))
	r.Dispatch(UserStatusChanged.Name, json.RawMessage(`{"user_id":3,"status":"away"}`))

	require.Len(t, statuses, 1, "expected malformed payload to be skipped")
	assert.Equal(t, 3, statuses[0].UserId)
	assert.Equal(t, types.StatusAway, statuses[0].Status)
	s.AssertCalled(t, "Incr", stats.HandlerErrors)
}

func TestRouter_Dispatch_panicIsolation(t *testing.T) {
	r, s := newTestRouter(t)

	On(r.Subscribe("broken"), UserLeft, func(UserLeftPayload) {
		panic("boom")
	})
	var left []int
	On(r.Subscribe("roster"), UserLeft, func(p UserLeftPayload) {
		left = append(left, p.UserId)
	})

	assert.NotPanics(t, func() {
		r.Dispatch(UserLeft.Name, json.RawMessage(`{"user_id":7}`))
	})
	assert.Equal(t, []int{7}, left, "expected later handlers to run after a panic")
	s.AssertCalled(t, "Incr", stats.HandlerErrors)
}

func TestSubscription_Close(t *testing.T) {
	r, _ := newTestRouter(t)

	var a, b int
	subA := r.Subscribe("a")
	On(subA, UserLeft, func(UserLeftPayload) { a++ })
	On(subA, UserJoined, func(UserJoinedPayload) { a++ })
	subB := r.Subscribe("b")
	On(subB, UserLeft, func(UserLeftPayload) { b++ })

	r.Dispatch(UserLeft.Name, json.RawMessage(`{"user_id":1}`))
	subA.Close()
	r.Dispatch(UserLeft.Name, json.RawMessage(`{"user_id":1}`))
	r.Dispatch(UserJoined.Name, json.RawMessage(`{"user":{"id":1}}`))

	assert.Equal(t, 1, a, "expected closed subscription to stop receiving")
	assert.Equal(t, 2, b, "expected other subscriptions to be unaffected")
	assert.True(t, subA.Closed())
	assert.Equal(t, 0, handlerCount(r, UserJoined.Name))
	assert.Equal(t, 1, handlerCount(r, UserLeft.Name))

	assert.NotPanics(t, subA.Close, "expected close to be idempotent")

	On(subA, UserLeft, func(UserLeftPayload) { a++ })
	r.Dispatch(UserLeft.Name, json.RawMessage(`{"user_id":1}`))
	assert.Equal(t, 1, a, "expected registration on a closed subscription to be ignored")
}

func TestSubscription_Close_duringDispatch(t *testing.T) {
	r, _ := newTestRouter(t)

	var later int
	var laterSub *Subscription
	On(r.Subscribe("closer"), UserLeft, func(UserLeftPayload) {
		laterSub.Close()
	})
	laterSub = On(r.Subscribe("later"), UserLeft, func(UserLeftPayload) { later++ })

	r.Dispatch(UserLeft.Name, json.RawMessage(`{"user_id":1}`))

	assert.Equal(t, 0, later, "expected handler closed mid-dispatch not to run")
}

func TestSend(t *testing.T) {
	tcases := []struct {
		name     string
		emitted  bool
		expected bool
	}{
		{name: "queued", emitted: true, expected: true},
		{name: "dropped", emitted: false, expected: false},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			e := &fakeEmitter{result: tc.emitted}

			ok := Send(e, TypingStart, TypingCmd{PeerId: 4})

			assert.Equal(t, tc.expected, ok)
			assert.Equal(t, TypingStart.Name, e.name)
			assert.Equal(t, TypingCmd{PeerId: 4}, e.payload)
		})
	}
}

type fakeEmitter struct {
	result  bool
	name    EventName
	payload any
}

func (f *fakeEmitter) Emit(name EventName, payload any) bool {
	f.name = name
	f.payload = payload
	return f.result
}

func TestPrivateMessagePayload_EchoClientId(t *testing.T) {
	var p PrivateMessagePayload
	err := json.Unmarshal([]byte(`{"message":{"id":5,"content":"yo","client_id":"tmp-a"},"sender_id":2,"recipient_id":3}`), &p)
	require.NoError(t, err)
	assert.Equal(t, "tmp-a", p.EchoClientId(), "expected nested client id")

	p.ClientId = "tmp-b"
	assert.Equal(t, "tmp-b", p.EchoClientId(), "expected top level client id to win")
}
