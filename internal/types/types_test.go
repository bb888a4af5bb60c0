package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	tcases := []struct {
		in       string
		expected Status
	}{
		{in: "online", expected: StatusOnline},
		{in: " Away ", expected: StatusAway},
		{in: "BUSY", expected: StatusBusy},
		{in: "offline", expected: StatusOffline},
		{in: "invisible", expected: StatusOffline},
		{in: "", expected: StatusOffline},
	}

	for _, tc := range tcases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.expected, ParseStatus(tc.in))
		})
	}
}

func TestParticipant_UnmarshalJSON(t *testing.T) {
	var p Participant
	err := json.Unmarshal([]byte(`{"id":4,"display_name":"dave","role_color":"#ff0","status":"lurking"}`), &p)

	require.NoError(t, err)
	assert.Equal(t, Participant{Id: 4, DisplayName: "dave", RoleColor: "#ff0", Status: StatusOffline}, p)
}

func TestStatus_UnmarshalJSON(t *testing.T) {
	tcases := []struct {
		in       string
		expected Status
	}{
		{in: `"away"`, expected: StatusAway},
		{in: `"lurking"`, expected: StatusOffline},
		{in: `""`, expected: ""},
		{in: `"  "`, expected: ""},
	}

	for _, tc := range tcases {
		t.Run(tc.in, func(t *testing.T) {
			var s Status
			require.NoError(t, json.Unmarshal([]byte(tc.in), &s))
			assert.Equal(t, tc.expected, s)
		})
	}
}

func TestFlexId_UnmarshalJSON(t *testing.T) {
	tcases := []struct {
		name     string
		in       string
		expected FlexId
		success  bool
	}{
		{name: "string", in: `"m-1"`, expected: "m-1", success: true},
		{name: "number", in: `42`, expected: "42", success: true},
		{name: "null", in: `null`, expected: "", success: true},
		{name: "object", in: `{}`, success: false},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			var id FlexId
			err := json.Unmarshal([]byte(tc.in), &id)
			if !tc.success {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, id)
		})
	}
}

func TestTimestamp_UnmarshalJSON(t *testing.T) {
	expected := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	tcases := []struct {
		name     string
		in       string
		expected time.Time
		success  bool
	}{
		{name: "rfc3339", in: `"2024-01-01T10:00:00Z"`, expected: expected, success: true},
		{name: "offset", in: `"2024-01-01T12:00:00+02:00"`, expected: expected, success: true},
		{name: "no zone", in: `"2024-01-01T10:00:00"`, expected: expected, success: true},
		{name: "sql", in: `"2024-01-01 10:00:00"`, expected: expected, success: true},
		{name: "unix millis", in: `1704103200000`, expected: expected, success: true},
		{name: "millis string", in: `"1704103200000"`, expected: expected, success: true},
		{name: "null", in: `null`, success: true},
		{name: "garbage", in: `"yesterday"`, success: false},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			var ts Timestamp
			err := json.Unmarshal([]byte(tc.in), &ts)
			if !tc.success {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tc.expected.Equal(ts.Time), "expected %s, got %s", tc.expected, ts.Time)
		})
	}
}

func TestMessage_UnmarshalJSON(t *testing.T) {
	var m Message
	err := json.Unmarshal([]byte(`{
		"id": 55,
		"client_id": "tmp-1",
		"content": "hi",
		"author_id": 3,
		"author_display_name": "carol",
		"created_at": 1704103200000,
		"reply_to_id": 54
	}`), &m)

	require.NoError(t, err)
	assert.Equal(t, "55", m.Id)
	assert.Equal(t, "tmp-1", m.ClientId)
	assert.Equal(t, "54", m.ReplyToId)
	assert.Equal(t, KindText, m.Kind, "expected default kind")
	assert.Equal(t, Confirmed, m.State, "expected messages from the wire to be confirmed")
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), m.CreatedAt)
}

func TestMessage_roundTrip(t *testing.T) {
	in := Message{Id: "1", Content: "x", CreatedAt: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), Kind: KindSystem, State: Pending}

	b, err := json.Marshal(in)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "pending", "expected delivery state to stay local")

	var out Message
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, KindSystem, out.Kind)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
}
