package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

// ParseStatus maps a wire status to a known Status. Unknown values are
// treated as offline.
func ParseStatus(s string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusOnline:
		return StatusOnline
	case StatusAway:
		return StatusAway
	case StatusBusy:
		return StatusBusy
	default:
		return StatusOffline
	}
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	// blank is left unset so the roster can apply its default
	if strings.TrimSpace(raw) == "" {
		*s = ""
		return nil
	}
	*s = ParseStatus(raw)
	return nil
}

type Participant struct {
	Id          int    `json:"id"`
	DisplayName string `json:"display_name"`
	RoleColor   string `json:"role_color,omitempty"`
	Status      Status `json:"status"`
}

type MessageKind string

const (
	KindText   MessageKind = "text"
	KindSystem MessageKind = "system"
	KindJoin   MessageKind = "join"
	KindLeave  MessageKind = "leave"
)

type DeliveryState string

const (
	Confirmed DeliveryState = "confirmed"
	Pending   DeliveryState = "pending"
	Failed    DeliveryState = "failed"
)

type Message struct {
	Id                string        `json:"id"`
	ClientId          string        `json:"client_id,omitempty"`
	Content           string        `json:"content"`
	AuthorId          int           `json:"author_id"`
	AuthorDisplayName string        `json:"author_display_name"`
	CreatedAt         time.Time     `json:"created_at"`
	Kind              MessageKind   `json:"kind"`
	ReplyToId         string        `json:"reply_to_id,omitempty"`
	State             DeliveryState `json:"-"`
}

// UnmarshalJSON accepts numeric or string ids and the timestamp formats
// understood by Timestamp. Messages decoded from the wire are confirmed.
func (m *Message) UnmarshalJSON(b []byte) error {
	var wire struct {
		Id                FlexId    `json:"id"`
		ClientId          string    `json:"client_id"`
		Content           string    `json:"content"`
		AuthorId          int       `json:"author_id"`
		AuthorDisplayName string    `json:"author_display_name"`
		CreatedAt         Timestamp `json:"created_at"`
		Kind              string    `json:"kind"`
		ReplyToId         FlexId    `json:"reply_to_id"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}

	*m = Message{
		Id:                string(wire.Id),
		ClientId:          wire.ClientId,
		Content:           wire.Content,
		AuthorId:          wire.AuthorId,
		AuthorDisplayName: wire.AuthorDisplayName,
		CreatedAt:         wire.CreatedAt.Time,
		Kind:              MessageKind(wire.Kind),
		ReplyToId:         string(wire.ReplyToId),
		State:             Confirmed,
	}
	if m.Kind == "" {
		m.Kind = KindText
	}
	return nil
}

type Notification struct {
	Id        FlexId    `json:"id"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	ActorId   int       `json:"actor_id"`
	CreatedAt Timestamp `json:"created_at"`
}

type Counts struct {
	Messages      int `json:"messages"`
	Notifications int `json:"notifications"`
}

// FlexId is an identifier the backend may send either as a JSON string or
// as a JSON number.
type FlexId string

func (id *FlexId) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = FlexId(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", b, err)
	}
	*id = FlexId(n.String())
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
}

// Timestamp is a point in time decoded from RFC 3339 style strings or unix
// milliseconds. Zero values stay zero.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	if b[0] != '"' {
		ms, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid timestamp %s: %w", b, err)
		}
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseTime(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time)
}

// ParseTime parses s using the layouts the backend is known to emit.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// Now returns the current time truncated the way the backend stores it.
func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
