package conversation

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/npezzotti/go-forumsync/internal/stats"
	"github.com/npezzotti/go-forumsync/internal/testutil"
	"github.com/npezzotti/go-forumsync/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func msg(id string, offset time.Duration, content string) types.Message {
	return types.Message{
		Id:        id,
		Content:   content,
		AuthorId:  1,
		CreatedAt: base.Add(offset),
		Kind:      types.KindText,
		State:     types.Confirmed,
	}
}

func newTestLog(t *testing.T) *Log {
	return NewLog(testutil.TestLogger(t), stats.NewMockStatsUpdater())
}

func ids(msgs []types.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Id)
	}
	return out
}

func assertSorted(t *testing.T, msgs []types.Message) {
	t.Helper()
	assert.True(t, slices.IsSortedFunc(msgs, func(a, b types.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	}), "expected log sorted by timestamp: %v", ids(msgs))
}

func TestLog_Insert(t *testing.T) {
	tcases := []struct {
		name     string
		inserts  []types.Message
		expected []string
	}{
		{
			name:     "in order",
			inserts:  []types.Message{msg("1", 0, "a"), msg("2", time.Second, "b")},
			expected: []string{"1", "2"},
		},
		{
			name:     "out of order",
			inserts:  []types.Message{msg("2", time.Second, "b"), msg("1", 0, "a"), msg("3", 2*time.Second, "c")},
			expected: []string{"1", "2", "3"},
		},
		{
			name:     "duplicate id",
			inserts:  []types.Message{msg("1", 0, "a"), msg("1", 0, "a"), msg("1", time.Minute, "changed")},
			expected: []string{"1"},
		},
		{
			name:     "equal timestamps keep arrival order",
			inserts:  []types.Message{msg("b", 0, "x"), msg("a", 0, "y"), msg("c", 0, "z")},
			expected: []string{"b", "a", "c"},
		},
		{
			name:     "missing id",
			inserts:  []types.Message{msg("", 0, "a")},
			expected: []string{},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			l := newTestLog(t)
			for _, m := range tc.inserts {
				l.Insert(m)
				assertSorted(t, l.Messages())
			}
			assert.Equal(t, tc.expected, ids(l.Messages()))
		})
	}
}

func TestLog_Insert_interleaved(t *testing.T) {
	l := newTestLog(t)
	offsets := []int{5, 1, 9, 3, 3, 7, 0, 9, 2}

	for i, off := range offsets {
		l.Insert(msg(string(rune('a'+i)), time.Duration(off)*time.Second, "m"))
		l.Insert(msg(string(rune('a'+i)), time.Duration(off)*time.Second, "dup"))
		assertSorted(t, l.Messages())
		assert.Equal(t, i+1, l.Len(), "expected one entry per distinct id")
	}

	last, ok := l.Last()
	require.True(t, ok)
	assert.Equal(t, "h", last.Id, "expected later arrival to follow an equal timestamp")
}

func TestLog_interleavedInboundAndPending(t *testing.T) {
	l := newTestLog(t)
	offsets := []int{5, 1, 9, 3, 3, 7, 0, 9, 2, 4, 8, 6}

	var pending []string
	expected := 0
	for i, off := range offsets {
		at := time.Duration(off) * time.Second
		switch i % 3 {
		case 0:
			l.Insert(msg(string(rune('a'+i)), at, "inbound"))
			expected++
		case 1:
			_, m := l.AddPending(types.Message{Content: "mine", AuthorId: 1, CreatedAt: base.Add(at)})
			pending = append(pending, m.Id)
			expected++
		case 2:
			tempId := pending[0]
			pending = pending[1:]
			echo := msg(string(rune('A'+i)), at+500*time.Millisecond, "mine")
			echo.ClientId = tempId
			l.Reconcile(echo)
		}

		msgs := l.Messages()
		assertSorted(t, msgs)
		assert.Equal(t, expected, len(msgs), "expected confirmation to replace its temp entry")
	}

	assert.Equal(t, 0, l.PendingCount())
	for _, m := range l.Messages() {
		assert.Equal(t, types.Confirmed, m.State)
	}
}

func TestLog_tempEntryIsNotDeduplicatedByContent(t *testing.T) {
	l := newTestLog(t)

	_, pending := l.AddPending(types.Message{Id: "tmp-1", Content: "hi", AuthorId: 1, CreatedAt: base})
	l.Insert(types.Message{Id: "m-55", Content: "hi", AuthorId: 1, CreatedAt: base.Add(time.Second)})

	msgs := l.Messages()
	assert.Equal(t, 2, len(msgs), "expected echo without client id to be a separate entry")
	assert.Equal(t, []string{"tmp-1", "m-55"}, ids(msgs))
	assert.Equal(t, types.Pending, pending.State)
	assert.Equal(t, "tmp-1", pending.ClientId)
}

func TestLog_AddPending(t *testing.T) {
	l := newTestLog(t)

	p, m := l.AddPending(types.Message{Content: "hello", AuthorId: 1})

	assert.True(t, IsTempId(m.Id), "expected generated temp id, got %q", m.Id)
	assert.Equal(t, m.Id, p.TempId)
	assert.Equal(t, m.Id, m.ClientId)
	assert.Equal(t, types.Pending, m.State)
	assert.False(t, m.CreatedAt.IsZero(), "expected local timestamp")
	assert.True(t, l.HasPending(m.Id))
	assert.Equal(t, 1, l.Len())

	select {
	case <-p.Done():
		t.Fatal("expected pending entry to be unresolved")
	default:
	}
}

func TestLog_Reconcile(t *testing.T) {
	l := newTestLog(t)
	l.Insert(msg("1", 0, "first"))
	p, tmp := l.AddPending(types.Message{Content: "hi", AuthorId: 1, CreatedAt: base.Add(10 * time.Second)})
	l.Insert(msg("2", 5*time.Second, "second"))

	echo := msg("42", 3*time.Second, "hi")
	echo.ClientId = tmp.Id

	assert.True(t, l.Reconcile(echo), "expected echo to be inserted")

	msgs := l.Messages()
	assert.Equal(t, []string{"1", "42", "2"}, ids(msgs), "expected confirmed entry at the server timestamp")
	assertSorted(t, msgs)
	assert.Equal(t, types.Confirmed, msgs[1].State)
	assert.Equal(t, tmp.Id, msgs[1].ClientId)
	assert.False(t, l.HasPending(tmp.Id))

	id, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "42", id)
}

func TestLog_Confirm_alreadyPresent(t *testing.T) {
	l := newTestLog(t)
	p, tmp := l.AddPending(types.Message{Content: "hi", AuthorId: 1, CreatedAt: base})
	l.Insert(msg("42", time.Second, "hi"))

	echo := msg("42", time.Second, "hi")
	assert.False(t, l.Confirm(tmp.Id, echo), "expected no second insert")

	assert.Equal(t, []string{"42"}, ids(l.Messages()), "expected temp entry to be dropped")
	id, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "42", id)
}

func TestLog_Confirm_withoutId(t *testing.T) {
	l := newTestLog(t)
	p, tmp := l.AddPending(types.Message{Content: "hello", AuthorId: 1, CreatedAt: base})

	echo := types.Message{ClientId: tmp.Id, Content: "hello", AuthorId: 1, CreatedAt: base}
	assert.False(t, l.Reconcile(echo))

	msgs := l.Messages()
	require.Equal(t, 1, len(msgs), "expected the sent message to stay in the log")
	assert.Equal(t, tmp.Id, msgs[0].Id)
	assert.Equal(t, types.Confirmed, msgs[0].State)
	assert.False(t, l.HasPending(tmp.Id))

	id, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tmp.Id, id, "expected the temp id to stand in for the missing server id")
}

func TestLog_Reconcile_unknownClientId(t *testing.T) {
	l := newTestLog(t)

	echo := msg("7", 0, "from another tab")
	echo.ClientId = "tmp-unknown"

	assert.True(t, l.Reconcile(echo))
	assert.Equal(t, []string{"7"}, ids(l.Messages()))
}

func TestLog_Fail(t *testing.T) {
	l := newTestLog(t)
	p, tmp := l.AddPending(types.Message{Content: "hi", AuthorId: 1})

	cause := errors.New("rate limited")
	require.NoError(t, l.Fail(tmp.Id, cause))

	got, ok := l.Get(tmp.Id)
	require.True(t, ok, "expected failed entry to stay visible")
	assert.Equal(t, types.Failed, got.State)

	_, err := p.Wait(context.Background())
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.ErrorIs(t, err, cause)

	assert.ErrorIs(t, l.Fail(tmp.Id, cause), ErrUnknownEntry, "expected second fail to be rejected")

	// a late echo does not resurrect the entry
	echo := msg("9", 0, "hi")
	echo.ClientId = tmp.Id
	l.Reconcile(echo)
	assert.Equal(t, 2, l.Len())
}

func TestLog_FailAll(t *testing.T) {
	l := newTestLog(t)
	p1, _ := l.AddPending(types.Message{Content: "a"})
	p2, _ := l.AddPending(types.Message{Content: "b"})

	assert.Equal(t, 2, l.FailAll(nil))
	assert.Equal(t, 0, l.PendingCount())

	for _, p := range []*Pending{p1, p2} {
		_, err := p.Wait(context.Background())
		assert.ErrorIs(t, err, ErrSendFailed)
	}
}

func TestLog_Remove(t *testing.T) {
	l := newTestLog(t)
	l.Merge([]types.Message{msg("1", 0, "a"), msg("2", time.Second, "b")})

	assert.True(t, l.Remove("1"))
	assert.False(t, l.Remove("1"), "expected unknown id to be ignored")
	assert.Equal(t, []string{"2"}, ids(l.Messages()))

	assert.True(t, l.Insert(msg("1", 0, "a")), "expected removed id to be insertable again")
}

func TestLog_Merge(t *testing.T) {
	l := newTestLog(t)
	l.Insert(msg("2", time.Second, "b"))

	added := l.Merge([]types.Message{msg("3", 2*time.Second, "c"), msg("1", 0, "a"), msg("2", time.Second, "b")})

	assert.Equal(t, 2, added)
	assert.Equal(t, []string{"1", "2", "3"}, ids(l.Messages()))
}

func TestLog_Last_empty(t *testing.T) {
	l := newTestLog(t)

	_, ok := l.Last()
	assert.False(t, ok)
	assert.Empty(t, l.Messages())
}

func TestPending_Wait_context(t *testing.T) {
	l := newTestLog(t)
	p, _ := l.AddPending(types.Message{Content: "hi"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLog_pendingMetric(t *testing.T) {
	s := stats.NewMockStatsUpdater()
	l := NewLog(testutil.TestLogger(t), s)

	_, tmp := l.AddPending(types.Message{Content: "hi"})
	l.Confirm(tmp.Id, msg("1", 0, "hi"))

	s.AssertCalled(t, "RegisterMetric", stats.PendingMessages)
	s.AssertCalled(t, "Incr", stats.PendingMessages)
	s.AssertCalled(t, "Decr", stats.PendingMessages)
}
