package conversation

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/npezzotti/go-forumsync/internal/stats"
	"github.com/npezzotti/go-forumsync/internal/types"
	"go.uber.org/zap"
)

// Log is the message list of one conversation. Ids are unique and entries
// are ordered by CreatedAt, ties keeping insertion order.
type Log struct {
	log      *zap.Logger
	stats    stats.StatsProvider
	mu       sync.RWMutex
	messages []types.Message
	ids      map[string]struct{}
	pending  map[string]*Pending
}

func NewLog(l *zap.Logger, s stats.StatsProvider) *Log {
	s.RegisterMetric(stats.PendingMessages)

	return &Log{
		log:     l,
		stats:   s,
		ids:     make(map[string]struct{}),
		pending: make(map[string]*Pending),
	}
}

// Insert adds msg unless a message with the same id is already present.
func (l *Log) Insert(msg types.Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.insertLocked(msg)
}

// Merge inserts every message of a history page and returns how many were
// new.
func (l *Log) Merge(msgs []types.Message) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	added := 0
	for _, m := range msgs {
		if l.insertLocked(m) {
			added++
		}
	}
	return added
}

func (l *Log) insertLocked(msg types.Message) bool {
	if msg.Id == "" {
		l.log.Warn("ignoring message without id", zap.String("client_id", msg.ClientId))
		return false
	}
	if _, ok := l.ids[msg.Id]; ok {
		l.log.Debug("duplicate message", zap.String("id", msg.Id))
		return false
	}
	if msg.State == "" {
		msg.State = types.Confirmed
	}

	// first position strictly after msg, so equal timestamps keep arrival order
	i, _ := slices.BinarySearchFunc(l.messages, msg.CreatedAt, func(m types.Message, ts time.Time) int {
		if m.CreatedAt.After(ts) {
			return 1
		}
		return -1
	})
	l.messages = slices.Insert(l.messages, i, msg)
	l.ids[msg.Id] = struct{}{}
	return true
}

// AddPending inserts an optimistic entry for a message the user just sent.
// msg.Id and msg.ClientId are set to a fresh temp id when empty.
func (l *Log) AddPending(msg types.Message) (*Pending, types.Message) {
	if msg.Id == "" {
		msg.Id = NewTempId()
	}
	if msg.ClientId == "" {
		msg.ClientId = msg.Id
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = types.Now()
	}
	if msg.Kind == "" {
		msg.Kind = types.KindText
	}
	msg.State = types.Pending

	p := newPending(msg.Id)

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.insertLocked(msg) {
		p.resolve("", fmt.Errorf("%w: duplicate temp id %s", ErrSendFailed, msg.Id))
		return p, msg
	}
	l.pending[msg.Id] = p
	l.stats.Incr(stats.PendingMessages)

	return p, msg
}

// Reconcile applies a message received from the server. When it echoes the
// client id of a pending entry the entry is confirmed, otherwise it is an
// ordinary insert.
func (l *Log) Reconcile(msg types.Message) bool {
	if msg.ClientId != "" {
		l.mu.RLock()
		_, ok := l.pending[msg.ClientId]
		l.mu.RUnlock()
		if ok {
			return l.Confirm(msg.ClientId, msg)
		}
	}
	return l.Insert(msg)
}

// Confirm replaces the pending entry tempId with the server's message. If
// the server message is already in the log the temp entry is dropped.
func (l *Log) Confirm(tempId string, msg types.Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.pending[tempId]
	if !ok {
		return l.insertLocked(msg)
	}

	delete(l.pending, tempId)
	l.stats.Decr(stats.PendingMessages)

	// without a server id the optimistic entry stays as the record
	if msg.Id == "" {
		l.log.Warn("confirmation without id, keeping temp entry", zap.String("client_id", tempId))
		if i := l.indexLocked(tempId); i >= 0 {
			l.messages[i].State = types.Confirmed
		}
		p.resolve(tempId, nil)
		return false
	}

	l.removeLocked(tempId)
	msg.ClientId = tempId
	msg.State = types.Confirmed
	inserted := l.insertLocked(msg)
	p.resolve(msg.Id, nil)

	return inserted
}

// Fail marks the pending entry tempId as failed and rejects its future.
func (l *Log) Fail(tempId string, cause error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.pending[tempId]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntry, tempId)
	}
	delete(l.pending, tempId)
	l.stats.Decr(stats.PendingMessages)

	if i := l.indexLocked(tempId); i >= 0 {
		l.messages[i].State = types.Failed
	}

	if cause == nil {
		cause = ErrSendFailed
	}
	p.resolve("", fmt.Errorf("%w: %w", ErrSendFailed, cause))
	return nil
}

// FailAll rejects every pending entry.
func (l *Log) FailAll(cause error) int {
	l.mu.RLock()
	tempIds := make([]string, 0, len(l.pending))
	for id := range l.pending {
		tempIds = append(tempIds, id)
	}
	l.mu.RUnlock()

	n := 0
	for _, id := range tempIds {
		if l.Fail(id, cause) == nil {
			n++
		}
	}
	return n
}

func (l *Log) HasPending(tempId string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.pending[tempId]
	return ok
}

func (l *Log) PendingCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.pending)
}

// Remove deletes the message with id. Unknown ids are ignored.
func (l *Log) Remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.removeLocked(id)
}

func (l *Log) removeLocked(id string) bool {
	i := l.indexLocked(id)
	if i < 0 {
		return false
	}
	l.messages = slices.Delete(l.messages, i, i+1)
	delete(l.ids, id)
	return true
}

func (l *Log) indexLocked(id string) int {
	if _, ok := l.ids[id]; !ok {
		return -1
	}
	return slices.IndexFunc(l.messages, func(m types.Message) bool { return m.Id == id })
}

func (l *Log) Get(id string) (types.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	i := l.indexLocked(id)
	if i < 0 {
		return types.Message{}, false
	}
	return l.messages[i], true
}

// Messages returns a copy of the log.
func (l *Log) Messages() []types.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.messages)
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

func (l *Log) Last() (types.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.messages) == 0 {
		return types.Message{}, false
	}
	return l.messages[len(l.messages)-1], true
}
