package conversation

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/npezzotti/go-forumsync/internal/stats"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Key identifies a conversation: the public room or a private conversation
// with a peer.
type Key struct {
	peer int
}

var PublicRoom = Key{}

func Peer(id int) Key {
	return Key{peer: id}
}

func (k Key) IsPublic() bool {
	return k.peer == 0
}

// PeerId returns the peer's user id, zero for the public room.
func (k Key) PeerId() int {
	return k.peer
}

func (k Key) String() string {
	if k.IsPublic() {
		return "public"
	}
	return fmt.Sprintf("peer:%d", k.peer)
}

// Store holds one Log per conversation, created on first use.
type Store struct {
	log   *zap.Logger
	stats stats.StatsProvider
	mu    sync.RWMutex
	logs  map[Key]*Log
}

func NewStore(l *zap.Logger, s stats.StatsProvider) *Store {
	return &Store{
		log:   l,
		stats: s,
		logs:  make(map[Key]*Log),
	}
}

// Get returns the log for k, creating it if needed.
func (s *Store) Get(k Key) *Log {
	s.mu.RLock()
	l, ok := s.logs[k]
	s.mu.RUnlock()
	if ok {
		return l
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.logs[k]; ok {
		return l
	}
	l = NewLog(s.log.With(zap.Stringer("conversation", k)), s.stats)
	s.logs[k] = l
	return l
}

func (s *Store) Lookup(k Key) (*Log, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.logs[k]
	return l, ok
}

// Keys returns the known conversations, public room first, then peers by
// id.
func (s *Store) Keys() []Key {
	s.mu.RLock()
	keys := lo.Keys(s.logs)
	s.mu.RUnlock()

	slices.SortFunc(keys, func(a, b Key) int { return cmp.Compare(a.peer, b.peer) })
	return keys
}

// Fail rejects the pending entry tempId in whichever conversation holds it.
func (s *Store) Fail(tempId string, cause error) bool {
	for _, k := range s.Keys() {
		l, _ := s.Lookup(k)
		if l.HasPending(tempId) {
			return l.Fail(tempId, cause) == nil
		}
	}
	return false
}

// FailAll rejects the pending entries of every conversation.
func (s *Store) FailAll(cause error) int {
	return lo.SumBy(s.Keys(), func(k Key) int {
		l, _ := s.Lookup(k)
		return l.FailAll(cause)
	})
}
