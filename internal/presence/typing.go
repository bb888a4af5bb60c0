package presence

import (
	"slices"
	"sync"
	"time"
)

// DefaultTypingTTL bounds how long an indicator survives without a refresh,
// so a lost typing_stop does not leave it on screen.
const DefaultTypingTTL = 6 * time.Second

type typist struct {
	name    string
	expires time.Time
}

// Typing tracks who is typing in each conversation. Conversation 0 is the
// public room, any other key is a peer id.
type Typing struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	active map[int]map[int]typist
}

func NewTyping(ttl time.Duration) *Typing {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &Typing{
		ttl:    ttl,
		now:    time.Now,
		active: make(map[int]map[int]typist),
	}
}

func (t *Typing) Start(conversation, userId int, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.active[conversation]
	if !ok {
		users = make(map[int]typist)
		t.active[conversation] = users
	}
	users[userId] = typist{name: name, expires: t.now().Add(t.ttl)}
}

func (t *Typing) Stop(conversation, userId int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.active[conversation]
	if !ok {
		return
	}
	delete(users, userId)
	if len(users) == 0 {
		delete(t.active, conversation)
	}
}

// Active returns the sorted display names of users typing in conversation.
// Expired entries are pruned.
func (t *Typing) Active(conversation int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	users := t.active[conversation]
	now := t.now()
	names := make([]string, 0, len(users))
	for id, u := range users {
		if !now.Before(u.expires) {
			delete(users, id)
			continue
		}
		names = append(names, u.name)
	}
	if len(users) == 0 {
		delete(t.active, conversation)
	}

	slices.Sort(names)
	return names
}
