package presence

import (
	"cmp"
	"slices"
	"strings"
	"sync"

	"github.com/npezzotti/go-forumsync/internal/types"
	"github.com/samber/lo"
)

// Roster is the set of participants currently online, keyed by id. It is
// empty until the first snapshot arrives.
type Roster struct {
	mu      sync.RWMutex
	members map[int]types.Participant
	ready   bool
}

func NewRoster() *Roster {
	return &Roster{members: make(map[int]types.Participant)}
}

// ApplySnapshot replaces the roster wholesale.
func (r *Roster) ApplySnapshot(users []types.Participant) {
	members := make(map[int]types.Participant, len(users))
	for _, u := range users {
		members[u.Id] = normalize(u)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.members = members
	r.ready = true
}

// Join adds p or refreshes the entry with the same id.
func (r *Roster) Join(p types.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[p.Id] = normalize(p)
}

// Leave removes the participant. Unknown ids are ignored.
func (r *Roster) Leave(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, id)
}

// SetStatus updates the status of a participant already on the roster.
// Returns false for unknown ids.
func (r *Roster) SetStatus(id int, status types.Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.members[id]
	if !ok {
		return false
	}
	p.Status = status
	r.members[id] = normalize(p)
	return true
}

func (r *Roster) Get(id int) (types.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.members[id]
	return p, ok
}

func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Ready reports whether a snapshot has been applied.
func (r *Roster) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready
}

// List returns a copy of the roster ordered by display name, then id.
func (r *Roster) List() []types.Participant {
	r.mu.RLock()
	list := lo.Values(r.members)
	r.mu.RUnlock()

	slices.SortFunc(list, func(a, b types.Participant) int {
		if c := cmp.Compare(strings.ToLower(a.DisplayName), strings.ToLower(b.DisplayName)); c != 0 {
			return c
		}
		return cmp.Compare(a.Id, b.Id)
	})
	return list
}

// Online returns the participants whose status is online.
func (r *Roster) Online() []types.Participant {
	return lo.Filter(r.List(), func(p types.Participant, _ int) bool {
		return p.Status == types.StatusOnline
	})
}

func normalize(p types.Participant) types.Participant {
	if p.Status == "" {
		p.Status = types.StatusOnline
	}
	return p
}
