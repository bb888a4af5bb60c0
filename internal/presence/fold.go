package presence

import "github.com/npezzotti/go-forumsync/internal/types"

type EventKind int

const (
	Snapshot EventKind = iota
	Joined
	Left
	StatusChanged
)

// Event is a single roster change as delivered by the backend.
type Event struct {
	Kind   EventKind
	Users  []types.Participant
	User   types.Participant
	UserId int
	Status types.Status
}

func SnapshotEvent(users ...types.Participant) Event {
	return Event{Kind: Snapshot, Users: users}
}

func JoinEvent(p types.Participant) Event {
	return Event{Kind: Joined, User: p}
}

func LeaveEvent(id int) Event {
	return Event{Kind: Left, UserId: id}
}

func StatusEvent(id int, status types.Status) Event {
	return Event{Kind: StatusChanged, UserId: id, Status: status}
}

// Apply folds a single event into the roster.
func (r *Roster) Apply(e Event) {
	switch e.Kind {
	case Snapshot:
		r.ApplySnapshot(e.Users)
	case Joined:
		r.Join(e.User)
	case Left:
		r.Leave(e.UserId)
	case StatusChanged:
		r.SetStatus(e.UserId, e.Status)
	}
}

// Fold applies events in order to an empty roster and returns the result.
func Fold(events []Event) *Roster {
	r := NewRoster()
	for _, e := range events {
		r.Apply(e)
	}
	return r
}
