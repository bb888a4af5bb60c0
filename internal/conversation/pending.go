package conversation

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/teris-io/shortid"
)

const tempIdPrefix = "tmp-"

var (
	ErrSendFailed   = errors.New("message not delivered")
	ErrUnknownEntry = errors.New("no pending entry")
)

// NewTempId returns a client generated id for an optimistic entry.
func NewTempId() string {
	id, err := shortid.Generate()
	if err != nil {
		id = uuid.NewString()
	}
	return tempIdPrefix + id
}

func IsTempId(id string) bool {
	return len(id) > len(tempIdPrefix) && id[:len(tempIdPrefix)] == tempIdPrefix
}

// Pending resolves once the server confirms or rejects an optimistic
// message.
type Pending struct {
	TempId string

	once sync.Once
	done chan struct{}
	id   string
	err  error
}

func newPending(tempId string) *Pending {
	return &Pending{TempId: tempId, done: make(chan struct{})}
}

func (p *Pending) resolve(id string, err error) bool {
	resolved := false
	p.once.Do(func() {
		p.id, p.err = id, err
		close(p.done)
		resolved = true
	})
	return resolved
}

func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the entry is confirmed, returning the server id, or
// rejected.
func (p *Pending) Wait(ctx context.Context) (string, error) {
	select {
	case <-p.done:
		return p.id, p.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
