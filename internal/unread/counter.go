package unread

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/npezzotti/go-forumsync/internal/types"
	"go.uber.org/zap"
)

type Kind string

const (
	Messages      Kind = "messages"
	Notifications Kind = "notifications"
)

// Fetcher reads the authoritative counts from the backend.
type Fetcher interface {
	UnreadMessageCount(ctx context.Context) (int, error)
	UnreadNotificationCount(ctx context.Context) (int, error)
}

// Counter holds the session wide unread counts. Counts never go below
// zero.
type Counter struct {
	log     *zap.Logger
	fetcher Fetcher

	mu        sync.RWMutex
	counts    map[Kind]int
	listeners map[int]func(types.Counts)
	nextId    int
}

func NewCounter(l *zap.Logger, f Fetcher) *Counter {
	return &Counter{
		log:       l,
		fetcher:   f,
		counts:    map[Kind]int{Messages: 0, Notifications: 0},
		listeners: make(map[int]func(types.Counts)),
	}
}

// Resync overwrites both counts with the backend's values. A count whose
// fetch fails keeps its previous value.
func (c *Counter) Resync(ctx context.Context) error {
	var errs []error

	if n, err := c.fetcher.UnreadMessageCount(ctx); err != nil {
		errs = append(errs, fmt.Errorf("resync %s: %w", Messages, err))
	} else {
		c.set(Messages, n)
	}

	if n, err := c.fetcher.UnreadNotificationCount(ctx); err != nil {
		errs = append(errs, fmt.Errorf("resync %s: %w", Notifications, err))
	} else {
		c.set(Notifications, n)
	}

	if err := errors.Join(errs...); err != nil {
		c.log.Warn("unread resync incomplete", zap.Error(err))
		return err
	}
	return nil
}

func (c *Counter) Increment(k Kind) {
	c.update(k, func(n int) int { return n + 1 })
}

// Decrement subtracts n, clamping at zero.
func (c *Counter) Decrement(k Kind, n int) {
	if n <= 0 {
		return
	}
	c.update(k, func(cur int) int { return max(cur-n, 0) })
}

func (c *Counter) set(k Kind, n int) {
	c.update(k, func(int) int { return max(n, 0) })
}

func (c *Counter) update(k Kind, fn func(int) int) {
	c.mu.Lock()
	prev := c.counts[k]
	next := fn(prev)
	c.counts[k] = next
	snap := c.snapshotLocked()
	listeners := make([]func(types.Counts), 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	if prev == next {
		return
	}
	c.log.Debug("unread count changed", zap.String("kind", string(k)), zap.Int("count", next))
	for _, l := range listeners {
		l(snap)
	}
}

func (c *Counter) Get(k Kind) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counts[k]
}

func (c *Counter) Snapshot() types.Counts {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *Counter) snapshotLocked() types.Counts {
	return types.Counts{
		Messages:      c.counts[Messages],
		Notifications: c.counts[Notifications],
	}
}

// OnChange registers fn to be called with the new counts after every change.
// The returned func removes the listener.
func (c *Counter) OnChange(fn func(types.Counts)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextId++
	id := c.nextId
	c.listeners[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}
