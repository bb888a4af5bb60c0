package realtime

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/npezzotti/go-forumsync/internal/stats"
	"go.uber.org/zap"
)

type handlerFunc func(data json.RawMessage) error

type entry struct {
	id   uint64
	name EventName
	sub  *Subscription
	fn   handlerFunc
}

// Router fans inbound events out to every subscription that registered a
// handler for the event name. Handlers run synchronously, in registration
// order, in the order events are dispatched.
type Router struct {
	log      *zap.Logger
	stats    stats.StatsProvider
	mu       sync.RWMutex
	handlers map[EventName][]*entry
	nextId   uint64
}

func NewRouter(l *zap.Logger, s stats.StatsProvider) *Router {
	s.RegisterMetric(stats.HandlerErrors)
	s.RegisterMetric(stats.Subscriptions)

	return &Router{
		log:      l,
		stats:    s,
		handlers: make(map[EventName][]*entry),
	}
}

// Subscription groups the handlers of one feature so they can be removed
// together without touching anyone else's.
type Subscription struct {
	router  *Router
	feature string
	closed  atomic.Bool
	mu      sync.Mutex
	entries []*entry
}

func (r *Router) Subscribe(feature string) *Subscription {
	r.stats.Incr(stats.Subscriptions)
	return &Subscription{router: r, feature: feature}
}

// On registers fn for ev on the subscription. Registering on a closed
// subscription is a no-op.
func On[T any](s *Subscription, ev Event[T], fn func(T)) *Subscription {
	h := func(data json.RawMessage) error {
		var payload T
		if len(data) > 0 {
			if err := json.Unmarshal(data, &payload); err != nil {
				return fmt.Errorf("decode %s: %w", ev.Name, err)
			}
		}
		fn(payload)
		return nil
	}

	s.router.add(s, ev.Name, h)
	return s
}

func (r *Router) add(s *Subscription, name EventName, fn handlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return
	}

	r.mu.Lock()
	r.nextId++
	e := &entry{id: r.nextId, name: name, sub: s, fn: fn}
	r.handlers[name] = append(r.handlers[name], e)
	r.mu.Unlock()

	s.entries = append(s.entries, e)
}

// Close removes every handler of the subscription. Handlers of a closed
// subscription never run again, including for an event being dispatched
// concurrently.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Swap(true) {
		return
	}

	r := s.router
	r.mu.Lock()
	for _, e := range s.entries {
		r.removeLocked(e)
	}
	r.mu.Unlock()

	s.entries = nil
	r.stats.Decr(stats.Subscriptions)
}

func (s *Subscription) Closed() bool {
	return s.closed.Load()
}

func (r *Router) removeLocked(e *entry) {
	entries := r.handlers[e.name]
	for i, cur := range entries {
		if cur.id != e.id {
			continue
		}
		// copy so a dispatch holding the old slice is unaffected
		next := make([]*entry, 0, len(entries)-1)
		next = append(next, entries[:i]...)
		next = append(next, entries[i+1:]...)
		if len(next) == 0 {
			delete(r.handlers, e.name)
		} else {
			r.handlers[e.name] = next
		}
		return
	}
}

// Dispatch delivers one inbound event to its handlers.
func (r *Router) Dispatch(name EventName, data json.RawMessage) {
	r.mu.RLock()
	entries := r.handlers[name]
	r.mu.RUnlock()

	if len(entries) == 0 {
		r.log.Debug("no handlers for event", zap.String("event", string(name)))
		return
	}

	for _, e := range entries {
		if e.sub.closed.Load() {
			continue
		}
		r.invoke(name, e, data)
	}
}

func (r *Router) invoke(name EventName, e *entry, data json.RawMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			var panicError error
			switch v := rec.(type) {
			case error:
				panicError = v
			default:
				panicError = fmt.Errorf("%v", v)
			}
			r.stats.Incr(stats.HandlerErrors)
			r.log.Error("handler panic",
				zap.String("event", string(name)),
				zap.String("feature", e.sub.feature),
				zap.Error(panicError))
		}
	}()

	if err := e.fn(data); err != nil {
		r.stats.Incr(stats.HandlerErrors)
		r.log.Warn("handler failed",
			zap.String("event", string(name)),
			zap.String("feature", e.sub.feature),
			zap.Error(err))
	}
}
