// ABOUTME: Event router fanning one sync stream out to many consumers
// ABOUTME: Persistent handlers plus race-free one-shot conditional waiters

package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Category names one class of routed events.
type Category string

// Event categories delivered by the router.
const (
	CategorySyncState  Category = "sync_state"
	CategoryRoom       Category = "room"
	CategoryTimeline   Category = "timeline"
	CategoryMembership Category = "membership"
)

// Handler bundles the persistent callbacks a consumer registers. Nil
// callbacks are skipped.
type Handler struct {
	OnSyncState  func(since string)
	OnRoom       func(roomID id.RoomID)
	OnTimeline   func(evt *event.Event)
	OnMembership func(evt *event.Event)
}

// Predicate guards a one-shot waiter. It must be side-effect free; it may
// be evaluated for events that end up consumed by another waiter.
type Predicate func(evt *event.Event) bool

// waiter is a registered one-shot conditional callback.
type waiter struct {
	id       string
	category Category
	match    Predicate
	fn       func(evt *event.Event)
}

// Router decouples a session's single push-based event source from its
// consumers. Events are delivered in emission order; a one-shot waiter
// fires at most once and is removed from the registry before its callback
// runs, so later qualifying events cannot reach it.
type Router struct {
	mu         sync.Mutex
	handlers   map[string]Handler
	waiters    []*waiter // registration order preserved
	knownRooms map[id.RoomID]struct{}
	disposed   bool
	logger     *slog.Logger
}

// NewRouter creates a router. Pass nil logger for default.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		handlers:   make(map[string]Handler),
		knownRooms: make(map[id.RoomID]struct{}),
		logger:     logger.With("component", "router"),
	}
}

// eventSource is the registration surface of the protocol client's syncer.
type eventSource interface {
	OnEventType(eventType event.Type, handler mautrix.EventHandler)
	OnSync(handler mautrix.SyncHandler)
}

// Bind connects the router to a client's event stream. The underlying
// syncer offers no deregistration; Dispose makes the bound callbacks inert
// instead.
func (r *Router) Bind(src eventSource) {
	timeline := func(_ context.Context, evt *event.Event) {
		r.DispatchTimeline(evt)
	}
	src.OnEventType(event.EventMessage, timeline)
	src.OnEventType(event.EventReaction, timeline)
	src.OnEventType(event.EventRedaction, timeline)
	src.OnEventType(event.StateMember, func(_ context.Context, evt *event.Event) {
		r.DispatchMembership(evt)
	})
	src.OnSync(func(_ context.Context, _ *mautrix.RespSync, since string) bool {
		r.DispatchSyncState(since)
		return true
	})
}

// Attach registers persistent callbacks under the given id, replacing any
// existing registration with the same id.
func (r *Router) Attach(handlerID string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return
	}
	r.handlers[handlerID] = h
}

// AttachOnce registers a one-shot conditional callback under the given id.
// It fires on the first event of the category for which match returns true,
// then detaches itself. An empty id gets a generated one; the effective id
// is returned for later Detach.
func (r *Router) AttachOnce(waiterID string, category Category, match Predicate, fn func(evt *event.Event)) string {
	if waiterID == "" {
		waiterID = uuid.New().String()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return waiterID
	}
	// Same-id re-registration replaces, matching Attach semantics.
	r.removeWaiterLocked(waiterID)
	r.waiters = append(r.waiters, &waiter{
		id:       waiterID,
		category: category,
		match:    match,
		fn:       fn,
	})
	return waiterID
}

// Detach removes every handler and waiter registered under id. Unknown ids
// are a no-op.
func (r *Router) Detach(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, id)
	r.removeWaiterLocked(id)
}

// Dispose detaches everything and stops accepting events.
func (r *Router) Dispose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[string]Handler)
	r.waiters = nil
	r.disposed = true
}

// DispatchSyncState delivers a sync-state change to all subscribers.
func (r *Router) DispatchSyncState(since string) {
	handlers, waiters := r.collect(CategorySyncState, nil)
	for _, h := range handlers {
		if h.OnSyncState != nil {
			h.OnSyncState(since)
		}
	}
	for _, w := range waiters {
		w.fn(nil)
	}
}

// DispatchTimeline delivers a timeline event (message, reaction or
// redaction) to all subscribers, synthesizing a room-arrival notification
// the first time a room is seen.
func (r *Router) DispatchTimeline(evt *event.Event) {
	r.dispatchRoomArrival(evt.RoomID)
	handlers, waiters := r.collect(CategoryTimeline, evt)
	for _, h := range handlers {
		if h.OnTimeline != nil {
			h.OnTimeline(evt)
		}
	}
	for _, w := range waiters {
		w.fn(evt)
	}
}

// DispatchMembership delivers a membership state event to all subscribers.
func (r *Router) DispatchMembership(evt *event.Event) {
	r.dispatchRoomArrival(evt.RoomID)
	handlers, waiters := r.collect(CategoryMembership, evt)
	for _, h := range handlers {
		if h.OnMembership != nil {
			h.OnMembership(evt)
		}
	}
	for _, w := range waiters {
		w.fn(evt)
	}
}

// dispatchRoomArrival fires OnRoom callbacks for rooms not seen before.
func (r *Router) dispatchRoomArrival(roomID id.RoomID) {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	if _, known := r.knownRooms[roomID]; known {
		r.mu.Unlock()
		return
	}
	r.knownRooms[roomID] = struct{}{}
	handlers := make([]Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()

	for _, h := range handlers {
		if h.OnRoom != nil {
			h.OnRoom(roomID)
		}
	}
}

// collect snapshots the persistent handlers and claims every matching
// one-shot waiter for the given category. Claimed waiters are removed
// before any callback runs, so a waiter can never fire twice even when the
// callback itself emits further events.
func (r *Router) collect(category Category, evt *event.Event) ([]Handler, []*waiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return nil, nil
	}

	handlers := make([]Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		handlers = append(handlers, h)
	}

	var claimed []*waiter
	remaining := r.waiters[:0]
	for _, w := range r.waiters {
		if w.category == category && (w.match == nil || (evt != nil && w.match(evt))) {
			claimed = append(claimed, w)
			continue
		}
		remaining = append(remaining, w)
	}
	r.waiters = remaining
	return handlers, claimed
}

// removeWaiterLocked drops every waiter with the given id. Must be called
// with mu held.
func (r *Router) removeWaiterLocked(id string) {
	remaining := r.waiters[:0]
	for _, w := range r.waiters {
		if w.id != id {
			remaining = append(remaining, w)
		}
	}
	r.waiters = remaining
}
