// ABOUTME: Tests for the event router
// ABOUTME: Covers dispatch ordering, one-shot waiters and disposal

package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

func timelineEvent(roomID id.RoomID, eventID id.EventID) *event.Event {
	return &event.Event{
		ID:     eventID,
		RoomID: roomID,
		Type:   event.EventMessage,
		Sender: id.UserID("@someone:matrix.local"),
	}
}

func TestRouterDispatchesToPersistentHandlers(t *testing.T) {
	r := NewRouter(nil)

	var got []id.EventID
	r.Attach("collector", Handler{
		OnTimeline: func(evt *event.Event) {
			got = append(got, evt.ID)
		},
	})

	r.DispatchTimeline(timelineEvent("!room:x", "$1"))
	r.DispatchTimeline(timelineEvent("!room:x", "$2"))
	r.DispatchTimeline(timelineEvent("!room:x", "$3"))

	assert.Equal(t, []id.EventID{"$1", "$2", "$3"}, got)
}

func TestRouterRoomArrivalFiresOncePerRoom(t *testing.T) {
	r := NewRouter(nil)

	var rooms []id.RoomID
	r.Attach("rooms", Handler{
		OnRoom: func(roomID id.RoomID) { rooms = append(rooms, roomID) },
	})

	r.DispatchTimeline(timelineEvent("!a:x", "$1"))
	r.DispatchTimeline(timelineEvent("!a:x", "$2"))
	r.DispatchTimeline(timelineEvent("!b:x", "$3"))

	assert.Equal(t, []id.RoomID{"!a:x", "!b:x"}, rooms)
}

func TestRouterWaiterFiresExactlyOnce(t *testing.T) {
	r := NewRouter(nil)

	fired := 0
	r.AttachOnce("once", CategoryTimeline, nil, func(evt *event.Event) {
		fired++
	})

	r.DispatchTimeline(timelineEvent("!room:x", "$1"))
	r.DispatchTimeline(timelineEvent("!room:x", "$2"))

	assert.Equal(t, 1, fired)
}

func TestRouterWaiterPredicateGuards(t *testing.T) {
	r := NewRouter(nil)

	var matched id.EventID
	r.AttachOnce("guarded", CategoryTimeline, func(evt *event.Event) bool {
		return evt.ID == "$wanted"
	}, func(evt *event.Event) {
		matched = evt.ID
	})

	r.DispatchTimeline(timelineEvent("!room:x", "$other"))
	assert.Empty(t, matched, "predicate should reject non-matching events")

	r.DispatchTimeline(timelineEvent("!room:x", "$wanted"))
	assert.Equal(t, id.EventID("$wanted"), matched)
}

func TestRouterWaiterClaimedBeforeCallbackRuns(t *testing.T) {
	r := NewRouter(nil)

	fired := 0
	r.AttachOnce("reentrant", CategoryTimeline, nil, func(evt *event.Event) {
		fired++
		// Re-dispatching from inside the callback must not reach the
		// same waiter again.
		if fired == 1 {
			r.DispatchTimeline(timelineEvent("!room:x", "$nested"))
		}
	})

	r.DispatchTimeline(timelineEvent("!room:x", "$1"))
	assert.Equal(t, 1, fired)
}

func TestRouterAttachOnceGeneratesID(t *testing.T) {
	r := NewRouter(nil)

	fired := false
	waiterID := r.AttachOnce("", CategoryMembership, nil, func(evt *event.Event) { fired = true })
	require.NotEmpty(t, waiterID)

	// Known id detaches, unknown id is a no-op.
	r.Detach(waiterID)
	r.Detach("never-registered")

	r.DispatchMembership(&event.Event{RoomID: "!room:x", Type: event.StateMember})
	assert.False(t, fired)
}

func TestRouterAttachOnceSameIDReplaces(t *testing.T) {
	r := NewRouter(nil)

	var calls []string
	r.AttachOnce("w", CategoryTimeline, nil, func(evt *event.Event) { calls = append(calls, "first") })
	r.AttachOnce("w", CategoryTimeline, nil, func(evt *event.Event) { calls = append(calls, "second") })

	r.DispatchTimeline(timelineEvent("!room:x", "$1"))
	assert.Equal(t, []string{"second"}, calls)
}

func TestRouterSyncStateSkipsEventWaiters(t *testing.T) {
	r := NewRouter(nil)

	var since []string
	r.Attach("sync", Handler{
		OnSyncState: func(s string) { since = append(since, s) },
	})
	// A predicate-guarded waiter must not be claimed by a nil-event
	// dispatch.
	guarded := 0
	r.AttachOnce("guarded", CategorySyncState, func(evt *event.Event) bool { return true }, func(evt *event.Event) {
		guarded++
	})

	r.DispatchSyncState("s100")
	assert.Equal(t, []string{"s100"}, since)
	assert.Zero(t, guarded)

	// An unguarded sync-state waiter fires with a nil event.
	unguarded := 0
	r.AttachOnce("unguarded", CategorySyncState, nil, func(evt *event.Event) {
		assert.Nil(t, evt)
		unguarded++
	})
	r.DispatchSyncState("s101")
	assert.Equal(t, 1, unguarded)
}

func TestRouterDisposeStopsDelivery(t *testing.T) {
	r := NewRouter(nil)

	fired := 0
	r.Attach("h", Handler{OnTimeline: func(evt *event.Event) { fired++ }})
	r.AttachOnce("w", CategoryTimeline, nil, func(evt *event.Event) { fired++ })

	r.Dispose()
	r.DispatchTimeline(timelineEvent("!room:x", "$1"))
	r.DispatchSyncState("s1")

	assert.Zero(t, fired)

	// Registrations after disposal are ignored too.
	r.Attach("late", Handler{OnTimeline: func(evt *event.Event) { fired++ }})
	r.DispatchTimeline(timelineEvent("!room:x", "$2"))
	assert.Zero(t, fired)
}
