// ABOUTME: Tests for membership replication
// ABOUTME: Invite ordering, priority handling, invite-driven joins

package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const (
	sourceRoom = id.RoomID("!source:matrix.local")
	targetRoom = id.RoomID("!target:matrix.local")
)

func inviteEvent(roomID id.RoomID, member id.UserID) *event.Event {
	stateKey := member.String()
	return &event.Event{
		Type:     event.StateMember,
		RoomID:   roomID,
		StateKey: &stateKey,
		Content: event.Content{
			Parsed: &event.MemberEventContent{Membership: event.MembershipInvite},
		},
	}
}

func TestReplicateMembershipInvitesAllButElevated(t *testing.T) {
	h := newHarness(t, false)
	h.admin.members[sourceRoom] = []id.UserID{h.adminID, alice, bob, carol}

	err := h.svc.ReplicateMembership(context.Background(), sourceRoom, targetRoom, "")
	require.NoError(t, err)

	// Source members arrive sorted; the elevated identity is skipped.
	assert.Equal(t, []id.UserID{alice, bob, carol}, h.admin.invitedTo(targetRoom))
}

func TestReplicateMembershipPriorityGoesFirst(t *testing.T) {
	h := newHarness(t, false)
	h.admin.members[sourceRoom] = []id.UserID{h.adminID, alice, bob, carol}

	err := h.svc.ReplicateMembership(context.Background(), sourceRoom, targetRoom, carol)
	require.NoError(t, err)
	assert.Equal(t, []id.UserID{carol, alice, bob}, h.admin.invitedTo(targetRoom))
}

func TestReplicateMembershipAbsentPriorityIgnored(t *testing.T) {
	h := newHarness(t, false)
	h.admin.members[sourceRoom] = []id.UserID{alice, bob}

	err := h.svc.ReplicateMembership(context.Background(), sourceRoom, targetRoom, carol)
	require.NoError(t, err)
	assert.Equal(t, []id.UserID{alice, bob}, h.admin.invitedTo(targetRoom))
}

func TestReplicateMembershipJoinsOnInviteArrival(t *testing.T) {
	h := newHarness(t, false)
	h.admin.members[sourceRoom] = []id.UserID{alice}

	err := h.svc.ReplicateMembership(context.Background(), sourceRoom, targetRoom, "")
	require.NoError(t, err)

	adminSess, err := h.elevated.Get(context.Background())
	require.NoError(t, err)
	adminSess.Router().DispatchMembership(inviteEvent(targetRoom, alice))

	// The join runs off the dispatch goroutine.
	client := h.clientFor(alice)
	require.Eventually(t, func() bool {
		return len(client.joined()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []id.RoomID{targetRoom}, client.joined())

	// The waiter is one-shot.
	adminSess.Router().DispatchMembership(inviteEvent(targetRoom, alice))
	assert.Never(t, func() bool {
		return len(client.joined()) > 1
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestReplicateMembershipIgnoresForeignMembershipEvents(t *testing.T) {
	h := newHarness(t, false)
	h.admin.members[sourceRoom] = []id.UserID{alice}

	err := h.svc.ReplicateMembership(context.Background(), sourceRoom, targetRoom, "")
	require.NoError(t, err)

	adminSess, err := h.elevated.Get(context.Background())
	require.NoError(t, err)
	// Wrong room, wrong member, wrong membership: none may trigger a join.
	adminSess.Router().DispatchMembership(inviteEvent("!other:matrix.local", alice))
	adminSess.Router().DispatchMembership(inviteEvent(targetRoom, bob))
	left := inviteEvent(targetRoom, alice)
	left.Content.Parsed.(*event.MemberEventContent).Membership = event.MembershipLeave
	adminSess.Router().DispatchMembership(left)

	assert.Empty(t, h.clientFor(alice).joined())
}

func TestPrioritize(t *testing.T) {
	members := []id.UserID{alice, bob, carol}

	assert.Equal(t, []id.UserID{bob, alice, carol}, prioritize(members, bob))
	assert.Equal(t, members, prioritize(members, ""))
	assert.Equal(t, members, prioritize(members, "@stranger:matrix.local"))
}
