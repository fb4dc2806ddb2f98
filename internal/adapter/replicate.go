// ABOUTME: Membership replication from a source room into a target room
// ABOUTME: Invite-received waiters confirm joins as invites land

package adapter

import (
	"context"
	"fmt"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/alkem-io/matrix-adapter/internal/session"
)

// joinTimeout bounds the background join driven by an invite waiter.
const joinTimeout = 30 * time.Second

// ReplicateMembership invites every member of sourceRoom into targetRoom
// through the elevated session. A priority member, when present in the
// source, is processed first; the remaining members keep their original
// order. Before each invite goes out a one-shot waiter is attached on the
// elevated router so the member's own session can confirm the join as
// soon as the invite event arrives. Per-member failures are logged and
// skipped; only failing to read the source membership fails the
// operation.
func (svc *Service) ReplicateMembership(ctx context.Context, sourceRoom, targetRoom id.RoomID, priority id.UserID) error {
	sess, err := svc.elevated.Get(ctx)
	if err != nil {
		return err
	}
	members, err := sess.JoinedMembers(ctx, sourceRoom)
	if err != nil {
		return fmt.Errorf("read source membership of %s: %w", sourceRoom, err)
	}
	members = prioritize(members, priority)

	elevatedID := sess.Identity()
	for _, member := range members {
		if member == elevatedID {
			continue
		}
		svc.awaitInviteAndJoin(sess.Router(), targetRoom, member)
		if err := sess.Invite(ctx, targetRoom, member); err != nil {
			svc.logger.Warn("replication invite failed",
				"source", sourceRoom.String(),
				"target", targetRoom.String(),
				"identity", member.String(),
				"error", err)
		}
	}
	return nil
}

// awaitInviteAndJoin arms a one-shot waiter that, once the invite for the
// member lands in the target room, acquires the member's session and
// drives it to joined. Re-arming for the same member replaces the earlier
// waiter.
func (svc *Service) awaitInviteAndJoin(router *session.Router, roomID id.RoomID, member id.UserID) {
	waiterID := fmt.Sprintf("replicate:%s:%s", roomID, member)
	match := func(evt *event.Event) bool {
		if evt.RoomID != roomID || evt.StateKey == nil || *evt.StateKey != member.String() {
			return false
		}
		_ = evt.Content.ParseRaw(event.StateMember)
		return evt.Content.AsMember().Membership == event.MembershipInvite
	}
	router.AttachOnce(waiterID, session.CategoryMembership, match, func(evt *event.Event) {
		// Joining from the dispatch goroutine would stall the elevated
		// session's event stream for up to joinTimeout per member.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
			defer cancel()
			memberSess, err := svc.pool.Acquire(ctx, member, true)
			if err != nil {
				svc.logger.Warn("replication join skipped",
					"room", roomID.String(),
					"identity", member.String(),
					"error", err)
				return
			}
			if err := memberSess.EnsureMembership(ctx, roomID); err != nil {
				svc.logger.Warn("replication join incomplete",
					"room", roomID.String(),
					"identity", member.String(),
					"error", err)
			}
		}()
	})
}

// prioritize moves the priority member to the front, keeping the order of
// everyone else. An absent or empty priority leaves the slice untouched.
func prioritize(members []id.UserID, priority id.UserID) []id.UserID {
	if priority == "" {
		return members
	}
	for i, member := range members {
		if member != priority {
			continue
		}
		reordered := make([]id.UserID, 0, len(members))
		reordered = append(reordered, priority)
		reordered = append(reordered, members[:i]...)
		reordered = append(reordered, members[i+1:]...)
		return reordered
	}
	return members
}
