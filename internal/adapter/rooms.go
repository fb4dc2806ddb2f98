// ABOUTME: Room administration through the elevated session
// ABOUTME: Breaker-protected peeks for rooms the adapter does not occupy

package adapter

import (
	"context"
	"errors"
	"fmt"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/alkem-io/matrix-adapter/internal/breaker"
	"github.com/alkem-io/matrix-adapter/internal/session"
	"github.com/alkem-io/matrix-adapter/internal/timeline"
)

// peekAttempts bounds retries against the rate limited room-peek path.
const peekAttempts = 3

// Room is the domain view of a room.
type Room struct {
	ID      id.RoomID
	Name    string
	Members []id.UserID
	// JoinRule and HistoryVisibility are populated when state details
	// were requested.
	JoinRule          string
	HistoryVisibility string
}

// CreateRoomOptions carries room metadata for CreateRoom.
type CreateRoomOptions struct {
	Name  string
	Topic string
}

// CreateRoom creates a room through the elevated session and returns its id.
func (svc *Service) CreateRoom(ctx context.Context, opts CreateRoomOptions) (id.RoomID, error) {
	sess, err := svc.elevated.Get(ctx)
	if err != nil {
		return "", err
	}
	roomID, err := sess.CreateRoom(ctx, &mautrix.ReqCreateRoom{
		Visibility: "private",
		Preset:     "private_chat",
		Name:       opts.Name,
		Topic:      opts.Topic,
	})
	if err != nil {
		return "", err
	}
	svc.logger.Info("room created", "room", roomID.String(), "name", opts.Name)
	return roomID, nil
}

// GetRoomDetails reads a room's name and membership, and with withState
// also its join rule and history visibility. Rooms the elevated session
// does not occupy are read through the breaker-protected peek path.
func (svc *Service) GetRoomDetails(ctx context.Context, roomID id.RoomID, withState bool) (*Room, error) {
	sess, err := svc.elevated.Get(ctx)
	if err != nil {
		return nil, err
	}
	state, err := svc.roomState(ctx, sess, roomID)
	if err != nil {
		return nil, err
	}
	room := &Room{
		ID:      roomID,
		Name:    stateName(state),
		Members: stateJoinedMembers(state),
	}
	if withState {
		room.JoinRule = string(stateJoinRule(state))
		room.HistoryVisibility = string(stateHistoryVisibility(state))
	}
	return room, nil
}

// GetRoomTimeline reads the room's history as converted messages with
// their reactions attached.
func (svc *Service) GetRoomTimeline(ctx context.Context, roomID id.RoomID) ([]*timeline.Message, error) {
	sess, err := svc.elevated.Get(ctx)
	if err != nil {
		return nil, err
	}
	messages, err := svc.converter.Messages(ctx, sess, roomID)
	return messages, mapRoomError(roomID, err)
}

// GetRoomMembers lists the identities joined to a room.
func (svc *Service) GetRoomMembers(ctx context.Context, roomID id.RoomID) ([]id.UserID, error) {
	sess, err := svc.elevated.Get(ctx)
	if err != nil {
		return nil, err
	}
	state, err := svc.roomState(ctx, sess, roomID)
	if err != nil {
		return nil, err
	}
	return stateJoinedMembers(state), nil
}

// GetAllRooms lists every room the elevated session occupies. Name
// resolution failures degrade to an unnamed entry instead of failing the
// listing.
func (svc *Service) GetAllRooms(ctx context.Context) ([]*Room, error) {
	sess, err := svc.elevated.Get(ctx)
	if err != nil {
		return nil, err
	}
	roomIDs, err := sess.JoinedRooms(ctx)
	if err != nil {
		return nil, err
	}
	rooms := make([]*Room, 0, len(roomIDs))
	for _, roomID := range roomIDs {
		room := &Room{ID: roomID}
		if state, err := sess.State(ctx, roomID); err == nil {
			room.Name = stateName(state)
		} else {
			svc.logger.Warn("room state unavailable", "room", roomID.String(), "error", err)
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}

// UpdateRoomState adjusts history visibility and joinability. Nil leaves
// a field untouched; at least one change must be requested. The elevated
// identity's power level is checked against the room's state requirements
// before writing.
func (svc *Service) UpdateRoomState(ctx context.Context, roomID id.RoomID, historyVisible, allowJoining *bool) (*Room, error) {
	if historyVisible == nil && allowJoining == nil {
		return nil, fmt.Errorf("%w: no room state changes requested", ErrNotSupported)
	}
	sess, err := svc.elevated.Get(ctx)
	if err != nil {
		return nil, err
	}
	if !svc.maySetState(ctx, sess, roomID) {
		return nil, fmt.Errorf("%w: %s lacks the power level for state changes in %s",
			ErrNotSupported, sess.Identity(), roomID)
	}

	if historyVisible != nil {
		visibility := event.HistoryVisibilityJoined
		if *historyVisible {
			visibility = event.HistoryVisibilityWorldReadable
		}
		err := sess.SendStateEvent(ctx, roomID, event.StateHistoryVisibility, "", &event.HistoryVisibilityEventContent{
			HistoryVisibility: visibility,
		})
		if err != nil {
			return nil, err
		}
	}
	if allowJoining != nil {
		rule := event.JoinRuleInvite
		if *allowJoining {
			rule = event.JoinRulePublic
		}
		err := sess.SendStateEvent(ctx, roomID, event.StateJoinRules, "", &event.JoinRulesEventContent{
			JoinRule: rule,
		})
		if err != nil {
			return nil, err
		}
	}
	return svc.GetRoomDetails(ctx, roomID, true)
}

// AddUserToRoom invites the user into one room.
func (svc *Service) AddUserToRoom(ctx context.Context, roomID id.RoomID, user id.UserID) error {
	return svc.AddUserToRooms(ctx, []id.RoomID{roomID}, user)
}

// AddUserToRooms invites the user into every listed room. The user's own
// session auto-accepts the invites as they arrive. Per-room invite
// failures are logged and skipped; only failing to establish the sessions
// fails the operation.
func (svc *Service) AddUserToRooms(ctx context.Context, roomIDs []id.RoomID, user id.UserID) error {
	elevated, err := svc.elevated.Get(ctx)
	if err != nil {
		return err
	}
	// Started so the invite-received handler can accept.
	if _, err := svc.pool.Acquire(ctx, user, true); err != nil {
		return err
	}
	for _, roomID := range roomIDs {
		if err := elevated.Invite(ctx, roomID, user); err != nil {
			svc.logger.Warn("invite failed",
				"room", roomID.String(),
				"identity", user.String(),
				"error", err)
		}
	}
	return nil
}

// RemoveUserFromRoom removes the user from one room.
func (svc *Service) RemoveUserFromRoom(ctx context.Context, roomID id.RoomID, user id.UserID) error {
	return svc.RemoveUserFromRooms(ctx, []id.RoomID{roomID}, user)
}

// RemoveUserFromRooms removes the user from every listed room, logging
// and skipping per-room failures.
func (svc *Service) RemoveUserFromRooms(ctx context.Context, roomIDs []id.RoomID, user id.UserID) error {
	elevated, err := svc.elevated.Get(ctx)
	if err != nil {
		return err
	}
	for _, roomID := range roomIDs {
		if err := elevated.Kick(ctx, roomID, user, "removed by platform"); err != nil {
			svc.logger.Warn("removal failed",
				"room", roomID.String(),
				"identity", user.String(),
				"error", err)
		}
	}
	return nil
}

// roomState reads the full state of a room, going through the circuit
// breaker when the session does not occupy the room. Rooms the server
// does not know, or refuses to show, surface as ErrEntityNotFound.
func (svc *Service) roomState(ctx context.Context, sess *session.Session, roomID id.RoomID) (mautrix.RoomStateMap, error) {
	joined, err := sess.IsJoined(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if joined {
		state, err := sess.State(ctx, roomID)
		return state, mapRoomError(roomID, err)
	}

	var state mautrix.RoomStateMap
	var lastErr error
	for attempt := 1; attempt <= peekAttempts; attempt++ {
		err := svc.peek.Do(ctx, attempt, peekAttempts, func(ctx context.Context) error {
			var err error
			state, err = sess.State(ctx, roomID)
			return err
		})
		if err == nil {
			return state, nil
		}
		lastErr = err
		var open *breaker.OpenError
		if errors.As(err, &open) {
			// Fast-failed before reaching the remote side.
			return nil, err
		}
	}
	snap := svc.peek.Snapshot()
	svc.logger.Warn("room peek exhausted retries",
		"room", roomID.String(),
		"breaker_state", string(snap.State),
		"consecutive_failures", snap.ConsecutiveFailures,
		"error", lastErr)
	return nil, mapRoomError(roomID, lastErr)
}

// maySetState applies the state-read/guard pattern: read the room's power
// levels and compare the acting identity against the state requirement.
// Rooms without readable power levels fall back to letting the server
// decide.
func (svc *Service) maySetState(ctx context.Context, sess *session.Session, roomID id.RoomID) bool {
	var levels event.PowerLevelsEventContent
	if err := sess.StateEvent(ctx, roomID, event.StatePowerLevels, "", &levels); err != nil {
		return true
	}
	return levels.GetUserLevel(sess.Identity()) >= levels.StateDefault()
}

// mapRoomError translates protocol-level absence into the taxonomy. A
// timeline event whose sender never resolved is absence too: the entity
// the caller asked about cannot be attributed.
func mapRoomError(roomID id.RoomID, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mautrix.MNotFound) || errors.Is(err, mautrix.MForbidden) || errors.Is(err, timeline.ErrMissingSender) {
		return fmt.Errorf("%w: room %s: %v", ErrEntityNotFound, roomID, err)
	}
	return err
}

// stateName extracts the display name from a state snapshot.
func stateName(state mautrix.RoomStateMap) string {
	evt, ok := state[event.StateRoomName][""]
	if !ok {
		return ""
	}
	_ = evt.Content.ParseRaw(event.StateRoomName)
	if content, ok := evt.Content.Parsed.(*event.RoomNameEventContent); ok {
		return content.Name
	}
	return ""
}

// stateJoinedMembers extracts the joined identities from a state snapshot.
func stateJoinedMembers(state mautrix.RoomStateMap) []id.UserID {
	memberEvents := state[event.StateMember]
	members := make([]id.UserID, 0, len(memberEvents))
	for stateKey, evt := range memberEvents {
		_ = evt.Content.ParseRaw(event.StateMember)
		content, ok := evt.Content.Parsed.(*event.MemberEventContent)
		if !ok || content.Membership != event.MembershipJoin {
			continue
		}
		members = append(members, id.UserID(stateKey))
	}
	return members
}

// stateJoinRule extracts the join rule from a state snapshot.
func stateJoinRule(state mautrix.RoomStateMap) event.JoinRule {
	evt, ok := state[event.StateJoinRules][""]
	if !ok {
		return ""
	}
	_ = evt.Content.ParseRaw(event.StateJoinRules)
	if content, ok := evt.Content.Parsed.(*event.JoinRulesEventContent); ok {
		return content.JoinRule
	}
	return ""
}

// stateHistoryVisibility extracts the history visibility from a state
// snapshot.
func stateHistoryVisibility(state mautrix.RoomStateMap) event.HistoryVisibility {
	evt, ok := state[event.StateHistoryVisibility][""]
	if !ok {
		return ""
	}
	_ = evt.Content.ParseRaw(event.StateHistoryVisibility)
	if content, ok := evt.Content.Parsed.(*event.HistoryVisibilityEventContent); ok {
		return content.HistoryVisibility
	}
	return ""
}
