// ABOUTME: Direct-message room resolution over m.direct account data
// ABOUTME: Creates direct rooms on demand, overwrites mappings last-writer-wins

package direct

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Conn is the slice of a session the resolver operates on.
type Conn interface {
	Identity() id.UserID
	GetAccountData(ctx context.Context, name string, out interface{}) error
	SetAccountData(ctx context.Context, name string, data interface{}) error
	CreateRoom(ctx context.Context, req *mautrix.ReqCreateRoom) (id.RoomID, error)
	IsJoined(ctx context.Context, roomID id.RoomID) (bool, error)
}

// Resolver maintains the counterpart-to-room mapping inside each
// identity's account data.
type Resolver struct {
	logger *slog.Logger
}

// NewResolver creates a resolver. Pass nil logger for default.
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger.With("component", "direct")}
}

// ResolveOrCreate returns the direct room shared with counterpart,
// creating and recording one when no usable mapping exists.
func (r *Resolver) ResolveOrCreate(ctx context.Context, conn Conn, counterpart id.UserID) (id.RoomID, error) {
	chats, err := r.read(ctx, conn)
	if err != nil {
		return "", err
	}
	for _, roomID := range chats[counterpart] {
		joined, err := conn.IsJoined(ctx, roomID)
		if err != nil {
			return "", err
		}
		if joined {
			return roomID, nil
		}
		// Stale mapping: the room was lost or left. Fall through to
		// creation; the write below replaces it.
		r.logger.Debug("stale direct mapping",
			"identity", conn.Identity().String(),
			"counterpart", counterpart.String(),
			"room", roomID.String())
	}

	roomID, err := conn.CreateRoom(ctx, &mautrix.ReqCreateRoom{
		Visibility: "private",
		Preset:     "trusted_private_chat",
		Invite:     []id.UserID{counterpart},
		IsDirect:   true,
	})
	if err != nil {
		return "", fmt.Errorf("creating direct room with %s: %w", counterpart, err)
	}
	if err := r.Record(ctx, conn, counterpart, roomID); err != nil {
		return "", err
	}
	r.logger.Debug("direct room created",
		"identity", conn.Identity().String(),
		"counterpart", counterpart.String(),
		"room", roomID.String())
	return roomID, nil
}

// Record stores map[counterpart] = [roomID], overwriting any prior
// mapping for that counterpart. Last writer wins: when two near
// simultaneous creations race, the mapping converges on whichever write
// lands last, and a caller holding the losing room id can keep using it
// while it stays joinable.
func (r *Resolver) Record(ctx context.Context, conn Conn, counterpart id.UserID, roomID id.RoomID) error {
	chats, err := r.read(ctx, conn)
	if err != nil {
		return err
	}
	chats[counterpart] = []id.RoomID{roomID}
	if err := conn.SetAccountData(ctx, event.AccountDataDirectChats.Type, &chats); err != nil {
		return fmt.Errorf("storing direct mapping for %s: %w", counterpart, err)
	}
	return nil
}

// Forget drops every mapping that points at the given room.
func (r *Resolver) Forget(ctx context.Context, conn Conn, roomID id.RoomID) error {
	chats, err := r.read(ctx, conn)
	if err != nil {
		return err
	}
	changed := false
	for counterpart, rooms := range chats {
		kept := rooms[:0]
		for _, mapped := range rooms {
			if mapped != roomID {
				kept = append(kept, mapped)
			}
		}
		if len(kept) != len(rooms) {
			changed = true
		}
		if len(kept) == 0 {
			delete(chats, counterpart)
		} else {
			chats[counterpart] = kept
		}
	}
	if !changed {
		return nil
	}
	if err := conn.SetAccountData(ctx, event.AccountDataDirectChats.Type, &chats); err != nil {
		return fmt.Errorf("forgetting direct mappings for %s: %w", roomID, err)
	}
	return nil
}

// Reverse scans the mapping for the counterpart behind a direct room.
func (r *Resolver) Reverse(ctx context.Context, conn Conn, roomID id.RoomID) (id.UserID, bool, error) {
	chats, err := r.read(ctx, conn)
	if err != nil {
		return "", false, err
	}
	for counterpart, rooms := range chats {
		for _, mapped := range rooms {
			if mapped == roomID {
				return counterpart, true, nil
			}
		}
	}
	return "", false, nil
}

// read loads the m.direct map, treating an absent one as empty.
func (r *Resolver) read(ctx context.Context, conn Conn) (event.DirectChatsEventContent, error) {
	chats := event.DirectChatsEventContent{}
	err := conn.GetAccountData(ctx, event.AccountDataDirectChats.Type, &chats)
	if err != nil && !errors.Is(err, mautrix.MNotFound) {
		return nil, fmt.Errorf("reading direct mappings: %w", err)
	}
	if chats == nil {
		chats = event.DirectChatsEventContent{}
	}
	return chats, nil
}
