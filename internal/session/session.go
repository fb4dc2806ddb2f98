// ABOUTME: Session wraps one authenticated protocol client for one identity
// ABOUTME: Owns the event router and exposes send/invite/kick/join operations

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Client is the protocol capability a session consumes. *matrix.Client
// satisfies it; tests substitute fakes.
type Client interface {
	Identity() id.UserID

	SyncWithContext(ctx context.Context) error
	StopSync()
	OnEventType(eventType event.Type, handler mautrix.EventHandler)
	OnSync(handler mautrix.SyncHandler)

	CreateRoom(ctx context.Context, req *mautrix.ReqCreateRoom) (*mautrix.RespCreateRoom, error)
	JoinRoomByID(ctx context.Context, roomID id.RoomID) (*mautrix.RespJoinRoom, error)
	InviteUser(ctx context.Context, roomID id.RoomID, req *mautrix.ReqInviteUser) (*mautrix.RespInviteUser, error)
	KickUser(ctx context.Context, roomID id.RoomID, req *mautrix.ReqKickUser) (*mautrix.RespKickUser, error)

	SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON interface{}, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
	SendReaction(ctx context.Context, roomID id.RoomID, eventID id.EventID, reaction string) (*mautrix.RespSendEvent, error)
	RedactEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID, extra ...mautrix.ReqRedact) (*mautrix.RespSendEvent, error)
	MarkRead(ctx context.Context, roomID id.RoomID, eventID id.EventID) error

	Messages(ctx context.Context, roomID id.RoomID, from, to string, dir mautrix.Direction, filter *mautrix.FilterPart, limit int) (*mautrix.RespMessages, error)
	State(ctx context.Context, roomID id.RoomID) (mautrix.RoomStateMap, error)
	StateEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, stateKey string, outContent interface{}) error
	SendStateEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, stateKey string, contentJSON interface{}) (*mautrix.RespSendEvent, error)
	JoinedMembers(ctx context.Context, roomID id.RoomID) (*mautrix.RespJoinedMembers, error)
	JoinedRooms(ctx context.Context) (*mautrix.RespJoinedRooms, error)

	GetAccountData(ctx context.Context, name string, output interface{}) error
	SetAccountData(ctx context.Context, name string, data interface{}) error
}

// Membership convergence after a join is eventually consistent; joins are
// polled with a short delay up to a bounded retry count.
const (
	membershipPollAttempts = 10
	membershipPollDelay    = 200 * time.Millisecond

	lifecycleHandlerID = "session.lifecycle"

	handlerTimeout = 30 * time.Second
)

// Options carries the capability closures a session's lifecycle handlers
// call back into. Closures, not whole collaborators, keep the object graph
// acyclic.
type Options struct {
	// OnDirectInvite is called after a session auto-accepts an invite
	// flagged as direct, with the inviting counterpart and the room.
	OnDirectInvite func(ctx context.Context, sess *Session, counterpart id.UserID, roomID id.RoomID)
	// OnLeave is called when a session's identity has left a room.
	OnLeave func(ctx context.Context, sess *Session, roomID id.RoomID)
}

// Session is one identity's authenticated connection to the chat protocol.
// It is owned exclusively by whichever component created it and must not be
// constructed for an unauthenticated client.
type Session struct {
	identity id.UserID
	client   Client
	router   *Router
	logger   *slog.Logger

	mu         sync.Mutex
	alive      bool
	syncCancel context.CancelFunc
}

// New creates a session for an authenticated client and installs the
// lifecycle handlers (invite auto-accept, leave cleanup) on its router.
func New(client Client, opts Options, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	identity := client.Identity()
	s := &Session{
		identity: identity,
		client:   client,
		router:   NewRouter(logger),
		logger:   logger.With("component", "session", "identity", identity.String()),
	}
	s.router.Bind(client)
	s.router.Attach(lifecycleHandlerID, Handler{
		OnMembership: s.handleOwnMembership(opts),
	})
	return s
}

// Identity returns the protocol identity this session is authenticated as.
func (s *Session) Identity() id.UserID {
	return s.identity
}

// Router returns the session's event router.
func (s *Session) Router() *Router {
	return s.router
}

// Alive reports whether the sync loop is running.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

// Start launches the sync loop. Safe to call more than once.
func (s *Session) Start() {
	s.mu.Lock()
	if s.alive {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.syncCancel = cancel
	s.alive = true
	s.mu.Unlock()

	go func() {
		if err := s.client.SyncWithContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("sync loop ended", "error", err)
		}
	}()
	s.logger.Debug("sync loop started")
}

// Close stops the sync loop and disposes the router. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.syncCancel != nil {
		s.syncCancel()
		s.syncCancel = nil
	}
	wasAlive := s.alive
	s.alive = false
	s.mu.Unlock()

	if wasAlive {
		s.client.StopSync()
	}
	s.router.Dispose()
	s.logger.Debug("session closed")
}

// SendMessage sends a text message to a room and returns the event id. The
// body is treated as markdown and rendered to a formatted HTML variant.
func (s *Session) SendMessage(ctx context.Context, roomID id.RoomID, body string) (id.EventID, error) {
	resp, err := s.client.SendMessageEvent(ctx, roomID, event.EventMessage, messageContent(body))
	if err != nil {
		return "", fmt.Errorf("sending message to %s: %w", roomID, err)
	}
	return resp.EventID, nil
}

// SendReply sends a text message into the thread rooted at threadRoot.
func (s *Session) SendReply(ctx context.Context, roomID id.RoomID, threadRoot id.EventID, body string) (id.EventID, error) {
	content := messageContent(body)
	content.RelatesTo = &event.RelatesTo{
		Type:    event.RelThread,
		EventID: threadRoot,
	}
	resp, err := s.client.SendMessageEvent(ctx, roomID, event.EventMessage, content)
	if err != nil {
		return "", fmt.Errorf("sending reply to %s in %s: %w", threadRoot, roomID, err)
	}
	return resp.EventID, nil
}

// SendReaction annotates the target event with an emoji.
func (s *Session) SendReaction(ctx context.Context, roomID id.RoomID, target id.EventID, emoji string) (id.EventID, error) {
	resp, err := s.client.SendReaction(ctx, roomID, target, emoji)
	if err != nil {
		return "", fmt.Errorf("reacting to %s in %s: %w", target, roomID, err)
	}
	return resp.EventID, nil
}

// Redact removes the content of a previously sent event.
func (s *Session) Redact(ctx context.Context, roomID id.RoomID, eventID id.EventID) error {
	if _, err := s.client.RedactEvent(ctx, roomID, eventID); err != nil {
		return fmt.Errorf("redacting %s in %s: %w", eventID, roomID, err)
	}
	return nil
}

// Invite invites another identity into a room.
func (s *Session) Invite(ctx context.Context, roomID id.RoomID, userID id.UserID) error {
	if _, err := s.client.InviteUser(ctx, roomID, &mautrix.ReqInviteUser{UserID: userID}); err != nil {
		return fmt.Errorf("inviting %s to %s: %w", userID, roomID, err)
	}
	return nil
}

// Kick removes another identity from a room.
func (s *Session) Kick(ctx context.Context, roomID id.RoomID, userID id.UserID, reason string) error {
	if _, err := s.client.KickUser(ctx, roomID, &mautrix.ReqKickUser{UserID: userID, Reason: reason}); err != nil {
		return fmt.Errorf("kicking %s from %s: %w", userID, roomID, err)
	}
	return nil
}

// Join joins a room by id.
func (s *Session) Join(ctx context.Context, roomID id.RoomID) error {
	if _, err := s.client.JoinRoomByID(ctx, roomID); err != nil {
		return fmt.Errorf("joining %s: %w", roomID, err)
	}
	return nil
}

// EnsureMembership joins a room and polls until the joined-room list
// reflects the membership, bounded by membershipPollAttempts.
func (s *Session) EnsureMembership(ctx context.Context, roomID id.RoomID) error {
	joined, err := s.IsJoined(ctx, roomID)
	if err != nil {
		return err
	}
	if joined {
		return nil
	}
	if err := s.Join(ctx, roomID); err != nil {
		return err
	}
	for attempt := 0; attempt < membershipPollAttempts; attempt++ {
		joined, err := s.IsJoined(ctx, roomID)
		if err != nil {
			return err
		}
		if joined {
			return nil
		}
		select {
		case <-time.After(membershipPollDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("membership in %s did not converge for %s", roomID, s.identity)
}

// IsJoined reports whether the session currently occupies the room.
func (s *Session) IsJoined(ctx context.Context, roomID id.RoomID) (bool, error) {
	resp, err := s.client.JoinedRooms(ctx)
	if err != nil {
		return false, fmt.Errorf("listing joined rooms: %w", err)
	}
	for _, joined := range resp.JoinedRooms {
		if joined == roomID {
			return true, nil
		}
	}
	return false, nil
}

// CreateRoom creates a room and returns its id.
func (s *Session) CreateRoom(ctx context.Context, req *mautrix.ReqCreateRoom) (id.RoomID, error) {
	resp, err := s.client.CreateRoom(ctx, req)
	if err != nil {
		return "", fmt.Errorf("creating room: %w", err)
	}
	return resp.RoomID, nil
}

// JoinedRooms lists the rooms the session occupies.
func (s *Session) JoinedRooms(ctx context.Context) ([]id.RoomID, error) {
	resp, err := s.client.JoinedRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing joined rooms: %w", err)
	}
	return resp.JoinedRooms, nil
}

// JoinedMembers lists the identities currently joined to a room, in a
// stable order.
func (s *Session) JoinedMembers(ctx context.Context, roomID id.RoomID) ([]id.UserID, error) {
	resp, err := s.client.JoinedMembers(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("listing members of %s: %w", roomID, err)
	}
	members := make([]id.UserID, 0, len(resp.Joined))
	for member := range resp.Joined {
		members = append(members, member)
	}
	slices.Sort(members)
	return members, nil
}

// State reads the full current state of a room.
func (s *Session) State(ctx context.Context, roomID id.RoomID) (mautrix.RoomStateMap, error) {
	return s.client.State(ctx, roomID)
}

// StateEvent reads one state event's content into out.
func (s *Session) StateEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, stateKey string, out interface{}) error {
	return s.client.StateEvent(ctx, roomID, eventType, stateKey, out)
}

// SendStateEvent writes one state event.
func (s *Session) SendStateEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, stateKey string, content interface{}) error {
	if _, err := s.client.SendStateEvent(ctx, roomID, eventType, stateKey, content); err != nil {
		return fmt.Errorf("sending state %s to %s: %w", eventType.Type, roomID, err)
	}
	return nil
}

// Messages fetches one page of a room's timeline.
func (s *Session) Messages(ctx context.Context, roomID id.RoomID, from, to string, dir mautrix.Direction, filter *mautrix.FilterPart, limit int) (*mautrix.RespMessages, error) {
	return s.client.Messages(ctx, roomID, from, to, dir, filter, limit)
}

// MarkRead sends a read receipt for the given event.
func (s *Session) MarkRead(ctx context.Context, roomID id.RoomID, eventID id.EventID) error {
	return s.client.MarkRead(ctx, roomID, eventID)
}

// GetAccountData reads per-account data of the given type into out.
func (s *Session) GetAccountData(ctx context.Context, name string, out interface{}) error {
	return s.client.GetAccountData(ctx, name, out)
}

// SetAccountData writes per-account data of the given type.
func (s *Session) SetAccountData(ctx context.Context, name string, data interface{}) error {
	return s.client.SetAccountData(ctx, name, data)
}

// handleOwnMembership returns the persistent membership handler installed
// at construction: invites for the owning identity are auto-accepted (and
// recorded when flagged direct), leaves trigger room cleanup.
func (s *Session) handleOwnMembership(opts Options) func(evt *event.Event) {
	return func(evt *event.Event) {
		if evt.StateKey == nil || id.UserID(*evt.StateKey) != s.identity {
			return
		}
		member := evt.Content.AsMember()
		if member == nil {
			return
		}
		switch member.Membership {
		case event.MembershipInvite:
			// Joining from the sync goroutine would block the stream.
			go s.acceptInvite(evt.RoomID, evt.Sender, member.IsDirect, opts.OnDirectInvite)
		case event.MembershipLeave:
			if opts.OnLeave != nil {
				go func() {
					ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
					defer cancel()
					opts.OnLeave(ctx, s, evt.RoomID)
				}()
			}
		}
	}
}

// acceptInvite joins an invited room and records direct rooms.
func (s *Session) acceptInvite(roomID id.RoomID, inviter id.UserID, isDirect bool, record func(ctx context.Context, sess *Session, counterpart id.UserID, roomID id.RoomID)) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if err := s.Join(ctx, roomID); err != nil {
		s.logger.Warn("failed to accept invite", "room", roomID.String(), "error", err)
		return
	}
	s.logger.Debug("invite accepted", "room", roomID.String(), "inviter", inviter.String(), "direct", isDirect)
	if isDirect && record != nil {
		record(ctx, s, inviter, roomID)
	}
}
