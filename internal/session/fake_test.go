// ABOUTME: In-memory fake of the protocol client for session tests
// ABOUTME: Records calls and serves canned responses

package session

import (
	"context"
	"sync"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// sentEvent records one SendMessageEvent call.
type sentEvent struct {
	roomID  id.RoomID
	evtType event.Type
	content interface{}
}

// fakeClient satisfies Client without a homeserver. The zero value plus an
// identity is usable; error fields force failures.
type fakeClient struct {
	mu sync.Mutex

	identity id.UserID

	sent        []sentEvent
	reactions   []id.EventID
	redactions  []id.EventID
	invited     []id.UserID
	kicked      []id.UserID
	joinedCalls []id.RoomID

	joinedRooms []id.RoomID
	members     map[id.RoomID][]id.UserID
	state       mautrix.RoomStateMap
	accountData map[string]interface{}

	nextEventID id.EventID
	sendErr     error
	joinErr     error
	stateErr    error

	// joinAdds controls whether JoinRoomByID updates joinedRooms,
	// letting tests model slow membership convergence.
	joinAdds bool

	syncStarted chan struct{}
	stopped     bool
}

func newFakeClient(identity id.UserID) *fakeClient {
	return &fakeClient{
		identity:    identity,
		members:     make(map[id.RoomID][]id.UserID),
		accountData: make(map[string]interface{}),
		nextEventID: "$event-1",
		joinAdds:    true,
		syncStarted: make(chan struct{}, 8),
	}
}

func (f *fakeClient) Identity() id.UserID { return f.identity }

func (f *fakeClient) SyncWithContext(ctx context.Context) error {
	select {
	case f.syncStarted <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeClient) StopSync() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeClient) OnEventType(eventType event.Type, handler mautrix.EventHandler) {}
func (f *fakeClient) OnSync(handler mautrix.SyncHandler)                            {}

func (f *fakeClient) CreateRoom(ctx context.Context, req *mautrix.ReqCreateRoom) (*mautrix.RespCreateRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	roomID := id.RoomID("!created:" + string(f.identity))
	f.joinedRooms = append(f.joinedRooms, roomID)
	return &mautrix.RespCreateRoom{RoomID: roomID}, nil
}

func (f *fakeClient) JoinRoomByID(ctx context.Context, roomID id.RoomID) (*mautrix.RespJoinRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return nil, f.joinErr
	}
	f.joinedCalls = append(f.joinedCalls, roomID)
	if f.joinAdds {
		f.joinedRooms = append(f.joinedRooms, roomID)
	}
	return &mautrix.RespJoinRoom{RoomID: roomID}, nil
}

func (f *fakeClient) InviteUser(ctx context.Context, roomID id.RoomID, req *mautrix.ReqInviteUser) (*mautrix.RespInviteUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invited = append(f.invited, req.UserID)
	return &mautrix.RespInviteUser{}, nil
}

func (f *fakeClient) KickUser(ctx context.Context, roomID id.RoomID, req *mautrix.ReqKickUser) (*mautrix.RespKickUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kicked = append(f.kicked, req.UserID)
	return &mautrix.RespKickUser{}, nil
}

func (f *fakeClient) SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON interface{}, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, sentEvent{roomID: roomID, evtType: eventType, content: contentJSON})
	return &mautrix.RespSendEvent{EventID: f.nextEventID}, nil
}

func (f *fakeClient) SendReaction(ctx context.Context, roomID id.RoomID, eventID id.EventID, reaction string) (*mautrix.RespSendEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, eventID)
	return &mautrix.RespSendEvent{EventID: f.nextEventID}, nil
}

func (f *fakeClient) RedactEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID, extra ...mautrix.ReqRedact) (*mautrix.RespSendEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.redactions = append(f.redactions, eventID)
	return &mautrix.RespSendEvent{EventID: f.nextEventID}, nil
}

func (f *fakeClient) MarkRead(ctx context.Context, roomID id.RoomID, eventID id.EventID) error {
	return nil
}

func (f *fakeClient) Messages(ctx context.Context, roomID id.RoomID, from, to string, dir mautrix.Direction, filter *mautrix.FilterPart, limit int) (*mautrix.RespMessages, error) {
	return &mautrix.RespMessages{}, nil
}

func (f *fakeClient) State(ctx context.Context, roomID id.RoomID) (mautrix.RoomStateMap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stateErr != nil {
		return nil, f.stateErr
	}
	return f.state, nil
}

func (f *fakeClient) StateEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, stateKey string, outContent interface{}) error {
	return mautrix.MNotFound
}

func (f *fakeClient) SendStateEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, stateKey string, contentJSON interface{}) (*mautrix.RespSendEvent, error) {
	return &mautrix.RespSendEvent{EventID: f.nextEventID}, nil
}

func (f *fakeClient) JoinedMembers(ctx context.Context, roomID id.RoomID) (*mautrix.RespJoinedMembers, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := &mautrix.RespJoinedMembers{Joined: make(map[id.UserID]mautrix.JoinedMember)}
	for _, member := range f.members[roomID] {
		resp.Joined[member] = mautrix.JoinedMember{}
	}
	return resp, nil
}

func (f *fakeClient) JoinedRooms(ctx context.Context) (*mautrix.RespJoinedRooms, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rooms := make([]id.RoomID, len(f.joinedRooms))
	copy(rooms, f.joinedRooms)
	return &mautrix.RespJoinedRooms{JoinedRooms: rooms}, nil
}

func (f *fakeClient) GetAccountData(ctx context.Context, name string, output interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.accountData[name]
	if !ok {
		return mautrix.MNotFound
	}
	if chats, ok := output.(*event.DirectChatsEventContent); ok {
		if stored, ok := data.(*event.DirectChatsEventContent); ok {
			*chats = *stored
		}
	}
	return nil
}

func (f *fakeClient) SetAccountData(ctx context.Context, name string, data interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accountData[name] = data
	return nil
}

func (f *fakeClient) sentEvents() []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentEvent, len(f.sent))
	copy(out, f.sent)
	return out
}
