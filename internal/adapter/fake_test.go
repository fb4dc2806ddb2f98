// ABOUTME: Fake protocol client and wiring harness for adapter tests
// ABOUTME: Builds a real pool, elevated holder, breaker and converter

package adapter

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/alkem-io/matrix-adapter/internal/breaker"
	"github.com/alkem-io/matrix-adapter/internal/direct"
	"github.com/alkem-io/matrix-adapter/internal/session"
	"github.com/alkem-io/matrix-adapter/internal/timeline"
)

type sentState struct {
	roomID  id.RoomID
	evtType event.Type
	content interface{}
}

// fakeProtoClient satisfies session.Client in memory.
type fakeProtoClient struct {
	mu sync.Mutex

	identity id.UserID

	sentBodies  map[id.RoomID][]interface{}
	reactions   []id.EventID
	redactions  []id.EventID
	invited     map[id.RoomID][]id.UserID
	kicked      map[id.RoomID][]id.UserID
	joinedCalls []id.RoomID
	stateSent   []sentState
	markedRead  []id.EventID

	joinedRooms   []id.RoomID
	members       map[id.RoomID][]id.UserID
	stateMap      mautrix.RoomStateMap
	stateErr      error
	timelineChunk []*event.Event // newest first
	accountData   map[string]interface{}
	created       []id.RoomID
	nextRoom      id.RoomID
}

func newFakeProtoClient(identity id.UserID) *fakeProtoClient {
	return &fakeProtoClient{
		identity:    identity,
		sentBodies:  make(map[id.RoomID][]interface{}),
		invited:     make(map[id.RoomID][]id.UserID),
		kicked:      make(map[id.RoomID][]id.UserID),
		members:     make(map[id.RoomID][]id.UserID),
		accountData: make(map[string]interface{}),
		nextRoom:    "!minted:matrix.local",
	}
}

func (f *fakeProtoClient) Identity() id.UserID { return f.identity }

func (f *fakeProtoClient) SyncWithContext(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeProtoClient) StopSync() {}

func (f *fakeProtoClient) OnEventType(eventType event.Type, handler mautrix.EventHandler) {}
func (f *fakeProtoClient) OnSync(handler mautrix.SyncHandler)                            {}

func (f *fakeProtoClient) CreateRoom(ctx context.Context, req *mautrix.ReqCreateRoom) (*mautrix.RespCreateRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, f.nextRoom)
	f.joinedRooms = append(f.joinedRooms, f.nextRoom)
	return &mautrix.RespCreateRoom{RoomID: f.nextRoom}, nil
}

func (f *fakeProtoClient) JoinRoomByID(ctx context.Context, roomID id.RoomID) (*mautrix.RespJoinRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joinedCalls = append(f.joinedCalls, roomID)
	f.joinedRooms = append(f.joinedRooms, roomID)
	return &mautrix.RespJoinRoom{RoomID: roomID}, nil
}

func (f *fakeProtoClient) InviteUser(ctx context.Context, roomID id.RoomID, req *mautrix.ReqInviteUser) (*mautrix.RespInviteUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invited[roomID] = append(f.invited[roomID], req.UserID)
	return &mautrix.RespInviteUser{}, nil
}

func (f *fakeProtoClient) KickUser(ctx context.Context, roomID id.RoomID, req *mautrix.ReqKickUser) (*mautrix.RespKickUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kicked[roomID] = append(f.kicked[roomID], req.UserID)
	return &mautrix.RespKickUser{}, nil
}

func (f *fakeProtoClient) SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON interface{}, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentBodies[roomID] = append(f.sentBodies[roomID], contentJSON)
	return &mautrix.RespSendEvent{EventID: "$sent"}, nil
}

func (f *fakeProtoClient) SendReaction(ctx context.Context, roomID id.RoomID, eventID id.EventID, reaction string) (*mautrix.RespSendEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, eventID)
	return &mautrix.RespSendEvent{EventID: "$reacted"}, nil
}

func (f *fakeProtoClient) RedactEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID, extra ...mautrix.ReqRedact) (*mautrix.RespSendEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.redactions = append(f.redactions, eventID)
	return &mautrix.RespSendEvent{EventID: "$redacted"}, nil
}

func (f *fakeProtoClient) MarkRead(ctx context.Context, roomID id.RoomID, eventID id.EventID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedRead = append(f.markedRead, eventID)
	return nil
}

func (f *fakeProtoClient) Messages(ctx context.Context, roomID id.RoomID, from, to string, dir mautrix.Direction, filter *mautrix.FilterPart, limit int) (*mautrix.RespMessages, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &mautrix.RespMessages{Chunk: f.timelineChunk}, nil
}

func (f *fakeProtoClient) State(ctx context.Context, roomID id.RoomID) (mautrix.RoomStateMap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stateErr != nil {
		return nil, f.stateErr
	}
	return f.stateMap, nil
}

func (f *fakeProtoClient) StateEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, stateKey string, outContent interface{}) error {
	return mautrix.MNotFound
}

func (f *fakeProtoClient) SendStateEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, stateKey string, contentJSON interface{}) (*mautrix.RespSendEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateSent = append(f.stateSent, sentState{roomID: roomID, evtType: eventType, content: contentJSON})
	return &mautrix.RespSendEvent{EventID: "$state"}, nil
}

func (f *fakeProtoClient) JoinedMembers(ctx context.Context, roomID id.RoomID) (*mautrix.RespJoinedMembers, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := &mautrix.RespJoinedMembers{Joined: make(map[id.UserID]mautrix.JoinedMember)}
	for _, member := range f.members[roomID] {
		resp.Joined[member] = mautrix.JoinedMember{}
	}
	return resp, nil
}

func (f *fakeProtoClient) JoinedRooms(ctx context.Context) (*mautrix.RespJoinedRooms, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rooms := make([]id.RoomID, len(f.joinedRooms))
	copy(rooms, f.joinedRooms)
	return &mautrix.RespJoinedRooms{JoinedRooms: rooms}, nil
}

func (f *fakeProtoClient) GetAccountData(ctx context.Context, name string, output interface{}) error {
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

func (f *fakeProtoClient) SetAccountData(ctx context.Context, name string, data interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accountData[name] = data
	return nil
}

func (f *fakeProtoClient) joined() []id.RoomID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]id.RoomID, len(f.joinedCalls))
	copy(out, f.joinedCalls)
	return out
}

func (f *fakeProtoClient) invitedTo(roomID id.RoomID) []id.UserID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]id.UserID, len(f.invited[roomID]))
	copy(out, f.invited[roomID])
	return out
}

// harness wires a Service against fake clients. Clients are minted lazily
// per identity and kept for assertions.
type harness struct {
	svc      *Service
	admin    *fakeProtoClient
	adminID  id.UserID
	elevated *session.Elevated

	mu      sync.Mutex
	clients map[id.UserID]*fakeProtoClient
}

func newHarness(t *testing.T, allowRegistration bool) *harness {
	t.Helper()

	h := &harness{
		adminID: "@admin=example.com:matrix.local",
		clients: make(map[id.UserID]*fakeProtoClient),
	}
	h.admin = newFakeProtoClient(h.adminID)

	pool, err := session.NewPool(session.PoolConfig{
		Capacity: 16,
		Open: func(ctx context.Context, identity id.UserID) (*session.Session, error) {
			return session.New(h.clientFor(identity), session.Options{}, nil), nil
		},
	})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	elevated := session.NewElevated(func(ctx context.Context) (*session.Session, error) {
		return session.New(h.admin, session.Options{}, nil), nil
	})
	t.Cleanup(elevated.Close)
	h.elevated = elevated

	h.svc = New(Config{
		Pool:              pool,
		Elevated:          elevated,
		Peek:              breaker.New(breaker.Config{}),
		Converter:         timeline.NewConverter(0, nil),
		Direct:            direct.NewResolver(nil),
		AllowRegistration: allowRegistration,
	})
	return h
}

// clientFor returns the fake client for an identity, minting one on first
// use.
func (h *harness) clientFor(identity id.UserID) *fakeProtoClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	client, ok := h.clients[identity]
	if !ok {
		client = newFakeProtoClient(identity)
		h.clients[identity] = client
	}
	return client
}
